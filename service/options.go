package service

import (
	"time"

	"github.com/layer-3/tollgate/ports"
	"go.uber.org/zap"
)

type Option func(*PaymentService)

func WithLogger(l *zap.Logger) Option {
	return func(s *PaymentService) {
		s.logger = l
	}
}

func WithMetrics(r ports.Recorder) Option {
	return func(s *PaymentService) {
		s.metrics = r
	}
}

func WithEventPublisher(p ports.EventPublisher) Option {
	return func(s *PaymentService) {
		s.eventPub = p
	}
}

// WithRPCTimeout bounds every chain verification call
func WithRPCTimeout(t time.Duration) Option {
	return func(s *PaymentService) {
		s.rpcTimeout = t
	}
}

func WithChallengeTTL(t time.Duration) Option {
	return func(s *PaymentService) {
		s.challengeTTL = t
	}
}

func WithLicenseTTL(t time.Duration) Option {
	return func(s *PaymentService) {
		s.licenseTTL = t
	}
}
