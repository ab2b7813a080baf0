package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/layer-3/tollgate/core"
	"github.com/layer-3/tollgate/ports"
	"go.uber.org/zap"
)

const (
	DefaultChallengeTTL = 300 * time.Second
	DefaultLicenseTTL   = 300 * time.Second
	DefaultRPCTimeout   = 15 * time.Second
)

// PaymentService issues payment challenges, redeems payment proofs and
// validates the licenses it hands out.
type PaymentService struct {
	verifiers  map[core.Chain]ports.ChainVerifier
	options    []core.PaymentOption
	challenges ports.ChallengeStore
	ledger     ports.Ledger
	signer     ports.LicenseSigner
	eventPub   ports.EventPublisher
	metrics    ports.Recorder
	logger     *zap.Logger
	validate   *validator.Validate

	challengeTTL time.Duration
	licenseTTL   time.Duration
	rpcTimeout   time.Duration
	now          func() time.Time
}

// NewPaymentService creates a new payment service. options lists what a
// client may pay with, one entry per chain, in the order challenges are
// offered.
func NewPaymentService(
	options []core.PaymentOption,
	verifiers []ports.ChainVerifier,
	challenges ports.ChallengeStore,
	ledger ports.Ledger,
	signer ports.LicenseSigner,
	opts ...Option,
) *PaymentService {
	s := &PaymentService{
		verifiers:    make(map[core.Chain]ports.ChainVerifier, len(verifiers)),
		options:      options,
		challenges:   challenges,
		ledger:       ledger,
		signer:       signer,
		eventPub:     ports.NopPublisher{},
		metrics:      ports.NoopRecorder{},
		logger:       zap.NewNop(),
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		challengeTTL: DefaultChallengeTTL,
		licenseTTL:   DefaultLicenseTTL,
		rpcTimeout:   DefaultRPCTimeout,
		now:          time.Now,
	}
	for _, v := range verifiers {
		s.verifiers[v.Chain()] = v
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// LicenseTTL is the lifetime of issued licenses
func (s *PaymentService) LicenseTTL() time.Duration {
	return s.licenseTTL
}

// SupportedOptions lists the configured payment options
func (s *PaymentService) SupportedOptions() []core.PaymentOption {
	return append([]core.PaymentOption(nil), s.options...)
}

// CreateChallenges issues one challenge per payment option. All challenges
// share a nonce, so redeeming any of them burns the others.
func (s *PaymentService) CreateChallenges(ctx context.Context) ([]core.Challenge, error) {
	if len(s.options) == 0 {
		return nil, fmt.Errorf("%w: no payment options", core.ErrServerMisconfigured)
	}
	for _, opt := range s.options {
		if err := s.checkOption(opt); err != nil {
			s.logger.Error("refusing to issue challenge", zap.String("chain", string(opt.Chain)), zap.Error(err))
			return nil, err
		}
	}

	nonce, err := core.NewNonce()
	if err != nil {
		return nil, err
	}

	if err := s.challenges.SaveChallenge(ctx, nonce, s.challengeTTL); err != nil {
		s.logger.Error("failed to save challenge", zap.String("nonce", nonce), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}

	now := s.now()
	challenges := make([]core.Challenge, 0, len(s.options))
	for _, opt := range s.options {
		challenges = append(challenges, core.Challenge{
			Nonce:     nonce,
			Chain:     opt.Chain,
			Token:     opt.Token,
			Recipient: opt.Recipient,
			Amount:    opt.Amount,
			IssuedAt:  now,
			ExpiresAt: now.Add(s.challengeTTL),
		})
	}

	s.metrics.IncCounter("challenge", nil)
	s.logger.Debug("challenge issued", zap.String("nonce", nonce))

	return challenges, nil
}

// Redeem verifies a payment proof and, on success, burns its nonce and
// issues a license. Errors wrap the core sentinel describing the rejection.
func (s *PaymentService) Redeem(ctx context.Context, proof core.PaymentProof) (*core.Redemption, error) {
	if err := s.validate.Struct(proof); err != nil {
		return nil, s.reject(proof, core.ErrInvalidProof, err.Error())
	}

	ch, known := core.ParseChain(proof.Chain)
	ref := proof.Reference(ch)
	if known && ref == "" {
		return nil, s.reject(proof, core.ErrMissingReference, "no reference for chain")
	}

	// cheap rejections before any RPC work
	used, err := s.ledger.IsRedeemed(ctx, nonceKey(proof.Nonce))
	if err != nil {
		return nil, s.storeFailure(proof, err)
	}
	if used {
		return nil, s.reject(proof, core.ErrNonceUsed, "nonce redeemed before")
	}

	opt, ok := s.option(ch)
	if !known || !ok || proof.Token != opt.Token {
		return nil, s.reject(proof, core.ErrUnsupportedChain, "unsupported chain or token")
	}
	verifier, ok := s.verifiers[ch]
	if !ok {
		return nil, s.reject(proof, core.ErrUnsupportedChain, "no verifier for chain")
	}
	if err := s.checkOption(opt); err != nil {
		s.logger.Error("refusing to redeem", zap.String("chain", string(ch)), zap.Error(err))
		return nil, err
	}

	issued, err := s.challenges.ChallengeExists(ctx, proof.Nonce)
	if err != nil {
		return nil, s.storeFailure(proof, err)
	}
	if !issued {
		return nil, s.reject(proof, core.ErrUnknownNonce, "nonce not issued or expired")
	}

	refKey := referenceKey(ch, ref)
	used, err = s.ledger.IsRedeemed(ctx, refKey)
	if err != nil {
		return nil, s.storeFailure(proof, err)
	}
	if used {
		return nil, s.reject(proof, core.ErrReferenceUsed, "transaction redeemed before")
	}

	result := s.verify(ctx, verifier, ref, opt)
	if !result.OK {
		return nil, s.reject(proof, core.ErrPaymentNotVerified, result.Reason)
	}

	won, err := s.ledger.TryRedeem(ctx, nonceKey(proof.Nonce), s.challengeTTL)
	if err != nil {
		return nil, s.storeFailure(proof, err)
	}
	if !won {
		return nil, s.reject(proof, core.ErrNonceUsed, "lost redemption race")
	}

	// the nonce is burned even when the reference turns out to be reused.
	// A reference stays claimed forever, long after its license expired.
	won, err = s.ledger.TryRedeem(ctx, refKey, 0)
	if err != nil {
		return nil, s.storeFailure(proof, err)
	}
	if !won {
		return nil, s.reject(proof, core.ErrReferenceUsed, "transaction redeemed concurrently")
	}

	token, license, err := s.signer.Issue(proof.Nonce, s.licenseTTL)
	if err != nil {
		s.logger.Error("failed to issue license", zap.String("nonce", proof.Nonce), zap.Error(err))
		return nil, fmt.Errorf("failed to issue license: %w", err)
	}

	redemption := &core.Redemption{
		Nonce:     proof.Nonce,
		Chain:     ch,
		Reference: ref,
		License:   token,
		ExpiresIn: s.licenseTTL,
		IssuedAt:  license.IssuedAt,
	}

	// The redemption is already recorded, so a lost event is only logged
	if err := s.eventPub.PublishRedemption(ctx, redemption); err != nil {
		s.logger.Warn("failed to publish redemption event", zap.String("nonce", proof.Nonce), zap.Error(err))
	}

	s.metrics.IncCounter("redemption", map[string]string{"chain": string(ch), "outcome": "issued"})
	s.logger.Info("payment redeemed",
		zap.String("nonce", proof.Nonce),
		zap.String("chain", string(ch)),
		zap.String("reference", ref),
	)

	return redemption, nil
}

// ValidateLicense checks the license signature, expiry and that it was not
// spent yet. It does not consume the license.
func (s *PaymentService) ValidateLicense(ctx context.Context, token string) (*core.License, error) {
	license, err := s.signer.Verify(token)
	if err != nil {
		return nil, err
	}

	used, err := s.ledger.IsRedeemed(ctx, licenseKey(license.Nonce))
	if err != nil {
		s.logger.Error("license ledger failure", zap.String("nonce", license.Nonce), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}
	if used {
		return nil, core.ErrLicenseUsed
	}

	return license, nil
}

// ConsumeLicense validates a license and marks it used, so each license
// authorizes exactly one generation call.
func (s *PaymentService) ConsumeLicense(ctx context.Context, token string) (*core.License, error) {
	license, err := s.signer.Verify(token)
	if err != nil {
		return nil, err
	}

	won, err := s.ledger.TryRedeem(ctx, licenseKey(license.Nonce), s.licenseTTL)
	if err != nil {
		s.logger.Error("license ledger failure", zap.String("nonce", license.Nonce), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}
	if !won {
		return nil, core.ErrLicenseUsed
	}

	s.metrics.IncCounter("license", map[string]string{"outcome": "consumed"})
	return license, nil
}

func (s *PaymentService) verify(ctx context.Context, v ports.ChainVerifier, ref string, opt core.PaymentOption) core.VerifyResult {
	ctx, cancel := context.WithTimeout(ctx, s.rpcTimeout)
	defer cancel()

	start := time.Now()
	result := v.Verify(ctx, ref, opt)
	s.metrics.ObserveLatency("verify", time.Since(start), map[string]string{"chain": string(opt.Chain)})

	if !result.OK && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.Reason = "verification timed out: " + result.Reason
	}
	return result
}

func (s *PaymentService) option(ch core.Chain) (core.PaymentOption, bool) {
	for _, opt := range s.options {
		if opt.Chain == ch {
			return opt, true
		}
	}
	return core.PaymentOption{}, false
}

// checkOption fails closed on incomplete deployment configuration
func (s *PaymentService) checkOption(opt core.PaymentOption) error {
	v, ok := s.verifiers[opt.Chain]
	if !ok {
		return fmt.Errorf("%w: no verifier for %s", core.ErrServerMisconfigured, opt.Chain)
	}
	if opt.Recipient == "" {
		return fmt.Errorf("%w: recipient address not set for %s", core.ErrServerMisconfigured, opt.Chain)
	}
	if err := v.ValidateAddress(opt.Recipient); err != nil {
		return fmt.Errorf("%w: %v", core.ErrServerMisconfigured, err)
	}
	if err := v.ValidateAddress(opt.Asset); err != nil {
		return fmt.Errorf("%w: token asset: %v", core.ErrServerMisconfigured, err)
	}
	if err := core.ValidateAmount(opt.Amount); err != nil {
		return fmt.Errorf("%w: %v", core.ErrServerMisconfigured, err)
	}
	return nil
}

func (s *PaymentService) reject(proof core.PaymentProof, err error, reason string) error {
	s.metrics.IncCounter("redemption", map[string]string{"chain": proof.Chain, "outcome": outcome(err)})
	s.logger.Warn("payment rejected",
		zap.String("nonce", proof.Nonce),
		zap.String("chain", proof.Chain),
		zap.String("reason", reason),
		zap.Error(err),
	)
	return fmt.Errorf("%w: %s", err, reason)
}

func (s *PaymentService) storeFailure(proof core.PaymentProof, err error) error {
	s.logger.Error("ledger failure",
		zap.String("nonce", proof.Nonce),
		zap.String("chain", proof.Chain),
		zap.Error(err),
	)
	return fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
}

func outcome(err error) string {
	switch {
	case errors.Is(err, core.ErrPaymentNotVerified):
		return "not_verified"
	case errors.Is(err, core.ErrNonceUsed), errors.Is(err, core.ErrReferenceUsed):
		return "replayed"
	default:
		return "invalid"
	}
}

func nonceKey(nonce string) string {
	return "nonce:" + nonce
}

func licenseKey(nonce string) string {
	return "license:" + nonce
}

// EVM hashes are hex and case-insensitive; Solana signatures are base58 and
// case-sensitive.
func referenceKey(ch core.Chain, ref string) string {
	if ch == core.ChainBase {
		ref = strings.ToLower(ref)
	}
	return "tx:" + string(ch) + ":" + ref
}
