package ports

import (
	"context"

	"github.com/layer-3/tollgate/core"
)

// EventPublisher publishes events to notify other instances
type EventPublisher interface {
	PublishRedemption(ctx context.Context, redemption *core.Redemption) error
}

// NopPublisher discards events
type NopPublisher struct{}

func (NopPublisher) PublishRedemption(context.Context, *core.Redemption) error { return nil }
