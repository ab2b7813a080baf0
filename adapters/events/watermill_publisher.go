package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/layer-3/tollgate/core"
	"github.com/layer-3/tollgate/ports"
)

// RedemptionTopic is the topic redemption events are published to
const RedemptionTopic = "tollgate.redeemed"

// RedemptionEvent represents a successful payment redemption
type RedemptionEvent struct {
	Nonce     string `json:"nonce"`
	Chain     string `json:"chain"`
	Reference string `json:"reference"`
	IssuedAt  int64  `json:"issued_at"`
	ExpiresIn int64  `json:"expires_in"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
	topic     string
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{
		publisher: publisher,
		topic:     RedemptionTopic,
	}
}

// PublishRedemption publishes a redemption event. The license itself is never
// part of the event.
func (p *WatermillPublisher) PublishRedemption(ctx context.Context, r *core.Redemption) error {
	event := RedemptionEvent{
		Nonce:     r.Nonce,
		Chain:     string(r.Chain),
		Reference: r.Reference,
		IssuedAt:  r.IssuedAt.Unix(),
		ExpiresIn: int64(r.ExpiresIn.Seconds()),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("nonce", r.Nonce)

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}
