package tollgate

import (
	"context"

	"github.com/layer-3/tollgate/core"
	"github.com/layer-3/tollgate/ports"
)

// Gate represents the public interface for buying and spending licenses
type Gate interface {
	// Challenge returns the payment options offered for a fresh nonce
	Challenge(ctx context.Context) ([]Accept, error)

	// Redeem exchanges a payment proof for a license
	Redeem(ctx context.Context, proof core.PaymentProof) (*Grant, error)

	// GenerateImage spends a license on one generation
	GenerateImage(ctx context.Context, license, prompt string) (*ports.GenerationResult, error)
}

// Payer settles a payment on chain and returns the transaction reference:
// the tx hash on base, the transaction signature on solana.
type Payer interface {
	Chain() core.Chain
	Pay(ctx context.Context, accept Accept) (string, error)
}
