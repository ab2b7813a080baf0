package ports

import (
	"context"

	"github.com/layer-3/tollgate/core"
)

// ChainVerifier confirms on-chain payments for one chain.
type ChainVerifier interface {
	Chain() core.Chain

	// ValidateAddress checks that addr is a well formed recipient on this chain.
	ValidateAddress(addr string) error

	// Verify checks that the transaction identified by ref pays option.
	// RPC and decoding failures are reported as a rejected result.
	Verify(ctx context.Context, ref string, option core.PaymentOption) core.VerifyResult
}
