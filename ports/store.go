package ports

import (
	"context"
	"time"
)

// Ledger records single-use keys. TryRedeem must be linearizable: among
// concurrent callers for the same key exactly one observes true.
type Ledger interface {
	IsRedeemed(ctx context.Context, key string) (bool, error)

	// TryRedeem claims key for ttl. A ttl of zero keeps the claim forever.
	TryRedeem(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// ChallengeStore remembers issued nonces until their challenge expires.
type ChallengeStore interface {
	SaveChallenge(ctx context.Context, nonce string, ttl time.Duration) error
	ChallengeExists(ctx context.Context, nonce string) (bool, error)
}
