package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS tollgate_redemptions (
	key        TEXT PRIMARY KEY,
	expires_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS tollgate_redemptions_expires_at ON tollgate_redemptions (expires_at);
CREATE TABLE IF NOT EXISTS tollgate_challenges (
	nonce      TEXT PRIMARY KEY,
	expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS tollgate_challenges_expires_at ON tollgate_challenges (expires_at);`

// PostgresStore implements ports.Ledger and ports.ChallengeStore on top of a
// primary key constraint, so redemption survives restarts and is shared by
// every instance pointing at the same database.
type PostgresStore struct {
	pool   *pgxpool.Pool
	prefix string
	now    func() time.Time
}

// NewPostgresStore creates a new Postgres store
func NewPostgresStore(pool *pgxpool.Pool, prefix string) *PostgresStore {
	return &PostgresStore{
		pool:   pool,
		prefix: prefix,
		now:    time.Now,
	}
}

// Migrate creates the tables used by the store
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}

// IsRedeemed checks if a key has been redeemed
func (s *PostgresStore) IsRedeemed(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM tollgate_redemptions
			WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2))`,
		s.prefix+key, s.now(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check redemption: %w", err)
	}
	return exists, nil
}

// TryRedeem inserts key; a conflicting live row means another caller won.
// An expired row for the same key is reclaimed in the same statement. A zero
// ttl stores a NULL expiry, which never lapses.
func (s *PostgresStore) TryRedeem(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	now := s.now()
	var expires *time.Time
	if ttl > 0 {
		t := now.Add(ttl)
		expires = &t
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO tollgate_redemptions (key, expires_at) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET expires_at = EXCLUDED.expires_at
		 WHERE tollgate_redemptions.expires_at IS NOT NULL
		   AND tollgate_redemptions.expires_at <= $3`,
		s.prefix+key, expires, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to redeem: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SaveChallenge records an issued nonce. Expired challenges and lapsed
// redemptions are deleted in the same statement so neither table grows
// without bound.
func (s *PostgresStore) SaveChallenge(ctx context.Context, nonce string, ttl time.Duration) error {
	now := s.now()
	_, err := s.pool.Exec(ctx,
		`WITH expired_challenges AS (
			DELETE FROM tollgate_challenges WHERE expires_at <= $3 AND nonce <> $1
		), expired_redemptions AS (
			DELETE FROM tollgate_redemptions WHERE expires_at IS NOT NULL AND expires_at <= $3
		)
		INSERT INTO tollgate_challenges (nonce, expires_at) VALUES ($1, $2)
		ON CONFLICT (nonce) DO UPDATE SET expires_at = EXCLUDED.expires_at`,
		s.prefix+nonce, now.Add(ttl), now,
	)
	if err != nil {
		return fmt.Errorf("failed to save challenge: %w", err)
	}
	return nil
}

// ChallengeExists reports whether nonce was issued and has not expired
func (s *PostgresStore) ChallengeExists(ctx context.Context, nonce string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM tollgate_challenges WHERE nonce = $1 AND expires_at > $2)`,
		s.prefix+nonce, s.now(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check challenge: %w", err)
	}
	return exists, nil
}

// challengeCount returns the number of challenge rows under the store prefix
func (s *PostgresStore) challengeCount(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM tollgate_challenges WHERE starts_with(nonce, $1)`,
		s.prefix,
	).Scan(&n)
	return n, err
}
