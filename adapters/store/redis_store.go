package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis implementation of ports.Ledger and ports.ChallengeStore
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis store. Keys are namespaced by prefix so
// several ledgers can share one database.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

// IsRedeemed checks if a key has been redeemed in Redis
func (s *RedisStore) IsRedeemed(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+redeemedPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check redemption: %w", err)
	}

	return n > 0, nil
}

// TryRedeem claims key with SET NX so that exactly one caller wins. A zero
// ttl sets no expiry.
func (s *RedisStore) TryRedeem(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+redeemedPrefix+key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to redeem: %w", err)
	}

	return ok, nil
}

// SaveChallenge stores an issued nonce with expiration
func (s *RedisStore) SaveChallenge(ctx context.Context, nonce string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.prefix+challengePrefix+nonce, "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to save challenge: %w", err)
	}

	return nil
}

// ChallengeExists checks if an issued nonce is still live
func (s *RedisStore) ChallengeExists(ctx context.Context, nonce string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+challengePrefix+nonce).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check challenge: %w", err)
	}

	return n > 0, nil
}
