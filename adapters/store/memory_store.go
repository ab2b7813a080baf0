package store

import (
	"context"
	"sync"
	"time"
)

const (
	challengePrefix = "challenge:"
	redeemedPrefix  = "redeemed:"

	// sweep expired entries once per this many writes
	sweepInterval = 1024
)

// MemoryStore is an in-memory implementation of ports.Ledger and
// ports.ChallengeStore. Its contents do not survive a restart and are not
// shared between instances.
type MemoryStore struct {
	entries map[string]time.Time // key -> expiry, zero means never
	writes  int
	now     func() time.Time
	mu      sync.Mutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// IsRedeemed checks if a key has been redeemed
func (s *MemoryStore) IsRedeemed(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.live(redeemedPrefix + key), nil
}

// TryRedeem marks key as redeemed for ttl. Only the first caller gets true.
func (s *MemoryStore) TryRedeem(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := redeemedPrefix + key
	if s.live(k) {
		return false, nil
	}

	var expiry time.Time
	if ttl > 0 {
		expiry = s.now().Add(ttl)
	}
	s.put(k, expiry)
	return true, nil
}

// SaveChallenge records an issued nonce until ttl elapses
func (s *MemoryStore) SaveChallenge(ctx context.Context, nonce string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.put(challengePrefix+nonce, s.now().Add(ttl))
	return nil
}

// ChallengeExists reports whether nonce was issued and has not expired
func (s *MemoryStore) ChallengeExists(ctx context.Context, nonce string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.live(challengePrefix + nonce), nil
}

// Len returns the number of entries held, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}

// caller holds mu
func (s *MemoryStore) live(key string) bool {
	expiry, ok := s.entries[key]
	if !ok {
		return false
	}
	return expiry.IsZero() || s.now().Before(expiry)
}

// caller holds mu
func (s *MemoryStore) put(key string, expiry time.Time) {
	s.entries[key] = expiry
	s.writes++
	if s.writes%sweepInterval != 0 {
		return
	}

	now := s.now()
	for k, exp := range s.entries {
		if !exp.IsZero() && !now.Before(exp) {
			delete(s.entries, k)
		}
	}
}
