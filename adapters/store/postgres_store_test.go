package store

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("TOLLGATE_TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("TOLLGATE_TEST_POSTGRES_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	// unique prefix per test keeps runs independent
	s := NewPostgresStore(pool, uuid.NewString()+":")
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestPostgresStore_TryRedeem(t *testing.T) {
	ctx := context.Background()
	s := newTestPostgres(t)

	ok, err := s.TryRedeem(ctx, "abc", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TryRedeem(ctx, "abc", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	redeemed, err := s.IsRedeemed(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, redeemed)
}

func TestPostgresStore_ConcurrentRedeem(t *testing.T) {
	ctx := context.Background()
	s := newTestPostgres(t)

	const n = 50
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.TryRedeem(ctx, "same-nonce", time.Hour)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestPostgresStore_Challenges(t *testing.T) {
	ctx := context.Background()
	s := newTestPostgres(t)

	require.NoError(t, s.SaveChallenge(ctx, "n1", time.Minute))
	exists, err := s.ChallengeExists(ctx, "n1")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, s.SaveChallenge(ctx, "n2", -time.Second))
	exists, err = s.ChallengeExists(ctx, "n2")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestPostgresStore_RedemptionLifetime(t *testing.T) {
	ctx := context.Background()
	s := newTestPostgres(t)
	now := time.Now()
	s.now = func() time.Time { return now }

	ok, err := s.TryRedeem(ctx, "short", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.TryRedeem(ctx, "forever", 0)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(48 * time.Hour)

	redeemed, err := s.IsRedeemed(ctx, "short")
	require.NoError(t, err)
	assert.False(t, redeemed)
	ok, err = s.TryRedeem(ctx, "short", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "lapsed claim is reclaimed")

	redeemed, err = s.IsRedeemed(ctx, "forever")
	require.NoError(t, err)
	assert.True(t, redeemed)
	ok, err = s.TryRedeem(ctx, "forever", 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostgresStore_SaveChallengeDeletesExpired(t *testing.T) {
	ctx := context.Background()
	s := newTestPostgres(t)
	now := time.Now()
	s.now = func() time.Time { return now }

	require.NoError(t, s.SaveChallenge(ctx, "old-1", time.Minute))
	require.NoError(t, s.SaveChallenge(ctx, "old-2", time.Minute))

	now = now.Add(2 * time.Minute)
	require.NoError(t, s.SaveChallenge(ctx, "fresh", time.Minute))

	n, err := s.challengeCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	exists, err := s.ChallengeExists(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, exists)
}
