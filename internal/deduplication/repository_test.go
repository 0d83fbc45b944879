package deduplication

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/config"
)

func TestMemoryRepository_SetNXAndExpiry(t *testing.T) {
	repo := NewMemoryRepository()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := repo.SetNX(ctx, "relay:claim:a", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.SetNX(ctx, "relay:claim:a", 1, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _ = repo.SetNX(ctx, "relay:claim:b", 1, 0)
	_, _ = repo.SetNX(ctx, "other:c", 1, time.Minute)

	n, err := repo.CountKeys(ctx, "relay:claim:")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	now = now.Add(2 * time.Minute)

	n, err = repo.CountKeys(ctx, "relay:claim:")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "entries without ttl never expire")

	ok, err = repo.SetNX(ctx, "relay:claim:a", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisRepository_CountKeys(t *testing.T) {
	repo, _ := newRedisRepo(t)
	ctx := context.Background()

	for _, k := range []string{"relay:claim:1", "relay:claim:2", "relay:enrich:+1"} {
		_, err := repo.SetNX(ctx, k, 1, time.Minute)
		require.NoError(t, err)
	}

	n, err := repo.CountKeys(ctx, "relay:claim:")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCircuitBreakerRepository_OpensOnFailures(t *testing.T) {
	inner, mr := newRedisRepo(t)
	repo := NewCircuitBreakerRepository(inner, config.CircuitBreakerConfig{
		Enabled:      true,
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		FailureRatio: 0.5,
		MinRequests:  2,
	})
	mr.Close()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := repo.SetNX(ctx, "relay:claim:x", 1, time.Minute)
		assert.Error(t, err)
	}
	assert.True(t, repo.IsOpen())
}
