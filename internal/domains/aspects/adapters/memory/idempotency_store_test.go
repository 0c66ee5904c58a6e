package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/ports"
)

func TestIdempotencyStore_ReplayAndConflict(t *testing.T) {
	store := NewIdempotencyStore()
	ctx := context.Background()
	record := ports.IdempotencyRecord{Key: "k1", RequestHash: "h1", Version: 2, EventID: "evt-1"}

	saved, err := store.Save(ctx, record)
	require.NoError(t, err)
	assert.False(t, saved.CreatedAt.IsZero())

	again, err := store.Save(ctx, ports.IdempotencyRecord{Key: "k1", RequestHash: "h1", Version: 9})
	require.NoError(t, err)
	assert.Equal(t, int64(2), again.Version)

	existing, err := store.Save(ctx, ports.IdempotencyRecord{Key: "k1", RequestHash: "other"})
	require.ErrorIs(t, err, ports.ErrIdempotencyConflict)
	assert.Equal(t, "evt-1", existing.EventID)

	missing, err := store.Get(ctx, "absent")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestIdempotencyStore_RetentionExpiresKeys(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewIdempotencyStore(WithRetention(time.Hour), WithIdempotencyClock(func() time.Time { return now }))
	ctx := context.Background()

	_, err := store.Save(ctx, ports.IdempotencyRecord{Key: "k1", RequestHash: "h1", Version: 1})
	require.NoError(t, err)

	now = now.Add(59 * time.Minute)
	live, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, live)

	now = now.Add(time.Minute)
	expired, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Nil(t, expired)

	reused, err := store.Save(ctx, ports.IdempotencyRecord{Key: "k1", RequestHash: "h2", Version: 5})
	require.NoError(t, err)
	assert.Equal(t, int64(5), reused.Version)
	assert.Equal(t, now, reused.CreatedAt)
}

func TestIdempotencyStore_SweepDropsExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewIdempotencyStore(WithRetention(time.Minute), WithIdempotencyClock(func() time.Time { return now }))
	ctx := context.Background()
	for _, key := range []string{"a", "b", "c"} {
		_, err := store.Save(ctx, ports.IdempotencyRecord{Key: key, RequestHash: key})
		require.NoError(t, err)
	}
	require.Equal(t, 3, store.Len())

	now = now.Add(2 * time.Minute)
	_, err := store.Save(ctx, ports.IdempotencyRecord{Key: "d", RequestHash: "d"})
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())
}
