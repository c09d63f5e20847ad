package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kapu/channel-snapshot/internal/domain"
)

func newTestCache(t *testing.T) (*CacheService, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	svc, err := NewCacheService(context.Background(), CacheConfig{Addr: mr.Addr()}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc, mr
}

func TestNewCacheServiceFailsWithoutRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewCacheService(context.Background(), CacheConfig{Addr: addr}, zap.NewNop())
	assert.Error(t, err)
}

func TestSnapshotStoreRoundTrip(t *testing.T) {
	svc, mr := newTestCache(t)
	store := NewSnapshotStore(svc, 24*time.Hour)
	ctx := context.Background()

	missing, err := store.Load(ctx, "UC123")
	require.NoError(t, err)
	assert.Nil(t, missing)

	subs := int64(120)
	live := domain.LiveFromVideoID("live42")
	fetched := time.UnixMilli(1_740_830_400_000)
	entry := domain.CacheEntry{
		Snapshot: &domain.Snapshot{
			VideoData:   &domain.VideoSummary{ID: "abc123", Title: "Ep. 5"},
			LiveData:    &live,
			ChannelData: &domain.ChannelStats{SubscriberCount: &subs},
			FetchedAt:   fetched,
		},
	}
	require.NoError(t, store.Save(ctx, "UC123", entry))
	assert.True(t, mr.Exists("snapshot:UC123"))
	assert.Equal(t, 24*time.Hour, mr.TTL("snapshot:UC123"))

	loaded, err := store.Load(ctx, "UC123")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "abc123", loaded.Snapshot.VideoData.ID)
	assert.True(t, loaded.Snapshot.LiveData.IsLive())
	assert.Equal(t, int64(120), *loaded.Snapshot.ChannelData.SubscriberCount)
	assert.True(t, loaded.Snapshot.FetchedAt.Equal(fetched))
	assert.False(t, loaded.QuotaExceeded)

	require.NoError(t, store.Clear(ctx, "UC123"))
	cleared, err := store.Load(ctx, "UC123")
	require.NoError(t, err)
	assert.Nil(t, cleared)
}

func TestSnapshotStoreKeepsQuotaFlag(t *testing.T) {
	svc, _ := newTestCache(t)
	store := NewSnapshotStore(svc, time.Hour)
	ctx := context.Background()

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(ctx, "UC123", domain.CacheEntry{
		Snapshot:        domain.FallbackSnapshot(at),
		QuotaExceeded:   true,
		QuotaExceededAt: at,
	}))

	loaded, err := store.Load(ctx, "UC123")
	require.NoError(t, err)
	assert.True(t, loaded.QuotaExceeded)
	assert.True(t, loaded.QuotaExceededAt.Equal(at))
	assert.Nil(t, loaded.Snapshot.VideoData)
	assert.True(t, loaded.Suppressed(at.Add(30*time.Minute), time.Hour))
}

func TestGetReportsCorruptValues(t *testing.T) {
	svc, mr := newTestCache(t)
	require.NoError(t, mr.Set("snapshot:UC123", "{not json"))

	_, err := NewSnapshotStore(svc, time.Hour).Load(context.Background(), "UC123")
	assert.Error(t, err)
}
