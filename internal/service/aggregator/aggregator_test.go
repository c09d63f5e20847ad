package aggregator

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kapu/channel-snapshot/internal/config"
	"github.com/kapu/channel-snapshot/internal/domain"
	"github.com/kapu/channel-snapshot/internal/service/youtube"
	"github.com/kapu/channel-snapshot/pkg/errors"
)

type fakeUpstream struct {
	mu sync.Mutex

	latest      *domain.VideoSummary
	latestErr   error
	liveID      string
	liveErr     error
	details     *youtube.VideoDetails
	detailsErr  error
	subscribers *int64
	channelErr  error
	afterLatest func()

	calls map[string]int
}

func (f *fakeUpstream) record(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[op]++
}

func (f *fakeUpstream) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeUpstream) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeUpstream) LatestVideo(_ context.Context, _ string) (*domain.VideoSummary, error) {
	f.record("latest")
	if f.afterLatest != nil {
		f.afterLatest()
	}
	return f.latest, f.latestErr
}

func (f *fakeUpstream) LiveVideoID(_ context.Context, _ string) (string, error) {
	f.record("live")
	return f.liveID, f.liveErr
}

func (f *fakeUpstream) VideoDetails(ctx context.Context, _ string) (*youtube.VideoDetails, error) {
	f.record("details")
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.details, f.detailsErr
}

func (f *fakeUpstream) ChannelSubscribers(ctx context.Context, _ string) (*int64, error) {
	f.record("channel")
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.subscribers, f.channelErr
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memoryStore struct {
	mu      sync.Mutex
	entries map[string]domain.CacheEntry
	saves   int
	saveErr error
}

func (m *memoryStore) Load(_ context.Context, channelID string) (*domain.CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[channelID]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (m *memoryStore) Save(_ context.Context, channelID string, entry domain.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	if m.entries == nil {
		m.entries = make(map[string]domain.CacheEntry)
	}
	m.entries[channelID] = entry
	return nil
}

func strPtr(s string) *string { return &s }

func int64Ptr(n int64) *int64 { return &n }

func quotaErr() error {
	return errors.NewQuotaExceededError("search.latest", 10000, 10000, time.Time{}, stderrors.New("403"))
}

func transientErr(op string) error {
	return errors.NewUpstreamError("boom", errors.UpstreamBadResponse, op, 500, stderrors.New("500"))
}

func episodeFive() *fakeUpstream {
	return &fakeUpstream{
		latest: &domain.VideoSummary{
			ID:          "abc123",
			Title:       "Ep. 5",
			Description: "fifth episode",
			Thumbnail:   strPtr("https://i.ytimg.com/vi/abc123/hqdefault.jpg"),
			PublishedAt: time.Date(2025, 2, 27, 18, 0, 0, 0, time.UTC),
		},
		details: &youtube.VideoDetails{
			ViewCount: strPtr("1500"),
			LikeCount: strPtr("42"),
			Duration:  strPtr("PT12M3S"),
		},
		subscribers: int64Ptr(120),
	}
}

func newTestAggregator(upstream Upstream, store Store, clock *fakeClock) *Aggregator {
	return New(upstream, store, Options{
		YouTube: config.YouTubeConfig{APIKey: "key", ChannelID: "UC123"},
		Now:     clock.Now,
	}, zap.NewNop())
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestGetSnapshotMergesAllSources(t *testing.T) {
	upstream := episodeFive()
	clock := newClock()
	agg := newTestAggregator(upstream, nil, clock)

	result, err := agg.GetSnapshot(context.Background())
	require.NoError(t, err)
	assert.False(t, result.FromCache)
	assert.False(t, result.QuotaSuppressed)

	snap := result.Snapshot
	require.NotNil(t, snap.VideoData)
	assert.Equal(t, "abc123", snap.VideoData.ID)
	assert.Equal(t, "Ep. 5", snap.VideoData.Title)
	assert.Equal(t, "1500", *snap.VideoData.ViewCount)
	assert.Equal(t, "PT12M3S", *snap.VideoData.Duration)
	assert.Equal(t, "42", *snap.VideoData.LikeCount)
	assert.False(t, snap.LiveData.IsLive())
	assert.Equal(t, int64(120), *snap.ChannelData.SubscriberCount)
	assert.True(t, snap.FetchedAt.Equal(clock.Now()))

	data, err := json.Marshal(snap)
	require.NoError(t, err)
	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Equal(t, map[string]any{"isLive": false, "url": false}, wire["liveData"])
	assert.Equal(t, map[string]any{"subscriberCount": float64(120)}, wire["channelData"])

	for _, op := range []string{"latest", "live", "details", "channel"} {
		assert.Equal(t, 1, upstream.count(op), op)
	}
}

func TestGetSnapshotServesFreshCacheWithoutUpstream(t *testing.T) {
	upstream := episodeFive()
	clock := newClock()
	agg := newTestAggregator(upstream, nil, clock)

	first, err := agg.GetSnapshot(context.Background())
	require.NoError(t, err)
	calls := upstream.total()

	clock.Advance(4*time.Minute + 59*time.Second)
	second, err := agg.GetSnapshot(context.Background())
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Same(t, first.Snapshot, second.Snapshot)
	assert.Equal(t, calls, upstream.total())

	clock.Advance(time.Second)
	third, err := agg.GetSnapshot(context.Background())
	require.NoError(t, err)
	assert.False(t, third.FromCache)
	assert.Equal(t, 2, upstream.count("latest"))
}

func TestQuotaExhaustionIsStickyForTheWholeWindow(t *testing.T) {
	upstream := episodeFive()
	upstream.latestErr = quotaErr()
	clock := newClock()
	agg := newTestAggregator(upstream, nil, clock)

	result, err := agg.GetSnapshot(context.Background())
	require.NoError(t, err)
	assert.True(t, result.QuotaSuppressed)
	assert.Nil(t, result.Snapshot.VideoData)
	assert.False(t, result.Snapshot.LiveData.IsLive())
	assert.Nil(t, result.Snapshot.ChannelData)

	entry := agg.Entry()
	assert.True(t, entry.QuotaExceeded)
	assert.True(t, entry.QuotaExceededAt.Equal(clock.Now()))

	// Upstream recovers, but the suppression holds for 24h.
	upstream.latestErr = nil
	calls := upstream.total()
	for _, step := range []time.Duration{time.Minute, 6 * time.Minute, 12 * time.Hour, 11*time.Hour + 52*time.Minute + 59*time.Second} {
		clock.Advance(step)
		result, err = agg.GetSnapshot(context.Background())
		require.NoError(t, err)
		assert.True(t, result.QuotaSuppressed)
		assert.Nil(t, result.Snapshot.VideoData)
	}
	assert.Equal(t, calls, upstream.total())

	// 24h + 1s after the 403.
	clock.Advance(2 * time.Second)
	result, err = agg.GetSnapshot(context.Background())
	require.NoError(t, err)
	assert.False(t, result.QuotaSuppressed)
	require.NotNil(t, result.Snapshot.VideoData)
	assert.Equal(t, "abc123", result.Snapshot.VideoData.ID)
	assert.False(t, agg.Entry().QuotaExceeded)
}

func TestQuotaFlagSurvivesNonQuotaFailureAfterWindow(t *testing.T) {
	upstream := episodeFive()
	upstream.latestErr = quotaErr()
	clock := newClock()
	agg := newTestAggregator(upstream, nil, clock)

	_, err := agg.GetSnapshot(context.Background())
	require.NoError(t, err)

	clock.Advance(25 * time.Hour)
	upstream.latestErr = transientErr("search.latest")
	_, err = agg.GetSnapshot(context.Background())
	require.Error(t, err)
	assert.True(t, agg.Entry().QuotaExceeded)
}

func TestPrimaryFailureIsNotCached(t *testing.T) {
	upstream := episodeFive()
	upstream.latestErr = transientErr("search.latest")
	clock := newClock()
	agg := newTestAggregator(upstream, nil, clock)

	_, err := agg.GetSnapshot(context.Background())
	require.Error(t, err)
	var upErr *errors.UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, errors.UpstreamUnavailable, upErr.Kind)
	assert.Nil(t, agg.Entry().Snapshot)

	_, _ = agg.GetSnapshot(context.Background())
	assert.Equal(t, 2, upstream.count("latest"))
	assert.Equal(t, 0, upstream.count("details"))
}

func TestStatisticsFailureLeavesCountsNull(t *testing.T) {
	upstream := episodeFive()
	upstream.details = nil
	upstream.detailsErr = transientErr("videos.list")
	agg := newTestAggregator(upstream, nil, newClock())

	result, err := agg.GetSnapshot(context.Background())
	require.NoError(t, err)

	video := result.Snapshot.VideoData
	require.NotNil(t, video)
	assert.Nil(t, video.ViewCount)
	assert.Nil(t, video.Duration)
	assert.Nil(t, video.LikeCount)
	assert.Equal(t, "abc123", video.ID)
	assert.Equal(t, "Ep. 5", video.Title)
	assert.Equal(t, "fifth episode", video.Description)
	assert.NotNil(t, video.Thumbnail)
	assert.False(t, video.PublishedAt.IsZero())
}

func TestChannelFailureLeavesSubscribersNull(t *testing.T) {
	upstream := episodeFive()
	upstream.subscribers = nil
	upstream.channelErr = quotaErr()
	agg := newTestAggregator(upstream, nil, newClock())

	result, err := agg.GetSnapshot(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result.Snapshot.ChannelData)
	assert.Nil(t, result.Snapshot.ChannelData.SubscriberCount)
	assert.False(t, agg.Entry().QuotaExceeded, "only the primary search arms suppression")
}

func TestDisconnectedCallerDoesNotCacheDegradedSnapshot(t *testing.T) {
	upstream := episodeFive()
	clock := newClock()
	agg := newTestAggregator(upstream, nil, clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	upstream.afterLatest = cancel

	result, err := agg.GetSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, result.Snapshot.VideoData)
	assert.Equal(t, "1500", *result.Snapshot.VideoData.ViewCount)

	upstream.afterLatest = nil
	clock.Advance(time.Minute)

	cached, err := agg.GetSnapshot(context.Background())
	require.NoError(t, err)
	assert.True(t, cached.FromCache)
	require.NotNil(t, cached.Snapshot.VideoData.ViewCount)
	assert.Equal(t, "1500", *cached.Snapshot.VideoData.ViewCount)
	assert.Equal(t, "PT12M3S", *cached.Snapshot.VideoData.Duration)
	require.NotNil(t, cached.Snapshot.ChannelData.SubscriberCount)
	assert.Equal(t, int64(120), *cached.Snapshot.ChannelData.SubscriberCount)
	assert.Equal(t, 1, upstream.count("details"))
}

func TestLiveCheckFailureDegradesToNotLive(t *testing.T) {
	for name, liveErr := range map[string]error{
		"transient": transientErr("search.live"),
		"quota":     quotaErr(),
	} {
		t.Run(name, func(t *testing.T) {
			upstream := episodeFive()
			upstream.liveID = "ignored"
			upstream.liveErr = liveErr
			agg := newTestAggregator(upstream, nil, newClock())

			result, err := agg.GetSnapshot(context.Background())
			require.NoError(t, err)
			assert.False(t, result.Snapshot.LiveData.IsLive())
			assert.NotNil(t, result.Snapshot.VideoData)
		})
	}
}

func TestLiveChannel(t *testing.T) {
	upstream := episodeFive()
	upstream.liveID = "live42"
	agg := newTestAggregator(upstream, nil, newClock())

	result, err := agg.GetSnapshot(context.Background())
	require.NoError(t, err)
	url, ok := result.Snapshot.LiveData.URL()
	assert.True(t, ok)
	assert.Equal(t, "https://www.youtube.com/watch?v=live42", url)
}

func TestChannelWithoutVideosIsAValidResult(t *testing.T) {
	upstream := episodeFive()
	upstream.latest = nil
	upstream.liveID = "live42"
	agg := newTestAggregator(upstream, nil, newClock())

	result, err := agg.GetSnapshot(context.Background())
	require.NoError(t, err)
	assert.Nil(t, result.Snapshot.VideoData)
	assert.True(t, result.Snapshot.LiveData.IsLive())
	assert.Equal(t, int64(120), *result.Snapshot.ChannelData.SubscriberCount)
	assert.Equal(t, 0, upstream.count("details"))
}

func TestMissingConfigurationFailsBeforeUpstream(t *testing.T) {
	cases := map[string]struct {
		cfg    config.YouTubeConfig
		status int
	}{
		"credential": {cfg: config.YouTubeConfig{ChannelID: "UC123"}, status: 500},
		"channel":    {cfg: config.YouTubeConfig{APIKey: "key"}, status: 400},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			upstream := episodeFive()
			agg := New(upstream, nil, Options{YouTube: tc.cfg}, zap.NewNop())

			_, err := agg.GetSnapshot(context.Background())
			require.Error(t, err)
			assert.True(t, errors.IsConfiguration(err))
			assert.Equal(t, tc.status, errors.StatusCode(err))
			assert.Equal(t, 0, upstream.total())
		})
	}
}

func TestNilUpstreamIsAConfigurationError(t *testing.T) {
	agg := New(nil, nil, Options{YouTube: config.YouTubeConfig{APIKey: "key", ChannelID: "UC123"}}, zap.NewNop())

	_, err := agg.GetSnapshot(context.Background())
	assert.True(t, errors.IsConfiguration(err))
}

func TestFetchTimesNeverGoBackwards(t *testing.T) {
	upstream := episodeFive()
	clock := newClock()
	agg := newTestAggregator(upstream, nil, clock)

	first, err := agg.GetSnapshot(context.Background())
	require.NoError(t, err)

	// Wall clock stepped back, e.g. after an NTP correction.
	clock.Advance(-time.Hour)
	second, err := agg.refresh(context.Background(), clock.Now())
	require.NoError(t, err)
	assert.True(t, second.Snapshot.FetchedAt.Equal(first.Snapshot.FetchedAt))
}

func TestStoreMirrorsAndWarms(t *testing.T) {
	store := &memoryStore{}
	clock := newClock()
	agg := newTestAggregator(episodeFive(), store, clock)

	_, err := agg.GetSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, store.saves)

	// A new process picks up the mirrored entry and serves it without upstream.
	fresh := episodeFive()
	restarted := newTestAggregator(fresh, store, clock)
	restarted.Warm(context.Background())

	result, err := restarted.GetSnapshot(context.Background())
	require.NoError(t, err)
	assert.True(t, result.FromCache)
	assert.Equal(t, "abc123", result.Snapshot.VideoData.ID)
	assert.Equal(t, 0, fresh.total())
}

func TestStoreFailureDoesNotFailRequest(t *testing.T) {
	store := &memoryStore{saveErr: stderrors.New("redis down")}
	agg := newTestAggregator(episodeFive(), store, newClock())

	result, err := agg.GetSnapshot(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, result.Snapshot.VideoData)
}

func TestConcurrentRequestsKeepEntryConsistent(t *testing.T) {
	upstream := episodeFive()
	agg := newTestAggregator(upstream, nil, newClock())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := agg.GetSnapshot(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "abc123", result.Snapshot.VideoData.ID)
		}()
	}
	wg.Wait()

	entry := agg.Entry()
	require.NotNil(t, entry.Snapshot)
	assert.Equal(t, "abc123", entry.Snapshot.VideoData.ID)
}
