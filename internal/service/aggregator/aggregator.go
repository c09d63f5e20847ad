// Package aggregator merges the channel's latest video, live status and
// subscriber count into one snapshot, caching it in process memory.
//
// The cache is guarded by a mutex but fetches are not coalesced: two requests
// that miss at the same time both call upstream, and the later write wins.
// Entries are always replaced whole, so a race costs quota, never consistency.
package aggregator

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/kapu/channel-snapshot/internal/config"
	"github.com/kapu/channel-snapshot/internal/constants"
	"github.com/kapu/channel-snapshot/internal/domain"
	"github.com/kapu/channel-snapshot/internal/service/youtube"
	"github.com/kapu/channel-snapshot/internal/util"
	"github.com/kapu/channel-snapshot/pkg/errors"
)

// Upstream is the subset of the YouTube client the aggregator needs.
type Upstream interface {
	LatestVideo(ctx context.Context, channelID string) (*domain.VideoSummary, error)
	LiveVideoID(ctx context.Context, channelID string) (string, error)
	VideoDetails(ctx context.Context, videoID string) (*youtube.VideoDetails, error)
	ChannelSubscribers(ctx context.Context, channelID string) (*int64, error)
}

// Store mirrors the cache entry outside the process. Load returns nil, nil
// when nothing is stored.
type Store interface {
	Load(ctx context.Context, channelID string) (*domain.CacheEntry, error)
	Save(ctx context.Context, channelID string, entry domain.CacheEntry) error
}

type Options struct {
	YouTube          config.YouTubeConfig
	Freshness        time.Duration
	QuotaSuppression time.Duration
	UpstreamTimeout  time.Duration
	Now              util.Clock
}

// Result is a snapshot plus how it was produced.
type Result struct {
	Snapshot        *domain.Snapshot
	QuotaSuppressed bool
	FromCache       bool
}

type Aggregator struct {
	upstream Upstream
	store    Store
	opts     Options
	now      util.Clock
	logger   *zap.Logger

	mu    sync.Mutex
	entry domain.CacheEntry
}

// New builds an aggregator. upstream may be nil when the credential is not
// configured; every request then fails with a ConfigurationError. store is optional.
func New(upstream Upstream, store Store, opts Options, logger *zap.Logger) *Aggregator {
	if opts.Freshness <= 0 {
		opts.Freshness = constants.CacheTTL.Snapshot
	}
	if opts.QuotaSuppression <= 0 {
		opts.QuotaSuppression = constants.CacheTTL.QuotaSuppression
	}
	if opts.UpstreamTimeout <= 0 {
		opts.UpstreamTimeout = constants.ServerConfig.UpstreamTimeout
	}
	return &Aggregator{
		upstream: upstream,
		store:    store,
		opts:     opts,
		now:      opts.Now.OrSystem(),
		logger:   util.Named(logger, "aggregator"),
	}
}

// Warm seeds the in-memory entry from the store, if any.
func (a *Aggregator) Warm(ctx context.Context) {
	if a.store == nil {
		return
	}
	entry, err := a.store.Load(ctx, a.opts.YouTube.ChannelID)
	if err != nil {
		a.logger.Warn("Failed to warm snapshot cache", zap.Error(err))
		return
	}
	if entry == nil || entry.Snapshot == nil {
		return
	}

	a.mu.Lock()
	a.entry = *entry
	a.mu.Unlock()

	a.logger.Info("Snapshot cache warmed from store",
		zap.Time("fetchedAt", entry.Snapshot.FetchedAt),
		zap.Bool("quotaExceeded", entry.QuotaExceeded))
}

// Entry returns a copy of the current cache entry.
func (a *Aggregator) Entry() domain.CacheEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.entry
}

// GetSnapshot returns the merged snapshot, from cache when fresh or while
// quota suppression is active, otherwise from upstream.
func (a *Aggregator) GetSnapshot(ctx context.Context) (*Result, error) {
	if err := a.opts.YouTube.Credentials(); err != nil {
		return nil, err
	}
	if a.upstream == nil {
		return nil, errors.NewConfigurationError("YouTube client is not configured", "YOUTUBE_API_KEY", 500)
	}

	now := a.now()
	entry := a.Entry()

	if entry.Suppressed(now, a.opts.QuotaSuppression) {
		snapshot := entry.Snapshot
		if snapshot == nil {
			snapshot = domain.FallbackSnapshot(entry.QuotaExceededAt)
		}
		a.logger.Debug("Quota exceeded recently, serving fallback",
			zap.Time("quotaExceededAt", entry.QuotaExceededAt))
		return &Result{Snapshot: snapshot, QuotaSuppressed: true, FromCache: true}, nil
	}

	if entry.Snapshot.IsFresh(now, a.opts.Freshness) {
		a.logger.Debug("Serving cached snapshot",
			zap.Duration("age", entry.Snapshot.Age(now)))
		return &Result{Snapshot: entry.Snapshot, FromCache: true}, nil
	}

	// A refresh runs to completion even when the caller goes away; its
	// result is cached and served to everyone else.
	refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.opts.UpstreamTimeout)
	defer cancel()
	return a.refresh(refreshCtx, now)
}

func (a *Aggregator) refresh(ctx context.Context, now time.Time) (*Result, error) {
	channelID := a.opts.YouTube.ChannelID

	var (
		latest    *domain.VideoSummary
		latestErr error
		liveID    string
		liveErr   error
	)

	searches := pool.New().WithMaxGoroutines(2)
	searches.Go(func() {
		latest, latestErr = a.upstream.LatestVideo(ctx, channelID)
	})
	searches.Go(func() {
		liveID, liveErr = a.upstream.LiveVideoID(ctx, channelID)
	})
	searches.Wait()

	if latestErr != nil {
		if errors.IsQuotaExceeded(latestErr) {
			return a.suppress(ctx, now, latestErr), nil
		}
		a.logger.Error("Latest video search failed", zap.Error(latestErr))
		return nil, errors.NewUpstreamError("failed to load latest video", errors.UpstreamUnavailable,
			"search.latest", 500, latestErr)
	}

	live := domain.NotLive()
	switch {
	case liveErr != nil:
		a.logger.Warn("Live check failed, continuing as not live",
			zap.Bool("quota", errors.IsQuotaExceeded(liveErr)),
			zap.Error(liveErr))
	case liveID != "":
		live = domain.LiveFromVideoID(liveID)
	}

	var (
		details     *youtube.VideoDetails
		subscribers *int64
	)

	lookups := pool.New().WithMaxGoroutines(2)
	if latest != nil {
		lookups.Go(func() {
			var err error
			details, err = a.upstream.VideoDetails(ctx, latest.ID)
			if err != nil {
				details = nil
				a.logger.Warn("Video statistics unavailable",
					zap.String("video_id", latest.ID),
					zap.Error(err))
			}
		})
	}
	lookups.Go(func() {
		var err error
		subscribers, err = a.upstream.ChannelSubscribers(ctx, channelID)
		if err != nil {
			subscribers = nil
			a.logger.Warn("Subscriber count unavailable", zap.Error(err))
		}
	})
	lookups.Wait()

	snapshot := &domain.Snapshot{
		VideoData:   mergeVideo(latest, details),
		LiveData:    &live,
		ChannelData: &domain.ChannelStats{SubscriberCount: subscribers},
	}

	entry := a.replace(ctx, domain.CacheEntry{Snapshot: snapshot}, now)

	a.logger.Info("Snapshot refreshed",
		zap.Bool("has_video", snapshot.VideoData != nil),
		zap.Bool("live", live.IsLive()),
		zap.Bool("has_subscribers", subscribers != nil))

	return &Result{Snapshot: entry.Snapshot}, nil
}

// suppress records quota exhaustion and caches the fallback snapshot.
func (a *Aggregator) suppress(ctx context.Context, now time.Time, cause error) *Result {
	a.logger.Error("Quota exceeded on latest video search, suppressing upstream calls",
		zap.Duration("window", a.opts.QuotaSuppression),
		zap.Error(cause))

	entry := a.replace(ctx, domain.CacheEntry{
		Snapshot:        domain.FallbackSnapshot(now),
		QuotaExceeded:   true,
		QuotaExceededAt: now,
	}, now)

	return &Result{Snapshot: entry.Snapshot, QuotaSuppressed: true}
}

// replace swaps in the entry, keeping fetch times non-decreasing, and mirrors it.
func (a *Aggregator) replace(ctx context.Context, entry domain.CacheEntry, now time.Time) domain.CacheEntry {
	a.mu.Lock()
	fetchedAt := now
	if prev := a.entry.Snapshot; prev != nil && prev.FetchedAt.After(fetchedAt) {
		fetchedAt = prev.FetchedAt
	}
	entry.Snapshot.FetchedAt = fetchedAt
	a.entry = entry
	a.mu.Unlock()

	if a.store != nil {
		if err := a.store.Save(ctx, a.opts.YouTube.ChannelID, entry); err != nil {
			a.logger.Warn("Failed to mirror snapshot", zap.Error(err))
		}
	}
	return entry
}

func mergeVideo(latest *domain.VideoSummary, details *youtube.VideoDetails) *domain.VideoSummary {
	if latest == nil {
		return nil
	}
	video := *latest
	if details != nil {
		video.ViewCount = details.ViewCount
		video.LikeCount = details.LikeCount
		video.Duration = details.Duration
	}
	return &video
}
