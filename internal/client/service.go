// Package client is the consumer-side cache in front of the snapshot endpoint.
//
// A Service makes at most one request at a time: callers that arrive while a
// fetch is running wait for it and share its outcome, forced refreshes
// included. Within the freshness window the cached snapshot is returned
// without a request, and after a failure with nothing cached a fallback is
// served for the cooldown window instead of retrying.
package client

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kapu/channel-snapshot/internal/constants"
	"github.com/kapu/channel-snapshot/internal/domain"
	"github.com/kapu/channel-snapshot/internal/util"
)

const flightKey = "snapshot"

// State says where a returned snapshot came from.
type State int

const (
	// Fresh was fetched by this call or the flight it joined.
	Fresh State = iota
	// Cached was served from memory inside the freshness window.
	Cached
	// Stale is the previous snapshot, returned because the fetch failed.
	Stale
	// Fallback is the empty snapshot served during the error cooldown.
	Fallback
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Cached:
		return "cached"
	case Stale:
		return "stale"
	case Fallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Status is the service's position in Idle -> Fetching -> {Cached, Errored}.
type Status int

const (
	StatusIdle Status = iota
	StatusFetching
	StatusCached
	StatusErrored
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusFetching:
		return "fetching"
	case StatusCached:
		return "cached"
	case StatusErrored:
		return "errored"
	default:
		return "unknown"
	}
}

type Outcome struct {
	Snapshot *domain.Snapshot
	State    State
}

type Options struct {
	Freshness     time.Duration
	ErrorCooldown time.Duration
	Now           util.Clock
}

type Service struct {
	fetcher Fetcher
	opts    Options
	now     util.Clock
	logger  *zap.Logger

	group singleflight.Group

	mu          sync.Mutex
	cache       *domain.Snapshot
	fetching    bool
	lastErr     error
	lastErrorAt time.Time
}

func New(fetcher Fetcher, opts Options, logger *zap.Logger) *Service {
	if opts.Freshness <= 0 {
		opts.Freshness = constants.CacheTTL.Snapshot
	}
	if opts.ErrorCooldown < 0 {
		opts.ErrorCooldown = 0
	} else if opts.ErrorCooldown == 0 {
		opts.ErrorCooldown = constants.CacheTTL.ErrorCooldown
	}
	return &Service{
		fetcher: fetcher,
		opts:    opts,
		now:     opts.Now.OrSystem(),
		logger:  util.Named(logger, "client"),
	}
}

// GetData returns the current snapshot. It fails only when a fetch failed and
// there is no earlier snapshot to fall back on.
func (s *Service) GetData(ctx context.Context, force bool) (*domain.Snapshot, error) {
	outcome, err := s.Load(ctx, force)
	if err != nil {
		return nil, err
	}
	return outcome.Snapshot, nil
}

// Load is GetData plus where the snapshot came from.
func (s *Service) Load(ctx context.Context, force bool) (*Outcome, error) {
	s.mu.Lock()
	if !s.fetching {
		now := s.now()
		if !force && s.cache.IsFresh(now, s.opts.Freshness) {
			snapshot := s.cache
			s.mu.Unlock()
			s.logger.Debug("Using cached snapshot", zap.Duration("age", snapshot.Age(now)))
			return &Outcome{Snapshot: snapshot, State: Cached}, nil
		}
		if !force && s.inCooldownLocked(now) {
			s.mu.Unlock()
			s.logger.Warn("Recent fetch error, serving fallback without retrying")
			return &Outcome{Snapshot: domain.FallbackSnapshot(now), State: Fallback}, nil
		}
		s.fetching = true
	}
	// The flight clears fetching under mu before it ends, so while mu is held
	// a set flag always means the group still has the call.
	ch := s.group.DoChan(flightKey, func() (any, error) {
		return s.fetch(context.WithoutCancel(ctx))
	})
	s.mu.Unlock()

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Outcome), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) inCooldownLocked(now time.Time) bool {
	if s.cache != nil || s.lastErrorAt.IsZero() {
		return false
	}
	return now.Sub(s.lastErrorAt) < s.opts.ErrorCooldown
}

func (s *Service) fetch(ctx context.Context) (*Outcome, error) {
	snapshot, err := s.fetcher.Fetch(ctx)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetching = false
	s.group.Forget(flightKey)

	if err != nil {
		s.lastErr = err
		s.lastErrorAt = now
		if s.cache != nil {
			s.logger.Warn("Snapshot fetch failed, serving previous snapshot",
				zap.Duration("age", s.cache.Age(now)),
				zap.Error(err))
			return &Outcome{Snapshot: s.cache, State: Stale}, nil
		}
		s.logger.Error("Snapshot fetch failed with nothing cached", zap.Error(err))
		return nil, err
	}

	fetchedAt := now
	if s.cache != nil && s.cache.FetchedAt.After(fetchedAt) {
		fetchedAt = s.cache.FetchedAt
	}
	snapshot.FetchedAt = fetchedAt
	s.cache = snapshot
	s.lastErr = nil
	s.lastErrorAt = time.Time{}

	s.logger.Debug("Snapshot cached",
		zap.Bool("has_video", snapshot.VideoData != nil),
		zap.Bool("live", snapshot.LiveData != nil && snapshot.LiveData.IsLive()))
	return &Outcome{Snapshot: snapshot, State: Fresh}, nil
}

// GetCachedData returns the last good snapshot, or nil. It never fetches.
func (s *Service) GetCachedData() *domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache
}

// ClearCache drops the snapshot and the error cooldown. An in-flight fetch
// still completes and may repopulate the cache.
func (s *Service) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = nil
	s.lastErr = nil
	s.lastErrorAt = time.Time{}
}

func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.fetching:
		return StatusFetching
	case s.lastErr != nil:
		return StatusErrored
	case s.cache != nil:
		return StatusCached
	default:
		return StatusIdle
	}
}
