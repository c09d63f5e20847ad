package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kapu/channel-snapshot/internal/config"
	"github.com/kapu/channel-snapshot/internal/server"
	"github.com/kapu/channel-snapshot/internal/service/aggregator"
	"github.com/kapu/channel-snapshot/internal/service/cache"
	"github.com/kapu/channel-snapshot/internal/service/youtube"
)

// Container bundles the assembled server-side services.
type Container struct {
	Config     *config.Config
	Logger     *zap.Logger
	Aggregator *aggregator.Aggregator
	Server     *server.Server

	closers []func()
}

// Close releases everything Build opened, in reverse order.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// Build assembles the YouTube client, the optional Redis mirror, the
// aggregator and the HTTP server. A missing credential does not fail the
// build; requests report it instead.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (container *Container, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	container = &Container{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			container.Close()
			container = nil
		}
	}()

	var upstream aggregator.Upstream
	if credErr := cfg.YouTube.Credentials(); credErr != nil {
		logger.Warn("YouTube is not configured, snapshot requests will fail",
			zap.Error(credErr))
	}
	if cfg.YouTube.APIKey != "" {
		ytClient, ytErr := youtube.NewClient(ctx, youtube.ClientOptions{
			APIKey:   cfg.YouTube.APIKey,
			Endpoint: cfg.YouTube.Endpoint,
		}, logger)
		if ytErr != nil {
			return nil, fmt.Errorf("failed to create YouTube client: %w", ytErr)
		}
		upstream = ytClient
	}

	var store aggregator.Store
	if cfg.Redis.Enabled {
		cacheSvc, cacheErr := cache.NewCacheService(ctx, cache.CacheConfig{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger)
		if cacheErr != nil {
			// The mirror is optional; the in-process cache still works.
			logger.Warn("Redis unavailable, running without snapshot mirror", zap.Error(cacheErr))
		} else {
			container.closers = append(container.closers, func() {
				_ = cacheSvc.Close()
			})
			store = cache.NewSnapshotStore(cacheSvc, cfg.Cache.QuotaSuppression+cfg.Cache.Freshness)
		}
	}

	container.Aggregator = aggregator.New(upstream, store, aggregator.Options{
		YouTube:          cfg.YouTube,
		Freshness:        cfg.Cache.Freshness,
		QuotaSuppression: cfg.Cache.QuotaSuppression,
	}, logger)
	container.Aggregator.Warm(ctx)

	handler := server.NewSnapshotHandler(container.Aggregator, logger)
	container.Server = server.New(cfg.Server, handler, logger)

	return container, nil
}
