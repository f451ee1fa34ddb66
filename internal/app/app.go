// Package app assembles the stackcache stack from a config.Config:
// transport, limiter, quota tracker, page fetcher, partition store and the
// sync controller.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/stackcache/pkg/cache"
	"github.com/Sternrassler/stackcache/pkg/config"
	"github.com/Sternrassler/stackcache/pkg/pagination"
	"github.com/Sternrassler/stackcache/pkg/ratelimit"
	"github.com/Sternrassler/stackcache/pkg/request"
	"github.com/Sternrassler/stackcache/pkg/syncer"
	"github.com/Sternrassler/stackcache/pkg/transport"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Version is reported in the default user agent.
const Version = "0.1"

// App owns every long-lived component. Close releases them.
type App struct {
	Config     config.Config
	Transport  *transport.Client
	Limiter    ratelimit.Limiter
	Tracker    *ratelimit.Tracker
	Fetcher    *pagination.Fetcher
	Store      cache.Store
	Controller *syncer.Controller

	redis  *redis.Client
	logger zerolog.Logger
}

// New validates cfg and builds the stack. The Redis backend is pinged once;
// SQLite files are created on demand.
func New(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &App{
		Config: cfg,
		logger: logger.With().Str("component", "app").Logger(),
	}
	if err := a.build(ctx, logger); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, logger zerolog.Logger) error {
	cfg := a.Config

	userAgent := cfg.API.UserAgent
	if userAgent == "" {
		userAgent = transport.UserAgentFor(Version, cfg.API.Key)
	}
	tcfg := transport.DefaultConfig(userAgent)
	tcfg.ConnectTimeout = cfg.API.ConnectTimeout
	tcfg.ReadTimeout = cfg.API.ReadTimeout
	tcfg.ProxyURL = cfg.API.ProxyURL

	var err error
	if a.Transport, err = transport.New(tcfg, logger); err != nil {
		return fmt.Errorf("create transport: %w", err)
	}

	if cfg.Cache.Backend == config.BackendRedis {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.redis.Ping(pingCtx).Err(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.Cache.RedisAddr, err)
		}
		a.logger.Info().Str("addr", cfg.Cache.RedisAddr).Msg("Connected to Redis")
	}

	// quota state follows the cache backend so several processes sharing a
	// Redis instance also share one view of the quota
	var state ratelimit.StateStore
	if a.redis != nil {
		state = ratelimit.NewRedisState(a.redis)
	}
	a.Tracker = ratelimit.NewTracker(state, ratelimit.Thresholds{
		Critical: cfg.Throttle.QuotaCritical,
		Warning:  cfg.Throttle.QuotaWarning,
	}, logger)

	mode, err := ratelimit.ParseMode(cfg.Throttle.Mode)
	if err != nil {
		return err
	}
	a.Limiter, err = ratelimit.New(a.Transport, ratelimit.Config{
		Mode:        mode,
		MinInterval: cfg.Throttle.Interval,
		QueueSize:   cfg.Throttle.QueueSize,
		Tracker:     a.Tracker,
	}, logger)
	if err != nil {
		return fmt.Errorf("create limiter: %w", err)
	}

	a.Fetcher = pagination.NewFetcher(a.Limiter, pagination.FetcherConfig{
		ItemsField: cfg.API.ItemsField,
		Retry:      RetryPolicy(cfg.API.RetryAttempts),
		Tracker:    a.Tracker,
	}, logger)

	switch cfg.Cache.Backend {
	case config.BackendRedis:
		a.Store = cache.NewRedisStore(a.redis, logger)
	default:
		store, err := cache.OpenSQLite(ctx, cfg.Cache.Path, logger)
		if err != nil {
			return err
		}
		a.Store = store
	}

	syncMode, err := syncer.ParseMode(cfg.Sync.Mode)
	if err != nil {
		return err
	}
	a.Controller, err = syncer.New(a.Fetcher, a.Store, syncer.Config{
		BaseURL:         cfg.API.BaseURL,
		Version:         cfg.API.Version,
		Resource:        cfg.Sync.Resource,
		APIKey:          cfg.API.Key,
		PageSize:        cfg.Sync.PageSize,
		Mode:            syncMode,
		FallbackToCache: cfg.Sync.Fallback,
		Concurrency:     cfg.Sync.Concurrency,
	}, logger)
	if err != nil {
		return fmt.Errorf("create controller: %w", err)
	}
	return nil
}

// RetryPolicy maps the configured attempt count onto the per-class retry
// tables. One attempt disables retries.
func RetryPolicy(attempts int) transport.RetryPolicy {
	if attempts <= 1 {
		return transport.NoRetry()
	}
	return func(class transport.ErrorClass) transport.RetryConfig {
		rc := transport.RetryConfigForErrorClass(class)
		rc.MaxAttempts = attempts
		return rc
	}
}

// Query returns the configured base query (site, filter, sort, order, page
// size) with opts applied on top.
func (a *App) Query(opts ...request.Option) (request.Query, error) {
	base := []request.Option{
		request.WithPageSize(a.Config.Sync.PageSize),
		request.WithSite(a.Config.API.Site),
		request.WithFilter(a.Config.API.Filter),
	}
	if a.Config.Sync.Order != "" {
		base = append(base, request.WithOrder(request.Order(a.Config.Sync.Order)))
	}
	if a.Config.Sync.Sort != "" {
		sort, err := request.SortByName(a.Config.Sync.Sort)
		if err != nil {
			return request.Query{}, err
		}
		base = append(base, request.WithSort(sort))
	}
	return request.NewQuery(append(base, opts...)...)
}

// Close shuts the components down in reverse order of construction.
func (a *App) Close() error {
	var errs []error
	if a.Limiter != nil {
		errs = append(errs, a.Limiter.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if a.Transport != nil {
		errs = append(errs, a.Transport.Close())
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
