// Package syncer decides where partition data comes from: the network,
// which refreshes the local cache, or the cache alone when offline.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/stackcache/pkg/cache"
	"github.com/Sternrassler/stackcache/pkg/pagination"
	"github.com/Sternrassler/stackcache/pkg/request"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Mode selects the data source of a refresh.
type Mode string

const (
	// ModeOnline fetches from the network and replaces the cached partition.
	ModeOnline Mode = "online"

	// ModeOffline serves the cached partition only.
	ModeOffline Mode = "offline"
)

// ParseMode converts a config or query string into a Mode.
func ParseMode(name string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(name))) {
	case ModeOnline, "":
		return ModeOnline, nil
	case ModeOffline:
		return ModeOffline, nil
	default:
		return "", fmt.Errorf("unknown sync mode %q (want online or offline)", name)
	}
}

// ResourceAnswers lists the answers of the questions named in Query.IDs.
const ResourceAnswers = "questions/{ids}/answers"

// AnswersKey is the partition holding the answers of one question.
func AnswersKey(questionID int) string {
	return "answers_" + strconv.Itoa(questionID)
}

// Outcome says which path produced a Result.
type Outcome string

const (
	// OutcomeFresh: items came from the network.
	OutcomeFresh Outcome = "fresh"

	// OutcomeCached: offline, items came from the cache.
	OutcomeCached Outcome = "cached"

	// OutcomeDegraded: online fetch failed, items came from the cache.
	OutcomeDegraded Outcome = "degraded"

	// OutcomeNoCachedData: offline and the partition was never synced, or
	// the cache could not be read (CacheErr is set).
	OutcomeNoCachedData Outcome = "no_cached_data"
)

// Result is the answer to one refresh.
type Result struct {
	Key            string
	Items          []json.RawMessage
	SourceWasCache bool
	Outcome        Outcome

	// FetchErr is the network failure behind OutcomeDegraded.
	FetchErr error

	// CacheErr is set when fresh items could not be written to the cache,
	// or when an offline read failed.
	CacheErr error

	Pages    int
	Duration time.Duration
}

// AsyncResult is delivered by RefreshAsync.
type AsyncResult struct {
	Result Result
	Err    error
}

// Config configures a Controller.
type Config struct {
	BaseURL  string
	Version  string
	Resource string
	APIKey   string

	// PageSize is used when the query does not set one.
	PageSize int

	// Mode is the initial mode.
	Mode Mode

	// FallbackToCache serves cached items when an online fetch fails.
	FallbackToCache bool

	// Concurrency bounds RefreshMany. Requests stay serialized by the
	// limiter behind the fetcher.
	Concurrency int
}

// DefaultConfig returns the public Stack Exchange API settings.
func DefaultConfig() Config {
	return Config{
		BaseURL:     "https://api.stackexchange.com",
		Version:     "2.2",
		Resource:    "search",
		PageSize:    30,
		Mode:        ModeOnline,
		Concurrency: 4,
	}
}

// Controller orchestrates fetch, cache replace and offline reads per
// partition.
type Controller struct {
	fetcher pagination.PageFetcher
	store   cache.Store
	config  Config
	logger  zerolog.Logger

	mu   sync.RWMutex
	mode Mode
}

// New creates a Controller.
func New(fetcher pagination.PageFetcher, store cache.Store, cfg Config, logger zerolog.Logger) (*Controller, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if store == nil {
		return nil, fmt.Errorf("cache store is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Resource == "" {
		return nil, fmt.Errorf("resource is required")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultConfig().PageSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	mode, err := ParseMode(string(cfg.Mode))
	if err != nil {
		return nil, err
	}

	return &Controller{
		fetcher: fetcher,
		store:   store,
		config:  cfg,
		logger:  logger.With().Str("component", "syncer").Logger(),
		mode:    mode,
	}, nil
}

// Mode returns the current mode.
func (c *Controller) Mode() Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// SetMode switches between online and offline. Unknown modes are rejected
// and leave the current mode in place.
func (c *Controller) SetMode(mode Mode) error {
	mode, err := ParseMode(string(mode))
	if err != nil {
		return err
	}

	c.mu.Lock()
	prev := c.mode
	c.mode = mode
	c.mu.Unlock()

	if prev != mode {
		c.logger.Info().Str("from", string(prev)).Str("to", string(mode)).Msg("Sync mode changed")
	}
	return nil
}

// Refresh refreshes key in the current mode.
func (c *Controller) Refresh(ctx context.Context, key string, q request.Query) (Result, error) {
	return c.RefreshMode(ctx, c.Mode(), key, q)
}

// RefreshMode refreshes key in the given mode. key is normalized with
// cache.NormalizeKey; when q carries neither tags nor ids the partition's
// own tag is requested. Online refreshes always read from page 1.
func (c *Controller) RefreshMode(ctx context.Context, mode Mode, key string, q request.Query) (Result, error) {
	return c.RefreshResource(ctx, mode, key, c.config.Resource, q)
}

// RefreshAnswers refreshes the answers of one question into the
// AnswersKey(questionID) partition.
func (c *Controller) RefreshAnswers(ctx context.Context, mode Mode, questionID int, q request.Query) (Result, error) {
	key := AnswersKey(questionID)
	if questionID <= 0 {
		return Result{Key: key}, fmt.Errorf("%w: question id must be positive, got %d", request.ErrInvalidParameter, questionID)
	}
	q, err := q.Apply(request.WithIDs(questionID))
	if err != nil {
		return Result{Key: key}, err
	}
	return c.RefreshResource(ctx, mode, key, ResourceAnswers, q)
}

// RefreshResource is RefreshMode reading resource instead of
// Config.Resource. resource may contain the {ids} and {tags} placeholders.
func (c *Controller) RefreshResource(ctx context.Context, mode Mode, key, resource string, q request.Query) (Result, error) {
	start := time.Now()
	if resource == "" {
		resource = c.config.Resource
	}
	key = cache.NormalizeKey(key)
	if err := cache.ValidateKey(key); err != nil {
		return Result{Key: key}, err
	}

	var res Result
	var err error
	switch mode {
	case ModeOnline:
		res, err = c.online(ctx, key, resource, q)
	case ModeOffline:
		res, err = c.offline(ctx, key)
	default:
		return Result{Key: key}, fmt.Errorf("unknown sync mode %q", mode)
	}

	res.Key = key
	res.Duration = time.Since(start)
	syncDuration.WithLabelValues(string(mode)).Observe(res.Duration.Seconds())

	if err != nil {
		syncFailuresTotal.WithLabelValues(string(mode)).Inc()
		c.logger.Error().
			Err(err).
			Str("partition", key).
			Str("mode", string(mode)).
			Msg("Partition refresh failed")
		return res, err
	}

	syncTotal.WithLabelValues(string(mode), string(res.Outcome)).Inc()
	syncItems.Observe(float64(len(res.Items)))
	c.logger.Info().
		Str("partition", key).
		Str("mode", string(mode)).
		Str("outcome", string(res.Outcome)).
		Str("resource", resource).
		Int("items", len(res.Items)).
		Int("pages", res.Pages).
		Dur("duration", res.Duration).
		Msg("Partition refreshed")
	return res, nil
}

// RefreshAsync runs Refresh on its own goroutine. The channel receives
// exactly one value and is then closed.
func (c *Controller) RefreshAsync(ctx context.Context, key string, q request.Query) <-chan AsyncResult {
	mode := c.Mode()
	out := make(chan AsyncResult, 1)
	go func() {
		defer close(out)
		res, err := c.RefreshMode(ctx, mode, key, q)
		out <- AsyncResult{Result: res, Err: err}
	}()
	return out
}

// RefreshMany refreshes several partitions concurrently, at most
// Config.Concurrency at a time. Results are returned in key order. Every
// failed key contributes to the joined error.
func (c *Controller) RefreshMany(ctx context.Context, keys []string, q request.Query) ([]Result, error) {
	results, errs := c.RefreshEach(ctx, keys, q)
	return results, errors.Join(errs...)
}

// RefreshEach is RefreshMany with the per-key errors kept apart: errs[i]
// is the error of keys[i] or nil.
func (c *Controller) RefreshEach(ctx context.Context, keys []string, q request.Query) ([]Result, []error) {
	mode := c.Mode()
	results := make([]Result, len(keys))
	errs := make([]error, len(keys))

	var g errgroup.Group
	g.SetLimit(c.config.Concurrency)
	for i, key := range keys {
		g.Go(func() error {
			res, err := c.RefreshMode(ctx, mode, key, q)
			results[i] = res
			if err != nil {
				errs[i] = fmt.Errorf("refresh %s: %w", res.Key, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return results, errs
}

// online fetches every page of key, replaces the partition and returns the
// fresh items. A failed fetch leaves the cache untouched.
func (c *Controller) online(ctx context.Context, key, resource string, q request.Query) (Result, error) {
	seq, err := c.sequence(key, resource, q)
	if err != nil {
		return Result{}, err
	}

	items, fetchErr := seq.Materialize(ctx)
	if fetchErr != nil {
		if !c.config.FallbackToCache {
			return Result{Pages: seq.PagesFetched()}, fmt.Errorf("fetch partition: %w", fetchErr)
		}
		return c.fallback(ctx, key, fetchErr)
	}

	res := Result{
		Items:   items,
		Outcome: OutcomeFresh,
		Pages:   seq.PagesFetched(),
	}
	if err := c.store.Replace(ctx, key, items); err != nil {
		cacheWriteFailuresTotal.Inc()
		res.CacheErr = err
		c.logger.Warn().
			Err(err).
			Str("partition", key).
			Int("items", len(items)).
			Msg("Fetched partition could not be cached")
	}
	return res, nil
}

// fallback answers a failed online fetch from the cache.
func (c *Controller) fallback(ctx context.Context, key string, fetchErr error) (Result, error) {
	exists, err := c.store.Exists(ctx, key)
	if err != nil {
		return Result{}, errors.Join(fmt.Errorf("fetch partition: %w", fetchErr), err)
	}
	if !exists {
		return Result{}, fmt.Errorf("fetch partition (no cached data): %w", fetchErr)
	}

	items, err := c.store.Scan(ctx, key)
	if err != nil {
		return Result{}, errors.Join(fmt.Errorf("fetch partition: %w", fetchErr), err)
	}

	c.logger.Warn().
		Err(fetchErr).
		Str("partition", key).
		Int("items", len(items)).
		Msg("Fetch failed, serving cached partition")
	return Result{
		Items:          items,
		SourceWasCache: true,
		Outcome:        OutcomeDegraded,
		FetchErr:       fetchErr,
	}, nil
}

// offline reads key from the cache. A store that cannot be read counts as
// no data.
func (c *Controller) offline(ctx context.Context, key string) (Result, error) {
	exists, err := c.store.Exists(ctx, key)
	if err != nil {
		return c.unreadable(key, err), nil
	}
	if !exists {
		return Result{
			Items:          []json.RawMessage{},
			SourceWasCache: true,
			Outcome:        OutcomeNoCachedData,
		}, nil
	}

	items, err := c.store.Scan(ctx, key)
	if err != nil {
		return c.unreadable(key, err), nil
	}
	return Result{
		Items:          items,
		SourceWasCache: true,
		Outcome:        OutcomeCached,
	}, nil
}

func (c *Controller) unreadable(key string, err error) Result {
	c.logger.Warn().
		Err(err).
		Str("partition", key).
		Msg("Cached partition could not be read")
	return Result{
		Items:          []json.RawMessage{},
		SourceWasCache: true,
		Outcome:        OutcomeNoCachedData,
		CacheErr:       err,
	}
}

// sequence builds the lazy sequence reading key from page 1.
func (c *Controller) sequence(key, resource string, q request.Query) (*pagination.Sequence, error) {
	if len(q.Tagged) == 0 && len(q.IDs) == 0 {
		var err error
		if q, err = q.Apply(request.WithTagged(RequestTag(key))); err != nil {
			return nil, err
		}
	}

	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = c.config.PageSize
	}

	d, err := request.Build(c.config.BaseURL, c.config.Version, resource, c.config.APIKey, q)
	if err != nil {
		return nil, err
	}
	return pagination.NewSequence(pagination.FetcherFunc(c.fetcher, d), pagination.NewCursor(pageSize))
}

// RequestTag converts a partition key back into the tag the API expects.
func RequestTag(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}
