package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrQuotaExhausted is returned by Tracker.Wait while the remaining daily
// quota is below the critical threshold.
var ErrQuotaExhausted = errors.New("api quota exhausted")

// Prometheus metrics for quota tracking.
var (
	quotaRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stackcache_quota_remaining",
		Help: "Remaining daily API quota as last reported by the server",
	})

	quotaBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stackcache_quota_blocks_total",
		Help: "Total number of requests refused due to an exhausted quota",
	})

	backoffWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stackcache_backoff_waits_total",
		Help: "Total number of requests delayed by a server backoff",
	})
)

// Observation is the quota information carried by one response envelope.
// Fields the server omitted are QuotaUnknown / zero.
type Observation struct {
	QuotaRemaining int
	QuotaMax       int
	Backoff        time.Duration
}

// StateStore persists QuotaState.
type StateStore interface {
	Load(ctx context.Context) (*QuotaState, error)
	Save(ctx context.Context, state *QuotaState) error
}

// Tracker monitors the API quota and backoff and gates requests.
type Tracker struct {
	store      StateStore
	thresholds Thresholds
	logger     zerolog.Logger

	mu sync.Mutex
}

// NewTracker creates a new quota tracker. A nil store keeps state in memory.
func NewTracker(store StateStore, thresholds Thresholds, logger zerolog.Logger) *Tracker {
	if store == nil {
		store = NewMemoryState()
	}
	return &Tracker{
		store:      store,
		thresholds: thresholds,
		logger:     logger,
	}
}

// GetState returns the current quota state.
func (t *Tracker) GetState(ctx context.Context) (*QuotaState, error) {
	state, err := t.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load quota state: %w", err)
	}
	state.UpdateHealth(t.thresholds)
	return state, nil
}

// Observe records the quota fields of a response envelope.
func (t *Tracker) Observe(ctx context.Context, obs Observation) error {
	if obs.QuotaRemaining == QuotaUnknown && obs.Backoff <= 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	state, err := t.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load quota state: %w", err)
	}

	now := time.Now()
	if obs.QuotaRemaining != QuotaUnknown {
		state.Remaining = obs.QuotaRemaining
		state.ResetAt = nextReset(now)
		quotaRemaining.Set(float64(obs.QuotaRemaining))
	}
	if obs.QuotaMax != QuotaUnknown {
		state.Max = obs.QuotaMax
	}
	if obs.Backoff > 0 {
		until := now.Add(obs.Backoff)
		if until.After(state.BackoffUntil) {
			state.BackoffUntil = until
		}
	}
	state.LastUpdate = now
	state.UpdateHealth(t.thresholds)

	if err := t.store.Save(ctx, state); err != nil {
		return fmt.Errorf("save quota state: %w", err)
	}

	switch {
	case state.NeedsCriticalBlock(t.thresholds):
		t.logger.Error().
			Int("quota_remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Msg("API quota CRITICAL - requests will be blocked")
	case state.NeedsWarning(t.thresholds):
		t.logger.Warn().
			Int("quota_remaining", state.Remaining).
			Msg("API quota low")
	default:
		t.logger.Debug().
			Int("quota_remaining", state.Remaining).
			Dur("backoff", obs.Backoff).
			Msg("API quota state updated")
	}

	return nil
}

// Wait blocks until any server backoff has elapsed. It returns
// ErrQuotaExhausted without waiting when the quota is critical.
func (t *Tracker) Wait(ctx context.Context) error {
	state, err := t.GetState(ctx)
	if err != nil {
		return fmt.Errorf("get quota state: %w", err)
	}

	if state.NeedsCriticalBlock(t.thresholds) {
		quotaBlocksTotal.Inc()
		t.logger.Error().
			Int("quota_remaining", state.Remaining).
			Dur("wait", state.TimeUntilReset()).
			Msg("API quota exhausted - blocking request")
		return fmt.Errorf("%w: %d remaining, resets in %s",
			ErrQuotaExhausted, state.Remaining, state.TimeUntilReset().Round(time.Second))
	}

	if wait := state.BackoffRemaining(); wait > 0 {
		backoffWaitsTotal.Inc()
		t.logger.Warn().Dur("wait", wait).Msg("Server requested backoff - delaying request")
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
	return nil
}

// MemoryState is a process-local StateStore.
type MemoryState struct {
	mu    sync.Mutex
	state QuotaState
}

// NewMemoryState returns an empty in-memory state store.
func NewMemoryState() *MemoryState {
	return &MemoryState{state: *UnknownState()}
}

// Load implements StateStore.
func (m *MemoryState) Load(context.Context) (*QuotaState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state
	return &s, nil
}

// Save implements StateStore.
func (m *MemoryState) Save(_ context.Context, state *QuotaState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = *state
	return nil
}

// RedisState keeps quota state in Redis so that it survives restarts of
// the CLI; the daily quota is tracked server-side per application key.
type RedisState struct {
	redis *redis.Client
}

// NewRedisState creates a Redis backed StateStore.
func NewRedisState(client *redis.Client) *RedisState {
	return &RedisState{redis: client}
}

// Load implements StateStore. Missing keys yield UnknownState.
func (r *RedisState) Load(ctx context.Context) (*QuotaState, error) {
	lastUpdateStr, err := r.redis.Get(ctx, RedisKeyLastUpdate).Result()
	if err == redis.Nil {
		return UnknownState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get last update: %w", err)
	}

	remaining, err := r.redis.Get(ctx, RedisKeyQuotaRemaining).Int()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get quota remaining: %w", err)
	}
	if err == redis.Nil {
		remaining = QuotaUnknown
	}

	quotaMax, err := r.redis.Get(ctx, RedisKeyQuotaMax).Int()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get quota max: %w", err)
	}
	if err == redis.Nil {
		quotaMax = QuotaUnknown
	}

	resetTimestamp, err := r.redis.Get(ctx, RedisKeyResetTimestamp).Int64()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get reset timestamp: %w", err)
	}

	backoffUntil, err := r.redis.Get(ctx, RedisKeyBackoffUntil).Int64()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get backoff: %w", err)
	}

	var lastUpdate time.Time
	if err := json.Unmarshal([]byte(lastUpdateStr), &lastUpdate); err != nil {
		return nil, fmt.Errorf("parse last update: %w", err)
	}

	state := &QuotaState{
		Remaining:  remaining,
		Max:        quotaMax,
		LastUpdate: lastUpdate,
	}
	if resetTimestamp > 0 {
		state.ResetAt = time.Unix(resetTimestamp, 0)
	}
	if backoffUntil > 0 {
		state.BackoffUntil = time.UnixMilli(backoffUntil)
	}
	return state, nil
}

// Save implements StateStore.
func (r *RedisState) Save(ctx context.Context, state *QuotaState) error {
	lastUpdateJSON, err := json.Marshal(state.LastUpdate)
	if err != nil {
		return fmt.Errorf("marshal last update: %w", err)
	}

	pipe := r.redis.TxPipeline()
	pipe.Set(ctx, RedisKeyQuotaRemaining, state.Remaining, 0)
	pipe.Set(ctx, RedisKeyQuotaMax, state.Max, 0)
	pipe.Set(ctx, RedisKeyResetTimestamp, state.ResetAt.Unix(), 0)
	pipe.Set(ctx, RedisKeyBackoffUntil, state.BackoffUntil.UnixMilli(), 0)
	pipe.Set(ctx, RedisKeyLastUpdate, lastUpdateJSON, 0)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store quota state in redis: %w", err)
	}
	return nil
}
