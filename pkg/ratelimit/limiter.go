package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/stackcache/pkg/request"
	"github.com/Sternrassler/stackcache/pkg/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// DefaultInterval is the minimum spacing between two dispatches.
const DefaultInterval = 170 * time.Millisecond

// DefaultQueueSize is the buffer of the queued limiter.
const DefaultQueueSize = 256

// ErrLimiterClosed is returned by Execute after Close.
var ErrLimiterClosed = errors.New("limiter closed")

// Prometheus metrics for request throttling.
var (
	throttleWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stackcache_throttle_wait_seconds",
		Help:    "Time a request waited for its dispatch slot by throttle mode",
		Buckets: []float64{0.01, 0.05, 0.1, 0.17, 0.5, 1, 2, 5},
	}, []string{"mode"})

	throttledRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stackcache_throttled_requests_total",
		Help: "Total number of requests delayed by the throttle by mode",
	}, []string{"mode"})

	dispatchedRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stackcache_dispatched_requests_total",
		Help: "Total number of requests dispatched through a limiter by mode",
	}, []string{"mode"})
)

// Mode selects the throttle strategy.
type Mode string

const (
	// ModeInline makes the calling goroutine wait for its slot.
	ModeInline Mode = "inline"

	// ModeQueued hands requests to a single worker goroutine.
	ModeQueued Mode = "queued"

	// ModeNone dispatches immediately.
	ModeNone Mode = "none"
)

// ParseMode validates a mode name.
func ParseMode(name string) (Mode, error) {
	switch Mode(name) {
	case ModeInline, ModeQueued, ModeNone:
		return Mode(name), nil
	default:
		return "", fmt.Errorf("unknown throttle mode %q (want inline, queued or none)", name)
	}
}

// Executor performs one request. *transport.Client implements it.
type Executor interface {
	Do(ctx context.Context, d request.Descriptor) (*transport.Response, error)
}

// Limiter dispatches requests no faster than its interval.
type Limiter interface {
	Execute(ctx context.Context, d request.Descriptor) (*transport.Response, error)
	Stats() Stats
	Close() error
}

// Stats counts dispatched requests and how many of them had to wait.
type Stats struct {
	Requests  int64
	Throttled int64
}

// Config holds the limiter configuration.
type Config struct {
	Mode        Mode
	MinInterval time.Duration
	QueueSize   int

	// Tracker, when set, delays dispatch for server backoff and refuses
	// requests while the quota is exhausted.
	Tracker *Tracker
}

// DefaultConfig returns the inline limiter at DefaultInterval.
func DefaultConfig() Config {
	return Config{
		Mode:        ModeInline,
		MinInterval: DefaultInterval,
		QueueSize:   DefaultQueueSize,
	}
}

// New builds the limiter selected by cfg.Mode.
func New(exec Executor, cfg Config, logger zerolog.Logger) (Limiter, error) {
	if exec == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.MinInterval < 0 {
		return nil, fmt.Errorf("min interval must be >= 0 (got %v)", cfg.MinInterval)
	}

	switch cfg.Mode {
	case ModeInline, "":
		return NewInline(exec, cfg, logger), nil
	case ModeQueued:
		return NewQueued(exec, cfg, logger), nil
	case ModeNone:
		return NewUnthrottled(exec, cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown throttle mode %q", cfg.Mode)
	}
}

// throttle is the state shared by every mode: the executor, the last
// completion time and the counters. run must only be called by one
// goroutine at a time.
type throttle struct {
	exec     Executor
	mode     Mode
	interval time.Duration
	tracker  *Tracker
	logger   zerolog.Logger

	last      time.Time
	requests  atomic.Int64
	throttled atomic.Int64
}

func newThrottle(exec Executor, mode Mode, cfg Config, logger zerolog.Logger) *throttle {
	return &throttle{
		exec:     exec,
		mode:     mode,
		interval: cfg.MinInterval,
		tracker:  cfg.Tracker,
		logger:   logger.With().Str("component", "ratelimit").Str("mode", string(mode)).Logger(),
	}
}

// run waits out the interval since the previous completion, dispatches d
// and records the completion time once the response was fully read.
func (t *throttle) run(ctx context.Context, d request.Descriptor) (*transport.Response, error) {
	if t.tracker != nil {
		if err := t.tracker.Wait(ctx); err != nil {
			return nil, err
		}
	}

	if !t.last.IsZero() {
		if wait := t.interval - time.Since(t.last); wait > 0 {
			t.throttled.Add(1)
			throttledRequestsTotal.WithLabelValues(string(t.mode)).Inc()
			throttleWaitSeconds.WithLabelValues(string(t.mode)).Observe(wait.Seconds())
			t.logger.Debug().
				Str("resource", d.Resource).
				Dur("wait", wait).
				Msg("Throttling request")
			if err := sleepCtx(ctx, wait); err != nil {
				return nil, err
			}
		}
	}

	t.requests.Add(1)
	dispatchedRequestsTotal.WithLabelValues(string(t.mode)).Inc()
	resp, err := t.exec.Do(ctx, d)
	t.last = time.Now()
	return resp, err
}

func (t *throttle) Stats() Stats {
	return Stats{Requests: t.requests.Load(), Throttled: t.throttled.Load()}
}

// Unthrottled dispatches every request immediately.
type Unthrottled struct {
	exec     Executor
	tracker  *Tracker
	requests atomic.Int64
}

// NewUnthrottled creates a pass-through limiter.
func NewUnthrottled(exec Executor, cfg Config, _ zerolog.Logger) *Unthrottled {
	return &Unthrottled{exec: exec, tracker: cfg.Tracker}
}

// Execute implements Limiter.
func (u *Unthrottled) Execute(ctx context.Context, d request.Descriptor) (*transport.Response, error) {
	if u.tracker != nil {
		if err := u.tracker.Wait(ctx); err != nil {
			return nil, err
		}
	}
	u.requests.Add(1)
	dispatchedRequestsTotal.WithLabelValues(string(ModeNone)).Inc()
	return u.exec.Do(ctx, d)
}

// Stats implements Limiter.
func (u *Unthrottled) Stats() Stats {
	return Stats{Requests: u.requests.Load()}
}

// Close implements Limiter.
func (u *Unthrottled) Close() error { return nil }

// Inline serializes callers on their own goroutines.
type Inline struct {
	*throttle
	sem chan struct{}
}

// NewInline creates an inline limiter.
func NewInline(exec Executor, cfg Config, logger zerolog.Logger) *Inline {
	return &Inline{
		throttle: newThrottle(exec, ModeInline, cfg, logger),
		sem:      make(chan struct{}, 1),
	}
}

// Execute waits for the dispatch slot, then sends d. The slot is held
// until the response has been read, so concurrent callers never overlap.
func (l *Inline) Execute(ctx context.Context, d request.Descriptor) (*transport.Response, error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-l.sem }()

	return l.run(ctx, d)
}

// Close implements Limiter.
func (l *Inline) Close() error { return nil }

// Queued executes requests in FIFO order on one worker goroutine.
type Queued struct {
	*throttle
	jobs chan job

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type job struct {
	ctx    context.Context
	desc   request.Descriptor
	result chan jobResult
}

type jobResult struct {
	resp *transport.Response
	err  error
}

// NewQueued creates a queued limiter and starts its worker.
func NewQueued(exec Executor, cfg Config, logger zerolog.Logger) *Queued {
	size := cfg.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	q := &Queued{
		throttle: newThrottle(exec, ModeQueued, cfg, logger),
		jobs:     make(chan job, size),
		done:     make(chan struct{}),
	}
	q.wg.Add(1)
	go q.worker()
	return q
}

// Execute enqueues d and blocks until the worker has run it, ctx is done,
// or the limiter is closed. A job whose ctx ends while queued is dropped
// by the worker without being sent.
func (q *Queued) Execute(ctx context.Context, d request.Descriptor) (*transport.Response, error) {
	j := job{ctx: ctx, desc: d, result: make(chan jobResult, 1)}

	select {
	case <-q.done:
		return nil, ErrLimiterClosed
	default:
	}

	select {
	case q.jobs <- j:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.done:
		return nil, ErrLimiterClosed
	}

	select {
	case r := <-j.result:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.done:
		return nil, ErrLimiterClosed
	}
}

func (q *Queued) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.done:
			return
		case j := <-q.jobs:
			if err := j.ctx.Err(); err != nil {
				j.result <- jobResult{err: err}
				continue
			}
			resp, err := q.run(j.ctx, j.desc)
			j.result <- jobResult{resp: resp, err: err}
		}
	}
}

// Pending returns the number of queued jobs not yet picked up.
func (q *Queued) Pending() int {
	return len(q.jobs)
}

// Close stops the worker. Queued jobs that have not started fail with
// ErrLimiterClosed.
func (q *Queued) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	q.wg.Wait()
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
