package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/stackcache/pkg/request"
	"github.com/Sternrassler/stackcache/pkg/transport"
	"github.com/rs/zerolog"
)

// recordingExecutor remembers when each request started and finished.
type recordingExecutor struct {
	mu       sync.Mutex
	starts   []time.Time
	ends     []time.Time
	pages    []string
	inFlight int
	overlap  bool
	delay    time.Duration
	err      error
	gate     chan struct{}
}

func (r *recordingExecutor) started() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.starts)
}

func (r *recordingExecutor) Do(ctx context.Context, d request.Descriptor) (*transport.Response, error) {
	r.mu.Lock()
	r.inFlight++
	if r.inFlight > 1 {
		r.overlap = true
	}
	r.starts = append(r.starts, time.Now())
	r.pages = append(r.pages, d.Params.Get("page"))
	r.mu.Unlock()

	if r.gate != nil {
		<-r.gate
	}
	if r.delay > 0 {
		time.Sleep(r.delay)
	}

	r.mu.Lock()
	r.inFlight--
	r.ends = append(r.ends, time.Now())
	r.mu.Unlock()

	if r.err != nil {
		return nil, r.err
	}
	return &transport.Response{StatusCode: 200, Body: []byte(`{"items":[]}`)}, nil
}

func descriptor(page int) request.Descriptor {
	return request.Descriptor{Resource: "search"}.With("page", strconv.Itoa(page))
}

func assertSpacing(t *testing.T, exec *recordingExecutor, interval time.Duration) {
	t.Helper()

	exec.mu.Lock()
	defer exec.mu.Unlock()
	for i := 1; i < len(exec.starts); i++ {
		gap := exec.starts[i].Sub(exec.ends[i-1])
		if gap < interval {
			t.Errorf("request %d started %v after previous completion, want >= %v", i, gap, interval)
		}
	}
	if exec.overlap {
		t.Error("requests overlapped")
	}
}

func TestNew_SelectsMode(t *testing.T) {
	exec := &recordingExecutor{}
	tests := []struct {
		mode    Mode
		wantErr bool
	}{
		{ModeInline, false},
		{ModeQueued, false},
		{ModeNone, false},
		{"", false},
		{"threaded", true},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Mode = tt.mode
			limiter, err := New(exec, cfg, zerolog.Nop())
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			defer limiter.Close()

			switch tt.mode {
			case ModeQueued:
				if _, ok := limiter.(*Queued); !ok {
					t.Errorf("got %T, want *Queued", limiter)
				}
			case ModeNone:
				if _, ok := limiter.(*Unthrottled); !ok {
					t.Errorf("got %T, want *Unthrottled", limiter)
				}
			default:
				if _, ok := limiter.(*Inline); !ok {
					t.Errorf("got %T, want *Inline", limiter)
				}
			}
		})
	}

	if _, err := New(nil, DefaultConfig(), zerolog.Nop()); err == nil {
		t.Error("Expected error for nil executor")
	}
}

func TestParseMode(t *testing.T) {
	for _, name := range []string{"inline", "queued", "none"} {
		if _, err := ParseMode(name); err != nil {
			t.Errorf("ParseMode(%q) error = %v", name, err)
		}
	}
	if _, err := ParseMode("NON_THREADED"); err == nil {
		t.Error("Expected error for unknown mode")
	}
}

func TestInline_SpacingUnderConcurrency(t *testing.T) {
	const interval = 40 * time.Millisecond
	exec := &recordingExecutor{delay: 5 * time.Millisecond}
	limiter := NewInline(exec, Config{MinInterval: interval}, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 1; i <= 5; i++ {
		wg.Add(1)
		go func(page int) {
			defer wg.Done()
			if _, err := limiter.Execute(context.Background(), descriptor(page)); err != nil {
				t.Errorf("Execute() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	assertSpacing(t, exec, interval)

	stats := limiter.Stats()
	if stats.Requests != 5 {
		t.Errorf("Requests = %d, want 5", stats.Requests)
	}
	if stats.Throttled != 4 {
		t.Errorf("Throttled = %d, want 4", stats.Throttled)
	}
}

func TestInline_FirstRequestNotDelayed(t *testing.T) {
	exec := &recordingExecutor{}
	limiter := NewInline(exec, Config{MinInterval: time.Second}, zerolog.Nop())

	start := time.Now()
	if _, err := limiter.Execute(context.Background(), descriptor(1)); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("first request waited %v", elapsed)
	}
	if limiter.Stats().Throttled != 0 {
		t.Error("first request should not count as throttled")
	}
}

func TestInline_StampsAfterFailure(t *testing.T) {
	const interval = 30 * time.Millisecond
	exec := &recordingExecutor{err: transport.NetworkError("request failed", errors.New("reset"))}
	limiter := NewInline(exec, Config{MinInterval: interval}, zerolog.Nop())

	for i := 1; i <= 3; i++ {
		_, err := limiter.Execute(context.Background(), descriptor(i))
		if !errors.Is(err, transport.ErrTransport) {
			t.Fatalf("Execute() error = %v, want transport error", err)
		}
	}

	assertSpacing(t, exec, interval)
}

func TestInline_ContextCancelledWhileWaiting(t *testing.T) {
	exec := &recordingExecutor{}
	limiter := NewInline(exec, Config{MinInterval: time.Second}, zerolog.Nop())

	if _, err := limiter.Execute(context.Background(), descriptor(1)); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := limiter.Execute(ctx, descriptor(2))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Execute() error = %v, want deadline exceeded", err)
	}
	if limiter.Stats().Requests != 1 {
		t.Errorf("Requests = %d, want 1", limiter.Stats().Requests)
	}
}

func TestQueued_FIFOAndSpacing(t *testing.T) {
	const interval = 30 * time.Millisecond
	exec := &recordingExecutor{gate: make(chan struct{})}
	limiter := NewQueued(exec, Config{MinInterval: interval, QueueSize: 8}, zerolog.Nop())
	defer limiter.Close()

	results := make(chan error, 4)
	submit := func(page int) {
		go func() {
			_, err := limiter.Execute(context.Background(), descriptor(page))
			results <- err
		}()
	}

	// The worker picks up page 1 and blocks on the gate; the rest queue
	// behind it in submission order.
	submit(1)
	waitFor(t, func() bool { return exec.started() == 1 })
	for page := 2; page <= 4; page++ {
		submit(page)
		want := page - 1
		waitFor(t, func() bool { return limiter.Pending() == want })
	}
	close(exec.gate)

	for i := 0; i < 4; i++ {
		if err := <-results; err != nil {
			t.Errorf("Execute() error = %v", err)
		}
	}

	assertSpacing(t, exec, interval)

	exec.mu.Lock()
	defer exec.mu.Unlock()
	for i, page := range exec.pages {
		if page != strconv.Itoa(i+1) {
			t.Errorf("dispatch %d was page %s, want %d", i, page, i+1)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestQueued_ContextCancelledInQueue(t *testing.T) {
	exec := &recordingExecutor{delay: 50 * time.Millisecond}
	limiter := NewQueued(exec, Config{MinInterval: 0}, zerolog.Nop())
	defer limiter.Close()

	go limiter.Execute(context.Background(), descriptor(1))
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := limiter.Execute(ctx, descriptor(2))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Execute() error = %v, want context.Canceled", err)
	}

	time.Sleep(100 * time.Millisecond)
	exec.mu.Lock()
	defer exec.mu.Unlock()
	for _, page := range exec.pages {
		if page == "2" {
			t.Error("cancelled job was dispatched")
		}
	}
}

func TestQueued_Close(t *testing.T) {
	exec := &recordingExecutor{}
	limiter := NewQueued(exec, DefaultConfig(), zerolog.Nop())

	if err := limiter.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := limiter.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	_, err := limiter.Execute(context.Background(), descriptor(1))
	if !errors.Is(err, ErrLimiterClosed) {
		t.Errorf("Execute() after Close error = %v, want ErrLimiterClosed", err)
	}
}

func TestUnthrottled_PassThrough(t *testing.T) {
	exec := &recordingExecutor{}
	limiter := NewUnthrottled(exec, Config{}, zerolog.Nop())

	start := time.Now()
	for i := 1; i <= 10; i++ {
		if _, err := limiter.Execute(context.Background(), descriptor(i)); err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("unthrottled requests took %v", elapsed)
	}
	if got := limiter.Stats(); got.Requests != 10 || got.Throttled != 0 {
		t.Errorf("Stats() = %+v", got)
	}
}

func TestLimiter_RefusesWhenQuotaExhausted(t *testing.T) {
	tracker := NewTracker(nil, DefaultThresholds(), zerolog.Nop())
	if err := tracker.Observe(context.Background(), Observation{QuotaRemaining: 0, QuotaMax: 300}); err != nil {
		t.Fatalf("Observe() error = %v", err)
	}

	exec := &recordingExecutor{}
	limiter := NewInline(exec, Config{MinInterval: DefaultInterval, Tracker: tracker}, zerolog.Nop())

	_, err := limiter.Execute(context.Background(), descriptor(1))
	if !errors.Is(err, ErrQuotaExhausted) {
		t.Errorf("Execute() error = %v, want ErrQuotaExhausted", err)
	}
	if len(exec.starts) != 0 {
		t.Error("request dispatched despite exhausted quota")
	}
}
