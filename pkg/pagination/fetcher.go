package pagination

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sternrassler/stackcache/pkg/ratelimit"
	"github.com/Sternrassler/stackcache/pkg/request"
	"github.com/Sternrassler/stackcache/pkg/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for page fetching.
var (
	pagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stackcache_pages_fetched_total",
		Help: "Total pages fetched and parsed by resource",
	}, []string{"resource"})

	itemsFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stackcache_items_fetched_total",
		Help: "Total items received in fetched pages by resource",
	}, []string{"resource"})

	parseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stackcache_parse_errors_total",
		Help: "Total page bodies rejected by the envelope parser by resource",
	}, []string{"resource"})
)

// apiThrottleViolation is the error_name the API uses when a client exceeds
// its request rate.
const apiThrottleViolation = "throttle_violation"

// Dispatcher sends one request. ratelimit.Limiter implements it.
type Dispatcher interface {
	Execute(ctx context.Context, d request.Descriptor) (*transport.Response, error)
}

// FetcherConfig configures a Fetcher.
type FetcherConfig struct {
	// ItemsField names the envelope member holding the items.
	ItemsField string

	// Retry is applied around each page request. Nil disables retries.
	Retry transport.RetryPolicy

	// Tracker receives the quota fields of every parsed envelope.
	Tracker *ratelimit.Tracker
}

// Fetcher performs one page round trip and parses the envelope.
type Fetcher struct {
	dispatcher Dispatcher
	config     FetcherConfig
	logger     zerolog.Logger
}

// NewFetcher creates a Fetcher sending requests through dispatcher.
func NewFetcher(dispatcher Dispatcher, cfg FetcherConfig, logger zerolog.Logger) *Fetcher {
	if cfg.ItemsField == "" {
		cfg.ItemsField = DefaultItemsField
	}
	if cfg.Retry == nil {
		cfg.Retry = transport.NoRetry()
	}
	return &Fetcher{
		dispatcher: dispatcher,
		config:     cfg,
		logger:     logger.With().Str("component", "pagination").Logger(),
	}
}

// FetchPage requests d and returns its parsed envelope. Errors are
// *transport.Error (network or protocol) or *ParseError.
func (f *Fetcher) FetchPage(ctx context.Context, d request.Descriptor) (*Envelope, error) {
	page := d.Page()

	var env *Envelope
	err := transport.Retry(ctx, f.config.Retry, func() error {
		resp, err := f.dispatcher.Execute(ctx, d)
		if err != nil {
			return f.enrich(err)
		}

		body, err := decodeBody(resp.ContentEncoding, resp.Body)
		if err != nil {
			return transport.NetworkError("decode "+resp.ContentEncoding+" body", err)
		}

		env, err = parseEnvelope(body, f.config.ItemsField, page, d.PageSize())
		return err
	})
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			parseErrorsTotal.WithLabelValues(d.Resource).Inc()
		}
		f.logger.Warn().
			Err(err).
			Str("resource", d.Resource).
			Int("page", page).
			Str("error_class", string(transport.ClassOf(err))).
			Msg("Page fetch failed")
		return nil, err
	}

	pagesFetchedTotal.WithLabelValues(d.Resource).Inc()
	itemsFetchedTotal.WithLabelValues(d.Resource).Add(float64(len(env.Items)))

	if f.config.Tracker != nil {
		obs := ratelimit.Observation{
			QuotaRemaining: env.QuotaRemaining,
			QuotaMax:       env.QuotaMax,
			Backoff:        env.Backoff,
		}
		if err := f.config.Tracker.Observe(ctx, obs); err != nil {
			f.logger.Warn().Err(err).Msg("Failed to record quota state")
		}
	}

	f.logger.Debug().
		Str("resource", d.Resource).
		Int("page", env.Page).
		Int("page_size", env.PageSize).
		Int("items", len(env.Items)).
		Int("total", env.Total).
		Int("quota_remaining", env.QuotaRemaining).
		Msg("Fetched page")

	return env, nil
}

// enrich adds the API's own error description to a protocol error and
// reclassifies throttle violations as rate limiting.
func (f *Fetcher) enrich(err error) error {
	var te *transport.Error
	if !errors.As(err, &te) || len(te.Body) == 0 {
		return err
	}

	body, decErr := decodeBody(te.ContentEncoding, te.Body)
	if decErr != nil {
		return err
	}
	apiErr, ok := parseAPIError(body)
	if !ok {
		return err
	}

	if apiErr.Name == apiThrottleViolation {
		te.Class = transport.ErrorClassRateLimit
	}
	te.Message = fmt.Sprintf("%s: %s (%s)", te.Message, apiErr.Message, apiErr.Name)
	return te
}

// FetchFunc fetches one page of a resource. It is the only thing a
// Sequence knows about where its data comes from.
type FetchFunc func(ctx context.Context, page, pageSize int) (*Envelope, error)

// PageFetcher is the FetchPage capability of a Fetcher.
type PageFetcher interface {
	FetchPage(ctx context.Context, d request.Descriptor) (*Envelope, error)
}

// FetcherFunc adapts a PageFetcher and a base Descriptor into a FetchFunc
// by rewriting the page and pagesize parameters.
func FetcherFunc(f PageFetcher, base request.Descriptor) FetchFunc {
	return func(ctx context.Context, page, pageSize int) (*Envelope, error) {
		return f.FetchPage(ctx, base.WithPage(page, pageSize))
	}
}
