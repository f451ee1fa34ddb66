package pagination

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/Sternrassler/stackcache/internal/testutil"
	"github.com/Sternrassler/stackcache/pkg/ratelimit"
	"github.com/Sternrassler/stackcache/pkg/request"
	"github.com/Sternrassler/stackcache/pkg/transport"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fetcherFixture struct {
	api     *testutil.MockAPI
	fetcher *Fetcher
	base    request.Descriptor
	tracker *ratelimit.Tracker
}

func newFetcherFixture(t *testing.T, retry transport.RetryPolicy) *fetcherFixture {
	t.Helper()

	api := testutil.NewMockAPI()
	t.Cleanup(api.Close)

	client, err := transport.New(transport.DefaultConfig("stackcache-test"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	tracker := ratelimit.NewTracker(nil, ratelimit.DefaultThresholds(), zerolog.Nop())
	limiter := ratelimit.NewUnthrottled(client, ratelimit.Config{}, zerolog.Nop())

	q, err := request.NewQuery(request.WithTagged("go"), request.WithSite("stackoverflow"))
	require.NoError(t, err)
	base, err := request.Build(api.URL(), "2.2", "search", "", q)
	require.NoError(t, err)

	f := NewFetcher(limiter, FetcherConfig{Retry: retry, Tracker: tracker}, zerolog.Nop())
	return &fetcherFixture{api: api, fetcher: f, base: base, tracker: tracker}
}

func fastRetry(attempts int) transport.RetryPolicy {
	return transport.FixedPolicy(transport.RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2,
	})
}

func TestFetchPage(t *testing.T) {
	fx := newFetcherFixture(t, nil)
	fx.api.SetQuestions("go", 45)

	env, err := fx.fetcher.FetchPage(context.Background(), fx.base.WithPage(2, 20))
	require.NoError(t, err)

	assert.Len(t, env.Items, 20)
	assert.Equal(t, 45, env.Total)
	assert.Equal(t, 2, env.Page)
	assert.Equal(t, 20, env.PageSize)
	require.NotNil(t, env.HasMore)
	assert.True(t, *env.HasMore)
	assert.Contains(t, string(env.Items[0]), `"question_id":21`)

	reqs := fx.api.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/2.2/search", reqs[0].Path)
	assert.Equal(t, 2, reqs[0].Page)
	assert.Equal(t, 20, reqs[0].PageSize)
	assert.Equal(t, "go", reqs[0].Tagged)
	assert.Equal(t, transport.DefaultAcceptEncoding, reqs[0].Header.Get("Accept-Encoding"))
}

func TestFetchPage_Encodings(t *testing.T) {
	for _, enc := range []string{testutil.EncodingGzip, testutil.EncodingDeflate, testutil.EncodingRawDeflate} {
		t.Run(enc, func(t *testing.T) {
			fx := newFetcherFixture(t, nil)
			fx.api.SetQuestions("go", 5)
			fx.api.SetEncoding(enc)

			env, err := fx.fetcher.FetchPage(context.Background(), fx.base.WithPage(1, 10))
			require.NoError(t, err)
			assert.Len(t, env.Items, 5)
			assert.Equal(t, 5, env.Total)
		})
	}
}

func TestFetchPage_ObservesQuota(t *testing.T) {
	fx := newFetcherFixture(t, nil)
	fx.api.SetQuestions("go", 3)
	fx.api.SetQuota(42)

	_, err := fx.fetcher.FetchPage(context.Background(), fx.base.WithPage(1, 10))
	require.NoError(t, err)

	state, err := fx.tracker.GetState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, state.Remaining)
	assert.Equal(t, 10000, state.Max)
}

func TestFetchPage_ObservesBackoff(t *testing.T) {
	fx := newFetcherFixture(t, nil)
	fx.api.SetQuestions("go", 3)
	fx.api.SetBackoff(5)

	_, err := fx.fetcher.FetchPage(context.Background(), fx.base.WithPage(1, 10))
	require.NoError(t, err)

	state, err := fx.tracker.GetState(context.Background())
	require.NoError(t, err)
	assert.Greater(t, state.BackoffRemaining(), 4*time.Second)
}

func TestFetchPage_MalformedBody(t *testing.T) {
	fx := newFetcherFixture(t, fastRetry(3))
	fx.api.FailAll(testutil.NewMalformedResponse())

	_, err := fx.fetcher.FetchPage(context.Background(), fx.base.WithPage(1, 10))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrParse)
	assert.Equal(t, 1, fx.api.GetRequestCount(), "parse errors are not retried")
}

func TestFetchPage_APIErrorEnriched(t *testing.T) {
	fx := newFetcherFixture(t, fastRetry(3))
	fx.api.FailAll(testutil.NewAPIErrorResponse(http.StatusBadRequest, 400, "bad_parameter", "sort is invalid"))

	_, err := fx.fetcher.FetchPage(context.Background(), fx.base.WithPage(1, 10))

	var te *transport.Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, transport.ErrorClassClient, te.Class)
	assert.Equal(t, http.StatusBadRequest, te.StatusCode)
	assert.Contains(t, te.Message, "sort is invalid (bad_parameter)")
	assert.ErrorIs(t, err, transport.ErrProtocol)
	assert.Equal(t, 1, fx.api.GetRequestCount(), "client errors are not retried")
}

func TestFetchPage_ThrottleViolationIsRateLimit(t *testing.T) {
	fx := newFetcherFixture(t, fastRetry(2))
	fx.api.FailAll(testutil.NewThrottleViolationResponse())

	_, err := fx.fetcher.FetchPage(context.Background(), fx.base.WithPage(1, 10))
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrRetryExhausted)
	assert.Equal(t, transport.ErrorClassRateLimit, transport.ClassOf(err))
	assert.Equal(t, 2, fx.api.GetRequestCount())
}

func TestFetchPage_RetriesServerErrors(t *testing.T) {
	fx := newFetcherFixture(t, fastRetry(3))
	fx.api.SetQuestions("go", 5)
	fx.api.FailRequest(1, testutil.NewServerErrorResponse())
	fx.api.FailRequest(2, testutil.NewRateLimitResponse())

	env, err := fx.fetcher.FetchPage(context.Background(), fx.base.WithPage(1, 10))
	require.NoError(t, err)
	assert.Len(t, env.Items, 5)
	assert.Equal(t, 3, fx.api.GetRequestCount())
}

func TestFetchPage_NetworkError(t *testing.T) {
	fx := newFetcherFixture(t, nil)
	fx.api.Close()

	_, err := fx.fetcher.FetchPage(context.Background(), fx.base.WithPage(1, 10))
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrTransport)
	assert.False(t, errors.Is(err, ErrParse))
}

func TestSequence_OverFetcher(t *testing.T) {
	fx := newFetcherFixture(t, nil)
	fx.api.SetQuestions("go", 45)

	seq, err := NewSequence(FetcherFunc(fx.fetcher, fx.base), NewCursor(20))
	require.NoError(t, err)

	items, err := seq.Materialize(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 45)
	assert.Equal(t, []int{1, 2, 3}, fx.api.PagesRequested("go"))
}

func TestSequence_OverFetcherWithoutTotals(t *testing.T) {
	fx := newFetcherFixture(t, nil)
	fx.api.SetQuestions("go", 47)
	fx.api.SetReportTotal(false)
	fx.api.SetReportHasMore(false)

	seq, err := NewSequence(FetcherFunc(fx.fetcher, fx.base), NewCursor(20))
	require.NoError(t, err)

	n, err := seq.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20, n)

	items, err := seq.Materialize(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 47)
	assert.Equal(t, []int{1, 2, 3}, fx.api.PagesRequested("go"))
}
