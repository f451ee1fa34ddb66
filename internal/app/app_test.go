package app

import (
	"context"
	"testing"
	"time"

	"github.com/Sternrassler/stackcache/internal/testutil"
	"github.com/Sternrassler/stackcache/pkg/cache"
	"github.com/Sternrassler/stackcache/pkg/config"
	"github.com/Sternrassler/stackcache/pkg/request"
	"github.com/Sternrassler/stackcache/pkg/syncer"
	"github.com/Sternrassler/stackcache/pkg/transport"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(api *testutil.MockAPI) config.Config {
	cfg := config.Default()
	cfg.API.BaseURL = api.URL()
	cfg.Cache.Path = cache.MemoryPath
	cfg.Throttle.Interval = time.Millisecond
	return cfg
}

func TestNew_SyncsAndServesOffline(t *testing.T) {
	api := testutil.NewMockAPI()
	defer api.Close()
	api.SetQuestions("go", 45)

	ctx := context.Background()
	a, err := New(ctx, testConfig(api), zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	q, err := a.Query()
	require.NoError(t, err)

	res, err := a.Controller.Refresh(ctx, "go", q)
	require.NoError(t, err)
	assert.Equal(t, syncer.OutcomeFresh, res.Outcome)
	assert.Len(t, res.Items, 45)
	assert.Equal(t, []int{1, 2}, api.PagesRequested("go"))

	reqs := api.Requests()
	require.NotEmpty(t, reqs)
	assert.Equal(t, "stackcache/"+Version, reqs[0].Header.Get("User-Agent"))
	assert.Equal(t, 30, reqs[0].PageSize)

	require.NoError(t, a.Controller.SetMode(syncer.ModeOffline))
	res, err = a.Controller.Refresh(ctx, "go", q)
	require.NoError(t, err)
	assert.Equal(t, syncer.OutcomeCached, res.Outcome)
	assert.Len(t, res.Items, 45)
	assert.Equal(t, 2, api.GetRequestCount(), "offline reads never hit the network")
}

func TestNew_UserAgentWithKey(t *testing.T) {
	api := testutil.NewMockAPI()
	defer api.Close()
	api.SetQuestions("go", 1)

	cfg := testConfig(api)
	cfg.API.Key = "k3y"

	a, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	q, err := a.Query()
	require.NoError(t, err)
	_, err = a.Controller.Refresh(context.Background(), "go", q)
	require.NoError(t, err)

	reqs := api.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, transport.UserAgentFor(Version, "k3y"), reqs[0].Header.Get("User-Agent"))
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Sync.PageSize = 0

	_, err := New(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestNew_RedisUnreachable(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.Backend = config.BackendRedis
	cfg.Cache.RedisAddr = "127.0.0.1:1"

	_, err := New(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect to redis")
}

func TestQuery_AppliesConfig(t *testing.T) {
	api := testutil.NewMockAPI()
	defer api.Close()

	cfg := testConfig(api)
	cfg.Sync.Sort = "votes"
	cfg.Sync.Order = "asc"
	cfg.Sync.PageSize = 50
	cfg.API.Site = "superuser"

	a, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	q, err := a.Query(request.WithTagged("linux"), request.WithPageSize(10))
	require.NoError(t, err)

	require.NotNil(t, q.Sort)
	assert.Equal(t, "votes", q.Sort.Name)
	assert.Equal(t, request.OrderAsc, q.Order)
	assert.Equal(t, "superuser", q.Site)
	assert.Equal(t, "withbody", q.Filter)
	assert.Equal(t, []string{"linux"}, q.Tagged)
	assert.Equal(t, 10, q.PageSize, "caller options win over config")
}

func TestRetryPolicy(t *testing.T) {
	tests := []struct {
		name     string
		attempts int
		class    transport.ErrorClass
		want     int
	}{
		{"disabled", 1, transport.ErrorClassServer, 1},
		{"zero means disabled", 0, transport.ErrorClassNetwork, 1},
		{"server", 4, transport.ErrorClassServer, 4},
		{"rate limit", 2, transport.ErrorClassRateLimit, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := RetryPolicy(tt.attempts)(tt.class)
			assert.Equal(t, tt.want, rc.MaxAttempts)
		})
	}

	rc := RetryPolicy(3)(transport.ErrorClassRateLimit)
	assert.Equal(t, transport.RetryConfigForErrorClass(transport.ErrorClassRateLimit).InitialBackoff, rc.InitialBackoff)
}

func TestClose(t *testing.T) {
	api := testutil.NewMockAPI()
	defer api.Close()

	a, err := New(context.Background(), testConfig(api), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, a.Close())
}
