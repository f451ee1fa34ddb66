package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Sternrassler/stackcache/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupEnv points the configuration at api and a fresh cache file.
func setupEnv(t *testing.T, api *testutil.MockAPI) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("STACKCACHE_API_BASE_URL", api.URL())
	t.Setenv("STACKCACHE_CACHE_PATH", filepath.Join(dir, "cache", "stackcache.db"))
	t.Setenv("STACKCACHE_THROTTLE_INTERVAL", "1ms")
	return dir
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := newRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestSyncShowPartitions(t *testing.T) {
	api := testutil.NewMockAPI()
	defer api.Close()
	api.SetQuestions("go", 45)
	api.SetQuestions("google-maps", 3)
	setupEnv(t, api)

	out, _, err := run(t, "sync", "go", "Google Maps")
	require.NoError(t, err)
	assert.Contains(t, out, "google_maps")
	assert.Equal(t, 2, strings.Count(out, "fresh"))
	assert.Equal(t, 3, api.GetRequestCount())

	api.FailAll(testutil.NewServerErrorResponse())

	out, _, err = run(t, "show", "go", "--offline", "--body", "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "go question 1")
	assert.Contains(t, out, "go question 5")
	assert.NotContains(t, out, "go question 6")
	assert.Contains(t, out, "Body of question 1")
	assert.Contains(t, out, "cached")

	out, _, err = run(t, "partitions")
	require.NoError(t, err)
	assert.Contains(t, out, "go")
	assert.Contains(t, out, "google_maps")
	assert.Contains(t, out, "45")

	out, _, err = run(t, "partitions", "delete", "Google Maps")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted google_maps")

	out, _, err = run(t, "ls")
	require.NoError(t, err)
	assert.NotContains(t, out, "google_maps")
}

func TestShow_FallsBackToCache(t *testing.T) {
	api := testutil.NewMockAPI()
	defer api.Close()
	api.SetQuestions("rust", 4)
	setupEnv(t, api)

	_, _, err := run(t, "sync", "rust")
	require.NoError(t, err)

	api.FailAll(testutil.NewServerErrorResponse())
	out, _, err := run(t, "show", "rust")
	require.NoError(t, err)
	assert.Contains(t, out, "degraded")
	assert.Contains(t, out, "rust question 4")
}

func TestShow_JSON(t *testing.T) {
	api := testutil.NewMockAPI()
	defer api.Close()
	api.SetQuestions("go", 2)
	setupEnv(t, api)

	out, _, err := run(t, "show", "go", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"question_id": 1`)
	assert.Contains(t, out, `"question_id": 2`)
}

func TestShow_NoCachedData(t *testing.T) {
	api := testutil.NewMockAPI()
	defer api.Close()
	setupEnv(t, api)

	_, stderr, err := run(t, "show", "haskell", "--offline")
	require.NoError(t, err)
	assert.Contains(t, stderr, `No cached data for "haskell"`)
	assert.Equal(t, 0, api.GetRequestCount())
}

func TestAnswers(t *testing.T) {
	api := testutil.NewMockAPI()
	defer api.Close()
	api.SetAnswers(4711, 45)
	setupEnv(t, api)

	out, _, err := run(t, "answers", "4711")
	require.NoError(t, err)
	assert.Contains(t, out, "Answer 1 to question 4711")
	assert.Contains(t, out, "fresh")
	assert.Equal(t, []int{1, 2}, api.PagesRequested(testutil.AnswersDataset(4711)))

	api.FailAll(testutil.NewServerErrorResponse())

	out, _, err = run(t, "answers", "4711", "--offline", "--limit", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "cached")
	assert.Contains(t, out, "Answer 3 to question 4711")
	assert.NotContains(t, out, "Answer 4 to question 4711")

	out, _, err = run(t, "partitions")
	require.NoError(t, err)
	assert.Contains(t, out, "answers_4711")
}

func TestAnswers_NotCached(t *testing.T) {
	api := testutil.NewMockAPI()
	defer api.Close()
	setupEnv(t, api)

	_, stderr, err := run(t, "answers", "99", "--offline")
	require.NoError(t, err)
	assert.Contains(t, stderr, "stackcache answers 99")
	assert.Zero(t, api.GetRequestCount())
}

func TestAnswers_InvalidID(t *testing.T) {
	api := testutil.NewMockAPI()
	defer api.Close()
	setupEnv(t, api)

	_, _, err := run(t, "answers", "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "positive integer")
	assert.Zero(t, api.GetRequestCount())
}

func TestSync_Failure(t *testing.T) {
	api := testutil.NewMockAPI()
	defer api.Close()
	api.SetQuestions("go", 3)
	api.FailAll(testutil.NewServerErrorResponse())
	setupEnv(t, api)

	out, _, err := run(t, "sync", "go")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 partitions failed")
	assert.Contains(t, out, "failed")
}

func TestSync_RequiresTag(t *testing.T) {
	_, _, err := run(t, "sync")
	assert.Error(t, err)
}

func TestConfigInit(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	out, _, err := run(t, "config", "init", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "base_url: https://api.stackexchange.com")

	out, _, err = run(t, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote stackcache.yaml")
	_, err = os.Stat(filepath.Join(dir, "stackcache.yaml"))
	require.NoError(t, err)

	_, _, err = run(t, "config", "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, _, err = run(t, "config", "init", "--force")
	require.NoError(t, err)
}

func TestConfigShow(t *testing.T) {
	api := testutil.NewMockAPI()
	defer api.Close()
	setupEnv(t, api)
	t.Setenv("STACKCACHE_SYNC_PAGE_SIZE", "77")

	out, _, err := run(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "page_size: 77")
	assert.Contains(t, out, "base_url: "+api.URL())
}

func TestVersion(t *testing.T) {
	out, _, err := run(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, version)
}
