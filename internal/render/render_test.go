package render

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/stackcache/internal/testutil"
	"github.com/Sternrassler/stackcache/pkg/cache"
	"github.com/Sternrassler/stackcache/pkg/syncer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTMLText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "just text", "just text"},
		{"whitespace", "  a \n\t b  ", "a b"},
		{"inline tags", "<p>Body of <b>question 3</b></p>", "Body of question 3"},
		{"entities", "Tom &amp; Jerry&#39;s", "Tom & Jerry's"},
		{"paragraphs", "<p>one</p><p>two</p>", "one two"},
		{"code", "<pre><code>x := 1</code></pre><p>done</p>", "x := 1 done"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTMLText(tt.in))
		})
	}
}

func TestExcerpt(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is too long", 10, "this is..."},
		{"äöüäöüäöü", 5, "äö..."},
		{"abc", 0, "abc"},
		{"abcdef", 2, "ab"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Excerpt(tt.in, tt.n), "Excerpt(%q, %d)", tt.in, tt.n)
	}
}

func TestDecodeQuestion(t *testing.T) {
	q, err := DecodeQuestion(testutil.Questions("go", 3)[0])
	require.NoError(t, err)
	assert.Equal(t, int64(1), q.ID)
	assert.Equal(t, "go question 1", q.Title)
	assert.Equal(t, []string{"go"}, q.Tags)
	assert.Equal(t, 3, q.Score)

	_, err = DecodeQuestion(json.RawMessage(`[1,2]`))
	assert.Error(t, err)
}

func TestItems(t *testing.T) {
	items := testutil.Questions("go", 2)
	items = append(items, json.RawMessage(`"not an object"`))

	var buf bytes.Buffer
	require.NoError(t, Items(&buf, items, ItemsOptions{Body: true, Title: "go"}))
	out := buf.String()

	assert.Contains(t, out, "go question 1")
	assert.Contains(t, out, "go question 2")
	assert.Contains(t, out, "Body of question 1")
	assert.NotContains(t, out, "<b>")
	assert.Contains(t, out, `"not an object"`)
	assert.Contains(t, strings.ToUpper(out), "3 ITEMS")
	assert.Contains(t, strings.ToUpper(out), "ANSWERED")
}

func TestItems_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Items(&buf, nil, ItemsOptions{}))
	assert.Contains(t, strings.ToUpper(buf.String()), "0 ITEMS")
}

func TestAnswers(t *testing.T) {
	items := testutil.Answers(7, 2)

	var buf bytes.Buffer
	require.NoError(t, Answers(&buf, items, ItemsOptions{Title: "answers_7"}))
	out := buf.String()

	assert.Contains(t, out, "Answer 1 to question 7")
	assert.Contains(t, out, "7001")
	assert.NotContains(t, out, "<p>")
	assert.Contains(t, out, "yes", "the first answer is accepted")
	assert.Contains(t, strings.ToUpper(out), "2 ANSWERS")
}

func TestDecodeAnswer(t *testing.T) {
	a, err := DecodeAnswer(testutil.Answers(7, 1)[0])
	require.NoError(t, err)
	assert.Equal(t, int64(7001), a.ID)
	assert.Equal(t, int64(7), a.QuestionID)
	assert.True(t, a.IsAccepted)

	_, err = DecodeAnswer(json.RawMessage(`[1]`))
	assert.Error(t, err)
}

func TestPartitions(t *testing.T) {
	infos := []cache.PartitionInfo{
		{Key: "go", Items: 45, SchemaVersion: cache.SchemaVersion, UpdatedAt: time.Now()},
		{Key: "google_maps", Items: 5, SchemaVersion: cache.SchemaVersion},
	}

	var buf bytes.Buffer
	require.NoError(t, Partitions(&buf, infos))
	out := buf.String()

	assert.Contains(t, out, "google_maps")
	assert.Contains(t, out, "45")
	assert.Contains(t, strings.ToUpper(out), "2 PARTITIONS")
	assert.Contains(t, out, "50")
}

func TestSyncResults(t *testing.T) {
	results := []syncer.Result{
		{Key: "go", Outcome: syncer.OutcomeFresh, Items: testutil.Questions("go", 3), Pages: 1},
		{Key: "rust", Outcome: syncer.OutcomeDegraded, Items: testutil.Questions("rust", 1), FetchErr: errors.New("connection refused")},
		{Key: "java"},
	}
	errs := []error{nil, nil, errors.New("fetch partition: boom")}

	var buf bytes.Buffer
	require.NoError(t, SyncResults(&buf, results, errs))
	out := buf.String()

	assert.Contains(t, out, "fresh")
	assert.Contains(t, out, "degraded")
	assert.Contains(t, out, "fetch failed: connection refused")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "fetch partition: boom")
}
