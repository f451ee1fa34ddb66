package request

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_PathSeparators(t *testing.T) {
	q := Query{PageSize: 10}

	tests := []struct {
		name     string
		base     string
		version  string
		resource string
		want     string
	}{
		{"plain", "api.stackexchange.com", "2.2", "search", "https://api.stackexchange.com/2.2/search"},
		{"trailing base slash", "api.stackexchange.com/", "2.2", "search", "https://api.stackexchange.com/2.2/search"},
		{"slashes everywhere", "https://api.stackexchange.com/", "/2.2/", "/search", "https://api.stackexchange.com/2.2/search"},
		{"nested resource", "http://localhost:9000", "2.2", "questions/unanswered/", "http://localhost:9000/2.2/questions/unanswered"},
		{"no version", "localhost:9000", "", "search", "https://localhost:9000/search"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Build(tt.base, tt.version, tt.resource, "", q)
			require.NoError(t, err)
			assert.Equal(t, tt.want+"?fromdate=0&pagesize=10&todate=0", d.URL)
		})
	}
}

func TestBuild_KeyFirstAndSorted(t *testing.T) {
	q, err := NewQuery(WithTagged("java"), WithSite("stackoverflow"))
	require.NoError(t, err)

	d, err := Build("api.stackexchange.com", "2.2", "search", "secret key", q)
	require.NoError(t, err)

	assert.Equal(t,
		"https://api.stackexchange.com/2.2/search?key=secret+key&fromdate=0&max=253402300799&min=0&order=desc&page=1&pagesize=30&site=stackoverflow&sort=activity&tagged=java&todate=253402300799",
		d.URL)
}

func TestBuild_Deterministic(t *testing.T) {
	q, err := NewQuery(WithTagged("go", "redis"), WithParam("body", "true"), WithParam("answers", "false"))
	require.NoError(t, err)

	first, err := Build("api.example.com", "2.2", "search", "k", q)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := Build("api.example.com", "2.2", "search", "k", q)
		require.NoError(t, err)
		assert.Equal(t, first.URL, again.URL)
	}
}

func TestBuild_EncodesValues(t *testing.T) {
	q, err := NewQuery(WithInTitle("c++ & rust?"), WithTagged("c#"))
	require.NoError(t, err)

	d, err := Build("api.example.com", "2.2", "search", "", q)
	require.NoError(t, err)

	assert.Contains(t, d.URL, "intitle=c%2B%2B+%26+rust%3F")
	assert.Contains(t, d.URL, "tagged=c%23")
	assert.NotContains(t, d.URL, "key=")
}

func TestBuild_MissingParameters(t *testing.T) {
	tests := []struct {
		name     string
		resource string
		opts     []Option
		param    string
	}{
		{"ids required", "questions/{ids}/answers", nil, "ids"},
		{"tags required", "tags/{tags}/info", nil, "tags"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := NewQuery(tt.opts...)
			require.NoError(t, err)

			_, err = Build("api.example.com", "2.2", tt.resource, "", q)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMissingParameter))

			var mpe *MissingParameterError
			require.True(t, errors.As(err, &mpe))
			assert.Equal(t, tt.param, mpe.Param)
		})
	}
}

func TestBuild_SubstitutesTemplates(t *testing.T) {
	q, err := NewQuery(WithIDs(11, 22, 33), WithTagged("go"))
	require.NoError(t, err)

	d, err := Build("api.example.com", "2.2", "questions/{ids}/answers", "", q)
	require.NoError(t, err)
	assert.Equal(t, "questions/11;22;33/answers", d.Resource)

	q, err = q.Apply(WithTagged("go", "c#"))
	require.NoError(t, err)
	d, err = Build("api.example.com", "2.2", "tags/{tags}/faq", "", q)
	require.NoError(t, err)
	assert.Equal(t, "tags/go;c%23/faq", d.Resource)
}

func TestDescriptor_WithDoesNotMutate(t *testing.T) {
	q, err := NewQuery(WithPageSize(20))
	require.NoError(t, err)
	d, err := Build("api.example.com", "2.2", "search", "", q)
	require.NoError(t, err)

	next := d.WithPage(2, 20)

	assert.Equal(t, 1, d.Page())
	assert.Equal(t, 2, next.Page())
	assert.Equal(t, 20, next.PageSize())
	assert.Contains(t, d.URL, "page=1&")
	assert.Contains(t, next.URL, "page=2&")
}

func TestDescriptor_PageDefaults(t *testing.T) {
	d := Descriptor{}
	assert.Equal(t, 1, d.Page())
	assert.Equal(t, -1, d.PageSize())
}

func TestJoinPath(t *testing.T) {
	assert.Equal(t, "https://a/b/c", JoinPath("https://a/", "/b/", "c/"))
	assert.Equal(t, "https://a/c", JoinPath("https://a", "", "/c"))
	assert.Equal(t, "https://a", JoinPath("https://a//"))
}
