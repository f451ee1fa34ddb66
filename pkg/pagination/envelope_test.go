package pagination

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnvelope(t *testing.T) {
	body := []byte(`{
		"items": [{"question_id": 1}, {"question_id": 2}],
		"total": 45,
		"page": 2,
		"page_size": 20,
		"has_more": true,
		"quota_remaining": 9876,
		"quota_max": 10000,
		"backoff": 10
	}`)

	env, err := parseEnvelope(body, DefaultItemsField, 2, 20)
	require.NoError(t, err)

	assert.Len(t, env.Items, 2)
	assert.JSONEq(t, `{"question_id": 2}`, string(env.Items[1]))
	assert.Equal(t, 45, env.Total)
	assert.Equal(t, 2, env.Page)
	assert.Equal(t, 20, env.PageSize)
	require.NotNil(t, env.HasMore)
	assert.True(t, *env.HasMore)
	assert.Equal(t, 9876, env.QuotaRemaining)
	assert.Equal(t, 10000, env.QuotaMax)
	assert.Equal(t, 10*time.Second, env.Backoff)
}

func TestParseEnvelope_Defaults(t *testing.T) {
	env, err := parseEnvelope([]byte(`{"items": []}`), "", 3, 15)
	require.NoError(t, err)

	assert.Empty(t, env.Items)
	assert.Equal(t, -1, env.Total)
	assert.Equal(t, 3, env.Page, "page falls back to the requested page")
	assert.Equal(t, 15, env.PageSize)
	assert.Nil(t, env.HasMore)
	assert.Equal(t, -1, env.QuotaRemaining)
	assert.Equal(t, -1, env.QuotaMax)
	assert.Zero(t, env.Backoff)
}

func TestParseEnvelope_NullMembersAreAbsent(t *testing.T) {
	body := `{"items": [1, 2, 3], "total": null, "page": null, "page_size": null,
		"quota_remaining": null, "quota_max": null, "has_more": null, "backoff": null}`
	env, err := parseEnvelope([]byte(body), "", 2, 3)
	require.NoError(t, err)

	assert.Len(t, env.Items, 3)
	assert.Equal(t, -1, env.Total)
	assert.Equal(t, 2, env.Page)
	assert.Equal(t, 3, env.PageSize)
	assert.Nil(t, env.HasMore)
	assert.Equal(t, -1, env.QuotaRemaining)
	assert.Equal(t, -1, env.QuotaMax)
	assert.Zero(t, env.Backoff)
}

func TestParseEnvelope_NullFallsThroughToAlias(t *testing.T) {
	env, err := parseEnvelope([]byte(`{"items": [], "page_size": null, "pagesize": 40}`), "", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 40, env.PageSize)
}

func TestParseEnvelope_PagesizeAlias(t *testing.T) {
	env, err := parseEnvelope([]byte(`{"items": [], "pagesize": 50, "page": 0}`), "", 1, -1)
	require.NoError(t, err)
	assert.Equal(t, 50, env.PageSize)
	assert.Equal(t, 1, env.Page)
}

func TestParseEnvelope_CustomItemsField(t *testing.T) {
	env, err := parseEnvelope([]byte(`{"questions": [1, 2, 3], "total": 3}`), "questions", 1, 30)
	require.NoError(t, err)
	assert.Len(t, env.Items, 3)
	assert.Equal(t, 3, env.Total)
}

func TestParseEnvelope_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		reason string
	}{
		{"not json", `<html>oops</html>`, "not a JSON object"},
		{"array body", `[1, 2]`, "not a JSON object"},
		{"null body", `null`, "not a JSON object"},
		{"missing items", `{"total": 3}`, "missing \"items\""},
		{"items not array", `{"items": {"a": 1}}`, "not an array"},
		{"items null", `{"items": null}`, "not an array"},
		{"total not int", `{"items": [], "total": "many"}`, "total is not an integer"},
		{"has_more not bool", `{"items": [], "has_more": "yes"}`, "has_more is not a boolean"},
		{"backoff not int", `{"items": [], "backoff": "soon"}`, "backoff is not an integer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseEnvelope([]byte(tt.body), DefaultItemsField, 4, 30)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrParse))

			var pe *ParseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, 4, pe.Page)
			assert.Contains(t, pe.Error(), tt.reason)
		})
	}
}

func TestParseEnvelope_APIErrorObject(t *testing.T) {
	body := []byte(`{"error_id": 400, "error_name": "bad_parameter", "error_message": "sort"}`)

	_, err := parseEnvelope(body, DefaultItemsField, 1, 30)

	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 400, pe.APIErrorID)
	assert.Equal(t, "bad_parameter", pe.APIErrorName)
	assert.Equal(t, "sort", pe.Reason)
	assert.Contains(t, pe.Error(), "api error 400 bad_parameter")
}

func TestParseAPIError(t *testing.T) {
	e, ok := parseAPIError([]byte(`{"error_id": 502, "error_name": "throttle_violation", "error_message": "slow down"}`))
	require.True(t, ok)
	assert.Equal(t, 502, e.ID)
	assert.Equal(t, "throttle_violation", e.Name)
	assert.Equal(t, "slow down", e.Message)

	_, ok = parseAPIError([]byte(`{"items": []}`))
	assert.False(t, ok)

	_, ok = parseAPIError([]byte(`garbage`))
	assert.False(t, ok)
}

func TestIndexError(t *testing.T) {
	err := &IndexError{Index: 7, Length: 5}
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	assert.Equal(t, "index out of range: index 7, length 5", err.Error())
}
