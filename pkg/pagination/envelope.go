package pagination

import (
	"bytes"
	"encoding/json"
	"time"
)

// DefaultItemsField is the envelope member holding the item array.
const DefaultItemsField = "items"

// Envelope is one parsed page. Items are passed through undecoded.
type Envelope struct {
	Items    []json.RawMessage
	Total    int // -1 when the server did not report it
	Page     int // 1-based
	PageSize int // -1 when neither reported nor requested

	// HasMore is the server's own continuation flag, nil when absent.
	HasMore *bool

	QuotaRemaining int // -1 when absent
	QuotaMax       int // -1 when absent
	Backoff        time.Duration
}

// apiError is the error object the API returns instead of an envelope.
type apiError struct {
	ID      int    `json:"error_id"`
	Name    string `json:"error_name"`
	Message string `json:"error_message"`
}

// parseAPIError extracts an API error object from body, if it is one.
func parseAPIError(body []byte) (apiError, bool) {
	var e apiError
	if err := json.Unmarshal(body, &e); err != nil {
		return apiError{}, false
	}
	if e.ID == 0 && e.Name == "" {
		return apiError{}, false
	}
	return e, true
}

// parseEnvelope decodes body into an Envelope. requestedPage and
// requestedSize fill in page metadata the server left out.
func parseEnvelope(body []byte, itemsField string, requestedPage, requestedSize int) (*Envelope, error) {
	if itemsField == "" {
		itemsField = DefaultItemsField
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return nil, &ParseError{Page: requestedPage, Reason: "body is not a JSON object", Err: err}
	}

	if _, ok := fields["error_id"]; ok {
		if e, ok := parseAPIError(body); ok {
			return nil, &ParseError{
				Page:         requestedPage,
				Reason:       e.Message,
				APIErrorID:   e.ID,
				APIErrorName: e.Name,
			}
		}
	}

	rawItems, ok := fields[itemsField]
	if !ok {
		return nil, &ParseError{Page: requestedPage, Reason: "missing \"" + itemsField + "\" member"}
	}
	if trimmed := bytes.TrimSpace(rawItems); len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, &ParseError{Page: requestedPage, Reason: "\"" + itemsField + "\" is not an array"}
	}
	var items []json.RawMessage
	if err := json.Unmarshal(rawItems, &items); err != nil {
		return nil, &ParseError{Page: requestedPage, Reason: "decode items", Err: err}
	}

	env := &Envelope{
		Items:          items,
		Total:          -1,
		Page:           requestedPage,
		PageSize:       requestedSize,
		QuotaRemaining: -1,
		QuotaMax:       -1,
	}

	ints := []struct {
		names []string
		dst   *int
	}{
		{[]string{"total"}, &env.Total},
		{[]string{"page"}, &env.Page},
		{[]string{"page_size", "pagesize"}, &env.PageSize},
		{[]string{"quota_remaining"}, &env.QuotaRemaining},
		{[]string{"quota_max"}, &env.QuotaMax},
	}
	for _, f := range ints {
		for _, name := range f.names {
			raw, ok := fields[name]
			if !ok || isNull(raw) {
				continue
			}
			var v int
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, &ParseError{Page: requestedPage, Reason: "field " + name + " is not an integer", Err: err}
			}
			*f.dst = v
			break
		}
	}

	if raw, ok := fields["has_more"]; ok && !isNull(raw) {
		var more bool
		if err := json.Unmarshal(raw, &more); err != nil {
			return nil, &ParseError{Page: requestedPage, Reason: "field has_more is not a boolean", Err: err}
		}
		env.HasMore = &more
	}

	if raw, ok := fields["backoff"]; ok && !isNull(raw) {
		var seconds int
		if err := json.Unmarshal(raw, &seconds); err != nil {
			return nil, &ParseError{Page: requestedPage, Reason: "field backoff is not an integer", Err: err}
		}
		env.Backoff = time.Duration(seconds) * time.Second
	}

	if env.Page < 1 {
		env.Page = requestedPage
	}
	if env.Page < 1 {
		env.Page = 1
	}

	return env, nil
}

// isNull reports whether raw is the JSON literal null, which counts as an
// absent member.
func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
