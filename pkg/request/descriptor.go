// Package request assembles fully qualified API requests from an endpoint,
// an API version, a resource path and a Query.
package request

import (
	"net/url"
	"strconv"
	"strings"
)

// Placeholders that may appear in a resource path.
const (
	PlaceholderIDs  = "{ids}"
	PlaceholderTags = "{tags}"
)

// Descriptor is a send-ready GET request. It is immutable once built; use
// With to derive a variant (for example the next page).
type Descriptor struct {
	BaseURL  string
	Version  string
	Resource string
	Key      string
	Params   url.Values
	URL      string
}

// Build assembles a Descriptor. It does no I/O and can be called again with
// the same inputs for retries.
//
// The base URL gets an https scheme when none is given. Exactly one "/" is
// placed between base, version and resource regardless of the separators on
// the inputs. The query string starts with key (when set) followed by the
// remaining parameters in sorted order.
func Build(baseURL, version, resource, key string, q Query) (Descriptor, error) {
	resolved, err := resolveResource(resource, q)
	if err != nil {
		return Descriptor{}, err
	}

	d := Descriptor{
		BaseURL:  withScheme(baseURL),
		Version:  version,
		Resource: resolved,
		Key:      key,
		Params:   q.Values(),
	}
	d.URL = d.render()
	return d, nil
}

// With returns a copy of d with param set to value and the URL recomputed.
func (d Descriptor) With(param, value string) Descriptor {
	params := url.Values{}
	for k, vals := range d.Params {
		params[k] = append([]string(nil), vals...)
	}
	params.Set(param, value)
	d.Params = params
	d.URL = d.render()
	return d
}

// WithPage returns a copy of d addressing the given page and page size.
func (d Descriptor) WithPage(page, pageSize int) Descriptor {
	return d.With("page", strconv.Itoa(page)).With("pagesize", strconv.Itoa(pageSize))
}

// Page returns the page parameter, or 1 when it is missing or malformed.
func (d Descriptor) Page() int {
	page, err := strconv.Atoi(d.Params.Get("page"))
	if err != nil || page < 1 {
		return 1
	}
	return page
}

// PageSize returns the pagesize parameter, or -1 when it is missing.
func (d Descriptor) PageSize() int {
	size, err := strconv.Atoi(d.Params.Get("pagesize"))
	if err != nil {
		return -1
	}
	return size
}

func (d Descriptor) render() string {
	var b strings.Builder
	b.WriteString(JoinPath(d.BaseURL, d.Version, d.Resource))
	b.WriteByte('?')
	if d.Key != "" {
		b.WriteString("key=")
		b.WriteString(url.QueryEscape(d.Key))
		if len(d.Params) > 0 {
			b.WriteByte('&')
		}
	}
	b.WriteString(d.Params.Encode())
	return b.String()
}

// JoinPath joins URL segments with exactly one "/" between non-empty
// segments. The scheme separator of the first segment is preserved.
func JoinPath(first string, rest ...string) string {
	out := strings.TrimRight(first, "/")
	for _, seg := range rest {
		seg = strings.Trim(seg, "/")
		if seg == "" {
			continue
		}
		out += "/" + seg
	}
	return out
}

func withScheme(base string) string {
	base = strings.TrimSpace(base)
	if strings.HasPrefix(base, "http://") || strings.HasPrefix(base, "https://") {
		return base
	}
	return "https://" + base
}

func resolveResource(resource string, q Query) (string, error) {
	if strings.Contains(resource, PlaceholderIDs) {
		if len(q.IDs) == 0 {
			return "", &MissingParameterError{Param: "ids", Resource: resource}
		}
		ids := make([]string, len(q.IDs))
		for i, id := range q.IDs {
			ids[i] = strconv.Itoa(id)
		}
		resource = strings.ReplaceAll(resource, PlaceholderIDs, strings.Join(ids, ";"))
	}
	if strings.Contains(resource, PlaceholderTags) {
		if len(q.Tagged) == 0 {
			return "", &MissingParameterError{Param: "tags", Resource: resource}
		}
		tags := make([]string, len(q.Tagged))
		for i, tag := range q.Tagged {
			tags[i] = url.PathEscape(tag)
		}
		resource = strings.ReplaceAll(resource, PlaceholderTags, strings.Join(tags, ";"))
	}
	return resource, nil
}
