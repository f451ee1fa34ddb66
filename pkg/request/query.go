package request

import (
	"net/url"
	"strconv"
	"strings"
)

// Paging limits accepted by the API.
const (
	MinPageSize = 0
	MaxPageSize = 100
)

// Query is the full set of optional request parameters shared by every
// paged resource.
//
// Defaults (see DefaultQuery):
//
//	field      param            default
//	Page       page             1
//	PageSize   pagesize         30
//	Order      order            desc
//	Sort       sort, min, max   activity, 0, 253402300799
//	FromDate   fromdate         0
//	ToDate     todate           253402300799
//	Tagged     tagged           none (omitted)
//	NotTagged  nottagged        none (omitted)
//	IDs        {ids} in path    none
//	Site       site             "" (omitted)
//	Filter     filter           "" (omitted)
//	InTitle    intitle          "" (omitted)
type Query struct {
	Page      int
	PageSize  int
	Order     Order
	Sort      *Sort
	FromDate  int64
	ToDate    int64
	Tagged    []string
	NotTagged []string
	IDs       []int
	Site      string
	Filter    string
	InTitle   string

	// Extra carries resource-specific flags (body, answers, comments, ...).
	Extra url.Values
}

// DefaultQuery returns the query defaults documented on Query.
func DefaultQuery() Query {
	sort := SortActivity()
	return Query{
		Page:     1,
		PageSize: 30,
		Order:    OrderDesc,
		Sort:     &sort,
		FromDate: MinDate,
		ToDate:   MaxDate,
	}
}

// Option mutates a Query under construction.
type Option func(*Query) error

// NewQuery builds a Query from the defaults and the given options.
func NewQuery(opts ...Option) (Query, error) {
	q := DefaultQuery()
	for _, opt := range opts {
		if err := opt(&q); err != nil {
			return Query{}, err
		}
	}
	return q, nil
}

// Apply returns a copy of q with opts applied.
func (q Query) Apply(opts ...Option) (Query, error) {
	out := q.clone()
	for _, opt := range opts {
		if err := opt(&out); err != nil {
			return Query{}, err
		}
	}
	return out, nil
}

// WithPage sets the 1-based page number.
func WithPage(page int) Option {
	return func(q *Query) error {
		if page < 1 {
			return invalidParam("page", "must be >= 1, got %d", page)
		}
		q.Page = page
		return nil
	}
}

// WithPageSize sets the number of items per page.
func WithPageSize(size int) Option {
	return func(q *Query) error {
		if size < MinPageSize || size > MaxPageSize {
			return invalidParam("pagesize", "out of range (%d - %d), got %d", MinPageSize, MaxPageSize, size)
		}
		q.PageSize = size
		return nil
	}
}

// WithOrder sets the sort direction.
func WithOrder(order Order) Option {
	return func(q *Query) error {
		if !order.Valid() {
			return invalidParam("order", "must be asc or desc, got %q", order)
		}
		q.Order = order
		return nil
	}
}

// WithSort sets the sort key and its bounds. A zero Sort removes sorting.
func WithSort(sort Sort) Option {
	return func(q *Query) error {
		if sort.Name == "" {
			q.Sort = nil
			return nil
		}
		q.Sort = &sort
		return nil
	}
}

// WithDateRange limits results to items created between from and to.
func WithDateRange(from, to int64) Option {
	return func(q *Query) error {
		if from < MinDate || from > MaxDate {
			return invalidParam("fromdate", "%d is out of range %d - %d", from, MinDate, MaxDate)
		}
		if to < MinDate || to > MaxDate {
			return invalidParam("todate", "%d is out of range %d - %d", to, MinDate, MaxDate)
		}
		if from > to {
			return invalidParam("fromdate", "%d is after todate %d", from, to)
		}
		q.FromDate = from
		q.ToDate = to
		return nil
	}
}

// WithTagged replaces the required tag list.
func WithTagged(tags ...string) Option {
	return func(q *Query) error {
		q.Tagged = normalizeTags(tags)
		return nil
	}
}

// WithTagString parses a semicolon or space delimited tag list.
func WithTagString(tags string) Option {
	return WithTagged(ParseTags(tags)...)
}

// WithNotTagged replaces the excluded tag list.
func WithNotTagged(tags ...string) Option {
	return func(q *Query) error {
		q.NotTagged = normalizeTags(tags)
		return nil
	}
}

// WithIDs sets the identifiers substituted into an {ids} resource path.
func WithIDs(ids ...int) Option {
	return func(q *Query) error {
		q.IDs = append([]int(nil), ids...)
		return nil
	}
}

// WithSite selects the Stack Exchange site.
func WithSite(site string) Option {
	return func(q *Query) error {
		q.Site = site
		return nil
	}
}

// WithFilter selects a server-side response filter.
func WithFilter(filter string) Option {
	return func(q *Query) error {
		q.Filter = filter
		return nil
	}
}

// WithInTitle restricts results to titles containing text.
func WithInTitle(text string) Option {
	return func(q *Query) error {
		q.InTitle = text
		return nil
	}
}

// WithParam sets an arbitrary extra parameter.
func WithParam(key, value string) Option {
	return func(q *Query) error {
		if key == "" {
			return invalidParam("param", "empty key")
		}
		if q.Extra == nil {
			q.Extra = url.Values{}
		}
		q.Extra.Set(key, value)
		return nil
	}
}

// WithFlag sets a boolean extra parameter such as body or answers.
func WithFlag(key string, value bool) Option {
	return WithParam(key, strconv.FormatBool(value))
}

// Values renders the query parameters. Values are not yet URL encoded.
func (q Query) Values() url.Values {
	v := url.Values{}
	for key, vals := range q.Extra {
		v[key] = append([]string(nil), vals...)
	}

	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	v.Set("pagesize", strconv.Itoa(q.PageSize))
	if q.Order != "" {
		v.Set("order", string(q.Order))
	}
	if q.Sort != nil {
		v.Set("sort", q.Sort.Name)
		if q.Sort.Min != "" {
			v.Set("min", q.Sort.Min)
		}
		if q.Sort.Max != "" {
			v.Set("max", q.Sort.Max)
		}
	}
	v.Set("fromdate", strconv.FormatInt(q.FromDate, 10))
	v.Set("todate", strconv.FormatInt(q.ToDate, 10))
	if len(q.Tagged) > 0 {
		v.Set("tagged", strings.Join(q.Tagged, ";"))
	}
	if len(q.NotTagged) > 0 {
		v.Set("nottagged", strings.Join(q.NotTagged, ";"))
	}
	if q.Site != "" {
		v.Set("site", q.Site)
	}
	if q.Filter != "" {
		v.Set("filter", q.Filter)
	}
	if q.InTitle != "" {
		v.Set("intitle", q.InTitle)
	}
	return v
}

func (q Query) clone() Query {
	out := q
	if q.Sort != nil {
		sort := *q.Sort
		out.Sort = &sort
	}
	out.Tagged = append([]string(nil), q.Tagged...)
	out.NotTagged = append([]string(nil), q.NotTagged...)
	out.IDs = append([]int(nil), q.IDs...)
	if q.Extra != nil {
		out.Extra = url.Values{}
		for k, vals := range q.Extra {
			out.Extra[k] = append([]string(nil), vals...)
		}
	}
	return out
}
