// Package pagination turns paged API responses into one ordered sequence.
//
// A Fetcher performs a single page round trip through a rate limiter,
// undoes gzip/deflate content encoding and parses the page envelope:
//
//	{"items": [...], "total": 45, "page": 2, "page_size": 20, "has_more": true,
//	 "quota_remaining": 9870, "quota_max": 10000, "backoff": 10}
//
// Items are kept as raw JSON; nothing in this package looks inside them.
//
// A Sequence reads pages lazily through a FetchFunc, always starting at page 1
// and never skipping a page:
//
//	fetch := pagination.FetcherFunc(fetcher, descriptor)
//	seq, err := pagination.NewSequence(fetch, pagination.NewCursor(20))
//	item, err := seq.Get(ctx, 44)       // fetches pages 1-3
//	items, err := seq.Materialize(ctx)  // fetches whatever is left
//
// The sequence stops at the first end-of-data signal: an empty page, a page
// shorter than the page size, the accumulated count reaching a reported
// total, or has_more=false.
package pagination
