package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Cursor tracks how far a Sequence has read. Total is -1 while unknown.
type Cursor struct {
	Page     int
	PageSize int
	Total    int
	HasMore  bool
}

// NewCursor returns a cursor positioned before page 1.
func NewCursor(pageSize int) Cursor {
	return Cursor{Page: 1, PageSize: pageSize, Total: -1, HasMore: true}
}

// Sequence presents a paged remote resource as one read-only ordered list.
// Pages are fetched on demand, strictly in order, starting at page 1.
// A Sequence is safe for concurrent use.
type Sequence struct {
	fetch FetchFunc

	mu      sync.Mutex
	cursor  Cursor
	buffer  []json.RawMessage
	fetched int
}

// NewSequence creates a Sequence reading through fetch. The cursor must be
// fresh: page 1, total unknown, more data expected (see NewCursor).
func NewSequence(fetch FetchFunc, cursor Cursor) (*Sequence, error) {
	if fetch == nil {
		return nil, fmt.Errorf("fetch function is required")
	}
	if cursor.Page != 1 {
		return nil, fmt.Errorf("%w: sequence must start at page 1, got page %d", ErrInvalidCursorState, cursor.Page)
	}
	if cursor.PageSize < 0 {
		return nil, fmt.Errorf("%w: negative page size %d", ErrInvalidCursorState, cursor.PageSize)
	}
	if cursor.Total != -1 {
		return nil, fmt.Errorf("%w: total %d reported before any page was fetched", ErrInvalidCursorState, cursor.Total)
	}
	if !cursor.HasMore {
		return nil, fmt.Errorf("%w: cursor already reports end of data", ErrInvalidCursorState)
	}
	return &Sequence{fetch: fetch, cursor: cursor}, nil
}

// Get returns item i, fetching pages until it is buffered or the data ends.
func (s *Sequence) Get(ctx context.Context, i int) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i < 0 {
		return nil, &IndexError{Index: i, Length: s.length()}
	}
	if s.cursor.Total >= 0 && i >= s.length() {
		return nil, &IndexError{Index: i, Length: s.length()}
	}

	for i >= len(s.buffer) && s.cursor.HasMore {
		if err := s.fetchNext(ctx); err != nil {
			return nil, err
		}
	}

	if i >= s.length() {
		return nil, &IndexError{Index: i, Length: s.length()}
	}
	return s.buffer[i], nil
}

// Len returns the total when the server reported one, otherwise the number
// of items buffered so far. It fetches page 1 if nothing was fetched yet.
func (s *Sequence) Len(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fetched == 0 && s.cursor.HasMore {
		if err := s.fetchNext(ctx); err != nil {
			return 0, err
		}
	}
	return s.length(), nil
}

// Materialize fetches every remaining page and returns a copy of all items.
func (s *Sequence) Materialize(ctx context.Context) ([]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.cursor.HasMore {
		if err := s.fetchNext(ctx); err != nil {
			return nil, err
		}
	}

	n := s.length()
	out := make([]json.RawMessage, n)
	copy(out, s.buffer[:n])
	return out, nil
}

// Each calls fn for every item in order, fetching pages as needed. It stops
// at the first error from fn or from a fetch.
func (s *Sequence) Each(ctx context.Context, fn func(i int, item json.RawMessage) error) error {
	for i := 0; ; i++ {
		item, err := s.Get(ctx, i)
		if err != nil {
			if errors.Is(err, ErrIndexOutOfRange) {
				return nil
			}
			return err
		}
		if err := fn(i, item); err != nil {
			return err
		}
	}
}

// Cursor returns a snapshot of the paging state.
func (s *Sequence) Cursor() Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// PagesFetched returns how many pages were incorporated so far.
func (s *Sequence) PagesFetched() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetched
}

// Buffered returns how many items are held without further fetching.
func (s *Sequence) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

// Set always fails: a Sequence is read-only.
func (s *Sequence) Set(int, json.RawMessage) error { return ErrUnsupportedOperation }

// Insert always fails: a Sequence is read-only.
func (s *Sequence) Insert(int, json.RawMessage) error { return ErrUnsupportedOperation }

// Remove always fails: a Sequence is read-only.
func (s *Sequence) Remove(int) error { return ErrUnsupportedOperation }

// fetchNext fetches cursor.Page and incorporates it. Nothing is committed
// when the fetch fails. Callers hold s.mu.
func (s *Sequence) fetchNext(ctx context.Context) error {
	env, err := s.fetch(ctx, s.cursor.Page, s.cursor.PageSize)
	if err != nil {
		return err
	}

	s.buffer = append(s.buffer, env.Items...)
	s.fetched++
	s.cursor.Page++
	if env.Total >= 0 {
		s.cursor.Total = env.Total
	}

	pageSize := s.cursor.PageSize
	if env.PageSize > 0 {
		pageSize = env.PageSize
	}

	// whichever end-of-data signal fires first wins
	switch {
	case len(env.Items) == 0:
		s.cursor.HasMore = false
	case len(env.Items) < pageSize:
		s.cursor.HasMore = false
	case s.cursor.Total >= 0 && len(s.buffer) >= s.cursor.Total:
		s.cursor.HasMore = false
	case env.HasMore != nil && !*env.HasMore:
		s.cursor.HasMore = false
	}
	return nil
}

// length is the logical length; callers hold s.mu.
func (s *Sequence) length() int {
	buffered := len(s.buffer)
	if s.cursor.Total < 0 {
		return buffered
	}
	if !s.cursor.HasMore || s.cursor.Total < buffered {
		return min(s.cursor.Total, buffered)
	}
	return s.cursor.Total
}
