package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrCacheUnavailable matches every failure of the underlying store.
	ErrCacheUnavailable = errors.New("cache unavailable")

	// ErrCacheMiss is returned by Stat for a partition that was never
	// written or whose schema is no longer readable.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidKey is returned for keys that cannot name a partition.
	ErrInvalidKey = errors.New("invalid partition key")
)

// CacheError wraps a backend failure with the operation and partition.
type CacheError struct {
	Op      string
	Key     string
	Backend string
	Err     error
}

// Error implements the error interface.
func (e *CacheError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %s %s: %v", ErrCacheUnavailable, e.Backend, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s %s %q: %v", ErrCacheUnavailable, e.Backend, e.Op, e.Key, e.Err)
}

// Unwrap returns the backend error.
func (e *CacheError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrCacheUnavailable) true for every *CacheError.
func (e *CacheError) Is(target error) bool {
	return target == ErrCacheUnavailable
}

// PartitionInfo is the catalog entry of one partition.
type PartitionInfo struct {
	Key           string    `json:"key"`
	Items         int       `json:"items"`
	SchemaVersion string    `json:"schema_version"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Store persists partitions: ordered lists of opaque item records that are
// only ever replaced as a whole.
type Store interface {
	// Replace atomically swaps the content of key for items. Readers see
	// either the old or the new content, never a mix.
	Replace(ctx context.Context, key string, items []json.RawMessage) error

	// Scan returns the items of key in stored order. An unknown partition
	// yields an empty slice and a nil error.
	Scan(ctx context.Context, key string) ([]json.RawMessage, error)

	// Exists reports whether key was ever written with a readable schema.
	Exists(ctx context.Context, key string) (bool, error)

	// Stat returns the catalog entry of key or ErrCacheMiss.
	Stat(ctx context.Context, key string) (PartitionInfo, error)

	// Keys lists the readable partitions, sorted by key.
	Keys(ctx context.Context) ([]PartitionInfo, error)

	// Delete removes key. Deleting an unknown partition is not an error.
	Delete(ctx context.Context, key string) error

	Close() error
}

// partitionLocks hands out one RWMutex per partition key.
type partitionLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

func newPartitionLocks() *partitionLocks {
	return &partitionLocks{locks: make(map[string]*sync.RWMutex)}
}

func (p *partitionLocks) get(key string) *sync.RWMutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[key]
	if !ok {
		l = &sync.RWMutex{}
		p.locks[key] = l
	}
	return l
}
