package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// BackendRedis labels metrics and errors of RedisStore.
const BackendRedis = "redis"

// Meta hash fields.
const (
	metaSchema  = "schema_version"
	metaItems   = "item_count"
	metaUpdated = "updated_at"
)

// RedisStore keeps each partition as a Redis list plus a metadata hash.
// Replace writes a temporary list and RENAMEs it over the live one inside
// MULTI/EXEC, so readers never observe a partial partition.
type RedisStore struct {
	redis  *redis.Client
	locks  *partitionLocks
	logger zerolog.Logger
}

// NewRedisStore creates a store on an existing client.
func NewRedisStore(client *redis.Client, logger zerolog.Logger) *RedisStore {
	if client == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{
		redis:  client,
		locks:  newPartitionLocks(),
		logger: logger.With().Str("component", "cache").Str("backend", BackendRedis).Logger(),
	}
}

func itemsKey(key string) string { return redisKey("partition", key, "items") }
func metaKey(key string) string  { return redisKey("partition", key, "meta") }
func catalogKey() string         { return redisKey("partitions") }

// Replace implements Store.
func (s *RedisStore) Replace(ctx context.Context, key string, items []json.RawMessage) (err error) {
	start := time.Now()
	defer func() { observe(BackendRedis, "replace", start, err) }()

	if err := ValidateKey(key); err != nil {
		return err
	}
	l := s.locks.get(key)
	l.Lock()
	defer l.Unlock()

	tmp := redisKey("tmp", uuid.NewString())
	var size int
	if len(items) > 0 {
		values := make([]any, len(items))
		for i, item := range items {
			values[i] = []byte(item)
			size += len(item)
		}
		if err := s.redis.RPush(ctx, tmp, values...).Err(); err != nil {
			s.redis.Del(context.WithoutCancel(ctx), tmp)
			return &CacheError{Op: "replace", Key: key, Backend: BackendRedis, Err: fmt.Errorf("write temp list: %w", err)}
		}
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(items) > 0 {
			pipe.Rename(ctx, tmp, itemsKey(key))
		} else {
			pipe.Del(ctx, itemsKey(key))
		}
		pipe.HSet(ctx, metaKey(key),
			metaSchema, SchemaVersion,
			metaItems, len(items),
			metaUpdated, time.Now().UnixMilli(),
		)
		pipe.SAdd(ctx, catalogKey(), key)
		return nil
	})
	if err != nil {
		s.redis.Del(context.WithoutCancel(ctx), tmp)
		return &CacheError{Op: "replace", Key: key, Backend: BackendRedis, Err: fmt.Errorf("swap: %w", err)}
	}

	CacheItemsWritten.WithLabelValues(BackendRedis).Add(float64(len(items)))
	CacheBytesWritten.WithLabelValues(BackendRedis).Add(float64(size))
	s.logger.Debug().Str("partition", key).Int("items", len(items)).Msg("Replaced partition")
	return nil
}

// Scan implements Store.
func (s *RedisStore) Scan(ctx context.Context, key string) ([]json.RawMessage, error) {
	start := time.Now()

	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	l := s.locks.get(key)
	l.RLock()
	defer l.RUnlock()

	// meta and list are read in one transaction so they describe the same
	// generation of the partition
	var metaCmd *redis.MapStringStringCmd
	var listCmd *redis.StringSliceCmd
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		metaCmd = pipe.HGetAll(ctx, metaKey(key))
		listCmd = pipe.LRange(ctx, itemsKey(key), 0, -1)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		observe(BackendRedis, "scan", start, err)
		return nil, &CacheError{Op: "scan", Key: key, Backend: BackendRedis, Err: err}
	}

	if _, ok := s.readMeta(key, metaCmd.Val()); !ok {
		observeMiss(BackendRedis, "scan", start)
		return []json.RawMessage{}, nil
	}

	raw := listCmd.Val()
	items := make([]json.RawMessage, len(raw))
	for i, v := range raw {
		items[i] = json.RawMessage(v)
	}

	observe(BackendRedis, "scan", start, nil)
	s.logger.Debug().Str("partition", key).Int("items", len(items)).Msg("Scanned partition")
	return items, nil
}

// Exists implements Store.
func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Stat(ctx, key)
	if errors.Is(err, ErrCacheMiss) {
		return false, nil
	}
	return err == nil, err
}

// Stat implements Store.
func (s *RedisStore) Stat(ctx context.Context, key string) (PartitionInfo, error) {
	if err := ValidateKey(key); err != nil {
		return PartitionInfo{}, err
	}
	l := s.locks.get(key)
	l.RLock()
	defer l.RUnlock()

	meta, err := s.redis.HGetAll(ctx, metaKey(key)).Result()
	if err != nil {
		return PartitionInfo{}, &CacheError{Op: "stat", Key: key, Backend: BackendRedis, Err: err}
	}
	info, ok := s.readMeta(key, meta)
	if !ok {
		return PartitionInfo{}, fmt.Errorf("%w: %s", ErrCacheMiss, key)
	}
	return info, nil
}

// Keys implements Store.
func (s *RedisStore) Keys(ctx context.Context) (infos []PartitionInfo, err error) {
	start := time.Now()
	defer func() { observe(BackendRedis, "keys", start, err) }()

	keys, err := s.redis.SMembers(ctx, catalogKey()).Result()
	if err != nil {
		return nil, &CacheError{Op: "keys", Backend: BackendRedis, Err: err}
	}
	sort.Strings(keys)

	cmds := make([]*redis.MapStringStringCmd, len(keys))
	_, err = s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			cmds[i] = pipe.HGetAll(ctx, metaKey(key))
		}
		return nil
	})
	if err != nil {
		return nil, &CacheError{Op: "keys", Backend: BackendRedis, Err: err}
	}

	for i, key := range keys {
		if info, ok := s.readMeta(key, cmds[i].Val()); ok {
			infos = append(infos, info)
		}
	}
	return infos, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) (err error) {
	start := time.Now()
	defer func() { observe(BackendRedis, "delete", start, err) }()

	if err := ValidateKey(key); err != nil {
		return err
	}
	l := s.locks.get(key)
	l.Lock()
	defer l.Unlock()

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, itemsKey(key), metaKey(key))
		pipe.SRem(ctx, catalogKey(), key)
		return nil
	})
	if err != nil {
		return &CacheError{Op: "delete", Key: key, Backend: BackendRedis, Err: err}
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.redis.Close()
}

// readMeta decodes a meta hash. ok is false for a missing or unreadable
// partition.
func (s *RedisStore) readMeta(key string, meta map[string]string) (PartitionInfo, bool) {
	version, found := meta[metaSchema]
	if !found {
		return PartitionInfo{}, false
	}
	if err := checkSchema(version); err != nil {
		CacheIncompatible.WithLabelValues(BackendRedis).Inc()
		s.logger.Warn().Err(err).Str("partition", key).Msg("Ignoring partition")
		return PartitionInfo{}, false
	}

	count, _ := strconv.Atoi(meta[metaItems])
	updated, _ := strconv.ParseInt(meta[metaUpdated], 10, 64)
	return PartitionInfo{
		Key:           key,
		Items:         count,
		SchemaVersion: version,
		UpdatedAt:     time.UnixMilli(updated).UTC(),
	}, true
}
