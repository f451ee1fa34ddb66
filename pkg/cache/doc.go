// Package cache persists partitions for offline browsing.
//
// A partition is the complete, ordered result of one online sync for a key
// (usually a normalized tag). Partitions are only ever replaced as a whole:
// there is no merge, append or per-item update.
//
// Two backends implement Store:
//
//   - SQLiteStore (default): one table per partition plus a partitions
//     catalog table, in a single database file (modernc.org/sqlite, no CGO).
//   - RedisStore: one list and one metadata hash per partition.
//
// # Basic Usage
//
//	store, err := cache.OpenSQLite(ctx, "stackcache.db", logger)
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	key := cache.NormalizeKey("Google Maps") // "google_maps"
//	if err := store.Replace(ctx, key, items); err != nil {
//		return err
//	}
//
//	items, err := store.Scan(ctx, key)
//
// # Guarantees
//
//   - Replace is atomic: readers see the old or the new content.
//   - Scan of a never-written partition returns an empty slice and no error;
//     Exists tells it apart from a partition synced with zero items.
//   - Each partition has a single writer and many readers within a process.
//   - Partitions written with another major SchemaVersion are invisible.
//   - Backend failures match ErrCacheUnavailable and carry a *CacheError.
//
// # Metrics
//
//   - stackcache_cache_operations_total{backend,op,result}
//   - stackcache_cache_operation_duration_seconds{backend,op}
//   - stackcache_cache_items_written_total{backend}
//   - stackcache_cache_bytes_written_total{backend}
//   - stackcache_cache_incompatible_partitions_total{backend}
package cache
