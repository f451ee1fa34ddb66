package cache

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// BackendSQLite labels metrics and errors of SQLiteStore.
const BackendSQLite = "sqlite"

// MemoryPath opens a private in-memory SQLite database.
const MemoryPath = ":memory:"

const sqliteCatalog = `
CREATE TABLE IF NOT EXISTS partitions (
    key            TEXT PRIMARY KEY,
    table_name     TEXT NOT NULL UNIQUE,
    schema_version TEXT NOT NULL,
    item_count     INTEGER NOT NULL,
    updated_at     INTEGER NOT NULL -- unix milliseconds
);`

// SQLiteStore keeps one table per partition in a single database file, with
// a partitions catalog table recording schema version and item count.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	locks  *partitionLocks
	logger zerolog.Logger
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// OpenSQLite opens or creates the database at path. Use MemoryPath for a
// throwaway store.
func OpenSQLite(ctx context.Context, path string, logger zerolog.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, &CacheError{Op: "open", Backend: BackendSQLite, Err: err}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &CacheError{Op: "open", Backend: BackendSQLite, Err: err}
	}
	// one connection: writes are serialized and :memory: stays one database
	db.SetMaxOpenConns(1)

	pragmas := []string{"PRAGMA busy_timeout = 5000", "PRAGMA synchronous = NORMAL"}
	if path != MemoryPath {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, &CacheError{Op: "open", Backend: BackendSQLite, Err: fmt.Errorf("%s: %w", p, err)}
		}
	}
	if _, err := db.ExecContext(ctx, sqliteCatalog); err != nil {
		_ = db.Close()
		return nil, &CacheError{Op: "open", Backend: BackendSQLite, Err: fmt.Errorf("create catalog: %w", err)}
	}

	s := &SQLiteStore{
		db:     db,
		path:   path,
		locks:  newPartitionLocks(),
		logger: logger.With().Str("component", "cache").Str("backend", BackendSQLite).Logger(),
	}
	s.logger.Debug().Str("path", path).Msg("Opened cache database")
	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// tableName maps a key to a table identifier that needs no escaping.
func tableName(key string) string {
	return "partition_" + hex.EncodeToString([]byte(key))
}

// Replace implements Store.
func (s *SQLiteStore) Replace(ctx context.Context, key string, items []json.RawMessage) (err error) {
	start := time.Now()
	defer func() { observe(BackendSQLite, "replace", start, err) }()

	if err := ValidateKey(key); err != nil {
		return err
	}
	l := s.locks.get(key)
	l.Lock()
	defer l.Unlock()

	fail := func(step string, e error) error {
		return &CacheError{Op: "replace", Key: key, Backend: BackendSQLite, Err: fmt.Errorf("%s: %w", step, e)}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fail("begin", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	table := tableName(key)
	if _, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS "`+table+`" (pos INTEGER PRIMARY KEY, data BLOB NOT NULL)`); err != nil {
		return fail("create table", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM "`+table+`"`); err != nil {
		return fail("clear", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO "`+table+`" (pos, data) VALUES (?, ?)`)
	if err != nil {
		return fail("prepare insert", err)
	}
	defer stmt.Close()

	var bytes int
	for i, item := range items {
		if _, err := stmt.ExecContext(ctx, i, []byte(item)); err != nil {
			return fail(fmt.Sprintf("insert item %d", i), err)
		}
		bytes += len(item)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO partitions (key, table_name, schema_version, item_count, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			schema_version = excluded.schema_version,
			item_count = excluded.item_count,
			updated_at = excluded.updated_at`,
		key, table, SchemaVersion, len(items), time.Now().UnixMilli())
	if err != nil {
		return fail("update catalog", err)
	}

	if err := tx.Commit(); err != nil {
		return fail("commit", err)
	}

	CacheItemsWritten.WithLabelValues(BackendSQLite).Add(float64(len(items)))
	CacheBytesWritten.WithLabelValues(BackendSQLite).Add(float64(bytes))
	s.logger.Debug().Str("partition", key).Int("items", len(items)).Msg("Replaced partition")
	return nil
}

// Scan implements Store.
func (s *SQLiteStore) Scan(ctx context.Context, key string) (items []json.RawMessage, err error) {
	start := time.Now()

	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	l := s.locks.get(key)
	l.RLock()
	defer l.RUnlock()

	info, table, ok, err := s.lookup(ctx, s.db, key)
	if err != nil {
		observe(BackendSQLite, "scan", start, err)
		return nil, err
	}
	if !ok {
		observeMiss(BackendSQLite, "scan", start)
		return []json.RawMessage{}, nil
	}
	defer func() { observe(BackendSQLite, "scan", start, err) }()

	rows, err := s.db.QueryContext(ctx, `SELECT data FROM "`+table+`" ORDER BY pos`)
	if err != nil {
		return nil, &CacheError{Op: "scan", Key: key, Backend: BackendSQLite, Err: err}
	}
	defer rows.Close()

	items = make([]json.RawMessage, 0, info.Items)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, &CacheError{Op: "scan", Key: key, Backend: BackendSQLite, Err: err}
		}
		items = append(items, json.RawMessage(data))
	}
	if err := rows.Err(); err != nil {
		return nil, &CacheError{Op: "scan", Key: key, Backend: BackendSQLite, Err: err}
	}

	s.logger.Debug().Str("partition", key).Int("items", len(items)).Msg("Scanned partition")
	return items, nil
}

// Exists implements Store.
func (s *SQLiteStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	l := s.locks.get(key)
	l.RLock()
	defer l.RUnlock()

	_, _, ok, err := s.lookup(ctx, s.db, key)
	return ok, err
}

// Stat implements Store.
func (s *SQLiteStore) Stat(ctx context.Context, key string) (PartitionInfo, error) {
	if err := ValidateKey(key); err != nil {
		return PartitionInfo{}, err
	}
	l := s.locks.get(key)
	l.RLock()
	defer l.RUnlock()

	info, _, ok, err := s.lookup(ctx, s.db, key)
	if err != nil {
		return PartitionInfo{}, err
	}
	if !ok {
		return PartitionInfo{}, fmt.Errorf("%w: %s", ErrCacheMiss, key)
	}
	return info, nil
}

// Keys implements Store.
func (s *SQLiteStore) Keys(ctx context.Context) (infos []PartitionInfo, err error) {
	start := time.Now()
	defer func() { observe(BackendSQLite, "keys", start, err) }()

	rows, err := s.db.QueryContext(ctx, `SELECT key, schema_version, item_count, updated_at FROM partitions ORDER BY key`)
	if err != nil {
		return nil, &CacheError{Op: "keys", Backend: BackendSQLite, Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var info PartitionInfo
		var updated int64
		if err := rows.Scan(&info.Key, &info.SchemaVersion, &info.Items, &updated); err != nil {
			return nil, &CacheError{Op: "keys", Backend: BackendSQLite, Err: err}
		}
		if !schemaCompatible(info.SchemaVersion) {
			continue
		}
		info.UpdatedAt = time.UnixMilli(updated).UTC()
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, &CacheError{Op: "keys", Backend: BackendSQLite, Err: err}
	}
	return infos, nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, key string) (err error) {
	start := time.Now()
	defer func() { observe(BackendSQLite, "delete", start, err) }()

	if err := ValidateKey(key); err != nil {
		return err
	}
	l := s.locks.get(key)
	l.Lock()
	defer l.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &CacheError{Op: "delete", Key: key, Backend: BackendSQLite, Err: err}
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS "`+tableName(key)+`"`); err != nil {
		return &CacheError{Op: "delete", Key: key, Backend: BackendSQLite, Err: err}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM partitions WHERE key = ?`, key); err != nil {
		return &CacheError{Op: "delete", Key: key, Backend: BackendSQLite, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &CacheError{Op: "delete", Key: key, Backend: BackendSQLite, Err: err}
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// lookup reads the catalog entry of key. ok is false when the partition is
// absent or written with an incompatible schema.
func (s *SQLiteStore) lookup(ctx context.Context, q queryer, key string) (info PartitionInfo, table string, ok bool, err error) {
	var updated int64
	info.Key = key
	err = q.QueryRowContext(ctx,
		`SELECT table_name, schema_version, item_count, updated_at FROM partitions WHERE key = ?`, key,
	).Scan(&table, &info.SchemaVersion, &info.Items, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return PartitionInfo{}, "", false, nil
	}
	if err != nil {
		return PartitionInfo{}, "", false, &CacheError{Op: "lookup", Key: key, Backend: BackendSQLite, Err: err}
	}
	if err := checkSchema(info.SchemaVersion); err != nil {
		CacheIncompatible.WithLabelValues(BackendSQLite).Inc()
		s.logger.Warn().Err(err).Str("partition", key).Msg("Ignoring partition")
		return PartitionInfo{}, "", false, nil
	}
	info.UpdatedAt = time.UnixMilli(updated).UTC()
	return info, table, true, nil
}
