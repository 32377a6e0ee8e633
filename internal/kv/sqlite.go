package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

const (
	sqlGet = `SELECT value FROM kv WHERE key = ?`

	sqlUsedExcluding = `SELECT COALESCE(SUM(size), 0) FROM kv WHERE key <> ?`

	sqlUpsert = `INSERT INTO kv (key, value, size, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			size = excluded.size,
			updated_at = excluded.updated_at`

	sqlDelete = `DELETE FROM kv WHERE key = ?`

	sqlKeys = `SELECT key FROM kv WHERE substr(key, 1, length(?)) = ? ORDER BY key`
)

// SQLite is a durable Store backed by a single SQLite database file. The
// connection pool is capped at one connection, making this process the sole
// writer.
type SQLite struct {
	db       *sql.DB
	logger   *slog.Logger
	maxBytes int64
	nowFunc  func() time.Time
}

// OpenSQLite opens (creating if needed) the database at dbPath and applies
// migrations. maxBytes <= 0 disables the quota.
func OpenSQLite(ctx context.Context, dbPath string, maxBytes int64, logger *slog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=busy_timeout(5000)&_pragma=journal_size_limit(67108864)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("kv: opening database %s: %w", dbPath, err)
	}

	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("kv: connecting to %s: %w", dbPath, err)
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("kv store initialized",
		slog.String("db_path", dbPath),
		slog.Int64("max_bytes", maxBytes),
	)

	return &SQLite{
		db:       db,
		logger:   logger,
		maxBytes: maxBytes,
		nowFunc:  time.Now,
	}, nil
}

// Get reads the value stored under key.
func (s *SQLite) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte

	err := s.db.QueryRowContext(ctx, sqlGet, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("kv: get %s: %w", key, err)
	}

	return value, true, nil
}

// Set upserts value under key inside a transaction that also checks the quota.
func (s *SQLite) Set(ctx context.Context, key string, value []byte) error {
	size := entrySize(key, value)

	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		if s.maxBytes > 0 {
			var used int64
			if err := tx.QueryRowContext(ctx, sqlUsedExcluding, key).Scan(&used); err != nil {
				return fmt.Errorf("kv: measuring usage: %w", err)
			}

			if used+size > s.maxBytes {
				return ErrQuotaExceeded
			}
		}

		if _, err := tx.ExecContext(ctx, sqlUpsert, key, value, size, s.nowFunc().UnixNano()); err != nil {
			return fmt.Errorf("kv: set %s: %w", key, err)
		}

		return nil
	})
}

// Remove deletes key. Removing an absent key succeeds.
func (s *SQLite) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, sqlDelete, key); err != nil {
		return fmt.Errorf("kv: remove %s: %w", key, err)
	}

	return nil
}

// Keys lists keys starting with prefix in ascending order.
func (s *SQLite) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, sqlKeys, prefix, prefix)
	if err != nil {
		return nil, fmt.Errorf("kv: listing keys %q: %w", prefix, err)
	}
	defer rows.Close()

	var keys []string

	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("kv: scanning key: %w", err)
		}

		keys = append(keys, k)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("kv: iterating keys: %w", err)
	}

	return keys, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("kv: closing database: %w", err)
	}

	return nil
}

// withTx runs fn in a transaction, committing on success and rolling back on
// error or panic.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("kv: begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}

		if err != nil {
			_ = tx.Rollback()
			return
		}

		if cerr := tx.Commit(); cerr != nil {
			err = fmt.Errorf("kv: commit: %w", cerr)
		}
	}()

	return fn(tx)
}
