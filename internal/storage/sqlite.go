package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteFileName is the database file created inside the data directory.
const SQLiteFileName = "offlinesync.db"

// SQLite is a Store backed by a single SQLite table.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database in dataDir.
// The database is opened with:
// - WAL mode for concurrent readers
// - a single connection, so transactions are serialized in-process
// - busy timeout so a second process waits instead of failing
func OpenSQLite(dataDir string) (*SQLite, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("sqlite storage requires a data directory")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dataDir, SQLiteFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't support multiple writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", strings.TrimSuffix(pragma, ";"), err)
		}
	}

	migrator := NewMigrator(db, migrationFiles)
	if err := migrator.Initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize migrator: %w", err)
	}
	if err := migrator.Up(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storageErr("get", key, err)
	}
	return value, true, nil
}

const upsertQuery = `INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

func (s *SQLite) Set(ctx context.Context, key, value string) error {
	if _, err := s.db.ExecContext(ctx, upsertQuery, key, value, time.Now().UnixMilli()); err != nil {
		return storageErr("set", key, err)
	}
	return nil
}

func (s *SQLite) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
		return storageErr("remove", key, err)
	}
	return nil
}

func (s *SQLite) RemoveMany(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("remove", strings.Join(keys, ","), err)
	}
	defer tx.Rollback()

	for _, key := range keys {
		if _, err := tx.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
			return storageErr("remove", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storageErr("remove", strings.Join(keys, ","), err)
	}
	return nil
}

func (s *SQLite) ListKeys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM kv ORDER BY key")
	if err != nil {
		return nil, storageErr("list", "*", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, storageErr("list", "*", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list", "*", err)
	}
	return keys, nil
}

// Update runs fn inside a transaction.
func (s *SQLite) Update(ctx context.Context, key string, fn UpdateFunc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("update", key, err)
	}
	defer tx.Rollback()

	var current string
	ok := true
	err = tx.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		ok = false
	} else if err != nil {
		return storageErr("update", key, err)
	}

	next, keep, err := fn(current, ok)
	if err != nil {
		return err
	}

	if keep {
		_, err = tx.ExecContext(ctx, upsertQuery, key, next, time.Now().UnixMilli())
	} else {
		_, err = tx.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key)
	}
	if err != nil {
		return storageErr("update", key, err)
	}
	if err := tx.Commit(); err != nil {
		return storageErr("update", key, err)
	}
	return nil
}

// Size returns the total length of the values stored under keys.
func (s *SQLite) Size(ctx context.Context, keys []string) (int64, error) {
	var total int64
	for _, key := range keys {
		var n sql.NullInt64
		err := s.db.QueryRowContext(ctx, "SELECT length(CAST(value AS BLOB)) FROM kv WHERE key = ?", key).Scan(&n)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return 0, storageErr("size", key, err)
		}
		total += n.Int64
	}
	return total, nil
}
