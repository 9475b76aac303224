package storage

import (
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migration represents an applied schema migration.
type Migration struct {
	Version     int
	AppliedAt   time.Time
	Description string
	Checksum    string
}

// Migrator applies the embedded schema migrations.
type Migrator struct {
	db    *sql.DB
	files fs.FS
}

// NewMigrator creates a Migrator reading V<n>__<description>.up.sql and
// .down.sql files from files.
func NewMigrator(db *sql.DB, files fs.FS) *Migrator {
	return &Migrator{db: db, files: files}
}

// Initialize creates the schema_migrations table if it doesn't exist.
func (m *Migrator) Initialize() error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL CHECK(applied_at > 0),
		description TEXT NOT NULL CHECK(length(description) > 0),
		checksum TEXT NOT NULL CHECK(length(checksum) = 64)
	);`
	_, err := m.db.Exec(query)
	return err
}

// CurrentVersion returns the current schema version.
func (m *Migrator) CurrentVersion() (int, error) {
	var version int
	err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// Applied returns all applied migrations ordered by version.
func (m *Migrator) Applied() ([]Migration, error) {
	rows, err := m.db.Query("SELECT version, applied_at, description, checksum FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var migrations []Migration
	for rows.Next() {
		var mig Migration
		var appliedAt int64
		if err := rows.Scan(&mig.Version, &appliedAt, &mig.Description, &mig.Checksum); err != nil {
			return nil, err
		}
		mig.AppliedAt = time.Unix(appliedAt, 0)
		migrations = append(migrations, mig)
	}
	return migrations, rows.Err()
}

type migrationFile struct {
	version     int
	description string
	name        string
}

// pending lists the up migrations found in m.files, sorted by version.
func (m *Migrator) pending() ([]migrationFile, error) {
	return m.scan(".up.sql")
}

// scan lists the migration files ending in suffix, sorted by version.
func (m *Migrator) scan(suffix string) ([]migrationFile, error) {
	entries, err := fs.ReadDir(m.files, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	var files []migrationFile
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, suffix) {
			continue
		}

		// V1__create_kv.up.sql
		parts := strings.SplitN(strings.TrimSuffix(name, suffix), "__", 2)
		if len(parts) < 2 {
			continue
		}
		version, err := strconv.Atoi(strings.TrimPrefix(parts[0], "V"))
		if err != nil {
			continue
		}
		files = append(files, migrationFile{version: version, description: parts[1], name: name})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].version < files[j].version
	})
	return files, nil
}

// Up applies all pending migrations. An applied migration whose file
// content changed since it was applied is reported as an error.
func (m *Migrator) Up() error {
	applied, err := m.Applied()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}
	checksums := make(map[int]string, len(applied))
	for _, mig := range applied {
		checksums[mig.Version] = mig.Checksum
	}

	files, err := m.pending()
	if err != nil {
		return err
	}

	for _, file := range files {
		content, err := fs.ReadFile(m.files, "migrations/"+file.name)
		if err != nil {
			return fmt.Errorf("failed to read migration file: %w", err)
		}
		sum := sha256.Sum256(content)
		checksum := hex.EncodeToString(sum[:])

		if existing, ok := checksums[file.version]; ok {
			if existing != checksum {
				return fmt.Errorf("migration V%d was modified after being applied", file.version)
			}
			continue
		}

		if err := m.apply(file, string(content), checksum); err != nil {
			return fmt.Errorf("failed to apply migration V%d: %w", file.version, err)
		}
	}
	return nil
}

func (m *Migrator) apply(file migrationFile, content, checksum string) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(content); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	query := `INSERT INTO schema_migrations (version, applied_at, description, checksum)
			  VALUES (?, ?, ?, ?)`
	if _, err := tx.Exec(query, file.version, time.Now().Unix(), file.description, checksum); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}

// Down reverts the most recently applied migration using its
// V<n>__<description>.down.sql file. With nothing applied it does nothing.
func (m *Migrator) Down() error {
	version, err := m.CurrentVersion()
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}
	if version == 0 {
		return nil
	}

	files, err := m.scan(".down.sql")
	if err != nil {
		return err
	}
	var file *migrationFile
	for i := range files {
		if files[i].version == version {
			file = &files[i]
			break
		}
	}
	if file == nil {
		return fmt.Errorf("no down migration for V%d", version)
	}

	content, err := fs.ReadFile(m.files, "migrations/"+file.name)
	if err != nil {
		return fmt.Errorf("failed to read migration file: %w", err)
	}

	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(string(content)); err != nil {
		return fmt.Errorf("failed to revert migration V%d: %w", version, err)
	}
	if _, err := tx.Exec("DELETE FROM schema_migrations WHERE version = ?", version); err != nil {
		return fmt.Errorf("failed to unrecord migration V%d: %w", version, err)
	}
	return tx.Commit()
}
