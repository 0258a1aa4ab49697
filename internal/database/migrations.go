// Package database opens clawlink's local SQLite store and keeps its schema
// current.
package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Migration represents a database migration
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// GetMigrations returns all available migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_runs_table",
			SQL: `
				CREATE TABLE IF NOT EXISTS runs (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					run_id TEXT NOT NULL DEFAULT '',
					session_key TEXT NOT NULL,
					source TEXT NOT NULL DEFAULT 'cli',
					message TEXT NOT NULL,
					response TEXT NOT NULL DEFAULT '',
					outcome TEXT NOT NULL,
					error TEXT NOT NULL DEFAULT '',
					started_at DATETIME NOT NULL,
					finished_at DATETIME NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_runs_session_key ON runs (session_key);
				CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs (started_at);
				CREATE INDEX IF NOT EXISTS idx_runs_outcome ON runs (outcome);
			`,
		},
		{
			Version: 2,
			Name:    "create_runs_fts",
			SQL: `
				CREATE VIRTUAL TABLE IF NOT EXISTS runs_fts USING fts5(
					message,
					response,
					content=runs,
					content_rowid=id,
					tokenize='porter unicode61'
				);

				CREATE TRIGGER IF NOT EXISTS runs_ai AFTER INSERT ON runs BEGIN
					INSERT INTO runs_fts(rowid, message, response)
					VALUES (new.id, new.message, new.response);
				END;

				CREATE TRIGGER IF NOT EXISTS runs_ad AFTER DELETE ON runs BEGIN
					INSERT INTO runs_fts(runs_fts, rowid, message, response)
					VALUES ('delete', old.id, old.message, old.response);
				END;

				CREATE TRIGGER IF NOT EXISTS runs_au AFTER UPDATE ON runs BEGIN
					INSERT INTO runs_fts(runs_fts, rowid, message, response)
					VALUES ('delete', old.id, old.message, old.response);
					INSERT INTO runs_fts(rowid, message, response)
					VALUES (new.id, new.message, new.response);
				END;

				INSERT INTO runs_fts(rowid, message, response)
				SELECT id, message, response FROM runs;
			`,
		},
	}
}

// Open opens (creating if needed) the SQLite file at path and configures it
func Open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	if err := ConfigureDatabase(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// RunMigrations executes all pending migrations
func RunMigrations(db *sql.DB) error {
	if err := ensureMigrationsTable(db); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	currentVersion, err := CurrentVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	for _, migration := range GetMigrations() {
		if migration.Version <= currentVersion {
			continue
		}
		if err := runMigration(db, migration); err != nil {
			return fmt.Errorf("failed to run migration %d (%s): %w", migration.Version, migration.Name, err)
		}
	}
	return nil
}

func ensureMigrationsTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`)
	return err
}

// CurrentVersion returns the highest applied migration, or 0
func CurrentVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

// runMigration applies one migration and records it in the same transaction
func runMigration(db *sql.DB, migration Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(migration.SQL); err != nil {
		return err
	}

	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
		migration.Version, migration.Name,
	); err != nil {
		return err
	}

	return tx.Commit()
}

// ConfigureDatabase applies SQLite pragmas and runs migrations
func ConfigureDatabase(db *sql.DB) error {
	// SQLite serializes writes; WAL still allows concurrent readers.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to apply pragma '%s': %w", pragma, err)
		}
	}

	if err := RunMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
