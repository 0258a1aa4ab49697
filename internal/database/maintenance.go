package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// Size returns the size of the main database file in bytes, from its page
// count. WAL contents not yet checkpointed are not included.
func Size(ctx context.Context, db *sql.DB) (int64, error) {
	var pages, pageSize int64
	if err := db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pages); err != nil {
		return 0, fmt.Errorf("failed to read page count: %w", err)
	}
	if err := db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, fmt.Errorf("failed to read page size: %w", err)
	}
	return pages * pageSize, nil
}

// Compact rebuilds the database file and refreshes query planner
// statistics. It returns the number of bytes reclaimed.
func Compact(ctx context.Context, db *sql.DB) (int64, error) {
	before, err := Size(ctx, db)
	if err != nil {
		return 0, err
	}

	log.Printf("[Database] Starting VACUUM (%d bytes)", before)
	if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
		return 0, fmt.Errorf("VACUUM failed: %w", err)
	}
	if _, err := db.ExecContext(ctx, "ANALYZE"); err != nil {
		return 0, fmt.Errorf("ANALYZE failed: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		log.Printf("[Database] Warning: PRAGMA optimize failed: %v", err)
	}

	after, err := Size(ctx, db)
	if err != nil {
		return 0, err
	}
	reclaimed := before - after
	if reclaimed < 0 {
		reclaimed = 0
	}
	log.Printf("[Database] VACUUM completed, %d bytes reclaimed", reclaimed)
	return reclaimed, nil
}

// BackupInto writes a consistent copy of the database to dest, which must
// not exist yet.
func BackupInto(ctx context.Context, db *sql.DB, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("backup target %s already exists", dest)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0700); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	query := fmt.Sprintf("VACUUM INTO '%s'", strings.ReplaceAll(dest, "'", "''"))
	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}
	return nil
}
