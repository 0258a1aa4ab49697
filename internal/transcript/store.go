// Package transcript keeps a local SQLite record of finished agent runs.
package transcript

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"clawlink/internal/client"
	"clawlink/internal/database"
)

// Outcome is how a run ended
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

// DefaultListLimit caps List and Search when the caller passes 0
const DefaultListLimit = 20

// Entry is one recorded run
type Entry struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id,omitempty"`
	SessionKey string    `json:"session_key"`
	Source     string    `json:"source"` // "cli" or "schedule:<id>"
	Message    string    `json:"message"`
	Response   string    `json:"response,omitempty"`
	Outcome    Outcome   `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Duration is the wall time of the run
func (e Entry) Duration() time.Duration {
	return e.FinishedAt.Sub(e.StartedAt)
}

// Classify maps a SendMessage error to an outcome
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeCompleted
	case errors.Is(err, client.ErrRunTimeout), errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	case errors.Is(err, client.ErrCancelled), errors.Is(err, context.Canceled):
		return OutcomeCancelled
	default:
		return OutcomeFailed
	}
}

// Filter narrows List
type Filter struct {
	SessionKey string
	Source     string
	Outcome    Outcome
	Limit      int
}

// Store persists run entries
type Store struct {
	db *sql.DB
}

// NewStore opens the transcript database at path, applying migrations
func NewStore(path string) (*Store, error) {
	db, err := database.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts e and sets its ID
func (s *Store) Record(ctx context.Context, e *Entry) error {
	if e.SessionKey == "" {
		e.SessionKey = client.DefaultSessionKey
	}
	if e.Source == "" {
		e.Source = "cli"
	}
	if e.Outcome == "" {
		e.Outcome = OutcomeCompleted
	}
	if e.FinishedAt.IsZero() {
		e.FinishedAt = time.Now()
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = e.FinishedAt
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, session_key, source, message, response, outcome, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.RunID, e.SessionKey, e.Source, e.Message, e.Response, string(e.Outcome), e.Error,
		formatTime(e.StartedAt), formatTime(e.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read run id: %w", err)
	}
	e.ID = id
	log.Printf("[Transcript] Recorded run %d (%s, %s)", id, e.SessionKey, e.Outcome)
	return nil
}

// List returns entries newest first
func (s *Store) List(ctx context.Context, f Filter) ([]Entry, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}

	var (
		where []string
		args  []any
	)
	if f.SessionKey != "" {
		where = append(where, "session_key = ?")
		args = append(args, f.SessionKey)
	}
	if f.Source != "" {
		where = append(where, "source = ?")
		args = append(args, f.Source)
	}
	if f.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, string(f.Outcome))
	}

	query := "SELECT " + entryColumns + " FROM runs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, f.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Get returns one entry by ID
func (s *Store) Get(ctx context.Context, id int64) (*Entry, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+entryColumns+" FROM runs WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("run %d not found", id)
	}
	return &entries[0], nil
}

// Prune deletes entries that finished before cutoff
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE finished_at < ?", formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return res.RowsAffected()
}

// Compact merges the full-text index and rebuilds the database file,
// returning the bytes reclaimed. Run it after a large Prune.
func (s *Store) Compact(ctx context.Context) (int64, error) {
	if _, err := s.db.ExecContext(ctx, "INSERT INTO runs_fts(runs_fts) VALUES ('optimize')"); err != nil {
		return 0, fmt.Errorf("failed to optimize search index: %w", err)
	}
	return database.Compact(ctx, s.db)
}

// Backup writes a consistent copy of the transcript database to dest
func (s *Store) Backup(ctx context.Context, dest string) error {
	return database.BackupInto(ctx, s.db, dest)
}

const entryColumns = "id, run_id, session_key, source, message, response, outcome, error, started_at, finished_at"

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var (
			e                 Entry
			outcome           string
			started, finished string
		)
		if err := rows.Scan(&e.ID, &e.RunID, &e.SessionKey, &e.Source, &e.Message, &e.Response,
			&outcome, &e.Error, &started, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		e.Outcome = Outcome(outcome)
		e.StartedAt = parseTime(started)
		e.FinishedAt = parseTime(finished)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Times are stored as fixed-width UTC text so they compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
