package transcript

import (
	"context"
	"fmt"
	"strings"
)

// Search finds entries whose message or response match query, best first.
// Terms are ORed together; FTS5 operators in the input are stripped.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	match := buildMatch(query)
	if match == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.run_id, r.session_key, r.source, r.message, r.response, r.outcome, r.error, r.started_at, r.finished_at
		FROM runs_fts
		JOIN runs r ON r.id = runs_fts.rowid
		WHERE runs_fts MATCH ?
		ORDER BY runs_fts.rank
		LIMIT ?
	`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("transcript search failed: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func buildMatch(query string) string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if t := cleanTerm(w); t != "" {
			terms = append(terms, t)
		}
	}
	return strings.Join(terms, " OR ")
}

func cleanTerm(term string) string {
	var b strings.Builder
	for _, ch := range term {
		switch ch {
		case '"', '*', '(', ')', ':', '^', '{', '}', '+', '-':
		default:
			b.WriteRune(ch)
		}
	}
	t := strings.TrimSpace(b.String())
	switch t {
	case "or", "and", "not", "near":
		return ""
	}
	return t
}
