// Package history keeps a local SQLite log of conversion runs, including
// every converter attempted and why it failed.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/AnyUserName/webpconv/internal/convert"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	source      TEXT NOT NULL,
	destination TEXT NOT NULL,
	converter   TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	size        INTEGER NOT NULL DEFAULT 0,
	hash        TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	attempts    TEXT NOT NULL,
	elapsed_ms  INTEGER NOT NULL,
	started_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_started_at ON runs (started_at);
`

// timeLayout is fixed width so that started_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Entry is one recorded run.
type Entry struct {
	RunID       string                   `json:"run_id"`
	Source      string                   `json:"source"`
	Destination string                   `json:"destination"`
	Converter   string                   `json:"converter,omitempty"`
	Status      string                   `json:"status"`
	Size        int64                    `json:"size,omitempty"`
	Hash        string                   `json:"hash,omitempty"`
	Error       string                   `json:"error,omitempty"`
	Attempts    []convert.AttemptSummary `json:"attempts"`
	ElapsedMS   int64                    `json:"elapsed_ms"`
	StartedAt   time.Time                `json:"started_at"`
}

// Store is a SQLite-backed run log.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path. ":memory:" works
// for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	// One connection: SQLite serializes writers anyway and :memory: is per
	// connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Status is the run outcome label stored for a report and its error.
func Status(r *convert.Report, err error) string {
	if err == nil && r.Succeeded() {
		return "succeeded"
	}
	return convert.KindOf(err).String()
}

// Record stores one finished run.
func (s *Store) Record(ctx context.Context, r *convert.Report, runErr error) error {
	attempts, err := json.Marshal(r.Summaries())
	if err != nil {
		return fmt.Errorf("encode attempts: %w", err)
	}
	var errText string
	if runErr != nil {
		errText = runErr.Error()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
			(run_id, source, destination, converter, status, size, hash, error, attempts, elapsed_ms, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Source, r.Destination, r.Winner, Status(r, runErr), r.Size, r.Hash, errText,
		string(attempts), r.Elapsed.Milliseconds(), r.Started.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", r.RunID, err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, source, destination, converter, status, size, hash, error, attempts, elapsed_ms, started_at
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			attempts string
			started  string
		)
		if err := rows.Scan(&e.RunID, &e.Source, &e.Destination, &e.Converter, &e.Status,
			&e.Size, &e.Hash, &e.Error, &attempts, &e.ElapsedMS, &started); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		if err := json.Unmarshal([]byte(attempts), &e.Attempts); err != nil {
			return nil, fmt.Errorf("decode attempts of %s: %w", e.RunID, err)
		}
		if e.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("decode time of %s: %w", e.RunID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ConverterStats counts wins per converter across all recorded runs.
func (s *Store) ConverterStats(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT converter, COUNT(*) FROM runs WHERE status = 'succeeded' GROUP BY converter`)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		out[name] = n
	}
	return out, rows.Err()
}
