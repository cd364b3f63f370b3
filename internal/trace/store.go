package trace

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - flushes and events tables
// 2 - index on events.label for node history lookups
const currentSchemaVersion = 2

// ErrFlushNotFound is returned by ReadFlush for an unknown flush id.
var ErrFlushNotFound = errors.New("flush not found")

// Store persists trace events in SQLite.
type Store struct {
	db *sql.DB
}

// FlushSummary is one row of ListFlushes.
type FlushSummary struct {
	ID          string
	StartedSeq  int64
	FinishedSeq int64 // 0 while the flush has no recorded end
	Steps       int
	Rewinds     int
	Swept       int
	Error       string
	Events      int
}

// Open creates or opens a trace database at path, applying pragmas and
// migrations. Opening an existing database is safe.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < 2 {
		if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_events_label ON events(label, seq)`); err != nil {
			return fmt.Errorf("migrate to v2: %w", err)
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// WriteEvents stores events in one transaction. Events whose seq is already
// stored are skipped, so writing the same batch twice is harmless.
func (s *Store) WriteEvents(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write events: %w", err)
	}
	defer tx.Rollback()

	for _, ev := range events {
		payload, err := ev.MarshalCanonical()
		if err != nil {
			return fmt.Errorf("write event %d: %w", ev.Seq, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO events (seq, flush_id, kind, label, payload)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(seq) DO NOTHING
		`, ev.Seq, ev.FlushID, string(ev.Kind), ev.Label, string(payload)); err != nil {
			return fmt.Errorf("write event %d: %w", ev.Seq, err)
		}

		switch ev.Kind {
		case KindFlushStart:
			_, err = tx.ExecContext(ctx, `
				INSERT INTO flushes (id, started_seq)
				VALUES (?, ?)
				ON CONFLICT(id) DO NOTHING
			`, ev.FlushID, ev.Seq)
		case KindFlushEnd:
			_, err = tx.ExecContext(ctx, `
				UPDATE flushes
				SET finished_seq = ?, steps = ?, rewinds = ?, swept = ?, error = ?
				WHERE id = ?
			`, ev.Seq, ev.Steps, ev.Rewinds, ev.Swept, ev.Error, ev.FlushID)
		}
		if err != nil {
			return fmt.Errorf("write flush %s: %w", ev.FlushID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write events: %w", err)
	}
	return nil
}

// ListFlushes returns every stored flush in start order.
func (s *Store) ListFlushes(ctx context.Context) ([]FlushSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.started_seq, COALESCE(f.finished_seq, 0), f.steps, f.rewinds, f.swept, f.error,
		       (SELECT COUNT(*) FROM events e WHERE e.flush_id = f.id)
		FROM flushes f
		ORDER BY f.started_seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query flushes: %w", err)
	}
	defer rows.Close()

	out := []FlushSummary{}
	for rows.Next() {
		var f FlushSummary
		if err := rows.Scan(&f.ID, &f.StartedSeq, &f.FinishedSeq, &f.Steps, &f.Rewinds, &f.Swept, &f.Error, &f.Events); err != nil {
			return nil, fmt.Errorf("scan flush: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flushes: %w", err)
	}
	return out, nil
}

// ReadFlush returns the events of one flush ordered by seq.
func (s *Store) ReadFlush(ctx context.Context, id string) ([]Event, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM flushes WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("read flush %s: %w", id, err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("read flush %s: %w", id, ErrFlushNotFound)
	}
	return s.queryEvents(ctx, `
		SELECT payload FROM events WHERE flush_id = ? ORDER BY seq ASC
	`, id)
}

// NodeHistory returns every stored event for the node with the given label,
// across flushes, ordered by seq.
func (s *Store) NodeHistory(ctx context.Context, label string) ([]Event, error) {
	return s.queryEvents(ctx, `
		SELECT payload FROM events WHERE label = ? ORDER BY seq ASC
	`, label)
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	out := []Event{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var ev Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// MaxSeq returns the highest stored seq, or 0 for an empty store. A new
// engine clock started at this value keeps sequence numbers unique across
// runs that share a database.
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("get max seq: %w", err)
	}
	return seq, nil
}
