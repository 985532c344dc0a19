// Package diagnostics persists session lifecycle, per-stage timings, and
// error kinds for offline inspection. It deliberately never records
// transcript or assistant text — those stay in-memory only (C4) and are
// out of scope for durable storage.
package diagnostics

import (
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/hubenschmidt/voice-streaming-gateway/internal/errs"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Store persists diagnostics to PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to a diagnostics database at connStr and applies any
// pending migrations.
func Open(connStr string) (*Store, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("diagnostics open: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("diagnostics ping: %w", err)
	}
	if err = migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("diagnostics migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`)
	if err != nil {
		return err
	}

	var current int
	row := db.QueryRow(`SELECT COALESCE(MAX(version), -1) FROM schema_version`)
	if err = row.Scan(&current); err != nil {
		return err
	}

	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	for i := current + 1; i < len(entries); i++ {
		data, readErr := migrationFS.ReadFile("migrations/" + entries[i].Name())
		if readErr != nil {
			return fmt.Errorf("read migration %d: %w", i, readErr)
		}
		if _, execErr := db.Exec(string(data)); execErr != nil {
			return fmt.Errorf("migration %d: %w", i, execErr)
		}
		if _, execErr := db.Exec(`INSERT INTO schema_version (version) VALUES ($1)`, i); execErr != nil {
			return fmt.Errorf("migration %d record: %w", i, execErr)
		}
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordSessionStart inserts a new session row.
func (s *Store) RecordSessionStart(sessionID string) error {
	_, err := s.db.Exec(
		`INSERT INTO sessions (id, started_at) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		sessionID, time.Now().UTC(),
	)
	return err
}

// RecordSessionEnd sets a session's ended_at timestamp.
func (s *Store) RecordSessionEnd(sessionID string) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET ended_at = $1 WHERE id = $2`,
		time.Now().UTC(), sessionID,
	)
	return err
}

// RecordStage logs one stage's duration (e.g. "stt", "llm", "tts_first_chunk").
func (s *Store) RecordStage(sessionID, stage string, duration time.Duration) error {
	_, err := s.db.Exec(
		`INSERT INTO stage_events (session_id, stage, duration_ms, recorded_at) VALUES ($1, $2, $3, $4)`,
		sessionID, stage, float64(duration.Milliseconds()), time.Now().UTC(),
	)
	return err
}

// RecordError logs one error occurrence by stage and fixed taxonomy kind.
func (s *Store) RecordError(sessionID, stage string, kind errs.Kind) error {
	_, err := s.db.Exec(
		`INSERT INTO error_events (session_id, stage, kind, recorded_at) VALUES ($1, $2, $3, $4)`,
		sessionID, stage, string(kind), time.Now().UTC(),
	)
	return err
}
