// Package store provides SQLite-backed persistence for team-ai projects
// and phases. Records carry a rolling time-to-live so abandoned projects
// are reclaimed; all mutations are last-writer-wins read-modify-write on
// the full record.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// schemaV1 defines the initial database schema.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS projects (
	project_id     TEXT PRIMARY KEY,
	name           TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT 'initialized',
	current_phase  TEXT NOT NULL DEFAULT '',
	requirements   TEXT NOT NULL DEFAULT '',
	metadata_json  TEXT NOT NULL DEFAULT '{}',
	created_at     INTEGER NOT NULL DEFAULT 0,
	updated_at     INTEGER NOT NULL DEFAULT 0,
	expires_at     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS phases (
	project_id        TEXT NOT NULL,
	phase_type        TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'pending',
	input_json        TEXT NOT NULL DEFAULT '{}',
	output_json       TEXT,
	current_iteration INTEGER NOT NULL DEFAULT 0,
	max_iterations    INTEGER NOT NULL DEFAULT 3,
	started_at        INTEGER NOT NULL DEFAULT 0,
	completed_at      INTEGER NOT NULL DEFAULT 0,
	expires_at        INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (project_id, phase_type)
);

CREATE TABLE IF NOT EXISTS lifecycle_events (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id   TEXT NOT NULL,
	event_type   TEXT NOT NULL,
	payload_json TEXT NOT NULL DEFAULT '{}',
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_project ON lifecycle_events(project_id, id);

CREATE TABLE IF NOT EXISTS review_verdicts (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id    TEXT NOT NULL,
	phase_type    TEXT NOT NULL,
	iteration     INTEGER NOT NULL DEFAULT 0,
	approved      INTEGER NOT NULL DEFAULT 0,
	reviewer      TEXT NOT NULL DEFAULT '',
	feedback      TEXT NOT NULL DEFAULT '',
	suggestions_json TEXT NOT NULL DEFAULT '[]',
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_verdicts_project_phase ON review_verdicts(project_id, phase_type, id);
`

// DefaultTTL is the record time-to-live applied when none is configured.
const DefaultTTL = 24 * time.Hour

// NewDB opens a SQLite database at the given path with recommended pragmas
// and runs the V1 schema migration.
func NewDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Limit connections to 1 for SQLite (WAL allows concurrent reads but single writer).
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return db, nil
}

func migrate(db *sql.DB) error {
	_, err := db.ExecContext(context.Background(), schemaV1)
	return err
}

// Store is the durable state store for projects and phases.
type Store struct {
	DB *sql.DB

	// TTL is the rolling time-to-live refreshed on every record write.
	TTL time.Duration
	// MaxIterations is the review-loop bound stamped onto new phase records.
	MaxIterations int

	now func() time.Time
}

// New creates a Store over an open database. Zero ttl falls back to
// DefaultTTL; zero maxIterations falls back to 3.
func New(db *sql.DB, ttl time.Duration, maxIterations int) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxIterations <= 0 {
		maxIterations = 3
	}
	return &Store{
		DB:            db,
		TTL:           ttl,
		MaxIterations: maxIterations,
		now:           time.Now,
	}
}

// expiry returns the expires_at value for a write happening now.
func (s *Store) expiry(now time.Time) int64 {
	return now.Add(s.TTL).Unix()
}
