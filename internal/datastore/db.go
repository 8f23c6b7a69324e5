package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// ErrNotFound is returned when a job does not exist.
var ErrNotFound = errors.New("not found")

// Store persists evaluation jobs and their per-variant results in Postgres.
type Store struct {
	DB *sql.DB
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dataSourceName string) (*Store, error) {
	db, err := sql.Open("postgres", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS evaluation_jobs (
	id            UUID PRIMARY KEY,
	job_name      TEXT,
	status        TEXT NOT NULL,
	config        JSONB,
	output_dir    TEXT NOT NULL,
	error_message TEXT,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	started_at    TIMESTAMPTZ,
	completed_at  TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS asr_evaluation_results (
	id                 BIGSERIAL PRIMARY KEY,
	job_id             UUID NOT NULL REFERENCES evaluation_jobs(id) ON DELETE CASCADE,
	variant_name       TEXT NOT NULL,
	transcript_path    TEXT NOT NULL,
	scorer_output_path TEXT,
	error_rate         DOUBLE PRECISION NOT NULL,
	ref_tokens         INTEGER NOT NULL,
	correct            INTEGER NOT NULL,
	substitutions      INTEGER NOT NULL,
	deletions          INTEGER NOT NULL,
	insertions         INTEGER NOT NULL,
	decode_ms          BIGINT NOT NULL,
	score_ms           BIGINT NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL,
	UNIQUE (job_id, variant_name)
);
`

// EnsureSchema creates the tables when they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}
