package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"asr-eval-driver/internal/models"
)

// CreateJob inserts a new job row.
func (s *Store) CreateJob(ctx context.Context, job *models.Job) error {
	row := NewEvaluationJob(job)
	query := `
		INSERT INTO evaluation_jobs (id, job_name, status, config, output_dir, error_message, created_at, updated_at, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.DB.ExecContext(ctx, query,
		row.ID, row.JobName, row.Status, configJSON(row.Config), row.OutputDir,
		row.ErrorMessage, row.CreatedAt, time.Now().UTC(), row.StartedAt, row.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create evaluation job: %w", err)
	}
	return nil
}

// UpdateJob writes the job's status, error and timestamps.
func (s *Store) UpdateJob(ctx context.Context, job *models.Job) error {
	row := NewEvaluationJob(job)
	query := `
		UPDATE evaluation_jobs
		SET status = $1, error_message = $2, started_at = $3, completed_at = $4, updated_at = $5
		WHERE id = $6
	`
	result, err := s.DB.ExecContext(ctx, query, row.Status, row.ErrorMessage, row.StartedAt, row.CompletedAt, time.Now().UTC(), row.ID)
	if err != nil {
		return fmt.Errorf("failed to update evaluation job %s: %w", row.ID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected for job %s: %w", row.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("evaluation job %s: %w", row.ID, ErrNotFound)
	}
	return nil
}

const jobColumns = `id, job_name, status, config, output_dir, error_message, created_at, updated_at, started_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (EvaluationJob, error) {
	var e EvaluationJob
	var cfg []byte
	err := r.Scan(&e.ID, &e.JobName, &e.Status, &cfg, &e.OutputDir, &e.ErrorMessage,
		&e.CreatedAt, &e.UpdatedAt, &e.StartedAt, &e.CompletedAt)
	e.Config = cfg
	return e, err
}

// GetJob loads a job and its results.
func (s *Store) GetJob(ctx context.Context, id string) (*models.Job, error) {
	row, err := scanJob(s.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM evaluation_jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("evaluation job %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get evaluation job: %w", err)
	}
	job := row.Model()
	results, err := s.ResultsForJob(ctx, id)
	if err != nil {
		return nil, err
	}
	job.Results = results
	return &job, nil
}

// ListJobs returns the most recent jobs first, without results.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT `+jobColumns+` FROM evaluation_jobs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list evaluation jobs: %w", err)
	}
	defer rows.Close()

	jobs := []models.Job{}
	for rows.Next() {
		row, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan evaluation job: %w", err)
		}
		jobs = append(jobs, row.Model())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating evaluation jobs: %w", err)
	}
	return jobs, nil
}
