package datastore

import (
	"context"
	"fmt"

	"asr-eval-driver/internal/models"
)

// SaveResult upserts one variant result of a job.
func (s *Store) SaveResult(ctx context.Context, jobID string, result models.EvaluationResult) error {
	row := NewASREvaluationResult(jobID, result)
	query := `
		INSERT INTO asr_evaluation_results (
			job_id, variant_name, transcript_path, scorer_output_path, error_rate,
			ref_tokens, correct, substitutions, deletions, insertions,
			decode_ms, score_ms, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (job_id, variant_name) DO UPDATE SET
			transcript_path = EXCLUDED.transcript_path,
			scorer_output_path = EXCLUDED.scorer_output_path,
			error_rate = EXCLUDED.error_rate,
			ref_tokens = EXCLUDED.ref_tokens,
			correct = EXCLUDED.correct,
			substitutions = EXCLUDED.substitutions,
			deletions = EXCLUDED.deletions,
			insertions = EXCLUDED.insertions,
			decode_ms = EXCLUDED.decode_ms,
			score_ms = EXCLUDED.score_ms,
			created_at = EXCLUDED.created_at
		RETURNING id
	`
	err := s.DB.QueryRowContext(ctx, query,
		row.JobID, row.VariantName, row.TranscriptPath, row.ScorerOutputPath, row.ErrorRate,
		row.Counts.N, row.Counts.C, row.Counts.S, row.Counts.D, row.Counts.I,
		row.DecodeMs, row.ScoreMs, row.CreatedAt,
	).Scan(&row.ID)
	if err != nil {
		return fmt.Errorf("failed to save result for variant %s: %w", row.VariantName, err)
	}
	return nil
}

// ResultsForJob returns a job's results in the order they were first saved.
func (s *Store) ResultsForJob(ctx context.Context, jobID string) ([]models.EvaluationResult, error) {
	query := `
		SELECT id, job_id, variant_name, transcript_path, scorer_output_path, error_rate,
			ref_tokens, correct, substitutions, deletions, insertions, decode_ms, score_ms, created_at
		FROM asr_evaluation_results
		WHERE job_id = $1
		ORDER BY id ASC
	`
	rows, err := s.DB.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results for job %s: %w", jobID, err)
	}
	defer rows.Close()

	results := []models.EvaluationResult{}
	for rows.Next() {
		var r ASREvaluationResult
		if err := rows.Scan(
			&r.ID, &r.JobID, &r.VariantName, &r.TranscriptPath, &r.ScorerOutputPath, &r.ErrorRate,
			&r.Counts.N, &r.Counts.C, &r.Counts.S, &r.Counts.D, &r.Counts.I,
			&r.DecodeMs, &r.ScoreMs, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}
		results = append(results, r.Model())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results for job %s: %w", jobID, err)
	}
	return results, nil
}
