package datastore

import (
	"database/sql"
	"time"

	"asr-eval-driver/internal/models"
)

// ASREvaluationResult maps to the asr_evaluation_results table.
type ASREvaluationResult struct {
	ID               int64
	JobID            string
	VariantName      string
	TranscriptPath   string
	ScorerOutputPath sql.NullString
	ErrorRate        float64
	Counts           models.ErrorCounts
	DecodeMs         int64
	ScoreMs          int64
	CreatedAt        time.Time
}

// NewASREvaluationResult converts a variant result into its row form.
func NewASREvaluationResult(jobID string, r models.EvaluationResult) ASREvaluationResult {
	created := r.CompletedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return ASREvaluationResult{
		JobID:            jobID,
		VariantName:      r.VariantName,
		TranscriptPath:   r.OutputTranscriptPath,
		ScorerOutputPath: nullString(r.ScorerOutputPath),
		ErrorRate:        r.ErrorRate,
		Counts:           r.Counts,
		DecodeMs:         r.DecodeDuration.Milliseconds(),
		ScoreMs:          r.ScoreDuration.Milliseconds(),
		CreatedAt:        created,
	}
}

// Model converts the row back into a variant result.
func (a ASREvaluationResult) Model() models.EvaluationResult {
	return models.EvaluationResult{
		VariantName:          a.VariantName,
		OutputTranscriptPath: a.TranscriptPath,
		ScorerOutputPath:     a.ScorerOutputPath.String,
		ErrorRate:            a.ErrorRate,
		Counts:               a.Counts,
		DecodeDuration:       time.Duration(a.DecodeMs) * time.Millisecond,
		ScoreDuration:        time.Duration(a.ScoreMs) * time.Millisecond,
		CompletedAt:          a.CreatedAt,
	}
}
