package datastore

import (
	"database/sql"
	"encoding/json"
	"time"

	"asr-eval-driver/internal/models"
)

// EvaluationJob maps to the evaluation_jobs table.
type EvaluationJob struct {
	ID           string
	JobName      sql.NullString
	Status       string
	Config       json.RawMessage
	OutputDir    string
	ErrorMessage sql.NullString
	CreatedAt    time.Time
	UpdatedAt    time.Time
	StartedAt    sql.NullTime
	CompletedAt  sql.NullTime
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// configJSON returns the stored config, or JSON null when there is none.
func configJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	return raw
}

// NewEvaluationJob converts a job into its row form.
func NewEvaluationJob(job *models.Job) EvaluationJob {
	return EvaluationJob{
		ID:           job.ID,
		JobName:      nullString(job.Name),
		Status:       string(job.Status),
		Config:       job.Config,
		OutputDir:    job.OutputDir,
		ErrorMessage: nullString(job.Error),
		CreatedAt:    job.CreatedAt,
		StartedAt:    nullTime(job.StartedAt),
		CompletedAt:  nullTime(job.CompletedAt),
	}
}

// Model converts the row back into a job without results.
func (e EvaluationJob) Model() models.Job {
	job := models.Job{
		ID:          e.ID,
		Name:        e.JobName.String,
		Status:      models.JobStatus(e.Status),
		OutputDir:   e.OutputDir,
		Error:       e.ErrorMessage.String,
		CreatedAt:   e.CreatedAt,
		StartedAt:   timePtr(e.StartedAt),
		CompletedAt: timePtr(e.CompletedAt),
		Results:     []models.EvaluationResult{},
	}
	if len(e.Config) > 0 && string(e.Config) != "null" {
		job.Config = e.Config
	}
	return job
}
