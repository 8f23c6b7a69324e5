package models

import (
	"encoding/json"
	"time"
)

// JobStatus values mirror the evaluation_jobs.status column.
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
)

// Job is one execution of the evaluation driver over a run configuration.
type Job struct {
	ID          string             `json:"id"`
	Name        string             `json:"name,omitempty"`
	Status      JobStatus          `json:"status"`
	Config      json.RawMessage    `json:"config,omitempty"`
	OutputDir   string             `json:"output_dir"`
	Error       string             `json:"error,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
	Results     []EvaluationResult `json:"results"`
}

// Clone returns a copy that does not share the results slice.
func (j *Job) Clone() Job {
	c := *j
	c.Results = make([]EvaluationResult, len(j.Results))
	copy(c.Results, j.Results)
	return c
}

// Finished reports whether the job reached a terminal status.
func (j *Job) Finished() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}
