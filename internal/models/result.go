package models

import "time"

// ErrorCounts is the alignment summary between a reference and a hypothesis.
// N is the number of reference tokens, C correct, S substitutions, D deletions, I insertions.
type ErrorCounts struct {
	N int `json:"n"`
	C int `json:"c"`
	S int `json:"s"`
	D int `json:"d"`
	I int `json:"i"`
}

// Errors is the edit distance S+D+I.
func (c ErrorCounts) Errors() int {
	return c.S + c.D + c.I
}

// Rate is Errors/N, or 0 when there is no reference token.
func (c ErrorCounts) Rate() float64 {
	if c.N == 0 {
		return 0
	}
	return float64(c.Errors()) / float64(c.N)
}

// Add sums two counts.
func (c ErrorCounts) Add(o ErrorCounts) ErrorCounts {
	return ErrorCounts{N: c.N + o.N, C: c.C + o.C, S: c.S + o.S, D: c.D + o.D, I: c.I + o.I}
}

// EvaluationResult is produced once per successfully decoded and scored variant.
type EvaluationResult struct {
	VariantName          string        `json:"variant_name"`
	OutputTranscriptPath string        `json:"output_transcript_path"`
	ScorerOutputPath     string        `json:"scorer_output_path"`
	ErrorRate            float64       `json:"error_rate"`
	Counts               ErrorCounts   `json:"counts"`
	DecodeDuration       time.Duration `json:"decode_duration_ns"`
	ScoreDuration        time.Duration `json:"score_duration_ns"`
	CompletedAt          time.Time     `json:"completed_at"`
}
