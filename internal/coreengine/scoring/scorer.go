// Package scoring turns a hypothesis transcript into an error rate against a
// reference transcript, either through an external scorer process or in-process.
package scoring

import (
	"context"

	"asr-eval-driver/internal/models"
)

// Score is the outcome of one scoring invocation.
type Score struct {
	// ErrorRate is a fraction, 0.0 meaning a perfect hypothesis.
	ErrorRate float64
	Counts    models.ErrorCounts
	// Output is the scorer's report, persisted next to the transcript.
	Output []byte
}

// Scorer compares a hypothesis transcript with a reference transcript.
type Scorer interface {
	Score(ctx context.Context, referencePath, hypothesisPath string) (Score, error)
}
