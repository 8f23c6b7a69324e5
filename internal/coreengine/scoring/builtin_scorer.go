package scoring

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"asr-eval-driver/internal/coreengine/metricscalculator"
	"asr-eval-driver/internal/manifest"
	"asr-eval-driver/internal/models"

	"github.com/rs/zerolog"
)

// BuiltinScorer aligns transcripts in-process with the metrics calculator.
// Utterances are taken from the reference; a hypothesis missing an utterance
// scores it as all deletions and extra hypothesis utterances are ignored.
type BuiltinScorer struct {
	CharLevel bool
	Verbose   bool
	Log       zerolog.Logger
}

// Score reads both transcript files and sums the alignment counts.
func (s *BuiltinScorer) Score(ctx context.Context, referencePath, hypothesisPath string) (Score, error) {
	ref, err := manifest.ReadTranscripts(referencePath)
	if err != nil {
		return Score{}, fmt.Errorf("read reference: %w", err)
	}
	hyp, err := manifest.ReadTranscripts(hypothesisPath)
	if err != nil {
		return Score{}, fmt.Errorf("read hypothesis: %w", err)
	}

	var out bytes.Buffer
	var total models.ErrorCounts
	missing := 0
	for _, key := range ref.Keys() {
		if err := ctx.Err(); err != nil {
			return Score{}, err
		}
		refText, _ := ref.Text(key)
		hypText, ok := hyp.Text(key)
		if !ok {
			missing++
		}
		counts := metricscalculator.Align(
			metricscalculator.Tokenize(refText, s.CharLevel),
			metricscalculator.Tokenize(hypText, s.CharLevel),
		)
		total = total.Add(counts)
		if s.Verbose {
			out.WriteString(formatUtterance(key, counts, refText, hypText))
		}
	}
	if missing > 0 {
		s.Log.Warn().Int("missing", missing).Str("path", hypothesisPath).Msg("hypothesis lacks reference utterances; scored as deletions")
	}
	if extra := countExtra(ref, hyp); extra > 0 {
		s.Log.Warn().Int("extra", extra).Str("path", hypothesisPath).Msg("hypothesis utterances without reference ignored")
	}
	if total.N == 0 {
		return Score{}, errors.New("reference has no tokens to score against")
	}

	out.WriteString(FormatSummary(total))
	out.WriteByte('\n')
	return Score{ErrorRate: total.Rate(), Counts: total, Output: out.Bytes()}, nil
}

func countExtra(ref, hyp *manifest.Transcripts) int {
	n := 0
	for _, key := range hyp.Keys() {
		if _, ok := ref.Text(key); !ok {
			n++
		}
	}
	return n
}
