package decoderadapters

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"asr-eval-driver/internal/manifest"

	"github.com/rs/zerolog"
)

// recognizeFunc transcribes one audio file.
type recognizeFunc func(ctx context.Context, audio []byte, audioPath string) (string, error)

// transcribeManifest runs recognize over every manifest utterance in order and
// writes one "utterance_id text" line per utterance. Any failed utterance fails
// the whole decode, matching a decoder process exiting non-zero.
func transcribeManifest(ctx context.Context, req DecodeRequest, log zerolog.Logger, recognize recognizeFunc) error {
	utts, err := manifest.ReadManifest(req.ManifestPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(req.ResultPath), 0o755); err != nil {
		return fmt.Errorf("create result dir: %w", err)
	}
	entries := make([]manifest.Entry, 0, len(utts))
	for i, utt := range utts {
		if err := ctx.Err(); err != nil {
			return err
		}
		audio, err := os.ReadFile(utt.AudioPath)
		if err != nil {
			return fmt.Errorf("utterance %s: read audio: %w", utt.ID, err)
		}
		start := time.Now()
		text, err := recognize(ctx, audio, utt.AudioPath)
		if err != nil {
			return fmt.Errorf("utterance %s: %w", utt.ID, err)
		}
		log.Debug().Str("utt", utt.ID).Dur("latency", time.Since(start)).Msg("recognized")
		if (i+1)%100 == 0 {
			log.Info().Int("done", i+1).Int("total", len(utts)).Msg("cloud decode progress")
		}
		entries = append(entries, manifest.Entry{Key: utt.ID, Value: strings.Join(strings.Fields(text), " ")})
	}

	f, err := os.Create(req.ResultPath)
	if err != nil {
		return fmt.Errorf("create result file: %w", err)
	}
	defer f.Close()
	if err := manifest.Write(f, entries); err != nil {
		return fmt.Errorf("write result file: %w", err)
	}
	return f.Close()
}
