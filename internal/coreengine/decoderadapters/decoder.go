package decoderadapters

import (
	"context"

	"asr-eval-driver/internal/models"
)

// DecodeRequest carries everything a decoder needs for one variant run.
type DecodeRequest struct {
	Variant      models.ModelVariant
	Config       models.DecodeConfig
	ManifestPath string
	// ResultPath receives the "utterance_id text" transcript.
	ResultPath string
	// LogPath, when set, receives the decoder's diagnostic output.
	LogPath string
}

// Decoder produces a transcript for every utterance of the manifest.
type Decoder interface {
	Decode(ctx context.Context, req DecodeRequest) error
}
