package decoderadapters

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// GoogleDecoder transcribes the manifest with Google Cloud Speech-to-Text.
//
// Variant options: language_code (en-US), sample_rate_hertz (16000),
// encoding (LINEAR16|FLAC|MP3), model, credentials_file. Without
// credentials_file the client falls back to GOOGLE_APPLICATION_CREDENTIALS.
type GoogleDecoder struct {
	Log zerolog.Logger
}

// NewGoogleDecoder creates a GoogleDecoder.
func NewGoogleDecoder(log zerolog.Logger) *GoogleDecoder {
	return &GoogleDecoder{Log: log.With().Str("engine", "google").Logger()}
}

func (g *GoogleDecoder) recognitionConfig(opts map[string]string) (*speechpb.RecognitionConfig, error) {
	get := func(key, def string) string {
		if v := opts[key]; v != "" {
			return v
		}
		return def
	}
	rate, err := strconv.ParseInt(get("sample_rate_hertz", "16000"), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid sample_rate_hertz: %w", err)
	}
	encoding := speechpb.RecognitionConfig_LINEAR16
	switch strings.ToUpper(get("encoding", "LINEAR16")) {
	case "LINEAR16":
	case "FLAC":
		encoding = speechpb.RecognitionConfig_FLAC
	case "MP3":
		encoding = speechpb.RecognitionConfig_MP3
	default:
		return nil, fmt.Errorf("unsupported encoding %q", opts["encoding"])
	}
	return &speechpb.RecognitionConfig{
		Encoding:        encoding,
		SampleRateHertz: int32(rate),
		LanguageCode:    get("language_code", "en-US"),
		Model:           opts["model"],
	}, nil
}

// Decode calls Recognize once per utterance.
func (g *GoogleDecoder) Decode(ctx context.Context, req DecodeRequest) error {
	config, err := g.recognitionConfig(req.Variant.Options)
	if err != nil {
		return err
	}

	var opts []option.ClientOption
	if credsPath := req.Variant.Options["credentials_file"]; credsPath != "" {
		opts = append(opts, option.WithCredentialsFile(credsPath))
	}
	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create Google Speech client: %w", err)
	}
	defer client.Close()

	log := g.Log.With().Str("variant", req.Variant.Name).Logger()
	return transcribeManifest(ctx, req, log, func(ctx context.Context, audio []byte, _ string) (string, error) {
		resp, err := client.Recognize(ctx, &speechpb.RecognizeRequest{
			Config: config,
			Audio:  &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Content{Content: audio}},
		})
		if err != nil {
			return "", fmt.Errorf("Google Speech API recognition failed: %w", err)
		}
		var parts []string
		for _, result := range resp.GetResults() {
			if alts := result.GetAlternatives(); len(alts) > 0 {
				parts = append(parts, alts[0].GetTranscript())
			}
		}
		return strings.Join(parts, " "), nil
	})
}
