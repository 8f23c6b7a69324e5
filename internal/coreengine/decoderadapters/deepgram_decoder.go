package decoderadapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const deepgramBaseURL = "https://api.deepgram.com/v1/listen"

// deepgramParamPrefix marks variant options forwarded as query parameters,
// e.g. "param.smart_format: true".
const deepgramParamPrefix = "param."

// DeepgramDecoder transcribes each manifest utterance with the Deepgram REST API.
type DeepgramDecoder struct {
	HTTPClient *http.Client
	Log        zerolog.Logger
}

// NewDeepgramDecoder creates a DeepgramDecoder.
func NewDeepgramDecoder(log zerolog.Logger) *DeepgramDecoder {
	return &DeepgramDecoder{
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		Log:        log.With().Str("engine", "deepgram").Logger(),
	}
}

// deepgramResponse keeps only the fields the decoder reads.
type deepgramResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func deepgramURL(opts map[string]string) (string, error) {
	base := deepgramBaseURL
	if v := opts["endpoint"]; v != "" {
		base = v
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse deepgram endpoint: %w", err)
	}
	q := u.Query()
	if v := opts["language"]; v != "" {
		q.Set("language", v)
	}
	if v := opts["model"]; v != "" {
		q.Set("model", v)
	}
	keys := make([]string, 0, len(opts))
	for k := range opts {
		if strings.HasPrefix(k, deepgramParamPrefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		q.Set(strings.TrimPrefix(k, deepgramParamPrefix), opts[k])
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Decode posts every utterance's audio and writes the first alternative.
func (d *DeepgramDecoder) Decode(ctx context.Context, req DecodeRequest) error {
	opts := req.Variant.Options
	apiKey := firstNonEmpty(opts["api_key"], os.Getenv("DEEPGRAM_API_KEY"))
	if apiKey == "" {
		return errors.New("deepgram api key is missing (option api_key or DEEPGRAM_API_KEY)")
	}
	endpoint, err := deepgramURL(opts)
	if err != nil {
		return err
	}
	client := d.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	log := d.Log.With().Str("variant", req.Variant.Name).Logger()
	return transcribeManifest(ctx, req, log, func(ctx context.Context, audio []byte, audioPath string) (string, error) {
		contentType := mime.TypeByExtension(filepath.Ext(audioPath))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(audio))
		if err != nil {
			return "", fmt.Errorf("create deepgram request: %w", err)
		}
		httpReq.Header.Set("Authorization", "Token "+apiKey)
		httpReq.Header.Set("Content-Type", contentType)
		httpReq.Header.Set("Accept", "application/json")

		resp, err := client.Do(httpReq)
		if err != nil {
			return "", fmt.Errorf("deepgram request: %w", err)
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", fmt.Errorf("read deepgram response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("deepgram request failed with status %s: %s", resp.Status, strings.TrimSpace(string(body)))
		}
		var dg deepgramResponse
		if err := json.Unmarshal(body, &dg); err != nil {
			return "", fmt.Errorf("parse deepgram response: %w", err)
		}
		if len(dg.Results.Channels) == 0 || len(dg.Results.Channels[0].Alternatives) == 0 {
			return "", nil
		}
		return dg.Results.Channels[0].Alternatives[0].Transcript, nil
	})
}
