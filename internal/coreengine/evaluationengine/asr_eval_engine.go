package evaluationengine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"asr-eval-driver/internal/coreengine/decoderadapters"
	"asr-eval-driver/internal/coreengine/scoring"
	"asr-eval-driver/internal/manifest"
	"asr-eval-driver/internal/metrics"
	"asr-eval-driver/internal/models"

	"github.com/rs/zerolog"
)

// FailurePolicy decides what happens after a variant fails.
type FailurePolicy string

const (
	// FailFast stops the run at the first failed variant.
	FailFast FailurePolicy = "fail_fast"
	// Continue logs the failure, skips the variant and runs the rest.
	Continue FailurePolicy = "continue"
)

// Per-variant artifact names under <OutputDir>/<variant>/.
const (
	TranscriptFile = "text"
	ScoreFile      = "wer"
	DecodeLogFile  = "decode.log"
)

// DecoderLookup resolves a variant engine to a decoder.
type DecoderLookup interface {
	Lookup(engine string) (decoderadapters.Decoder, error)
}

// VariantOutcome is reported to the observer after each variant, successful or not.
type VariantOutcome struct {
	Variant models.ModelVariant
	Dir     string
	Result  *models.EvaluationResult
	Err     error
}

// Options configures a Driver.
type Options struct {
	OutputDir      string
	Policy         FailurePolicy
	ProcessTimeout time.Duration
	Decoders       DecoderLookup
	Scorer         scoring.Scorer
	Metrics        *metrics.Recorder
	Observer       func(VariantOutcome)
	Log            zerolog.Logger
}

// Driver runs decode then score for each variant, strictly one external process at a time.
type Driver struct {
	opts Options
}

// NewDriver validates options and creates a Driver.
func NewDriver(opts Options) (*Driver, error) {
	if opts.Decoders == nil {
		return nil, errors.New("decoder lookup is required")
	}
	if opts.Scorer == nil {
		return nil, errors.New("scorer is required")
	}
	if opts.OutputDir == "" {
		return nil, errors.New("output directory is required")
	}
	switch opts.Policy {
	case "":
		opts.Policy = FailFast
	case FailFast, Continue:
	default:
		return nil, fmt.Errorf("unknown failure policy %q", opts.Policy)
	}
	return &Driver{opts: opts}, nil
}

// Run evaluates the variants in order. It returns one result per successful
// variant, in input order. Under FailFast the first failure ends the run and is
// returned with the results gathered so far; under Continue all failures are
// returned joined after every variant has been attempted.
func (d *Driver) Run(ctx context.Context, variants []models.ModelVariant, config models.DecodeConfig, manifestPath, referencePath string) ([]models.EvaluationResult, error) {
	if err := models.ValidateVariants(variants); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	utts, err := manifest.ReadManifest(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	if _, err := os.Stat(referencePath); err != nil {
		return nil, fmt.Errorf("reference: %w", err)
	}

	log := d.opts.Log
	log.Info().Int("variants", len(variants)).Int("utterances", len(utts)).Str("policy", string(d.opts.Policy)).Msg("starting evaluation")

	results := make([]models.EvaluationResult, 0, len(variants))
	var failures []error
	for _, v := range variants {
		if err := ctx.Err(); err != nil {
			return results, errors.Join(append(failures, err)...)
		}
		vlog := log.With().Str("variant", v.Name).Str("engine", v.EngineName()).Logger()
		dir := filepath.Join(d.opts.OutputDir, v.Name)

		res, err := d.runVariant(ctx, vlog, v, config, dir, manifestPath, referencePath)
		d.report(v, dir, res, err)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return results, errors.Join(append(failures, err, ctxErr)...)
			}
			if d.opts.Policy == FailFast {
				vlog.Error().Err(err).Msg("variant failed; stopping")
				return results, err
			}
			vlog.Error().Err(err).Msg("variant failed; continuing")
			failures = append(failures, err)
			continue
		}
		vlog.Info().Float64("error_rate", res.ErrorRate).Int("n", res.Counts.N).Dur("decode", res.DecodeDuration).Msg("variant evaluated")
		results = append(results, *res)
	}
	log.Info().Int("succeeded", len(results)).Int("failed", len(failures)).Msg("evaluation finished")
	return results, errors.Join(failures...)
}

func (d *Driver) report(v models.ModelVariant, dir string, res *models.EvaluationResult, err error) {
	outcome := metrics.OutcomeSuccess
	switch {
	case errors.Is(err, ErrDownload):
		outcome = metrics.OutcomeDownloadError
	case errors.Is(err, ErrDecode):
		outcome = metrics.OutcomeDecodeError
	case errors.Is(err, ErrScore):
		outcome = metrics.OutcomeScoreError
	}
	d.opts.Metrics.RecordVariant(v.Name, outcome)
	if res != nil {
		d.opts.Metrics.SetErrorRate(v.Name, res.ErrorRate)
	}
	if d.opts.Observer != nil {
		d.opts.Observer(VariantOutcome{Variant: v, Dir: dir, Result: res, Err: err})
	}
}

func (d *Driver) stageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.opts.ProcessTimeout > 0 {
		return context.WithTimeout(ctx, d.opts.ProcessTimeout)
	}
	return context.WithCancel(ctx)
}

func (d *Driver) runVariant(ctx context.Context, log zerolog.Logger, v models.ModelVariant, config models.DecodeConfig, dir, manifestPath, referencePath string) (*models.EvaluationResult, error) {
	if v.EngineName() == models.EngineProcess {
		if err := checkArtifacts(v); err != nil {
			return nil, err
		}
	}
	decoder, err := d.opts.Decoders.Lookup(v.EngineName())
	if err != nil {
		return nil, &DecodeFailure{Variant: v.Name, ExitCode: -1, Err: err}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &DecodeFailure{Variant: v.Name, ExitCode: -1, Err: err}
	}
	req := decoderadapters.DecodeRequest{
		Variant:      v,
		Config:       config,
		ManifestPath: manifestPath,
		ResultPath:   filepath.Join(dir, TranscriptFile),
		LogPath:      filepath.Join(dir, DecodeLogFile),
	}
	// A stale transcript from an earlier run must never be scored.
	if err := os.Remove(req.ResultPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, &DecodeFailure{Variant: v.Name, ExitCode: -1, Err: err}
	}

	log.Info().Str("path", req.ResultPath).Msg("decoding")
	decodeCtx, cancel := d.stageContext(ctx)
	start := time.Now()
	err = decoder.Decode(decodeCtx, req)
	decodeDur := time.Since(start)
	cancel()
	d.opts.Metrics.ObserveStage("decode", decodeDur)
	if err != nil {
		return nil, &DecodeFailure{Variant: v.Name, ExitCode: exitCode(err), Err: err}
	}

	log.Debug().Str("reference", referencePath).Msg("scoring")
	scoreCtx, cancel := d.stageContext(ctx)
	start = time.Now()
	score, err := d.opts.Scorer.Score(scoreCtx, referencePath, req.ResultPath)
	scoreDur := time.Since(start)
	cancel()
	d.opts.Metrics.ObserveStage("score", scoreDur)
	if err != nil {
		return nil, &ScoreFailure{Variant: v.Name, Err: err}
	}
	scorePath := filepath.Join(dir, ScoreFile)
	if err := os.WriteFile(scorePath, score.Output, 0o644); err != nil {
		return nil, &ScoreFailure{Variant: v.Name, Err: fmt.Errorf("write score report: %w", err)}
	}

	return &models.EvaluationResult{
		VariantName:          v.Name,
		OutputTranscriptPath: req.ResultPath,
		ScorerOutputPath:     scorePath,
		ErrorRate:            score.ErrorRate,
		Counts:               score.Counts,
		DecodeDuration:       decodeDur,
		ScoreDuration:        scoreDur,
		CompletedAt:          time.Now().UTC(),
	}, nil
}

func checkArtifacts(v models.ModelVariant) error {
	info, err := os.Stat(v.ModelDir)
	if err != nil {
		return &DownloadFailure{Variant: v.Name, Path: v.ModelDir, Err: err}
	}
	if !info.IsDir() {
		return &DownloadFailure{Variant: v.Name, Path: v.ModelDir, Err: errors.New("not a directory")}
	}
	if _, err := os.Stat(v.UnitsPath); err != nil {
		return &DownloadFailure{Variant: v.Name, Path: v.UnitsPath, Err: err}
	}
	return nil
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
