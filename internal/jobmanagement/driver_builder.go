package jobmanagement

import (
	"asr-eval-driver/internal/configmanagement"
	"asr-eval-driver/internal/coreengine/decoderadapters"
	"asr-eval-driver/internal/coreengine/evaluationengine"
	"asr-eval-driver/internal/coreengine/scoring"
	"asr-eval-driver/internal/metrics"

	"github.com/rs/zerolog"
)

// DriverFactory builds the driver for one run. Tests substitute fakes here.
type DriverFactory func(cfg *configmanagement.RunConfig, observer func(evaluationengine.VariantOutcome)) (*evaluationengine.Driver, error)

// NewScorer builds the scorer backend selected by the run config.
func NewScorer(cfg configmanagement.ScorerConfig, log zerolog.Logger) scoring.Scorer {
	if cfg.Backend == configmanagement.ScorerBuiltin {
		return &scoring.BuiltinScorer{CharLevel: cfg.CharLevel(), Verbose: cfg.Verbose, Log: log}
	}
	return &scoring.ProcessScorer{Command: cfg.Command, CharLevel: cfg.CharLevel(), Verbose: cfg.Verbose}
}

// DefaultDriverFactory wires the decoder registry and scorer from the run config.
func DefaultDriverFactory(rec *metrics.Recorder, log zerolog.Logger) DriverFactory {
	return func(cfg *configmanagement.RunConfig, observer func(evaluationengine.VariantOutcome)) (*evaluationengine.Driver, error) {
		process := &decoderadapters.ProcessDecoder{
			Command:              cfg.Decoder.Command,
			ExtraArgs:            cfg.Decoder.ExtraArgs,
			Env:                  cfg.Decoder.Env,
			TranscriptFromStdout: cfg.Decoder.TranscriptFromStdout,
		}
		return evaluationengine.NewDriver(evaluationengine.Options{
			OutputDir:      cfg.OutputDir,
			Policy:         evaluationengine.FailurePolicy(cfg.FailurePolicy),
			ProcessTimeout: cfg.ProcessTimeout.Std(),
			Decoders:       decoderadapters.NewDefaultRegistry(process, log),
			Scorer:         NewScorer(cfg.Scorer, log),
			Metrics:        rec,
			Observer:       observer,
			Log:            log,
		})
	}
}
