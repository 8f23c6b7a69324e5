package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"asr-eval-driver/internal/apigateway"
	"asr-eval-driver/internal/configmanagement"
	"asr-eval-driver/internal/coreengine/latency"
	"asr-eval-driver/internal/coreengine/scoring"
	"asr-eval-driver/internal/datastore"
	"asr-eval-driver/internal/jobmanagement"
	"asr-eval-driver/internal/logx"
	"asr-eval-driver/internal/manifest"
	"asr-eval-driver/internal/metrics"
	"asr-eval-driver/internal/models"
	"asr-eval-driver/internal/objectstore"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

const usage = `usage: evaldriver <command> [flags]

commands:
  run     evaluate every variant of a run config
  score   score a hypothesis transcript against a reference
  latency compare streaming token timestamps with a forced alignment
  serve   start the HTTP job API
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	switch args[0] {
	case "-version", "--version", "version":
		fmt.Fprintf(stdout, "evaldriver version=%s sha=%s date=%s\n", version, buildSHA, buildDate)
		return 0
	case "run":
		return runCmd(args[1:], stdout, stderr)
	case "score":
		return scoreCmd(args[1:], stdout, stderr)
	case "latency":
		return latencyCmd(args[1:], stdout, stderr)
	case "serve":
		return serveCmd(args[1:], stderr)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// openBackends connects the optional datastore and object store.
func openBackends(ctx context.Context, cfg *configmanagement.AppConfig) (*datastore.Store, *objectstore.MinioClient, error) {
	var store *datastore.Store
	if cfg.DatabaseURL != "" {
		s, err := datastore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			_ = s.Close()
			return nil, nil, err
		}
		store = s
	}
	var artifacts *objectstore.MinioClient
	if cfg.Minio.Enabled() {
		mc, err := objectstore.NewMinioClient(cfg.Minio)
		if err == nil {
			err = mc.EnsureBucket(ctx)
		}
		if err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		artifacts = mc
	}
	return store, artifacts, nil
}

func serviceOptions(store *datastore.Store, artifacts *objectstore.MinioClient, rec *metrics.Recorder) jobmanagement.ServiceOptions {
	opts := jobmanagement.ServiceOptions{Metrics: rec, Log: logx.Log}
	// Assign only non-nil pointers so the interfaces stay nil when disabled.
	if store != nil {
		opts.Store = store
	}
	if artifacts != nil {
		opts.Artifacts = artifacts
	}
	return opts
}

func runCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var app configmanagement.AppConfig
	app.BindFlags(fs)
	name := fs.String("name", "", "job name recorded with the run")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	logx.Configure(app.LogLevel)

	cfg, err := configmanagement.Load(app.ConfigFile)
	if err != nil {
		logx.Log.Error().Err(err).Str("path", app.ConfigFile).Msg("load run config")
		return 2
	}
	app.ApplyTo(cfg)
	if err := cfg.Validate(); err != nil {
		logx.Log.Error().Err(err).Msg("invalid run config")
		return 2
	}

	ctx, cancel := signalContext()
	defer cancel()

	rec := metrics.NewRecorder()
	rec.SetBuildInfo(version, buildSHA, buildDate)
	store, artifacts, err := openBackends(ctx, &app)
	if err != nil {
		logx.Log.Error().Err(err).Msg("connect backends")
		return 1
	}
	defer store.Close()

	svc := jobmanagement.NewJobService(serviceOptions(store, artifacts, rec))
	job, runErr := svc.RunNow(ctx, *name, cfg)
	printResults(stdout, job.Results)

	if app.MetricsFile != "" {
		if err := rec.WriteTextfile(app.MetricsFile); err != nil {
			logx.Log.Error().Err(err).Str("path", app.MetricsFile).Msg("write metrics")
		}
	}
	if runErr != nil {
		logx.Log.Error().Err(runErr).Str("status", string(job.Status)).Msg("evaluation finished with errors")
		return 1
	}
	return 0
}

func printResults(w io.Writer, results []models.EvaluationResult) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VARIANT\tERROR RATE\tN\tS\tD\tI\tTRANSCRIPT")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%.2f%%\t%d\t%d\t%d\t%d\t%s\n",
			r.VariantName, r.ErrorRate*100, r.Counts.N, r.Counts.S, r.Counts.D, r.Counts.I, r.OutputTranscriptPath)
	}
	_ = tw.Flush()
}

func scoreCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("score", flag.ContinueOnError)
	fs.SetOutput(stderr)
	level := fs.String("level", configmanagement.LevelChar, "token level: char or word")
	verbose := fs.Bool("v", false, "print per-utterance alignment counts")
	logLevel := fs.String("log-level", configmanagement.GetEnv("LOG_LEVEL", "info"), "log verbosity")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	logx.Configure(*logLevel)
	if fs.NArg() != 2 {
		fmt.Fprintln(stderr, "usage: evaldriver score [-level char|word] [-v] <reference> <hypothesis>")
		return 2
	}
	if *level != configmanagement.LevelChar && *level != configmanagement.LevelWord {
		fmt.Fprintf(stderr, "invalid level %q\n", *level)
		return 2
	}
	scorer := &scoring.BuiltinScorer{CharLevel: *level == configmanagement.LevelChar, Verbose: *verbose, Log: logx.Log}
	score, err := scorer.Score(context.Background(), fs.Arg(0), fs.Arg(1))
	if err != nil {
		logx.Log.Error().Err(err).Msg("score")
		return 1
	}
	_, _ = stdout.Write(score.Output)
	return 0
}

func latencyCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("latency", flag.ContinueOnError)
	fs.SetOutput(stderr)
	alignPath := fs.String("alignment", "", "forced alignment file, one token per frame")
	stampPath := fs.String("timestamps", "", "streaming CTC greedy path file, one token per encoder frame")
	chunkSize := fs.Int("chunk-size", -1, "decoding chunk size the timestamps were produced with")
	subsampling := fs.Int("subsampling", latency.DefaultSubsampling, "input frames per encoder frame")
	frameShift := fs.Duration("frame-shift", latency.DefaultFrameShift, "duration of one input frame")
	maxDiff := fs.Int("max-frame-diff", latency.DefaultMaxFrameDiff, "skip utterances whose lengths differ by this many frames")
	metricsFile := fs.String("metrics-file", configmanagement.GetEnv("EVAL_METRICS_FILE", ""), "write Prometheus metrics to this textfile")
	logLevel := fs.String("log-level", configmanagement.GetEnv("LOG_LEVEL", "info"), "log verbosity")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	logx.Configure(*logLevel)
	if *alignPath == "" || *stampPath == "" {
		fmt.Fprintln(stderr, "usage: evaldriver latency -alignment <file> -timestamps <file> [flags]")
		return 2
	}

	aligns, err := manifest.ReadFile(*alignPath)
	if err != nil {
		logx.Log.Error().Err(err).Msg("read alignment")
		return 1
	}
	stamps, err := manifest.ReadTranscripts(*stampPath)
	if err != nil {
		logx.Log.Error().Err(err).Msg("read timestamps")
		return 1
	}
	rep := latency.Analyze(aligns, stamps, latency.Options{
		Subsampling:  *subsampling,
		FrameShift:   *frameShift,
		MaxFrameDiff: *maxDiff,
	})
	logx.Log.Info().
		Int("chunk_size", *chunkSize).
		Int("alignments", len(aligns)).
		Int("timestamps", stamps.Len()).
		Int("not_found", rep.NotFound).
		Int("length_unequal", rep.LengthUnequal).
		Int("ignored", rep.Ignored).
		Int("valid", len(rep.Samples)).
		Msg("latency samples")

	rec := metrics.NewRecorder()
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "METRIC\tRANK\tDELAY (ms)\tUTTERANCE")
	for _, m := range latency.Metrics {
		rows, err := rep.Percentiles(m)
		if err != nil {
			logx.Log.Error().Err(err).Msg("latency")
			return 1
		}
		for _, p := range rows {
			fmt.Fprintf(tw, "%s\t%s\t%.3f\t%s\n", m, p.Label, p.Value, p.Key)
			rec.SetTokenDelay(string(m), p.Label, p.Value)
		}
	}
	_ = tw.Flush()

	if *metricsFile != "" {
		if err := rec.WriteTextfile(*metricsFile); err != nil {
			logx.Log.Error().Err(err).Str("path", *metricsFile).Msg("write metrics")
			return 1
		}
	}
	return 0
}

func serveCmd(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var app configmanagement.AppConfig
	app.BindFlags(fs)
	queue := fs.Int("queue-size", 16, "maximum number of queued jobs")
	insecure := fs.Bool("insecure", false, "serve the job API without an API key")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	logx.Configure(app.LogLevel)
	gin.SetMode(gin.ReleaseMode)

	if app.APIKey == "" && !*insecure {
		logx.Log.Error().Msg("refusing to serve the job API without an API key; set -api-key or EVAL_API_KEY, or pass -insecure")
		return 2
	}
	exec, err := app.LoadExecSettings()
	if err != nil {
		logx.Log.Error().Err(err).Str("path", app.ConfigFile).Msg("load server exec settings")
		return 2
	}

	ctx, cancel := signalContext()
	defer cancel()

	rec := metrics.NewRecorder().WithProcessCollectors()
	rec.SetBuildInfo(version, buildSHA, buildDate)
	store, artifacts, err := openBackends(ctx, &app)
	if err != nil {
		logx.Log.Error().Err(err).Msg("connect backends")
		return 1
	}
	defer store.Close()

	opts := serviceOptions(store, artifacts, rec)
	opts.QueueSize = *queue
	svc := jobmanagement.NewJobService(opts)
	srv := &http.Server{
		Addr: app.ListenAddr,
		Handler: apigateway.SetupRouter(apigateway.RouterOptions{
			Jobs:    svc,
			Metrics: rec,
			APIKey:  app.APIKey,
			Version: version,
			Exec:    exec,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(gctx) })
	g.Go(func() error {
		logx.Log.Info().Str("addr", app.ListenAddr).Msg("job API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logx.Log.Error().Err(err).Msg("server exited")
		return 1
	}
	return 0
}
