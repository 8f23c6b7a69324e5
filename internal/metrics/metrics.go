package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Variant outcomes.
const (
	OutcomeSuccess       = "success"
	OutcomeDownloadError = "download_error"
	OutcomeDecodeError   = "decode_error"
	OutcomeScoreError    = "score_error"
)

// Recorder owns the driver's collectors on a private registry. A nil Recorder
// records nothing and exposes an empty registry.
type Recorder struct {
	registry      *prometheus.Registry
	variantRuns   *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	errorRate     *prometheus.GaugeVec
	jobs          *prometheus.CounterVec
	tokenDelay    *prometheus.GaugeVec
	buildInfo     *prometheus.GaugeVec
}

// NewRecorder creates a Recorder with its collectors registered.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		variantRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evaldriver_variant_runs_total",
				Help: "Variant runs by outcome",
			},
			[]string{"variant", "outcome"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "evaldriver_stage_duration_seconds",
				Help:    "Duration of decode and score stages",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 14),
			},
			[]string{"stage"},
		),
		errorRate: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "evaldriver_error_rate",
				Help: "Latest error rate per variant (fraction)",
			},
			[]string{"variant"},
		),
		jobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evaldriver_jobs_total",
				Help: "Finished evaluation jobs by status",
			},
			[]string{"status"},
		),
		tokenDelay: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "evaldriver_token_delay_milliseconds",
				Help: "Streaming token delay against forced alignment, by metric and rank",
			},
			[]string{"metric", "rank"},
		),
		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "evaldriver_build_info",
				Help: "Build information",
			},
			[]string{"version", "sha", "date"},
		),
	}
	r.registry.MustRegister(r.variantRuns, r.stageDuration, r.errorRate, r.jobs, r.tokenDelay, r.buildInfo)
	return r
}

// WithProcessCollectors adds the Go runtime and process collectors, for long-running servers.
func (r *Recorder) WithProcessCollectors() *Recorder {
	if r == nil {
		return nil
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry exposes the underlying registry. A nil Recorder gets a fresh empty one.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.registry
}

// SetBuildInfo records build metadata.
func (r *Recorder) SetBuildInfo(version, sha, date string) {
	if r == nil {
		return
	}
	r.buildInfo.WithLabelValues(version, sha, date).Set(1)
}

// ObserveStage records the duration of a decode or score stage.
func (r *Recorder) ObserveStage(stage string, d time.Duration) {
	if r == nil {
		return
	}
	r.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordVariant counts a finished variant run.
func (r *Recorder) RecordVariant(variant, outcome string) {
	if r == nil {
		return
	}
	r.variantRuns.WithLabelValues(variant, outcome).Inc()
}

// SetErrorRate publishes a variant's latest error rate.
func (r *Recorder) SetErrorRate(variant string, rate float64) {
	if r == nil {
		return
	}
	r.errorRate.WithLabelValues(variant).Set(rate)
}

// RecordJob counts a finished job.
func (r *Recorder) RecordJob(status string) {
	if r == nil {
		return
	}
	r.jobs.WithLabelValues(status).Inc()
}

// SetTokenDelay publishes one percentile of a streaming latency report.
func (r *Recorder) SetTokenDelay(metric, rank string, ms float64) {
	if r == nil {
		return
	}
	r.tokenDelay.WithLabelValues(metric, rank).Set(ms)
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	reg := r.Registry()
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// WriteTextfile writes the registry for the node_exporter textfile collector.
// Batch runs use it since nothing scrapes them.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.Registry())
}
