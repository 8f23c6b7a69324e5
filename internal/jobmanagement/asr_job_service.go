package jobmanagement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"asr-eval-driver/internal/configmanagement"
	"asr-eval-driver/internal/coreengine/evaluationengine"
	"asr-eval-driver/internal/metrics"
	"asr-eval-driver/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ResultsFile is written to the job output directory when a run ends.
const ResultsFile = "results.json"

var (
	ErrJobNotFound      = errors.New("job not found")
	ErrQueueFull        = errors.New("job queue is full")
	ErrServiceStopped   = errors.New("job service is stopped")
	ErrInvalidArtifact  = errors.New("invalid artifact name")
	ErrArtifactNotFound = errors.New("artifact not found")
)

// JobRecorder persists job state. *datastore.Store satisfies it.
type JobRecorder interface {
	CreateJob(ctx context.Context, job *models.Job) error
	UpdateJob(ctx context.Context, job *models.Job) error
	SaveResult(ctx context.Context, jobID string, result models.EvaluationResult) error
}

// JobReader is implemented by recorders that can also load jobs.
type JobReader interface {
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListJobs(ctx context.Context, limit int) ([]models.Job, error)
}

// ArtifactPublisher uploads run artifacts. *objectstore.MinioClient satisfies it.
type ArtifactPublisher interface {
	UploadArtifact(ctx context.Context, jobID string, localPath string, parts ...string) (string, error)
}

// ArtifactFetcher is implemented by publishers that can read artifacts back.
type ArtifactFetcher interface {
	DownloadArtifact(ctx context.Context, jobID string, parts ...string) ([]byte, error)
}

// ServiceOptions configures a JobService. Store and Artifacts are optional.
type ServiceOptions struct {
	Store     JobRecorder
	Artifacts ArtifactPublisher
	Metrics   *metrics.Recorder
	Drivers   DriverFactory
	QueueSize int
	Log       zerolog.Logger
}

type queuedJob struct {
	job *models.Job
	cfg *configmanagement.RunConfig
}

// JobService tracks evaluation jobs and executes them one at a time.
type JobService struct {
	opts  ServiceOptions
	mu      sync.RWMutex
	jobs    map[string]*models.Job
	queue   chan queuedJob
	stopped bool
}

// NewJobService creates a JobService. Call Run to start the worker.
func NewJobService(opts ServiceOptions) *JobService {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	if opts.Drivers == nil {
		opts.Drivers = DefaultDriverFactory(opts.Metrics, opts.Log)
	}
	return &JobService{
		opts:  opts,
		jobs:  make(map[string]*models.Job),
		queue: make(chan queuedJob, opts.QueueSize),
	}
}

func (s *JobService) newJob(ctx context.Context, name string, cfg *configmanagement.RunConfig) (*models.Job, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run config: %w", err)
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal run config: %w", err)
	}
	if name == "" {
		name = cfg.Name
	}
	job := &models.Job{
		ID:        uuid.NewString(),
		Name:      name,
		Status:    models.JobStatusPending,
		Config:    raw,
		OutputDir: cfg.OutputDir,
		CreatedAt: time.Now().UTC(),
		Results:   []models.EvaluationResult{},
	}
	if s.opts.Store != nil {
		if err := s.opts.Store.CreateJob(ctx, job); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	return job, nil
}

// Submit queues a run. Each queued job writes under <output_dir>/<job id>.
func (s *JobService) Submit(ctx context.Context, name string, cfg *configmanagement.RunConfig) (models.Job, error) {
	run := *cfg
	job, err := s.newJob(ctx, name, &run)
	if err != nil {
		return models.Job{}, err
	}
	run.OutputDir = filepath.Join(cfg.OutputDir, job.ID)

	// The send happens under mu so it cannot race with Run marking the service stopped.
	s.mu.Lock()
	job.OutputDir = run.OutputDir
	snapshot := job.Clone()
	if s.stopped {
		err = ErrServiceStopped
	} else {
		select {
		case s.queue <- queuedJob{job: job, cfg: &run}:
		default:
			err = ErrQueueFull
		}
	}
	s.mu.Unlock()

	if err != nil {
		s.finish(context.WithoutCancel(ctx), job, nil, err, true)
		return models.Job{}, err
	}
	s.opts.Log.Info().Str("job_id", job.ID).Msg("job queued")
	return snapshot, nil
}

// Run executes queued jobs until ctx is cancelled. Jobs still queued at that
// point are marked failed, and later submissions are refused.
func (s *JobService) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.stop(ctx)
			return nil
		case q := <-s.queue:
			if ctx.Err() != nil {
				s.cancelQueued(ctx, q)
				s.stop(ctx)
				return nil
			}
			_ = s.execute(ctx, q.job, q.cfg)
		}
	}
}

func (s *JobService) stop(ctx context.Context) {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	for {
		select {
		case q := <-s.queue:
			s.cancelQueued(ctx, q)
		default:
			return
		}
	}
}

func (s *JobService) cancelQueued(ctx context.Context, q queuedJob) {
	s.finish(context.WithoutCancel(ctx), q.job, nil, context.Canceled, true)
}

// RunNow executes a run synchronously and returns the finished job.
func (s *JobService) RunNow(ctx context.Context, name string, cfg *configmanagement.RunConfig) (models.Job, error) {
	job, err := s.newJob(ctx, name, cfg)
	if err != nil {
		return models.Job{}, err
	}
	runErr := s.execute(ctx, job, cfg)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return job.Clone(), runErr
}

func (s *JobService) execute(ctx context.Context, job *models.Job, cfg *configmanagement.RunConfig) error {
	log := s.opts.Log.With().Str("job_id", job.ID).Logger()
	persistCtx := context.WithoutCancel(ctx)

	started := time.Now().UTC()
	s.mu.Lock()
	job.Status = models.JobStatusRunning
	job.StartedAt = &started
	s.mu.Unlock()
	s.persist(persistCtx, job, log)
	log.Info().Int("variants", len(cfg.Variants)).Str("output_dir", cfg.OutputDir).Msg("job started")

	driver, err := s.opts.Drivers(cfg, func(o evaluationengine.VariantOutcome) {
		s.onVariant(persistCtx, job, o, log)
	})
	if err != nil {
		s.finish(persistCtx, job, nil, err, true)
		return err
	}
	results, runErr := driver.Run(ctx, cfg.Variants, cfg.Decode, cfg.Manifest, cfg.Reference)
	failed := runErr != nil && (cfg.FailurePolicy != configmanagement.PolicyContinue || len(results) == 0 || ctx.Err() != nil)

	if err := s.writeResults(persistCtx, job, cfg.OutputDir, results); err != nil {
		log.Error().Err(err).Msg("write results")
	}
	s.finish(persistCtx, job, results, runErr, failed)
	return runErr
}

func (s *JobService) onVariant(ctx context.Context, job *models.Job, o evaluationengine.VariantOutcome, log zerolog.Logger) {
	if o.Result != nil {
		s.mu.Lock()
		job.Results = append(job.Results, *o.Result)
		s.mu.Unlock()
		if s.opts.Store != nil {
			if err := s.opts.Store.SaveResult(ctx, job.ID, *o.Result); err != nil {
				log.Error().Err(err).Str("variant", o.Variant.Name).Msg("persist result")
			}
		}
	}
	if s.opts.Artifacts == nil {
		return
	}
	for _, name := range []string{evaluationengine.TranscriptFile, evaluationengine.ScoreFile, evaluationengine.DecodeLogFile} {
		local := filepath.Join(o.Dir, name)
		if _, err := os.Stat(local); err != nil {
			continue
		}
		if _, err := s.opts.Artifacts.UploadArtifact(ctx, job.ID, local, o.Variant.Name, name); err != nil {
			log.Error().Err(err).Str("variant", o.Variant.Name).Str("path", local).Msg("upload artifact")
		}
	}
}

type resultsDocument struct {
	JobID   string                    `json:"job_id"`
	Name    string                    `json:"name,omitempty"`
	Results []models.EvaluationResult `json:"results"`
}

func (s *JobService) writeResults(ctx context.Context, job *models.Job, dir string, results []models.EvaluationResult) error {
	if results == nil {
		results = []models.EvaluationResult{}
	}
	b, err := json.MarshalIndent(resultsDocument{JobID: job.ID, Name: job.Name, Results: results}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, ResultsFile)
	if err := os.WriteFile(path, append(b, '\n'), 0o644); err != nil {
		return err
	}
	if s.opts.Artifacts != nil {
		if _, err := s.opts.Artifacts.UploadArtifact(ctx, job.ID, path, ResultsFile); err != nil {
			return err
		}
	}
	return nil
}

func (s *JobService) finish(ctx context.Context, job *models.Job, results []models.EvaluationResult, runErr error, failed bool) {
	completed := time.Now().UTC()
	s.mu.Lock()
	if results != nil {
		job.Results = results
	}
	job.CompletedAt = &completed
	job.Status = models.JobStatusCompleted
	if failed {
		job.Status = models.JobStatusFailed
	}
	if runErr != nil {
		job.Error = runErr.Error()
	}
	status := job.Status
	s.mu.Unlock()

	s.opts.Metrics.RecordJob(string(status))
	log := s.opts.Log.With().Str("job_id", job.ID).Logger()
	s.persist(ctx, job, log)
	ev := log.Info()
	if runErr != nil {
		ev = log.Warn().Err(runErr)
	}
	ev.Str("status", string(status)).Int("results", len(results)).Msg("job finished")
}

func (s *JobService) persist(ctx context.Context, job *models.Job, log zerolog.Logger) {
	if s.opts.Store == nil {
		return
	}
	s.mu.RLock()
	snapshot := job.Clone()
	s.mu.RUnlock()
	if err := s.opts.Store.UpdateJob(ctx, &snapshot); err != nil {
		log.Error().Err(err).Msg("persist job")
	}
}

// Get returns a job by ID, falling back to the store for jobs from earlier processes.
func (s *JobService) Get(ctx context.Context, id string) (models.Job, error) {
	s.mu.RLock()
	job, ok := s.jobs[id]
	if ok {
		c := job.Clone()
		s.mu.RUnlock()
		return c, nil
	}
	s.mu.RUnlock()
	if reader, ok := s.opts.Store.(JobReader); ok {
		stored, err := reader.GetJob(ctx, id)
		if err == nil {
			return *stored, nil
		}
		s.opts.Log.Debug().Err(err).Str("job_id", id).Msg("job lookup in store")
	}
	return models.Job{}, ErrJobNotFound
}

// List returns known jobs, newest first.
func (s *JobService) List(ctx context.Context) ([]models.Job, error) {
	s.mu.RLock()
	jobs := make([]models.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j.Clone())
	}
	s.mu.RUnlock()

	if reader, ok := s.opts.Store.(JobReader); ok {
		stored, err := reader.ListJobs(ctx, 100)
		if err != nil {
			return nil, err
		}
		seen := make(map[string]struct{}, len(jobs))
		for _, j := range jobs {
			seen[j.ID] = struct{}{}
		}
		for _, j := range stored {
			if _, dup := seen[j.ID]; !dup {
				jobs = append(jobs, j)
			}
		}
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].CreatedAt.After(jobs[k].CreatedAt) })
	return jobs, nil
}

func artifactParts(name string) ([]string, error) {
	if name == ResultsFile {
		return []string{ResultsFile}, nil
	}
	variant, file, ok := strings.Cut(name, "/")
	if ok && variant != "" && variant != "." && variant != ".." && !strings.Contains(variant, `\`) {
		switch file {
		case evaluationengine.TranscriptFile, evaluationengine.ScoreFile, evaluationengine.DecodeLogFile:
			return []string{variant, file}, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidArtifact, name)
}

// Artifact returns results.json or <variant>/<file> of a job. It reads from
// the object store when the publisher supports it and falls back to the job
// output directory.
func (s *JobService) Artifact(ctx context.Context, jobID, name string) ([]byte, error) {
	parts, err := artifactParts(name)
	if err != nil {
		return nil, err
	}
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if fetcher, ok := s.opts.Artifacts.(ArtifactFetcher); ok {
		data, err := fetcher.DownloadArtifact(ctx, job.ID, parts...)
		if err == nil {
			return data, nil
		}
		s.opts.Log.Debug().Err(err).Str("job_id", job.ID).Str("artifact", name).Msg("object store read failed; trying output dir")
	}
	data, err := os.ReadFile(filepath.Join(append([]string{job.OutputDir}, parts...)...))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, name)
	}
	return data, err
}
