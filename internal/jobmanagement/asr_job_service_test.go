package jobmanagement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"asr-eval-driver/internal/configmanagement"
	"asr-eval-driver/internal/coreengine/decoderadapters"
	"asr-eval-driver/internal/coreengine/evaluationengine"
	"asr-eval-driver/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type fakeDecoder struct {
	fail map[string]bool
}

func (f fakeDecoder) Decode(_ context.Context, req decoderadapters.DecodeRequest) error {
	if f.fail[req.Variant.Name] {
		return errors.New("decoder crashed")
	}
	return os.WriteFile(req.ResultPath, []byte("utt1 hello world\n"), 0o644)
}

type fakeStore struct {
	mu      sync.Mutex
	created []string
	updates []models.JobStatus
	results []string
}

func (s *fakeStore) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, job.ID)
	return nil
}

func (s *fakeStore) UpdateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, job.Status)
	return nil
}

func (s *fakeStore) SaveResult(_ context.Context, _ string, r models.EvaluationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r.VariantName)
	return nil
}

type fakePublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *fakePublisher) UploadArtifact(_ context.Context, jobID, _ string, parts ...string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := jobID + "/" + strings.Join(parts, "/")
	p.keys = append(p.keys, key)
	return key, nil
}

func fakeFactory(dec fakeDecoder) DriverFactory {
	return func(cfg *configmanagement.RunConfig, observer func(evaluationengine.VariantOutcome)) (*evaluationengine.Driver, error) {
		reg := decoderadapters.NewRegistry()
		reg.Register(models.EngineProcess, dec)
		return evaluationengine.NewDriver(evaluationengine.Options{
			OutputDir: cfg.OutputDir,
			Policy:    evaluationengine.FailurePolicy(cfg.FailurePolicy),
			Decoders:  reg,
			Scorer:    NewScorer(cfg.Scorer, zeroLog()),
			Observer:  observer,
		})
	}
}

func runConfig(t *testing.T, variants ...string) *configmanagement.RunConfig {
	t.Helper()
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		return p
	}
	cfg := &configmanagement.RunConfig{
		Manifest:  write("wav.scp", "utt1 /audio/utt1.wav\n"),
		Reference: write("text", "utt1 hello world\n"),
		OutputDir: filepath.Join(dir, "out"),
		Decode:    models.DecodeConfig{ChunkSize: 16, CTCWeight: 0.5},
		Decoder:   configmanagement.DecoderConfig{Command: []string{"decoder_main"}},
		Scorer:    configmanagement.ScorerConfig{Backend: configmanagement.ScorerBuiltin},
	}
	for _, v := range variants {
		units := write(filepath.Join("models", v, "units.txt"), "<blank> 0\n")
		cfg.Variants = append(cfg.Variants, models.ModelVariant{Name: v, ModelDir: filepath.Dir(units), UnitsPath: units})
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestRunNowCompletes(t *testing.T) {
	store, pub := &fakeStore{}, &fakePublisher{}
	svc := NewJobService(ServiceOptions{Store: store, Artifacts: pub, Drivers: fakeFactory(fakeDecoder{})})
	cfg := runConfig(t, "fp32", "int8")

	job, err := svc.RunNow(context.Background(), "nightly", cfg)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if job.Status != models.JobStatusCompleted || len(job.Results) != 2 || job.CompletedAt == nil {
		t.Fatalf("unexpected job %+v", job)
	}
	if job.Results[0].ErrorRate != 0 {
		t.Fatalf("expected perfect score, got %v", job.Results[0].ErrorRate)
	}
	b, err := os.ReadFile(filepath.Join(cfg.OutputDir, ResultsFile))
	if err != nil {
		t.Fatal(err)
	}
	var doc resultsDocument
	if err := json.Unmarshal(b, &doc); err != nil || doc.JobID != job.ID || len(doc.Results) != 2 {
		t.Fatalf("bad results.json: %v %s", err, b)
	}
	if len(store.created) != 1 || store.updates[len(store.updates)-1] != models.JobStatusCompleted {
		t.Fatalf("unexpected store calls %+v", store)
	}
	if strings.Join(store.results, ",") != "fp32,int8" {
		t.Fatalf("results persisted out of order: %v", store.results)
	}
	want := map[string]bool{
		job.ID + "/fp32/text": false, job.ID + "/fp32/wer": false,
		job.ID + "/int8/text": false, job.ID + "/" + ResultsFile: false,
	}
	for _, k := range pub.keys {
		if _, ok := want[k]; ok {
			want[k] = true
		}
	}
	for k, seen := range want {
		if !seen {
			t.Errorf("artifact %s not uploaded (got %v)", k, pub.keys)
		}
	}
}

func TestRunNowFailFastMarksFailed(t *testing.T) {
	svc := NewJobService(ServiceOptions{Drivers: fakeFactory(fakeDecoder{fail: map[string]bool{"int8": true}})})
	cfg := runConfig(t, "fp32", "int8")

	job, err := svc.RunNow(context.Background(), "", cfg)
	if !errors.Is(err, evaluationengine.ErrDecode) {
		t.Fatalf("expected decode failure, got %v", err)
	}
	if job.Status != models.JobStatusFailed || job.Error == "" || len(job.Results) != 1 {
		t.Fatalf("unexpected job %+v", job)
	}
}

func TestRunNowContinueCompletesWithError(t *testing.T) {
	svc := NewJobService(ServiceOptions{Drivers: fakeFactory(fakeDecoder{fail: map[string]bool{"fp32": true}})})
	cfg := runConfig(t, "fp32", "int8")
	cfg.FailurePolicy = configmanagement.PolicyContinue

	job, err := svc.RunNow(context.Background(), "", cfg)
	if err == nil {
		t.Fatal("expected the joined failure to be returned")
	}
	if job.Status != models.JobStatusCompleted || job.Error == "" || len(job.Results) != 1 || job.Results[0].VariantName != "int8" {
		t.Fatalf("unexpected job %+v", job)
	}
}

func TestSubmitRunsOnWorker(t *testing.T) {
	svc := NewJobService(ServiceOptions{Drivers: fakeFactory(fakeDecoder{})})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Run(ctx) }()

	cfg := runConfig(t, "fp32")
	queued, err := svc.Submit(ctx, "api", cfg)
	if err != nil {
		t.Fatal(err)
	}
	if queued.Status != models.JobStatusPending || queued.OutputDir != filepath.Join(cfg.OutputDir, queued.ID) {
		t.Fatalf("unexpected queued job %+v", queued)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		job, err := svc.Get(ctx, queued.ID)
		if err != nil {
			t.Fatal(err)
		}
		if job.Finished() {
			if job.Status != models.JobStatusCompleted {
				t.Fatalf("job failed: %s", job.Error)
			}
			if _, err := os.Stat(filepath.Join(job.OutputDir, "fp32", evaluationengine.TranscriptFile)); err != nil {
				t.Fatalf("transcript not under job dir: %v", err)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("job did not finish")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := svc.Get(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestSubmitRejectsInvalidConfig(t *testing.T) {
	svc := NewJobService(ServiceOptions{Drivers: fakeFactory(fakeDecoder{})})
	cfg := runConfig(t, "fp32")
	cfg.Variants = nil
	if _, err := svc.Submit(context.Background(), "", cfg); err == nil {
		t.Fatal("expected validation error")
	}
	jobs, _ := svc.List(context.Background())
	if len(jobs) != 0 {
		t.Fatalf("invalid config must not create a job, got %d", len(jobs))
	}
}

func TestSubmitQueueFull(t *testing.T) {
	svc := NewJobService(ServiceOptions{Drivers: fakeFactory(fakeDecoder{}), QueueSize: 1})
	if _, err := svc.Submit(context.Background(), "", runConfig(t, "fp32")); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Submit(context.Background(), "", runConfig(t, "fp32")); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

// apiConfig splits cfg into the server-side exec settings and the part a
// client submits.
func apiConfig(t *testing.T, cfg *configmanagement.RunConfig) (configmanagement.ExecSettings, json.RawMessage) {
	t.Helper()
	exec := cfg.ExecSettings()
	client := *cfg
	client.Decoder = configmanagement.DecoderConfig{}
	client.Scorer.Command = nil
	client.OutputDir = ""
	raw, err := json.Marshal(client)
	if err != nil {
		t.Fatal(err)
	}
	return exec, raw
}

func newTestRouter(svc *JobService, exec configmanagement.ExecSettings) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/jobs", CreateJobHandler(svc, exec))
	r.GET("/api/jobs", ListJobsHandler(svc))
	r.GET("/api/jobs/:id", GetJobHandler(svc))
	r.GET("/api/jobs/:id/results", GetJobResultsHandler(svc))
	r.GET("/api/jobs/:id/artifacts/*name", GetArtifactHandler(svc))
	return r
}

func TestHandlers(t *testing.T) {
	svc := NewJobService(ServiceOptions{Drivers: fakeFactory(fakeDecoder{})})
	cfg := runConfig(t, "fp32")
	exec, rawCfg := apiConfig(t, cfg)
	router := newTestRouter(svc, exec)

	do := func(method, path string, body []byte) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	if w := do(http.MethodPost, "/api/jobs", []byte(`{"name":"x"}`)); w.Code != http.StatusBadRequest {
		t.Fatalf("missing config: got %d", w.Code)
	}
	if w := do(http.MethodPost, "/api/jobs", []byte(`{"config":{"manifest":"a"}}`)); w.Code != http.StatusBadRequest {
		t.Fatalf("invalid config: got %d %s", w.Code, w.Body)
	}

	body, _ := json.Marshal(CreateJobRequest{Name: "api", Config: rawCfg})
	w := do(http.MethodPost, "/api/jobs", body)
	if w.Code != http.StatusAccepted {
		t.Fatalf("create: got %d %s", w.Code, w.Body)
	}
	var job models.Job
	if err := json.Unmarshal(w.Body.Bytes(), &job); err != nil || job.ID == "" || job.Name != "api" {
		t.Fatalf("bad job body %s", w.Body)
	}
	if job.OutputDir != filepath.Join(cfg.OutputDir, job.ID) {
		t.Fatalf("job must write under the server output dir, got %s", job.OutputDir)
	}

	if w := do(http.MethodGet, "/api/jobs/"+job.ID, nil); w.Code != http.StatusOK {
		t.Fatalf("get: %d", w.Code)
	}
	if w := do(http.MethodGet, "/api/jobs/nope", nil); w.Code != http.StatusNotFound {
		t.Fatalf("get missing: %d", w.Code)
	}
	w = do(http.MethodGet, "/api/jobs/"+job.ID+"/results", nil)
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
		t.Fatalf("results of a queued job: %d %s", w.Code, w.Body)
	}
	w = do(http.MethodGet, "/api/jobs?status=PENDING", nil)
	var jobs []models.Job
	if err := json.Unmarshal(w.Body.Bytes(), &jobs); err != nil || len(jobs) != 1 {
		t.Fatalf("list: %v %s", err, w.Body)
	}
	w = do(http.MethodGet, "/api/jobs?status=COMPLETED", nil)
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Fatalf("filtered list should be empty, got %s", w.Body)
	}
}

func TestCreateJobRejectsClientCommands(t *testing.T) {
	svc := NewJobService(ServiceOptions{Drivers: fakeFactory(fakeDecoder{})})
	cfg := runConfig(t, "fp32")
	exec, _ := apiConfig(t, cfg)
	router := newTestRouter(svc, exec)

	marker := filepath.Join(t.TempDir(), "marker")
	cfg.Decoder.Command = []string{"sh", "-c", "touch " + marker}
	cfg.OutputDir = ""
	raw, err := json.Marshal(cfg)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := json.Marshal(CreateJobRequest{Name: "evil", Config: raw})
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "decoder.command") {
		t.Fatalf("expected decoder.command to be rejected, got %d %s", w.Code, w.Body)
	}
	if jobs, _ := svc.List(context.Background()); len(jobs) != 0 {
		t.Fatalf("rejected request created %d jobs", len(jobs))
	}
	if _, err := os.Stat(marker); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("client command ran: %v", err)
	}
}

func TestRunCancelsQueuedJobs(t *testing.T) {
	built := 0
	factory := func(cfg *configmanagement.RunConfig, observer func(evaluationengine.VariantOutcome)) (*evaluationengine.Driver, error) {
		built++
		return fakeFactory(fakeDecoder{})(cfg, observer)
	}
	store := &fakeStore{}
	svc := NewJobService(ServiceOptions{Store: store, Drivers: factory})
	var ids []string
	for i := 0; i < 2; i++ {
		job, err := svc.Submit(context.Background(), "", runConfig(t, "fp32"))
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, job.ID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := svc.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if built != 0 {
		t.Fatalf("cancelled worker started %d jobs", built)
	}
	for _, id := range ids {
		job, err := svc.Get(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		if job.Status != models.JobStatusFailed || !strings.Contains(job.Error, context.Canceled.Error()) || job.CompletedAt == nil {
			t.Fatalf("queued job left as %+v", job)
		}
	}
	if n := len(store.updates); n != 2 || store.updates[0] != models.JobStatusFailed {
		t.Fatalf("cancelled jobs not persisted: %v", store.updates)
	}
	if _, err := svc.Submit(context.Background(), "", runConfig(t, "fp32")); !errors.Is(err, ErrServiceStopped) {
		t.Fatalf("expected ErrServiceStopped after Run returned, got %v", err)
	}
}

type fakeFetcher struct {
	fakePublisher
	objects map[string][]byte
}

func (f *fakeFetcher) DownloadArtifact(_ context.Context, jobID string, parts ...string) ([]byte, error) {
	b, ok := f.objects[jobID+"/"+strings.Join(parts, "/")]
	if !ok {
		return nil, errors.New("no such key")
	}
	return b, nil
}

func TestArtifacts(t *testing.T) {
	fetcher := &fakeFetcher{objects: map[string][]byte{}}
	svc := NewJobService(ServiceOptions{Artifacts: fetcher, Drivers: fakeFactory(fakeDecoder{})})
	cfg := runConfig(t, "fp32")
	job, err := svc.RunNow(context.Background(), "", cfg)
	if err != nil {
		t.Fatal(err)
	}
	fetcher.objects[job.ID+"/fp32/wer"] = []byte("from object store")

	got, err := svc.Artifact(context.Background(), job.ID, "fp32/wer")
	if err != nil || string(got) != "from object store" {
		t.Fatalf("object store read: %q %v", got, err)
	}
	got, err = svc.Artifact(context.Background(), job.ID, "fp32/text")
	if err != nil || string(got) != "utt1 hello world\n" {
		t.Fatalf("local fallback: %q %v", got, err)
	}
	if _, err := svc.Artifact(context.Background(), job.ID, "fp32/decode.log"); !errors.Is(err, ErrArtifactNotFound) {
		t.Fatalf("expected ErrArtifactNotFound, got %v", err)
	}
	for _, name := range []string{"../../etc/passwd", "fp32/units.txt", "../text", "fp32"} {
		if _, err := svc.Artifact(context.Background(), job.ID, name); !errors.Is(err, ErrInvalidArtifact) {
			t.Errorf("%s: expected ErrInvalidArtifact, got %v", name, err)
		}
	}

	router := newTestRouter(svc, configmanagement.ExecSettings{})
	req := httptest.NewRequest(http.MethodGet, "/api/jobs/"+job.ID+"/artifacts/"+ResultsFile, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), job.ID) || !strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		t.Fatalf("results.json over HTTP: %d %s", w.Code, w.Body)
	}
}

func zeroLog() zerolog.Logger { return zerolog.Nop() }
