package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestHelperDecoder stands in for the decoder binary when re-executed by the
// run command. Variants whose model dir is named "typo" drop one letter.
func TestHelperDecoder(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) > 0 {
		args = args[1:]
	}
	fs := flag.NewFlagSet("decoder", flag.ContinueOnError)
	fs.Int("chunk-size", 0, "")
	fs.Float64("ctc-weight", 0, "")
	fs.Float64("reverse-weight", 0, "")
	fs.Float64("rescoring-weight", 0, "")
	fs.String("wav-manifest", "", "")
	modelDir := fs.String("model-dir", "", "")
	fs.String("units-path", "", "")
	result := fs.String("result-path", "", "")
	if err := fs.Parse(args); err != nil {
		os.Exit(64)
	}
	text := "hello world"
	if filepath.Base(*modelDir) == "typo" {
		text = "helo world"
	}
	if err := os.WriteFile(*result, []byte("utt1 "+text+"\n"), 0o644); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func isolateEnv(t *testing.T) {
	for _, k := range []string{"DATABASE_URL", "MINIO_ENDPOINT", "MINIO_BUCKET_NAME", "EVAL_OUTPUT_DIR", "EVAL_METRICS_FILE", "EVAL_CONFIG", "EVAL_API_KEY"} {
		t.Setenv(k, "")
	}
}

func TestRunCommand(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "data/wav.scp"), "utt1 /audio/utt1.wav\n")
	writeFile(t, filepath.Join(dir, "data/text"), "utt1 hello world\n")
	for _, v := range []string{"exact", "typo"} {
		writeFile(t, filepath.Join(dir, "models", v, "units.txt"), "<blank> 0\n")
	}
	config := fmt.Sprintf(`
manifest: data/wav.scp
reference: data/text
output_dir: out
decode:
  chunk_size: 16
  ctc_weight: 0.5
  reverse_weight: 0.3
  rescoring_weight: 1.0
decoder:
  command: [%q, "-test.run=TestHelperDecoder", "--"]
  env: [GO_WANT_HELPER_PROCESS=1]
scorer:
  backend: builtin
  level: char
variants:
  - name: exact
    model_dir: models/exact
    units_path: models/exact/units.txt
  - name: typo
    model_dir: models/typo
    units_path: models/typo/units.txt
`, os.Args[0])
	cfgPath := filepath.Join(dir, "eval.yaml")
	writeFile(t, cfgPath, config)
	metricsPath := filepath.Join(dir, "metrics.prom")

	var stdout, stderr bytes.Buffer
	code := run([]string{"run", "-config", cfgPath, "-metrics-file", metricsPath, "-log-level", "error"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit %d, stderr: %s", code, stderr.String())
	}
	out := stdout.String()
	if !strings.Contains(out, "exact") || !strings.Contains(out, "0.00%") || !strings.Contains(out, "10.00%") {
		t.Fatalf("unexpected summary:\n%s", out)
	}
	if strings.Index(out, "exact") > strings.Index(out, "typo") {
		t.Fatalf("results not in config order:\n%s", out)
	}
	for _, p := range []string{"out/exact/text", "out/typo/wer", "out/results.json"} {
		if _, err := os.Stat(filepath.Join(dir, p)); err != nil {
			t.Errorf("missing %s: %v", p, err)
		}
	}
	b, err := os.ReadFile(metricsPath)
	if err != nil || !strings.Contains(string(b), `evaldriver_variant_runs_total{outcome="success",variant="typo"} 1`) {
		t.Fatalf("metrics textfile: %v\n%s", err, b)
	}
}

func TestScoreCommand(t *testing.T) {
	dir := t.TempDir()
	ref := filepath.Join(dir, "ref")
	hyp := filepath.Join(dir, "hyp")
	writeFile(t, ref, "utt1 hello world\n")
	writeFile(t, hyp, "utt1 helo world\n")

	var stdout, stderr bytes.Buffer
	if code := run([]string{"score", "-log-level", "error", ref, hyp}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "Overall -> 10.00 %") {
		t.Fatalf("unexpected output %q", stdout.String())
	}
	stdout.Reset()
	if code := run([]string{"score", "-level", "word", "-log-level", "error", ref, hyp}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(stdout.String(), "Overall -> 50.00 %") {
		t.Fatalf("unexpected word-level output %q", stdout.String())
	}
	if code := run([]string{"score", ref}, &stdout, &stderr); code != 2 {
		t.Fatalf("missing hypothesis should be a usage error, got %d", code)
	}
}

func TestDispatch(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run(nil, &stdout, &stderr); code != 2 {
		t.Fatalf("no args: %d", code)
	}
	if code := run([]string{"bogus"}, &stdout, &stderr); code != 2 || !strings.Contains(stderr.String(), "unknown command") {
		t.Fatalf("bogus: %d %s", code, stderr.String())
	}
	if code := run([]string{"-version"}, &stdout, &stderr); code != 0 || !strings.Contains(stdout.String(), "version=dev") {
		t.Fatalf("version: %d %s", code, stdout.String())
	}
}

func TestRunCommandBadConfig(t *testing.T) {
	isolateEnv(t)
	var stdout, stderr bytes.Buffer
	if code := run([]string{"run", "-config", filepath.Join(t.TempDir(), "missing.yaml")}, &stdout, &stderr); code != 2 {
		t.Fatalf("missing config should exit 2, got %d", code)
	}
}

func TestServeRefusesUnsafeStart(t *testing.T) {
	isolateEnv(t)
	var stdout, stderr bytes.Buffer
	if code := run([]string{"serve", "-log-level", "error"}, &stdout, &stderr); code != 2 {
		t.Fatalf("serve without an API key should exit 2, got %d", code)
	}
	missing := filepath.Join(t.TempDir(), "missing.yaml")
	if code := run([]string{"serve", "-insecure", "-config", missing, "-log-level", "error"}, &stdout, &stderr); code != 2 {
		t.Fatalf("serve without an output directory should exit 2, got %d", code)
	}
}

func TestLatencyCommand(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	ali := filepath.Join(dir, "ali.txt")
	stamps := filepath.Join(dir, "timestamps.txt")
	writeFile(t, ali, "u1 <blank> <blank> a <blank> <blank> <blank> b <blank>\nu2 a <blank> <blank> <blank> <blank> <blank> <blank> <blank>\n")
	writeFile(t, stamps, "u1 <blank> a b\nu2 a a\n")
	metricsPath := filepath.Join(dir, "latency.prom")

	var stdout, stderr bytes.Buffer
	code := run([]string{"latency", "-alignment", ali, "-timestamps", stamps, "-chunk-size", "16", "-metrics-file", metricsPath, "-log-level", "error"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	out := stdout.String()
	for _, want := range []string{"FirstTokenDelay", "LastTokenDelay", "AvgTokenDelay", "20.000", "u1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output lacks %q:\n%s", want, out)
		}
	}
	b, err := os.ReadFile(metricsPath)
	if err != nil || !strings.Contains(string(b), `evaldriver_token_delay_milliseconds{metric="FirstTokenDelay",rank="max"} 20`) {
		t.Fatalf("metrics textfile: %v\n%s", err, b)
	}

	if code := run([]string{"latency", "-alignment", ali}, &stdout, &stderr); code != 2 {
		t.Fatalf("missing timestamps should be a usage error, got %d", code)
	}
	writeFile(t, stamps, "other a\n")
	if code := run([]string{"latency", "-alignment", ali, "-timestamps", stamps, "-log-level", "error"}, &stdout, &stderr); code != 1 {
		t.Fatalf("no comparable utterances should exit 1, got %d", code)
	}
}
