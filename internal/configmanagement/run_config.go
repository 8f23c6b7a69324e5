package configmanagement

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"asr-eval-driver/internal/models"

	"gopkg.in/yaml.v3"
)

// Scorer backends.
const (
	ScorerProcess = "process"
	ScorerBuiltin = "builtin"
)

// Scoring levels.
const (
	LevelChar = "char"
	LevelWord = "word"
)

// Failure policies, mirrored by the evaluation engine.
const (
	PolicyFailFast = "fail_fast"
	PolicyContinue = "continue"
)

// Duration is a time.Duration written as "90s" or "5m" in YAML and JSON.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"90s\": %w", err)
	}
	return d.parse(s)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) parse(s string) error {
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	if v < 0 {
		return fmt.Errorf("duration %q must not be negative", s)
	}
	*d = Duration(v)
	return nil
}

// DecoderConfig describes how the external decoder binary is launched.
type DecoderConfig struct {
	Command              []string `yaml:"command" json:"command"`
	ExtraArgs            []string `yaml:"extra_args,omitempty" json:"extra_args,omitempty"`
	Env                  []string `yaml:"env,omitempty" json:"env,omitempty"`
	TranscriptFromStdout bool     `yaml:"transcript_from_stdout,omitempty" json:"transcript_from_stdout,omitempty"`
}

// ScorerConfig selects the scoring backend.
type ScorerConfig struct {
	Backend string   `yaml:"backend" json:"backend"`
	Command []string `yaml:"command,omitempty" json:"command,omitempty"`
	Level   string   `yaml:"level" json:"level"`
	Verbose bool     `yaml:"verbose,omitempty" json:"verbose,omitempty"`
}

// CharLevel reports whether tokens are characters rather than words.
func (s ScorerConfig) CharLevel() bool { return s.Level == LevelChar }

// RunConfig is one evaluation run: the manifest, the reference, the shared
// decode parameters and the variants to compare.
type RunConfig struct {
	Name           string                `yaml:"name,omitempty" json:"name,omitempty"`
	Manifest       string                `yaml:"manifest" json:"manifest"`
	Reference      string                `yaml:"reference" json:"reference"`
	OutputDir      string                `yaml:"output_dir" json:"output_dir"`
	FailurePolicy  string                `yaml:"failure_policy" json:"failure_policy"`
	ProcessTimeout Duration              `yaml:"process_timeout,omitempty" json:"process_timeout,omitempty"`
	Decode         models.DecodeConfig   `yaml:"decode" json:"decode"`
	Decoder        DecoderConfig         `yaml:"decoder" json:"decoder"`
	Scorer         ScorerConfig          `yaml:"scorer" json:"scorer"`
	Variants       []models.ModelVariant `yaml:"variants" json:"variants"`
}

// Load reads a YAML run config. Unknown keys are rejected so typos surface early.
func Load(path string) (*RunConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read run config: %w", err)
	}
	cfg, err := ParseYAML(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.resolvePaths(filepath.Dir(path))
	return cfg, nil
}

// ParseYAML decodes and defaults a run config without validating it.
func ParseYAML(b []byte) (*RunConfig, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	var cfg RunConfig
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse run config: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// ParseJSON decodes a run config submitted over the HTTP API.
func ParseJSON(b []byte) (*RunConfig, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var cfg RunConfig
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse run config: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// resolvePaths makes relative paths in a config file relative to the file itself.
func (c *RunConfig) resolvePaths(base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	c.Manifest = abs(c.Manifest)
	c.Reference = abs(c.Reference)
	c.OutputDir = abs(c.OutputDir)
	for i := range c.Variants {
		c.Variants[i].ModelDir = abs(c.Variants[i].ModelDir)
		c.Variants[i].UnitsPath = abs(c.Variants[i].UnitsPath)
	}
}

// ApplyDefaults fills unset optional fields.
func (c *RunConfig) ApplyDefaults() {
	if c.FailurePolicy == "" {
		c.FailurePolicy = PolicyFailFast
	}
	if c.Scorer.Backend == "" {
		c.Scorer.Backend = ScorerProcess
	}
	if c.Scorer.Level == "" {
		c.Scorer.Level = LevelChar
	}
	if c.Decode.ChunkSize == 0 {
		c.Decode.ChunkSize = -1
	}
}

// ErrServerControlled is returned when a submitted config sets a field only
// the server may set.
var ErrServerControlled = errors.New("field is set by the server")

// ExecSettings are the parts of a run config that launch host processes or
// choose where files are written. Configs submitted over the job API never
// carry them; the server fills them in.
type ExecSettings struct {
	Decoder       DecoderConfig
	ScorerCommand []string
	OutputDir     string
}

// ExecSettings returns the server-controlled fields of c.
func (c *RunConfig) ExecSettings() ExecSettings {
	return ExecSettings{
		Decoder: DecoderConfig{
			Command:              append([]string(nil), c.Decoder.Command...),
			ExtraArgs:            append([]string(nil), c.Decoder.ExtraArgs...),
			Env:                  append([]string(nil), c.Decoder.Env...),
			TranscriptFromStdout: c.Decoder.TranscriptFromStdout,
		},
		ScorerCommand: append([]string(nil), c.Scorer.Command...),
		OutputDir:     c.OutputDir,
	}
}

// ApplyExecSettings rejects a submitted config that sets any server-controlled
// field, then copies them from s.
func (c *RunConfig) ApplyExecSettings(s ExecSettings) error {
	var set []string
	if len(c.Decoder.Command) > 0 {
		set = append(set, "decoder.command")
	}
	if len(c.Decoder.ExtraArgs) > 0 {
		set = append(set, "decoder.extra_args")
	}
	if len(c.Decoder.Env) > 0 {
		set = append(set, "decoder.env")
	}
	if c.Decoder.TranscriptFromStdout {
		set = append(set, "decoder.transcript_from_stdout")
	}
	if len(c.Scorer.Command) > 0 {
		set = append(set, "scorer.command")
	}
	if c.OutputDir != "" {
		set = append(set, "output_dir")
	}
	if len(set) > 0 {
		return fmt.Errorf("%w: %s", ErrServerControlled, strings.Join(set, ", "))
	}
	s = s.clone()
	c.Decoder = s.Decoder
	c.Scorer.Command = s.ScorerCommand
	c.OutputDir = s.OutputDir
	return nil
}

func (s ExecSettings) clone() ExecSettings {
	rc := RunConfig{Decoder: s.Decoder, OutputDir: s.OutputDir}
	rc.Scorer.Command = s.ScorerCommand
	return rc.ExecSettings()
}

// NeedsProcessDecoder reports whether any variant runs the external binary.
func (c *RunConfig) NeedsProcessDecoder() bool {
	for _, v := range c.Variants {
		if v.EngineName() == models.EngineProcess {
			return true
		}
	}
	return false
}

// Validate returns the first configuration error.
func (c *RunConfig) Validate() error {
	if c.Manifest == "" {
		return errors.New("manifest is required")
	}
	if c.Reference == "" {
		return errors.New("reference is required")
	}
	if c.OutputDir == "" {
		return errors.New("output_dir is required")
	}
	switch c.FailurePolicy {
	case PolicyFailFast, PolicyContinue:
	default:
		return fmt.Errorf("failure_policy must be %s or %s, got %q", PolicyFailFast, PolicyContinue, c.FailurePolicy)
	}
	if err := c.Decode.Validate(); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if err := models.ValidateVariants(c.Variants); err != nil {
		return fmt.Errorf("variants: %w", err)
	}
	if c.NeedsProcessDecoder() && len(c.Decoder.Command) == 0 {
		return errors.New("decoder.command is required for process variants")
	}
	switch c.Scorer.Backend {
	case ScorerProcess:
		if len(c.Scorer.Command) == 0 {
			return errors.New("scorer.command is required for the process scorer")
		}
	case ScorerBuiltin:
	default:
		return fmt.Errorf("scorer.backend must be %s or %s, got %q", ScorerProcess, ScorerBuiltin, c.Scorer.Backend)
	}
	switch c.Scorer.Level {
	case LevelChar, LevelWord:
	default:
		return fmt.Errorf("scorer.level must be %s or %s, got %q", LevelChar, LevelWord, c.Scorer.Level)
	}
	return nil
}
