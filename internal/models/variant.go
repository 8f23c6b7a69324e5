package models

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Decoder engines a variant can be evaluated with.
const (
	EngineProcess  = "process"
	EngineGoogle   = "google"
	EngineTencent  = "tencent"
	EngineDeepgram = "deepgram"
)

// ModelVariant is one model build evaluated under the shared decode configuration.
type ModelVariant struct {
	Name      string            `yaml:"name" json:"name"`
	ModelDir  string            `yaml:"model_dir" json:"model_dir"`
	UnitsPath string            `yaml:"units_path" json:"units_path"`
	Engine    string            `yaml:"engine,omitempty" json:"engine,omitempty"`
	Options   map[string]string `yaml:"options,omitempty" json:"options,omitempty"`
}

// EngineName returns the decoder engine, defaulting to the external process.
func (v ModelVariant) EngineName() string {
	if v.Engine == "" {
		return EngineProcess
	}
	return v.Engine
}

// Option returns a variant option or def when it is unset.
func (v ModelVariant) Option(key, def string) string {
	if val, ok := v.Options[key]; ok && val != "" {
		return val
	}
	return def
}

// Validate checks a single variant. Local process variants need model artifacts.
func (v ModelVariant) Validate() error {
	if strings.TrimSpace(v.Name) == "" {
		return errors.New("variant name is required")
	}
	if v.Name == "." || v.Name == ".." || filepath.Base(v.Name) != v.Name || strings.ContainsAny(v.Name, `/\`) {
		return fmt.Errorf("variant name %q must be a single path element", v.Name)
	}
	switch v.EngineName() {
	case EngineProcess:
		if v.ModelDir == "" {
			return fmt.Errorf("variant %s: model_dir is required", v.Name)
		}
		if v.UnitsPath == "" {
			return fmt.Errorf("variant %s: units_path is required", v.Name)
		}
	case EngineGoogle, EngineTencent, EngineDeepgram:
	default:
		return fmt.Errorf("variant %s: unknown engine %q", v.Name, v.Engine)
	}
	return nil
}

// ValidateVariants checks every variant and rejects duplicate names.
func ValidateVariants(variants []ModelVariant) error {
	if len(variants) == 0 {
		return errors.New("at least one variant is required")
	}
	seen := make(map[string]struct{}, len(variants))
	for _, v := range variants {
		if err := v.Validate(); err != nil {
			return err
		}
		if _, dup := seen[v.Name]; dup {
			return fmt.Errorf("duplicate variant name %q", v.Name)
		}
		seen[v.Name] = struct{}{}
	}
	return nil
}
