package decoderadapters

import (
	"fmt"
	"sort"
	"strings"

	"asr-eval-driver/internal/models"

	"github.com/rs/zerolog"
)

// Registry maps a variant engine name to its decoder.
type Registry struct {
	decoders map[string]Decoder
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]Decoder)}
}

// NewDefaultRegistry registers the process decoder and the cloud vendor decoders.
func NewDefaultRegistry(process *ProcessDecoder, log zerolog.Logger) *Registry {
	r := NewRegistry()
	r.Register(models.EngineProcess, process)
	r.Register(models.EngineGoogle, NewGoogleDecoder(log))
	r.Register(models.EngineTencent, NewTencentDecoder(log))
	r.Register(models.EngineDeepgram, NewDeepgramDecoder(log))
	return r
}

// Register adds or replaces the decoder for an engine.
func (r *Registry) Register(engine string, d Decoder) {
	r.decoders[engine] = d
}

// Lookup returns the decoder for an engine.
func (r *Registry) Lookup(engine string) (Decoder, error) {
	d, ok := r.decoders[engine]
	if !ok {
		return nil, fmt.Errorf("no decoder registered for engine %q (have %s)", engine, strings.Join(r.Engines(), ", "))
	}
	return d, nil
}

// Engines lists the registered engine names.
func (r *Registry) Engines() []string {
	names := make([]string, 0, len(r.decoders))
	for name := range r.decoders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
