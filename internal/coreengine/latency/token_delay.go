// Package latency measures how late a streaming decoder emits tokens compared
// with a forced alignment of the same audio.
//
// Both inputs are per-frame token sequences keyed by utterance ID. The
// alignment has one token per input frame; the streaming path has one token
// per encoder frame, which covers Subsampling input frames.
package latency

import (
	"errors"
	"sort"
	"strings"
	"time"

	"asr-eval-driver/internal/manifest"
)

const (
	DefaultBlank        = "<blank>"
	DefaultSubsampling  = 4
	DefaultFrameShift   = 10 * time.Millisecond
	DefaultMaxFrameDiff = 7
)

// Metric names a per-utterance delay.
type Metric string

const (
	FirstTokenDelay Metric = "FirstTokenDelay"
	LastTokenDelay  Metric = "LastTokenDelay"
	AvgTokenDelay   Metric = "AvgTokenDelay"
)

// Metrics lists the delays in report order.
var Metrics = []Metric{FirstTokenDelay, LastTokenDelay, AvgTokenDelay}

// Options tune how frame indices become milliseconds. Zero values take the defaults.
type Options struct {
	Blank       string
	Subsampling int
	FrameShift  time.Duration
	// MaxFrameDiff drops utterances whose two paths differ in length by at
	// least this many input frames.
	MaxFrameDiff int
}

func (o Options) withDefaults() Options {
	if o.Blank == "" {
		o.Blank = DefaultBlank
	}
	if o.Subsampling <= 0 {
		o.Subsampling = DefaultSubsampling
	}
	if o.FrameShift <= 0 {
		o.FrameShift = DefaultFrameShift
	}
	if o.MaxFrameDiff <= 0 {
		o.MaxFrameDiff = DefaultMaxFrameDiff
	}
	return o
}

// Sample is one utterance whose token counts matched. Delays are in milliseconds.
type Sample struct {
	Key           string
	AlignedText   string
	StreamingText string
	Delays        []float64
	First         float64
	Last          float64
	Avg           float64
}

// Value returns the delay named by m.
func (s Sample) Value(m Metric) float64 {
	switch m {
	case FirstTokenDelay:
		return s.First
	case LastTokenDelay:
		return s.Last
	default:
		return s.Avg
	}
}

// Report holds the usable samples and why the other utterances were skipped.
type Report struct {
	Samples       []Sample
	NotFound      int
	Ignored       int
	LengthUnequal int
}

// Percentile is one row of the summary: the delay at a rank and the utterance holding it.
type Percentile struct {
	Label string
	Value float64
	Key   string
}

var ranks = []struct {
	label string
	q     float64
}{
	{"max", 1}, {"P90", 0.90}, {"P75", 0.75}, {"P50", 0.50}, {"P25", 0.25}, {"min", 0},
}

// ErrNoSamples is returned when no utterance survived the filters.
var ErrNoSamples = errors.New("no utterance has comparable alignment and streaming timestamps")

// Analyze compares each aligned utterance with its streaming path, in alignment order.
func Analyze(alignments []manifest.Entry, streaming *manifest.Transcripts, opts Options) Report {
	opts = opts.withDefaults()
	shift := float64(opts.FrameShift) / float64(time.Millisecond)
	var rep Report
	for _, a := range alignments {
		st, ok := streaming.Text(a.Key)
		if !ok {
			rep.NotFound++
			continue
		}
		faFrames := strings.Fields(a.Value)
		stFrames := blankRepeats(strings.Fields(st), opts.Blank)
		if abs(len(stFrames)*opts.Subsampling-len(faFrames)) >= opts.MaxFrameDiff {
			rep.Ignored++
			continue
		}
		faText, faAt := emissions(faFrames, opts.Blank, shift)
		stText, stAt := emissions(stFrames, opts.Blank, shift*float64(opts.Subsampling))
		if len(faAt) != len(stAt) {
			rep.LengthUnequal++
			continue
		}
		if len(stAt) == 0 {
			rep.Ignored++
			continue
		}
		s := Sample{Key: a.Key, AlignedText: faText, StreamingText: stText, Delays: make([]float64, len(stAt))}
		var sum float64
		for i := range stAt {
			s.Delays[i] = stAt[i] - faAt[i]
			sum += s.Delays[i]
		}
		s.First = s.Delays[0]
		s.Last = s.Delays[len(s.Delays)-1]
		s.Avg = sum / float64(len(s.Delays))
		rep.Samples = append(rep.Samples, s)
	}
	return rep
}

// Percentiles ranks the samples by m. Ties keep alignment order.
func (r Report) Percentiles(m Metric) ([]Percentile, error) {
	n := len(r.Samples)
	if n == 0 {
		return nil, ErrNoSamples
	}
	sorted := append([]Sample(nil), r.Samples...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Value(m) < sorted[j].Value(m) })
	out := make([]Percentile, 0, len(ranks))
	for _, rk := range ranks {
		i := int(float64(n) * rk.q)
		if i >= n {
			i = n - 1
		}
		out = append(out, Percentile{Label: rk.label, Value: sorted[i].Value(m), Key: sorted[i].Key})
	}
	return out, nil
}

// blankRepeats turns every repeat of a non-blank token into a blank, so each
// emitted token is counted once at its first frame.
func blankRepeats(frames []string, blank string) []string {
	out := make([]string, len(frames))
	for i, tok := range frames {
		if i > 0 && tok != blank && tok == frames[i-1] {
			out[i] = blank
			continue
		}
		out[i] = tok
	}
	return out
}

func emissions(frames []string, blank string, msPerFrame float64) (string, []float64) {
	var text strings.Builder
	var at []float64
	for i, tok := range frames {
		if tok == blank {
			continue
		}
		text.WriteString(tok)
		at = append(at, float64(i)*msPerFrame)
	}
	return text.String(), at
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
