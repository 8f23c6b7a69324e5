// Package manifest reads and writes Kaldi-style "key value" files: the wav
// manifest that maps utterance IDs to audio paths, and transcript files that
// map utterance IDs to text.
package manifest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"
)

// maxLineSize bounds a single manifest or transcript line.
const maxLineSize = 1 << 20

// Entry is one non-blank line split at the first run of whitespace.
type Entry struct {
	Key   string
	Value string
}

// Utterance is a manifest entry.
type Utterance struct {
	ID        string
	AudioPath string
}

// Parse reads entries in file order. Duplicate keys are rejected.
func Parse(r io.Reader) ([]Entry, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	var entries []Entry
	seen := make(map[string]int)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		key, value := splitLine(line)
		if prev, dup := seen[key]; dup {
			return nil, fmt.Errorf("line %d: duplicate key %q (first seen on line %d)", lineNo, key, prev)
		}
		seen[key] = lineNo
		entries = append(entries, Entry{Key: key, Value: value})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read line %d: %w", lineNo+1, err)
	}
	return entries, nil
}

func splitLine(line string) (string, string) {
	i := strings.IndexFunc(line, unicode.IsSpace)
	if i < 0 {
		return line, ""
	}
	return line[:i], strings.TrimSpace(line[i:])
}

// ReadFile parses the entries of the file at path.
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	entries, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return entries, nil
}

// ReadManifest parses a wav manifest. Every utterance needs an audio path and
// the manifest must not be empty.
func ReadManifest(path string) ([]Utterance, error) {
	entries, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%s: manifest has no utterances", path)
	}
	utts := make([]Utterance, 0, len(entries))
	for _, e := range entries {
		if e.Value == "" {
			return nil, fmt.Errorf("%s: utterance %q has no audio path", path, e.Key)
		}
		utts = append(utts, Utterance{ID: e.Key, AudioPath: e.Value})
	}
	return utts, nil
}

// Transcripts is an ordered utterance ID to text mapping.
type Transcripts struct {
	keys []string
	text map[string]string
}

// NewTranscripts builds a Transcripts from entries, keeping their order.
func NewTranscripts(entries []Entry) *Transcripts {
	t := &Transcripts{text: make(map[string]string, len(entries))}
	for _, e := range entries {
		if _, ok := t.text[e.Key]; !ok {
			t.keys = append(t.keys, e.Key)
		}
		t.text[e.Key] = e.Value
	}
	return t
}

// ReadTranscripts parses a transcript file. An utterance may have empty text.
func ReadTranscripts(path string) (*Transcripts, error) {
	entries, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return NewTranscripts(entries), nil
}

// Keys returns the utterance IDs in file order.
func (t *Transcripts) Keys() []string {
	return append([]string(nil), t.keys...)
}

// Text returns the transcript of an utterance.
func (t *Transcripts) Text(key string) (string, bool) {
	s, ok := t.text[key]
	return s, ok
}

// Len is the number of utterances.
func (t *Transcripts) Len() int { return len(t.keys) }

// Write renders entries as "key value" lines.
func Write(w io.Writer, entries []Entry) error {
	bw := bufio.NewWriter(w)
	for _, e := range entries {
		var err error
		if e.Value == "" {
			_, err = fmt.Fprintln(bw, e.Key)
		} else {
			_, err = fmt.Fprintf(bw, "%s %s\n", e.Key, e.Value)
		}
		if err != nil {
			return err
		}
	}
	return bw.Flush()
}
