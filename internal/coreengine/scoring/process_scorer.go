package scoring

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// ProcessScorer runs an external compute-wer style script:
//
//	<command...> --char=1 --v=1 <reference> <hypothesis>
type ProcessScorer struct {
	Command   []string
	CharLevel bool
	Verbose   bool
	Env       []string
}

// Args renders the argument list passed after Command[0].
func (s *ProcessScorer) Args(referencePath, hypothesisPath string) []string {
	var args []string
	if len(s.Command) > 1 {
		args = append(args, s.Command[1:]...)
	}
	return append(args,
		"--char="+boolFlag(s.CharLevel),
		"--v="+boolFlag(s.Verbose),
		referencePath,
		hypothesisPath,
	)
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Score runs the scorer and parses its summary from stdout.
func (s *ProcessScorer) Score(ctx context.Context, referencePath, hypothesisPath string) (Score, error) {
	if len(s.Command) == 0 {
		return Score{}, errors.New("scorer command is not configured")
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.Command[0], s.Args(referencePath, hypothesisPath)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = append(os.Environ(), s.Env...)
	if err := cmd.Run(); err != nil {
		return Score{Output: stdout.Bytes()}, fmt.Errorf("run %s: %w%s", s.Command[0], err, stderrTail(stderr.Bytes()))
	}
	rate, counts, err := ParseSummary(stdout.Bytes())
	if err != nil {
		return Score{Output: stdout.Bytes()}, fmt.Errorf("parse %s output: %w", s.Command[0], err)
	}
	return Score{ErrorRate: rate, Counts: counts, Output: stdout.Bytes()}, nil
}

// stderrTail keeps the last few lines of a failing process's stderr for the error message.
func stderrTail(b []byte) string {
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return ""
	}
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return ": " + strings.Join(lines, " | ")
}
