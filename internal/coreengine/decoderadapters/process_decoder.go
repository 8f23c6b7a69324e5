package decoderadapters

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

// ProcessDecoder invokes a prebuilt decoder binary with the fixed flag contract:
//
//	--chunk-size --ctc-weight --reverse-weight --rescoring-weight
//	--wav-manifest --model-dir --units-path --result-path
type ProcessDecoder struct {
	// Command is the binary followed by any leading arguments.
	Command []string
	// ExtraArgs are appended after the fixed flags.
	ExtraArgs []string
	Env       []string
	// TranscriptFromStdout redirects stdout into the result file for decoders
	// that print the transcript instead of honouring --result-path.
	TranscriptFromStdout bool
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Args renders the argument list passed after Command[0].
func (d *ProcessDecoder) Args(req DecodeRequest) []string {
	var args []string
	if len(d.Command) > 1 {
		args = append(args, d.Command[1:]...)
	}
	args = append(args,
		"--chunk-size="+strconv.Itoa(req.Config.ChunkSize),
		"--ctc-weight="+formatFloat(req.Config.CTCWeight),
		"--reverse-weight="+formatFloat(req.Config.ReverseWeight),
		"--rescoring-weight="+formatFloat(req.Config.RescoringWeight),
		"--wav-manifest="+req.ManifestPath,
		"--model-dir="+req.Variant.ModelDir,
		"--units-path="+req.Variant.UnitsPath,
		"--result-path="+req.ResultPath,
	)
	return append(args, d.ExtraArgs...)
}

// Decode runs the binary to completion. A non-zero exit is returned as a
// wrapped *exec.ExitError so callers can read the exit code.
func (d *ProcessDecoder) Decode(ctx context.Context, req DecodeRequest) error {
	if len(d.Command) == 0 {
		return errors.New("decoder command is not configured")
	}
	if err := os.MkdirAll(filepath.Dir(req.ResultPath), 0o755); err != nil {
		return fmt.Errorf("create result dir: %w", err)
	}

	var logw io.Writer = io.Discard
	if req.LogPath != "" {
		lf, err := os.Create(req.LogPath)
		if err != nil {
			return fmt.Errorf("create decode log: %w", err)
		}
		defer lf.Close()
		logw = lf
	}

	cmd := exec.CommandContext(ctx, d.Command[0], d.Args(req)...)
	cmd.Stdout = logw
	cmd.Stderr = logw
	cmd.Env = append(os.Environ(), d.Env...)
	if d.TranscriptFromStdout {
		out, err := os.Create(req.ResultPath)
		if err != nil {
			return fmt.Errorf("create result file: %w", err)
		}
		defer out.Close()
		cmd.Stdout = out
	}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("run %s: %w", d.Command[0], err)
	}
	if _, err := os.Stat(req.ResultPath); err != nil {
		return fmt.Errorf("%s exited cleanly but wrote no transcript: %w", d.Command[0], err)
	}
	return nil
}
