package evaluationengine

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is across the failure taxonomy.
var (
	ErrDownload = errors.New("model artifacts unavailable")
	ErrDecode   = errors.New("decode failed")
	ErrScore    = errors.New("score failed")
)

// DownloadFailure reports a variant whose model directory or units file is missing.
type DownloadFailure struct {
	Variant string
	Path    string
	Err     error
}

func (e *DownloadFailure) Error() string {
	return fmt.Sprintf("variant %s: model artifact %s unavailable: %v", e.Variant, e.Path, e.Err)
}

func (e *DownloadFailure) Unwrap() error        { return e.Err }
func (e *DownloadFailure) Is(target error) bool { return target == ErrDownload }

// DecodeFailure reports a decoder that failed to start, exited non-zero,
// timed out or produced no transcript. ExitCode is -1 when the process did not exit.
type DecodeFailure struct {
	Variant  string
	ExitCode int
	Err      error
}

func (e *DecodeFailure) Error() string {
	if e.ExitCode >= 0 {
		return fmt.Sprintf("variant %s: decoder exited with status %d: %v", e.Variant, e.ExitCode, e.Err)
	}
	return fmt.Sprintf("variant %s: decode failed: %v", e.Variant, e.Err)
}

func (e *DecodeFailure) Unwrap() error        { return e.Err }
func (e *DecodeFailure) Is(target error) bool { return target == ErrDecode }

// ScoreFailure reports a scorer that exited non-zero or printed no parseable summary.
type ScoreFailure struct {
	Variant string
	Err     error
}

func (e *ScoreFailure) Error() string {
	return fmt.Sprintf("variant %s: score failed: %v", e.Variant, e.Err)
}

func (e *ScoreFailure) Unwrap() error        { return e.Err }
func (e *ScoreFailure) Is(target error) bool { return target == ErrScore }
