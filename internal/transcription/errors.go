package transcription

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNoExecutable is returned by New when no transcriber executable is configured.
	ErrNoExecutable = errors.New("transcription executable not configured")
	// ErrTimeout marks a child process that outlived Config.Timeout.
	ErrTimeout = errors.New("transcription timed out")
	// ErrMissingWords means the child reported success without writing words.json.
	ErrMissingWords = errors.New("transcriber wrote no " + WordsFileName)
)

// SpawnError means the child process could not be started at all.
type SpawnError struct {
	Executable string
	Err        error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Executable, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ProcessExitedError is a non-zero exit. StderrTail holds at most the last 500
// characters of standard error.
type ProcessExitedError struct {
	Code       int
	StderrTail string
}

func (e *ProcessExitedError) Error() string {
	return fmt.Sprintf("transcriber exited with code %d: %s", e.Code, e.StderrTail)
}

// MissingResultMarkerError means the child exited cleanly but produced neither
// a result file nor a marker line.
type MissingResultMarkerError struct {
	StdoutTail string
}

func (e *MissingResultMarkerError) Error() string {
	return fmt.Sprintf("no %s line in transcriber output: %s", ResultMarker, e.StdoutTail)
}

// ResultParseError means a result was found but is not a valid JSON object.
type ResultParseError struct {
	Err error
}

func (e *ResultParseError) Error() string {
	return fmt.Sprintf("parse transcription result: %v", e.Err)
}

func (e *ResultParseError) Unwrap() error { return e.Err }

// Error kinds reported by Kind.
const (
	KindSpawn               = "spawn"
	KindProcessExited       = "process_exited"
	KindMissingResultMarker = "missing_result_marker"
	KindResultParse         = "result_parse"
	KindMissingWords        = "missing_words"
	KindTimeout             = "timeout"
	KindCanceled            = "canceled"
	KindOther               = "other"
)

// Kind classifies err for findings and metrics labels.
func Kind(err error) string {
	var (
		spawn  *SpawnError
		exited *ProcessExitedError
		marker *MissingResultMarkerError
		parse  *ResultParseError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, ErrMissingWords):
		return KindMissingWords
	case errors.As(err, &spawn):
		return KindSpawn
	case errors.As(err, &exited):
		return KindProcessExited
	case errors.As(err, &marker):
		return KindMissingResultMarker
	case errors.As(err, &parse):
		return KindResultParse
	default:
		return KindOther
	}
}

// tail returns the last n characters of s.
func tail(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
