package transcription

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ResultMarker prefixes the single machine-readable line a transcriber prints
// when it does not write a result file.
const ResultMarker = "__RESULT__:"

// ResultFileName is written by the child next to words.json. When present it
// takes precedence over the stdout marker.
const ResultFileName = "result.json"

// Output file names inside the transcription directory.
const (
	DirName          = "transcription"
	WordsFileName    = "words.json"
	SegmentsFileName = "segments.json"
	VTTFileName      = "transcript.vtt"
)

// Status values.
const (
	StatusCached = "cached"
	StatusFresh  = "fresh"
)

// Result describes one transcription. SegmentCount is -1 and Language is
// "unknown" when the result was rebuilt from cache.
type Result struct {
	Status          string  `json:"status"`
	Language        string  `json:"language"`
	WordCount       int     `json:"word_count"`
	SegmentCount    int     `json:"segment_count"`
	DurationSeconds float64 `json:"duration_s"`
	WordsPath       string  `json:"words_path"`
	SegmentsPath    string  `json:"segments_path"`
	VTTPath         string  `json:"vtt_path"`
}

// ParseResultLine finds the first marker line in stdout and returns the JSON
// object that follows it. Later lines containing the marker are ignored.
func ParseResultLine(stdout string) (json.RawMessage, error) {
	for _, line := range strings.Split(stdout, "\n") {
		idx := strings.Index(line, ResultMarker)
		if idx < 0 {
			continue
		}
		return parseObject([]byte(line[idx+len(ResultMarker):]))
	}
	return nil, &MissingResultMarkerError{StdoutTail: tail(stdout, 300)}
}

func parseObject(b []byte) (json.RawMessage, error) {
	b = bytes.TrimSpace(b)
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(b, &obj); err != nil {
		return nil, &ResultParseError{Err: err}
	}
	if obj == nil {
		return nil, &ResultParseError{Err: errors.New("result is null")}
	}
	return json.RawMessage(b), nil
}

// readResult prefers <outDir>/transcription/result.json and falls back to the
// stdout marker.
func readResult(outDir, stdout string) (*Result, error) {
	var raw json.RawMessage
	data, err := os.ReadFile(filepath.Join(outDir, DirName, ResultFileName))
	switch {
	case err == nil:
		if raw, err = parseObject(data); err != nil {
			return nil, err
		}
	case errors.Is(err, os.ErrNotExist):
		if raw, err = ParseResultLine(stdout); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("read %s: %w", ResultFileName, err)
	}

	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, &ResultParseError{Err: err}
	}
	res.Status = StatusFresh
	return &res, nil
}

// rebase points the result's file paths at finalDir. The child reports paths
// inside its staging directory.
func (r *Result) rebase(finalDir string) {
	move := func(p, name string) string {
		if p == "" {
			if _, err := os.Stat(filepath.Join(finalDir, name)); err != nil {
				return ""
			}
		}
		return filepath.Join(finalDir, name)
	}
	r.WordsPath = move(r.WordsPath, WordsFileName)
	r.SegmentsPath = move(r.SegmentsPath, SegmentsFileName)
	r.VTTPath = move(r.VTTPath, VTTFileName)
}
