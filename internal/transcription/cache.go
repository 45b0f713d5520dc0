package transcription

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

type cachedWord struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// loadCached rebuilds a Result from words.json. It returns (nil, nil) when there
// is nothing cached. Segment count and language are not recoverable from the
// word list.
func loadCached(dir string) (*Result, error) {
	wordsPath := filepath.Join(dir, WordsFileName)
	data, err := os.ReadFile(wordsPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cached words: %w", err)
	}
	var words []cachedWord
	if err := json.Unmarshal(data, &words); err != nil {
		return nil, fmt.Errorf("decode cached words: %w", err)
	}

	res := &Result{
		Status:       StatusCached,
		Language:     "unknown",
		WordCount:    len(words),
		SegmentCount: -1,
		WordsPath:    wordsPath,
	}
	if len(words) > 0 {
		res.DurationSeconds = words[len(words)-1].End
	}
	if p := filepath.Join(dir, SegmentsFileName); exists(p) {
		res.SegmentsPath = p
	}
	if p := filepath.Join(dir, VTTFileName); exists(p) {
		res.VTTPath = p
	}
	return res, nil
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
