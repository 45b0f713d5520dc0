// Package audio downloads call recordings into a per-call cache directory.
//
// The recording reference is a signed URL. It is only ever handed to the HTTP
// request; errors, logs and results carry derived values only.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"

	"voice-chain-go/internal/logger"
	"voice-chain-go/internal/types"
)

// FileName is the cached recording name inside a call directory.
const FileName = "input.wav"

// Value errors reported in Result.Error.
const (
	ErrNoRecordingURL = "no_recording_url"
	ErrTimeout        = "timeout"
	ErrRequestFailed  = "request_failed"
)

// Result describes one collection attempt.
type Result struct {
	Downloaded bool    `json:"downloaded"`
	Cached     bool    `json:"cached"`
	WavPath    string  `json:"wav_path,omitempty"`
	CallDir    string  `json:"call_dir"`
	SizeMB     float64 `json:"size_mb,omitempty"`
	Error      string  `json:"error,omitempty"`
}

type Options struct {
	Force bool
}

type Collector struct {
	audioDir   string
	httpClient *http.Client
	log        *logger.Logger
}

// NewCollector caches recordings under audioDir/<short id>/input.wav.
func NewCollector(audioDir string, timeout time.Duration) *Collector {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Collector{
		audioDir:   audioDir,
		httpClient: &http.Client{Timeout: timeout},
		log:        logger.Component("audio"),
	}
}

// CallDir returns the cache directory for callID.
func (c *Collector) CallDir(callID string) string {
	if callID == "" {
		callID = "unknown"
	}
	return filepath.Join(c.audioDir, types.ShortID(callID))
}

// Collect returns the cached recording or downloads it. Provider-side failures
// come back in Result.Error; the returned error is reserved for local I/O
// failures and cancellation.
func (c *Collector) Collect(ctx context.Context, call *types.ProviderCall, opts Options) (Result, error) {
	callDir := c.CallDir(call.CallID)
	wavPath := filepath.Join(callDir, FileName)
	log := c.log.WithCall(call.CallID)

	if !opts.Force {
		if st, err := os.Stat(wavPath); err == nil && st.Mode().IsRegular() {
			log.WithField("size_mb", toMB(st.Size())).Debug("recording cache hit")
			return Result{Cached: true, WavPath: wavPath, CallDir: callDir, SizeMB: toMB(st.Size())}, nil
		}
	}

	rec := call.Recording()
	if rec == "" {
		log.Info("no recording reference on call")
		return Result{CallDir: callDir, Error: ErrNoRecordingURL}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rec.Reveal(), nil)
	if err != nil {
		// url.Parse errors quote the input, so the cause is dropped.
		return Result{CallDir: callDir, Error: ErrRequestFailed}, nil
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{CallDir: callDir}, ctx.Err()
		}
		if isTimeout(err) {
			log.Warn("recording download timed out")
			return Result{CallDir: callDir, Error: ErrTimeout}, nil
		}
		log.WithField("cause", scrub(err)).Warn("recording download failed")
		return Result{CallDir: callDir, Error: ErrRequestFailed}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		code := fmt.Sprintf("http_%d", resp.StatusCode)
		log.WithField("status", resp.StatusCode).Warn("recording download rejected")
		return Result{CallDir: callDir, Error: code}, nil
	}

	if err := os.MkdirAll(callDir, 0o755); err != nil {
		return Result{CallDir: callDir}, fmt.Errorf("create call dir: %w", err)
	}
	size, err := writeAtomic(wavPath, resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return Result{CallDir: callDir}, ctx.Err()
		}
		if isTimeout(err) {
			log.Warn("recording download timed out")
			return Result{CallDir: callDir, Error: ErrTimeout}, nil
		}
		return Result{CallDir: callDir}, fmt.Errorf("write recording: %s", scrub(err))
	}

	log.WithField("size_mb", toMB(size)).Info("recording downloaded")
	return Result{Downloaded: true, WavPath: wavPath, CallDir: callDir, SizeMB: toMB(size)}, nil
}

// writeAtomic streams r into a temp file next to path and renames it into place
// only after the whole body arrived.
func writeAtomic(path string, r io.Reader) (int64, error) {
	t, err := renameio.TempFile("", path)
	if err != nil {
		return 0, err
	}
	defer t.Cleanup()
	n, err := io.Copy(t, r)
	if err != nil {
		return n, err
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return n, err
	}
	return n, nil
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// scrub drops the URL from transport errors.
func scrub(err error) string {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Op + ": " + ue.Err.Error()
	}
	return err.Error()
}

func toMB(n int64) float64 {
	return math.Round(float64(n)/1024/1024*100) / 100
}
