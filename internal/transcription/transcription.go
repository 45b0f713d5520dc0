// Package transcription runs an external transcription engine as a child
// process and caches its word-level output per call directory.
package transcription

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"voice-chain-go/internal/logger"
)

// ProgressPrefixes are the stdout tags forwarded to Options.Progress.
var ProgressPrefixes = []string{"[transcribe]", "[whisperx]"}

type Config struct {
	// Executable is the resolved interpreter or engine binary. Required.
	Executable string
	// Script is passed as the first argument when set.
	Script   string
	Model    string
	Language string
	Timeout  time.Duration
}

type Options struct {
	Model    string
	Language string
	Force    bool
	// Progress receives progress lines as they arrive. It runs on the reading
	// goroutine and must not block for long.
	Progress func(line string)
}

type Orchestrator struct {
	cfg Config
	log *logger.Logger
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Executable == "" {
		return nil, ErrNoExecutable
	}
	if cfg.Model == "" {
		cfg.Model = "base"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}
	return &Orchestrator{cfg: cfg, log: logger.Component("transcription")}, nil
}

// Transcribe returns the cached transcription under callDir or runs the engine
// on wavPath. A fresh run writes into a staging directory that replaces
// <callDir>/transcription only after the child succeeded.
func (o *Orchestrator) Transcribe(ctx context.Context, wavPath, callDir string, opts Options) (*Result, error) {
	finalDir := filepath.Join(callDir, DirName)
	log := o.log.WithField("call_dir", filepath.Base(callDir))

	if !opts.Force {
		cached, err := loadCached(finalDir)
		if err != nil {
			return nil, err
		}
		if cached != nil {
			log.WithField("words", cached.WordCount).Info("transcription cache hit")
			return cached, nil
		}
	}

	model := firstNonEmpty(opts.Model, o.cfg.Model)
	language := firstNonEmpty(opts.Language, o.cfg.Language)

	staging := filepath.Join(callDir, ".staging-"+uuid.NewString())
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	args := make([]string, 0, 7)
	if o.cfg.Script != "" {
		args = append(args, o.cfg.Script)
	}
	args = append(args, wavPath, staging, "--model", model)
	if language != "" {
		args = append(args, "--language", language)
	}

	start := time.Now()
	log.WithField("model", model).WithField("language", language).Info("starting transcriber")
	stdout, err := o.run(ctx, args, opts.Progress)
	if err != nil {
		log.WithError(err).WithField("kind", Kind(err)).Warn("transcriber failed")
		return nil, err
	}

	res, err := readResult(staging, stdout)
	if err != nil {
		return nil, err
	}
	if err := publish(filepath.Join(staging, DirName), finalDir, staging); err != nil {
		return nil, err
	}
	res.rebase(finalDir)

	log.WithField("words", res.WordCount).
		WithField("segments", res.SegmentCount).
		WithField("elapsed", time.Since(start).Round(time.Millisecond).String()).
		Info("transcription finished")
	return res, nil
}

// run starts the child, forwards progress lines and returns the full stdout.
func (o *Orchestrator) run(ctx context.Context, args []string, progress func(string)) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, o.cfg.Executable, args...)
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = 10 * time.Second

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	pipe, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return "", &SpawnError{Executable: o.cfg.Executable, Err: err}
	}

	var stdout strings.Builder
	sc := bufio.NewScanner(pipe)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		stdout.WriteString(line)
		stdout.WriteByte('\n')
		if progress != nil && isProgress(line) {
			progress(line)
		}
	}
	scanErr := sc.Err()
	if scanErr != nil {
		_, _ = io.Copy(io.Discard, pipe)
	}

	waitErr := cmd.Wait()
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		return "", fmt.Errorf("after %s: %w", o.cfg.Timeout, ErrTimeout)
	case ctx.Err() != nil:
		return "", ctx.Err()
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return "", &ProcessExitedError{Code: exitErr.ExitCode(), StderrTail: tail(stderr.String(), 500)}
		}
		return "", fmt.Errorf("wait transcriber: %w", waitErr)
	}
	if scanErr != nil {
		return "", fmt.Errorf("read transcriber output: %w", scanErr)
	}
	return stdout.String(), nil
}

// rename is swapped in tests.
var rename = os.Rename

// publish moves the staged output over finalDir. Output without a word list
// is rejected so a valid cache is never replaced by an empty run. An existing
// directory is first parked inside staging and moved back if the swap fails.
func publish(stagedDir, finalDir, staging string) error {
	if !exists(filepath.Join(stagedDir, WordsFileName)) {
		return ErrMissingWords
	}
	parked := ""
	if _, err := os.Stat(finalDir); err == nil {
		parked = filepath.Join(staging, "previous")
		if err := rename(finalDir, parked); err != nil {
			return fmt.Errorf("park previous transcription: %w", err)
		}
	}
	if err := rename(stagedDir, finalDir); err != nil {
		if parked != "" {
			if rerr := rename(parked, finalDir); rerr != nil {
				return fmt.Errorf("publish transcription: %w (restore previous: %v)", err, rerr)
			}
		}
		return fmt.Errorf("publish transcription: %w", err)
	}
	return nil
}

func isProgress(line string) bool {
	line = strings.TrimSpace(line)
	for _, p := range ProgressPrefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
