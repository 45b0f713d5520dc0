package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"voice-chain-go/internal/logger"
)

// Load builds a Config from defaults, the YAML file at path (skipped when path
// is empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()
		if err := decodeInto(f, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}
	if err := ApplyEnv(cfg, os.Getenv); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes YAML over the defaults and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeInto(r, cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeInto(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

// LoadDotEnv reads a .env file and exports its entries into the process
// environment without overriding variables that are already set. The
// credential key is never exported from here: it may only be read through the
// confirmed secret-file path. A missing file is not an error.
func LoadDotEnv(path string) error {
	vals, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %q: %w", path, err)
	}
	log := logger.Component("config")
	for k, v := range vals {
		if k == CredentialEnv {
			log.WithField("file", path).Warnf("ignoring %s from env file; set it in the environment or the secret file", CredentialEnv)
			continue
		}
		if _, ok := os.LookupEnv(k); ok {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return fmt.Errorf("config: setenv %s: %w", k, err)
		}
	}
	return nil
}

// ApplyEnv overlays environment variables onto cfg.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	var errs []error

	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s=%q is not an integer", key, v))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := getenv(key); v != "" {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s=%q is not a duration", key, v))
				return
			}
			*dst = d
		}
	}

	str("RETELL_BASE_URL", &cfg.Provider.BaseURL)
	dur("PROVIDER_TIMEOUT", &cfg.Provider.Timeout)
	num("PROVIDER_MAX_RETRIES", &cfg.Provider.MaxRetries)
	str("CHAIN_SECRET_FILE", &cfg.Provider.SecretFile)

	str("CHAIN_WORK_DIR", &cfg.Paths.WorkDir)

	str("TRANSCRIBE_PYTHON", &cfg.Transcription.Executable)
	str("TRANSCRIBE_SCRIPT", &cfg.Transcription.Script)
	str("TRANSCRIBE_MODEL", &cfg.Transcription.Model)
	str("TRANSCRIBE_LANGUAGE", &cfg.Transcription.Language)
	dur("TRANSCRIBE_TIMEOUT", &cfg.Transcription.Timeout)
	dur("DOWNLOAD_TIMEOUT", &cfg.Transcription.DownloadTimeout)
	if v := getenv("TRANSCRIBE_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("TRANSCRIBE_ENABLED=%q is not a boolean", v))
		} else {
			cfg.Transcription.Enabled = b
		}
	}

	num("CHAIN_CONCURRENCY", &cfg.Chain.Concurrency)
	str("CHAIN_METRICS_FILE", &cfg.Chain.MetricsFile)

	if len(errs) > 0 {
		return fmt.Errorf("config: environment: %w", errors.Join(errs...))
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Provider.BaseURL == "" {
		errs = append(errs, errors.New("provider.base_url must not be empty"))
	}
	if cfg.Provider.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("provider.timeout must be positive, got %s", cfg.Provider.Timeout))
	}
	if cfg.Provider.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("provider.max_retries must be >= 0, got %d", cfg.Provider.MaxRetries))
	}
	if cfg.Paths.WorkDir == "" {
		errs = append(errs, errors.New("paths.work_dir must not be empty"))
	}
	if cfg.Transcription.Enabled {
		if cfg.Transcription.Script == "" {
			errs = append(errs, errors.New("transcription.script must not be empty when transcription is enabled"))
		}
		if cfg.Transcription.Model == "" {
			errs = append(errs, errors.New("transcription.model must not be empty"))
		}
		if cfg.Transcription.Timeout <= 0 {
			errs = append(errs, fmt.Errorf("transcription.timeout must be positive, got %s", cfg.Transcription.Timeout))
		}
	}
	if cfg.Transcription.DownloadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("transcription.download_timeout must be positive, got %s", cfg.Transcription.DownloadTimeout))
	}
	if cfg.Chain.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("chain.concurrency must be >= 1, got %d", cfg.Chain.Concurrency))
	}
	if cfg.Chain.DefaultLast < 1 {
		errs = append(errs, fmt.Errorf("chain.default_last must be >= 1, got %d", cfg.Chain.DefaultLast))
	}

	return errors.Join(errs...)
}

// TranscriberCandidates lists executables for the transcription script in
// priority order: the explicit override, KnownPythonPath, then the bare
// command "python3" left to PATH lookup at spawn time.
func TranscriberCandidates(override string) []string {
	return []string{override, KnownPythonPath, "python3"}
}

// ResolveExecutable returns the first usable candidate. A candidate containing
// a path separator is usable only if exists reports true; a bare command name
// is always usable. Empty candidates are skipped.
func ResolveExecutable(candidates []string, exists func(string) bool) (string, error) {
	if exists == nil {
		exists = fileExists
	}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if strings.ContainsAny(c, `/\`) {
			if exists(c) {
				return c, nil
			}
			continue
		}
		return c, nil
	}
	return "", errors.New("config: no transcriber executable found; set TRANSCRIBE_PYTHON")
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}
