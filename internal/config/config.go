// Package config loads chain settings from an optional YAML file, a .env file
// and the process environment, in that order of increasing precedence.
package config

import (
	"path/filepath"
	"time"
)

// CredentialEnv is the environment variable holding the provider API key.
const CredentialEnv = "RETELL_API_KEY"

// KnownPythonPath is the one fixed install location tried when no explicit
// transcriber executable is configured.
const KnownPythonPath = "/usr/local/bin/python3.12"

type Config struct {
	Provider      ProviderConfig      `yaml:"provider"`
	Paths         PathsConfig         `yaml:"paths"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Chain         ChainConfig         `yaml:"chain"`
}

type ProviderConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	// SecretFile is the key-value file read, after confirmation, when the
	// credential is not in the environment.
	SecretFile string `yaml:"secret_file"`
}

type PathsConfig struct {
	WorkDir string `yaml:"work_dir"`
}

func (p PathsConfig) RawDir() string    { return filepath.Join(p.WorkDir, "raw") }
func (p PathsConfig) AudioDir() string  { return filepath.Join(p.WorkDir, "audio") }
func (p PathsConfig) ReportDir() string { return filepath.Join(p.WorkDir, "reports") }

type TranscriptionConfig struct {
	Enabled bool `yaml:"enabled"`
	// Executable is the explicit override; empty means resolve.
	Executable      string        `yaml:"executable"`
	Script          string        `yaml:"script"`
	Model           string        `yaml:"model"`
	Language        string        `yaml:"language"`
	Timeout         time.Duration `yaml:"timeout"`
	DownloadTimeout time.Duration `yaml:"download_timeout"`
}

type ChainConfig struct {
	Concurrency int    `yaml:"concurrency"`
	MetricsFile string `yaml:"metrics_file"`
	DefaultLast int    `yaml:"default_last"`
}

// Default returns the settings used when nothing is configured.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			BaseURL:    "https://api.retellai.com",
			Timeout:    30 * time.Second,
			SecretFile: ".env.local",
		},
		Paths: PathsConfig{WorkDir: filepath.Join("tmp", "chains", "voice")},
		Transcription: TranscriptionConfig{
			Enabled:         true,
			Script:          filepath.Join("scripts", "whisperx_transcribe.py"),
			Model:           "base",
			Timeout:         30 * time.Minute,
			DownloadTimeout: 5 * time.Minute,
		},
		Chain: ChainConfig{
			Concurrency: 1,
			DefaultLast: 2,
		},
	}
}
