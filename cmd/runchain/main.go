// Command runchain analyzes recent or selected voice-agent calls and writes
// per-call and summary reports. It exits 1 when any call has a critical
// finding or the run cannot start.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"voice-chain-go/internal/analyzer"
	"voice-chain-go/internal/audio"
	"voice-chain-go/internal/calls"
	"voice-chain-go/internal/config"
	"voice-chain-go/internal/dataset"
	"voice-chain-go/internal/logger"
	"voice-chain-go/internal/metrics"
	"voice-chain-go/internal/pipeline"
	"voice-chain-go/internal/processor"
	"voice-chain-go/internal/report"
	"voice-chain-go/internal/secrets"
	"voice-chain-go/internal/transcription"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stderr))
}

type idList []string

func (l *idList) String() string { return strings.Join(*l, ",") }

func (l *idList) Set(v string) error {
	for _, id := range strings.Split(v, ",") {
		if id = strings.TrimSpace(id); id != "" {
			*l = append(*l, id)
		}
	}
	return nil
}

type options struct {
	chain           string
	selector        calls.Selector
	idsFile         string
	configPath      string
	envFile         string
	forceAudio      bool
	forceTranscribe bool
	noTranscribe    bool
}

const usage = `usage: runchain <chain> [--last N | --id ID ...] [--ids-file F] [--config F]
                [--force-audio] [--force-transcribe] [--no-transcribe]

Chains: voice

Exit codes: 0 no critical findings, 1 critical findings or a fatal error.
`

// parseArgs accepts the chain name before or after the flags.
func parseArgs(args []string, stderr io.Writer) (options, error) {
	var opts options
	var ids idList
	fs := flag.NewFlagSet("runchain", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage+"\nFlags:\n")
		fs.PrintDefaults()
	}
	fs.IntVar(&opts.selector.Last, "last", 0, "analyze the N most recent calls (default 2)")
	fs.Var(&ids, "id", "call id to analyze; repeatable or comma separated")
	fs.StringVar(&opts.idsFile, "ids-file", "", "file with call ids (.xlsx, .csv or one per line)")
	fs.StringVar(&opts.configPath, "config", "", "optional YAML config file")
	fs.StringVar(&opts.envFile, "env-file", ".env", "dotenv file with non-secret settings")
	fs.BoolVar(&opts.forceAudio, "force-audio", false, "download recordings even when cached")
	fs.BoolVar(&opts.forceTranscribe, "force-transcribe", false, "transcribe even when a transcript is cached")
	fs.BoolVar(&opts.noTranscribe, "no-transcribe", false, "skip transcription")

	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		opts.chain, args = args[0], args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.chain == "" {
		opts.chain = fs.Arg(0)
	} else if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}
	if opts.chain == "" {
		fs.Usage()
		return opts, errors.New("missing chain name")
	}
	if opts.selector.Last < 0 {
		return opts, fmt.Errorf("--last must be positive, got %d", opts.selector.Last)
	}
	if opts.idsFile != "" {
		fromFile, err := dataset.LoadCallIDs(opts.idsFile)
		if err != nil {
			return opts, fmt.Errorf("--ids-file: %w", err)
		}
		ids = append(ids, fromFile...)
	}
	if len(ids) > 0 && opts.selector.Last > 0 {
		return opts, errors.New("--last cannot be combined with --id or --ids-file")
	}
	opts.selector.IDs = ids
	return opts, nil
}

func run(args []string, stdin io.Reader, stderr io.Writer) int {
	opts, err := parseArgs(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "runchain: %v\n", err)
		return 1
	}

	if err := config.LoadDotEnv(opts.envFile); err != nil {
		fmt.Fprintf(stderr, "runchain: %v\n", err)
		return 1
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "runchain: %v\n", err)
		return 1
	}
	if opts.noTranscribe {
		cfg.Transcription.Enabled = false
	}
	if opts.selector.Last == 0 && len(opts.selector.IDs) == 0 {
		opts.selector.Last = cfg.Chain.DefaultLast
	}

	log := logger.Component("runchain")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var tr analyzer.Transcriber
	if cfg.Transcription.Enabled {
		exe, err := config.ResolveExecutable(config.TranscriberCandidates(cfg.Transcription.Executable), nil)
		if err != nil {
			fmt.Fprintf(stderr, "runchain: %v\n", err)
			return 1
		}
		orch, err := transcription.New(transcription.Config{
			Executable: exe,
			Script:     cfg.Transcription.Script,
			Model:      cfg.Transcription.Model,
			Language:   cfg.Transcription.Language,
			Timeout:    cfg.Transcription.Timeout,
		})
		if err != nil {
			fmt.Fprintf(stderr, "runchain: %v\n", err)
			return 1
		}
		tr = orch
		log.WithField("executable", exe).WithField("model", cfg.Transcription.Model).Debug("transcription enabled")
	}

	m := metrics.New()
	an := analyzer.New(audio.NewCollector(cfg.Paths.AudioDir(), cfg.Transcription.DownloadTimeout), tr, m, analyzer.Options{
		ForceAudio:      opts.forceAudio,
		ForceTranscribe: opts.forceTranscribe,
		Progress:        func(line string) { fmt.Fprintln(stderr, line) },
	})
	writer := report.NewWriter(cfg.Paths.ReportDir())

	runner := &pipeline.Runner{
		Credentials: secrets.Chain{
			secrets.Env{Key: config.CredentialEnv},
			secrets.File{
				Path:      cfg.Provider.SecretFile,
				Key:       config.CredentialEnv,
				Confirmer: secrets.PromptConfirmer{In: stdin, Out: stderr},
			},
		},
		NewCollector: func(apiKey string) (pipeline.Collector, error) {
			client, err := calls.NewClient(calls.ClientConfig{
				BaseURL:    cfg.Provider.BaseURL,
				APIKey:     apiKey,
				Timeout:    cfg.Provider.Timeout,
				MaxRetries: cfg.Provider.MaxRetries,
			})
			if err != nil {
				return nil, err
			}
			return calls.NewCollector(client, cfg.Paths.RawDir()), nil
		},
		NewProcessor: func(runID string) pipeline.CallProcessor {
			return processor.New(runID, an, writer)
		},
		Summary:     writer,
		Metrics:     m,
		Concurrency: cfg.Chain.Concurrency,
	}

	out, err := runner.Run(ctx, opts.chain, opts.selector)
	if err != nil {
		if errors.Is(err, secrets.ErrNotFound) {
			err = fmt.Errorf("%s not set; export it or add it to %s", config.CredentialEnv, cfg.Provider.SecretFile)
		}
		log.WithError(err).Error("run failed")
		fmt.Fprintf(stderr, "runchain: %v\n", err)
		return 1
	}

	if cfg.Chain.MetricsFile != "" {
		if err := m.WriteTextfile(cfg.Chain.MetricsFile); err != nil {
			log.WithError(err).Warn("metrics not written")
		}
	}

	for _, c := range out.Calls {
		fmt.Fprintf(stderr, "  %s  %s\n", c.Analysis.Meta.CallIDShort, c.Paths.MD)
	}
	fmt.Fprintf(stderr, "\nVerdict: %s (critical %d, warning %d)\nSummary: %s\n",
		out.Verdict.Verdict, out.Verdict.CriticalsTotal, out.Verdict.WarningsTotal, out.SummaryPaths.MD)
	return out.ExitCode()
}
