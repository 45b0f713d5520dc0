// Package pipeline sequences a chain run: credential, collection, per-call
// analysis and reports, run summary, verdict.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"voice-chain-go/internal/aggregator"
	"voice-chain-go/internal/calls"
	"voice-chain-go/internal/logger"
	"voice-chain-go/internal/processor"
	"voice-chain-go/internal/report"
	"voice-chain-go/internal/secrets"
	"voice-chain-go/internal/types"
)

// ErrUnknownChain is returned for any chain name other than report.Chain.
var ErrUnknownChain = errors.New("unknown chain")

type Collector interface {
	Collect(ctx context.Context, sel calls.Selector) ([]types.CallRecord, error)
}

type CallProcessor interface {
	ProcessCall(ctx context.Context, rec types.CallRecord) (processor.Result, error)
}

type SummaryWriter interface {
	WriteSummary(runID string, results []report.CallResult) (report.SummaryPaths, error)
}

// Recorder receives run metrics. nil is fine.
type Recorder interface {
	ObserveCollected(n int)
	ObserveCall(a *types.Analysis, d time.Duration)
	ObserveRun(v aggregator.Verdict, d time.Duration)
}

type Runner struct {
	Credentials secrets.Provider
	// NewCollector builds the collector once the credential is known.
	NewCollector func(apiKey string) (Collector, error)
	// NewProcessor builds the per-call processor for a run id.
	NewProcessor func(runID string) CallProcessor
	Summary      SummaryWriter
	Metrics      Recorder
	// Concurrency bounds how many calls are processed at once. Values below
	// 1 mean one at a time.
	Concurrency int
	Now         func() time.Time
}

type Outcome struct {
	RunID        string
	Verdict      aggregator.RunVerdict
	Calls        []report.CallResult
	SummaryPaths report.SummaryPaths
}

// ExitCode is the process exit code for the run.
func (o Outcome) ExitCode() int { return o.Verdict.ExitCode() }

// Run executes chain for the selected calls. Credential and collection
// failures abort the run before any call is analyzed. Per-call failures are
// findings; only cancellation and report write errors stop the run.
func (r *Runner) Run(ctx context.Context, chain string, sel calls.Selector) (Outcome, error) {
	if chain != report.Chain {
		return Outcome{}, fmt.Errorf("%w %q (known: %s)", ErrUnknownChain, chain, report.Chain)
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	started := now()
	runID := started.UTC().Format(time.RFC3339)
	log := logger.Component("pipeline").WithRun(runID, chain)

	apiKey, err := r.Credentials.Credential(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("credential: %w", err)
	}
	collector, err := r.NewCollector(apiKey)
	if err != nil {
		return Outcome{}, fmt.Errorf("collector: %w", err)
	}

	log.WithField("ids", len(sel.IDs)).WithField("last", sel.Last).Info("collecting calls")
	records, err := collector.Collect(ctx, sel)
	if err != nil {
		return Outcome{}, fmt.Errorf("collect: %w", err)
	}
	if r.Metrics != nil {
		r.Metrics.ObserveCollected(len(records))
	}
	log.WithField("calls", len(records)).Info("calls collected")
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	results, err := r.process(ctx, runID, records)
	if err != nil {
		return Outcome{}, err
	}
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	summary, err := r.Summary.WriteSummary(runID, results)
	if err != nil {
		return Outcome{}, fmt.Errorf("summary: %w", err)
	}

	analyses := make([]*types.Analysis, len(results))
	for i, res := range results {
		analyses[i] = res.Analysis
	}
	out := Outcome{
		RunID:        runID,
		Verdict:      aggregator.ForRun(analyses),
		Calls:        results,
		SummaryPaths: summary,
	}
	elapsed := now().Sub(started)
	if r.Metrics != nil {
		r.Metrics.ObserveRun(out.Verdict.Verdict, elapsed)
	}
	log.WithField("verdict", out.Verdict.Verdict).
		WithField("criticals", out.Verdict.CriticalsTotal).
		WithField("warnings", out.Verdict.WarningsTotal).
		WithField("duration_ms", elapsed.Milliseconds()).
		Info("run finished")
	return out, nil
}

// process runs every record through a processor, at most Concurrency at a
// time. Results keep the input order.
func (r *Runner) process(ctx context.Context, runID string, records []types.CallRecord) ([]report.CallResult, error) {
	proc := r.NewProcessor(runID)
	results := make([]report.CallResult, len(records))

	limit := r.Concurrency
	if limit < 1 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, rec := range records {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := proc.ProcessCall(gctx, rec)
			if err != nil {
				return err
			}
			results[i] = report.CallResult{Analysis: res.Analysis, Paths: res.Paths}
			if r.Metrics != nil {
				r.Metrics.ObserveCall(res.Analysis, time.Duration(res.DurationMs)*time.Millisecond)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
