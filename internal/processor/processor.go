// Package processor runs one collected call through analysis and its
// per-call report.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voice-chain-go/internal/logger"
	"voice-chain-go/internal/report"
	"voice-chain-go/internal/types"
)

// CategoryAnalysisFailed marks a call the analyzer could not process.
const CategoryAnalysisFailed = "analysis_failed"

type Analyzer interface {
	Analyze(ctx context.Context, rec types.CallRecord) (*types.Analysis, error)
}

type Reporter interface {
	WriteCall(runID string, a *types.Analysis) (report.CallPaths, error)
}

type Result struct {
	Analysis   *types.Analysis
	Paths      report.CallPaths
	DurationMs int64
}

type Processor struct {
	runID    string
	analyzer Analyzer
	reporter Reporter
	log      *logger.Logger
}

func New(runID string, a Analyzer, r Reporter) *Processor {
	return &Processor{
		runID:    runID,
		analyzer: a,
		reporter: r,
		log:      logger.Component("processor").WithRun(runID, report.Chain),
	}
}

// ProcessCall analyzes rec and writes its report. An analyzer failure is
// recorded as an analysis_failed critical finding on a minimal analysis so
// the run still reports the call. Cancellation and report write failures are
// returned.
func (p *Processor) ProcessCall(ctx context.Context, rec types.CallRecord) (Result, error) {
	start := time.Now()
	log := p.log.WithCall(rec.CallID)

	a, err := p.analyzer.Analyze(ctx, rec)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return Result{}, err
		}
		log.WithError(err).Warn("analysis failed")
		a = failedAnalysis(rec.CallID, err)
	}

	paths, err := p.reporter.WriteCall(p.runID, a)
	if err != nil {
		return Result{}, fmt.Errorf("report call %s: %w", types.ShortID(rec.CallID), err)
	}
	res := Result{Analysis: a, Paths: paths, DurationMs: time.Since(start).Milliseconds()}
	log.WithField("duration_ms", res.DurationMs).Debug("call processed")
	return res, nil
}

func failedAnalysis(callID string, err error) *types.Analysis {
	return &types.Analysis{
		Meta: types.CallMeta{CallID: callID, CallIDShort: types.ShortID(callID)},
		Findings: []types.Finding{{
			Category: CategoryAnalysisFailed,
			Severity: types.SeverityCritical,
			Title:    "Call could not be analyzed",
			Detail:   err.Error(),
		}},
	}
}
