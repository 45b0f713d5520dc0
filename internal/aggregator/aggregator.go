package aggregator

import "voice-chain-go/internal/types"

// Verdict is the pass/warn/fail classification of a call or a run.
type Verdict string

const (
	Pass Verdict = "PASS"
	Warn Verdict = "WARN"
	Fail Verdict = "FAIL"
)

// WarnThreshold is the number of warnings that turns PASS into WARN. It is a
// fixed policy value.
const WarnThreshold = 3

// Decide maps severity totals to a verdict: FAIL with any critical, WARN with
// at least WarnThreshold warnings, PASS otherwise.
func Decide(criticals, warnings int) Verdict {
	switch {
	case criticals > 0:
		return Fail
	case warnings >= WarnThreshold:
		return Warn
	default:
		return Pass
	}
}

// CallVerdict summarizes one call's findings.
type CallVerdict struct {
	Score    Verdict  `json:"score"`
	Critical int      `json:"critical_count"`
	Warning  int      `json:"warning_count"`
	Info     int      `json:"info_count"`
	Passed   int      `json:"pass_count"`
	TopFixes []string `json:"top_fixes"`
}

// RunVerdict is derived per run and never persisted on its own.
type RunVerdict struct {
	CriticalsTotal int     `json:"criticals_total"`
	WarningsTotal  int     `json:"warnings_total"`
	Verdict        Verdict `json:"verdict"`
}

// ExitCode is 1 when any critical finding exists, else 0.
func (v RunVerdict) ExitCode() int {
	if v.CriticalsTotal > 0 {
		return 1
	}
	return 0
}

// ForCall counts findings by severity. Top fixes are filled by the caller.
func ForCall(findings []types.Finding) CallVerdict {
	var v CallVerdict
	for _, f := range findings {
		switch f.Severity {
		case types.SeverityCritical:
			v.Critical++
		case types.SeverityWarning:
			v.Warning++
		case types.SeverityInfo:
			v.Info++
		case types.SeverityPass:
			v.Passed++
		}
	}
	v.Score = Decide(v.Critical, v.Warning)
	v.TopFixes = []string{}
	return v
}

// ForRun totals severities across all analyses.
func ForRun(analyses []*types.Analysis) RunVerdict {
	var v RunVerdict
	for _, a := range analyses {
		if a == nil {
			continue
		}
		v.CriticalsTotal += a.Count(types.SeverityCritical)
		v.WarningsTotal += a.Count(types.SeverityWarning)
	}
	v.Verdict = Decide(v.CriticalsTotal, v.WarningsTotal)
	return v
}

// Insight is the cross-call breakdown used by the summary.
type Insight struct {
	Calls          int             `json:"calls"`
	AudioAvailable int             `json:"audio_available"`
	CategoryCounts map[string]int  `json:"category_counts"`
	VerdictCounts  map[Verdict]int `json:"verdict_counts"`
}

// Aggregate counts critical and warning findings per category, and per-call
// verdicts.
func Aggregate(analyses []*types.Analysis) Insight {
	ins := Insight{CategoryCounts: map[string]int{}, VerdictCounts: map[Verdict]int{}}
	for _, a := range analyses {
		if a == nil {
			continue
		}
		ins.Calls++
		if a.Audio.Available {
			ins.AudioAvailable++
		}
		for _, f := range a.Findings {
			if f.Severity == types.SeverityCritical || f.Severity == types.SeverityWarning {
				ins.CategoryCounts[f.Category]++
			}
		}
		ins.VerdictCounts[ForCall(a.Findings).Score]++
	}
	return ins
}
