// Package report renders analyses as per-call markdown and JSON files and a
// run summary in markdown and xlsx. Reports never contain transcript text or
// recording URLs.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/renameio/v2"

	"voice-chain-go/internal/actionable"
	"voice-chain-go/internal/aggregator"
	"voice-chain-go/internal/logger"
	"voice-chain-go/internal/types"
)

// Chain is the chain name stamped into every report.
const Chain = "voice"

type CallPaths struct {
	MD   string `json:"md"`
	JSON string `json:"json"`
}

type Writer struct {
	dir string
	log *logger.Logger
}

func NewWriter(dir string) *Writer {
	return &Writer{dir: dir, log: logger.Component("report")}
}

// dateSlug is the date part of an RFC 3339 run id.
func dateSlug(runID string) string {
	if len(runID) >= 10 {
		return runID[:10]
	}
	return runID
}

type jsonFinding struct {
	Category  string         `json:"category"`
	Severity  types.Severity `json:"severity"`
	Title     string         `json:"title"`
	Timestamp string         `json:"timestamp,omitempty"`
	Evidence  map[string]any `json:"evidence,omitempty"`
}

type callReport struct {
	Chain          string                   `json:"chain"`
	RunID          string                   `json:"run_id"`
	Call           types.CallMeta           `json:"call"`
	Timing         types.Timing             `json:"timing"`
	AudioAvailable bool                     `json:"audio_available"`
	Audio          types.AudioStatus        `json:"audio"`
	Transcript     *types.TranscriptSummary `json:"transcript,omitempty"`
	Findings       []jsonFinding            `json:"findings"`
	Verdict        aggregator.CallVerdict   `json:"verdict"`
}

// WriteCall writes <dir>/<date>_<short id>.json and .md.
func (w *Writer) WriteCall(runID string, a *types.Analysis) (CallPaths, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return CallPaths{}, fmt.Errorf("create report dir: %w", err)
	}
	verdict := aggregator.ForCall(a.Findings)
	verdict.TopFixes = actionable.TopFixes(a.Findings)

	base := filepath.Join(w.dir, dateSlug(runID)+"_"+a.Meta.CallIDShort)
	paths := CallPaths{MD: base + ".md", JSON: base + ".json"}

	rep := callReport{
		Chain:          Chain,
		RunID:          runID,
		Call:           a.Meta,
		Timing:         a.Timing,
		AudioAvailable: a.Audio.Available,
		Audio:          a.Audio,
		Transcript:     a.Transcript,
		Findings:       make([]jsonFinding, 0, len(a.Findings)),
		Verdict:        verdict,
	}
	for _, f := range a.Findings {
		rep.Findings = append(rep.Findings, jsonFinding{f.Category, f.Severity, f.Title, f.Timestamp, f.Evidence})
	}
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return CallPaths{}, fmt.Errorf("encode report: %w", err)
	}
	if err := renameio.WriteFile(paths.JSON, append(data, '\n'), 0o644); err != nil {
		return CallPaths{}, fmt.Errorf("write %s: %w", paths.JSON, err)
	}
	if err := renameio.WriteFile(paths.MD, []byte(renderCall(a, verdict)), 0o644); err != nil {
		return CallPaths{}, fmt.Errorf("write %s: %w", paths.MD, err)
	}

	w.log.WithCall(a.Meta.CallID).WithField("verdict", verdict.Score).Info("call report written")
	return paths, nil
}

func badge(s types.Severity) string {
	return "[" + strings.ToUpper(string(s)) + "]"
}

func secs(ms *float64) string {
	if ms == nil {
		return "?"
	}
	return fmt.Sprintf("%.1fs", *ms/1000)
}

func optional(v *float64, suffix string) string {
	if v == nil {
		return "?"
	}
	return fmt.Sprintf("%g%s", *v, suffix)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// renderTimeline lists turn timing only, never content.
func renderTimeline(turns []types.Turn) string {
	if len(turns) == 0 {
		return "_No transcript turns available._\n"
	}
	var b strings.Builder
	b.WriteString("| # | Role | Start | Duration | Words | Gap before |\n")
	b.WriteString("|----|------|-------|----------|-------|------------|\n")
	for i, t := range turns {
		gap := "-"
		if i > 0 && turns[i-1].EndMs != nil && t.StartMs != nil {
			g := *t.StartMs - *turns[i-1].EndMs
			gap = secs(&g)
		}
		fmt.Fprintf(&b, "| %d | %s | %s | %s | %d | %s |\n", i+1, t.Role, secs(t.StartMs), secs(t.DurationMs), t.WordCount, gap)
	}
	return b.String()
}

func renderFindings(findings []types.Finding) string {
	if len(findings) == 0 {
		return "_No findings._\n"
	}
	order := []types.Severity{types.SeverityCritical, types.SeverityWarning, types.SeverityInfo, types.SeverityPass}
	groups := map[types.Severity][]types.Finding{}
	for _, f := range findings {
		sev := f.Severity
		if !slices.Contains(order, sev) {
			sev = types.SeverityInfo
		}
		groups[sev] = append(groups[sev], f)
	}
	var b strings.Builder
	for _, sev := range order {
		items := groups[sev]
		if len(items) == 0 {
			continue
		}
		fmt.Fprintf(&b, "### %s (%d)\n\n", badge(sev), len(items))
		for _, f := range items {
			ts := ""
			if f.Timestamp != "" {
				ts = " @ " + f.Timestamp
			}
			fmt.Fprintf(&b, "- **%s**%s\n  %s\n", f.Title, ts, f.Detail)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func renderCall(a *types.Analysis, v aggregator.CallVerdict) string {
	m := a.Meta
	var b strings.Builder
	fmt.Fprintf(&b, "# Voice Call Report: %s\n\n", m.CallIDShort)
	fmt.Fprintf(&b, "**Verdict: %s** | Critical: %d | Warning: %d | Info: %d | Pass: %d\n\n", v.Score, v.Critical, v.Warning, v.Info, v.Passed)

	b.WriteString("## Meta\n\n| Key | Value |\n|-----|-------|\n")
	fmt.Fprintf(&b, "| Call ID | %s... |\n", m.CallIDShort)
	fmt.Fprintf(&b, "| Agent | %s |\n", m.AgentName)
	fmt.Fprintf(&b, "| Status | %s |\n", m.CallStatus)
	fmt.Fprintf(&b, "| Disconnection | %s |\n", m.DisconnectionReason)
	fmt.Fprintf(&b, "| Duration | %s |\n", optional(m.DurationS, "s"))
	fmt.Fprintf(&b, "| Turns | %d (user: %d, agent: %d) |\n", m.TurnCount, m.UserTurns, m.AgentTurns)
	fmt.Fprintf(&b, "| Audio available | %s |\n", yesNo(a.Audio.Available))
	if a.Audio.WavPath != "" {
		fmt.Fprintf(&b, "| Audio file | %s (%.2f MB, cached: %s) |\n", a.Audio.WavPath, a.Audio.SizeMB, yesNo(a.Audio.Cached))
	}
	if a.Audio.Error != "" {
		fmt.Fprintf(&b, "| Audio error | %s |\n", a.Audio.Error)
	}
	b.WriteString("\n")

	t := a.Timing
	b.WriteString("## Timing\n\n| Metric | Value |\n|--------|-------|\n")
	fmt.Fprintf(&b, "| Agent talk | %gs (%s) |\n", t.AgentTalkS, optional(t.AgentRatioPct, "%"))
	fmt.Fprintf(&b, "| User talk | %gs |\n", t.UserTalkS)
	fmt.Fprintf(&b, "| Max gap | %gs |\n", t.MaxGapS)
	fmt.Fprintf(&b, "| Total duration | %s |\n\n", optional(t.TotalDurationS, "s"))

	if tr := a.Transcript; tr != nil {
		b.WriteString("## Transcription\n\n| Metric | Value |\n|--------|-------|\n")
		fmt.Fprintf(&b, "| Status | %s |\n| Language | %s |\n| Words | %d |\n", tr.Status, tr.Language, tr.WordCount)
		segments := fmt.Sprint(tr.SegmentCount)
		if tr.SegmentCount < 0 {
			segments = "? (from cache)"
		}
		fmt.Fprintf(&b, "| Segments | %s |\n| Duration | %gs |\n\n", segments, tr.DurationSeconds)
	}

	b.WriteString("## Timeline (PII-safe: no content)\n\n")
	b.WriteString(renderTimeline(a.Turns))
	b.WriteString("\n## Findings\n\n")
	b.WriteString(renderFindings(a.Findings))
	if len(v.TopFixes) > 0 {
		b.WriteString("## Top Fixes\n\n")
		for i, fix := range v.TopFixes {
			fmt.Fprintf(&b, "%d. %s\n", i+1, fix)
		}
	}
	return b.String()
}
