package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/xuri/excelize/v2"

	"voice-chain-go/internal/actionable"
	"voice-chain-go/internal/aggregator"
	"voice-chain-go/internal/types"
)

type SummaryPaths struct {
	MD   string `json:"md"`
	XLSX string `json:"xlsx"`
}

// CallResult pairs an analysis with the report files written for it.
type CallResult struct {
	Analysis *types.Analysis
	Paths    CallPaths
}

// WriteSummary writes <dir>/<date>_summary.md and <date>_summary.xlsx for the
// run. Results are rendered in the order given.
func (w *Writer) WriteSummary(runID string, results []CallResult) (SummaryPaths, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return SummaryPaths{}, fmt.Errorf("create report dir: %w", err)
	}
	base := filepath.Join(w.dir, dateSlug(runID)+"_summary")
	paths := SummaryPaths{MD: base + ".md", XLSX: base + ".xlsx"}

	analyses := make([]*types.Analysis, 0, len(results))
	for _, r := range results {
		analyses = append(analyses, r.Analysis)
	}

	md := renderSummary(runID, results, analyses)
	if err := renameio.WriteFile(paths.MD, []byte(md), 0o644); err != nil {
		return SummaryPaths{}, fmt.Errorf("write %s: %w", paths.MD, err)
	}
	if err := writeWorkbook(paths.XLSX, results); err != nil {
		return SummaryPaths{}, err
	}
	w.log.WithField("calls", len(results)).WithField("summary", paths.MD).Info("summary written")
	return paths, nil
}

func renderSummary(runID string, results []CallResult, analyses []*types.Analysis) string {
	run := aggregator.ForRun(analyses)
	ins := aggregator.Aggregate(analyses)

	title := runID
	if len(title) > 19 {
		title = title[:19]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# Voice Chain Summary: %s\n\n", title)
	fmt.Fprintf(&b, "**Overall: %s** | Calls: %d | Critical: %d | Warning: %d\n\n",
		run.Verdict, len(results), run.CriticalsTotal, run.WarningsTotal)

	b.WriteString("## Per-Call Verdicts\n\n| Call | Verdict | Critical | Warning | Report |\n|------|---------|----------|---------|--------|\n")
	for _, r := range results {
		v := aggregator.ForCall(r.Analysis.Findings)
		fmt.Fprintf(&b, "| %s... | %s | %d | %d | %s |\n",
			r.Analysis.Meta.CallIDShort, v.Score, v.Critical, v.Warning, filepath.Base(r.Paths.MD))
	}

	b.WriteString("\n## Top Regressions\n\n")
	regressions := actionable.TopRegressions(analyses)
	if len(regressions) == 0 {
		b.WriteString("_None, all checks passed._\n")
	}
	for i, r := range regressions {
		fmt.Fprintf(&b, "%d. %s\n", i+1, r)
	}

	if cards := actionable.Generate(ins); len(cards) > 0 {
		b.WriteString("\n## Next Actions\n\n")
		for _, c := range cards {
			fmt.Fprintf(&b, "- **%s**: %s (%s)\n", c.Insight, c.Action, c.Impact)
		}
	}

	b.WriteString("\n## Audio Gate\n\n")
	fmt.Fprintf(&b, "%d/%d calls have recordings available.\n", ins.AudioAvailable, len(results))
	if ins.AudioAvailable == 0 {
		b.WriteString("Enable call recording for the test agents to get audio evidence.\n")
	} else {
		transcribed := 0
		for _, a := range analyses {
			if a.Transcript != nil {
				transcribed++
			}
		}
		fmt.Fprintf(&b, "%d/%d recordings transcribed.\n", transcribed, ins.AudioAvailable)
	}

	fmt.Fprintf(&b, "\n---\n_Generated by runchain at %s_\n", runID)
	return b.String()
}

const (
	callsSheet    = "Calls"
	findingsSheet = "Findings"
)

// writeWorkbook writes a Calls sheet with one row per call and a Findings
// sheet with one row per critical, warning or info finding.
func writeWorkbook(path string, results []CallResult) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", callsSheet); err != nil {
		return fmt.Errorf("xlsx: %w", err)
	}
	if _, err := f.NewSheet(findingsSheet); err != nil {
		return fmt.Errorf("xlsx: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("xlsx style: %w", err)
	}

	callHeader := []any{"Call", "Verdict", "Critical", "Warning", "Info", "Duration (s)", "Audio", "Transcript words", "Report"}
	findingHeader := []any{"Call", "Severity", "Category", "Title", "Timestamp"}
	if err := setRow(f, callsSheet, 1, callHeader); err != nil {
		return err
	}
	if err := setRow(f, findingsSheet, 1, findingHeader); err != nil {
		return err
	}
	_ = f.SetRowStyle(callsSheet, 1, 1, bold)
	_ = f.SetRowStyle(findingsSheet, 1, 1, bold)

	fRow := 2
	for i, r := range results {
		a := r.Analysis
		v := aggregator.ForCall(a.Findings)
		var duration, words any
		if a.Meta.DurationS != nil {
			duration = *a.Meta.DurationS
		}
		if a.Transcript != nil {
			words = a.Transcript.WordCount
		}
		row := []any{a.Meta.CallIDShort, string(v.Score), v.Critical, v.Warning, v.Info, duration, audioState(a.Audio), words, filepath.Base(r.Paths.MD)}
		if err := setRow(f, callsSheet, i+2, row); err != nil {
			return err
		}
		for _, fd := range a.Findings {
			if fd.Severity == types.SeverityPass {
				continue
			}
			if err := setRow(f, findingsSheet, fRow, []any{a.Meta.CallIDShort, string(fd.Severity), fd.Category, fd.Title, fd.Timestamp}); err != nil {
				return err
			}
			fRow++
		}
	}
	_ = f.SetColWidth(callsSheet, "A", "A", 16)
	_ = f.SetColWidth(findingsSheet, "D", "D", 80)

	t, err := renameio.TempFile("", path)
	if err != nil {
		return fmt.Errorf("xlsx temp: %w", err)
	}
	defer t.Cleanup()
	if _, err := f.WriteTo(t); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("xlsx %s row %d: %w", sheet, row, err)
	}
	return nil
}

func audioState(a types.AudioStatus) string {
	switch {
	case a.Cached:
		return "cached"
	case a.Downloaded:
		return "downloaded"
	case a.Error != "":
		return a.Error
	case a.Available:
		return "available"
	default:
		return "none"
	}
}
