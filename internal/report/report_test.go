package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"voice-chain-go/internal/types"
)

const runID = "2026-10-18T09:30:00Z"

func fp(v float64) *float64 { return &v }

func sampleAnalysis(id string, findings ...types.Finding) *types.Analysis {
	return &types.Analysis{
		Meta: types.CallMeta{
			CallID:      id,
			CallIDShort: types.ShortID(id),
			AgentName:   "agent_deadbeef",
			CallStatus:  "ended",
			DurationS:   fp(42),
			TurnCount:   2,
			UserTurns:   1,
			AgentTurns:  1,
		},
		Turns: []types.Turn{
			{Role: "agent", Content: "Gruezi, wie kann ich helfen?", WordCount: 5, StartMs: fp(0), EndMs: fp(2000), DurationMs: fp(2000)},
			{Role: "user", Content: "Meine Adresse ist Bahnhofstrasse 12", WordCount: 5, StartMs: fp(3500), EndMs: fp(6000), DurationMs: fp(2500)},
		},
		Findings: findings,
		Audio:    types.AudioStatus{Available: true, Downloaded: true, WavPath: "data/audio/x/input.wav", SizeMB: 1.5},
		Timing:   types.Timing{AgentTalkS: 2, UserTalkS: 2.5, AgentRatioPct: fp(44.4), MaxGapS: 1.5, TotalDurationS: fp(42)},
	}
}

func TestWriteCall(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	a := sampleAnalysis("call_0123456789abcdef",
		types.Finding{Category: "trigger_missed", Severity: types.SeverityCritical, Title: "english trigger missed", Detail: "no transfer", Timestamp: "00:12"},
		types.Finding{Category: "transcript_gap", Severity: types.SeverityWarning, Title: "gap of 6.0s"},
		types.Finding{Category: "extraction_info", Severity: types.SeverityInfo, Title: "street missing"},
	)
	a.Transcript = &types.TranscriptSummary{Status: "cached", Language: "unknown", WordCount: 10, SegmentCount: -1, DurationSeconds: 4.5}

	paths, err := w.WriteCall(runID, a)
	if err != nil {
		t.Fatalf("WriteCall: %v", err)
	}
	if want := filepath.Join(dir, "2026-10-18_call_0123456.json"); paths.JSON != want {
		t.Errorf("json path = %s, want %s", paths.JSON, want)
	}

	data, err := os.ReadFile(paths.JSON)
	if err != nil {
		t.Fatal(err)
	}
	var got struct {
		Chain    string `json:"chain"`
		RunID    string `json:"run_id"`
		Findings []map[string]any
		Verdict  struct {
			Score    string   `json:"score"`
			Critical int      `json:"critical_count"`
			TopFixes []string `json:"top_fixes"`
		} `json:"verdict"`
		AudioAvailable bool `json:"audio_available"`
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Chain != "voice" || got.RunID != runID || !got.AudioAvailable {
		t.Errorf("header = %+v", got)
	}
	if got.Verdict.Score != "FAIL" || got.Verdict.Critical != 1 {
		t.Errorf("verdict = %+v", got.Verdict)
	}
	if len(got.Verdict.TopFixes) != 2 || got.Verdict.TopFixes[0] != "english trigger missed" {
		t.Errorf("top fixes = %v", got.Verdict.TopFixes)
	}
	if len(got.Findings) != 3 {
		t.Errorf("findings = %d", len(got.Findings))
	}

	md, err := os.ReadFile(paths.MD)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"**Verdict: FAIL**", "? (from cache)", "### [CRITICAL] (1)", "**english trigger missed** @ 00:12", "## Top Fixes"} {
		if !strings.Contains(string(md), want) {
			t.Errorf("markdown missing %q", want)
		}
	}
	for name, body := range map[string]string{"json": string(data), "md": string(md)} {
		if strings.Contains(body, "Bahnhofstrasse") || strings.Contains(body, "Gruezi") {
			t.Errorf("%s report leaks transcript content", name)
		}
		if strings.Contains(body, "call_0123456789abcdef") {
			t.Errorf("%s report contains the full call id", name)
		}
	}
}

func TestWriteCall_NoTurns(t *testing.T) {
	a := sampleAnalysis("call_empty")
	a.Turns = nil
	paths, err := NewWriter(t.TempDir()).WriteCall(runID, a)
	if err != nil {
		t.Fatal(err)
	}
	md, _ := os.ReadFile(paths.MD)
	if !strings.Contains(string(md), "_No transcript turns available._") || !strings.Contains(string(md), "_No findings._") {
		t.Errorf("markdown = %s", md)
	}
	if strings.Contains(string(md), "## Top Fixes") {
		t.Error("unexpected top fixes section")
	}
}

func TestWriteSummary(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)

	failing := sampleAnalysis("call_aaaaaaaaaaaaaaaa",
		types.Finding{Category: "trigger_missed", Severity: types.SeverityCritical, Title: "english trigger missed"},
		types.Finding{Category: "trigger_matched", Severity: types.SeverityPass, Title: "french trigger ok"},
	)
	clean := sampleAnalysis("call_bbbbbbbbbbbbbbbb")
	clean.Audio = types.AudioStatus{}
	clean.Transcript = nil
	failing.Transcript = &types.TranscriptSummary{Status: "fresh", WordCount: 7}

	results := []CallResult{
		{Analysis: failing, Paths: CallPaths{MD: filepath.Join(dir, "2026-10-18_call_aaaaaaa.md")}},
		{Analysis: clean, Paths: CallPaths{MD: filepath.Join(dir, "2026-10-18_call_bbbbbbb.md")}},
	}
	paths, err := w.WriteSummary(runID, results)
	if err != nil {
		t.Fatalf("WriteSummary: %v", err)
	}
	if paths.MD != filepath.Join(dir, "2026-10-18_summary.md") || paths.XLSX != filepath.Join(dir, "2026-10-18_summary.xlsx") {
		t.Errorf("paths = %+v", paths)
	}

	md, err := os.ReadFile(paths.MD)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"**Overall: FAIL** | Calls: 2 | Critical: 1 | Warning: 0",
		"| call_aaaaaaa... | FAIL | 1 | 0 | 2026-10-18_call_aaaaaaa.md |",
		"| call_bbbbbbb... | PASS | 0 | 0 |",
		"1. english trigger missed",
		"## Next Actions",
		"1/2 calls have recordings available.",
		"1/1 recordings transcribed.",
	} {
		if !strings.Contains(string(md), want) {
			t.Errorf("summary missing %q\n%s", want, md)
		}
	}

	f, err := excelize.OpenFile(paths.XLSX)
	if err != nil {
		t.Fatalf("open xlsx: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(callsSheet)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 || rows[0][0] != "Call" || rows[1][1] != "FAIL" || rows[2][1] != "PASS" {
		t.Errorf("calls sheet = %v", rows)
	}
	findings, err := f.GetRows(findingsSheet)
	if err != nil {
		t.Fatal(err)
	}
	// pass findings are left out
	if len(findings) != 2 || findings[1][2] != "trigger_missed" {
		t.Errorf("findings sheet = %v", findings)
	}
}

func TestWriteSummary_AllPassed(t *testing.T) {
	a := sampleAnalysis("call_cccccccccccccccc")
	a.Audio = types.AudioStatus{}
	paths, err := NewWriter(t.TempDir()).WriteSummary(runID, []CallResult{{Analysis: a}})
	if err != nil {
		t.Fatal(err)
	}
	md, _ := os.ReadFile(paths.MD)
	for _, want := range []string{"**Overall: PASS**", "_None, all checks passed._", "0/1 calls have recordings available.", "Enable call recording"} {
		if !strings.Contains(string(md), want) {
			t.Errorf("summary missing %q", want)
		}
	}
	if strings.Contains(string(md), "## Next Actions") {
		t.Error("unexpected next actions")
	}
}
