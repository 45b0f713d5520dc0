package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"voice-chain-go/internal/audio"
	"voice-chain-go/internal/correlate"
	"voice-chain-go/internal/transcription"
	"voice-chain-go/internal/types"
)

func record(t *testing.T, payload map[string]any) types.CallRecord {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	id, _ := payload["call_id"].(string)
	return types.CallRecord{CallID: id, Raw: raw}
}

func fullExtraction() map[string]any {
	return map[string]any{
		"plz":          "8001",
		"city":         "Zürich",
		"category":     "Leck",
		"urgency":      "dringend",
		"description":  "Wasser tropft",
		"street":       "Bahnhofstrasse",
		"house_number": "",
	}
}

func utter(role, content string, start, end float64) map[string]any {
	return map[string]any{"role": role, "content": content, "start_timestamp": start, "end_timestamp": end}
}

func byCategory(findings []types.Finding, category string) []types.Finding {
	var out []types.Finding
	for _, f := range findings {
		if f.Category == category {
			out = append(out, f)
		}
	}
	return out
}

type fakeAudio struct {
	res   audio.Result
	err   error
	calls int
}

func (f *fakeAudio) Collect(context.Context, *types.ProviderCall, audio.Options) (audio.Result, error) {
	f.calls++
	return f.res, f.err
}

type fakeTranscriber struct {
	res   *transcription.Result
	err   error
	calls int
}

func (f *fakeTranscriber) Transcribe(context.Context, string, string, transcription.Options) (*transcription.Result, error) {
	f.calls++
	return f.res, f.err
}

type countingObserver struct {
	audio, transcription []string
}

func (c *countingObserver) AudioOutcome(o string)         { c.audio = append(c.audio, o) }
func (c *countingObserver) TranscriptionOutcome(o string) { c.transcription = append(c.transcription, o) }

func TestExtractTurns(t *testing.T) {
	pc := &types.ProviderCall{}
	raw := `{"transcript_object":[
		{"role":"agent","content":"Grüezi, wie kann ich helfen?","words":[{"word":"Grüezi","start":0.5},{"word":"helfen","end":2.0}]},
		{"speaker":"caller","text":"Mein Abfluss ist verstopft","start_timestamp":3.0,"end_timestamp":5.5},
		{"role":"agent","content":"ok","start":12000,"end":13000}
	]}`
	if err := json.Unmarshal([]byte(raw), pc); err != nil {
		t.Fatal(err)
	}
	turns := extractTurns(pc)
	if len(turns) != 3 {
		t.Fatalf("got %d turns", len(turns))
	}
	if turns[0].Role != "agent" || *turns[0].StartMs != 500 || *turns[0].EndMs != 2000 || turns[0].WordCount != 2 {
		t.Errorf("turn 0 = %+v", turns[0])
	}
	if turns[1].Role != "user" || turns[1].WordCount != 4 || *turns[1].DurationMs != 2500 {
		t.Errorf("turn 1 = %+v", turns[1])
	}
	if *turns[2].StartMs != 12000 {
		t.Errorf("millisecond values must not be scaled, got %v", *turns[2].StartMs)
	}
}

func TestGibberishScore(t *testing.T) {
	tests := []struct {
		text string
		min  float64
		max  float64
	}{
		{"", 0, 0},
		{"Brrr Pfft", 0, 0},
		{"Ich habe eine Verstopfung in der Küche", 0, 0.39},
		{"Brrr Pfft Tsk Grrr Brrr", 0.4, 0.59},
		{"Brrr Brrr Brrr Pfft Brrr", 0.6, 1},
	}
	for _, tt := range tests {
		got := gibberishScore(tt.text)
		if got < tt.min || got > tt.max {
			t.Errorf("gibberishScore(%q) = %.2f, want in [%.2f, %.2f]", tt.text, got, tt.min, tt.max)
		}
	}
}

func TestAnalyze_Audits(t *testing.T) {
	tests := []struct {
		name     string
		payload  map[string]any
		category string
		severity types.Severity
		count    int
	}{
		{
			name: "trigger without transfer",
			payload: map[string]any{"call_id": "c1", "transcript_object": []any{
				utter("agent", "Grüezi", 0, 1), utter("user", "Do you speak English?", 1.5, 3),
			}, "call_analysis": map[string]any{"custom_analysis_data": fullExtraction()}},
			category: "trigger_missed", severity: types.SeverityCritical, count: 1,
		},
		{
			name: "trigger with transfer",
			payload: map[string]any{"call_id": "c2", "disconnection_reason": "agent_transfer", "transcript_object": []any{
				utter("user", "parlez-vous français", 1, 2),
			}, "call_analysis": map[string]any{"custom_analysis_data": fullExtraction()}},
			category: "trigger_matched", severity: types.SeverityPass, count: 1,
		},
		{
			name: "transfer ended in error",
			payload: map[string]any{
				"call_id":       "c3",
				"call_type":     "agent_transfer",
				"call_status":   "error",
				"call_analysis": map[string]any{"custom_analysis_data": fullExtraction()},
			},
			category: "transfer_failed", severity: types.SeverityCritical, count: 1,
		},
		{
			name:     "missing extraction",
			payload:  map[string]any{"call_id": "c4"},
			category: "extraction_missing", severity: types.SeverityWarning, count: 5,
		},
		{
			name: "invalid extraction values",
			payload: map[string]any{"call_id": "c5", "call_analysis": map[string]any{"custom_analysis_data": map[string]any{
				"plz": "80011", "city": "Bern", "category": "Dach", "urgency": "sofort", "description": "x",
			}}},
			category: "extraction_invalid", severity: types.SeverityWarning, count: 3,
		},
		{
			name: "double question",
			payload: map[string]any{"call_id": "c6", "transcript_object": []any{
				utter("user", "Meine PLZ ist 8001", 0, 2), utter("agent", "Wie ist Ihre Postleitzahl?", 2.5, 4),
			}, "call_analysis": map[string]any{"custom_analysis_data": fullExtraction()}},
			category: "double_question", severity: types.SeverityWarning, count: 1,
		},
		{
			name: "transcript gap",
			payload: map[string]any{"call_id": "c7", "transcript_object": []any{
				utter("agent", "Hallo", 0, 1), utter("user", "Ja hallo", 7, 8),
			}, "call_analysis": map[string]any{"custom_analysis_data": fullExtraction()}},
			category: "transcript_gap", severity: types.SeverityInfo, count: 1,
		},
		{
			name:     "call too long",
			payload:  map[string]any{"call_id": "c8", "duration_ms": 250000, "call_analysis": map[string]any{"custom_analysis_data": fullExtraction()}},
			category: "call_too_long", severity: types.SeverityInfo, count: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(nil, nil, nil, Options{})
			res, err := a.Analyze(context.Background(), record(t, tt.payload))
			if err != nil {
				t.Fatalf("Analyze: %v", err)
			}
			got := byCategory(res.Findings, tt.category)
			if len(got) != tt.count {
				t.Fatalf("%s findings = %d, want %d (%+v)", tt.category, len(got), tt.count, res.Findings)
			}
			for _, f := range got {
				if f.Severity != tt.severity {
					t.Errorf("severity = %s, want %s", f.Severity, tt.severity)
				}
			}
		})
	}
}

func TestAnalyze_MetaAndTiming(t *testing.T) {
	rec := record(t, map[string]any{
		"call_id":         "call_0123456789abcdef",
		"agent_id":        "agent_xyz98765432",
		"start_timestamp": 1700000000000.0,
		"end_timestamp":   1700000061000.0,
		"transcript_object": []any{
			utter("agent", "Guten Tag, Sie sind mit dem Notdienst verbunden.", 0, 8),
			utter("user", "Hallo", 8.5, 9.5),
			utter("agent", "Was ist passiert?", 10, 12),
		},
	})
	res, err := New(nil, nil, nil, Options{}).Analyze(context.Background(), rec)
	if err != nil {
		t.Fatal(err)
	}
	m := res.Meta
	if m.CallIDShort != "call_0123456" || m.AgentName != "agent_agent_xy" {
		t.Errorf("meta ids = %q / %q", m.CallIDShort, m.AgentName)
	}
	if m.DurationS == nil || *m.DurationS != 61 {
		t.Errorf("DurationS = %v, want 61", m.DurationS)
	}
	if m.TurnCount != 3 || m.AgentTurns != 2 || m.UserTurns != 1 {
		t.Errorf("turn counts = %+v", m)
	}
	if res.Timing.AgentRatioPct == nil || *res.Timing.AgentRatioPct != 91 {
		t.Errorf("AgentRatioPct = %v, want 91", res.Timing.AgentRatioPct)
	}
	if res.Timing.AgentTalkS != 10 || res.Timing.UserTalkS != 1 || res.Timing.MaxGapS != 0.5 {
		t.Errorf("timing = %+v", res.Timing)
	}
	if len(byCategory(res.Findings, "high_agent_ratio")) != 1 {
		t.Error("expected high_agent_ratio finding")
	}
	if res.Audio.Available {
		t.Error("audio reported available without recording_url")
	}
}

func TestAnalyze_AudioOutcomes(t *testing.T) {
	tests := []struct {
		name     string
		res      audio.Result
		err      error
		category string
		severity types.Severity
		outcome  string
	}{
		{"no recording", audio.Result{CallDir: "d", Error: audio.ErrNoRecordingURL}, nil, "audio_unavailable", types.SeverityInfo, audio.ErrNoRecordingURL},
		{"http error", audio.Result{CallDir: "d", Error: "http_403"}, nil, "audio_download_failed", types.SeverityWarning, "http_error"},
		{"timeout", audio.Result{CallDir: "d", Error: audio.ErrTimeout}, nil, "audio_download_failed", types.SeverityWarning, audio.ErrTimeout},
		{"disk failure", audio.Result{CallDir: "d"}, errors.New("create call dir: read-only file system"), "audio_error", types.SeverityWarning, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fa := &fakeAudio{res: tt.res, err: tt.err}
			ft := &fakeTranscriber{}
			obs := &countingObserver{}
			res, err := New(fa, ft, obs, Options{}).Analyze(context.Background(),
				record(t, map[string]any{"call_id": "call_audio", "recording_url": "https://rec.example/a.wav?sig=SECRET"}))
			if err != nil {
				t.Fatal(err)
			}
			got := byCategory(res.Findings, tt.category)
			if len(got) != 1 || got[0].Severity != tt.severity {
				t.Fatalf("%s findings = %+v", tt.category, got)
			}
			if ft.calls != 0 {
				t.Error("transcriber called without a recording")
			}
			if len(obs.audio) != 1 || obs.audio[0] != tt.outcome {
				t.Errorf("audio outcomes = %v, want [%s]", obs.audio, tt.outcome)
			}
			b, _ := json.Marshal(res)
			if strings.Contains(string(b), "SECRET") {
				t.Error("analysis leaks the signed URL")
			}
		})
	}
}

func TestAnalyze_TranscriptionFailureIsolated(t *testing.T) {
	fa := &fakeAudio{res: audio.Result{Downloaded: true, WavPath: "/tmp/a/input.wav", CallDir: "/tmp/a", SizeMB: 1.2}}
	ft := &fakeTranscriber{err: &transcription.ProcessExitedError{Code: 1, StderrTail: "boom"}}
	obs := &countingObserver{}
	res, err := New(fa, ft, obs, Options{}).Analyze(context.Background(),
		record(t, map[string]any{"call_id": "call_tr", "recording_url": "https://rec.example/a.wav"}))
	if err != nil {
		t.Fatalf("a transcription failure must not fail the analysis: %v", err)
	}
	got := byCategory(res.Findings, "transcription_failed")
	if len(got) != 1 || got[0].Severity != types.SeverityCritical {
		t.Fatalf("transcription_failed = %+v", got)
	}
	if got[0].Evidence["kind"] != transcription.KindProcessExited {
		t.Errorf("kind = %v", got[0].Evidence["kind"])
	}
	if res.Transcript != nil {
		t.Error("transcript summary set after failure")
	}
	if !res.Audio.Downloaded || res.Audio.WavPath == "" {
		t.Errorf("audio = %+v", res.Audio)
	}
	if fmt.Sprint(obs.transcription) != "[process_exited]" {
		t.Errorf("transcription outcomes = %v", obs.transcription)
	}
}

func TestAnalyze_TranscriptionSuccess(t *testing.T) {
	fa := &fakeAudio{res: audio.Result{Cached: true, WavPath: "/w/input.wav", CallDir: "/w"}}
	ft := &fakeTranscriber{res: &transcription.Result{Status: transcription.StatusCached, Language: "unknown", WordCount: 42, SegmentCount: -1, DurationSeconds: 61.2}}
	res, err := New(fa, ft, nil, Options{}).Analyze(context.Background(),
		record(t, map[string]any{"call_id": "call_ok", "recording_url": "https://rec.example/a.wav"}))
	if err != nil {
		t.Fatal(err)
	}
	if res.Transcript == nil || res.Transcript.WordCount != 42 || res.Transcript.SegmentCount != -1 {
		t.Errorf("transcript = %+v", res.Transcript)
	}
	if len(byCategory(res.Findings, "transcription_empty")) != 0 {
		t.Error("unexpected transcription_empty")
	}
}

func TestAnalyze_CorrelatesRecording(t *testing.T) {
	callDir := t.TempDir()
	wordsPath := filepath.Join(callDir, "words.json")
	words := `[{"word":"Grüezi","start":0.5,"end":0.9,"score":0.9},{"word":"English","start":12.0,"end":12.4,"score":0.8},{"word":"please","start":12.5,"end":12.8,"score":0.8}]`
	if err := os.WriteFile(wordsPath, []byte(words), 0o644); err != nil {
		t.Fatal(err)
	}
	fa := &fakeAudio{res: audio.Result{Cached: true, WavPath: filepath.Join(callDir, "input.wav"), CallDir: callDir}}
	ft := &fakeTranscriber{res: &transcription.Result{Status: transcription.StatusCached, WordCount: 3, WordsPath: wordsPath}}
	res, err := New(fa, ft, nil, Options{}).Analyze(context.Background(),
		record(t, map[string]any{"call_id": "call_corr", "recording_url": "https://rec.example/a.wav"}))
	if err != nil {
		t.Fatal(err)
	}
	got := byCategory(res.Findings, "trigger_heard_no_transfer")
	if len(got) != 2 || got[0].Severity != types.SeverityCritical {
		t.Fatalf("trigger_heard_no_transfer = %+v", got)
	}
	if _, err := os.Stat(filepath.Join(callDir, correlate.FileName)); err != nil {
		t.Errorf("correlation not written: %v", err)
	}
}

func TestAnalyze_CorrelationFailure(t *testing.T) {
	callDir := t.TempDir()
	fa := &fakeAudio{res: audio.Result{Cached: true, WavPath: filepath.Join(callDir, "input.wav"), CallDir: callDir}}
	ft := &fakeTranscriber{res: &transcription.Result{Status: transcription.StatusCached, WordCount: 3, WordsPath: filepath.Join(callDir, "missing.json")}}
	res, err := New(fa, ft, nil, Options{}).Analyze(context.Background(),
		record(t, map[string]any{"call_id": "call_corr", "recording_url": "https://rec.example/a.wav"}))
	if err != nil {
		t.Fatalf("a correlation failure must not fail the analysis: %v", err)
	}
	got := byCategory(res.Findings, "correlation_failed")
	if len(got) != 1 || got[0].Severity != types.SeverityWarning {
		t.Fatalf("correlation_failed = %+v", got)
	}
	if res.Transcript == nil {
		t.Error("transcript summary dropped")
	}
}

func TestAnalyze_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fa := &fakeAudio{err: context.Canceled}
	_, err := New(fa, nil, nil, Options{}).Analyze(ctx, record(t, map[string]any{"call_id": "c"}))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestAnalyze_BadRecord(t *testing.T) {
	_, err := New(nil, nil, nil, Options{}).Analyze(context.Background(), types.CallRecord{CallID: "x", Raw: []byte("{")})
	if err == nil {
		t.Fatal("expected decode error")
	}
}
