// Package correlate lines up the word-level transcript of a recording with the
// provider's transcript and tool calls. It finds language triggers the
// provider missed, speech the provider did not transcribe and crosstalk.
package correlate

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/renameio/v2"

	"voice-chain-go/internal/types"
)

// FileName is written into the call directory.
const FileName = "correlation.json"

const (
	// TransferWindowS is how long after a trigger a transfer still counts.
	TransferWindowS = 5.0

	agentBufferS   = 0.5
	gapBufferS     = 2.0
	dedupeWindowS  = 1.0
	earlyWindowS   = 3.0
	lowScore       = 0.3
	overlapMinimum = 2
)

// Trigger is a keyword that hints at a caller who needs another language.
type Trigger struct {
	Keyword string
	Lang    string
}

// Triggers is broader than the provider-side keyword list: the recording
// transcript holds actual speech, so greetings and problem words in the
// caller's language count too.
var Triggers = buildTriggers(map[string][]string{
	"en": {
		"english", "englisch", "hello", "hi there", "please", "sorry", "help",
		"water", "leak", "bathroom", "kitchen", "toilet", "emergency", "pipe",
		"broken", "i have", "can you", "do you", "speak english",
		"don't speak german", "excuse me",
	},
	"fr": {
		"français", "francais", "french", "bonjour", "bonsoir", "s'il vous plaît",
		"aide", "aidez", "j'ai", "fuite", "salle de bain", "cuisine", "toilettes",
		"urgence", "tuyau", "excusez", "je ne parle pas", "parlez-vous", "oui",
	},
	"it": {
		"italiano", "italian", "buongiorno", "buonasera", "aiuto", "ho un",
		"perdita", "bagno", "cucina", "emergenza", "tubo", "scusi",
		"non parlo tedesco",
	},
})

func buildTriggers(byLang map[string][]string) []Trigger {
	var out []Trigger
	for _, lang := range []string{"en", "fr", "it"} {
		for _, kw := range byLang[lang] {
			out = append(out, Trigger{Keyword: kw, Lang: lang})
		}
	}
	return out
}

// Word is one entry of words.json. Times are seconds from recording start.
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Score float64 `json:"score"`
}

// LoadWords reads a words.json file.
func LoadWords(path string) ([]Word, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read words: %w", err)
	}
	var words []Word
	if err := json.Unmarshal(data, &words); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return words, nil
}

type Detection struct {
	Keyword     string   `json:"keyword"`
	Lang        string   `json:"lang"`
	StartS      float64  `json:"start_s"`
	EndS        float64  `json:"end_s"`
	Confidence  *float64 `json:"confidence"`
	AgentSpoken bool     `json:"agent_spoken"`
}

type TransferEvent struct {
	Name  string   `json:"name"`
	Type  string   `json:"type"`
	TimeS *float64 `json:"time_s"`
}

func (e TransferEvent) isTransfer() bool {
	return e.Name == "swap_to_intl_agent" || e.Type == "transfer_call"
}

// SpeechGap is a user turn the provider left empty or inaudible while the
// recording has words in the same window.
type SpeechGap struct {
	TurnStartS       float64 `json:"retell_turn_start_s"`
	TurnEndS         float64 `json:"retell_turn_end_s"`
	ProviderContent  string  `json:"retell_content"`
	WhisperText      string  `json:"whisper_words"`
	WhisperWordCount int     `json:"whisper_word_count"`
}

type Summary struct {
	TriggersFound   int `json:"triggers_found"`
	TransfersFound  int `json:"transfers_found"`
	SpeechGapsFound int `json:"speech_gaps_found"`
	CriticalCount   int `json:"critical_count"`
	WarningCount    int `json:"warning_count"`
}

// Result is the content of correlation.json.
type Result struct {
	CallIDShort       string          `json:"call_id_short"`
	WhisperWordCount  int             `json:"whisper_word_count"`
	TriggerDetections []Detection     `json:"trigger_detections"`
	TransferEvents    []TransferEvent `json:"transfer_events"`
	SpeechGaps        []SpeechGap     `json:"speech_gaps"`
	Findings          []types.Finding `json:"findings"`
	Summary           Summary         `json:"summary"`
}

type window struct{ start, end float64 }

func (w window) contains(t, buffer float64) bool {
	return t >= w.start-buffer && t <= w.end+buffer
}

// Correlate compares words against the provider call. Findings never quote
// transcript text; the recognized words of a speech gap stay in SpeechGaps.
func Correlate(pc *types.ProviderCall, words []Word) *Result {
	utterances := pc.TranscriptObject
	if len(utterances) == 0 {
		utterances = pc.TranscriptWithTools
	}
	agent := agentWindows(utterances)

	r := &Result{
		CallIDShort:       types.ShortID(firstNonEmpty(pc.CallID, "unknown")),
		WhisperWordCount:  len(words),
		TriggerDetections: findTriggers(words, agent),
		TransferEvents:    transferEvents(pc),
		SpeechGaps:        findSpeechGaps(words, utterances),
	}

	transferred := pc.DisconnectionReason == "agent_transfer"
	for _, e := range r.TransferEvents {
		if e.isTransfer() {
			transferred = true
			r.Summary.TransfersFound++
		}
	}

	for _, d := range r.TriggerDetections {
		r.Findings = append(r.Findings, triggerFinding(d, r.TransferEvents, transferred)...)
	}
	for _, g := range r.SpeechGaps {
		r.Findings = append(r.Findings, newFinding("speech_no_transcript", types.SeverityWarning,
			fmt.Sprintf("Recording has %d words where the provider transcript is empty", g.WhisperWordCount),
			fmt.Sprintf("%d words recognized in a user turn the provider transcribed as empty or inaudible.", g.WhisperWordCount),
			&g.TurnStartS, map[string]any{
				"whisper_word_count": g.WhisperWordCount,
				"window_start_s":     g.TurnStartS,
				"window_end_s":       g.TurnEndS,
			}))
	}
	if f, ok := inaudibleStart(words); ok {
		r.Findings = append(r.Findings, f)
	}
	if n := overlapCount(words, agent); n > overlapMinimum {
		r.Findings = append(r.Findings, newFinding("overlap_hint", types.SeverityInfo,
			fmt.Sprintf("%d recognized words overlap with agent speech", n),
			"Possible crosstalk or barge-in.", nil, map[string]any{"overlap_word_count": n}))
	}

	r.Summary.TriggersFound = len(r.TriggerDetections)
	r.Summary.SpeechGapsFound = len(r.SpeechGaps)
	for _, f := range r.Findings {
		switch f.Severity {
		case types.SeverityCritical:
			r.Summary.CriticalCount++
		case types.SeverityWarning:
			r.Summary.WarningCount++
		}
	}
	return r
}

// Write stores r as <callDir>/correlation.json and returns the path.
func Write(callDir string, r *Result) (string, error) {
	if callDir == "" {
		return "", errors.New("correlate: no call directory")
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode correlation: %w", err)
	}
	path := filepath.Join(callDir, FileName)
	if err := renameio.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", FileName, err)
	}
	return path, nil
}

func triggerFinding(d Detection, events []TransferEvent, transferred bool) []types.Finding {
	ev := map[string]any{"keyword": d.Keyword, "lang": d.Lang, "trigger_time_s": d.StartS}
	if d.AgentSpoken {
		ev["agent_spoken"] = true
		return []types.Finding{newFinding("trigger_agent_spoken", types.SeverityInfo,
			fmt.Sprintf("'%s' [%s] @ %.1fs in agent speech (filtered)", d.Keyword, d.Lang, d.StartS),
			"Trigger keyword falls inside an agent speech window and is not a caller trigger.",
			&d.StartS, ev)}
	}

	for _, e := range events {
		if !e.isTransfer() || e.TimeS == nil {
			continue
		}
		if lat := *e.TimeS - d.StartS; lat >= 0 && lat <= TransferWindowS {
			ev["transfer_time_s"] = *e.TimeS
			ev["latency_s"] = math.Round(lat*10) / 10
			return []types.Finding{newFinding("trigger_heard_transfer_ok", types.SeverityPass,
				fmt.Sprintf("Heard '%s' [%s] @ %.1fs → transfer @ %.1fs", d.Keyword, d.Lang, d.StartS, *e.TimeS),
				fmt.Sprintf("Trigger in the recording and transfer within %.0fs.", TransferWindowS),
				&d.StartS, ev)}
		}
	}
	if transferred {
		return nil
	}
	ev["transfer_event"] = false
	return []types.Finding{newFinding("trigger_heard_no_transfer", types.SeverityCritical,
		fmt.Sprintf("Heard '%s' [%s] @ %.1fs but no transfer", d.Keyword, d.Lang, d.StartS),
		"Trigger keyword in the caller audio but no agent_transfer event in the call.",
		&d.StartS, ev)}
}

// findTriggers scans the joined lower-case word text for every occurrence of
// every trigger and maps each match back to the words it covers.
func findTriggers(words []Word, agent []window) []Detection {
	if len(words) == 0 {
		return nil
	}
	offsets := make([]int, len(words))
	lowered := make([]string, len(words))
	pos := 0
	for i, w := range words {
		lowered[i] = strings.ToLower(w.Word)
		offsets[i] = pos
		pos += len(lowered[i]) + 1
	}
	text := strings.Join(lowered, " ")

	var out []Detection
	for _, tr := range Triggers {
		from := 0
		for {
			idx := strings.Index(text[from:], tr.Keyword)
			if idx < 0 {
				break
			}
			idx += from
			from = idx + 1

			first, last := coveredWords(offsets, lowered, idx, idx+len(tr.Keyword))
			d := Detection{
				Keyword: tr.Keyword,
				Lang:    tr.Lang,
				StartS:  words[first].Start,
				EndS:    words[last].End,
			}
			head, _, _ := strings.Cut(tr.Keyword, " ")
			if strings.Contains(lowered[first], head) {
				score := words[first].Score
				d.Confidence = &score
			}
			d.AgentSpoken = inAny(agent, d.StartS, agentBufferS)
			if !isDuplicate(out, d) {
				out = append(out, d)
			}
		}
	}
	slices.SortStableFunc(out, func(a, b Detection) int {
		switch {
		case a.StartS < b.StartS:
			return -1
		case a.StartS > b.StartS:
			return 1
		}
		return 0
	})
	return out
}

// coveredWords returns the first and last word overlapping the byte range
// [from, to) of the joined text.
func coveredWords(offsets []int, lowered []string, from, to int) (int, int) {
	first, last := -1, -1
	for i, off := range offsets {
		if off+len(lowered[i]) <= from {
			continue
		}
		if off >= to {
			break
		}
		if first < 0 {
			first = i
		}
		last = i
	}
	if first < 0 {
		// the match starts on a separator
		first, last = len(offsets)-1, len(offsets)-1
	}
	return first, last
}

func isDuplicate(seen []Detection, d Detection) bool {
	for _, p := range seen {
		if p.Keyword == d.Keyword && math.Abs(p.StartS-d.StartS) < dedupeWindowS {
			return true
		}
	}
	return false
}

func agentWindows(utterances []types.Utterance) []window {
	var out []window
	for _, u := range utterances {
		if roleOf(u) != "agent" {
			continue
		}
		if w, ok := wordWindow(u.Words); ok {
			out = append(out, w)
		}
	}
	return out
}

func wordWindow(ws []types.Word) (window, bool) {
	if len(ws) == 0 {
		return window{}, false
	}
	start := firstSet(ws[0].Start, ws[0].StartTimestamp)
	end := firstSet(ws[len(ws)-1].End, ws[len(ws)-1].EndTimestamp)
	if start == nil || end == nil {
		return window{}, false
	}
	return window{*start, *end}, true
}

func transferEvents(pc *types.ProviderCall) []TransferEvent {
	var out []TransferEvent
	for _, tc := range pc.ToolCalls {
		if tc.Name != "swap_to_intl_agent" && tc.Type != "transfer_call" && tc.Name != "end_call" {
			continue
		}
		out = append(out, TransferEvent{Name: tc.Name, Type: firstNonEmpty(tc.Type, tc.Name), TimeS: tc.StartTimeSec})
	}
	if pc.DisconnectionReason == "agent_transfer" {
		e := TransferEvent{Name: "agent_transfer", Type: "disconnection"}
		if pc.DurationMs != nil && *pc.DurationMs > 0 {
			t := *pc.DurationMs / 1000
			e.TimeS = &t
		}
		out = append(out, e)
	}
	return out
}

func findSpeechGaps(words []Word, utterances []types.Utterance) []SpeechGap {
	var out []SpeechGap
	for _, u := range utterances {
		if roleOf(u) != "user" {
			continue
		}
		content := firstNonEmpty(u.Content, u.Text)
		if strings.TrimSpace(content) != "" && !strings.Contains(content, "(inaudible") && !strings.Contains(content, "(unhörbar") {
			continue
		}
		w, ok := wordWindow(u.Words)
		if !ok {
			start, end := firstSet(u.StartTimestamp, u.Start), firstSet(u.EndTimestamp, u.End)
			if start == nil || end == nil {
				continue
			}
			w = window{*start, *end}
		}

		var heard []string
		for _, ww := range words {
			if ww.Start >= w.start-gapBufferS && ww.End <= w.end+gapBufferS {
				heard = append(heard, ww.Word)
			}
		}
		if len(heard) == 0 {
			continue
		}
		out = append(out, SpeechGap{
			TurnStartS:       w.start,
			TurnEndS:         w.end,
			ProviderContent:  content,
			WhisperText:      strings.Join(heard, " "),
			WhisperWordCount: len(heard),
		})
	}
	return out
}

func inaudibleStart(words []Word) (types.Finding, bool) {
	early, low := 0, 0
	for _, w := range words {
		if w.Start > earlyWindowS {
			continue
		}
		early++
		if w.Score < lowScore {
			low++
		}
	}
	if early > 0 && low < early {
		return types.Finding{}, false
	}
	title := "First 3s: all words low confidence"
	if early == 0 {
		title = "First 3s: no words detected"
	}
	zero := 0.0
	return newFinding("inaudible_start", types.SeverityInfo, title,
		"Audio start may have connection noise or silence.", &zero,
		map[string]any{"early_word_count": early, "early_low_conf_count": low}), true
}

func overlapCount(words []Word, agent []window) int {
	n := 0
	for _, w := range words {
		if inAny(agent, w.Start, 0) {
			n++
		}
	}
	return n
}

func inAny(ws []window, t, buffer float64) bool {
	for _, w := range ws {
		if w.contains(t, buffer) {
			return true
		}
	}
	return false
}

func roleOf(u types.Utterance) string {
	if firstNonEmpty(u.Role, u.Speaker) == "agent" {
		return "agent"
	}
	return "user"
}

func newFinding(category string, sev types.Severity, title, detail string, atS *float64, evidence map[string]any) types.Finding {
	f := types.Finding{Category: category, Severity: sev, Title: title, Detail: detail, Evidence: evidence}
	if atS != nil {
		s := int(*atS)
		f.Timestamp = fmt.Sprintf("%02d:%02d", s/60, s%60)
	}
	return f
}

func firstSet(vals ...*float64) *float64 {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
