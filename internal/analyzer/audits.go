package analyzer

import (
	"fmt"
	"math"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"voice-chain-go/internal/types"
)

// TriggerKeywords switch the caller to another language. They must match the
// agent prompts.
var TriggerKeywords = []string{
	"english",
	"englisch",
	"in english",
	"speak english",
	"can you speak english",
	"do you speak english",
	"i don't speak german",
	"français",
	"francais",
	"french",
	"en français",
	"je ne parle pas allemand",
	"parlez-vous français",
	"italiano",
	"in italiano",
	"italian",
	"parli italiano",
	"non parlo tedesco",
}

var (
	validUrgencies  = []string{"notfall", "dringend", "normal"}
	validCategories = []string{"Verstopfung", "Leck", "Heizung", "Boiler", "Rohrbruch", "Sanitär allgemein"}

	requiredFields = []string{"plz", "city", "category", "urgency", "description"}
	optionalFields = []string{"street", "house_number"}
)

const (
	gibberishCritical = 0.6
	gibberishWarning  = 0.4

	agentRatioLimit = 0.65
	gapLimitMs      = 5000
	callLimitMs     = 240000
)

func newFinding(category string, sev types.Severity, title, detail string, at *float64, evidence map[string]any) types.Finding {
	f := types.Finding{Category: category, Severity: sev, Title: title, Detail: detail, Evidence: evidence}
	if at != nil {
		f.Timestamp = fmtClock(*at)
	}
	return f
}

func fmtClock(ms float64) string {
	s := int(ms / 1000)
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}

func fmtSeconds(ms float64) string {
	return fmt.Sprintf("%.1fs", ms/1000)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func findTrigger(text string) string {
	lower := strings.ToLower(text)
	for _, kw := range TriggerKeywords {
		if strings.Contains(lower, kw) {
			return kw
		}
	}
	return ""
}

func hasTransfer(pc *types.ProviderCall) bool {
	return pc.CallType == "agent_transfer" || pc.DisconnectionReason == "agent_transfer"
}

func auditTriggers(turns []types.Turn, pc *types.ProviderCall) []types.Finding {
	transferred := hasTransfer(pc)
	if !transferred && pc.CallAnalysis != nil {
		transferred = strings.Contains(strings.ToLower(pc.CallAnalysis.CallSummary), "transfer")
	}

	var out []types.Finding
	for i, t := range turns {
		if t.Role != "user" {
			continue
		}
		kw := findTrigger(t.Content)
		if kw == "" {
			continue
		}
		ev := map[string]any{"turn": i + 1, "keyword": kw, "transfer_event": transferred}
		if transferred {
			out = append(out, newFinding("trigger_matched", types.SeverityPass,
				fmt.Sprintf("Trigger '%s' in turn %d → transfer occurred", kw, i+1),
				"Language trigger detected and transfer confirmed.", t.StartMs, ev))
			continue
		}
		out = append(out, newFinding("trigger_missed", types.SeverityCritical,
			fmt.Sprintf("Trigger keyword '%s' in user turn %d but no transfer detected", kw, i+1),
			fmt.Sprintf("User turn %d contains language trigger. Expected agent_transfer event but none found in call metadata.", i+1),
			t.StartMs, ev))
	}
	return out
}

func auditTransfer(pc *types.ProviderCall) []types.Finding {
	if !hasTransfer(pc) || pc.CallStatus != "error" {
		return nil
	}
	return []types.Finding{newFinding("transfer_failed", types.SeverityCritical,
		"Transfer event exists but call ended in error",
		"agent_transfer was initiated but call_status=error. The transfer may not have completed.",
		nil, map[string]any{"call_status": pc.CallStatus, "disconnection_reason": pc.DisconnectionReason})}
}

var (
	punct        = regexp.MustCompile(`[.,!?]`)
	vowel        = regexp.MustCompile(`(?i)[aeiouyäöü]`)
	consonantRun = regexp.MustCompile(`(?i)[bcdfghjklmnpqrstvwxyz]{4,}`)
	capitalized  = regexp.MustCompile(`^[A-ZÄÖÜ]`)
	capAllowed   = regexp.MustCompile(`^(Ich|Sie|Herr|Frau|PLZ|AG)`)
)

// gibberishScore rates text from 0 (clean) to 1 from token shape alone: short
// tokens, vowel-less tokens, consonant runs, repetition and mid-sentence
// capitals. Texts of two tokens or fewer score 0.
func gibberishScore(text string) float64 {
	tokens := strings.Fields(text)
	if len(tokens) <= 2 {
		return 0
	}
	n := float64(len(tokens))
	signals, maxSignals := 0, 0

	var short int
	var long []string
	for _, t := range tokens {
		if utf8.RuneCountInString(punct.ReplaceAllString(t, "")) <= 2 {
			short++
		} else {
			long = append(long, t)
		}
	}
	switch r := float64(short) / n; {
	case r > 0.5:
		signals += 2
	case r > 0.3:
		signals++
	}
	maxSignals += 2

	if len(long) > 0 {
		noVowel := 0
		for _, t := range long {
			if !vowel.MatchString(t) {
				noVowel++
			}
		}
		switch r := float64(noVowel) / float64(len(long)); {
		case r > 0.3:
			signals += 2
		case r > 0.15:
			signals++
		}
	}
	maxSignals += 2

	if slices.ContainsFunc(tokens, consonantRun.MatchString) {
		signals++
	}
	maxSignals++

	unique := map[string]struct{}{}
	for _, t := range tokens {
		unique[punct.ReplaceAllString(strings.ToLower(t), "")] = struct{}{}
	}
	if len(tokens) >= 4 && float64(len(unique)) <= n*0.4 {
		signals++
	}
	maxSignals++

	mid := tokens[1:]
	caps := 0
	for _, t := range mid {
		if capitalized.MatchString(t) && !capAllowed.MatchString(t) {
			caps++
		}
	}
	if float64(caps)/float64(len(mid)) > 0.5 {
		signals++
	}
	maxSignals++

	return math.Min(1, float64(signals)/float64(maxSignals))
}

func auditGibberish(turns []types.Turn) []types.Finding {
	var out []types.Finding
	for i, t := range turns {
		if t.Role != "user" {
			continue
		}
		score := gibberishScore(t.Content)
		ev := map[string]any{"turn": i + 1, "score": round(score, 2), "word_count": t.WordCount}
		switch {
		case score >= gibberishCritical:
			out = append(out, newFinding("gibberish_detected", types.SeverityCritical,
				fmt.Sprintf("High gibberish score (%.2f) in user turn %d", score, i+1),
				fmt.Sprintf("User turn %d (%d words) scored %.2f on gibberish heuristic. Possible ASR drift from foreign language.", i+1, t.WordCount, score),
				t.StartMs, ev))
		case score >= gibberishWarning:
			out = append(out, newFinding("gibberish_suspected", types.SeverityWarning,
				fmt.Sprintf("Moderate gibberish score (%.2f) in user turn %d", score, i+1),
				fmt.Sprintf("User turn %d (%d words) scored %.2f. May be accented speech or ASR artifact.", i+1, t.WordCount, score),
				t.StartMs, ev))
		}
	}
	return out
}

type askedField struct {
	field         string
	agentPatterns []string
	userPattern   *regexp.Regexp
}

var (
	plzPattern      = regexp.MustCompile(`\b\d{4}\b`)
	urgencyPattern  = regexp.MustCompile(`(?i)\b(notfall|dringend|normal|emergency|urgent)\b`)
	categoryPattern = regexp.MustCompile(`(?i)\b(verstopf|leck|heizung|boiler|rohrbruch|sanitär|water|leak|heat|blockage|clog)\b`)
	expressCategory = regexp.MustCompile(`(?i)\b(verstopf|leck|heizung|boiler|rohrbruch|sanitär|water|leak|heat)\b`)
	streetPattern   = regexp.MustCompile(`(?i)\b(strasse|gasse|weg|platz|str\.)\b`)

	askedFields = []askedField{
		{"plz", []string{"postleitzahl", "plz"}, plzPattern},
		{"urgency", []string{"dringlichkeit", "notfall", "dringend", "normal eingeplant"}, urgencyPattern},
		{"category", []string{"handelt es sich", "verstopfung", "leck oder"}, categoryPattern},
	}
)

// auditFlow flags the agent asking for a field the caller already gave, and a
// full questionnaire after the caller opened with most of the details.
func auditFlow(turns []types.Turn) []types.Finding {
	var out []types.Finding
	for _, af := range askedFields {
		answered, asked := -1, -1
		for i, t := range turns {
			if t.Role == "user" && answered < 0 && af.userPattern.MatchString(t.Content) {
				answered = i
			}
			if t.Role == "agent" && answered >= 0 && i > answered && containsAny(strings.ToLower(t.Content), af.agentPatterns) {
				asked = i
				break
			}
		}
		if asked > 0 {
			out = append(out, newFinding("double_question", types.SeverityWarning,
				fmt.Sprintf("Agent re-asked '%s' in turn %d (user answered in turn %d)", af.field, asked+1, answered+1),
				fmt.Sprintf("User provided %s-related info in turn %d, but agent asked again in turn %d.", af.field, answered+1, asked+1),
				turns[asked].StartMs,
				map[string]any{"field": af.field, "user_turn": answered + 1, "agent_turn": asked + 1}))
		}
	}

	first := slices.IndexFunc(turns, func(t types.Turn) bool { return t.Role == "user" })
	if first < 0 {
		return out
	}
	opening := turns[first].Content
	fields := 0
	for _, re := range []*regexp.Regexp{plzPattern, expressCategory, urgencyPattern, streetPattern} {
		if re.MatchString(opening) {
			fields++
		}
	}
	if fields < 3 {
		return out
	}
	questions := 0
	for _, t := range turns {
		if t.Role == "agent" && strings.Contains(t.Content, "?") {
			questions++
		}
	}
	if questions > 3 {
		out = append(out, newFinding("express_ignored", types.SeverityWarning,
			fmt.Sprintf("User provided %d fields in first turn but agent asked %d questions", fields, questions),
			"Caller gave substantial info upfront. Agent could have confirmed + filled gaps instead of full questionnaire.",
			turns[first].StartMs,
			map[string]any{"fields_in_first_turn": fields, "agent_questions": questions}))
	}
	return out
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// fieldValue reports a custom analysis field as text and whether it counts as
// present. Blank strings, false, zero and null are absent.
func fieldValue(data map[string]any, key string) (string, bool) {
	v, ok := data[key]
	if !ok || v == nil {
		return "", false
	}
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		return s, s != ""
	case bool:
		return "", x
	case float64:
		return fmt.Sprint(x), x != 0
	default:
		return fmt.Sprint(x), true
	}
}

var fourDigits = regexp.MustCompile(`^\d{4}$`)

func auditExtraction(pc *types.ProviderCall) []types.Finding {
	var data map[string]any
	if pc.CallAnalysis != nil {
		data = pc.CallAnalysis.CustomAnalysisData
	}

	var out []types.Finding
	for _, field := range requiredFields {
		if _, ok := fieldValue(data, field); !ok {
			out = append(out, newFinding("extraction_missing", types.SeverityWarning,
				fmt.Sprintf("Required field '%s' missing from extraction", field),
				fmt.Sprintf("custom_analysis_data.%s is empty or absent.", field),
				nil, map[string]any{"field": field, "present": false}))
		}
	}

	if plz, ok := fieldValue(data, "plz"); ok && !fourDigits.MatchString(plz) {
		out = append(out, invalidField("plz", "PLZ value is not 4 digits",
			"Extracted PLZ does not match expected Swiss format (4 digits)."))
	}
	if u, ok := fieldValue(data, "urgency"); ok && !slices.Contains(validUrgencies, strings.ToLower(u)) {
		out = append(out, invalidField("urgency", "Urgency value not in allowlist",
			"Extracted urgency is not one of: "+strings.Join(validUrgencies, ", ")+"."))
	}
	if c, ok := fieldValue(data, "category"); ok && !slices.Contains(validCategories, c) {
		out = append(out, invalidField("category", "Category value not in allowlist",
			fmt.Sprintf("Extracted category is not one of the %d valid values.", len(validCategories))))
	}

	for _, field := range optionalFields {
		_, present := fieldValue(data, field)
		state := "absent"
		if present {
			state = "present"
		}
		out = append(out, newFinding("extraction_info", types.SeverityInfo,
			fmt.Sprintf("Optional field '%s': %s", field, state),
			"Optional extraction field status.",
			nil, map[string]any{"field": field, "present": present}))
	}
	return out
}

func invalidField(field, title, detail string) types.Finding {
	return newFinding("extraction_invalid", types.SeverityWarning, title, detail, nil,
		map[string]any{"field": field, "valid": false})
}

// talkTime sums turn durations per side.
func talkTime(turns []types.Turn) (agentMs, userMs float64) {
	for _, t := range turns {
		if t.DurationMs == nil {
			continue
		}
		if t.Role == "agent" {
			agentMs += *t.DurationMs
		} else {
			userMs += *t.DurationMs
		}
	}
	return agentMs, userMs
}

func auditTiming(turns []types.Turn, pc *types.ProviderCall) []types.Finding {
	var out []types.Finding

	agentMs, userMs := talkTime(turns)
	if total := agentMs + userMs; total > 0 {
		if ratio := agentMs / total; ratio > agentRatioLimit {
			out = append(out, newFinding("high_agent_ratio", types.SeverityInfo,
				fmt.Sprintf("Agent spoke %.0f%% of total talk time", ratio*100),
				"Agent dominated conversation. May indicate too many questions or long explanations.",
				nil, map[string]any{
					"agent_ratio":  round(ratio, 2),
					"agent_talk_s": round(agentMs/1000, 1),
					"user_talk_s":  round(userMs/1000, 1),
				}))
		}
	}

	for i := 1; i < len(turns); i++ {
		prev, cur := turns[i-1], turns[i]
		if prev.EndMs == nil || cur.StartMs == nil {
			continue
		}
		if gap := *cur.StartMs - *prev.EndMs; gap > gapLimitMs {
			out = append(out, newFinding("transcript_gap", types.SeverityInfo,
				fmt.Sprintf("%s gap between turns %d and %d", fmtSeconds(gap), i, i+1),
				fmt.Sprintf("Transcript gap of %s between %s turn %d and %s turn %d. May be silence, processing delay, or unrecognized speech.",
					fmtSeconds(gap), prev.Role, i, cur.Role, i+1),
				prev.EndMs, map[string]any{"gap_ms": math.Round(gap), "after_turn": i, "before_turn": i + 1}))
		}
	}

	if d, ok := pc.CallDurationMs(); ok && d > callLimitMs {
		out = append(out, newFinding("call_too_long", types.SeverityInfo,
			fmt.Sprintf("Call duration %s exceeds 4min threshold", fmtSeconds(d)),
			"Standard intake should complete within 3-4 minutes.",
			nil, map[string]any{"duration_s": round(d/1000, 1)}))
	}
	return out
}
