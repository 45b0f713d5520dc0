// internal/types/analysis.go
package types

// Severity orders findings: critical > warning > info. "pass" marks a check
// that ran and succeeded; it never counts toward a verdict.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
	SeverityPass     Severity = "pass"
)

// Finding is one diagnostic observation about a call.
type Finding struct {
	Category  string         `json:"category"`
	Severity  Severity       `json:"severity"`
	Title     string         `json:"title"`
	Detail    string         `json:"detail,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
	Evidence  map[string]any `json:"evidence,omitempty"`
}

// Turn is one normalized transcript turn. Times are milliseconds from call start.
type Turn struct {
	Role       string   `json:"role"`
	Content    string   `json:"-"`
	WordCount  int      `json:"word_count"`
	StartMs    *float64 `json:"start_ms,omitempty"`
	EndMs      *float64 `json:"end_ms,omitempty"`
	DurationMs *float64 `json:"duration_ms,omitempty"`
}

type CallMeta struct {
	CallID              string   `json:"-"`
	CallIDShort         string   `json:"call_id_short"`
	AgentName           string   `json:"agent_name"`
	CallStatus          string   `json:"call_status"`
	DisconnectionReason string   `json:"disconnection_reason"`
	DurationS           *float64 `json:"duration_s"`
	TurnCount           int      `json:"turn_count"`
	UserTurns           int      `json:"user_turns"`
	AgentTurns          int      `json:"agent_turns"`
}

type Timing struct {
	AgentTalkS     float64  `json:"agent_talk_s"`
	UserTalkS      float64  `json:"user_talk_s"`
	AgentRatioPct  *float64 `json:"agent_ratio"`
	MaxGapS        float64  `json:"max_gap_s"`
	TotalDurationS *float64 `json:"total_duration_s"`
}

// AudioStatus reports what happened to the recording. It carries no URL.
type AudioStatus struct {
	Available  bool    `json:"available"`
	Downloaded bool    `json:"downloaded"`
	Cached     bool    `json:"cached"`
	WavPath    string  `json:"wav_path,omitempty"`
	CallDir    string  `json:"call_dir,omitempty"`
	SizeMB     float64 `json:"size_mb,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// TranscriptSummary is the slice of a transcription result kept in the analysis.
type TranscriptSummary struct {
	Status          string  `json:"status"`
	Language        string  `json:"language"`
	WordCount       int     `json:"word_count"`
	SegmentCount    int     `json:"segment_count"`
	DurationSeconds float64 `json:"duration_s"`
	WordsPath       string  `json:"words_path"`
}

// Analysis is everything the analyzer produced for one call.
type Analysis struct {
	Meta       CallMeta           `json:"meta"`
	Turns      []Turn             `json:"turns"`
	Findings   []Finding          `json:"findings"`
	Audio      AudioStatus        `json:"audio"`
	Timing     Timing             `json:"timing"`
	Transcript *TranscriptSummary `json:"transcript,omitempty"`
}

// Count returns the number of findings with severity s.
func (a *Analysis) Count(s Severity) int {
	n := 0
	for _, f := range a.Findings {
		if f.Severity == s {
			n++
		}
	}
	return n
}
