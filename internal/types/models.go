package types

import (
	"encoding/json"
	"fmt"
)

// ShortIDLen is the length of the call id prefix used for file and directory
// names. Two ids sharing this prefix map to the same paths.
const ShortIDLen = 12

// ShortID returns the first ShortIDLen characters of id.
func ShortID(id string) string {
	if len(id) <= ShortIDLen {
		return id
	}
	return id[:ShortIDLen]
}

// CallRecord is one collected call: the provider payload exactly as received
// plus the path of its local snapshot.
type CallRecord struct {
	CallID          string          `json:"call_id"`
	Raw             json.RawMessage `json:"raw"`
	RawSnapshotPath string          `json:"raw_snapshot_path"`
}

// Decode parses the raw payload into a ProviderCall.
func (r CallRecord) Decode() (*ProviderCall, error) {
	var pc ProviderCall
	if err := json.Unmarshal(r.Raw, &pc); err != nil {
		return nil, fmt.Errorf("decode call %s: %w", ShortID(r.CallID), err)
	}
	if pc.CallID == "" {
		pc.CallID = r.CallID
	}
	return &pc, nil
}

// SignedURL is a time-limited URL carrying an access token in its query.
// It never prints or marshals its value.
type SignedURL string

const redacted = "[redacted]"

func (u SignedURL) String() string   { return redacted }
func (u SignedURL) GoString() string { return redacted }

// MarshalJSON keeps the token out of any persisted artifact.
func (u SignedURL) MarshalJSON() ([]byte, error) {
	return json.Marshal(redacted)
}

// Reveal returns the actual URL. Only the HTTP request builder may call it.
func (u SignedURL) Reveal() string { return string(u) }

// ProviderCall is the subset of the provider's get-call payload the chain reads.
type ProviderCall struct {
	CallID              string        `json:"call_id"`
	AgentID             string        `json:"agent_id,omitempty"`
	CallType            string        `json:"call_type,omitempty"`
	CallStatus          string        `json:"call_status,omitempty"`
	DisconnectionReason string        `json:"disconnection_reason,omitempty"`
	DurationMs          *float64      `json:"duration_ms,omitempty"`
	StartTimestamp      *float64      `json:"start_timestamp,omitempty"`
	EndTimestamp        *float64      `json:"end_timestamp,omitempty"`
	RecordingURL        SignedURL     `json:"recording_url,omitempty"`
	AudioURL            SignedURL     `json:"audio_url,omitempty"`
	TranscriptObject    []Utterance   `json:"transcript_object,omitempty"`
	TranscriptWithTools []Utterance   `json:"transcript_with_tool_call,omitempty"`
	ToolCalls           []ToolCall    `json:"tool_calls,omitempty"`
	CallAnalysis        *CallAnalysis `json:"call_analysis,omitempty"`
}

// Recording returns the recording reference, preferring recording_url.
func (c *ProviderCall) Recording() SignedURL {
	if c.RecordingURL != "" {
		return c.RecordingURL
	}
	return c.AudioURL
}

// CallDurationMs returns duration_ms or end-start, and false when neither is known.
func (c *ProviderCall) CallDurationMs() (float64, bool) {
	if c.DurationMs != nil {
		return *c.DurationMs, true
	}
	if c.StartTimestamp != nil && c.EndTimestamp != nil && *c.StartTimestamp > 0 && *c.EndTimestamp > 0 {
		return *c.EndTimestamp - *c.StartTimestamp, true
	}
	return 0, false
}

type Utterance struct {
	Role           string   `json:"role,omitempty"`
	Speaker        string   `json:"speaker,omitempty"`
	Content        string   `json:"content,omitempty"`
	Text           string   `json:"text,omitempty"`
	StartTimestamp *float64 `json:"start_timestamp,omitempty"`
	EndTimestamp   *float64 `json:"end_timestamp,omitempty"`
	Start          *float64 `json:"start,omitempty"`
	End            *float64 `json:"end,omitempty"`
	Words          []Word   `json:"words,omitempty"`
}

type Word struct {
	Word           string   `json:"word"`
	Start          *float64 `json:"start,omitempty"`
	End            *float64 `json:"end,omitempty"`
	StartTimestamp *float64 `json:"start_timestamp,omitempty"`
	EndTimestamp   *float64 `json:"end_timestamp,omitempty"`
}

// ToolCall is a tool the agent invoked. StartTimeSec is seconds from call start.
type ToolCall struct {
	Name         string   `json:"name,omitempty"`
	Type         string   `json:"type,omitempty"`
	StartTimeSec *float64 `json:"start_time_sec,omitempty"`
}

type CallAnalysis struct {
	CallSummary        string         `json:"call_summary,omitempty"`
	CustomAnalysisData map[string]any `json:"custom_analysis_data,omitempty"`
}
