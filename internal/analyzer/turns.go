package analyzer

import (
	"strings"

	"voice-chain-go/internal/types"
)

// extractTurns normalizes the provider transcript into turns with times in
// milliseconds. Values below 10000 are taken to be seconds.
func extractTurns(pc *types.ProviderCall) []types.Turn {
	src := pc.TranscriptObject
	if len(src) == 0 {
		src = pc.TranscriptWithTools
	}
	turns := make([]types.Turn, 0, len(src))
	for _, u := range src {
		role := firstNonEmpty(u.Role, u.Speaker, "unknown")
		if role != "agent" {
			role = "user"
		}
		content := firstNonEmpty(u.Content, u.Text)

		start := firstSet(u.StartTimestamp, u.Start)
		end := firstSet(u.EndTimestamp, u.End)
		if n := len(u.Words); n > 0 {
			if start == nil {
				start = firstSet(u.Words[0].Start, u.Words[0].StartTimestamp)
			}
			if end == nil {
				end = firstSet(u.Words[n-1].End, u.Words[n-1].EndTimestamp)
			}
		}
		start, end = toMs(start), toMs(end)

		wc := len(u.Words)
		if wc == 0 {
			wc = len(strings.Fields(content))
		}
		t := types.Turn{Role: role, Content: content, WordCount: wc, StartMs: start, EndMs: end}
		if start != nil && end != nil {
			d := *end - *start
			t.DurationMs = &d
		}
		turns = append(turns, t)
	}
	return turns
}

func toMs(v *float64) *float64 {
	if v == nil {
		return nil
	}
	ms := *v
	if ms < 10000 {
		ms *= 1000
	}
	return &ms
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
