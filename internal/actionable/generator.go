package actionable

import (
	"fmt"
	"sort"

	"voice-chain-go/internal/aggregator"
	"voice-chain-go/internal/types"
)

// MaxItems bounds top fixes and top regressions.
const MaxItems = 3

type ActionCard struct {
	Insight string `json:"insight"`
	Action  string `json:"action"`
	Impact  string `json:"impact"`
}

// TopFixes returns the titles of the first critical findings, then warnings,
// up to MaxItems.
func TopFixes(findings []types.Finding) []string {
	out := []string{}
	for _, sev := range []types.Severity{types.SeverityCritical, types.SeverityWarning} {
		for _, f := range findings {
			if len(out) == MaxItems {
				return out
			}
			if f.Severity == sev {
				out = append(out, f.Title)
			}
		}
	}
	return out
}

// TopRegressions walks all findings in call order and keeps the first
// critical or warning title per category, up to MaxItems.
func TopRegressions(analyses []*types.Analysis) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, a := range analyses {
		if a == nil {
			continue
		}
		for _, f := range a.Findings {
			if f.Severity != types.SeverityCritical && f.Severity != types.SeverityWarning {
				continue
			}
			if seen[f.Category] {
				continue
			}
			seen[f.Category] = true
			out = append(out, f.Title)
			if len(out) == MaxItems {
				return out
			}
		}
	}
	return out
}

var playbook = map[string]ActionCard{
	"trigger_missed": {
		Action: "Add the missed keyword to the agent's language-switch triggers and redeploy",
		Impact: "Foreign-language callers reach a human instead of a failed intake",
	},
	"transfer_failed": {
		Action: "Check the transfer target number and the provider's transfer logs",
		Impact: "Transferred callers are not dropped",
	},
	"gibberish_detected": {
		Action: "Review the recording; tune ASR language or add a language trigger",
		Impact: "Fewer unusable transcripts",
	},
	"double_question": {
		Action: "Tell the agent prompt to confirm fields the caller already gave",
		Impact: "Shorter calls and less caller frustration",
	},
	"express_ignored": {
		Action: "Add an express path: confirm upfront details and ask only for gaps",
		Impact: "Shorter calls for well-prepared callers",
	},
	"extraction_missing": {
		Action: "Make the agent ask for every required field before closing",
		Impact: "Complete cases without call-backs",
	},
	"extraction_invalid": {
		Action: "Tighten the extraction schema and value allowlists",
		Impact: "Cases route to the right team",
	},
	"transcription_failed": {
		Action: "Check the transcriber installation and rerun with --force-transcribe",
		Impact: "Audio evidence available for the call",
	},
	"audio_download_failed": {
		Action: "Rerun soon; signed recording links expire",
		Impact: "Audio evidence available for the call",
	},
	"trigger_heard_no_transfer": {
		Action: "Compare the heard keyword with the provider transcript and add it to the language-switch triggers",
		Impact: "Callers the provider ASR misheard still get transferred",
	},
	"speech_no_transcript": {
		Action: "Check the provider's ASR language and endpointing for the affected turns",
		Impact: "Caller speech reaches the agent",
	},
}

// Generate turns the most frequent regression categories into action cards.
// Categories without a playbook entry get a generic review card.
func Generate(ins aggregator.Insight) []ActionCard {
	type kv struct {
		cat string
		n   int
	}
	var ranked []kv
	for c, n := range ins.CategoryCounts {
		ranked = append(ranked, kv{c, n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].n != ranked[j].n {
			return ranked[i].n > ranked[j].n
		}
		return ranked[i].cat < ranked[j].cat
	})

	cards := []ActionCard{}
	for _, r := range ranked {
		if len(cards) == MaxItems {
			break
		}
		card, ok := playbook[r.cat]
		if !ok {
			card = ActionCard{Action: "Review the affected calls manually", Impact: "Unknown until triaged"}
		}
		card.Insight = fmt.Sprintf("%s in %d finding(s) across %d call(s)", r.cat, r.n, ins.Calls)
		cards = append(cards, card)
	}
	return cards
}
