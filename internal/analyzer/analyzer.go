// Package analyzer turns a collected call into findings. It runs heuristic
// audits over the provider transcript and metadata and, when configured,
// collects the recording and transcribes it. Audio and transcription failures
// become findings for that call only.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"voice-chain-go/internal/audio"
	"voice-chain-go/internal/correlate"
	"voice-chain-go/internal/logger"
	"voice-chain-go/internal/transcription"
	"voice-chain-go/internal/types"
)

// AudioCollector fetches or reuses a call recording.
type AudioCollector interface {
	Collect(ctx context.Context, call *types.ProviderCall, opts audio.Options) (audio.Result, error)
}

// Transcriber produces a word-level transcript for a recording.
type Transcriber interface {
	Transcribe(ctx context.Context, wavPath, callDir string, opts transcription.Options) (*transcription.Result, error)
}

// Observer is told what happened to each call's audio and transcription.
// Metrics implement it; nil is fine.
type Observer interface {
	AudioOutcome(outcome string)
	TranscriptionOutcome(outcome string)
}

type Options struct {
	ForceAudio      bool
	ForceTranscribe bool
	Progress        func(line string)
}

type Analyzer struct {
	audio       AudioCollector
	transcriber Transcriber
	observer    Observer
	opts        Options
	log         *logger.Logger
}

// New returns an analyzer. A nil collector skips audio; a nil transcriber
// skips transcription.
func New(ac AudioCollector, tr Transcriber, obs Observer, opts Options) *Analyzer {
	return &Analyzer{
		audio:       ac,
		transcriber: tr,
		observer:    obs,
		opts:        opts,
		log:         logger.Component("analyzer"),
	}
}

// Analyze decodes rec and audits it. The returned error is reserved for an
// undecodable record and cancellation.
func (a *Analyzer) Analyze(ctx context.Context, rec types.CallRecord) (*types.Analysis, error) {
	pc, err := rec.Decode()
	if err != nil {
		return nil, err
	}
	log := a.log.WithCall(pc.CallID)

	turns := extractTurns(pc)
	res := &types.Analysis{
		Meta:   buildMeta(pc, turns),
		Turns:  turns,
		Timing: buildTiming(pc, turns),
	}
	res.Findings = append(res.Findings, auditTriggers(turns, pc)...)
	res.Findings = append(res.Findings, auditTransfer(pc)...)
	res.Findings = append(res.Findings, auditGibberish(turns)...)
	res.Findings = append(res.Findings, auditFlow(turns)...)
	res.Findings = append(res.Findings, auditExtraction(pc)...)
	res.Findings = append(res.Findings, auditTiming(turns, pc)...)

	res.Audio = types.AudioStatus{Available: pc.Recording() != ""}
	if a.audio != nil {
		if err := a.collectAudio(ctx, pc, res); err != nil {
			return nil, err
		}
	}
	if a.transcriber != nil && res.Audio.WavPath != "" {
		if err := a.transcribe(ctx, pc, res); err != nil {
			return nil, err
		}
	}

	log.WithField("turns", len(turns)).
		WithField("critical", res.Count(types.SeverityCritical)).
		WithField("warning", res.Count(types.SeverityWarning)).
		Info("call analyzed")
	return res, nil
}

func (a *Analyzer) collectAudio(ctx context.Context, pc *types.ProviderCall, res *types.Analysis) error {
	r, err := a.audio.Collect(ctx, pc, audio.Options{Force: a.opts.ForceAudio})
	res.Audio.CallDir = r.CallDir
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.observe(func(o Observer) { o.AudioOutcome("error") })
		res.Findings = append(res.Findings, newFinding("audio_error", types.SeverityWarning,
			"Recording could not be stored locally", err.Error(), nil, nil))
		return nil
	}

	res.Audio.Downloaded = r.Downloaded
	res.Audio.Cached = r.Cached
	res.Audio.WavPath = r.WavPath
	res.Audio.SizeMB = r.SizeMB
	res.Audio.Error = r.Error

	switch {
	case r.Cached:
		a.observe(func(o Observer) { o.AudioOutcome("cached") })
	case r.Downloaded:
		a.observe(func(o Observer) { o.AudioOutcome("downloaded") })
	case r.Error == audio.ErrNoRecordingURL:
		a.observe(func(o Observer) { o.AudioOutcome(r.Error) })
		res.Findings = append(res.Findings, newFinding("audio_unavailable", types.SeverityInfo,
			"No recording on call", "The provider record carries no recording reference.", nil, nil))
	default:
		outcome := r.Error
		if strings.HasPrefix(outcome, "http_") {
			outcome = "http_error"
		}
		a.observe(func(o Observer) { o.AudioOutcome(outcome) })
		res.Findings = append(res.Findings, newFinding("audio_download_failed", types.SeverityWarning,
			"Recording download failed",
			fmt.Sprintf("Recording could not be downloaded (%s).", r.Error),
			nil, map[string]any{"error": r.Error}))
	}
	return nil
}

func (a *Analyzer) transcribe(ctx context.Context, pc *types.ProviderCall, res *types.Analysis) error {
	tr, err := a.transcriber.Transcribe(ctx, res.Audio.WavPath, res.Audio.CallDir, transcription.Options{
		Force:    a.opts.ForceTranscribe,
		Progress: a.opts.Progress,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return ctx.Err()
		}
		kind := transcription.Kind(err)
		a.observe(func(o Observer) { o.TranscriptionOutcome(kind) })
		res.Findings = append(res.Findings, newFinding("transcription_failed", types.SeverityCritical,
			"Transcription failed",
			err.Error(),
			nil, map[string]any{"kind": kind}))
		return nil
	}

	a.observe(func(o Observer) { o.TranscriptionOutcome(tr.Status) })
	res.Transcript = &types.TranscriptSummary{
		Status:          tr.Status,
		Language:        tr.Language,
		WordCount:       tr.WordCount,
		SegmentCount:    tr.SegmentCount,
		DurationSeconds: tr.DurationSeconds,
		WordsPath:       tr.WordsPath,
	}
	if tr.WordCount == 0 {
		res.Findings = append(res.Findings, newFinding("transcription_empty", types.SeverityWarning,
			"Transcription produced no words",
			"The recording was transcribed but no words were recognized.",
			nil, map[string]any{"status": tr.Status}))
	}
	if tr.WordsPath != "" {
		a.correlateWords(pc, res)
	}
	return nil
}

// correlateWords checks the recording transcript against the provider call
// and writes correlation.json next to it.
func (a *Analyzer) correlateWords(pc *types.ProviderCall, res *types.Analysis) {
	log := a.log.WithCall(pc.CallID)
	words, err := correlate.LoadWords(res.Transcript.WordsPath)
	if err != nil {
		a.correlationFailed(log, res, err)
		return
	}
	c := correlate.Correlate(pc, words)
	res.Findings = append(res.Findings, c.Findings...)
	path, err := correlate.Write(res.Audio.CallDir, c)
	if err != nil {
		a.correlationFailed(log, res, err)
		return
	}
	log.WithField("triggers", c.Summary.TriggersFound).
		WithField("speech_gaps", c.Summary.SpeechGapsFound).
		WithField("path", path).
		Info("correlation written")
}

func (a *Analyzer) correlationFailed(log *logger.Logger, res *types.Analysis, err error) {
	log.WithError(err).Warn("correlation failed")
	res.Findings = append(res.Findings, newFinding("correlation_failed", types.SeverityWarning,
		"Recording transcript could not be correlated", err.Error(), nil, nil))
}

func (a *Analyzer) observe(fn func(Observer)) {
	if a.observer != nil {
		fn(a.observer)
	}
}

func buildMeta(pc *types.ProviderCall, turns []types.Turn) types.CallMeta {
	m := types.CallMeta{
		CallID:              pc.CallID,
		CallIDShort:         types.ShortID(firstNonEmpty(pc.CallID, "unknown")),
		AgentName:           "unknown",
		CallStatus:          firstNonEmpty(pc.CallStatus, "unknown"),
		DisconnectionReason: firstNonEmpty(pc.DisconnectionReason, "unknown"),
		TurnCount:           len(turns),
	}
	if pc.AgentID != "" {
		id := pc.AgentID
		if len(id) > 8 {
			id = id[:8]
		}
		m.AgentName = "agent_" + id
	}
	if d, ok := pc.CallDurationMs(); ok {
		s := round(d/1000, 1)
		m.DurationS = &s
	}
	for _, t := range turns {
		if t.Role == "agent" {
			m.AgentTurns++
		} else {
			m.UserTurns++
		}
	}
	return m
}

func buildTiming(pc *types.ProviderCall, turns []types.Turn) types.Timing {
	agentMs, userMs := talkTime(turns)
	var maxGap float64
	for i := 1; i < len(turns); i++ {
		if turns[i-1].EndMs != nil && turns[i].StartMs != nil {
			maxGap = max(maxGap, *turns[i].StartMs-*turns[i-1].EndMs)
		}
	}
	t := types.Timing{
		AgentTalkS: round(agentMs/1000, 1),
		UserTalkS:  round(userMs/1000, 1),
		MaxGapS:    round(maxGap/1000, 1),
	}
	if total := agentMs + userMs; total > 0 {
		pct := round(agentMs/total*100, 0)
		t.AgentRatioPct = &pct
	}
	if d, ok := pc.CallDurationMs(); ok {
		s := round(d/1000, 1)
		t.TotalDurationS = &s
	}
	return t
}
