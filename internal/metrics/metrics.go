// Package metrics counts what a chain run did and writes it in the Prometheus
// text format for the node exporter textfile collector.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"voice-chain-go/internal/aggregator"
	"voice-chain-go/internal/types"
)

// Metrics holds the run's collectors on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	CallsCollected        prometheus.Counter
	AudioOutcomes         *prometheus.CounterVec
	TranscriptionOutcomes *prometheus.CounterVec
	Findings              *prometheus.CounterVec
	CallVerdicts          *prometheus.CounterVec
	CallDuration          prometheus.Histogram
	RunVerdict            *prometheus.GaugeVec
	RunDuration           prometheus.Gauge
	LastRun               prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		CallsCollected: f.NewCounter(prometheus.CounterOpts{
			Name: "voice_chain_calls_collected_total",
			Help: "Calls fetched from the provider",
		}),
		AudioOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_chain_audio_outcomes_total",
			Help: "Recording collection outcomes",
		}, []string{"outcome"}),
		TranscriptionOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_chain_transcription_outcomes_total",
			Help: "Transcription outcomes: fresh, cached or an error kind",
		}, []string{"outcome"}),
		Findings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_chain_findings_total",
			Help: "Findings by severity",
		}, []string{"severity"}),
		CallVerdicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_chain_call_verdicts_total",
			Help: "Per-call verdicts",
		}, []string{"verdict"}),
		CallDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_chain_call_duration_seconds",
			Help:    "Time spent analyzing and reporting one call",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~17 minutes
		}),
		RunVerdict: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "voice_chain_run_verdict",
			Help: "1 for the verdict of the last run, 0 for the others",
		}, []string{"verdict"}),
		RunDuration: f.NewGauge(prometheus.GaugeOpts{
			Name: "voice_chain_run_duration_seconds",
			Help: "Wall time of the last run",
		}),
		LastRun: f.NewGauge(prometheus.GaugeOpts{
			Name: "voice_chain_last_run_timestamp_seconds",
			Help: "Unix time the last run finished",
		}),
	}
}

func (m *Metrics) AudioOutcome(outcome string) {
	m.AudioOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) TranscriptionOutcome(outcome string) {
	m.TranscriptionOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveCollected(n int) {
	m.CallsCollected.Add(float64(n))
}

// ObserveCall records one finished call.
func (m *Metrics) ObserveCall(a *types.Analysis, d time.Duration) {
	for _, f := range a.Findings {
		m.Findings.WithLabelValues(string(f.Severity)).Inc()
	}
	m.CallVerdicts.WithLabelValues(string(aggregator.ForCall(a.Findings).Score)).Inc()
	m.CallDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveRun(v aggregator.Verdict, d time.Duration) {
	for _, s := range []aggregator.Verdict{aggregator.Pass, aggregator.Warn, aggregator.Fail} {
		val := 0.0
		if s == v {
			val = 1
		}
		m.RunVerdict.WithLabelValues(string(s)).Set(val)
	}
	m.RunDuration.Set(d.Seconds())
	m.LastRun.SetToCurrentTime()
}

// WriteTextfile atomically writes all metrics to path.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }
