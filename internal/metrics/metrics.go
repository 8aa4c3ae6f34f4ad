// Package metrics implements the usage and latency counters SPEC_FULL.md
// names for the metrics stage: per-stage outcome counts, per-turn latency,
// token accounting, and turn cost, all exported as Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder holds the process-wide collector set. One instance is expected
// per process; stages share it rather than constructing their own.
type Recorder struct {
	stageOutcomes  *prometheus.CounterVec
	turnDuration   *prometheus.HistogramVec
	tokensTotal    *prometheus.CounterVec
	turnCostUSD    *prometheus.CounterVec
	toolCallsTotal *prometheus.CounterVec
	providerHealth *prometheus.GaugeVec
}

// NewRecorder builds and registers a Recorder's collectors against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the default
// global registry across parallel test packages.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		stageOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaycore",
			Name:      "stage_outcomes_total",
			Help:      "Count of pipeline stage completions by stage and outcome (ok, warn, fatal).",
		}, []string{"stage", "outcome"}),
		turnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "relaycore",
			Name:      "turn_duration_seconds",
			Help:      "Wall-clock duration of a complete pipeline turn.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"model"}),
		tokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaycore",
			Name:      "tokens_total",
			Help:      "Tokens consumed per turn by kind (prompt, completion).",
		}, []string{"model", "kind"}),
		turnCostUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaycore",
			Name:      "turn_cost_usd_total",
			Help:      "Cumulative estimated cost in USD by model and pricing source.",
		}, []string{"model", "source"}),
		toolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaycore",
			Name:      "tool_calls_total",
			Help:      "MCP tool invocations by server and outcome.",
		}, []string{"server", "outcome"}),
		providerHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "relaycore",
			Name:      "provider_health",
			Help:      "1 if the provider's last health check was healthy, 0 otherwise.",
		}, []string{"provider"}),
	}

	reg.MustRegister(r.stageOutcomes, r.turnDuration, r.tokensTotal, r.turnCostUSD, r.toolCallsTotal, r.providerHealth)
	return r
}

// StageOutcome is the label value recorded for one stage's result.
type StageOutcome string

const (
	OutcomeOK    StageOutcome = "ok"
	OutcomeWarn  StageOutcome = "warn"
	OutcomeFatal StageOutcome = "fatal"
)

// RecordStage increments the outcome counter for one stage execution.
func (r *Recorder) RecordStage(stage string, outcome StageOutcome) {
	r.stageOutcomes.WithLabelValues(stage, string(outcome)).Inc()
}

// RecordTurn records total wall-clock duration for a completed turn.
func (r *Recorder) RecordTurn(model string, d time.Duration) {
	r.turnDuration.WithLabelValues(model).Observe(d.Seconds())
}

// RecordTokens records prompt and completion token counts for one turn.
func (r *Recorder) RecordTokens(model string, promptTokens, completionTokens int) {
	if promptTokens > 0 {
		r.tokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		r.tokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
}

// RecordCost records a turn's calculated cost against its pricing source.
func (r *Recorder) RecordCost(model, source string, usd float64) {
	r.turnCostUSD.WithLabelValues(model, source).Add(usd)
}

// RecordToolCall records one MCP tool invocation outcome.
func (r *Recorder) RecordToolCall(serverID string, allowed bool) {
	outcome := "allowed"
	if !allowed {
		outcome = "denied"
	}
	r.toolCallsTotal.WithLabelValues(serverID, outcome).Inc()
}

// SetProviderHealth records a provider's current health as 1 (healthy) or 0.
func (r *Recorder) SetProviderHealth(provider string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	r.providerHealth.WithLabelValues(provider).Set(v)
}
