// Package observability exposes the Prometheus metrics of the screening service.
package observability

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lukasbauer/callguard/internal/lang"
)

// Metrics collects call-screening metrics.
//
// Usage:
//
//	reg := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(reg)
//	llmClient = llm.Instrument(llmClient, metrics.ObserveInference)
type Metrics struct {
	// WebhookCounter counts telephony webhooks.
	// Labels: event (incoming|speech|status), status (ok|error|rejected)
	WebhookCounter *prometheus.CounterVec

	// InferenceCounter counts inference requests.
	// Labels: operation (detect_language|classify_spam|generate_reply), status (success|timeout|error)
	InferenceCounter *prometheus.CounterVec

	// InferenceDuration measures inference latency in seconds.
	// Labels: operation
	InferenceDuration *prometheus.HistogramVec

	// TurnOutcomes counts how caller turns ended.
	// Labels: outcome (greeted|no_speech|rejected|stalled|engaged|ignored)
	TurnOutcomes *prometheus.CounterVec

	// LanguageDetections counts language decisions.
	// Labels: language, method (lexical|model|default)
	LanguageDetections *prometheus.CounterVec

	// SessionsActive is the number of calls that have not terminated.
	// Ended sessions waiting for eviction are not counted.
	SessionsActive prometheus.Gauge

	// SessionsEvicted counts sessions removed for being idle.
	SessionsEvicted prometheus.Counter
}

// NewMetrics registers the metrics with reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		WebhookCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callguard_webhooks_total",
				Help: "Total number of telephony webhooks handled",
			},
			[]string{"event", "status"},
		),
		InferenceCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callguard_inference_requests_total",
				Help: "Total number of inference requests",
			},
			[]string{"operation", "status"},
		),
		InferenceDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "callguard_inference_duration_seconds",
				Help:    "Inference request latency in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 3, 5},
			},
			[]string{"operation"},
		),
		TurnOutcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callguard_turn_outcomes_total",
				Help: "Total number of screened turns by outcome",
			},
			[]string{"outcome"},
		),
		LanguageDetections: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callguard_language_detections_total",
				Help: "Total number of language detections by language and method",
			},
			[]string{"language", "method"},
		),
		SessionsActive: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "callguard_sessions_active",
				Help: "Number of calls in progress (sessions not yet terminated)",
			},
		),
		SessionsEvicted: f.NewCounter(
			prometheus.CounterOpts{
				Name: "callguard_sessions_evicted_total",
				Help: "Total number of idle call sessions evicted",
			},
		),
	}
}

// WebhookHandled records a telephony webhook.
func (m *Metrics) WebhookHandled(event, status string) {
	m.WebhookCounter.WithLabelValues(event, status).Inc()
}

// ObserveInference records one inference request. Its signature matches
// llm.ObserveFunc.
func (m *Metrics) ObserveInference(operation string, elapsed time.Duration, err error) {
	status := "success"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		status = "timeout"
	case err != nil:
		status = "error"
	}
	m.InferenceCounter.WithLabelValues(operation, status).Inc()
	m.InferenceDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// TurnCompleted records the outcome of a screened turn.
func (m *Metrics) TurnCompleted(outcome string) {
	m.TurnOutcomes.WithLabelValues(outcome).Inc()
}

// LanguageIdentified records a language decision.
func (m *Metrics) LanguageIdentified(l lang.Language, method string) {
	m.LanguageDetections.WithLabelValues(l.String(), method).Inc()
}

// SetSessionsActive sets the active session gauge.
func (m *Metrics) SetSessionsActive(n int) {
	m.SessionsActive.Set(float64(n))
}

// SessionsSwept records evicted sessions.
func (m *Metrics) SessionsSwept(n int) {
	if n > 0 {
		m.SessionsEvicted.Add(float64(n))
	}
}
