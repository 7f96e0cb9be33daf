// Package telemetry provides Prometheus metrics for the gateway and the form
// actions.
//
// Every method is safe on a nil *Metrics so callers can run without a
// registry.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Status label values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics holds all Prometheus metrics for the tutor service
type Metrics struct {
	gatherer prometheus.Gatherer

	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	LLMCalls    *prometheus.CounterVec
	LLMLatency  *prometheus.HistogramVec
	LLMRetries  *prometheus.CounterVec
	LLMTokens   *prometheus.CounterVec
	Dispatches  *prometheus.CounterVec
	OCRRequests *prometheus.CounterVec

	Actions        *prometheus.CounterVec
	ActionDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics on registry. A nil registry
// gets a fresh one, so repeated construction in tests never collides.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	factory := promauto.With(registry)

	return &Metrics{
		gatherer: registry,

		CacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tutor_cache_hits_total",
				Help: "Responses served from the response cache",
			},
			[]string{"kind"},
		),

		CacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tutor_cache_misses_total",
				Help: "Requests that required a live model call",
			},
			[]string{"kind"},
		),

		LLMCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tutor_llm_calls_total",
				Help: "Live chat completion calls",
			},
			[]string{"provider", "model", "status"},
		),

		LLMLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tutor_llm_latency_seconds",
				Help:    "Live chat completion latency in seconds, retries included",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tutor_llm_retries_total",
				Help: "Retried chat completion attempts",
			},
			[]string{"provider"},
		),

		LLMTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tutor_llm_tokens_total",
				Help: "Tokens reported by the provider",
			},
			[]string{"provider", "direction"},
		),

		Dispatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tutor_function_dispatches_total",
				Help: "Local handler dispatches requested by the model",
			},
			[]string{"function", "status"},
		),

		OCRRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tutor_ocr_requests_total",
				Help: "Text detection requests",
			},
			[]string{"status"},
		),

		Actions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tutor_actions_total",
				Help: "Form actions handled",
			},
			[]string{"type", "status"},
		),

		ActionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tutor_action_duration_seconds",
				Help:    "Form action duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"type"},
		),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RecordCacheLookup counts a cache hit or miss. kind is "text" or "structured".
func (m *Metrics) RecordCacheLookup(kind string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.WithLabelValues(kind).Inc()
		return
	}
	m.CacheMisses.WithLabelValues(kind).Inc()
}

// RecordLLMCall records one live call including its retries.
func (m *Metrics) RecordLLMCall(provider, model string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.LLMCalls.WithLabelValues(provider, model, status(err)).Inc()
	m.LLMLatency.WithLabelValues(provider, model).Observe(duration.Seconds())
}

// RecordRetry counts one retried attempt.
func (m *Metrics) RecordRetry(provider string) {
	if m == nil {
		return
	}
	m.LLMRetries.WithLabelValues(provider).Inc()
}

// RecordTokens adds provider-reported token usage.
func (m *Metrics) RecordTokens(provider string, prompt, completion uint32) {
	if m == nil {
		return
	}
	m.LLMTokens.WithLabelValues(provider, "prompt").Add(float64(prompt))
	m.LLMTokens.WithLabelValues(provider, "completion").Add(float64(completion))
}

// RecordDispatch records a local handler invocation.
func (m *Metrics) RecordDispatch(function string, err error) {
	if m == nil {
		return
	}
	m.Dispatches.WithLabelValues(function, status(err)).Inc()
}

// RecordOCR records a text detection request.
func (m *Metrics) RecordOCR(err error) {
	if m == nil {
		return
	}
	m.OCRRequests.WithLabelValues(status(err)).Inc()
}

// RecordAction records a handled form action.
func (m *Metrics) RecordAction(actionType string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.Actions.WithLabelValues(actionType, status(err)).Inc()
	m.ActionDuration.WithLabelValues(actionType).Observe(duration.Seconds())
}

func status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusOK
}
