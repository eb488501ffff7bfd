// Package metrics provides Prometheus metrics for the assistant.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics of the assistant. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Conversation turns
	TurnsTotal   *prometheus.CounterVec
	TurnDuration prometheus.Histogram

	// Agent tools
	ToolCallsTotal   *prometheus.CounterVec
	ToolCallDuration *prometheus.HistogramVec

	// Retrieval
	RetrievalResults prometheus.Histogram
	RetrievalErrors  prometheus.Counter

	// Tickets
	TicketsCreated prometheus.Counter
}

// NewMetrics creates all metrics on a private registry, together with the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{registry: reg}

	m.TurnsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "itsupport_turns_total",
			Help: "Total number of conversation turns by outcome",
		},
		[]string{"outcome"},
	)

	m.TurnDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "itsupport_turn_duration_seconds",
			Help:    "Time to answer a user message",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45, 90},
		},
	)

	m.ToolCallsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "itsupport_tool_calls_total",
			Help: "Total number of agent tool calls",
		},
		[]string{"tool", "status"},
	)

	m.ToolCallDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "itsupport_tool_call_duration_seconds",
			Help:    "Duration of agent tool calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	m.RetrievalResults = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "itsupport_retrieval_results",
			Help:    "Number of manual chunks retrieved per question",
			Buckets: []float64{0, 1, 2, 3, 5, 10},
		},
	)

	m.RetrievalErrors = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "itsupport_retrieval_errors_total",
			Help: "Total number of failed document retrievals",
		},
	)

	m.TicketsCreated = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "itsupport_tickets_created_total",
			Help: "Total number of helpdesk tickets created",
		},
	)

	return m
}

// RecordTurn records a finished turn. outcome is success, fallback or error.
func (m *Metrics) RecordTurn(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(outcome).Inc()
	m.TurnDuration.Observe(duration.Seconds())
}

// RecordToolCall records one tool execution.
func (m *Metrics) RecordToolCall(tool, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(tool, status).Inc()
	m.ToolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordRetrieval records the outcome of one retrieval.
func (m *Metrics) RecordRetrieval(results int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.RetrievalErrors.Inc()
		return
	}
	m.RetrievalResults.Observe(float64(results))
}

// RecordTicketCreated counts a successfully created ticket.
func (m *Metrics) RecordTicketCreated() {
	if m == nil {
		return
	}
	m.TicketsCreated.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// NewServer returns an HTTP server exposing /metrics and /health on addr.
func (m *Metrics) NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","service":"itsupport"}`))
	})

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
