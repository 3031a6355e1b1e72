// Package metrics holds the prometheus collectors for HTTP traffic, LLM calls
// and check-in writes.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a registry so tests can create isolated instances.
type Metrics struct {
	reg *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	llmDuration     *prometheus.HistogramVec
	llmCalls        *prometheus.CounterVec
	checkinWrites   *prometheus.CounterVec
}

// New registers all collectors, plus the Go and process collectors, on a
// fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		requestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coach_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
		requestTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coach_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		llmDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coach_llm_call_duration_seconds",
				Help:    "Duration of Anthropic API calls in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"call"},
		),
		llmCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coach_llm_calls_total",
				Help: "Total number of Anthropic API calls by outcome",
			},
			[]string{"call", "outcome"},
		),
		checkinWrites: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coach_checkin_writes_total",
				Help: "Check-in rows written by action",
			},
			[]string{"action"},
		),
	}
}

// ObserveLLM records one API call. Its signature matches llm.Observer.
func (m *Metrics) ObserveLLM(call string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.llmDuration.WithLabelValues(call).Observe(d.Seconds())
	m.llmCalls.WithLabelValues(call, outcome).Inc()
}

// CheckInWrites adds n to the counter for action (created, updated, deleted,
// status, skipped).
func (m *Metrics) CheckInWrites(action string, n int) {
	if n <= 0 {
		return
	}
	m.checkinWrites.WithLabelValues(action).Add(float64(n))
}

// TrackTopics exports the number of event-stream topics reported by fn.
func (m *Metrics) TrackTopics(fn func() int) {
	promauto.With(m.reg).NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "coach_sse_topics",
			Help: "Event-stream topics currently held in memory",
		},
		func() float64 { return float64(fn()) },
	)
}

// Handler serves the registry in the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Registry exposes the underlying registry for gathering in tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Middleware records request count and duration. Routes are labeled by the
// matched ServeMux pattern so path parameters do not explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(rec.status)
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		m.requestTotal.WithLabelValues(r.Method, route, status).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streaming working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
