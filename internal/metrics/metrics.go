// Package metrics owns the Prometheus registry: HTTP request metrics plus a
// few domain counters. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Registry *prometheus.Registry

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	signups  *prometheus.CounterVec
	pins     *prometheus.CounterVec
	orphans  *prometheus.CounterVec
	cache    *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "echoshock_http_requests_total",
			Help: "HTTP requests by route pattern, method and status.",
		}, []string{"route", "method", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "echoshock_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		signups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "echoshock_signups_total",
			Help: "Sign-up attempts by outcome.",
		}, []string{"outcome"}),
		pins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "echoshock_pin_changes_total",
			Help: "Pin and unpin operations by action and outcome.",
		}, []string{"action", "outcome"}),
		orphans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "echoshock_signup_orphans_total",
			Help: "Partial sign-ups recorded and reconciled.",
		}, []string{"outcome"}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "echoshock_response_cache_total",
			Help: "Response cache lookups by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.requests, m.duration, m.signups, m.pins, m.orphans, m.cache,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// Signup records "completed", "rejected", "conflict" or "incomplete".
func (m *Metrics) Signup(outcome string) {
	if m == nil {
		return
	}
	m.signups.WithLabelValues(outcome).Inc()
}

func (m *Metrics) PinChange(action string, err error) {
	if m == nil {
		return
	}
	m.pins.WithLabelValues(action, outcome(err)).Inc()
}

// Orphan records "recorded", "resolved", "deleted" or "failed".
func (m *Metrics) Orphan(outcome string) {
	if m == nil {
		return
	}
	m.orphans.WithLabelValues(outcome).Inc()
}

func (m *Metrics) CacheResult(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cache.WithLabelValues(result).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware labels by chi route pattern, not raw path, to keep
// cardinality bounded. Mount it inside the chi router.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		m.requests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		m.duration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
