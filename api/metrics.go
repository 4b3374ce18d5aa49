package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warp/points-ledger/points"
)

// Metrics holds the Prometheus collectors for the API and the ledger.
// Each instance owns its registry so tests can build routers side by side.
type Metrics struct {
	registry *prometheus.Registry

	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	spendTotal     *prometheus.CounterVec
	pointsSpent    prometheus.Counter
	pointsGranted  prometheus.Counter
	spendShortfall prometheus.Counter
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		spendTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "points_spend_total",
			Help: "Spend requests by result.",
		}, []string{"result"}),
		pointsSpent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "points_spent_total",
			Help: "Net points deducted from grants by spends.",
		}),
		pointsGranted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "points_granted_total",
			Help: "Positive points recorded by grants.",
		}),
		spendShortfall: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "points_spend_shortfall_total",
			Help: "Points requested but left unallocated by payer guards.",
		}),
	}
	m.registry.MustRegister(
		m.httpInFlight, m.httpRequestsTotal, m.httpRequestDuration,
		m.spendTotal, m.pointsSpent, m.pointsGranted, m.spendShortfall,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Instrument records in-flight count, totals and latency per route pattern.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Route pattern is only known after routing.
		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		labels := prometheus.Labels{"method": r.Method, "path": path, "status": strconv.Itoa(status)}
		m.httpRequestsTotal.With(labels).Inc()
		m.httpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	})
}

// ObserveGrant counts granted points.
func (m *Metrics) ObserveGrant(g points.Grant) {
	if g.Granted > 0 {
		m.pointsGranted.Add(float64(g.Granted))
	}
}

// ObserveSpend counts a spend attempt and its outcome.
func (m *Metrics) ObserveSpend(alloc points.Allocation, err error) {
	switch {
	case errors.Is(err, points.ErrInsufficientBalance):
		m.spendTotal.WithLabelValues("insufficient").Inc()
		return
	case err != nil:
		m.spendTotal.WithLabelValues("error").Inc()
		return
	}

	result := "ok"
	if alloc.Shortfall > 0 {
		result = "shortfall"
		m.spendShortfall.Add(float64(alloc.Shortfall))
	}
	m.spendTotal.WithLabelValues(result).Inc()
	// A spend dominated by adjustments can have a negative net deduction.
	if spent := alloc.Spent(); spent > 0 {
		m.pointsSpent.Add(float64(spent))
	}
}
