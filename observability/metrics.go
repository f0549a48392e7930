package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type httpMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

type curveMetrics struct {
	trades      *prometheus.CounterVec
	volume      *prometheus.CounterVec
	fees        prometheus.Counter
	rejections  *prometheus.CounterVec
	graduations prometheus.Counter
	created     prometheus.Counter
	latency     *prometheus.HistogramVec
}

var (
	httpMetricsOnce sync.Once
	httpRegistry    *httpMetrics

	curveMetricsOnce sync.Once
	curveRegistry    *curveMetrics
)

// HTTP returns the lazily-initialised registry recording API request activity.
func HTTP() *httpMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &httpMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "launchpad",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route, method and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "launchpad",
				Subsystem: "http",
				Name:      "errors_total",
				Help:      "Total API errors segmented by route and status code.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "launchpad",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "launchpad",
				Subsystem: "http",
				Name:      "throttles_total",
				Help:      "Count of requests rejected by the rate limiter.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			httpRegistry.requests,
			httpRegistry.errors,
			httpRegistry.latency,
			httpRegistry.throttles,
		)
	})
	return httpRegistry
}

// Observe records the outcome of a request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *httpMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(route, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit".
func (m *httpMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

// Curve returns the registry tracking curve trading activity.
func Curve() *curveMetrics {
	curveMetricsOnce.Do(func() {
		curveRegistry = &curveMetrics{
			trades: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "launchpad",
				Subsystem: "curve",
				Name:      "trades_total",
				Help:      "Committed curve trades segmented by side.",
			}, []string{"side"}),
			volume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "launchpad",
				Subsystem: "curve",
				Name:      "base_volume_total",
				Help:      "Base asset units moved through curve trades.",
			}, []string{"side"}),
			fees: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "launchpad",
				Subsystem: "curve",
				Name:      "fees_total",
				Help:      "Base asset units retained as trading fees.",
			}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "launchpad",
				Subsystem: "curve",
				Name:      "rejections_total",
				Help:      "Rejected curve requests segmented by operation and kind.",
			}, []string{"op", "kind"}),
			graduations: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "launchpad",
				Subsystem: "curve",
				Name:      "graduations_total",
				Help:      "Curves that crossed the graduation threshold.",
			}),
			created: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "launchpad",
				Subsystem: "curve",
				Name:      "created_total",
				Help:      "Curves initialised.",
			}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "launchpad",
				Subsystem: "curve",
				Name:      "operation_duration_seconds",
				Help:      "Latency of curve engine operations including ledger commit.",
				Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
			}, []string{"op"}),
		}
		prometheus.MustRegister(
			curveRegistry.trades,
			curveRegistry.volume,
			curveRegistry.fees,
			curveRegistry.rejections,
			curveRegistry.graduations,
			curveRegistry.created,
			curveRegistry.latency,
		)
	})
	return curveRegistry
}

// ObserveTrade records a committed trade and its base-side volume.
func (m *curveMetrics) ObserveTrade(side string, baseVolume, fee uint64) {
	if m == nil {
		return
	}
	m.trades.WithLabelValues(side).Inc()
	m.volume.WithLabelValues(side).Add(float64(baseVolume))
	m.fees.Add(float64(fee))
}

// RecordRejection counts a request refused by the engine.
func (m *curveMetrics) RecordRejection(op, kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.rejections.WithLabelValues(op, kind).Inc()
}

// RecordGraduation counts a graduation.
func (m *curveMetrics) RecordGraduation() {
	if m == nil {
		return
	}
	m.graduations.Inc()
}

// RecordCreated counts a new curve.
func (m *curveMetrics) RecordCreated() {
	if m == nil {
		return
	}
	m.created.Inc()
}

// ObserveLatency records how long an engine operation took.
func (m *curveMetrics) ObserveLatency(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(op).Observe(d.Seconds())
}
