// Package metrics exposes Prometheus instrumentation for ingestion, board
// reads, and HTTP traffic. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warp/step-league/challenge"
)

const namespace = "step_league"

// Ingest outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

type Metrics struct {
	ingests        *prometheus.CounterVec
	rowsIngested   prometheus.Counter
	ingestDuration prometheus.Histogram
	boardReads     *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

var (
	defaultOnce sync.Once
	defaultReg  *Metrics
)

// Default returns the lazily-initialised metrics registered with the global
// Prometheus registry.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultReg = New(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	})
	return defaultReg
}

// New registers a fresh set of collectors. Tests pass their own registry.
func New(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	m := &Metrics{
		ingests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "batches_total",
			Help:      "Batch ingestions segmented by outcome.",
		}, []string{"outcome"}),
		rowsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "rows_total",
			Help:      "Raw step rows written by successful ingestions.",
		}),
		ingestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "duration_seconds",
			Help:      "Time from receiving a batch file to commit or rejection.",
			Buckets:   prometheus.DefBuckets,
		}),
		boardReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "leaderboard",
			Name:      "reads_total",
			Help:      "Leaderboard reads segmented by board.",
		}, []string{"board"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution for HTTP handlers by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		gatherer: gatherer,
	}
	reg.MustRegister(m.ingests, m.rowsIngested, m.ingestDuration, m.boardReads, m.httpDuration)
	return m
}

// Outcome classifies an ingestion error for the outcome label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case challenge.IsClientError(err):
		return OutcomeRejected
	default:
		return OutcomeFailed
	}
}

// ObserveIngest records one ingestion attempt.
func (m *Metrics) ObserveIngest(err error, rows int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ingests.WithLabelValues(Outcome(err)).Inc()
	m.ingestDuration.Observe(elapsed.Seconds())
	if err == nil {
		m.rowsIngested.Add(float64(rows))
	}
}

// ObserveBoard counts a leaderboard read.
func (m *Metrics) ObserveBoard(board string) {
	if m == nil {
		return
	}
	m.boardReads.WithLabelValues(board).Inc()
}

// Middleware records request latency labelled by chi route pattern, so
// query strings and path values never become label values.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpDuration.WithLabelValues(r.Method, route, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
