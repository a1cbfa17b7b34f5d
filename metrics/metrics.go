// Package metrics exposes Prometheus metrics for the tracker's HTTP server
// and roadmap sync. A nil *Metrics is valid and records nothing.
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

const namespace = "aibenefits"

// Metrics holds the process registry and every collector on it.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	syncRuns          *prometheus.CounterVec
	syncAlerts        *prometheus.CounterVec
	syncProjectErrors prometheus.Counter
	syncDuration      prometheus.Histogram
	syncLastSuccess   prometheus.Gauge
}

// New creates a registry with Go runtime and process collectors plus the
// tracker's own metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern, method and status code",
		}, []string{"route", "method", "code"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"route"}),
		syncRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "roadmap_sync_runs_total",
			Help:      "Roadmap sync runs by result",
		}, []string{"result"}),
		syncAlerts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "roadmap_sync_alerts_created_total",
			Help:      "Alerts created by the roadmap sync by type",
		}, []string{"type"}),
		syncProjectErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "roadmap_sync_project_errors_total",
			Help:      "Projects the roadmap sync failed to process",
		}),
		syncDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "roadmap_sync_duration_seconds",
			Help:      "Roadmap sync duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}),
		syncLastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "roadmap_sync_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful roadmap sync",
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SyncRun is what one roadmap sync reports to metrics.
type SyncRun struct {
	Duration      time.Duration
	AlertsByType  map[string]int
	ProjectErrors int
	Err           error
	FinishedAt    time.Time
}

// ObserveSync records a finished roadmap sync.
func (m *Metrics) ObserveSync(run SyncRun) {
	if m == nil {
		return
	}
	m.syncDuration.Observe(run.Duration.Seconds())
	for typ, n := range run.AlertsByType {
		m.syncAlerts.WithLabelValues(typ).Add(float64(n))
	}
	m.syncProjectErrors.Add(float64(run.ProjectErrors))
	if run.Err != nil {
		m.syncRuns.WithLabelValues("error").Inc()
		return
	}
	m.syncRuns.WithLabelValues("success").Inc()
	m.syncLastSuccess.Set(float64(run.FinishedAt.Unix()))
}

// Middleware counts requests and observes latency. Routes are labelled by
// the ServeMux pattern that matched, keeping label cardinality bounded.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
