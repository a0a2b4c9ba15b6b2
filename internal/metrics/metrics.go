// Package metrics exposes the kernel's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the kernel's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tascade",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tascade",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tascade",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	// ReadyQueueDepth is a per-project gauge of ready tasks. It is registered,
	// but no code path in this repository sets it.
	ReadyQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tascade",
			Subsystem: "scheduler",
			Name:      "ready_queue_depth",
			Help:      "Number of tasks currently in the ready state.",
		},
		[]string{"project_id"},
	)

	ActiveLeases = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tascade",
			Subsystem: "lease",
			Name:      "active_total",
			Help:      "Number of currently active leases.",
		},
		[]string{"project_id"},
	)

	LeaseExpirations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tascade",
			Subsystem: "lease",
			Name:      "expirations_total",
			Help:      "Total number of leases expired by the sweep ticker.",
		},
		[]string{"project_id"},
	)

	SchedulerLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tascade",
			Subsystem: "scheduler",
			Name:      "list_ready_duration_seconds",
			Help:      "Duration of ready-queue computation.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)

	GateBacklog = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tascade",
			Subsystem: "gate",
			Name:      "unresolved_candidates",
			Help:      "Number of gate candidates awaiting a decision.",
		},
		[]string{"gate_rule_id"},
	)

	IntegrationAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tascade",
			Subsystem: "integration",
			Name:      "attempts_total",
			Help:      "Total number of integration attempts resolved, by status.",
		},
		[]string{"status"},
	)

	ChangeSetsApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tascade",
			Subsystem: "changeset",
			Name:      "applied_total",
			Help:      "Total number of plan changesets applied, by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		ReadyQueueDepth,
		ActiveLeases,
		LeaseExpirations,
		SchedulerLatency,
		GateBacklog,
		IntegrationAttempts,
		ChangeSetsApplied,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordIntegrationAttempt records a resolved integration attempt outcome.
func RecordIntegrationAttempt(status string) {
	IntegrationAttempts.WithLabelValues(status).Inc()
}

// RecordChangeSetApplied records a changeset apply outcome.
func RecordChangeSetApplied(outcome string) {
	ChangeSetsApplied.WithLabelValues(outcome).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses path parameters into a stable label to keep
// cardinality bounded, mirroring the /v1/{resource}/{id} shape of the
// coordinator's REST surface.
func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	for i, p := range parts {
		if i > 0 && looksLikeID(p) {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

func looksLikeID(s string) bool {
	if len(s) < 8 {
		return false
	}
	for _, r := range s {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f' || r == '-') {
			return false
		}
	}
	return true
}
