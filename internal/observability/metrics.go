package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type runtimeMetrics struct {
	integrationBuilds *prometheus.CounterVec
	toolSourcesOpen   prometheus.Gauge

	cachedSessions prometheus.Gauge
	sessionLookups *prometheus.CounterVec
	evictions      *prometheus.CounterVec

	turnDuration      prometheus.Histogram
	agentBuildSeconds prometheus.Histogram

	durableWriteFailures prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *runtimeMetrics
)

func getMetrics() *runtimeMetrics {
	metricsOnce.Do(func() {
		m := &runtimeMetrics{
			integrationBuilds: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "integration_builds_total",
					Help: "Tool source construction attempts by transport type and status.",
				},
				[]string{"transport", "status"},
			),
			toolSourcesOpen: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "tool_sources_open",
					Help: "Currently connected server-type tool sources.",
				},
			),
			cachedSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "cached_sessions",
					Help: "Live session records currently cached in memory.",
				},
			),
			sessionLookups: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "session_lookups_total",
					Help: "Session store lookups by result (hit, miss, absent).",
				},
				[]string{"result"},
			),
			evictions: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "session_evictions_total",
					Help: "Session cache removals by reason (idle, explicit, shutdown).",
				},
				[]string{"reason"},
			),
			turnDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "chat_turn_duration_seconds",
					Help:    "End-to-end chat turn duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			agentBuildSeconds: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "agent_build_duration_seconds",
					Help:    "Agent assembly duration in seconds (cache-miss path).",
					Buckets: prometheus.DefBuckets,
				},
			),
			durableWriteFailures: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "durable_write_failures_total",
					Help: "Failed conversation/message writes to the durable store.",
				},
			),
		}

		prometheus.MustRegister(
			m.integrationBuilds,
			m.toolSourcesOpen,
			m.cachedSessions,
			m.sessionLookups,
			m.evictions,
			m.turnDuration,
			m.agentBuildSeconds,
			m.durableWriteFailures,
		)

		metricsInst = m
	})
	return metricsInst
}

// EnsureRegistered forces metric registration. Call once at startup so the
// /metrics endpoint exposes zero-valued series before first use.
func EnsureRegistered() {
	getMetrics()
}

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

// RecordIntegrationBuild records one tool source construction attempt.
func RecordIntegrationBuild(transport, status string) {
	getMetrics().integrationBuilds.WithLabelValues(transport, status).Inc()
}

// AddToolSourcesOpen adjusts the connected tool source gauge.
func AddToolSourcesOpen(delta int) {
	getMetrics().toolSourcesOpen.Add(float64(delta))
}

// SetCachedSessions sets the cached session gauge.
func SetCachedSessions(n int) {
	getMetrics().cachedSessions.Set(float64(n))
}

// RecordSessionLookup records a session store lookup result.
func RecordSessionLookup(result string) {
	getMetrics().sessionLookups.WithLabelValues(result).Inc()
}

// RecordEviction records a session cache removal.
func RecordEviction(reason string) {
	getMetrics().evictions.WithLabelValues(reason).Inc()
}

// RecordTurnDuration records an end-to-end chat turn duration.
func RecordTurnDuration(d time.Duration) {
	getMetrics().turnDuration.Observe(d.Seconds())
}

// RecordAgentBuild records the duration of one agent assembly.
func RecordAgentBuild(d time.Duration) {
	getMetrics().agentBuildSeconds.Observe(d.Seconds())
}

// RecordDurableWriteFailure counts a failed durable store write.
func RecordDurableWriteFailure() {
	getMetrics().durableWriteFailures.Inc()
}
