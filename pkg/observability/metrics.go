package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
//
// Every recording method is safe to call on a nil *Metrics, so components
// built without metrics need no guards.
type Metrics struct {
	// HTTP metrics (ops server)
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Graph store metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec
	StoreErrorsTotal       *prometheus.CounterVec

	// Relation type cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Authorization metrics
	AuthzDecisionsTotal    *prometheus.CounterVec
	ConfigurationGapsTotal *prometheus.CounterVec

	// Workflow metrics
	WorkflowTransitionsTotal *prometheus.CounterVec

	// Mirror metrics
	MirrorEventsTotal     *prometheus.CounterVec
	MirrorPublishDuration *prometheus.HistogramVec
	MirrorQueueDepth      prometheus.Gauge

	// Database pool metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	otel *OTelMetrics
}

// WithOTel makes every recording method also record on o.
func (m *Metrics) WithOTel(o *OTelMetrics) *Metrics {
	m.otel = o
	return m
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quorum_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quorum_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		StoreOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quorum_store_operations_total",
				Help: "Total number of graph store operations",
			},
			[]string{"operation", "status"},
		),
		StoreOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quorum_store_operation_duration_seconds",
				Help:    "Graph store operation duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation"},
		),
		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quorum_store_errors_total",
				Help: "Total number of graph store errors",
			},
			[]string{"operation"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quorum_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quorum_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type"},
		),

		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quorum_authz_decisions_total",
				Help: "Total number of authorization decisions",
			},
			[]string{"resolver", "decision"},
		),
		ConfigurationGapsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quorum_configuration_gaps_total",
				Help: "Total number of lookups that hit missing graph configuration",
			},
			[]string{"kind"},
		),

		WorkflowTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quorum_workflow_transitions_total",
				Help: "Total number of workflow transition validations",
			},
			[]string{"scope", "result"},
		),

		MirrorEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quorum_mirror_events_total",
				Help: "Total number of graph mirror events",
			},
			[]string{"kind", "result"},
		),
		MirrorPublishDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quorum_mirror_publish_duration_seconds",
				Help:    "Mirror publish duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"publisher"},
		),
		MirrorQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "quorum_mirror_queue_depth",
				Help: "Number of mirror events waiting for a worker",
			},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "quorum_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "quorum_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.StoreOperationsTotal,
		m.StoreOperationDuration,
		m.StoreErrorsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.AuthzDecisionsTotal,
		m.ConfigurationGapsTotal,
		m.WorkflowTransitionsTotal,
		m.MirrorEventsTotal,
		m.MirrorPublishDuration,
		m.MirrorQueueDepth,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// ObserveStoreOp records one graph store operation.
func (m *Metrics) ObserveStoreOp(op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		m.StoreErrorsTotal.WithLabelValues(op).Inc()
	}
	m.StoreOperationsTotal.WithLabelValues(op, status).Inc()
	m.StoreOperationDuration.WithLabelValues(op).Observe(d.Seconds())
	if m.otel != nil {
		m.otel.RecordStoreOperation(context.Background(), op, d, err)
	}
}

// RelationTypeCacheHit records a relation type cache hit.
func (m *Metrics) RelationTypeCacheHit() {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues("relation_type").Inc()
	if m.otel != nil {
		m.otel.RecordCacheHit(context.Background(), "relation_type")
	}
}

// RelationTypeCacheMiss records a relation type cache miss.
func (m *Metrics) RelationTypeCacheMiss() {
	if m == nil {
		return
	}
	m.CacheMissesTotal.WithLabelValues("relation_type").Inc()
	if m.otel != nil {
		m.otel.RecordCacheMiss(context.Background(), "relation_type")
	}
}

// AuthzDecision records an allow/deny from a resolver ("rbac", "abac", "guard").
func (m *Metrics) AuthzDecision(resolver string, allowed bool) {
	if m == nil {
		return
	}
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	m.AuthzDecisionsTotal.WithLabelValues(resolver, decision).Inc()
	if m.otel != nil {
		m.otel.RecordAuthzDecision(context.Background(), resolver, allowed)
	}
}

// ConfigGap records a lookup that found no configuration of the given kind.
func (m *Metrics) ConfigGap(kind string) {
	if m == nil {
		return
	}
	m.ConfigurationGapsTotal.WithLabelValues(kind).Inc()
	if m.otel != nil {
		m.otel.RecordConfigurationGap(context.Background(), kind)
	}
}

// WorkflowTransition records a transition validation result such as
// "allowed", "undefined", "denied" or "condition_unmet".
func (m *Metrics) WorkflowTransition(scope, result string) {
	if m == nil {
		return
	}
	m.WorkflowTransitionsTotal.WithLabelValues(scope, result).Inc()
	if m.otel != nil {
		m.otel.RecordWorkflowTransition(context.Background(), scope, result)
	}
}

// MirrorEvent records a mirror event outcome such as "published", "failed"
// or "dropped".
func (m *Metrics) MirrorEvent(kind, result string) {
	if m == nil {
		return
	}
	m.MirrorEventsTotal.WithLabelValues(kind, result).Inc()
	if m.otel != nil {
		m.otel.RecordMirrorEvent(context.Background(), kind, result)
	}
}

// ObserveMirrorPublish records how long a publisher took.
func (m *Metrics) ObserveMirrorPublish(publisher string, d time.Duration) {
	if m == nil {
		return
	}
	m.MirrorPublishDuration.WithLabelValues(publisher).Observe(d.Seconds())
	if m.otel != nil {
		m.otel.RecordMirrorPublish(context.Background(), publisher, d)
	}
}

// SetMirrorQueueDepth records the mirror backlog.
func (m *Metrics) SetMirrorQueueDepth(n int) {
	if m == nil {
		return
	}
	m.MirrorQueueDepth.Set(float64(n))
}

// SetDBStats records connection pool gauges.
func (m *Metrics) SetDBStats(active, idle int) {
	if m == nil {
		return
	}
	m.DBConnectionsActive.Set(float64(active))
	m.DBConnectionsIdle.Set(float64(idle))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			status := strconv.Itoa(rw.statusCode)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
