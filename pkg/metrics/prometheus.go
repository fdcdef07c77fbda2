// Package metrics provides Prometheus metrics for the visibility ranking service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector of the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Ranking
	recalculations   *prometheus.CounterVec
	recalcErrors     prometheus.Counter
	scoringLatency   prometheus.Histogram
	finalScore       *prometheus.HistogramVec
	suppressedScores prometheus.Counter
	trackedCreators  prometheus.Gauge

	// Score store
	storeLatency *prometheus.HistogramVec

	// Sweep
	sweepDuration  prometheus.Histogram
	sweepProcessed prometheus.Counter
	sweepErrors    prometheus.Counter
	sweepLastUnix  prometheus.Gauge

	// Config
	configCache       *prometheus.CounterVec
	auditEntries      *prometheus.CounterVec
	activeExperiments prometheus.Gauge

	// Queue and workers
	queueSize     prometheus.Gauge
	queueCapacity prometheus.Gauge
	queueEnqueued prometheus.Counter
	queueDropped  prometheus.Counter
	workerCount   prometheus.Gauge
	workerActive  prometheus.Gauge
	workerLatency prometheus.Histogram
	workerErrors  prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByComponent *prometheus.CounterVec
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // singleton registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "visibility",
		subsystem:        "ranking",
		histogramBuckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	b := m.histogramBuckets

	m.recalculations = m.counterVec("recalculations_total", "Creator score recalculations by trigger", "trigger")
	m.recalcErrors = m.counter("recalculation_errors_total", "Failed creator score recalculations")
	m.scoringLatency = m.histogram("scoring_latency_milliseconds", "Time to resolve config and score one creator", b)
	m.finalScore = m.histogramVec("final_score", "Distribution of final surface scores", prometheus.LinearBuckets(0, 10, 11), "surface")
	m.suppressedScores = m.counter("suppressed_scores_total", "Scores whose safety multiplier was auto-suppressed")
	m.trackedCreators = m.gauge("tracked_creators", "Creators with a persisted score")

	m.storeLatency = m.histogramVec("store_latency_milliseconds", "Score store operation latency", b, "operation")

	m.sweepDuration = m.histogram("sweep_duration_seconds", "Duration of the full recalculation sweep", prometheus.ExponentialBuckets(0.01, 4, 10))
	m.sweepProcessed = m.counter("sweep_processed_total", "Creators processed by sweeps")
	m.sweepErrors = m.counter("sweep_errors_total", "Creators that failed during sweeps")
	m.sweepLastUnix = m.gauge("sweep_last_completed_unix", "Unix time of the last completed sweep")

	m.configCache = m.counterVec("config_cache_total", "Resolved config cache lookups", "result")
	m.auditEntries = m.counterVec("audit_entries_total", "Audit log entries written", "action")
	m.activeExperiments = m.gauge("active_experiments", "Experiments currently active")

	m.queueSize = m.gauge("queue_size", "Pending metric changes in the recalculation queue")
	m.queueCapacity = m.gauge("queue_capacity", "Capacity of the recalculation queue")
	m.queueEnqueued = m.counter("queue_enqueued_total", "Metric changes accepted by the queue")
	m.queueDropped = m.counter("queue_dropped_total", "Metric changes rejected because the queue was full")
	m.workerCount = m.gauge("worker_count", "Configured recalculation workers")
	m.workerActive = m.gauge("worker_active", "Workers currently processing a change")
	m.workerLatency = m.histogram("worker_processing_latency_milliseconds", "Worker time per metric change", b)
	m.workerErrors = m.counter("worker_errors_total", "Metric changes a worker failed to process")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint, method and status", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", b, "endpoint", "method", "status_code")

	m.errorsByComponent = m.counterVec("errors_total", "Errors by component and type", "component", "type")
}

// RecordRecalculation counts one successful recalculation.
func RecordRecalculation(trigger string) {
	globalManager.recalculations.WithLabelValues(trigger).Inc()
}

// RecordRecalculationError counts one failed recalculation.
func RecordRecalculationError() { globalManager.recalcErrors.Inc() }

// RecordScoringLatency records scoring latency in milliseconds.
func RecordScoringLatency(latencyMs float64) { globalManager.scoringLatency.Observe(latencyMs) }

// RecordFinalScore observes a final score for surface.
func RecordFinalScore(surface string, score float64) {
	globalManager.finalScore.WithLabelValues(surface).Observe(score)
}

// RecordSuppressed counts an auto-suppressed score.
func RecordSuppressed() { globalManager.suppressedScores.Inc() }

// UpdateTrackedCreators sets the number of creators with a score.
func UpdateTrackedCreators(n int) { globalManager.trackedCreators.Set(float64(n)) }

// RecordStoreLatency records a score store operation latency.
func RecordStoreLatency(operation string, latencyMs float64) {
	globalManager.storeLatency.WithLabelValues(operation).Observe(latencyMs)
}

// RecordSweep records a finished sweep.
func RecordSweep(durationSeconds float64, processed, errors int, finishedUnix int64) {
	globalManager.sweepDuration.Observe(durationSeconds)
	globalManager.sweepProcessed.Add(float64(processed))
	globalManager.sweepErrors.Add(float64(errors))
	globalManager.sweepLastUnix.Set(float64(finishedUnix))
}

// RecordConfigCache records a cache hit or miss.
func RecordConfigCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	globalManager.configCache.WithLabelValues(result).Inc()
}

// RecordAuditEntry counts an audit entry by action.
func RecordAuditEntry(action string) { globalManager.auditEntries.WithLabelValues(action).Inc() }

// UpdateActiveExperiments sets the active experiment gauge.
func UpdateActiveExperiments(n int) { globalManager.activeExperiments.Set(float64(n)) }

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// RecordQueueEnqueue counts an accepted change.
func RecordQueueEnqueue() { globalManager.queueEnqueued.Inc() }

// RecordQueueDropped counts a change rejected by a full queue.
func RecordQueueDropped() { globalManager.queueDropped.Inc() }

// UpdateWorkerCount sets the configured worker count.
func UpdateWorkerCount(count int) { globalManager.workerCount.Set(float64(count)) }

// UpdateWorkerActiveCount sets the number of busy workers.
func UpdateWorkerActiveCount(count int) { globalManager.workerActive.Set(float64(count)) }

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) { globalManager.workerLatency.Observe(latencyMs) }

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() { globalManager.workerErrors.Inc() }

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
