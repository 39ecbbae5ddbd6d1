package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/course-select-api/pkg/jobs"
)

// MetricsService encapsulates Prometheus instrumentation.
type MetricsService struct {
	registry           *prometheus.Registry
	handler            http.Handler
	requestDuration    *prometheus.HistogramVec
	requestTotal       *prometheus.CounterVec
	selectionOutcomes  *prometheus.CounterVec
	txRetries          *prometheus.CounterVec
	broadcastDelivered *prometheus.CounterVec
	broadcastDropped   *prometheus.CounterVec
	subscribers        prometheus.Gauge
	assignmentDuration *prometheus.HistogramVec
	cacheRequests      *prometheus.CounterVec
	cacheLatency       prometheus.Histogram
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	selectionOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "selection_operations_total",
		Help: "Selection operations by outcome",
	}, []string{"operation", "outcome"})

	txRetries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "selection_tx_retries_total",
		Help: "Transactions retried after serialization failure or deadlock",
	}, []string{"operation"})

	broadcastDelivered := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_deliveries_total",
		Help: "Event batches handed to subscribers",
	}, []string{"event"})

	broadcastDropped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_drops_total",
		Help: "Event batches dropped for slow subscribers",
	}, []string{"event"})

	subscribers := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_subscriptions",
		Help: "Current term subscriptions across connections",
	})

	assignmentDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "assignment_run_duration_seconds",
		Help:    "Duration of assignment runs",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
	}, []string{"outcome"})

	cacheRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_requests_total",
		Help: "Cache lookups by result",
	}, []string{"result"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_operation_duration_seconds",
		Help:    "Duration of cache reads and writes",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, selectionOutcomes, txRetries, broadcastDelivered, broadcastDropped, subscribers, assignmentDuration, cacheRequests, cacheLatency, goroutines)

	return &MetricsService{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:    requestDuration,
		requestTotal:       requestTotal,
		selectionOutcomes:  selectionOutcomes,
		txRetries:          txRetries,
		broadcastDelivered: broadcastDelivered,
		broadcastDropped:   broadcastDropped,
		subscribers:        subscribers,
		assignmentDuration: assignmentDuration,
		cacheRequests:      cacheRequests,
		cacheLatency:       cacheLatency,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// ObserveSelection counts a selection operation outcome.
func (m *MetricsService) ObserveSelection(operation, outcome string) {
	if m == nil {
		return
	}
	m.selectionOutcomes.WithLabelValues(operation, outcome).Inc()
}

// ObserveTxRetry counts a retried transaction.
func (m *MetricsService) ObserveTxRetry(operation string) {
	if m == nil {
		return
	}
	m.txRetries.WithLabelValues(operation).Inc()
}

// ObserveBroadcast records fan-out results for one published batch.
func (m *MetricsService) ObserveBroadcast(event string, delivered, dropped int) {
	if m == nil {
		return
	}
	m.broadcastDelivered.WithLabelValues(event).Add(float64(delivered))
	m.broadcastDropped.WithLabelValues(event).Add(float64(dropped))
}

// SetSubscribers publishes the current subscription count.
func (m *MetricsService) SetSubscribers(count int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(count))
}

// ObserveAssignmentRun records how long an assignment run took.
func (m *MetricsService) ObserveAssignmentRun(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.assignmentDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordCacheOperation records a cache lookup as a hit or a miss.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheRequests.WithLabelValues(result).Inc()
	m.cacheLatency.Observe(duration.Seconds())
}

// ObserveCacheWrite tracks the duration of cache writes.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
}

// TrackRealtime exposes the number of live term groups and the broadcast
// dispatcher's counters. Call it once per process.
func (m *MetricsService) TrackRealtime(groups func() int, dispatch func() jobs.Stats) {
	if m == nil {
		return
	}
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "realtime_term_groups",
			Help: "Terms with at least one live subscriber",
		}, func() float64 { return float64(groups()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "realtime_dispatch_pending",
			Help: "Committed batches waiting for delivery",
		}, func() float64 { return float64(dispatch().Pending) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "realtime_dispatch_processed_total",
			Help: "Batches handed to the broadcast sink",
		}, func() float64 { return float64(dispatch().Processed) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "realtime_dispatch_retries_total",
			Help: "Batch deliveries retried after a sink failure",
		}, func() float64 { return float64(dispatch().Retried) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "realtime_dispatch_failures_total",
			Help: "Batches abandoned after exhausting retries",
		}, func() float64 { return float64(dispatch().Failed) }),
	)
}
