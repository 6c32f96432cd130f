package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector provides application metrics collection
type Collector struct {
	// API Metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec
	APIErrorsTotal     *prometheus.CounterVec

	// Dataset upload metrics
	UploadRowsTotal        *prometheus.CounterVec
	UploadDuration         prometheus.Histogram
	UploadRejectionsTotal  *prometheus.CounterVec
	ActivationsTotal       *prometheus.CounterVec

	// Calculation metrics
	CalculationsTotal    *prometheus.CounterVec
	CalculationDuration  prometheus.Histogram
	LookupMissesTotal    *prometheus.CounterVec
	BoundaryClampsTotal  prometheus.Counter
	RunPersistFailures   prometheus.Counter

	// Environmental provider metrics
	ProviderRequestDuration *prometheus.HistogramVec
	ProviderFailuresTotal   *prometheus.CounterVec

	// Database Metrics
	DBQueryDuration  *prometheus.HistogramVec
	DBConnectionPool *prometheus.GaugeVec
	DBErrorsTotal    *prometheus.CounterVec

	// System Metrics
	ActiveConnections prometheus.Gauge
}

// NewCollector creates a new metrics collector
func NewCollector(namespace string) *Collector {
	return &Collector{
		APIRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of API requests by endpoint, method, and status",
			},
			[]string{"endpoint", "method", "status"},
		),

		APIRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1.0, 2.0, 5.0},
			},
			[]string{"endpoint"},
		),

		APIErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_errors_total",
				Help:      "Total number of API errors by type",
			},
			[]string{"error_type", "endpoint"},
		),

		UploadRowsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upload_rows_accepted_total",
				Help:      "Total number of dataset rows accepted by dataset type",
			},
			[]string{"dataset_type"},
		),

		UploadDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upload_duration_seconds",
				Help:      "Duration of dataset upload processing in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
		),

		UploadRejectionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upload_rejections_total",
				Help:      "Total number of dataset uploads rejected by dataset type",
			},
			[]string{"dataset_type"},
		),

		ActivationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "version_activations_total",
				Help:      "Total number of version activations by entity",
			},
			[]string{"entity"},
		),

		CalculationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "calculations_total",
				Help:      "Total number of dose calculations by outcome",
			},
			[]string{"outcome"},
		),

		CalculationDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "calculation_duration_seconds",
				Help:      "Duration of dose calculations in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.5, 1.0, 5.0, 15.0},
			},
		),

		LookupMissesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lookup_misses_total",
				Help:      "Total number of reference table lookup misses by table",
			},
			[]string{"table"},
		),

		BoundaryClampsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "depth_boundary_clamps_total",
				Help:      "Total number of depth lookups clamped to the table boundary",
			},
		),

		RunPersistFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "run_persist_failures_total",
				Help:      "Total number of calculation runs that could not be recorded",
			},
		),

		ProviderRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_request_duration_seconds",
				Help:      "Duration of external provider requests in seconds",
				Buckets:   []float64{0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10},
			},
			[]string{"provider"},
		),

		ProviderFailuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_failures_total",
				Help:      "Total number of external provider failures by provider",
			},
			[]string{"provider"},
		),

		DBQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "db_query_duration_seconds",
				Help:      "Database query duration in seconds by query type",
				Buckets:   []float64{0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5},
			},
			[]string{"query_type"},
		),

		DBConnectionPool: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connection_pool",
				Help:      "Database connection pool statistics",
			},
			[]string{"state"}, // "in_use", "idle", "total"
		),

		DBErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_errors_total",
				Help:      "Total number of database errors by type",
			},
			[]string{"error_type"},
		),

		ActiveConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_connections",
				Help:      "Number of active client connections",
			},
		),
	}
}

// Timer provides timing functionality for operations
type Timer struct {
	start    time.Time
	observer prometheus.Observer
}

// NewTimer creates a new timer
func (c *Collector) NewTimer(histogram prometheus.Observer) *Timer {
	return &Timer{
		start:    time.Now(),
		observer: histogram,
	}
}

// ObserveDuration records the elapsed time since timer creation
func (t *Timer) ObserveDuration() time.Duration {
	duration := time.Since(t.start)
	if t.observer != nil {
		t.observer.Observe(duration.Seconds())
	}
	return duration
}

// RecordAPIRequest increments API request counter
func (c *Collector) RecordAPIRequest(endpoint, method, status string) {
	c.APIRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

// RecordAPIError increments API error counter
func (c *Collector) RecordAPIError(errorType, endpoint string) {
	c.APIErrorsTotal.WithLabelValues(errorType, endpoint).Inc()
}

// RecordUploadRejection increments the upload rejection counter
func (c *Collector) RecordUploadRejection(datasetType string) {
	c.UploadRejectionsTotal.WithLabelValues(datasetType).Inc()
}

// RecordActivation increments the activation counter for an entity
func (c *Collector) RecordActivation(entity string) {
	c.ActivationsTotal.WithLabelValues(entity).Inc()
}

// RecordCalculation increments the calculation counter for an outcome
func (c *Collector) RecordCalculation(outcome string) {
	c.CalculationsTotal.WithLabelValues(outcome).Inc()
}

// RecordLookupMiss increments the lookup miss counter for a table
func (c *Collector) RecordLookupMiss(table string) {
	c.LookupMissesTotal.WithLabelValues(table).Inc()
}

// RecordProviderFailure increments the provider failure counter
func (c *Collector) RecordProviderFailure(provider string) {
	c.ProviderFailuresTotal.WithLabelValues(provider).Inc()
}

// RecordDBError increments database error counter
func (c *Collector) RecordDBError(errorType string) {
	c.DBErrorsTotal.WithLabelValues(errorType).Inc()
}

// UpdateDBConnectionPool updates database connection pool metrics
func (c *Collector) UpdateDBConnectionPool(inUse, idle, total int) {
	c.DBConnectionPool.WithLabelValues("in_use").Set(float64(inUse))
	c.DBConnectionPool.WithLabelValues("idle").Set(float64(idle))
	c.DBConnectionPool.WithLabelValues("total").Set(float64(total))
}
