package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "feed_ingest"

// Metrics holds the Prometheus counters, histograms, and gauges for the ingestion service.
type Metrics struct {
	FetchRuns       *prometheus.CounterVec   // labels: client, outcome={success,error}
	FetchItemErrors *prometheus.CounterVec   // labels: client
	FetchDuration   *prometheus.HistogramVec // labels: client
	RowsStored      *prometheus.CounterVec   // labels: client
	StoreFailures   *prometheus.CounterVec   // labels: client, kind={invalid_argument,schema,storage}
	StoreDuration   *prometheus.HistogramVec // labels: client
	LastSuccess     *prometheus.GaugeVec     // labels: client
	SchedulerActive prometheus.Gauge

	// Geocoding cache metrics (OpenWeather).
	GeocodeCache *prometheus.CounterVec // labels: result={hit,miss}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.FetchRuns,
		m.FetchItemErrors,
		m.FetchDuration,
		m.RowsStored,
		m.StoreFailures,
		m.StoreDuration,
		m.LastSuccess,
		m.SchedulerActive,
		m.GeocodeCache,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		FetchRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_runs_total",
			Help:      "Fetch runs by client and outcome.",
		}, []string{"client", "outcome"}),
		FetchItemErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_item_errors_total",
			Help:      "Failed upstream sub-requests recorded as error rows.",
		}, []string{"client"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of a complete client fetch.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"client"}),
		RowsStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_stored_total",
			Help:      "Data rows appended to the table store.",
		}, []string{"client"}),
		StoreFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_failures_total",
			Help:      "Failed store calls by client and error kind.",
		}, []string{"client", "kind"}),
		StoreDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_duration_seconds",
			Help:      "Duration of one store call.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5},
		}, []string{"client"}),
		LastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful fetch-and-store cycle.",
		}, []string{"client"}),
		SchedulerActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_running",
			Help:      "1 when the scheduler is active, 0 when shut down.",
		}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "City geocode cache lookups by result.",
		}, []string{"result"}),
	}
}
