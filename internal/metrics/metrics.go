package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Analyzer metrics
	Analyses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletsentinel_analyses_total",
			Help: "Total number of analyzer invocations",
		},
		[]string{"analyzer", "status"}, // funding/cluster/baseline, computed/cached/invalid
	)

	AnalysisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "walletsentinel_analysis_duration_seconds",
			Help:    "Duration of analyzer computations",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"analyzer"},
	)

	// Result cache metrics
	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletsentinel_cache_requests_total",
			Help: "Total number of result cache lookups",
		},
		[]string{"cache", "result"}, // hit, miss, stale
	)

	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletsentinel_cache_evictions_total",
			Help: "Total number of entries evicted because the cache was full",
		},
		[]string{"cache"},
	)

	// Score distributions
	SuspicionScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "walletsentinel_funding_suspicion_scores",
			Help:    "Distribution of funding-pattern suspicion scores (0-100)",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)

	CoordinationScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "walletsentinel_coordination_scores",
			Help:    "Distribution of wallet coordination scores (0-100)",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)

	ClustersDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletsentinel_clusters_detected_total",
			Help: "Total number of wallet clusters detected",
		},
		[]string{"type"},
	)

	VolumeAnomalies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletsentinel_volume_anomalies_total",
			Help: "Total number of anomalous market volume observations",
		},
		[]string{"direction"}, // high, low
	)

	// Detection cycle metrics
	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "walletsentinel_cycle_duration_seconds",
			Help:    "Duration of a full detection cycle",
			Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300},
		},
	)

	CycleWallets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "walletsentinel_cycle_wallets",
			Help: "Number of wallets in the most recent cohort",
		},
	)

	// Alert metrics
	AlertsTriggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletsentinel_alerts_triggered_total",
			Help: "Total number of alerts triggered",
		},
		[]string{"kind", "severity"},
	)

	AlertsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletsentinel_alerts_sent_total",
			Help: "Total number of alerts handed to senders",
		},
		[]string{"status"},
	)

	// Database metrics
	DatabaseQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletsentinel_database_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "walletsentinel_database_query_duration_seconds",
			Help:    "Duration of database queries",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	// System health
	HealthChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletsentinel_health_checks_total",
			Help: "Total number of health check requests",
		},
		[]string{"status"},
	)
)

// RecordAnalysis records one analyzer invocation
func RecordAnalysis(analyzer, status string, duration time.Duration) {
	Analyses.WithLabelValues(analyzer, status).Inc()
	if status == "computed" {
		AnalysisDuration.WithLabelValues(analyzer).Observe(duration.Seconds())
	}
}

// RecordCacheLookup records a result cache lookup outcome
func RecordCacheLookup(cache, result string) {
	CacheRequests.WithLabelValues(cache, result).Inc()
}

// RecordCacheEviction records entries pushed out by the size bound
func RecordCacheEviction(cache string, n int) {
	if n > 0 {
		CacheEvictions.WithLabelValues(cache).Add(float64(n))
	}
}

// RecordSuspicionScore records a freshly computed funding suspicion score
func RecordSuspicionScore(score float64) {
	SuspicionScores.Observe(score)
}

// RecordCoordinationScore records a freshly computed wallet coordination score
func RecordCoordinationScore(score float64) {
	CoordinationScores.Observe(score)
}

// RecordCluster records a detected cluster
func RecordCluster(clusterType string) {
	ClustersDetected.WithLabelValues(clusterType).Inc()
}

// RecordVolumeAnomaly records an anomalous volume observation
func RecordVolumeAnomaly(high bool) {
	direction := "low"
	if high {
		direction = "high"
	}
	VolumeAnomalies.WithLabelValues(direction).Inc()
}

// RecordCycle records a completed detection cycle
func RecordCycle(duration time.Duration, wallets int) {
	CycleDuration.Observe(duration.Seconds())
	CycleWallets.Set(float64(wallets))
}

// RecordAlert records an alert and its delivery outcome
func RecordAlert(kind, severity string, err error) {
	AlertsTriggered.WithLabelValues(kind, severity).Inc()
	status := "success"
	if err != nil {
		status = "error"
	}
	AlertsSent.WithLabelValues(status).Inc()
}

// RecordDatabaseQuery records database query metrics
func RecordDatabaseQuery(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	DatabaseQueries.WithLabelValues(operation, status).Inc()
	DatabaseQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordHealthCheck records health check status
func RecordHealthCheck(healthy bool) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	HealthChecks.WithLabelValues(status).Inc()
}
