// Package metrics provides Prometheus metrics for the staffrate kiosk.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sync states reported through the sync_state gauge.
const (
	SyncStatePending = 0
	SyncStateLive    = 1
	SyncStateStale   = 2
)

// Manager manages all Prometheus metrics for the kiosk.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Voting
	votesAccepted *prometheus.CounterVec
	votesRejected *prometheus.CounterVec
	voteLatency   prometheus.Histogram

	// Ledger
	ledgerSize          prometheus.Gauge
	ledgerPersistErrors prometheus.Counter

	// Sync
	snapshotsReceived prometheus.Counter
	snapshotsDropped  prometheus.Counter
	syncLost          prometheus.Counter
	syncState         prometheus.Gauge
	snapshotVersion   prometheus.Gauge

	// Board
	staffTotal    prometheus.Gauge
	leaderAverage prometheus.Gauge
	leaderVotes   prometheus.Gauge

	// Store
	storeLatency *prometheus.HistogramVec
	storeErrors  *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorRateByComponent *prometheus.CounterVec
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "staffrate",
		subsystem:        "kiosk",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		enabled:          true,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // one place for all metric definitions
	auto := promauto.With(m.registry)
	labels := prometheus.Labels(m.customLabels)

	m.votesAccepted = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("votes_accepted_total"),
		Help:        "Votes committed to the rating store, by value",
		ConstLabels: labels,
	}, []string{"value"})

	m.votesRejected = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("votes_rejected_total"),
		Help:        "Votes rejected before or during commit, by reason",
		ConstLabels: labels,
	}, []string{"reason"})

	m.voteLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("vote_latency_milliseconds"),
		Help:        "Time from vote request to store confirmation",
		Buckets:     m.histogramBuckets,
		ConstLabels: labels,
	})

	m.ledgerSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("ledger_size"),
		Help:        "Number of staff members this device has voted for",
		ConstLabels: labels,
	})

	m.ledgerPersistErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("ledger_persist_errors_total"),
		Help:        "Failed writes of the local vote ledger",
		ConstLabels: labels,
	})

	m.snapshotsReceived = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("snapshots_received_total"),
		Help:        "Full snapshots delivered by the sync listener",
		ConstLabels: labels,
	})

	m.snapshotsDropped = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("snapshots_dropped_total"),
		Help:        "Snapshots discarded because they were older than the last delivered one",
		ConstLabels: labels,
	})

	m.syncLost = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("sync_lost_total"),
		Help:        "Times the real-time subscription dropped",
		ConstLabels: labels,
	})

	m.syncState = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("sync_state"),
		Help:        "Subscription state: 0 pending, 1 live, 2 stale",
		ConstLabels: labels,
	})

	m.snapshotVersion = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("snapshot_version"),
		Help:        "Version of the last delivered snapshot",
		ConstLabels: labels,
	})

	m.staffTotal = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("staff_total"),
		Help:        "Staff members in the last snapshot",
		ConstLabels: labels,
	})

	m.leaderAverage = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("leader_average"),
		Help:        "Average rating of the current leader (0 when undetermined)",
		ConstLabels: labels,
	})

	m.leaderVotes = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("leader_votes"),
		Help:        "Vote count of the current leader (0 when undetermined)",
		ConstLabels: labels,
	})

	m.storeLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("store_latency_milliseconds"),
		Help:        "Rating store operation latency",
		Buckets:     m.histogramBuckets,
		ConstLabels: labels,
	}, []string{"backend", "operation"})

	m.storeErrors = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("store_errors_total"),
		Help:        "Rating store operation failures",
		ConstLabels: labels,
	}, []string{"backend", "operation"})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("http_requests_total"),
		Help:        "Total number of HTTP requests by endpoint and method",
		ConstLabels: labels,
	}, []string{"endpoint", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("http_request_duration_milliseconds"),
		Help:        "HTTP request duration in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: labels,
	}, []string{"endpoint", "method", "status_code"})

	m.errorRateByComponent = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("errors_by_component_total"),
		Help:        "Errors by component and type",
		ConstLabels: labels,
	}, []string{"component", "error_type"})
}

// RecordVoteAccepted counts a committed vote.
func RecordVoteAccepted(value string) {
	if !globalManager.enabled {
		return
	}
	globalManager.votesAccepted.WithLabelValues(value).Inc()
}

// RecordVoteRejected counts a rejected vote by reason.
func RecordVoteRejected(reason string) {
	if !globalManager.enabled {
		return
	}
	globalManager.votesRejected.WithLabelValues(reason).Inc()
}

// RecordVoteLatency records vote latency in milliseconds.
func RecordVoteLatency(latencyMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.voteLatency.Observe(latencyMs)
}

// UpdateLedgerSize sets the ledger size gauge.
func UpdateLedgerSize(size int) {
	globalManager.ledgerSize.Set(float64(size))
}

// RecordLedgerPersistError counts a failed ledger write.
func RecordLedgerPersistError() {
	globalManager.ledgerPersistErrors.Inc()
}

// RecordSnapshot counts a delivered snapshot and tracks its version.
func RecordSnapshot(version uint64, staff int) {
	globalManager.snapshotsReceived.Inc()
	globalManager.snapshotVersion.Set(float64(version))
	globalManager.staffTotal.Set(float64(staff))
}

// RecordSnapshotDropped counts an out-of-order snapshot that was discarded.
func RecordSnapshotDropped() {
	globalManager.snapshotsDropped.Inc()
}

// RecordSyncLost counts a dropped subscription.
func RecordSyncLost() {
	globalManager.syncLost.Inc()
}

// UpdateSyncState sets the sync state gauge (see SyncState* constants).
func UpdateSyncState(state int) {
	globalManager.syncState.Set(float64(state))
}

// UpdateLeader sets the leader gauges; pass zeros when undetermined.
func UpdateLeader(average float64, votes int64) {
	globalManager.leaderAverage.Set(average)
	globalManager.leaderVotes.Set(float64(votes))
}

// RecordStoreLatency records a store operation latency in milliseconds.
func RecordStoreLatency(backend, operation string, latencyMs float64) {
	globalManager.storeLatency.WithLabelValues(backend, operation).Observe(latencyMs)
}

// RecordStoreError counts a store operation failure.
func RecordStoreError(backend, operation string) {
	globalManager.storeErrors.WithLabelValues(backend, operation).Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error for a specific component.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// GetRegistry returns the custom Prometheus registry.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
