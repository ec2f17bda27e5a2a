package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/viralboard/membersync/pkg/membersync"
)

// Metrics implements membersync.Metrics using Prometheus.
type Metrics struct {
	rosterUploadsTotal *prometheus.CounterVec
	rosterRecords      prometheus.Gauge
	reconcileTotal     *prometheus.CounterVec
	reconcileDuration  *prometheus.HistogramVec
	claimsTotal        *prometheus.CounterVec
	noticesTotal       *prometheus.CounterVec
	storageOpsDuration *prometheus.HistogramVec
	storageOpsErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		rosterUploadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "roster_uploads_total",
			Help:      "Total number of roster upload attempts.",
		}, []string{"success"}),

		rosterRecords: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "roster_records",
			Help:      "Number of records in the last accepted roster.",
		}),

		reconcileTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_total",
			Help:      "Total number of reconciliation passes by outcome.",
		}, []string{"outcome"}),

		reconcileDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_duration_seconds",
			Help:      "Latency of reconciliation passes.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),

		claimsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "external_id_claims_total",
			Help:      "Total number of external ID claims by result.",
		}, []string{"result"}),

		noticesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admin_notices_total",
			Help:      "Total number of administrator notice deliveries.",
		}, []string{"kind", "delivered"}),

		storageOpsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_operation_duration_seconds",
			Help:      "Latency of storage operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		storageOpsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operation_errors_total",
			Help:      "Total number of storage operation errors.",
		}, []string{"operation"}),
	}
}

var _ membersync.Metrics = (*Metrics)(nil)

func (m *Metrics) RecordRosterUpload(records int, success bool) {
	m.rosterUploadsTotal.WithLabelValues(strconv.FormatBool(success)).Inc()
	if success {
		m.rosterRecords.Set(float64(records))
	}
}

func (m *Metrics) RecordReconcile(outcome membersync.Outcome, duration time.Duration) {
	m.reconcileTotal.WithLabelValues(string(outcome)).Inc()
	m.reconcileDuration.WithLabelValues(string(outcome)).Observe(duration.Seconds())
}

func (m *Metrics) RecordClaim(result string) {
	m.claimsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordNotice(kind string, delivered bool) {
	m.noticesTotal.WithLabelValues(kind, strconv.FormatBool(delivered)).Inc()
}

func (m *Metrics) RecordStorageOperation(operation string, duration time.Duration, err error) {
	m.storageOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storageOpsErrors.WithLabelValues(operation).Inc()
	}
}

// DefaultMetrics returns a Metrics implementation using the default Prometheus registerer.
func DefaultMetrics(namespace string) *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}
