package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TransactionMetrics records outcomes of ledger operations.
type TransactionMetrics struct {
	duration *prometheus.HistogramVec
	created  *prometheus.CounterVec
	rejected *prometheus.CounterVec
	points   *prometheus.CounterVec
}

// NewTransactionMetrics registers the transaction metrics on the provided registerer.
func NewTransactionMetrics(reg prometheus.Registerer) *TransactionMetrics {
	if reg == nil {
		return &TransactionMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "transaction_duration_seconds",
		Help:    "Duration of transaction processing in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})
	created := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "transactions_created_total",
		Help: "Committed ledger transactions by type.",
	}, []string{"type"})
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "transactions_rejected_total",
		Help: "Rejected transaction requests by type and error code.",
	}, []string{"type", "code"})
	points := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "points_moved_total",
		Help: "Absolute points moved through the ledger by type.",
	}, []string{"type"})
	reg.MustRegister(duration, created, rejected, points)
	return &TransactionMetrics{
		duration: duration,
		created:  created,
		rejected: rejected,
		points:   points,
	}
}

// ObserveDuration records processing time for the given transaction type.
func (m *TransactionMetrics) ObserveDuration(txType string, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(txType)).Observe(duration.Seconds())
}

// IncCreated counts a committed transaction.
func (m *TransactionMetrics) IncCreated(txType string) {
	if m == nil || m.created == nil {
		return
	}
	m.created.WithLabelValues(normalizeLabel(txType)).Inc()
}

// IncRejected counts a rejected transaction request.
func (m *TransactionMetrics) IncRejected(txType, code string) {
	if m == nil || m.rejected == nil {
		return
	}
	m.rejected.WithLabelValues(normalizeLabel(txType), normalizeLabel(code)).Inc()
}

// AddPoints accumulates the absolute point volume for the given type.
func (m *TransactionMetrics) AddPoints(txType string, amount int) {
	if m == nil || m.points == nil {
		return
	}
	if amount < 0 {
		amount = -amount
	}
	m.points.WithLabelValues(normalizeLabel(txType)).Add(float64(amount))
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
