package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type DirectMetrics struct {
	initiated      *prometheus.CounterVec
	completed      *prometheus.CounterVec
	refunded       *prometheus.CounterVec
	rejected       *prometheus.CounterVec
	escrowedAmount *prometheus.GaugeVec
	feeCollected   prometheus.Counter
}

var (
	directOnce     sync.Once
	directRegistry *DirectMetrics
)

func Direct() *DirectMetrics {
	directOnce.Do(func() {
		directRegistry = &DirectMetrics{
			initiated: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "direct_transactions_initiated_total",
				Help: "Count of fiat settlement transactions moved into escrow by token.",
			}, []string{"token"}),
			completed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "direct_transactions_completed_total",
				Help: "Count of settled transactions by token.",
			}, []string{"token"}),
			refunded: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "direct_transactions_refunded_total",
				Help: "Count of refunded transactions by token.",
			}, []string{"token"}),
			rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "direct_operations_rejected_total",
				Help: "Count of rejected module operations by error code.",
			}, []string{"code"}),
			escrowedAmount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "direct_escrowed_amount",
				Help: "Token units currently held by the escrow account per token.",
			}, []string{"token"}),
			feeCollected: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "direct_fees_collected_total",
				Help: "Cumulative spread fee units routed to the fee receiver.",
			}),
		}
		prometheus.MustRegister(
			directRegistry.initiated,
			directRegistry.completed,
			directRegistry.refunded,
			directRegistry.rejected,
			directRegistry.escrowedAmount,
			directRegistry.feeCollected,
		)
	})
	return directRegistry
}

func (m *DirectMetrics) ObserveInitiated(token string) {
	if m == nil {
		return
	}
	if token == "" {
		token = "unknown"
	}
	m.initiated.WithLabelValues(token).Inc()
}

func (m *DirectMetrics) ObserveCompleted(token string) {
	if m == nil {
		return
	}
	if token == "" {
		token = "unknown"
	}
	m.completed.WithLabelValues(token).Inc()
}

func (m *DirectMetrics) ObserveRefunded(token string) {
	if m == nil {
		return
	}
	if token == "" {
		token = "unknown"
	}
	m.refunded.WithLabelValues(token).Inc()
}

func (m *DirectMetrics) ObserveRejected(code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "unknown"
	}
	m.rejected.WithLabelValues(code).Inc()
}

func (m *DirectMetrics) SetEscrowedAmount(token string, amount float64) {
	if m == nil {
		return
	}
	if token == "" {
		token = "unknown"
	}
	m.escrowedAmount.WithLabelValues(token).Set(amount)
}

func (m *DirectMetrics) AddFeeCollected(amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	m.feeCollected.Add(amount)
}
