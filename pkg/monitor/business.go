package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics 定义业务监控指标
type BusinessMetrics struct {
	ActionsEnqueuedTotal *prometheus.CounterVec
	ActionsResolvedTotal *prometheus.CounterVec // label: terminal status
	TxSubmittedTotal     *prometheus.CounterVec // label: kind (native/token/contract)
	TxConfirmedTotal     prometheus.Counter
	NonceResyncTotal     prometheus.Counter
	UnlockFailedTotal    prometheus.Counter
	QueueDepth           prometheus.Gauge
}

// Global Metrics Instance
var Business *BusinessMetrics

// InitBusinessMetrics 初始化业务指标
func InitBusinessMetrics() {
	Business = &BusinessMetrics{
		ActionsEnqueuedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_actions_enqueued_total",
			Help: "Total number of actions added to the approval queue",
		}, []string{"kind"}),
		ActionsResolvedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_actions_resolved_total",
			Help: "Total number of actions reaching a terminal state",
		}, []string{"status"}),
		TxSubmittedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_tx_submitted_total",
			Help: "Total number of transactions broadcast to the ledger",
		}, []string{"kind"}),
		TxConfirmedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wallet_tx_confirmed_total",
			Help: "Total number of transactions seen mined",
		}),
		NonceResyncTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wallet_nonce_resync_total",
			Help: "Total number of nonce resynchronizations",
		}),
		UnlockFailedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wallet_unlock_failed_total",
			Help: "Total number of failed unlock attempts",
		}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "wallet_action_queue_depth",
			Help: "Number of non-terminal actions in the queue",
		}),
	}
}
