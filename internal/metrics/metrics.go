package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Debit results used as the "result" label of DebitsTotal.
const (
	ResultCommitted         = "committed"
	ResultInsufficientFunds = "insufficient_funds"
	ResultNotActive         = "not_active"
	ResultInvalid           = "invalid"
	ResultConflict          = "conflict"
	ResultBusy              = "busy"
	ResultError             = "error"
)

var (
	DebitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "budgetledger",
			Name:      "debits_total",
			Help:      "Proposed debits partitioned by outcome.",
		},
		[]string{"result"},
	)

	DebitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "budgetledger",
			Name:      "debit_duration_seconds",
			Help:      "Time from proposal to commit or rejection, including lock waits.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	NumberRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "budgetledger",
			Name:      "transaction_number_retries_total",
			Help:      "Atomic units retried after a transaction number collision or concurrent update.",
		},
	)

	ApprovalsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "budgetledger",
			Name:      "approvals_total",
			Help:      "Approval annotations written.",
		},
	)

	ReconciliationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "budgetledger",
			Name:      "reconciliations_total",
			Help:      "Allocations reconciled against their transaction log.",
		},
	)

	ReconciliationAnomalies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "budgetledger",
			Name:      "reconciliation_anomalies_total",
			Help:      "Failed reconciliation checks partitioned by check type.",
		},
		[]string{"check"},
	)

	OutboxPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "budgetledger",
			Name:      "outbox_messages_total",
			Help:      "Outbox publish attempts partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "budgetledger",
			Name:      "http_requests_total",
			Help:      "HTTP requests partitioned by status code, method and route.",
		},
		[]string{"code", "method", "route"},
	)
)

var collectors = []prometheus.Collector{
	DebitsTotal,
	DebitDuration,
	NumberRetries,
	ApprovalsTotal,
	ReconciliationsTotal,
	ReconciliationAnomalies,
	OutboxPublished,
	HTTPRequests,
}

// Register adds all collectors to reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("register collector: %w", err)
		}
	}
	return nil
}
