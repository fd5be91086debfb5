// Package metrics exposes Prometheus collectors for the ledger.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "token_ledger"
)

// Transaction outcomes used as the status label.
const (
	StatusOK       = "ok"
	StatusNotFound = "not_found"
	StatusError    = "error"
)

var (
	TransactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "accounting",
			Name:      "transactions_total",
			Help:      "Total number of accounting transactions by operation and outcome",
		},
		[]string{"operation", "status"},
	)

	TransactionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "accounting",
			Name:      "transaction_duration_seconds",
			Help:      "Duration of a full load-modify-save cycle, lock wait included",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"operation"},
	)

	TokensRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "usage",
			Name:      "tokens_total",
			Help:      "Tokens recorded in the usage ledger",
		},
		[]string{"model", "request_type"},
	)

	CostRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "usage",
			Name:      "cost_usd_total",
			Help:      "Cost in USD recorded in the usage ledger",
		},
		[]string{"model"},
	)

	AccountsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "accounting",
			Name:      "accounts_created_total",
			Help:      "Accounts created by bootstrap or auto-provisioning",
		},
	)

	BackupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "runs_total",
			Help:      "Snapshot backup attempts by outcome",
		},
		[]string{"status"},
	)
)

// RecordTransaction counts one finished transaction.
func RecordTransaction(operation, status string, seconds float64) {
	TransactionsTotal.WithLabelValues(operation, status).Inc()
	TransactionDuration.WithLabelValues(operation).Observe(seconds)
}

// MaxLabelValues caps the distinct caller-supplied values per label. Later
// values are reported as OtherLabelValue.
const (
	MaxLabelValues  = 50
	OtherLabelValue = "other"
)

// labelSet admits the first MaxLabelValues distinct values it sees.
type labelSet struct {
	mu     sync.Mutex
	max    int
	values map[string]struct{}
}

func newLabelSet(max int) *labelSet {
	return &labelSet{max: max, values: make(map[string]struct{})}
}

func (l *labelSet) bound(value string) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.values[value]; ok {
		return value
	}
	if len(l.values) >= l.max {
		return OtherLabelValue
	}
	l.values[value] = struct{}{}
	return value
}

var (
	modelLabels       = newLabelSet(MaxLabelValues)
	requestTypeLabels = newLabelSet(MaxLabelValues)
)

// RecordUsage adds a ledger entry's tokens and cost. Negative amounts are
// skipped because Prometheus counters cannot decrease.
func RecordUsage(model, requestType string, tokens int64, cost float64) {
	model = modelLabels.bound(model)
	requestType = requestTypeLabels.bound(requestType)

	if tokens > 0 {
		TokensRecordedTotal.WithLabelValues(model, requestType).Add(float64(tokens))
	}
	if cost > 0 {
		CostRecordedTotal.WithLabelValues(model).Add(cost)
	}
}
