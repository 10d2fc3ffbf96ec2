package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/odyssey-erp/kitledger/internal/inventory"
)

// LedgerMetrics counts ledger postings and write conflicts.
type LedgerMetrics struct {
	postings   *prometheus.CounterVec
	units      *prometheus.CounterVec
	retries    *prometheus.CounterVec
	mismatches prometheus.Counter
}

// NewLedgerMetrics registers ledger collectors against registerer.
func NewLedgerMetrics(registerer prometheus.Registerer) *LedgerMetrics {
	postings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kitledger_ledger_postings_total",
		Help: "Committed ledger transactions by type.",
	}, []string{"type"})
	units := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kitledger_ledger_units_total",
		Help: "Absolute quantity moved by committed transactions, by type.",
	}, []string{"type"})
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kitledger_conflict_retries_total",
		Help: "Units of work re-run after a serialization conflict.",
	}, []string{"op"})
	mismatches := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kitledger_ledger_mismatches_total",
		Help: "Balances that disagreed with their replayed ledger.",
	})
	registerer.MustRegister(postings, units, retries, mismatches)
	return &LedgerMetrics{postings: postings, units: units, retries: retries, mismatches: mismatches}
}

// PostingsCommitted implements inventory.PostingObserver.
func (m *LedgerMetrics) PostingsCommitted(ctx context.Context, txs []inventory.Transaction) {
	if m == nil {
		return
	}
	for _, t := range txs {
		m.postings.WithLabelValues(string(t.Type)).Inc()
		qty := t.QuantityDelta
		if qty < 0 {
			qty = -qty
		}
		m.units.WithLabelValues(string(t.Type)).Add(float64(qty))
	}
}

// RetryHook returns a db.RetryPolicy OnRetry callback counting retries of op.
func (m *LedgerMetrics) RetryHook(op string) func(attempt int, err error) {
	return func(int, error) {
		if m != nil {
			m.retries.WithLabelValues(op).Inc()
		}
	}
}

// AddMismatches records balances found out of step with the ledger.
func (m *LedgerMetrics) AddMismatches(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.mismatches.Add(float64(n))
}
