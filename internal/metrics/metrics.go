package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors of the orchestration layer. A nil *Metrics records nothing.
type Metrics struct {
	ledgerReads  *prometheus.CounterVec
	fetches      *prometheus.CounterVec
	transactions *prometheus.CounterVec
	generation   *prometheus.GaugeVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ledgerReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prima",
			Name:      "ledger_reads_total",
			Help:      "Ledger read calls by method and outcome.",
		}, []string{"method", "outcome"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prima",
			Name:      "view_fetches_total",
			Help:      "Invoice list fetches by role and outcome (applied, stale, failed).",
		}, []string{"role", "outcome"}),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prima",
			Name:      "transactions_total",
			Help:      "Primary transactions by intent kind and phase reached.",
		}, []string{"kind", "phase"}),
		generation: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "prima",
			Name:      "view_generation",
			Help:      "Highest applied fetch generation per role.",
		}, []string{"role"}),
	}
	reg.MustRegister(m.ledgerReads, m.fetches, m.transactions, m.generation)
	return m
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) LedgerRead(method string, err error) {
	if m == nil {
		return
	}
	m.ledgerReads.WithLabelValues(method, outcome(err)).Inc()
}

func (m *Metrics) Fetch(role, result string) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(role, result).Inc()
}

func (m *Metrics) Transaction(kind, phase string) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(kind, phase).Inc()
}

func (m *Metrics) Generation(role string, gen uint64) {
	if m == nil {
		return
	}
	m.generation.WithLabelValues(role).Set(float64(gen))
}
