package upstream

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Session-level Prometheus collectors: three counter
// vectors, each labeled by chain name.
type Metrics struct {
	TransactionsTotal        *prometheus.CounterVec
	NormalizationErrorsTotal *prometheus.CounterVec
	ReconnectsTotal          *prometheus.CounterVec
}

// NewMetrics registers and returns the upstream Session metrics against
// reg. Pass prometheus.DefaultRegisterer for the process-wide registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TransactionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mempool_gateway",
			Subsystem: "upstream",
			Name:      "transactions_total",
			Help:      "Transactions normalized and emitted per chain.",
		}, []string{"chain"}),
		NormalizationErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mempool_gateway",
			Subsystem: "upstream",
			Name:      "normalization_errors_total",
			Help:      "Transactions dropped for failing normalization, per chain.",
		}, []string{"chain"}),
		ReconnectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mempool_gateway",
			Subsystem: "upstream",
			Name:      "reconnects_total",
			Help:      "Upstream reconnect attempts per chain.",
		}, []string{"chain"}),
	}
	reg.MustRegister(m.TransactionsTotal, m.NormalizationErrorsTotal, m.ReconnectsTotal)
	return m
}
