package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics counts the business outcomes of the settlement core.
type SettlementMetrics struct {
	quotes        *prometheus.CounterVec
	rateFetches   *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	assignments   *prometheus.CounterVec
	confirmations *prometheus.CounterVec
}

// NewSettlementMetrics registers the settlement metrics on the provided registerer.
// A nil registerer yields a recorder whose methods are no-ops.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	m := &SettlementMetrics{
		quotes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quotes_total",
			Help:      "Settlement quotes by result (ok or error code).",
		}, []string{"result"}),
		rateFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_fetches_total",
			Help:      "Market quote fetches per rate source and outcome.",
		}, []string{"source", "outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transaction_transitions_total",
			Help:      "Applied transaction status transitions.",
		}, []string{"from", "to"}),
		assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_assignments_total",
			Help:      "Agent assignments by method and whether the fallback path was taken.",
		}, []string{"method", "fallback"}),
		confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guarded_operations_total",
			Help:      "Confirmation guard outcomes per operation kind.",
		}, []string{"kind", "outcome"}),
	}
	reg.MustRegister(m.quotes, m.rateFetches, m.transitions, m.assignments, m.confirmations)
	return m
}

func (m *SettlementMetrics) IncQuote(result string) {
	if m == nil || m.quotes == nil {
		return
	}
	m.quotes.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *SettlementMetrics) IncRateFetch(source, outcome string) {
	if m == nil || m.rateFetches == nil {
		return
	}
	m.rateFetches.WithLabelValues(normalizeLabel(source), normalizeLabel(outcome)).Inc()
}

func (m *SettlementMetrics) IncTransition(from, to string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to)).Inc()
}

func (m *SettlementMetrics) IncAssignment(method string, fallback bool) {
	if m == nil || m.assignments == nil {
		return
	}
	m.assignments.WithLabelValues(normalizeLabel(method), strconv.FormatBool(fallback)).Inc()
}

func (m *SettlementMetrics) IncGuarded(kind, outcome string) {
	if m == nil || m.confirmations == nil {
		return
	}
	m.confirmations.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
}
