package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestSettlementMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSettlementMetrics(reg)

	m.IncQuote("ok")
	m.IncQuote("ok")
	m.IncQuote("")
	m.IncRateFetch("okx", "error")
	m.IncTransition("pending", "paid")
	m.IncAssignment("smart", true)
	m.IncGuarded("transaction.confirm_all", "pending")

	mfs, err := reg.Gather()
	require.NoError(t, err)

	got, err := fetchCounterValue(mfs, "otcsettle_quotes_total", "result", "ok")
	require.NoError(t, err)
	require.Equal(t, float64(2), got)

	got, err = fetchCounterValue(mfs, "otcsettle_quotes_total", "result", "unknown")
	require.NoError(t, err)
	require.Equal(t, float64(1), got)

	got, err = fetchCounterValue(mfs, "otcsettle_rate_fetches_total", "source", "okx")
	require.NoError(t, err)
	require.Equal(t, float64(1), got)

	got, err = fetchCounterValue(mfs, "otcsettle_transaction_transitions_total", "to", "paid")
	require.NoError(t, err)
	require.Equal(t, float64(1), got)

	got, err = fetchCounterValue(mfs, "otcsettle_agent_assignments_total", "fallback", "true")
	require.NoError(t, err)
	require.Equal(t, float64(1), got)

	got, err = fetchCounterValue(mfs, "otcsettle_guarded_operations_total", "outcome", "pending")
	require.NoError(t, err)
	require.Equal(t, float64(1), got)
}

func TestSettlementMetricsNilSafe(t *testing.T) {
	var m *SettlementMetrics
	m.IncQuote("ok")
	m.IncAssignment("smart", false)

	noop := NewSettlementMetrics(nil)
	noop.IncTransition("paid", "confirmed")
	noop.IncRateFetch("binance", "ok")
}
