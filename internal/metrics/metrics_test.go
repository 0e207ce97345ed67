package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSwapIsSingleton(t *testing.T) {
	require.Same(t, Swap(), Swap())
}

func TestCounters(t *testing.T) {
	m := newSwapMetrics()

	m.ObservePoll("evm", nil)
	m.ObservePoll("evm", errors.New("down"))
	m.ObservePoll("evm", errors.New("down"))
	require.Equal(t, 1.0, testutil.ToFloat64(m.polls.WithLabelValues("evm", "ok")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.polls.WithLabelValues("evm", "error")))

	m.ObserveDisclosure(true)
	m.ObserveDisclosure(false)
	m.ObserveDisclosure(false)
	require.Equal(t, 1.0, testutil.ToFloat64(m.disclosures.WithLabelValues("new")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.disclosures.WithLabelValues("redelivered")))

	m.ObserveStatus("")
	require.Equal(t, 1.0, testutil.ToFloat64(m.statuses.WithLabelValues("unknown")))

	m.SetActive(3)
	require.Equal(t, 3.0, testutil.ToFloat64(m.active))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *SwapMetrics
	m.ObservePoll("evm", nil)
	m.ObserveTransition("evm", "source", "funded")
	m.ObserveDisclosure(true)
	m.ObserveStatus("completed")
	m.ObserveJournal("withdraw", "ok")
	m.SetActive(1)
}
