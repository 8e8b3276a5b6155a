package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveRouted("concept", "concepts")
	m.ObserveRouted("concept", "concepts")
	m.ObserveFallback("code", "specialist_unavailable")
	m.ObservePublishFailure("learning.routed")
	m.ObserveSpecialist("concepts-agent", "ok", 120*time.Millisecond)

	require.Equal(t, 2.0, testutil.ToFloat64(m.Routed.WithLabelValues("concept", "concepts")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Fallbacks.WithLabelValues("code", "specialist_unavailable")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.PublishFailures.WithLabelValues("learning.routed")))
	require.Equal(t, 1, testutil.CollectAndCount(m.SpecialistLatency))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.ObserveRouted("concept", "concepts")
		m.ObservePersistFailure("user")
		m.ObserveEvent("learning.response")
	})
}
