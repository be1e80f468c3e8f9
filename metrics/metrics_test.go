package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettlementMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSettlementMetrics(reg)

	m.ObserveTransition("approve", nil)
	m.ObserveTransition("approve", nil)
	m.ObserveTransition("complete", errors.New("conflict"))
	m.ObserveDelivery("", nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("approve", ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("complete", ResultFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("unknown", ResultSuccess)))
}

func TestHTTPMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)
	m.ObserveRequest("PATCH", "/api/admin/withdrawals/:id", 200, 120*time.Millisecond)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, mfs, 1)
	assert.Equal(t, "http_request_duration_seconds", mfs[0].GetName())
	assert.Equal(t, uint64(1), mfs[0].GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestNilMetricsAreNoops(t *testing.T) {
	var s *SettlementMetrics
	s.ObserveTransition("approve", nil)
	s.ObserveDelivery("email", nil)

	var h *HTTPMetrics
	h.ObserveRequest("GET", "/", 200, time.Millisecond)

	NewSettlementMetrics(nil).ObserveTransition("approve", nil)
}
