package observability_test

import (
	"errors"
	"testing"
	"time"

	"github.com/aretw0/wadialog/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := observability.NewMetrics(reg)
	require.NoError(t, err)

	m.TurnCompleted("processed")
	m.TurnCompleted("processed")
	m.MessageDropped(observability.DropDebounced)
	m.ObserveHook("greet", 10*time.Millisecond, nil)
	m.ObserveHook("greet", 10*time.Millisecond, errors.New("boom"))
	m.MessageSent("text", true)
	m.FlowRequest(421)

	families, err := reg.Gather()
	require.NoError(t, err)

	counts := map[string]int{}
	for _, f := range families {
		counts[f.GetName()] = len(f.GetMetric())
	}
	assert.Equal(t, 1, counts["wadialog_turns_total"])
	assert.Equal(t, 1, counts["wadialog_dropped_messages_total"])
	assert.Equal(t, 2, counts["wadialog_hook_duration_seconds"], "ok and error series")
	assert.Equal(t, 1, counts["wadialog_messages_sent_total"])
	assert.Equal(t, 1, counts["wadialog_flow_requests_total"])

	n, err := testutil.GatherAndCount(reg, "wadialog_turns_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMetrics_DoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := observability.NewMetrics(reg)
	require.NoError(t, err)

	_, err = observability.NewMetrics(reg)
	assert.Error(t, err)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *observability.Metrics
	assert.NotPanics(t, func() {
		m.TurnCompleted("processed")
		m.MessageDropped(observability.DropStale)
		m.ObserveHook("x", time.Second, nil)
		m.MessageSent("text", false)
		m.FlowRequest(500)
	})
}
