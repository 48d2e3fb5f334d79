package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, c.Write(m))
	return m.GetCounter().GetValue()
}

func TestIncInboundDefaultsUnknownEvent(t *testing.T) {
	before := counterValue(t, InboundEventsTotal.WithLabelValues("unknown", "error"))
	IncInbound("", "error")
	assert.Equal(t, before+1, counterValue(t, InboundEventsTotal.WithLabelValues("unknown", "error")))
}

func TestIncDroppedDefaultsReason(t *testing.T) {
	before := counterValue(t, DroppedTotal.WithLabelValues("new-task", "unknown"))
	IncDropped("new-task", "")
	assert.Equal(t, before+1, counterValue(t, DroppedTotal.WithLabelValues("new-task", "unknown")))
}

func TestObserveMission(t *testing.T) {
	before := counterValue(t, CorrelationSamplesTotal)
	ObserveMission(42)
	assert.Equal(t, before+1, counterValue(t, CorrelationSamplesTotal))

	m := &dto.Metric{}
	require.NoError(t, MissionDurationSeconds.Write(m))
	assert.GreaterOrEqual(t, m.GetHistogram().GetSampleCount(), uint64(1))
}

func TestIncPersistenceError(t *testing.T) {
	before := counterValue(t, PersistenceErrorsTotal.WithLabelValues("agents", "queue_full"))
	IncPersistenceError("agents", "queue_full")
	assert.Equal(t, before+1, counterValue(t, PersistenceErrorsTotal.WithLabelValues("agents", "queue_full")))
}
