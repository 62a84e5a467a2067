package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ReceiverGauges(t *testing.T) {
	r := NewForTesting()
	r.SetConnected(true)
	r.SetQueueDepth(42)
	r.RecordMessageReceived(time.Now())

	snap := r.Snapshot()
	assert.True(t, snap.Receiver.Connected)
	assert.Equal(t, 42, snap.Receiver.QueueDepth)
	assert.Less(t, snap.Receiver.LastMessageAgeSeconds, 1.0)
}

func TestRegistry_LatencySnapshot(t *testing.T) {
	r := NewForTesting()
	for _, ms := range []time.Duration{10, 20, 30, 40, 50} {
		r.ObservePipelineLatency(ms * time.Millisecond)
	}
	snap := r.Snapshot()
	require.Equal(t, 5, snap.Pipeline.PipelineLatencyMs.Count)
	assert.InDelta(t, 30, snap.Pipeline.PipelineLatencyMs.Avg, 0.001)
	assert.Equal(t, float64(30), snap.Pipeline.PipelineLatencyMs.P50)
}

func TestRegistry_StageLatencyByName(t *testing.T) {
	r := NewForTesting()
	r.ObserveStageLatency("filter", 5*time.Millisecond)
	r.ObserveStageLatency("transform", 15*time.Millisecond)

	snap := r.Snapshot()
	require.Contains(t, snap.Pipeline.PerStageLatencyMs, "filter")
	require.Contains(t, snap.Pipeline.PerStageLatencyMs, "transform")
	assert.Equal(t, 1, snap.Pipeline.PerStageLatencyMs["filter"].Count)
}

func TestRegistry_SinkCircuitState(t *testing.T) {
	r := NewForTesting()
	r.SetSinkCircuitState("mqtt", "open")

	snap := r.Snapshot()
	assert.Equal(t, "open", snap.Pipeline.SinkCircuitState["mqtt"])
}

func TestRegistry_OfficeActivity(t *testing.T) {
	r := NewForTesting()
	first := time.Now().Add(-time.Hour)
	second := time.Now()
	r.RecordOfficeActivity("KTOP", first)
	r.RecordOfficeActivity("KTOP", second)

	snap := r.Snapshot()
	assert.WithinDuration(t, second, snap.Pipeline.LastActivityByCccc["KTOP"], time.Second)
}
