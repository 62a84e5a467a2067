package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/nwws-relay/nwws-relay/internal/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_RegisterAndSubmit(t *testing.T) {
	sink := &fakeSink{name: "a"}
	metrics := stats.NewForTesting()
	m := NewManager(metrics, noopLogger)

	p := m.Register(ManagedConfig{Config: testConfig("warnings")}, nil, IdentityTransformer{}, []Sink{sink})
	require.NotNil(t, p)
	assert.Same(t, p, m.Pipeline("warnings"))
	assert.Equal(t, []string{"warnings"}, m.Names())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	require.NoError(t, m.Submit(ctx, "warnings", weatherEvent("KOUN", "fp1")))
	assert.Eventually(t, func() bool { return sink.sentCount() == 1 }, time.Second, time.Millisecond)

	cancel()
	<-done
}

func TestManager_SubmitUnknownPipeline(t *testing.T) {
	m := NewManager(stats.NewForTesting(), noopLogger)
	err := m.Submit(context.Background(), "missing", weatherEvent("KOUN", "fp1"))
	assert.Error(t, err)
}

func TestManager_DropOldestPolicyEvictsUnderPressure(t *testing.T) {
	cfg := testConfig("warnings")
	cfg.QueueSize = 1
	metrics := stats.NewForTesting()
	m := NewManager(metrics, noopLogger)
	m.Register(ManagedConfig{Config: cfg, Backpressure: PolicyDropOldest}, nil, nil, nil)

	ctx := context.Background()
	require.NoError(t, m.Submit(ctx, "warnings", weatherEvent("KOUN", "fp1")))
	require.NoError(t, m.Submit(ctx, "warnings", weatherEvent("KOUN", "fp2")))

	p := m.Pipeline("warnings")
	select {
	case e := <-p.ingress:
		assert.Equal(t, "fp2", e.Weather.Fingerprint, "drop_oldest should have evicted fp1 in favor of fp2")
	default:
		t.Fatal("expected the surviving event to still be queued")
	}
}

func TestManager_ReadyRequiresAllPipelinesReady(t *testing.T) {
	metrics := stats.NewForTesting()
	m := NewManager(metrics, noopLogger)
	m.Register(ManagedConfig{Config: testConfig("a")}, nil, IdentityTransformer{}, []Sink{&fakeSink{name: "a"}})
	m.Register(ManagedConfig{Config: testConfig("b")}, nil, IdentityTransformer{}, []Sink{&fakeSink{name: "b"}})

	assert.False(t, m.Ready())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	require.NoError(t, m.Submit(ctx, "a", weatherEvent("KOUN", "fp1")))
	require.NoError(t, m.Submit(ctx, "b", weatherEvent("KOUN", "fp2")))

	assert.Eventually(t, func() bool { return m.Ready() }, time.Second, time.Millisecond)
}
