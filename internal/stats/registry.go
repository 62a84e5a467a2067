// Package stats rolls up the receiver and pipeline counters, gauges, and
// histograms spec §4.7 requires, exposing both Prometheus registration (for
// the /metrics scrape endpoint) and a consistent point-in-time Snapshot used
// by the dashboard's JSON endpoint. Grounded on
// couchcryptid-storm-data-etl-service/internal/observability/metrics.go's
// constructor/registration pattern, generalized from one flat Metrics
// struct into receiver/pipeline/per-sink/per-office breakdowns.
package stats

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "nwws_relay"

const latencyWindowCapacity = 2000

// Registry holds every counter, gauge, and histogram the relay exposes.
type Registry struct {
	// Receiver.
	MessagesReceivedTotal     prometheus.Counter
	MessagesMalformedEnvelope prometheus.Counter
	MessagesMalformedHeader   prometheus.Counter
	ReconnectsTotal           prometheus.Counter
	AuthFailuresTotal         prometheus.Counter

	connected            atomic.Int64
	queueDepth           atomic.Int64
	startedAt            time.Time
	lastMessageAt        atomic.Int64 // unix nanos

	stanzaToMessageLatency *latencyWindow
	pingLatency            *latencyWindow

	// Pipeline.
	EventsProcessedTotal prometheus.Counter
	EventsFilteredTotal  *prometheus.CounterVec // label: reason
	EventsErroredTotal   *prometheus.CounterVec // label: stage
	EventsDroppedTotal   *prometheus.CounterVec // label: sink

	pipelineLatency *latencyWindow
	stageLatency    struct {
		mu sync.Mutex
		by map[string]*latencyWindow
	}

	// Per-sink.
	SinkSuccessTotal  *prometheus.CounterVec // label: sink
	SinkFailuresTotal *prometheus.CounterVec // label: sink
	sinkCircuitState  struct {
		mu sync.Mutex
		by map[string]string
	}

	// Per-office.
	MessagesProcessedByOffice *prometheus.CounterVec // label: cccc
	lastActivityByOffice      struct {
		mu sync.Mutex
		by map[string]time.Time
	}

	// DB cleanup.
	CleanupDeletionsTotal *prometheus.CounterVec // label: strategy
}

// New builds and registers a Registry with the default Prometheus registry.
func New() *Registry {
	r := newUnregistered()
	prometheus.MustRegister(
		r.MessagesReceivedTotal,
		r.MessagesMalformedEnvelope,
		r.MessagesMalformedHeader,
		r.ReconnectsTotal,
		r.AuthFailuresTotal,
		r.EventsProcessedTotal,
		r.EventsFilteredTotal,
		r.EventsErroredTotal,
		r.EventsDroppedTotal,
		r.SinkSuccessTotal,
		r.SinkFailuresTotal,
		r.MessagesProcessedByOffice,
		r.CleanupDeletionsTotal,
	)
	return r
}

// NewForTesting builds a Registry without touching the default Prometheus
// registry, avoiding "duplicate metrics collector registration" panics
// across test packages.
func NewForTesting() *Registry {
	return newUnregistered()
}

func newUnregistered() *Registry {
	r := &Registry{
		MessagesReceivedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_received_total", Help: "Total stanzas received from the weather-wire room.",
		}),
		MessagesMalformedEnvelope: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_malformed_envelope", Help: "Stanzas rejected for missing the nwws-oi envelope element.",
		}),
		MessagesMalformedHeader: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_malformed_header", Help: "Stanzas rejected for an invalid awips/cccc attribute.",
		}),
		ReconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reconnects_total", Help: "Total successful receiver reconnects.",
		}),
		AuthFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "auth_failures_total", Help: "Total XMPP authentication failures.",
		}),
		EventsProcessedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_processed_total", Help: "Total events that passed filtering and transform.",
		}),
		EventsFilteredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_filtered_total", Help: "Events rejected by a filter, by reason.",
		}, []string{"reason"}),
		EventsErroredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_errored_total", Help: "Events that errored, by stage.",
		}, []string{"stage"}),
		EventsDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_dropped_total", Help: "Events dropped permanently, by sink.",
		}, []string{"sink"}),
		SinkSuccessTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sink_success_total", Help: "Successful sink deliveries, by sink.",
		}, []string{"sink"}),
		SinkFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sink_failures_total", Help: "Failed sink deliveries, by sink.",
		}, []string{"sink"}),
		MessagesProcessedByOffice: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_processed_total", Help: "Events processed, by issuing office.",
		}, []string{"cccc"}),
		CleanupDeletionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cleanup_deletions_total", Help: "Rows deleted by the DB retention cleanup loop, by strategy.",
		}, []string{"strategy"}),

		stanzaToMessageLatency: newLatencyWindow(latencyWindowCapacity),
		pingLatency:            newLatencyWindow(latencyWindowCapacity),
		pipelineLatency:        newLatencyWindow(latencyWindowCapacity),
		startedAt:              time.Now(),
	}
	r.stageLatency.by = make(map[string]*latencyWindow)
	r.sinkCircuitState.by = make(map[string]string)
	r.lastActivityByOffice.by = make(map[string]time.Time)
	return r
}

// --- receiver gauges/histograms ---

func (r *Registry) SetConnected(connected bool) {
	if connected {
		r.connected.Store(1)
	} else {
		r.connected.Store(0)
	}
}

func (r *Registry) SetQueueDepth(depth int) {
	r.queueDepth.Store(int64(depth))
}

func (r *Registry) RecordMessageReceived(at time.Time) {
	r.lastMessageAt.Store(at.UnixNano())
	r.MessagesReceivedTotal.Inc()
}

func (r *Registry) ObserveStanzaToMessageLatency(d time.Duration) {
	r.stanzaToMessageLatency.Observe(float64(d.Milliseconds()))
}

func (r *Registry) ObservePingLatency(d time.Duration) {
	r.pingLatency.Observe(float64(d.Milliseconds()))
}

// --- pipeline histograms ---

func (r *Registry) ObservePipelineLatency(d time.Duration) {
	r.pipelineLatency.Observe(float64(d.Milliseconds()))
}

func (r *Registry) ObserveStageLatency(stage string, d time.Duration) {
	r.stageLatency.mu.Lock()
	w, ok := r.stageLatency.by[stage]
	if !ok {
		w = newLatencyWindow(latencyWindowCapacity)
		r.stageLatency.by[stage] = w
	}
	r.stageLatency.mu.Unlock()
	w.Observe(float64(d.Milliseconds()))
}

// --- per-sink circuit state ---

func (r *Registry) SetSinkCircuitState(sink, state string) {
	r.sinkCircuitState.mu.Lock()
	defer r.sinkCircuitState.mu.Unlock()
	r.sinkCircuitState.by[sink] = state
}

// --- per-office activity ---

func (r *Registry) RecordOfficeActivity(cccc string, at time.Time) {
	r.MessagesProcessedByOffice.WithLabelValues(cccc).Inc()
	r.lastActivityByOffice.mu.Lock()
	defer r.lastActivityByOffice.mu.Unlock()
	if prev, ok := r.lastActivityByOffice.by[cccc]; !ok || at.After(prev) {
		r.lastActivityByOffice.by[cccc] = at
	}
}

// --- DB cleanup ---

func (r *Registry) RecordCleanupDeletions(strategy string, n int64) {
	if n <= 0 {
		return
	}
	r.CleanupDeletionsTotal.WithLabelValues(strategy).Add(float64(n))
}

// Snapshot is the consistent point-in-time view the dashboard's JSON
// endpoint serializes.
type Snapshot struct {
	Receiver ReceiverSnapshot `json:"receiver"`
	Pipeline PipelineSnapshot `json:"pipeline"`
}

type ReceiverSnapshot struct {
	Connected                 bool    `json:"connected"`
	QueueDepth                int     `json:"queue_depth"`
	UptimeSeconds             float64 `json:"uptime_seconds"`
	LastMessageAgeSeconds     float64 `json:"last_message_age_seconds"`
	StanzaToMessageLatencyMs  Summary `json:"stanza_to_message_latency_ms"`
	PingLatencyMs             Summary `json:"ping_latency_ms"`
}

type PipelineSnapshot struct {
	PipelineLatencyMs  Summary                      `json:"pipeline_latency_ms"`
	PerStageLatencyMs  map[string]Summary           `json:"per_stage_latency_ms"`
	SinkCircuitState   map[string]string            `json:"sink_circuit_state"`
	LastActivityByCccc map[string]time.Time         `json:"last_activity"`
}

// Snapshot takes a consistent read over every counter, gauge, and histogram.
func (r *Registry) Snapshot() Snapshot {
	lastMsgNanos := r.lastMessageAt.Load()
	var lastMessageAge float64
	if lastMsgNanos != 0 {
		lastMessageAge = time.Since(time.Unix(0, lastMsgNanos)).Seconds()
	}

	r.stageLatency.mu.Lock()
	perStage := make(map[string]Summary, len(r.stageLatency.by))
	for stage, w := range r.stageLatency.by {
		perStage[stage] = w.Snapshot()
	}
	r.stageLatency.mu.Unlock()

	r.sinkCircuitState.mu.Lock()
	circuitState := make(map[string]string, len(r.sinkCircuitState.by))
	for k, v := range r.sinkCircuitState.by {
		circuitState[k] = v
	}
	r.sinkCircuitState.mu.Unlock()

	r.lastActivityByOffice.mu.Lock()
	lastActivity := make(map[string]time.Time, len(r.lastActivityByOffice.by))
	for k, v := range r.lastActivityByOffice.by {
		lastActivity[k] = v
	}
	r.lastActivityByOffice.mu.Unlock()

	return Snapshot{
		Receiver: ReceiverSnapshot{
			Connected:                r.connected.Load() == 1,
			QueueDepth:               int(r.queueDepth.Load()),
			UptimeSeconds:            time.Since(r.startedAt).Seconds(),
			LastMessageAgeSeconds:    lastMessageAge,
			StanzaToMessageLatencyMs: r.stanzaToMessageLatency.Snapshot(),
			PingLatencyMs:            r.pingLatency.Snapshot(),
		},
		Pipeline: PipelineSnapshot{
			PipelineLatencyMs:  r.pipelineLatency.Snapshot(),
			PerStageLatencyMs:  perStage,
			SinkCircuitState:   circuitState,
			LastActivityByCccc: lastActivity,
		},
	}
}
