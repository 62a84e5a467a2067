package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/nwws-relay/nwws-relay/internal/stats"
)

// BackpressurePolicy names what a Manager does when a pipeline's ingress
// queue is full (spec §4.3).
type BackpressurePolicy string

const (
	// PolicyBlock makes Submit block until there's room or the context is
	// cancelled. The default: never silently lose data.
	PolicyBlock BackpressurePolicy = "block"
	// PolicyDropOldest evicts the oldest queued event to make room for the
	// new one, trading completeness for recency under sustained overload.
	PolicyDropOldest BackpressurePolicy = "drop_oldest"
)

// ManagedConfig extends Config with the backpressure policy applied when
// the Manager submits to this pipeline.
type ManagedConfig struct {
	Config
	Backpressure BackpressurePolicy
}

// Manager owns a set of named pipelines and routes events to one or more of
// them, applying each pipeline's configured backpressure policy in
// isolation so one congested pipeline never blocks another (mirrors the
// per-sink isolation sink.go gives individual sinks, one level up).
type Manager struct {
	mu        sync.RWMutex
	pipelines map[string]*Pipeline
	policies  map[string]BackpressurePolicy
	metrics   *stats.Registry
	logger    logFunc
}

func NewManager(metrics *stats.Registry, logger logFunc) *Manager {
	return &Manager{
		pipelines: make(map[string]*Pipeline),
		policies:  make(map[string]BackpressurePolicy),
		metrics:   metrics,
		logger:    logger,
	}
}

// Register builds and attaches a new named pipeline. Registering a name
// that already exists replaces it; the caller is responsible for not doing
// so while the old pipeline is running.
func (m *Manager) Register(cfg ManagedConfig, filters []Filter, transformer Transformer, sinks []Sink) *Pipeline {
	p := New(cfg.Config, filters, transformer, sinks, m.metrics, m.logger)

	policy := cfg.Backpressure
	if policy == "" {
		policy = PolicyBlock
	}

	m.mu.Lock()
	m.pipelines[cfg.Name] = p
	m.policies[cfg.Name] = policy
	m.mu.Unlock()

	return p
}

// Pipeline returns the named pipeline, or nil if no such pipeline is
// registered.
func (m *Manager) Pipeline(name string) *Pipeline {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pipelines[name]
}

// Names returns the registered pipeline names.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.pipelines))
	for name := range m.pipelines {
		names = append(names, name)
	}
	return names
}

// Submit routes an event to the named pipeline under its configured
// backpressure policy: block (default) waits for room, drop_oldest evicts
// the head of the queue first and retries once.
func (m *Manager) Submit(ctx context.Context, name string, e Event) error {
	m.mu.RLock()
	p, ok := m.pipelines[name]
	policy := m.policies[name]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("pipeline: unknown pipeline %q", name)
	}

	if policy == PolicyDropOldest {
		if p.TrySubmit(e) {
			return nil
		}
		p.DropOldest()
		if m.metrics != nil {
			m.metrics.EventsDroppedTotal.WithLabelValues(name).Inc()
		}
		if !p.TrySubmit(e) {
			return p.Submit(ctx, e)
		}
		return nil
	}

	return p.Submit(ctx, e)
}

// Broadcast submits e to every registered pipeline, honoring each one's own
// backpressure policy. It returns the first error encountered but still
// attempts every pipeline.
func (m *Manager) Broadcast(ctx context.Context, e Event) error {
	var firstErr error
	for _, name := range m.Names() {
		if err := m.Submit(ctx, name, e); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Run starts every registered pipeline and blocks until ctx is cancelled
// and all pipelines have drained.
func (m *Manager) Run(ctx context.Context) {
	m.mu.RLock()
	pipelines := make([]*Pipeline, 0, len(m.pipelines))
	for _, p := range m.pipelines {
		pipelines = append(pipelines, p)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, p := range pipelines {
		wg.Add(1)
		go func(p *Pipeline) {
			defer wg.Done()
			p.Run(ctx)
		}(p)
	}
	wg.Wait()
}

// Ready reports whether every registered pipeline has processed at least
// one event, used by a liveness/readiness endpoint.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.pipelines {
		if !p.CheckReadiness() {
			return false
		}
	}
	return true
}
