package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nwws-relay/nwws-relay/internal/stats"
)

// Config configures one Pipeline's bounds and error policy (spec §4.3,
// §6 pipeline config group).
type Config struct {
	Name                     string
	QueueSize                int
	SinkQueueSize            int
	ProcessingTimeout        time.Duration
	ShutdownDrainGracePeriod time.Duration
	ErrorPolicy              ErrorPolicy
}

// Pipeline is one Ingress -> Filter* -> Transform -> Sink* chain. Modeled
// after couchcryptid-storm-data-etl-service/internal/pipeline.Pipeline's
// atomic.Bool readiness flag and context-driven Run loop, generalized from a
// single Extractor/Transformer/Loader triple into N filters and M sinks.
type Pipeline struct {
	cfg         Config
	filters     []Filter
	transformer Transformer
	sinks       []*sinkWorker
	ingress     chan Event
	metrics     *stats.Registry
	logger      logFunc
	ready       atomic.Bool
	fatal       atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New builds a Pipeline. sinks is the set of sinks fanned out to after
// Transform, each wrapped in its own bounded-queue worker under cfg's error
// policy. A fail_fast sink failure flips an internal flag that stops the
// pipeline's ingress loop on its next iteration.
func New(cfg Config, filters []Filter, transformer Transformer, sinks []Sink, metrics *stats.Registry, logger logFunc) *Pipeline {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 5000
	}

	p := &Pipeline{
		cfg:         cfg,
		filters:     filters,
		transformer: transformer,
		ingress:     make(chan Event, queueSize),
		metrics:     metrics,
		logger:      logger,
	}

	workers := make([]*sinkWorker, 0, len(sinks))
	for _, s := range sinks {
		workers = append(workers, newSinkWorker(s, cfg.ErrorPolicy, cfg.SinkQueueSize, metrics, logger, p.haltOnFatal))
	}
	p.sinks = workers

	return p
}

// haltOnFatal is invoked by a fail_fast sink worker on delivery failure. It
// cancels the run context shared by the ingress loop and every sink worker,
// so a single fail_fast sink stops the whole pipeline rather than just its
// own queue.
func (p *Pipeline) haltOnFatal() {
	p.fatal.Store(true)
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Submit enqueues an event, blocking until there's room or ctx is done
// (spec §4.3's backpressure policy — the default; drop-oldest is the
// manager's concern, since it mediates across pipelines).
func (p *Pipeline) Submit(ctx context.Context, e Event) error {
	select {
	case p.ingress <- e:
		if p.metrics != nil {
			p.metrics.SetQueueDepth(len(p.ingress))
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit enqueues without blocking, for a drop-oldest policy: the caller
// evicts the oldest queued event first, then retries.
func (p *Pipeline) TrySubmit(e Event) bool {
	select {
	case p.ingress <- e:
		if p.metrics != nil {
			p.metrics.SetQueueDepth(len(p.ingress))
		}
		return true
	default:
		return false
	}
}

// DropOldest removes and discards the oldest queued event, if any.
func (p *Pipeline) DropOldest() {
	select {
	case <-p.ingress:
	default:
	}
}

// CheckReadiness reports whether the pipeline has processed at least one
// event.
func (p *Pipeline) CheckReadiness() bool {
	return p.ready.Load()
}

// Run drives the ingress worker and every sink worker until ctx is
// cancelled. On cancellation the ingress queue is flushed for at most
// ShutdownDrainGracePeriod; each sink worker then delivers whatever is
// already in its own queue with no deadline, and Run returns once every
// sink worker has finished. No sink is hard-stopped.
func (p *Pipeline) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()
	defer cancel()

	var wg sync.WaitGroup
	for _, s := range p.sinks {
		wg.Add(1)
		go func(w *sinkWorker) {
			defer wg.Done()
			w.run(runCtx)
		}(s)
	}

	p.ingressLoop(runCtx)
	wg.Wait()
}

func (p *Pipeline) ingressLoop(ctx context.Context) {
	for {
		select {
		case e, ok := <-p.ingress:
			if !ok {
				return
			}
			p.process(ctx, e)
			if p.fatal.Load() {
				if p.logger != nil {
					p.logger(p.cfg.Name, "fail_fast sink failure, halting pipeline", nil)
				}
				return
			}
		case <-ctx.Done():
			p.drainIngress(ctx)
			return
		}
	}
}

func (p *Pipeline) drainIngress(ctx context.Context) {
	deadline := time.Now().Add(p.cfg.ShutdownDrainGracePeriod)
	drainCtx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()
	for {
		select {
		case e, ok := <-p.ingress:
			if !ok {
				return
			}
			p.process(drainCtx, e)
		default:
			return
		}
	}
}

func (p *Pipeline) process(ctx context.Context, e Event) {
	start := time.Now()

	for _, f := range p.filters {
		keep, reason := f.Evaluate(e)
		if !keep {
			if p.metrics != nil {
				p.metrics.EventsFilteredTotal.WithLabelValues(reason).Inc()
			}
			return
		}
	}
	if p.metrics != nil {
		p.metrics.ObserveStageLatency("filter", time.Since(start))
	}

	transformStart := time.Now()
	out := e
	if p.transformer != nil {
		var err error
		out, err = p.transformer.Transform(e)
		if err != nil {
			if p.metrics != nil {
				p.metrics.EventsErroredTotal.WithLabelValues("transform").Inc()
			}
			if p.logger != nil {
				p.logger("transform", "transform failed", err)
			}
			return
		}
	}
	if p.metrics != nil {
		p.metrics.ObserveStageLatency("transform", time.Since(transformStart))
	}

	// Each sink gets an independent, non-blocking try at its own queue so a
	// sink stuck on delivery (e.g. a hung broker connection) never keeps the
	// ingress loop from reaching the next sink, let alone the next event
	// (spec §4.3 fan-out, testable property "fan-out independence").
	for _, s := range p.sinks {
		if !s.trySubmit(out) {
			if p.metrics != nil {
				p.metrics.EventsDroppedTotal.WithLabelValues(s.sink.Name()).Inc()
			}
			if p.logger != nil {
				p.logger("sink:"+s.sink.Name(), "sink queue full, dropping event for this sink", nil)
			}
		}
	}

	if p.metrics != nil {
		p.metrics.EventsProcessedTotal.Inc()
		p.metrics.ObservePipelineLatency(time.Since(start))
		if out.Kind == KindWeather && out.Weather != nil {
			p.metrics.RecordOfficeActivity(out.Weather.Cccc, out.Weather.ReceivedAt)
		}
	}
	p.ready.Store(true)
}
