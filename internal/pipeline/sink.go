package pipeline

import (
	"context"
	"time"

	"github.com/nwws-relay/nwws-relay/internal/errs"
	"github.com/nwws-relay/nwws-relay/internal/stats"
)

// Sink delivers a transformed event somewhere (MQTT, DB, console,
// dashboard feed). Send must be safe to call repeatedly for retry.
type Sink interface {
	Name() string
	Send(ctx context.Context, e Event) error
}

// sinkWorker owns one sink's bounded queue and applies the pipeline's error
// policy in isolation, so a slow or failing sink never blocks its siblings
// (spec §4.3 fan-out policy).
type sinkWorker struct {
	sink    Sink
	policy  ErrorPolicy
	queue   chan Event
	breaker *CircuitBreaker
	metrics *stats.Registry
	logger  logFunc
	onFatal func() // invoked on a fail_fast failure to halt the owning pipeline
}

// logFunc matches the subset of zerolog's call surface the pipeline needs,
// kept as a function type so pipeline stays independent of the logging
// library's concrete types.
type logFunc func(stage, msg string, err error)

func newSinkWorker(sink Sink, policy ErrorPolicy, queueSize int, metrics *stats.Registry, logger logFunc, onFatal func()) *sinkWorker {
	w := &sinkWorker{
		sink:    sink,
		policy:  policy,
		queue:   make(chan Event, queueSize),
		metrics: metrics,
		logger:  logger,
		onFatal: onFatal,
	}
	if policy.Strategy == StrategyCircuitBreaker {
		w.breaker = NewCircuitBreaker(policy.Threshold, policy.OpenTimeout)
	}
	return w
}

// submit enqueues an event for this sink, blocking until there's room or ctx
// is cancelled.
func (w *sinkWorker) submit(ctx context.Context, e Event) error {
	select {
	case w.queue <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// trySubmit enqueues without blocking. A full queue means this sink is
// backed up independently of its siblings; the caller drops the event for
// this sink alone rather than stalling fan-out to every other sink (spec
// §4.3: "a slow sink must not block other sinks").
func (w *sinkWorker) trySubmit(e Event) bool {
	select {
	case w.queue <- e:
		return true
	default:
		return false
	}
}

// run drains the sink's queue until ctx is cancelled and the queue is empty.
func (w *sinkWorker) run(ctx context.Context) {
	for {
		select {
		case e, ok := <-w.queue:
			if !ok {
				return
			}
			w.deliver(ctx, e)
		case <-ctx.Done():
			w.drain(ctx)
			return
		}
	}
}

// drain flushes whatever is already queued after cancellation. Each event is
// delivered with context.Background(), so the flush has no deadline.
func (w *sinkWorker) drain(ctx context.Context) {
	for {
		select {
		case e, ok := <-w.queue:
			if !ok {
				return
			}
			w.deliver(context.Background(), e)
		default:
			return
		}
	}
}

func (w *sinkWorker) deliver(ctx context.Context, e Event) {
	if w.breaker != nil && !w.breaker.Allow() {
		w.metrics.EventsDroppedTotal.WithLabelValues(w.sink.Name()).Inc()
		w.metrics.SetSinkCircuitState(w.sink.Name(), w.breaker.State())
		return
	}

	attempts := 1
	if w.policy.Strategy == StrategyRetry {
		attempts = maxInt(1, w.policy.MaxAttempts)
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if !sleepWithContext(ctx, retryDelay(w.policy, attempt-1)) {
				return
			}
		}

		err := w.sink.Send(ctx, e)
		if err == nil {
			w.metrics.SinkSuccessTotal.WithLabelValues(w.sink.Name()).Inc()
			if w.breaker != nil {
				w.breaker.RecordSuccess()
				w.metrics.SetSinkCircuitState(w.sink.Name(), w.breaker.State())
			}
			return
		}
		lastErr = err

		sinkErr, ok := err.(*errs.Error)
		terminal := ok && sinkErr.Kind == errs.KindSinkTerminal
		if terminal {
			break
		}
	}

	w.metrics.SinkFailuresTotal.WithLabelValues(w.sink.Name()).Inc()
	w.metrics.EventsDroppedTotal.WithLabelValues(w.sink.Name()).Inc()
	if w.breaker != nil {
		w.breaker.RecordFailure()
		w.metrics.SetSinkCircuitState(w.sink.Name(), w.breaker.State())
	}
	if w.logger != nil {
		w.logger("sink:"+w.sink.Name(), "sink delivery failed", lastErr)
	}
	if w.policy.Strategy == StrategyFailFast && w.onFatal != nil {
		w.onFatal()
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
