package pipeline

import (
	"math/rand"
	"sync"
	"time"
)

// Strategy names the pipeline's error-handling policy (spec §4.3).
type Strategy string

const (
	StrategyFailFast       Strategy = "fail_fast"
	StrategyContinue       Strategy = "continue"
	StrategyRetry          Strategy = "retry"
	StrategyCircuitBreaker Strategy = "circuit_breaker"
)

// ErrorPolicy configures how a sink's send failures are handled.
type ErrorPolicy struct {
	Strategy Strategy

	// retry
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64

	// circuit_breaker
	Threshold     int
	OpenTimeout   time.Duration
}

// circuitState is the breaker's internal state machine.
type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

func (s circuitState) String() string {
	switch s {
	case circuitOpen:
		return "open"
	case circuitHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreaker tracks consecutive failures for one sink and sheds load
// while open, matching spec §4.3's circuit_breaker error policy.
type CircuitBreaker struct {
	mu                  sync.Mutex
	threshold           int
	openTimeout         time.Duration
	state               circuitState
	consecutiveFailures int
	openedAt            time.Time
	now                 func() time.Time
}

func NewCircuitBreaker(threshold int, openTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{threshold: threshold, openTimeout: openTimeout, now: time.Now}
}

// Allow reports whether a send attempt should proceed. If the breaker is
// open but the timeout has elapsed, it transitions to half-open; while
// half-open every call is allowed until the next RecordSuccess or
// RecordFailure closes or reopens the breaker.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case circuitClosed, circuitHalfOpen:
		return true
	case circuitOpen:
		if b.now().Sub(b.openedAt) >= b.openTimeout {
			b.state = circuitHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess closes the breaker and resets the failure count.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	b.state = circuitClosed
}

// RecordFailure increments the consecutive-failure count and opens the
// breaker once it reaches the threshold (or immediately, if the failing
// attempt was the half-open probe).
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == circuitHalfOpen {
		b.state = circuitOpen
		b.openedAt = b.now()
		return
	}

	b.consecutiveFailures++
	if b.consecutiveFailures >= b.threshold {
		b.state = circuitOpen
		b.openedAt = b.now()
	}
}

// State reports the current circuit state for stats export.
func (b *CircuitBreaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}

// retryDelay computes the exponential-backoff-with-jitter delay for a retry
// attempt, the same formula the receiver's reconnect logic uses (spec §4.4):
// delay = min(max_delay, base_delay * multiplier^attempt) * uniform(0.8, 1.2).
func retryDelay(policy ErrorPolicy, attempt int) time.Duration {
	delay := float64(policy.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= policy.BackoffMultiplier
	}
	if max := float64(policy.MaxDelay); max > 0 && delay > max {
		delay = max
	}
	jitter := 0.8 + rand.Float64()*0.4
	return time.Duration(delay * jitter)
}
