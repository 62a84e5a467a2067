package receiver

import (
	"math/rand"
	"time"
)

// reconnectDelay computes the exponential-backoff-with-jitter delay for the
// given attempt count (spec §4.4): delay = min(max_delay, base_delay *
// multiplier^attempt) * uniform(0.8, 1.2). Mirrors
// internal/pipeline/errorpolicy.go's retryDelay; kept as a separate
// unexported copy since the receiver has no dependency on the pipeline
// package's error-policy types.
func reconnectDelay(base, max time.Duration, multiplier float64, attempt int) time.Duration {
	delay := float64(base)
	for i := 0; i < attempt; i++ {
		delay *= multiplier
	}
	if maxF := float64(max); maxF > 0 && delay > maxF {
		delay = maxF
	}
	jitter := 0.8 + rand.Float64()*0.4
	return time.Duration(delay * jitter)
}
