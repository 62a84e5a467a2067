// Package pipeline implements the C4 staged engine: a Pipeline Manager
// owning named pipelines, each an Ingress -> Filter* -> Transform -> Sink*
// chain with a bounded per-pipeline queue, a per-sink queue, and a
// configurable error-handling policy. Generalized from the single linear
// ETL loop in
// couchcryptid-storm-data-etl-service/internal/pipeline/pipeline.go (the
// Extractor/Transformer/Loader interfaces, the atomic.Bool readiness flag,
// the backoff-driven run loop) into the fan-out model spec §4.3 describes.
package pipeline

import (
	"github.com/nwws-relay/nwws-relay/internal/wmo"
)

// Kind discriminates the variant held by an Event. Go has no native sum
// type, so Event carries one nilable pointer per variant instead.
type Kind int

const (
	KindWeather Kind = iota
	KindControl
	KindError
)

// ControlEvent carries receiver lifecycle signals (connect/disconnect/
// reconnect) through the same channels as weather events, so a pipeline
// stage can react to connectivity changes without a side channel.
type ControlEvent struct {
	Type string // connected | disconnected | reconnected
	Cccc string
}

// ErrorEvent carries a stage-boundary error for stages that want to observe
// errors flowing through the pipeline rather than just counting them.
type ErrorEvent struct {
	Stage string
	Kind  string
	Err   error
}

// Event is the pipeline's sum-type envelope. Exactly one of Weather,
// Control, or Err is set, matching Kind.
type Event struct {
	Kind    Kind
	Weather *wmo.WeatherEvent
	Control *ControlEvent
	Err     *ErrorEvent
}

// NewWeatherEvent wraps a parsed WeatherEvent for pipeline submission.
func NewWeatherEvent(w *wmo.WeatherEvent) Event {
	return Event{Kind: KindWeather, Weather: w}
}

// NewControlEvent wraps a receiver lifecycle signal for pipeline submission.
func NewControlEvent(c ControlEvent) Event {
	return Event{Kind: KindControl, Control: &c}
}

// NewErrorEvent wraps a stage-boundary error for pipeline submission.
func NewErrorEvent(e ErrorEvent) Event {
	return Event{Kind: KindError, Err: &e}
}
