package dbsink

import (
	"context"

	"github.com/nwws-relay/nwws-relay/internal/errs"
	"github.com/nwws-relay/nwws-relay/internal/pipeline"
)

// Sink adapts Repository.Insert to the pipeline.Sink interface.
type Sink struct {
	repo *Repository
}

func NewSink(repo *Repository) *Sink {
	return &Sink{repo: repo}
}

func (s *Sink) Name() string { return "db" }

func (s *Sink) Send(ctx context.Context, e pipeline.Event) error {
	if e.Kind != pipeline.KindWeather || e.Weather == nil {
		return nil
	}
	if err := s.repo.Insert(ctx, e.Weather); err != nil {
		if sinkErr, ok := err.(*errs.Error); ok {
			return sinkErr
		}
		return errs.Wrap(errs.KindSinkTransient, "db_sink", err).WithEvent(e.Weather.EventID, e.Weather.ProductID)
	}
	return nil
}
