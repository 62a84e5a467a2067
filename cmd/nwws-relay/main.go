// Command nwws-relay connects to the NWWS-OI weather-wire feed, parses each
// product into a structured WeatherEvent, and fans it out through the
// pipeline engine to the MQTT and database sinks.
//
// Wiring follows seabird-chat-seabird-nwwsio-plugin/cmd/seabird-nwwsio-plugin/main.go's
// env-load/logger-setup/signal-handling/Run shape, generalized from one
// Seabird client to the receiver+pipeline-manager+sinks graph, and borrows
// couchcryptid-storm-data-etl-service/cmd/etl/main.go's errgroup-supervised
// shutdown for running several long-lived loops together.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/nwws-relay/nwws-relay/internal/config"
	"github.com/nwws-relay/nwws-relay/internal/geo"
	"github.com/nwws-relay/nwws-relay/internal/metricsserver"
	"github.com/nwws-relay/nwws-relay/internal/observability"
	"github.com/nwws-relay/nwws-relay/internal/pipeline"
	"github.com/nwws-relay/nwws-relay/internal/receiver"
	"github.com/nwws-relay/nwws-relay/internal/sink/dbsink"
	"github.com/nwws-relay/nwws-relay/internal/sink/mqttsink"
	"github.com/nwws-relay/nwws-relay/internal/stats"
	"github.com/nwws-relay/nwws-relay/internal/wmo"
)

// Exit codes per spec.md §6.
const (
	exitOK          = 0
	exitConfigError = 1
	exitAuthFailure = 2
	exitRuntime     = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		zerolog.New(os.Stderr).With().Timestamp().Logger().Fatal().Err(err).Msg("failed to load configuration")
		return exitConfigError
	}

	logger := observability.NewLogger(cfg.Logging)
	metrics := stats.New()

	geoLookup, err := geo.New()
	if err != nil {
		logger.Error().Err(err).Msg("failed to load geo lookup dataset")
		return exitConfigError
	}

	repo, err := dbsink.Open(cfg.DB)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open database")
		return exitConfigError
	}
	defer repo.Close()

	dbSink := dbsink.NewSink(repo)
	cleanup := dbsink.NewCleanup(repo, cfg.DBCleanup, metrics, logger)

	mqttCfg := mqttsink.FromConfig(cfg.MQTT)
	mqttSink, err := mqttsink.New(mqttCfg, metrics, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to MQTT broker")
		return exitConfigError
	}

	rcv := receiver.New(cfg.Receiver, metrics, logger)

	manager := buildPipelineManager(cfg, metrics, logger, []pipeline.Sink{mqttSink, dbSink})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return rcv.Start(gctx)
	})

	g.Go(func() error {
		manager.Run(gctx)
		return nil
	})

	g.Go(func() error {
		mqttSink.Start(gctx)
		return nil
	})

	g.Go(func() error {
		cleanup.Run(gctx)
		return nil
	})

	g.Go(func() error {
		return ingestLoop(gctx, rcv, manager, geoLookup, metrics, logger)
	})

	srv := metricsserver.NewServer(cfg.Dashboard, metrics, logger)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	mqttSink.Stop()
	_ = rcv.Stop()

	if err != nil && !errors.Is(err, context.Canceled) {
		if rcv.State() == receiver.StateFailed {
			logger.Error().Err(err).Msg("receiver reached terminal authentication failure")
			return exitAuthFailure
		}
		logger.Error().Err(err).Msg("relay exited with error")
		return exitRuntime
	}
	return exitOK
}

// buildPipelineManager registers the single "weather" pipeline the relay
// runs today, leaving room for spec-driven multi-pipeline routing (e.g.
// per-office fan-out) without touching main's wiring shape.
func buildPipelineManager(cfg *config.Config, metrics *stats.Registry, logger zerolog.Logger, sinks []pipeline.Sink) *pipeline.Manager {
	logFn := func(stage, msg string, err error) {
		logger.Error().Str("stage", stage).Err(err).Msg(msg)
	}
	manager := pipeline.NewManager(metrics, logFn)

	dedup := pipeline.NewDedupFilter(cfg.Dedup.WindowSize, cfg.Dedup.WindowSeconds)

	managedCfg := pipeline.ManagedConfig{
		Config: pipeline.Config{
			Name:                     "weather",
			QueueSize:                cfg.Pipeline.MaxQueueSize,
			SinkQueueSize:            cfg.Pipeline.MaxQueueSize,
			ProcessingTimeout:        cfg.Pipeline.ProcessingTimeout,
			ShutdownDrainGracePeriod: cfg.Pipeline.ShutdownDrainGracePeriod,
			ErrorPolicy: pipeline.ErrorPolicy{
				Strategy:          pipeline.Strategy(cfg.Pipeline.ErrorPolicy.Strategy),
				MaxAttempts:       cfg.Pipeline.ErrorPolicy.MaxRetries,
				BaseDelay:         cfg.Pipeline.ErrorPolicy.RetryDelay,
				MaxDelay:          cfg.Pipeline.ErrorPolicy.MaxRetryDelay,
				BackoffMultiplier: cfg.Pipeline.ErrorPolicy.BackoffMultiplier,
				Threshold:         cfg.Pipeline.ErrorPolicy.CircuitBreakerThreshold,
				OpenTimeout:       cfg.Pipeline.ErrorPolicy.CircuitBreakerTimeout,
			},
		},
		Backpressure: pipeline.PolicyBlock,
	}

	manager.Register(managedCfg, []pipeline.Filter{dedup}, pipeline.IdentityTransformer{}, sinks)
	return manager
}

// ingestLoop bridges the receiver's WireMessage channel into parsed
// WeatherEvents submitted to the pipeline manager, and turns connection
// lifecycle signals into ControlEvents so pipeline stages can observe them.
func ingestLoop(ctx context.Context, rcv *receiver.Receiver, manager *pipeline.Manager, geoLookup *geo.Lookup, metrics *stats.Registry, logger zerolog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-rcv.Messages():
			if !ok {
				return nil
			}
			event, diag, err := wmo.Parse(msg, geoLookup)
			if err != nil {
				logger.Warn().Err(err).Str("awips_id", msg.AwipsID).Msg("failed to parse product")
				continue
			}
			for _, issue := range diag.Issues {
				logger.Debug().Str("event_id", event.EventID).Msg(issue)
			}
			if err := manager.Submit(ctx, "weather", pipeline.NewWeatherEvent(event)); err != nil {
				logger.Warn().Err(err).Str("event_id", event.EventID).Msg("failed to submit event to pipeline")
			}
		case <-rcv.Connected():
			_ = manager.Broadcast(ctx, pipeline.NewControlEvent(pipeline.ControlEvent{Type: "connected"}))
		case err := <-rcv.Disconnected():
			logger.Warn().Err(err).Msg("receiver disconnected")
			_ = manager.Broadcast(ctx, pipeline.NewControlEvent(pipeline.ControlEvent{Type: "disconnected"}))
		case <-rcv.Reconnected():
			_ = manager.Broadcast(ctx, pipeline.NewControlEvent(pipeline.ControlEvent{Type: "reconnected"}))
		case err := <-rcv.Errors():
			logger.Error().Err(err).Msg("receiver error")
		}
	}
}
