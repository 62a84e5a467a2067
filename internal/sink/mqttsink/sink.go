// Package mqttsink implements the C5 sink: it publishes each weather event
// to an MQTT broker as a JSON payload under a topic derived from the
// product's office, AWIPS ID, and product ID.
//
// Grounded on the eclipse/paho.mqtt.golang usage pattern in
// other_examples/16cae686_madpsy-ka9q_ubersdr__mqtt_publisher.go.go:
// mqtt.NewClientOptions, SetAutoReconnect/SetConnectRetry, TLS config
// loading from cert files, and the OnConnect/ConnectionLost/Reconnecting
// handler trio. The topic templating, retained-message sweeper, and
// terminal-failure classification are new, generalized from that
// publisher's flat metrics-topic scheme to spec.md §4.5's per-product
// addressing.
package mqttsink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nwws-relay/nwws-relay/internal/errs"
	"github.com/nwws-relay/nwws-relay/internal/pipeline"
	"github.com/nwws-relay/nwws-relay/internal/stats"
)

const maxPayloadBytes = 256 * 1024

// mqttClient is the subset of mqtt.Client the sink depends on, narrowed so
// tests can substitute a fake broker connection.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Sink publishes weather events to an MQTT broker. It implements
// pipeline.Sink.
type Sink struct {
	cfg     Config
	client  mqttClient
	metrics *stats.Registry
	logger  zerolog.Logger

	authFailed atomic.Bool

	mu       sync.Mutex
	retained map[string]time.Time // topic -> last publish time, for the sweeper

	stopSweep chan struct{}
	sweepDone chan struct{}
}

// New constructs a Sink and connects to the configured broker. The caller
// must call Start to run the retained-message sweeper and Stop to
// disconnect cleanly.
func New(cfg Config, metrics *stats.Registry, logger zerolog.Logger) (*Sink, error) {
	s := &Sink{
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger.With().Str("sink", "mqtt").Logger(),
		retained:  make(map[string]time.Time),
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}

	tlsCfg, err := loadTLSConfig(cfg.CACertFile, cfg.ClientCertFile, cfg.ClientKeyFile)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfig, "mqtt_sink", err)
	}

	scheme := "tcp"
	if tlsCfg != nil {
		scheme = "ssl"
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "nwws-relay-" + uuid.New().String()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker, cfg.Port))
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if tlsCfg != nil {
		opts.SetTLSConfig(tlsCfg)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(mqtt.Client) {
		s.metrics.SetSinkCircuitState("mqtt", "closed")
		s.logger.Info().Msg("connected to broker")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.metrics.SetSinkCircuitState("mqtt", "open")
		s.logger.Warn().Err(err).Msg("connection to broker lost")
	})
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		s.logger.Info().Msg("reconnecting to broker")
	})

	client := mqtt.NewClient(opts)
	s.client = client
	token := client.Connect()
	if ok := token.WaitTimeout(cfg.ConnectTimeout); !ok {
		return nil, errs.New(errs.KindConnection, "mqtt_sink", "timed out connecting to broker")
	}
	if err := token.Error(); err != nil {
		if isAuthFailure(err) {
			return nil, errs.Wrap(errs.KindAuth, "mqtt_sink", err)
		}
		return nil, errs.Wrap(errs.KindConnection, "mqtt_sink", err)
	}

	return s, nil
}

// newWithClient builds a Sink around an already-constructed client,
// bypassing the broker dial in New. Used by tests to substitute a fake
// broker connection.
func newWithClient(cfg Config, client mqttClient, metrics *stats.Registry, logger zerolog.Logger) *Sink {
	return &Sink{
		cfg:       cfg,
		client:    client,
		metrics:   metrics,
		logger:    logger,
		retained:  make(map[string]time.Time),
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
}

// Name identifies this sink in logs, metrics, and error-policy config.
func (s *Sink) Name() string { return "mqtt" }

// Start launches the retained-message sweeper. It is a no-op if retain is
// disabled, since nothing is ever left behind to sweep.
func (s *Sink) Start(ctx context.Context) {
	if !s.cfg.Retain || s.cfg.MessageExpiry <= 0 {
		close(s.sweepDone)
		return
	}
	go s.sweepLoop(ctx)
}

// Stop disconnects from the broker, waiting up to 250ms to flush
// in-flight publishes.
func (s *Sink) Stop() {
	close(s.stopSweep)
	<-s.sweepDone
	s.client.Disconnect(250)
}

// Send publishes e to the broker under a topic derived from the event's
// office, AWIPS ID, and product ID.
func (s *Sink) Send(ctx context.Context, e pipeline.Event) error {
	if e.Kind != pipeline.KindWeather || e.Weather == nil {
		return nil
	}
	if s.authFailed.Load() {
		return errs.New(errs.KindAuth, "mqtt_sink", "sink disabled after prior authentication failure").WithEvent(e.Weather.EventID, e.Weather.ProductID)
	}

	w := e.Weather
	topic := buildTopic(s.cfg.TopicPrefix, w.Cccc, w.AwipsID, w.ProductID)

	payload, err := json.Marshal(w)
	if err != nil {
		return errs.Wrap(errs.KindMalformed, "mqtt_sink", err).WithEvent(w.EventID, w.ProductID)
	}
	if len(payload) > maxPayloadBytes {
		return errs.New(errs.KindSinkTerminal, "mqtt_sink", fmt.Sprintf("payload %d bytes exceeds %d byte limit", len(payload), maxPayloadBytes)).WithEvent(w.EventID, w.ProductID)
	}

	token := s.client.Publish(topic, s.cfg.QoS, s.cfg.Retain, payload)
	done := make(chan struct{})
	go func() {
		token.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := token.Error(); err != nil {
		if isAuthFailure(err) {
			s.authFailed.Store(true)
			return errs.Wrap(errs.KindAuth, "mqtt_sink", err).WithEvent(w.EventID, w.ProductID)
		}
		return errs.Wrap(errs.KindSinkTransient, "mqtt_sink", err).WithEvent(w.EventID, w.ProductID)
	}

	if s.cfg.Retain {
		s.mu.Lock()
		s.retained[topic] = time.Now()
		s.mu.Unlock()
	}
	return nil
}

// sweepLoop republishes a zero-length retained message to any topic whose
// last retained publish is older than the configured expiry, clearing
// stale state for brokers that don't honor MQTT v5 message-expiry
// properties (eclipse/paho.mqtt.golang speaks v3.1.1).
func (s *Sink) sweepLoop(ctx context.Context) {
	defer close(s.sweepDone)
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopSweep:
			return
		case <-ticker.C:
			s.sweepStale()
		}
	}
}

func (s *Sink) sweepStale() {
	cutoff := time.Now().Add(-s.cfg.MessageExpiry)

	s.mu.Lock()
	var stale []string
	for topic, last := range s.retained {
		if last.Before(cutoff) {
			stale = append(stale, topic)
		}
	}
	s.mu.Unlock()

	for _, topic := range stale {
		token := s.client.Publish(topic, s.cfg.QoS, true, []byte{})
		token.Wait()
		if err := token.Error(); err != nil {
			s.logger.Warn().Err(err).Str("topic", topic).Msg("failed to clear stale retained message")
			continue
		}
		s.mu.Lock()
		delete(s.retained, topic)
		s.mu.Unlock()
	}
}

func isAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not authorized") ||
		strings.Contains(msg, "bad user name or password") ||
		strings.Contains(msg, "unauthorized")
}
