// Package receiver implements the C3 NWWS-OI weather-wire client: an XMPP
// group-chat consumer that authenticates, joins the configured conference
// room, decodes group-chat stanzas into wmo.WireMessage values, and
// publishes them on a bounded channel.
//
// Grounded directly on
// seabird-chat-seabird-nwwsio-plugin/client/client.go: the gosrc.io/xmpp
// StreamManager/Client pair, the College Park/Boulder failover dial in
// getAvailableNWWSIOSite, and the MUC join/presence handling. Generalized
// from "log and format a chat reply" to: emit WireMessage onto a channel,
// track state/reconnect/auth-failure counters per spec §4.4, and expose
// on_connected/on_disconnected/on_reconnected/on_error hooks as channels
// instead of the teacher's single errorHandler callback.
package receiver

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nwws-relay/nwws-relay/internal/config"
	"github.com/nwws-relay/nwws-relay/internal/stats"
	"github.com/nwws-relay/nwws-relay/internal/wmo"
	"github.com/rs/zerolog"
	"gosrc.io/xmpp"
	"gosrc.io/xmpp/stanza"
)

const (
	nwwsBoulder     = "nwws-oi-bldr.weather.gov"
	nwwsCollegePark = "nwws-oi-cprk.weather.gov"
	nwwsDomain      = "nwws-oi.weather.gov"
	nwwsResource    = "nwws"
	mucDomain       = "conference.nwws-oi.weather.gov"
	connectTimeout  = 3 * time.Second
)

// State is one node of the XMPP lifecycle state machine spec §4.4 requires
// reproduced exactly: Disconnected -> Connecting -> (TLS) -> Authenticating
// -> JoiningRoom -> Receiving -> Disconnecting -> Disconnected.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateJoiningRoom
	StateReceiving
	StateDisconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateJoiningRoom:
		return "joining_room"
	case StateReceiving:
		return "receiving"
	case StateDisconnecting:
		return "disconnecting"
	case StateFailed:
		return "failed"
	default:
		return "disconnected"
	}
}

// Receiver is a long-running actor that drives one NWWS-OI XMPP session.
type Receiver struct {
	cfg     config.Receiver
	metrics *stats.Registry
	logger  zerolog.Logger

	mu           sync.Mutex
	state        State
	attempt      int
	authFailures int

	instanceID string
	mucJID     *stanza.Jid
	cm         *xmpp.StreamManager
	client     *xmpp.Client

	messages     chan wmo.WireMessage
	connected    chan struct{}
	disconnected chan error
	reconnected  chan struct{}
	errs         chan error

	pings *pendingPings

	cancel context.CancelFunc
}

// New builds a Receiver. It does not connect until Start is called.
func New(cfg config.Receiver, metrics *stats.Registry, logger zerolog.Logger) *Receiver {
	queueSize := cfg.MaxQueueSize
	if queueSize <= 0 {
		queueSize = 1000
	}
	return &Receiver{
		cfg:          cfg,
		metrics:      metrics,
		logger:       logger,
		instanceID:   generateInstanceID(),
		messages:     make(chan wmo.WireMessage, queueSize),
		connected:    make(chan struct{}, 1),
		disconnected: make(chan error, 1),
		reconnected:  make(chan struct{}, 1),
		errs:         make(chan error, 16),
		pings:        newPendingPings(),
	}
}

// Messages returns the channel of decoded weather-wire products.
func (r *Receiver) Messages() <-chan wmo.WireMessage { return r.messages }

// Connected fires once per successful (re)join of the conference room.
func (r *Receiver) Connected() <-chan struct{} { return r.connected }

// Disconnected fires whenever the session drops, carrying the triggering
// error (nil for a clean shutdown).
func (r *Receiver) Disconnected() <-chan error { return r.disconnected }

// Reconnected fires when a connection is reestablished after at least one
// failed attempt.
func (r *Receiver) Reconnected() <-chan struct{} { return r.reconnected }

// Errors carries non-fatal XMPP errors and the terminal AuthenticationError
// surfaced after cfg.MaxAuthFailures consecutive authentication failures.
func (r *Receiver) Errors() <-chan error { return r.errs }

// State reports the receiver's current lifecycle state.
func (r *Receiver) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Receiver) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func generateInstanceID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().Unix()%10000)
	}
	return hex.EncodeToString(b)
}

// Start dials the receiver, the way
// seabird-chat-seabird-nwwsio-plugin/client/client.go's NewNWWSIOClient
// does, then blocks driving the XMPP stream until ctx is cancelled.
// AutoReconnect delegates socket-level reconnection to the StreamManager
// (the teacher's mechanism); Start layers state tracking, the auth-failure
// threshold, and the keepalive ping loop on top of it.
func (r *Receiver) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.setState(StateConnecting)
	cfg, err := r.dial()
	if err != nil {
		r.setState(StateFailed)
		return fmt.Errorf("receiver: %w", err)
	}

	r.mucJID = &stanza.Jid{
		Node:     "nwws",
		Domain:   mucDomain,
		Resource: fmt.Sprintf("%s-%s", r.cfg.Username, r.instanceID),
	}

	router := r.buildRouter()
	client, err := xmpp.NewClient(cfg, router, r.onXMPPError)
	if err != nil {
		r.setState(StateFailed)
		return fmt.Errorf("receiver: building xmpp client: %w", err)
	}
	r.client = client
	r.cm = xmpp.NewStreamManager(client, r.onConnect)

	if r.cfg.KeepaliveInterval > 0 {
		go r.keepaliveLoop(runCtx)
	}

	runErr := r.cm.Run()
	r.setState(StateDisconnected)
	select {
	case r.disconnected <- runErr:
	default:
	}
	return runErr
}

// Stop leaves the conference room and tears down the session.
func (r *Receiver) Stop() error {
	r.setState(StateDisconnecting)
	if r.cancel != nil {
		r.cancel()
	}
	if r.client != nil && r.mucJID != nil {
		_ = r.client.Send(stanza.Presence{
			Attrs: stanza.Attrs{To: r.mucJID.Full(), Type: stanza.PresenceTypeUnavailable},
		})
	}
	if r.cm != nil {
		r.cm.Stop()
	}
	r.setState(StateDisconnected)
	return nil
}

// dial implements the College Park / Boulder failover probe from
// getAvailableNWWSIOSite: try College Park, fall back to Boulder.
func (r *Receiver) dial() (*xmpp.Config, error) {
	base := xmpp.Config{
		Jid:            fmt.Sprintf("%s@%s/%s-%s", r.cfg.Username, nwwsDomain, nwwsResource, r.instanceID),
		Credential:     xmpp.Password(r.cfg.Password),
		Insecure:       false,
		ConnectTimeout: int(connectTimeout.Seconds()),
	}

	sites := []string{nwwsCollegePark, nwwsBoulder}
	var lastErr error
	for i, site := range sites {
		trial := base
		trial.TransportConfiguration = xmpp.TransportConfiguration{
			Address: fmt.Sprintf("%s:%d", site, r.port()),
			Domain:  nwwsDomain,
		}

		router := xmpp.NewRouter()
		probe, err := xmpp.NewClient(&trial, router, func(error) {})
		if err != nil {
			lastErr = err
			continue
		}
		r.setState(StateAuthenticating)
		if err := probe.Connect(); err != nil {
			lastErr = err
			_ = probe.Disconnect()
			r.logger.Warn().Err(err).Str("site", site).Msg("failed to connect to NWWS-OI site, trying next")
			continue
		}
		_ = probe.Disconnect()
		return &trial, nil
	}
	return nil, fmt.Errorf("failed to connect to any NWWS-OI site: %w", lastErr)
}

func (r *Receiver) port() int {
	if r.cfg.Port != 0 {
		return r.cfg.Port
	}
	return 5222
}

func (r *Receiver) buildRouter() *xmpp.Router {
	router := xmpp.NewRouter()
	router.HandleFunc("message", func(s xmpp.Sender, p stanza.Packet) { r.handleMessage(p) })
	router.HandleFunc("presence", func(s xmpp.Sender, p stanza.Packet) { r.handlePresence(s, p) })
	router.HandleFunc("iq", func(s xmpp.Sender, p stanza.Packet) { r.handleIQ(s, p) })
	return router
}

func (r *Receiver) onConnect(s xmpp.Sender) {
	r.setState(StateJoiningRoom)
	r.logger.Info().Msg("NWWS-OI connection established")
	if err := r.joinMUC(s); err != nil {
		r.logger.Error().Err(err).Msg("failed to join conference room")
		return
	}

	r.mu.Lock()
	wasReconnect := r.attempt > 0
	r.attempt = 0
	r.authFailures = 0
	r.mu.Unlock()

	r.setState(StateReceiving)
	if r.metrics != nil {
		r.metrics.SetConnected(true)
	}
	if wasReconnect {
		if r.metrics != nil {
			r.metrics.ReconnectsTotal.Inc()
		}
		select {
		case r.reconnected <- struct{}{}:
		default:
		}
	}
	select {
	case r.connected <- struct{}{}:
	default:
	}
}

func (r *Receiver) joinMUC(s xmpp.Sender) error {
	return s.Send(stanza.Presence{
		Attrs: stanza.Attrs{To: r.mucJID.Full()},
		Extensions: []stanza.PresExtension{
			stanza.MucPresence{History: stanza.History{MaxStanzas: stanza.NewNullableInt(0)}},
		},
	})
}

// onXMPPError handles every StreamManager-surfaced connection error. It
// counts the attempt, classifies authentication errors toward the
// max_auth_failures threshold, and once that threshold is reached stops the
// StreamManager entirely, surfacing a terminal AuthenticationError.
func (r *Receiver) onXMPPError(err error) {
	if r.metrics != nil {
		r.metrics.SetConnected(false)
	}

	r.mu.Lock()
	r.attempt++
	attempt := r.attempt
	r.mu.Unlock()

	if isAuthError(err) {
		r.mu.Lock()
		r.authFailures++
		failures := r.authFailures
		r.mu.Unlock()

		maxFailures := r.cfg.MaxAuthFailures
		if maxFailures <= 0 {
			maxFailures = 3
		}
		if r.metrics != nil {
			r.metrics.AuthFailuresTotal.Inc()
		}
		if failures >= maxFailures {
			r.setState(StateFailed)
			if r.cm != nil {
				r.cm.Stop()
			}
			r.emitError(fmt.Errorf("AuthenticationError: %d consecutive authentication failures: %w", failures, err))
			return
		}
	}

	delay := reconnectDelay(r.cfg.ReconnectDelay, r.cfg.MaxReconnectDelay, r.cfg.ReconnectBackoffFactor, attempt)
	r.logger.Warn().Err(err).Int("attempt", attempt).Dur("next_delay", delay).Msg("XMPP connection error")
	r.emitError(err)
}

func (r *Receiver) emitError(err error) {
	select {
	case r.errs <- err:
	default:
	}
}

func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "auth") || strings.Contains(msg, "not-authorized") || strings.Contains(msg, "forbidden")
}

func (r *Receiver) handlePresence(s xmpp.Sender, p stanza.Packet) {
	presence, ok := p.(*stanza.Presence)
	if !ok {
		return
	}
	if presence.Type == stanza.PresenceTypeError && r.mucJID != nil && strings.HasPrefix(presence.From, r.mucJID.Bare()) {
		r.logger.Warn().Str("from", presence.From).Msg("received error presence from conference room")
		go func() {
			time.Sleep(5 * time.Second)
			if err := r.joinMUC(s); err != nil {
				r.logger.Error().Err(err).Msg("failed to rejoin conference room")
			}
		}()
	}
}

func (r *Receiver) handleIQ(s xmpp.Sender, p stanza.Packet) {
	iq, ok := p.(*stanza.IQ)
	if !ok {
		return
	}
	if iq.Type == "result" || iq.Type == "error" {
		if sentAt, ok := r.pings.resolve(iq.Id); ok {
			latency := time.Since(sentAt)
			if r.metrics != nil {
				r.metrics.ObservePingLatency(latency)
			}
		}
	}
}

func (r *Receiver) handleMessage(p stanza.Packet) {
	msg, ok := p.(stanza.Message)
	if !ok {
		return
	}

	receivedAt := time.Now()
	var ext nwwsOIExtension
	if ok := msg.Get(&ext); !ok {
		if r.metrics != nil {
			r.metrics.MessagesMalformedEnvelope.Inc()
		}
		return
	}

	roomJID := ""
	if r.mucJID != nil {
		roomJID = r.mucJID.Full()
	}
	wire, err := ext.toWireMessage(roomJID, receivedAt)
	if err != nil {
		if r.metrics != nil {
			r.metrics.MessagesMalformedHeader.Inc()
		}
		r.logger.Debug().Err(err).Str("cccc", ext.Cccc).Str("awipsid", ext.AwipsID).Msg("dropping malformed stanza")
		return
	}

	if r.metrics != nil {
		r.metrics.RecordMessageReceived(receivedAt)
		r.metrics.ObserveStanzaToMessageLatency(time.Since(receivedAt))
	}

	r.messages <- wire
}
