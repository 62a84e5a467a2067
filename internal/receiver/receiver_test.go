package receiver

import (
	"testing"

	"github.com/nwws-relay/nwws-relay/internal/config"
	"github.com/nwws-relay/nwws-relay/internal/stats"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestState_String(t *testing.T) {
	cases := map[State]string{
		StateDisconnected:   "disconnected",
		StateConnecting:     "connecting",
		StateAuthenticating: "authenticating",
		StateJoiningRoom:    "joining_room",
		StateReceiving:      "receiving",
		StateDisconnecting:  "disconnecting",
		StateFailed:         "failed",
	}
	for state, want := range cases {
		assert.Equal(t, want, state.String())
	}
}

func TestNew_DefaultsQueueSize(t *testing.T) {
	r := New(config.Receiver{Username: "user", Password: "pass"}, stats.NewForTesting(), zerolog.Nop())
	assert.Equal(t, 1000, cap(r.messages))
	assert.Equal(t, StateDisconnected, r.State())
}

func TestNew_RespectsConfiguredQueueSize(t *testing.T) {
	r := New(config.Receiver{MaxQueueSize: 50}, stats.NewForTesting(), zerolog.Nop())
	assert.Equal(t, 50, cap(r.messages))
}

func TestReceiver_ErrorsChannelDoesNotBlockOnOverflow(t *testing.T) {
	r := New(config.Receiver{}, stats.NewForTesting(), zerolog.Nop())
	for i := 0; i < 100; i++ {
		r.emitError(assertError{})
	}
	assert.LessOrEqual(t, len(r.errs), cap(r.errs))
}

type assertError struct{}

func (assertError) Error() string { return "boom" }

// TestReceiver_ReconnectStorm_AttemptsGrowAndErrorsSurface exercises
// onXMPPError directly across 10 consecutive connection resets (spec §8
// scenario "reconnect storm"), the part of the reconnect path reachable
// without a live or fake XMPP transport: attempt counting, non-auth errors
// never escalating to StateFailed, and every error surfacing on Errors().
// onConnect/joinMUC (which need a real xmpp.Sender) are exercised instead by
// a live NWWS-OI session in integration testing, not unit tests here.
func TestReceiver_ReconnectStorm_AttemptsGrowAndErrorsSurface(t *testing.T) {
	r := New(config.Receiver{MaxAuthFailures: 3}, stats.NewForTesting(), zerolog.Nop())

	for i := 0; i < 10; i++ {
		r.onXMPPError(assertError{})
	}

	assert.Equal(t, 10, r.attempt)
	assert.Equal(t, 0, r.authFailures, "a non-auth error must not count toward the auth-failure threshold")
	assert.NotEqual(t, StateFailed, r.State())
	assert.Len(t, r.errs, 10, "all 10 resets fit in the size-16 errors channel without overflow")
}
