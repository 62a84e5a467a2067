package receiver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToWireMessage_Valid(t *testing.T) {
	ext := nwwsOIExtension{
		Cccc:    "KOUN",
		Ttaaii:  "WUUS53",
		Issue:   "2023-06-01T00:10:00Z",
		AwipsID: "TORTOP",
		ID:      "10313.6",
		Text:    "body text\nwith lines\n",
	}
	received := time.Date(2023, 6, 1, 0, 10, 5, 0, time.UTC)

	wire, err := ext.toWireMessage("nwws@conference.example/nwws", received)
	require.NoError(t, err)
	assert.Equal(t, "KOUN", wire.Cccc)
	assert.Equal(t, "TORTOP", wire.AwipsID)
	assert.Equal(t, "body text\nwith lines\n", wire.BodyText)
	assert.Equal(t, received, wire.ReceivedAt)
	assert.True(t, wire.IssuedAt.Equal(time.Date(2023, 6, 1, 0, 10, 0, 0, time.UTC)))
}

func TestToWireMessage_RejectsShortCccc(t *testing.T) {
	ext := nwwsOIExtension{Cccc: "KOU", AwipsID: "TORTOP"}
	_, err := ext.toWireMessage("room", time.Now())
	assert.ErrorContains(t, err, "malformed_header")
}

func TestToWireMessage_RejectsShortAwipsID(t *testing.T) {
	ext := nwwsOIExtension{Cccc: "KOUN", AwipsID: "TOR"}
	_, err := ext.toWireMessage("room", time.Now())
	assert.ErrorContains(t, err, "malformed_header")
}

func TestToWireMessage_FallsBackToReceivedAtOnBadIssue(t *testing.T) {
	received := time.Date(2023, 6, 1, 0, 10, 5, 0, time.UTC)
	ext := nwwsOIExtension{Cccc: "KOUN", AwipsID: "TORTOP", Issue: "not-a-date"}
	wire, err := ext.toWireMessage("room", received)
	require.NoError(t, err)
	assert.Equal(t, received, wire.IssuedAt)
}

func TestToWireMessage_TrimsWhitespacePaddedAttributes(t *testing.T) {
	ext := nwwsOIExtension{Cccc: " KOUN ", AwipsID: " TORTOP "}
	wire, err := ext.toWireMessage("room", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "KOUN", wire.Cccc)
	assert.Equal(t, "TORTOP", wire.AwipsID)
}
