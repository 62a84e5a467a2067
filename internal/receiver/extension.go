package receiver

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/nwws-relay/nwws-relay/internal/wmo"
	"gosrc.io/xmpp/stanza"
)

// nwwsOIExtension is the custom <x xmlns="nwws-oi"> child carried by every
// NWWS-OI group-chat stanza, grounded on
// seabird-chat-seabird-nwwsio-plugin/internal/nwwsio.go's
// NWWSOIMessageXExtension.
type nwwsOIExtension struct {
	stanza.MsgExtension
	XMLName xml.Name `xml:"nwws-oi x"`
	Text    string   `xml:",chardata"`
	Cccc    string   `xml:"cccc,attr"`
	Ttaaii  string   `xml:"ttaaii,attr"`
	Issue   string   `xml:"issue,attr"`
	AwipsID string   `xml:"awipsid,attr"`
	ID      string   `xml:"id,attr"`
}

// toWireMessage validates the envelope's required attribute lengths (spec
// §4.4: awips 6 chars, cccc 4 chars) and converts it into a wmo.WireMessage,
// preserving the body text's original line breaks and trailing whitespace.
func (x *nwwsOIExtension) toWireMessage(roomJID string, receivedAt time.Time) (wmo.WireMessage, error) {
	awipsID := strings.TrimSpace(x.AwipsID)
	cccc := strings.TrimSpace(x.Cccc)

	if len(cccc) != 4 {
		return wmo.WireMessage{}, fmt.Errorf("malformed_header: cccc %q is not 4 characters", cccc)
	}
	if len(awipsID) != 6 {
		return wmo.WireMessage{}, fmt.Errorf("malformed_header: awipsid %q is not 6 characters", awipsID)
	}

	issuedAt, err := time.Parse(time.RFC3339, x.Issue)
	if err != nil {
		issuedAt = receivedAt
	}

	return wmo.WireMessage{
		ID:         x.ID,
		BodyText:   x.Text,
		IssuedAt:   issuedAt,
		AwipsID:    awipsID,
		Cccc:       cccc,
		Ttaaii:     x.Ttaaii,
		ReceivedAt: receivedAt,
		RoomJID:    roomJID,
	}, nil
}
