package wmo

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nwws-relay/nwws-relay/internal/errs"
)

// GeoResolver resolves a UGC code to its geography, implemented by
// internal/geo.Lookup. Declared here, rather than imported, to keep wmo free
// of a dependency on geo (geo depends on wmo's GeoDescriptor type instead).
type GeoResolver interface {
	Resolve(ugcCode string) (GeoDescriptor, bool)
}

// Parse decodes a raw wire message into a WeatherEvent, following the
// pipeline in spec.md §4.1: WMO heading -> AWIPS ID -> segmentation -> per
// segment UGC/VTEC/polygon decoding -> geo resolution -> fingerprinting.
//
// A malformed WMO heading is the only failure that aborts parsing entirely
// (errs.KindMalformed); every other irregularity is recorded in the
// returned Diagnostics and parsing continues on a best-effort basis, so a
// single bad segment never discards an otherwise-valid multi-segment
// product.
func Parse(msg WireMessage, geo GeoResolver) (*WeatherEvent, Diagnostics, error) {
	var diag Diagnostics

	lines := strings.Split(strings.ReplaceAll(msg.BodyText, "\r\n", "\n"), "\n")

	hdr, hdrIdx, err := parseWMOLine(lines)
	if err != nil {
		return nil, diag, errs.Wrap(errs.KindMalformed, "wmo.Parse", err)
	}

	awipsID, awipsIdx := parseAwipsLine(lines, hdrIdx)
	if awipsID == "" {
		awipsID = msg.AwipsID // fall back to the stanza extension's copy
	}

	issuedAt, err := resolveIssuedAt(hdr.DDHHMM, msg.IssuedAt)
	if err != nil {
		diag.Add("could not resolve issue time from heading, using envelope time: %v", err)
		issuedAt = msg.IssuedAt
	}

	body := strings.Join(lines[max(hdrIdx, awipsIdx)+1:], "\n")
	rawSegments := splitSegments(body)

	segments := make([]Segment, 0, len(rawSegments))
	for _, raw := range rawSegments {
		seg, ok := parseSegment(raw, issuedAt, &diag)
		if !ok {
			continue
		}
		if geo != nil {
			for _, code := range seg.UGCCodes {
				if g, found := geo.Resolve(code); found {
					seg.Geo = append(seg.Geo, g)
				} else {
					diag.Add("no geography found for UGC code %q", code)
				}
			}
		}
		segments = append(segments, seg)
	}

	cccc := hdr.CCCC
	if cccc == "" {
		cccc = msg.Cccc
	}

	fp := Fingerprint(cccc, awipsID, issuedAt, msg.BodyText)

	event := &WeatherEvent{
		EventID:         uuid.New().String(),
		ProductID:       fmt.Sprintf("%s-%s-%s", cccc, awipsID, hdr.DDHHMM),
		WMO:             hdr.TTAAII,
		AwipsID:         awipsID,
		Cccc:            cccc,
		ProductCategory: CategoryForAwipsID(awipsID),
		IssuedAt:        issuedAt,
		ReceivedAt:      msg.ReceivedAt,
		Text:            msg.BodyText,
		Segments:        segments,
		Fingerprint:     fp,
	}

	if len(segments) == 0 && len(rawSegments) > 0 {
		diag.Add("product had %d segment(s) but none carried a recognizable UGC line", len(rawSegments))
	}

	return event, diag, nil
}
