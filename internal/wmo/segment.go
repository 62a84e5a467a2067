package wmo

import (
	"strings"
	"time"
)

// isIBWTagLine recognizes a "KEY...VALUE" impact-based-warning coded tag
// line, e.g. "TORNADO...RADAR INDICATED" or "HAIL THREAT...RADAR INDICATED".
func isIBWTagLine(line string) (key, value string, ok bool) {
	trimmed := strings.TrimSpace(line)
	idx := strings.Index(trimmed, "...")
	if idx <= 0 {
		return "", "", false
	}
	key = strings.TrimSpace(trimmed[:idx])
	value = strings.TrimSpace(trimmed[idx+3:])
	if key == "" || value == "" {
		return "", "", false
	}
	// Only treat all-caps, space-separated keys as IBW tags; prose lines
	// that happen to contain "..." (e.g. sentence trailing ellipses) are
	// excluded by requiring the key be short and shouting-case.
	if len(key) > 40 || key != strings.ToUpper(key) {
		return "", "", false
	}
	return key, value, true
}

// isHeadlineLine recognizes a "...TEXT..." triple-dot-delimited headline
// line (spec §4.1 stage 5), as distinct from HAZARD/SOURCE/IMPACT prose and
// "&&"-delimited call-to-action text, neither of which is ellipsis-bounded
// on both ends.
func isHeadlineLine(line string) (string, bool) {
	const delim = "..."
	if !strings.HasPrefix(line, delim) || !strings.HasSuffix(line, delim) {
		return "", false
	}
	if len(line) <= 2*len(delim) {
		return "", false
	}
	text := strings.TrimSpace(line[len(delim) : len(line)-len(delim)])
	if text == "" {
		return "", false
	}
	return text, true
}

// splitSegments splits a product body into its `$`-delimited segments.
// Blank pieces, such as the one after the closing `$$`, are dropped; a
// non-blank piece after the last `$` is kept as a segment.
func splitSegments(body string) []string {
	raw := strings.Split(body, "$")
	segments := make([]string, 0, len(raw))
	for _, s := range raw {
		if strings.TrimSpace(s) == "" {
			continue
		}
		segments = append(segments, s)
	}
	return segments
}

// parseSegment decodes one `$`-delimited segment: its UGC line, any VTEC /
// H-VTEC strings, headline and IBW-tag lines, and an optional polygon /
// TIME...MOT...LOC block.
func parseSegment(text string, issuedAt time.Time, diag *Diagnostics) (Segment, bool) {
	lines := strings.Split(text, "\n")

	var seg Segment
	seg.IBWTags = map[string]string{}

	haveUGC := false
	var polygonLines []string
	inPolygon := false

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			inPolygon = false
			continue
		}

		switch {
		case !haveUGC && IsUGCLine(trimmed):
			codes, expires, err := ParseUGCLine(trimmed)
			if err != nil {
				diag.Add("segment UGC line rejected: %v", err)
				continue
			}
			seg.UGCCodes = codes
			seg.UGCExpiresAt = expires
			haveUGC = true

		case IsPVTECLine(trimmed):
			v, err := ParsePVTEC(trimmed)
			if err != nil {
				diag.Add("P-VTEC line rejected: %v", err)
				continue
			}
			seg.VTEC = append(seg.VTEC, v)

		case IsHVTECLine(trimmed):
			h, err := ParseHVTEC(trimmed)
			if err != nil {
				diag.Add("H-VTEC line rejected: %v", err)
				continue
			}
			seg.HVTEC = &h

		case IsPolygonLine(trimmed):
			inPolygon = true
			polygonLines = []string{trimmed}

		case inPolygon && looksLikeCoordinateContinuation(trimmed):
			polygonLines = append(polygonLines, trimmed)

		case IsTimeMotLocLine(trimmed):
			inPolygon = false
			tml, err := ParseTimeMotLoc(trimmed, issuedAt)
			if err != nil {
				diag.Add("TIME...MOT...LOC line rejected: %v", err)
				continue
			}
			seg.TimeMotLoc = &tml

		default:
			inPolygon = false
			if key, value, ok := isIBWTagLine(trimmed); ok {
				seg.IBWTags[key] = value
			} else if headline, ok := isHeadlineLine(trimmed); ok {
				seg.Headlines = append(seg.Headlines, headline)
			}
		}
	}

	if len(polygonLines) > 0 {
		poly, err := ParsePolygon(polygonLines)
		if err != nil {
			diag.Add("polygon block rejected: %v", err)
		} else {
			seg.Polygon = poly
		}
	}

	if !haveUGC {
		return Segment{}, false
	}

	for _, v := range seg.VTEC {
		if RequiresHVTEC(v.Phenomenon) && seg.HVTEC == nil {
			diag.Add("phenomenon %q requires H-VTEC but none present", v.Phenomenon)
		}
	}

	return seg, true
}

// looksLikeCoordinateContinuation reports whether a line is entirely made up
// of bare digit tokens, i.e. a continuation of a multi-line LAT...LON block.
func looksLikeCoordinateContinuation(line string) bool {
	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return false
	}
	for _, tok := range tokens {
		if !coordTokenRegex.MatchString(tok) {
			return false
		}
	}
	return true
}
