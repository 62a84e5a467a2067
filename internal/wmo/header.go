package wmo

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// wmoLineRegex matches the first line of a product: TTAAII CCCC DDHHMM [BBB].
var wmoLineRegex = regexp.MustCompile(`^([A-Z]{4})([0-9]{2})\s+([A-Z]{4})\s+(\d{6})(?:\s+([A-Z]{3}))?\s*$`)

// header holds the decoded WMO abbreviated heading.
type header struct {
	TTAAII string
	CCCC   string
	DDHHMM string
	BBB    string
}

// parseWMOLine extracts the WMO abbreviated heading from the product's first
// non-blank line. It is the only structurally-required line: its absence is
// a ParseError per spec.md §4.1 failure semantics.
func parseWMOLine(lines []string) (header, int, error) {
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		m := wmoLineRegex.FindStringSubmatch(trimmed)
		if m == nil {
			return header{}, 0, fmt.Errorf("no WMO abbreviated heading found in first non-blank line %q", trimmed)
		}
		return header{
			TTAAII: m[1] + m[2],
			CCCC:   m[3],
			DDHHMM: m[4],
			BBB:    m[5],
		}, i, nil
	}
	return header{}, 0, fmt.Errorf("product body is empty")
}

// parseAwipsLine extracts the AWIPS identifier, the line immediately
// following the WMO heading, per spec.md §6.
func parseAwipsLine(lines []string, afterIdx int) (string, int) {
	for i := afterIdx + 1; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			continue
		}
		if len(trimmed) >= 3 && len(trimmed) <= 6 && isUpperAlnum(trimmed) {
			return trimmed, i
		}
		// Not an AWIPS line (e.g. straight into MND prose); AWIPS ID is
		// optional per spec.md §4.1 edge-case policy.
		return "", afterIdx
	}
	return "", afterIdx
}

func isUpperAlnum(s string) bool {
	for _, r := range s {
		if !((r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}

// resolveIssuedAt combines the WMO DDHHMM (UTC day-hour-minute of the
// current month) with the WireMessage's own issued timestamp attribute to
// disambiguate month/year, per spec.md §4.1 stage 1.
func resolveIssuedAt(ddhhmm string, envelopeIssued time.Time) (time.Time, error) {
	if len(ddhhmm) != 6 {
		return time.Time{}, fmt.Errorf("invalid DDHHMM %q", ddhhmm)
	}
	day, err := strconv.Atoi(ddhhmm[0:2])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid DDHHMM day %q: %w", ddhhmm, err)
	}
	hour, err := strconv.Atoi(ddhhmm[2:4])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid DDHHMM hour %q: %w", ddhhmm, err)
	}
	minute, err := strconv.Atoi(ddhhmm[4:6])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid DDHHMM minute %q: %w", ddhhmm, err)
	}

	base := envelopeIssued
	if base.IsZero() {
		base = time.Now().UTC()
	}

	// DDHHMM carries no month or year, so try the envelope's month and its
	// immediate neighbors and keep whichever valid candidate lands closest
	// to the envelope timestamp. This handles rollover in both directions
	// (e.g. envelope dated Jun 1, heading day 31 belongs to May).
	var best time.Time
	bestDiff := time.Duration(-1)
	for _, delta := range [3]int{0, -1, 1} {
		monthStart := time.Date(base.Year(), base.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, delta, 0)
		if day < 1 || day > daysInMonth(monthStart.Year(), monthStart.Month()) {
			continue
		}
		candidate := time.Date(monthStart.Year(), monthStart.Month(), day, hour, minute, 0, 0, time.UTC)
		diff := candidate.Sub(base)
		if diff < 0 {
			diff = -diff
		}
		if bestDiff < 0 || diff < bestDiff {
			bestDiff = diff
			best = candidate
		}
	}
	if bestDiff < 0 {
		return time.Time{}, fmt.Errorf("day %d is not valid in any month near %s", day, base.Format("2006-01-02"))
	}

	return best, nil
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
