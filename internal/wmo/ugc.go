package wmo

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ugcLineRegex matches a full UGC line, e.g. "COC001>005-013-151915-" or
// "KSC023-151915-". The expiration group is the trailing DDHHMM.
var ugcLineRegex = regexp.MustCompile(`^([A-Z0-9>\-]+)-(\d{6})-\s*$`)

// ugcTokenRegex matches one UGC code or range start, e.g. "COC001" or
// "005" (a continuation using the prior state+type prefix).
var ugcTokenRegex = regexp.MustCompile(`^([A-Z]{2})?([CZ])?(\d{3})(?:>(\d{3}))?$`)

// ParseUGCLine expands a UGC line into its codes and trailing expiration
// time. Mixed C/Z prefixes within one line are rejected as malformed per
// spec.md §9 open question 3.
func ParseUGCLine(line string) ([]string, time.Time, error) {
	trimmed := strings.TrimSpace(line)
	m := ugcLineRegex.FindStringSubmatch(trimmed)
	if m == nil {
		return nil, time.Time{}, fmt.Errorf("line does not match UGC grammar: %q", trimmed)
	}

	body := m[1]
	ddhhmm := m[2]

	expires, err := parseUGCExpiration(ddhhmm)
	if err != nil {
		return nil, time.Time{}, err
	}

	codes, err := expandUGCBody(body)
	if err != nil {
		return nil, time.Time{}, err
	}

	return codes, expires, nil
}

// IsUGCLine reports whether a line looks like a UGC header line, used by the
// segmenter to locate segment boundaries without fully parsing.
func IsUGCLine(line string) bool {
	return ugcLineRegex.MatchString(strings.TrimSpace(line))
}

func parseUGCExpiration(ddhhmm string) (time.Time, error) {
	if len(ddhhmm) != 6 {
		return time.Time{}, fmt.Errorf("invalid UGC expiration %q", ddhhmm)
	}
	day, err1 := strconv.Atoi(ddhhmm[0:2])
	hour, err2 := strconv.Atoi(ddhhmm[2:4])
	minute, err3 := strconv.Atoi(ddhhmm[4:6])
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, fmt.Errorf("invalid UGC expiration digits %q", ddhhmm)
	}
	now := time.Now().UTC()
	expires := time.Date(now.Year(), now.Month(), day, hour, minute, 0, 0, time.UTC)
	// If the expiration day has already passed this month by a wide margin,
	// it belongs to next month (the segment expires shortly after issuance).
	if expires.Before(now.AddDate(0, 0, -20)) {
		expires = expires.AddDate(0, 1, 0)
	}
	return expires, nil
}

// expandUGCBody expands hyphen-compressed codes such as
// "COC001>005-013" into ["COC001","COC002","COC003","COC004","COC005","COC013"].
func expandUGCBody(body string) ([]string, error) {
	parts := strings.Split(body, "-")

	var state, kind string
	var result []string
	sawCounty, sawZone := false, false

	for _, part := range parts {
		if part == "" {
			continue
		}
		m := ugcTokenRegex.FindStringSubmatch(part)
		if m == nil {
			return nil, fmt.Errorf("invalid UGC token %q in %q", part, body)
		}

		if m[1] != "" {
			state = m[1]
		}
		if m[2] != "" {
			kind = m[2]
		}
		if state == "" || kind == "" {
			return nil, fmt.Errorf("UGC token %q missing state/type prefix", part)
		}

		switch kind {
		case "C":
			sawCounty = true
		case "Z":
			sawZone = true
		}
		if sawCounty && sawZone {
			return nil, fmt.Errorf("UGC list mixes county (C) and zone (Z) prefixes: %q", body)
		}

		start, err := strconv.Atoi(m[3])
		if err != nil {
			return nil, fmt.Errorf("invalid UGC number %q: %w", m[3], err)
		}

		end := start
		if m[4] != "" {
			end, err = strconv.Atoi(m[4])
			if err != nil {
				return nil, fmt.Errorf("invalid UGC range end %q: %w", m[4], err)
			}
		}
		if end < start {
			return nil, fmt.Errorf("UGC range %q is descending", part)
		}

		for n := start; n <= end; n++ {
			result = append(result, fmt.Sprintf("%s%s%03d", state, kind, n))
		}
	}

	if len(result) == 0 {
		return nil, fmt.Errorf("no UGC codes decoded from %q", body)
	}

	return result, nil
}
