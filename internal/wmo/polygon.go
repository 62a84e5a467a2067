package wmo

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// polygonStartRegex matches the "LAT...LON" line that introduces a storm
// polygon block.
var polygonStartRegex = regexp.MustCompile(`^LAT\.\.\.LON\s+(.*)$`)

// coordTokenRegex matches one bare coordinate component: a 4-digit latitude
// or a 4-5 digit longitude, in hundredths of a degree with no decimal point.
var coordTokenRegex = regexp.MustCompile(`^\d{4,5}$`)

// IsPolygonLine reports whether a line opens a LAT...LON block.
func IsPolygonLine(line string) bool {
	return polygonStartRegex.MatchString(strings.TrimSpace(line))
}

// pairCoordTokens consumes whitespace-separated digit tokens two at a time
// (lat, then lon) and converts each pair into a LatLon. Non-numeric tokens
// are skipped rather than rejected, since trailing prose sometimes follows
// the coordinate list on the same physical line.
func pairCoordTokens(tokens []string) ([]LatLon, error) {
	var nums []int
	for _, tok := range tokens {
		if !coordTokenRegex.MatchString(tok) {
			continue
		}
		n, err := strconv.Atoi(tok)
		if err != nil {
			return nil, fmt.Errorf("invalid coordinate token %q: %w", tok, err)
		}
		nums = append(nums, n)
	}
	if len(nums)%2 != 0 {
		return nil, fmt.Errorf("odd number of coordinate components (%d)", len(nums))
	}

	points := make([]LatLon, 0, len(nums)/2)
	for i := 0; i+1 < len(nums); i += 2 {
		lat := float64(nums[i]) / 100.0
		lon := -float64(nums[i+1]) / 100.0
		if lat < -90 || lat > 90 {
			return nil, fmt.Errorf("latitude out of range: %v", lat)
		}
		if lon < -180 || lon > 180 {
			return nil, fmt.Errorf("longitude out of range: %v", lon)
		}
		points = append(points, LatLon{Lat: lat, Lon: lon})
	}
	return points, nil
}

// ParsePolygon decodes a (possibly multi-line) LAT...LON block into its
// vertices. Longitude values in NWS products are always west-of-prime-
// meridian and printed without a sign, so they are negated here.
func ParsePolygon(lines []string) ([]LatLon, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("empty polygon block")
	}
	first := strings.TrimSpace(lines[0])
	m := polygonStartRegex.FindStringSubmatch(first)
	if m == nil {
		return nil, fmt.Errorf("polygon block does not start with LAT...LON: %q", first)
	}

	fields := m[1]
	for _, cont := range lines[1:] {
		fields += " " + strings.TrimSpace(cont)
	}

	points, err := pairCoordTokens(strings.Fields(fields))
	if err != nil {
		return nil, err
	}
	if len(points) < 3 {
		return nil, fmt.Errorf("polygon has fewer than 3 vertices: %d", len(points))
	}
	return points, nil
}

// timeMotLocRegex matches "TIME...MOT...LOC 2015Z 245DEG 32KT 3456 9821 ...".
var timeMotLocRegex = regexp.MustCompile(`^TIME\.\.\.MOT\.\.\.LOC\s+(\d{4})Z\s+(\d{1,3})DEG\s+(\d{1,3})KT\s+(.*)$`)

// IsTimeMotLocLine reports whether a line is a TIME...MOT...LOC line.
func IsTimeMotLocLine(line string) bool {
	return timeMotLocRegex.MatchString(strings.TrimSpace(line))
}

// ParseTimeMotLoc decodes a TIME...MOT...LOC line using issuedAt to resolve
// the embedded HHMM into a full timestamp (same day as issuance, UTC).
func ParseTimeMotLoc(line string, issuedAt time.Time) (TimeMotLoc, error) {
	trimmed := strings.TrimSpace(line)
	m := timeMotLocRegex.FindStringSubmatch(trimmed)
	if m == nil {
		return TimeMotLoc{}, fmt.Errorf("line does not match TIME...MOT...LOC grammar: %q", trimmed)
	}

	hhmm := m[1]
	hour, err := strconv.Atoi(hhmm[0:2])
	if err != nil {
		return TimeMotLoc{}, fmt.Errorf("invalid TIME...MOT...LOC hour %q: %w", hhmm, err)
	}
	minute, err := strconv.Atoi(hhmm[2:4])
	if err != nil {
		return TimeMotLoc{}, fmt.Errorf("invalid TIME...MOT...LOC minute %q: %w", hhmm, err)
	}
	base := issuedAt
	if base.IsZero() {
		base = time.Now().UTC()
	}
	ts := time.Date(base.Year(), base.Month(), base.Day(), hour, minute, 0, 0, time.UTC)

	direction, err := strconv.Atoi(m[2])
	if err != nil {
		return TimeMotLoc{}, fmt.Errorf("invalid direction %q: %w", m[2], err)
	}
	speed, err := strconv.Atoi(m[3])
	if err != nil {
		return TimeMotLoc{}, fmt.Errorf("invalid speed %q: %w", m[3], err)
	}

	points, err := pairCoordTokens(strings.Fields(m[4]))
	if err != nil {
		return TimeMotLoc{}, err
	}
	if len(points) == 0 {
		return TimeMotLoc{}, fmt.Errorf("no locations decoded from TIME...MOT...LOC line: %q", trimmed)
	}

	return TimeMotLoc{Time: ts, DirectionDeg: direction, SpeedKt: speed, Locations: points}, nil
}
