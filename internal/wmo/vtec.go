package wmo

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// pvtecRegex matches a full P-VTEC string per spec.md §6:
// /k.aaa.cccc.pp.s.####.yymmddThhnnZ-yymmddThhnnZ/
var pvtecRegex = regexp.MustCompile(
	`^/([OTEX])\.([A-Z]{3})\.([A-Z]{4})\.([A-Z]{2})\.([WAYSFON])\.(\d{4})\.(\d{6}T\d{4}Z|000000T0000Z)-(\d{6}T\d{4}Z|000000T0000Z)/$`)

// hvtecRegex matches an H-VTEC string per spec.md §6:
// /nwsli.s.ic.yymmddThhnnZ.yymmddThhnnZ.yymmddThhnnZ.fr/
var hvtecRegex = regexp.MustCompile(
	`^/([A-Z0-9]{5})\.([N0-3U])\.([A-Z]{2})\.(\d{6}T\d{4}Z|000000T0000Z)\.(\d{6}T\d{4}Z|000000T0000Z)\.(\d{6}T\d{4}Z|000000T0000Z)\.(OO|NO|NR|UU)/$`)

// hvtecPhenomena are the phenomena that may carry a following H-VTEC string
// (spec.md §3 invariant 2).
var hvtecPhenomena = map[string]bool{"FF": true, "FA": true, "FL": true, "HY": true}

func vtecTimestamp(raw string) (time.Time, error) {
	if raw == "000000T0000Z" {
		return time.Time{}, nil
	}
	t, err := time.Parse("060102T1504Z", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid VTEC timestamp %q: %w", raw, err)
	}
	return t, nil
}

// ParsePVTEC decodes one P-VTEC string.
func ParsePVTEC(line string) (VTEC, error) {
	trimmed := strings.TrimSpace(line)
	m := pvtecRegex.FindStringSubmatch(trimmed)
	if m == nil {
		return VTEC{}, fmt.Errorf("line does not match P-VTEC grammar: %q", trimmed)
	}

	etn, err := strconv.Atoi(m[6])
	if err != nil {
		return VTEC{}, fmt.Errorf("invalid ETN %q: %w", m[6], err)
	}

	begin, err := vtecTimestamp(m[7])
	if err != nil {
		return VTEC{}, err
	}
	end, err := vtecTimestamp(m[8])
	if err != nil {
		return VTEC{}, err
	}

	return VTEC{
		Fixed:        VTECFixed(m[1]),
		Action:       VTECAction(m[2]),
		Office:       m[3],
		Phenomenon:   m[4],
		Significance: Significance(m[5]),
		ETN:          etn,
		Begin:        begin,
		End:          end,
		Raw:          trimmed,
	}, nil
}

// RequiresHVTEC reports whether a phenomenon code is paired with a
// following H-VTEC string per spec.md §3 invariant 2.
func RequiresHVTEC(phenomenon string) bool {
	return hvtecPhenomena[phenomenon]
}

// ParseHVTEC decodes one H-VTEC string.
func ParseHVTEC(line string) (HVTEC, error) {
	trimmed := strings.TrimSpace(line)
	m := hvtecRegex.FindStringSubmatch(trimmed)
	if m == nil {
		return HVTEC{}, fmt.Errorf("line does not match H-VTEC grammar: %q", trimmed)
	}

	floodBegin, err := vtecTimestamp(m[4])
	if err != nil {
		return HVTEC{}, err
	}
	floodCrest, err := vtecTimestamp(m[5])
	if err != nil {
		return HVTEC{}, err
	}
	floodEnd, err := vtecTimestamp(m[6])
	if err != nil {
		return HVTEC{}, err
	}

	return HVTEC{
		NWSLI:          m[1],
		Severity:       m[2],
		ImmediateCause: m[3],
		FloodBegin:     floodBegin,
		FloodCrest:     floodCrest,
		FloodEnd:       floodEnd,
		RecordStatus:   RecordStatus(m[7]),
		Raw:            trimmed,
	}, nil
}

// IsPVTECLine and IsHVTECLine let the segmenter recognize VTEC lines without
// fully decoding them.
func IsPVTECLine(line string) bool {
	return pvtecRegex.MatchString(strings.TrimSpace(line))
}

func IsHVTECLine(line string) bool {
	return hvtecRegex.MatchString(strings.TrimSpace(line))
}
