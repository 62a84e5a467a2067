package wmo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsHeadlineLine(t *testing.T) {
	cases := []struct {
		line     string
		wantText string
		wantOK   bool
	}{
		{"...TORNADO EMERGENCY FOR TOPEKA...", "TORNADO EMERGENCY FOR TOPEKA", true},
		{"...THE WARNING WILL BE IN EFFECT UNTIL 700 PM CST...THIS INCLUDES...", "THE WARNING WILL BE IN EFFECT UNTIL 700 PM CST...THIS INCLUDES", true},
		{"HAZARD...80 MPH WIND GUSTS AND QUARTER SIZE HAIL", "", false},
		{"TORNADO...OBSERVED", "", false},
		{"PRECAUTIONARY/PREPAREDNESS ACTIONS...", "", false},
		{"&&", "", false},
		{"......", "", false},
	}
	for _, c := range cases {
		text, ok := isHeadlineLine(c.line)
		assert.Equal(t, c.wantOK, ok, "line %q", c.line)
		assert.Equal(t, c.wantText, text, "line %q", c.line)
	}
}

func TestParseSegment_HeadlineCapturedOnlyForEllipsisGrammar(t *testing.T) {
	text := "COC001-151915-\n" +
		"/O.NEW.KTOP.TO.W.0123.230515T2010Z-230515T2045Z/\n" +
		"...TORNADO EMERGENCY FOR TOPEKA...\n" +
		"HAZARD...80 MPH WIND GUSTS AND QUARTER SIZE HAIL\n" +
		"SOURCE...RADAR INDICATED\n" +
		"TAKE COVER NOW. MOVE TO AN INTERIOR ROOM.\n" +
		"&&\n" +
		"TORNADO...OBSERVED\n"

	diag := &Diagnostics{}
	seg, ok := parseSegment(text, time.Date(2023, 5, 15, 20, 30, 0, 0, time.UTC), diag)
	require.True(t, ok)

	assert.Equal(t, []string{"TORNADO EMERGENCY FOR TOPEKA"}, seg.Headlines,
		"only the ellipsis-delimited line is a headline; HAZARD/SOURCE tags, CTA prose, and && are not")
	assert.Equal(t, "80 MPH WIND GUSTS AND QUARTER SIZE HAIL", seg.IBWTags["HAZARD"])
	assert.Equal(t, "RADAR INDICATED", seg.IBWTags["SOURCE"])
	assert.Equal(t, "OBSERVED", seg.IBWTags["TORNADO"])
}
