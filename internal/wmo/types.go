// Package wmo parses raw NWS text products (the bodies carried by NWWS-OI
// group-chat stanzas) into structured WeatherEvent values: WMO/AWIPS
// headers, UGC geography, VTEC event codes, polygons, and impact-based
// warning tags.
//
// Grounded on the header/AWIPS-ID decoding in
// seabird-chat-seabird-nwwsio-plugin/internal/nwwsio.go, generalized from
// "enough to print a friendly name" to the full product grammar in spec.md
// §4.1/§6, and on the regex-table decoding style of
// rmitchellscott-WxCraft/decoders.go.
package wmo

import (
	"fmt"
	"time"
)

// WireMessage is what the receiver emits: one per valid NWWS-OI stanza.
type WireMessage struct {
	ID          string
	Subject     string
	BodyText    string
	IssuedAt    time.Time
	AwipsID     string
	Cccc        string
	Ttaaii      string
	ReceivedAt  time.Time
	RoomJID     string
}

// VTECFixed is the product-status field of a P-VTEC string.
type VTECFixed string

const (
	VTECOperational             VTECFixed = "O"
	VTECTest                    VTECFixed = "T"
	VTECExperimental            VTECFixed = "E"
	VTECExperimentalInOperational VTECFixed = "X"
)

// VTECAction is the action code of a P-VTEC string.
type VTECAction string

const (
	ActionNEW VTECAction = "NEW"
	ActionCON VTECAction = "CON"
	ActionEXT VTECAction = "EXT"
	ActionEXA VTECAction = "EXA"
	ActionEXB VTECAction = "EXB"
	ActionCAN VTECAction = "CAN"
	ActionUPG VTECAction = "UPG"
	ActionEXP VTECAction = "EXP"
	ActionROU VTECAction = "ROU"
	ActionCOR VTECAction = "COR"
)

// Significance is the VTEC significance letter.
type Significance string

const (
	SigWarning   Significance = "W"
	SigWatch     Significance = "A"
	SigAdvisory  Significance = "Y"
	SigStatement Significance = "S"
	SigForecast  Significance = "F"
	SigOutlook   Significance = "O"
	SigSynopsis  Significance = "N"
)

// VTEC is a decoded primary (P-VTEC) event code.
type VTEC struct {
	Fixed        VTECFixed    `json:"fixed"`
	Action       VTECAction   `json:"action"`
	Office       string       `json:"office"`
	Phenomenon   string       `json:"phenomenon"`
	Significance Significance `json:"significance"`
	ETN          int          `json:"etn"`
	Begin        time.Time    `json:"begin"` // zero value means "already begun" (spec.md §3 invariant 3)
	End          time.Time    `json:"end"`   // zero value means "until further notice"
	Raw          string       `json:"raw"`
}

// BeginUnset reports whether the encoded begin time was the all-zeros
// "already begun" sentinel rather than an actual instant.
func (v VTEC) BeginUnset() bool { return v.Begin.IsZero() }

// EndUnset reports whether the encoded end time was the all-zeros
// "until further notice" sentinel.
func (v VTEC) EndUnset() bool { return v.End.IsZero() }

// RecordStatus is the H-VTEC trailing field.
type RecordStatus string

const (
	RecordOO RecordStatus = "OO"
	RecordNO RecordStatus = "NO"
	RecordNR RecordStatus = "NR"
	RecordUU RecordStatus = "UU"
)

// HVTEC is a decoded hydrologic VTEC string, present only alongside a
// P-VTEC whose phenomenon is in {FF, FA, FL, HY} (spec.md §3 invariant 2).
type HVTEC struct {
	NWSLI          string       `json:"nwsli"`
	Severity       string       `json:"severity"`
	ImmediateCause string       `json:"immediate_cause"`
	FloodBegin     time.Time    `json:"flood_begin"`
	FloodCrest     time.Time    `json:"flood_crest"`
	FloodEnd       time.Time    `json:"flood_end"`
	RecordStatus   RecordStatus `json:"record_status"`
	Raw            string       `json:"raw"`
}

// LatLon is one vertex of a storm polygon, rounded to two decimal places.
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// TimeMotLoc is the decoded TIME...MOT...LOC line.
type TimeMotLoc struct {
	Time         time.Time `json:"time"`
	DirectionDeg int       `json:"direction_deg"`
	SpeedKt      int       `json:"speed_kt"`
	Locations    []LatLon  `json:"locations"`
}

// Segment is one UGC-delimited section of a product.
type Segment struct {
	UGCCodes     []string          `json:"ugc_codes"`
	UGCExpiresAt time.Time         `json:"ugc_expires_at"`
	VTEC         []VTEC            `json:"vtec,omitempty"`
	HVTEC        *HVTEC            `json:"hvtec,omitempty"`
	Headlines    []string          `json:"headlines,omitempty"`
	Polygon      []LatLon          `json:"polygon,omitempty"`
	TimeMotLoc   *TimeMotLoc       `json:"time_mot_loc,omitempty"`
	IBWTags      map[string]string `json:"ibw_tags,omitempty"`
	Geo          []GeoDescriptor   `json:"geo,omitempty"`
}

// GeoDescriptor is the C2 Geo Lookup resolution attached to a UGC code.
type GeoDescriptor struct {
	UGCCode string  `json:"ugc_code"`
	Name    string  `json:"name"`
	State   string  `json:"state"`
	Type    string  `json:"type"` // "county" or "zone"
	Code    string  `json:"code"` // FIPS or zone code
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// WeatherEvent is the canonical, immutable pipeline event produced by Parse.
type WeatherEvent struct {
	EventID         string    `json:"event_id"`
	ProductID       string    `json:"product_id"`
	WMO             string    `json:"wmo"`
	AwipsID         string    `json:"awips_id"`
	Cccc            string    `json:"cccc"`
	ProductCategory string    `json:"product_category"`
	IssuedAt        time.Time `json:"issued_at"`
	ReceivedAt      time.Time `json:"received_at"`
	Text            string    `json:"text"`
	Segments        []Segment `json:"segments"`
	Fingerprint     string    `json:"fingerprint"`
}

// Diagnostics enumerates soft, recoverable issues found while parsing —
// they do not prevent the event from flowing downstream.
type Diagnostics struct {
	Issues []string `json:"issues,omitempty"`
}

func (d *Diagnostics) Add(format string, args ...any) {
	d.Issues = append(d.Issues, fmt.Sprintf(format, args...))
}
