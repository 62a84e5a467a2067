package dbsink

import (
	"fmt"
	"strings"
	"time"

	"github.com/nwws-relay/nwws-relay/internal/wmo"
)

type eventRow struct {
	EventID         string    `db:"event_id"`
	ProductID       string    `db:"product_id"`
	Cccc            string    `db:"cccc"`
	AwipsID         string    `db:"awips_id"`
	ProductCategory string    `db:"product_category"`
	IssuedAt        time.Time `db:"issued_at"`
	ReceivedAt      time.Time `db:"received_at"`
	WMO             string    `db:"wmo"`
	Text            string    `db:"text"`
}

type contentRow struct {
	EventID       string     `db:"event_id"`
	SegmentIndex  int        `db:"segment_index"`
	UGCExpiresAt  *time.Time `db:"ugc_expires_at"`
	HasVTEC       bool       `db:"has_vtec"`
	VTECUFN       bool       `db:"vtec_ufn"`
	VTECExpiresAt *time.Time `db:"vtec_expires_at"`
	PolygonWKT    *string    `db:"polygon_wkt"`
	Body          string     `db:"body"`
}

type metadataRow struct {
	EventID string `db:"event_id"`
	Key     string `db:"meta_key"`
	Value   string `db:"meta_value"`
}

// rowsForEvent flattens a WeatherEvent into the events/event_content/
// event_metadata rows spec.md §4.6 describes.
func rowsForEvent(w *wmo.WeatherEvent) (eventRow, []contentRow, []metadataRow) {
	ev := eventRow{
		EventID:         w.EventID,
		ProductID:       w.ProductID,
		Cccc:            w.Cccc,
		AwipsID:         w.AwipsID,
		ProductCategory: w.ProductCategory,
		IssuedAt:        w.IssuedAt,
		ReceivedAt:      w.ReceivedAt,
		WMO:             w.WMO,
		Text:            w.Text,
	}

	contents := make([]contentRow, 0, len(w.Segments))
	var metadata []metadataRow

	for i, seg := range w.Segments {
		c := contentRow{
			EventID:      w.EventID,
			SegmentIndex: i,
			Body:         strings.Join(seg.Headlines, "\n"),
		}
		if !seg.UGCExpiresAt.IsZero() {
			t := seg.UGCExpiresAt
			c.UGCExpiresAt = &t
		}
		if wkt := polygonWKT(seg.Polygon); wkt != "" {
			c.PolygonWKT = &wkt
		}

		var latestEnd time.Time
		hasUFN := false
		for _, v := range seg.VTEC {
			c.HasVTEC = true
			if v.EndUnset() {
				hasUFN = true
				continue
			}
			if v.End.After(latestEnd) {
				latestEnd = v.End
			}
		}
		if c.HasVTEC && hasUFN {
			c.VTECUFN = true
		} else if c.HasVTEC && !latestEnd.IsZero() {
			c.VTECExpiresAt = &latestEnd
		}

		for vi, v := range seg.VTEC {
			metadata = append(metadata,
				metadataRow{w.EventID, fmt.Sprintf("seg%d.vtec.%d.raw", i, vi), v.Raw},
				metadataRow{w.EventID, fmt.Sprintf("seg%d.vtec.%d.phenomenon", i, vi), v.Phenomenon},
				metadataRow{w.EventID, fmt.Sprintf("seg%d.vtec.%d.significance", i, vi), string(v.Significance)},
				metadataRow{w.EventID, fmt.Sprintf("seg%d.vtec.%d.action", i, vi), string(v.Action)},
			)
		}
		if seg.HVTEC != nil {
			metadata = append(metadata,
				metadataRow{w.EventID, fmt.Sprintf("seg%d.hvtec.nwsli", i), seg.HVTEC.NWSLI},
				metadataRow{w.EventID, fmt.Sprintf("seg%d.hvtec.severity", i), seg.HVTEC.Severity},
				metadataRow{w.EventID, fmt.Sprintf("seg%d.hvtec.immediate_cause", i), seg.HVTEC.ImmediateCause},
				metadataRow{w.EventID, fmt.Sprintf("seg%d.hvtec.record_status", i), string(seg.HVTEC.RecordStatus)},
			)
		}
		for k, v := range seg.IBWTags {
			metadata = append(metadata, metadataRow{w.EventID, fmt.Sprintf("seg%d.ibw.%s", i, strings.ToLower(k)), v})
		}
		for hi, h := range seg.Headlines {
			metadata = append(metadata, metadataRow{w.EventID, fmt.Sprintf("seg%d.headline.%d", i, hi), h})
		}

		contents = append(contents, c)
	}

	return ev, contents, metadata
}

func polygonWKT(points []wmo.LatLon) string {
	if len(points) == 0 {
		return ""
	}
	parts := make([]string, len(points))
	for i, p := range points {
		parts[i] = fmt.Sprintf("%g %g", p.Lon, p.Lat)
	}
	return "POLYGON((" + strings.Join(parts, ", ") + "))"
}

// retentionCategoryGroups is the product_category -> bucket grouping from
// spec.md §4.6's retention table. Each bucket's actual retention duration
// is configurable; see buildRetentionBuckets in cleanup.go.
var retentionCategoryGroups = [][]string{
	{"TOR", "SVR", "EWW", "SMW"}, // short-duration warnings
	{"FFW", "FLW", "CFW"},        // medium-duration flood
	{"WSW", "FFA"},               // long-duration / winter
	{"ZFP", "NOW", "SPS"},        // routine
	{"PNS", "LSR", "PSH"},        // administrative
}
