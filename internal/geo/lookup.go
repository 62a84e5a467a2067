// Package geo resolves NWS UGC codes (e.g. "COC001", "KSZ023") to the
// county/zone geography they name. The dataset is embedded into the binary
// the way ClusterCockpit-cc-backend/internal/repository/migration.go embeds
// its SQL migrations with //go:embed, and parsed once into an immutable map
// at construction so Resolve never touches disk or takes a lock.
package geo

import (
	"embed"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/nwws-relay/nwws-relay/internal/wmo"
)

//go:embed data/ugc.csv
var embeddedData embed.FS

// Lookup serves UGC-to-geography resolution from an in-memory table built
// once at construction. It implements wmo.GeoResolver.
type Lookup struct {
	byCode map[string]wmo.GeoDescriptor
}

// New builds a Lookup from the dataset embedded at build time.
func New() (*Lookup, error) {
	f, err := embeddedData.Open("data/ugc.csv")
	if err != nil {
		return nil, fmt.Errorf("geo: open embedded dataset: %w", err)
	}
	defer f.Close()
	return load(f)
}

// load parses a UGC CSV dataset (ugc,name,state,type,code,lat,lon) into a
// Lookup. Exposed unexported so tests can load fixture readers directly.
func load(r io.Reader) (*Lookup, error) {
	reader := csv.NewReader(r)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("geo: parse dataset: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("geo: dataset has no data rows")
	}

	byCode := make(map[string]wmo.GeoDescriptor, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) != 7 {
			return nil, fmt.Errorf("geo: malformed dataset row: %v", row)
		}
		lat, err := strconv.ParseFloat(row[5], 64)
		if err != nil {
			return nil, fmt.Errorf("geo: invalid latitude in row %v: %w", row, err)
		}
		lon, err := strconv.ParseFloat(row[6], 64)
		if err != nil {
			return nil, fmt.Errorf("geo: invalid longitude in row %v: %w", row, err)
		}
		byCode[row[0]] = wmo.GeoDescriptor{
			UGCCode: row[0],
			Name:    row[1],
			State:   row[2],
			Type:    row[3],
			Code:    row[4],
			Lat:     lat,
			Lon:     lon,
		}
	}

	return &Lookup{byCode: byCode}, nil
}

// Resolve returns the geography for a UGC code, or false if unknown.
func (l *Lookup) Resolve(ugcCode string) (wmo.GeoDescriptor, bool) {
	g, ok := l.byCode[ugcCode]
	return g, ok
}

// Len reports how many UGC codes the dataset covers, used by readiness
// checks and tests.
func (l *Lookup) Len() int {
	return len(l.byCode)
}
