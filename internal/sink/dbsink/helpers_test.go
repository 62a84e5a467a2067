package dbsink

import (
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/nwws-relay/nwws-relay/internal/wmo"
)

// openTestRepository opens an in-memory sqlite3 database pinned to a single
// connection (required for :memory: to survive across queries) and applies
// migrations.
func openTestRepository(t *testing.T) *Repository {
	t.Helper()
	db, err := sqlx.Open("sqlite3", "file::memory:?cache=shared&_foreign_keys=on")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, runMigrations(db.DB))
	return openExisting(db)
}

func weatherEventFixture(eventID, category string, receivedAt time.Time) *wmo.WeatherEvent {
	return &wmo.WeatherEvent{
		EventID:         eventID,
		ProductID:       eventID + ".1",
		WMO:             "WUUS53 KOUN 010000",
		AwipsID:         "TORTOP",
		Cccc:            "KOUN",
		ProductCategory: category,
		IssuedAt:        receivedAt,
		ReceivedAt:      receivedAt,
		Text:            "fixture product text",
		Segments: []wmo.Segment{
			{
				UGCCodes:  []string{"OKC001"},
				Headlines: []string{"TORNADO WARNING"},
			},
		},
	}
}
