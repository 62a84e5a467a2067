package dbsink

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nwws-relay/nwws-relay/internal/wmo"
)

func TestInsert_PersistsEventContentAndMetadata(t *testing.T) {
	repo := openTestRepository(t)
	ctx := context.Background()

	w := weatherEventFixture("evt-1", "TOR", time.Now().UTC())
	w.Segments[0].VTEC = []wmo.VTEC{{
		Action: wmo.ActionNEW, Phenomenon: "TO", Significance: wmo.SigWarning,
		End: time.Now().Add(time.Hour), Raw: "O.NEW.KOUN.TO.W.0001.000000T0000Z-000000T0100Z",
	}}
	w.Segments[0].IBWTags = map[string]string{"TORNADO_DAMAGE_THREAT": "CONSIDERABLE"}

	require.NoError(t, repo.Insert(ctx, w))

	var count int
	require.NoError(t, repo.db.Get(&count, `SELECT COUNT(*) FROM events WHERE event_id = ?`, "evt-1"))
	assert.Equal(t, 1, count)

	require.NoError(t, repo.db.Get(&count, `SELECT COUNT(*) FROM event_content WHERE event_id = ?`, "evt-1"))
	assert.Equal(t, 1, count)

	require.NoError(t, repo.db.Get(&count, `SELECT COUNT(*) FROM event_metadata WHERE event_id = ? AND meta_key LIKE '%ibw%'`, "evt-1"))
	assert.Equal(t, 1, count)
}

func TestInsert_DuplicateEventIDFails(t *testing.T) {
	repo := openTestRepository(t)
	ctx := context.Background()

	w := weatherEventFixture("evt-dup", "TOR", time.Now().UTC())
	require.NoError(t, repo.Insert(ctx, w))
	err := repo.Insert(ctx, w)
	assert.Error(t, err)
}

func TestInsert_RollsBackOnFailure(t *testing.T) {
	repo := openTestRepository(t)
	ctx := context.Background()

	w := weatherEventFixture("evt-rollback", "TOR", time.Now().UTC())
	require.NoError(t, repo.Insert(ctx, w))

	// Re-inserting the same event fails at the events table; content rows
	// from the failed attempt must not linger.
	_ = repo.Insert(ctx, w)

	var count int
	require.NoError(t, repo.db.Get(&count, `SELECT COUNT(*) FROM event_content WHERE event_id = ?`, "evt-rollback"))
	assert.Equal(t, 1, count)
}
