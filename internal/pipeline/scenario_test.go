package pipeline_test

// End-to-end coverage driving parse -> pipeline -> sinks against the
// scenarios described in spec.md §8, using a sqlite file under t.TempDir()
// for the DB sink (real dbsink.Open, not an in-memory fake) and a recording
// fake in place of an MQTT broker.
//
// The reconnect-storm scenario is exercised separately in
// internal/receiver/receiver_test.go's
// TestReceiver_ReconnectStorm_AttemptsGrowAndErrorsSurface, which calls
// onXMPPError directly: the rest of that scenario (the connected gauge
// flipping, reconnects_total incrementing) runs through onConnect, which
// needs a live or fake xmpp.Sender that nothing in this module can safely
// stand in for without a real XMPP client library on hand.

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nwws-relay/nwws-relay/internal/config"
	"github.com/nwws-relay/nwws-relay/internal/pipeline"
	"github.com/nwws-relay/nwws-relay/internal/sink/dbsink"
	"github.com/nwws-relay/nwws-relay/internal/stats"
	"github.com/nwws-relay/nwws-relay/internal/wmo"
)

// recordingSink stands in for the MQTT sink: it captures every delivered
// event and the topic it would have published on, without a broker.
type recordingSink struct {
	mu   sync.Mutex
	sent []recordedPublish
}

type recordedPublish struct {
	topic string
	event pipeline.Event
}

func (s *recordingSink) Name() string { return "mqtt" }

func (s *recordingSink) Send(_ context.Context, e pipeline.Event) error {
	if e.Kind != pipeline.KindWeather || e.Weather == nil {
		return nil
	}
	w := e.Weather
	s.mu.Lock()
	s.sent = append(s.sent, recordedPublish{
		topic: fmt.Sprintf("nwws/%s/%s/%s", w.Cccc, w.AwipsID, w.ProductID),
		event: e,
	})
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *recordingSink) last() recordedPublish {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[len(s.sent)-1]
}

func openScenarioDB(t *testing.T) (*dbsink.Repository, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.db")
	repo, err := dbsink.Open(config.DB{DatabaseURL: path, PoolSize: 1, PoolRecycleSeconds: time.Hour})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo, path
}

func countRows(t *testing.T, dbPath, table string) int {
	t.Helper()
	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	defer db.Close()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func scenarioConfig(name string) pipeline.Config {
	return pipeline.Config{
		Name:                     name,
		QueueSize:                16,
		SinkQueueSize:            16,
		ProcessingTimeout:        time.Second,
		ShutdownDrainGracePeriod: 50 * time.Millisecond,
		ErrorPolicy:              pipeline.ErrorPolicy{Strategy: pipeline.StrategyContinue},
	}
}

func runScenarioPipeline(t *testing.T, p *pipeline.Pipeline) (cancel context.CancelFunc, done <-chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	doneCh := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(doneCh)
	}()
	t.Cleanup(func() {
		cancel()
		<-doneCh
	})
	return cancel, doneCh
}

const tornadoEmergencyProduct = "WFUS53 KTOP 151830\n" +
	"TORTOP\n" +
	"\n" +
	"BULLETIN - EAS ACTIVATION REQUESTED\n" +
	"Tornado Warning\n" +
	"National Weather Service Topeka KS\n" +
	"130 PM CST MON JAN 15 2024\n" +
	"\n" +
	"KSC023-151915-\n" +
	"/O.NEW.KTOP.TO.W.0042.240115T1830Z-240115T1915Z/\n" +
	"...TORNADO EMERGENCY FOR TOPEKA...\n" +
	"TORNADO...OBSERVED\n" +
	"TORNADO DAMAGE THREAT...CATASTROPHIC\n" +
	"$$\n"

// Scenario 1: tornado warning with a tornado emergency headline fans out to
// both the MQTT and DB sinks and increments events_processed_total.
func TestScenario_TornadoEmergency(t *testing.T) {
	msg := wmo.WireMessage{
		ID:         "stanza-1",
		BodyText:   tornadoEmergencyProduct,
		IssuedAt:   time.Date(2024, 1, 15, 18, 30, 0, 0, time.UTC),
		ReceivedAt: time.Date(2024, 1, 15, 18, 30, 2, 0, time.UTC),
		AwipsID:    "TORTOP",
		Cccc:       "KTOP",
	}
	event, _, err := wmo.Parse(msg, nil)
	require.NoError(t, err)
	require.Equal(t, "TOR", event.ProductCategory)
	require.Len(t, event.Segments, 1)
	require.Len(t, event.Segments[0].VTEC, 1)
	require.Equal(t, 42, event.Segments[0].VTEC[0].ETN)
	require.Equal(t, "CATASTROPHIC", event.Segments[0].IBWTags["TORNADO DAMAGE THREAT"])

	repo, dbPath := openScenarioDB(t)
	mqtt := &recordingSink{}
	metrics := stats.NewForTesting()

	p := pipeline.New(scenarioConfig("warnings"), nil, pipeline.IdentityTransformer{},
		[]pipeline.Sink{mqtt, dbsink.NewSink(repo)}, metrics, nil)
	runScenarioPipeline(t, p)

	require.NoError(t, p.Submit(context.Background(), pipeline.NewWeatherEvent(event)))

	assert.Eventually(t, func() bool { return mqtt.count() == 1 }, time.Second, time.Millisecond)
	assert.Eventually(t, func() bool { return countRows(t, dbPath, "events") == 1 }, time.Second, time.Millisecond)

	publish := mqtt.last()
	assert.Equal(t, "nwws/KTOP/TORTOP/"+event.ProductID, publish.topic)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.EventsProcessedTotal))
}

// Scenario 2: the same stanza delivered twice within the dedup window is
// published once and the repeat is counted under events_filtered_total.
func TestScenario_DuplicateSuppression(t *testing.T) {
	msg := wmo.WireMessage{
		BodyText:   tornadoEmergencyProduct,
		IssuedAt:   time.Date(2024, 1, 15, 18, 30, 0, 0, time.UTC),
		ReceivedAt: time.Date(2024, 1, 15, 18, 30, 2, 0, time.UTC),
		AwipsID:    "TORTOP",
		Cccc:       "KTOP",
	}
	event, _, err := wmo.Parse(msg, nil)
	require.NoError(t, err)

	repo, dbPath := openScenarioDB(t)
	mqtt := &recordingSink{}
	metrics := stats.NewForTesting()
	dedup := pipeline.NewDedupFilter(1000, 10*time.Minute)

	p := pipeline.New(scenarioConfig("warnings"), []pipeline.Filter{dedup}, pipeline.IdentityTransformer{},
		[]pipeline.Sink{mqtt, dbsink.NewSink(repo)}, metrics, nil)
	runScenarioPipeline(t, p)

	ctx := context.Background()
	require.NoError(t, p.Submit(ctx, pipeline.NewWeatherEvent(event)))
	assert.Eventually(t, func() bool { return mqtt.count() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, p.Submit(ctx, pipeline.NewWeatherEvent(event)))
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.EventsFilteredTotal.WithLabelValues("duplicate")) == 1
	}, time.Second, time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, mqtt.count(), "the duplicate must never reach the sinks")
	assert.Equal(t, 1, countRows(t, dbPath, "events"))
}

const floodWarningProduct = "WGUS63 KBOU 151200\n" +
	"FLWBOU\n" +
	"\n" +
	"FLOOD WARNING\n" +
	"National Weather Service Denver CO\n" +
	"500 AM MST MON JAN 15 2024\n" +
	"\n" +
	"COC005-151800-\n" +
	"/O.NEW.KBOU.FL.W.0007.240115T1200Z-240115T1800Z/\n" +
	"/ARKC2.1.ER.240115T1200Z.240115T1500Z.240115T1800Z.NO/\n" +
	"...FLOOD WARNING FOR THE ARKANSAS RIVER...\n" +
	"$$\n" +
	"COC005-152000-\n" +
	"/O.CON.KBOU.FL.W.0005.000000T0000Z-240115T2000Z/\n" +
	"...FLOOD WARNING REMAINS IN EFFECT...\n" +
	"$$\n"

// Scenario 3: a two-segment flood warning produces one event with two
// segments, and the DB sink writes one events row plus two event_content
// rows in a single transaction.
func TestScenario_MultiSegmentFloodWarning(t *testing.T) {
	msg := wmo.WireMessage{
		BodyText:   floodWarningProduct,
		IssuedAt:   time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
		ReceivedAt: time.Date(2024, 1, 15, 12, 0, 5, 0, time.UTC),
		AwipsID:    "FLWBOU",
		Cccc:       "KBOU",
	}
	event, _, err := wmo.Parse(msg, nil)
	require.NoError(t, err)
	require.Len(t, event.Segments, 2)
	require.NotNil(t, event.Segments[0].HVTEC)
	assert.True(t, event.Segments[1].VTEC[0].BeginUnset(), "segment B's begin time is the already-begun sentinel")

	repo, dbPath := openScenarioDB(t)
	metrics := stats.NewForTesting()
	p := pipeline.New(scenarioConfig("warnings"), nil, pipeline.IdentityTransformer{},
		[]pipeline.Sink{dbsink.NewSink(repo)}, metrics, nil)
	runScenarioPipeline(t, p)

	require.NoError(t, p.Submit(context.Background(), pipeline.NewWeatherEvent(event)))

	assert.Eventually(t, func() bool { return countRows(t, dbPath, "events") == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, countRows(t, dbPath, "events"))
	assert.Equal(t, 2, countRows(t, dbPath, "event_content"))
}

func scenarioEventFixture(eventID, category string, receivedAt time.Time) *wmo.WeatherEvent {
	return &wmo.WeatherEvent{
		EventID:         eventID,
		ProductID:       eventID + ".1",
		Cccc:            "KOUN",
		AwipsID:         category + "OUN",
		ProductCategory: category,
		IssuedAt:        receivedAt,
		ReceivedAt:      receivedAt,
		Text:            "fixture product text",
		Segments: []wmo.Segment{
			{UGCCodes: []string{"OKC001"}, Headlines: []string{category + " headline"}},
		},
	}
}

// Scenario 5: product-specific retention deletes short-duration TOR rows
// past their 1h window while leaving administrative PNS rows, retained for
// 30 days, untouched.
func TestScenario_CleanupByProductSpecificRetention(t *testing.T) {
	repo, dbPath := openScenarioDB(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		w := scenarioEventFixture(fmt.Sprintf("tor-%d", i), "TOR", now.Add(-2*time.Hour))
		require.NoError(t, repo.Insert(ctx, w))
	}
	for i := 0; i < 3; i++ {
		w := scenarioEventFixture(fmt.Sprintf("pns-%d", i), "PNS", now.Add(-10*24*time.Hour))
		require.NoError(t, repo.Insert(ctx, w))
	}
	require.Equal(t, 6, countRows(t, dbPath, "events"))

	cfg := config.DBCleanup{
		Enabled:                      true,
		IntervalHours:                6,
		MaxDeletionsPerCycle:         500,
		UseProductSpecificRetention:  true,
		ShortDurationRetentionHours:  1,
		MediumDurationRetentionHours: 24,
		LongDurationRetentionHours:   72,
		RoutineRetentionHours:        12,
		AdministrativeRetentionDays:  30,
		DefaultRetentionDays:         36500, // disable the unconditional age fallback for this scenario
	}
	clock := clockwork.NewFakeClockAt(now)
	cleanup := dbsink.NewCleanup(repo, cfg, stats.NewForTesting(), zerolog.Nop())
	cleanup.SetClock(clock)

	runCtx, cancel := context.WithCancel(context.Background())
	go cleanup.Run(runCtx)

	assert.Eventually(t, func() bool { return countRows(t, dbPath, "events") == 3 }, time.Second, time.Millisecond,
		"all 3 TOR rows are past their 1h retention window")
	cancel()

	assert.Equal(t, 3, countRows(t, dbPath, "events"), "the 3 PNS rows are within their 30-day retention window")
}

// Scenario 6: with the ingress worker not yet running, a 4-deep queue
// blocks submission at the 5th event and drops nothing; once the worker
// starts, every event progresses.
func TestScenario_Backpressure(t *testing.T) {
	metrics := stats.NewForTesting()
	cfg := scenarioConfig("warnings")
	cfg.QueueSize = 4
	sink := &recordingSink{}
	p := pipeline.New(cfg, nil, pipeline.IdentityTransformer{}, []pipeline.Sink{sink}, metrics, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	var submitted int
	var mu sync.Mutex
	for i := 0; i < 10; i++ {
		i := i
		go func() {
			_ = p.Submit(ctx, pipeline.NewWeatherEvent(&wmo.WeatherEvent{
				Cccc: "KOUN", Fingerprint: fmt.Sprintf("fp%d", i),
			}))
			mu.Lock()
			submitted++
			mu.Unlock()
		}()
	}

	readSubmitted := func() int {
		mu.Lock()
		defer mu.Unlock()
		return submitted
	}

	assert.Eventually(t, func() bool { return readSubmitted() == 4 }, time.Second, time.Millisecond,
		"only 4 events fit in the bounded queue before the worker starts draining it")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 4, readSubmitted(), "the remaining submits stay blocked, never dropped")

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return readSubmitted() == 10 }, time.Second, time.Millisecond)
	assert.Eventually(t, func() bool { return testutil.ToFloat64(metrics.EventsProcessedTotal) == 10 }, time.Second, time.Millisecond)

	cancel()
	<-done
}
