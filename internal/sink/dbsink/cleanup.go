package dbsink

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/nwws-relay/nwws-relay/internal/config"
	"github.com/nwws-relay/nwws-relay/internal/stats"
)

// Cleanup runs the background retention loop described in spec.md §4.6:
// four ordered deletion strategies, each capped per cycle, optionally in
// dry-run mode.
type Cleanup struct {
	repo    *Repository
	cfg     config.DBCleanup
	metrics *stats.Registry
	logger  zerolog.Logger
	clock   clockwork.Clock
}

func NewCleanup(repo *Repository, cfg config.DBCleanup, metrics *stats.Registry, logger zerolog.Logger) *Cleanup {
	return &Cleanup{
		repo:    repo,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.With().Str("component", "db_cleanup").Logger(),
		clock:   clockwork.NewRealClock(),
	}
}

// SetClock overrides the time source, for tests that need deterministic
// retention windows.
func (c *Cleanup) SetClock(clock clockwork.Clock) {
	c.clock = clock
}

// Run ticks every IntervalHours until ctx is cancelled, running one
// cleanup cycle per tick.
func (c *Cleanup) Run(ctx context.Context) {
	if !c.cfg.Enabled {
		return
	}
	interval := time.Duration(c.cfg.IntervalHours) * time.Hour
	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()

	c.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			c.runOnce(ctx)
		}
	}
}

// runOnce applies each strategy in spec order, each capped at
// MaxDeletionsPerCycle independently.
func (c *Cleanup) runOnce(ctx context.Context) {
	now := c.clock.Now().UTC()
	perCycleCap := c.cfg.MaxDeletionsPerCycle
	if perCycleCap <= 0 {
		perCycleCap = 500
	}

	if c.cfg.RespectProductExpiration && c.cfg.RespectUGCExpiration {
		c.apply(ctx, "ugc_expiration", perCycleCap, func(limit int) (int64, error) {
			return c.deleteExpiredByUGC(ctx, now, limit)
		})
	}
	if c.cfg.RespectVTECExpiration {
		buffer := time.Duration(c.cfg.VTECExpirationBufferHours) * time.Hour
		c.apply(ctx, "vtec_expiration", perCycleCap, func(limit int) (int64, error) {
			return c.deleteExpiredByVTEC(ctx, now, buffer, limit)
		})
	}
	if c.cfg.UseProductSpecificRetention {
		for _, bucket := range buildRetentionBuckets(c.cfg) {
			bucket := bucket
			c.apply(ctx, "category_retention", perCycleCap, func(limit int) (int64, error) {
				return c.deleteByCategoryRetention(ctx, bucket.categories, now.Add(-bucket.retention), limit)
			})
		}
	}
	retentionDays := c.cfg.DefaultRetentionDays
	if retentionDays <= 0 {
		retentionDays = 7
	}
	c.apply(ctx, "age_fallback", perCycleCap, func(limit int) (int64, error) {
		return c.deleteOlderThan(ctx, now.Add(-time.Duration(retentionDays)*24*time.Hour), limit)
	})
}

func (c *Cleanup) apply(ctx context.Context, strategy string, limit int, fn func(limit int) (int64, error)) {
	if c.cfg.DryRunMode {
		c.logger.Info().Str("strategy", strategy).Msg("dry run: skipping deletion")
		return
	}
	n, err := fn(limit)
	if err != nil {
		c.logger.Error().Err(err).Str("strategy", strategy).Msg("cleanup strategy failed")
		return
	}
	if n > 0 {
		c.logger.Info().Str("strategy", strategy).Int64("deleted", n).Msg("cleanup deleted rows")
	}
	c.metrics.RecordCleanupDeletions(strategy, n)
}

type retentionBucket struct {
	categories []string
	retention  time.Duration
}

func buildRetentionBuckets(cfg config.DBCleanup) []retentionBucket {
	hours := []int{
		cfg.ShortDurationRetentionHours,
		cfg.MediumDurationRetentionHours,
		cfg.LongDurationRetentionHours,
		cfg.RoutineRetentionHours,
	}
	buckets := make([]retentionBucket, 0, len(retentionCategoryGroups))
	for i, group := range retentionCategoryGroups[:4] {
		buckets = append(buckets, retentionBucket{categories: group, retention: time.Duration(hours[i]) * time.Hour})
	}
	buckets = append(buckets, retentionBucket{
		categories: retentionCategoryGroups[4],
		retention:  time.Duration(cfg.AdministrativeRetentionDays) * 24 * time.Hour,
	})
	return buckets
}

// deleteExpiredByUGC implements strategy 1: delete events whose every
// segment's ugc_expires_at is in the past.
func (c *Cleanup) deleteExpiredByUGC(ctx context.Context, now time.Time, limit int) (int64, error) {
	sel := sq.Select("e.event_id").From("events e").
		Where(sq.Expr(`NOT EXISTS (
			SELECT 1 FROM event_content c
			WHERE c.event_id = e.event_id
			AND (c.ugc_expires_at IS NULL OR c.ugc_expires_at > ?)
		)`, now)).
		Where(sq.Expr(`EXISTS (SELECT 1 FROM event_content c WHERE c.event_id = e.event_id)`))
	return c.repo.deleteByIDSubquery(ctx, sel, limit)
}

// deleteExpiredByVTEC implements strategy 2: every VTEC end in the event
// is in the past plus the buffer, and none of them is "until further
// notice".
func (c *Cleanup) deleteExpiredByVTEC(ctx context.Context, now time.Time, buffer time.Duration, limit int) (int64, error) {
	cutoff := now.Add(-buffer)
	sel := sq.Select("e.event_id").From("events e").
		Where(sq.Expr(`EXISTS (SELECT 1 FROM event_content c WHERE c.event_id = e.event_id AND c.has_vtec = 1)`)).
		Where(sq.Expr(`NOT EXISTS (SELECT 1 FROM event_content c WHERE c.event_id = e.event_id AND c.vtec_ufn = 1)`)).
		Where(sq.Expr(`NOT EXISTS (
			SELECT 1 FROM event_content c
			WHERE c.event_id = e.event_id AND c.has_vtec = 1
			AND (c.vtec_expires_at IS NULL OR c.vtec_expires_at >= ?)
		)`, cutoff))
	return c.repo.deleteByIDSubquery(ctx, sel, limit)
}

// deleteByCategoryRetention implements strategy 3: fixed retention windows
// keyed by product_category bucket.
func (c *Cleanup) deleteByCategoryRetention(ctx context.Context, categories []string, before time.Time, limit int) (int64, error) {
	sel := sq.Select("event_id").From("events").
		Where(sq.Eq{"product_category": categories}).
		Where(sq.Lt{"received_at": before})
	return c.repo.deleteByIDSubquery(ctx, sel, limit)
}

// deleteOlderThan implements strategy 4: the age-based fallback for
// anything the earlier strategies left behind.
func (c *Cleanup) deleteOlderThan(ctx context.Context, before time.Time, limit int) (int64, error) {
	sel := sq.Select("event_id").From("events").Where(sq.Lt{"received_at": before})
	return c.repo.deleteByIDSubquery(ctx, sel, limit)
}
