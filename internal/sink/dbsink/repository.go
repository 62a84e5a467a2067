// Package dbsink implements the C6 sink: it persists every weather event
// into a three-table schema (events, event_content, event_metadata) and
// runs a background retention-cleanup loop.
//
// Grounded on ClusterCockpit-cc-backend/internal/repository:
// dbConnection.go's sqlx.Open + PRAGMA setup, migration.go's
// golang-migrate/iofs embedded-migration pattern, job.go's
// Masterminds/squirrel query construction, and transaction.go's
// Beginx/Commit bundling. The cleanup loop's clock injection follows
// couchcryptid-storm-data-etl-service/internal/domain/clock.go's
// package-level clockwork.Clock idiom.
package dbsink

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nwws-relay/nwws-relay/internal/config"
	"github.com/nwws-relay/nwws-relay/internal/errs"
	"github.com/nwws-relay/nwws-relay/internal/wmo"
)

// Repository owns the sqlx connection and implements both event
// persistence and the cleanup queries.
type Repository struct {
	db *sqlx.DB
}

// Open connects to the configured database, applies PRAGMAs for
// concurrent access, and runs pending migrations.
func Open(cfg config.DB) (*Repository, error) {
	db, err := sqlx.Open("sqlite3", fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL", cfg.DatabaseURL))
	if err != nil {
		return nil, errs.Wrap(errs.KindConfig, "db_sink", err)
	}
	db.SetMaxOpenConns(cfg.PoolSize)
	db.SetConnMaxLifetime(cfg.PoolRecycleSeconds)

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.KindConfig, "db_sink", err)
	}
	return &Repository{db: db}, nil
}

// openExisting wraps an already-open sqlx.DB, used by tests that manage
// their own in-memory database and migration lifecycle.
func openExisting(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Close() error {
	return r.db.Close()
}

// Insert persists one WeatherEvent as one events row, N event_content
// rows, and M event_metadata rows in a single transaction (spec.md §4.6:
// "Failure rolls back the whole event").
func (r *Repository) Insert(ctx context.Context, w *wmo.WeatherEvent) error {
	ev, contents, metadata := rowsForEvent(w)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.KindSinkTransient, "db_sink", err).WithEvent(w.EventID, w.ProductID)
	}
	defer tx.Rollback()

	if _, err := tx.NamedExecContext(ctx, `INSERT INTO events (
		event_id, product_id, cccc, awips_id, product_category, issued_at, received_at, wmo, text
	) VALUES (
		:event_id, :product_id, :cccc, :awips_id, :product_category, :issued_at, :received_at, :wmo, :text
	)`, ev); err != nil {
		return errs.Wrap(errs.KindSinkTransient, "db_sink", err).WithEvent(w.EventID, w.ProductID)
	}

	for _, c := range contents {
		if _, err := tx.NamedExecContext(ctx, `INSERT INTO event_content (
			event_id, segment_index, ugc_expires_at, has_vtec, vtec_ufn, vtec_expires_at, polygon_wkt, body
		) VALUES (
			:event_id, :segment_index, :ugc_expires_at, :has_vtec, :vtec_ufn, :vtec_expires_at, :polygon_wkt, :body
		)`, c); err != nil {
			return errs.Wrap(errs.KindSinkTransient, "db_sink", err).WithEvent(w.EventID, w.ProductID)
		}
	}

	for _, m := range metadata {
		if _, err := tx.NamedExecContext(ctx, `INSERT INTO event_metadata (event_id, meta_key, meta_value) VALUES (:event_id, :meta_key, :meta_value)`, m); err != nil {
			return errs.Wrap(errs.KindSinkTransient, "db_sink", err).WithEvent(w.EventID, w.ProductID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.KindSinkTransient, "db_sink", err).WithEvent(w.EventID, w.ProductID)
	}
	return nil
}

// deleteByIDSubquery deletes from events (cascading to event_content and
// event_metadata) any row whose event_id appears in a bounded subquery,
// since sqlite's DELETE doesn't reliably support a direct LIMIT clause.
func (r *Repository) deleteByIDSubquery(ctx context.Context, selectIDs sq.SelectBuilder, limit int) (int64, error) {
	selectIDs = selectIDs.Limit(uint64(limit))
	sub, args, err := selectIDs.ToSql()
	if err != nil {
		return 0, err
	}
	res, err := r.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM events WHERE event_id IN (%s)", sub), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
