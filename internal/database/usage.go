package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jgoulah/gridcache/internal/interval"
	"github.com/jgoulah/gridcache/pkg/models"
)

const usageColumns = `site_id, interval_start, interval_end, channel_type, kwh, cost, quality, meter_identifier, updated_at`

// UpsertUsage writes usage rows keyed by (site, interval start, channel).
// A later write without a cost never clears a settled cost already stored.
func (db *DB) UpsertUsage(ctx context.Context, rows []models.UsageInterval) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	query := `
	INSERT INTO usage (` + usageColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (site_id, interval_start, channel_type) DO UPDATE SET
		interval_end = excluded.interval_end,
		kwh = excluded.kwh,
		cost = COALESCE(excluded.cost, usage.cost),
		quality = COALESCE(excluded.quality, usage.quality),
		meter_identifier = COALESCE(excluded.meter_identifier, usage.meter_identifier),
		updated_at = excluded.updated_at
	`

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning usage upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("preparing usage upsert: %w", err)
	}
	defer stmt.Close()

	updatedAt := db.now()
	written := 0
	for _, row := range rows {
		if row.SiteID == "" || row.IntervalStart.IsZero() {
			continue
		}
		start, end := interval.Span(row.IntervalStart, row.IntervalEnd)
		_, err := stmt.ExecContext(ctx,
			row.SiteID,
			formatTime(start),
			formatTime(end),
			channelOrDefault(row.ChannelType),
			row.Kwh,
			nullFloat(row.Cost),
			nullString(row.Quality),
			nullString(row.MeterIdentifier),
			updatedAt,
		)
		if err != nil {
			return 0, fmt.Errorf("upserting usage %s: %w", formatTime(start), err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing usage upsert: %w", err)
	}
	return written, nil
}

// LatestUsage returns the most recent cached usage whose interval started at
// or before asOf. A zero asOf disables the bound.
func (db *DB) LatestUsage(ctx context.Context, siteID, channel string, asOf time.Time) (models.UsageInterval, bool, error) {
	query := `SELECT ` + usageColumns + ` FROM usage WHERE site_id = ? AND channel_type = ?`
	args := []any{siteID, channelOrDefault(channel)}
	if !asOf.IsZero() {
		query += ` AND interval_start <= ?`
		args = append(args, formatTime(asOf))
	}
	query += ` ORDER BY interval_start DESC LIMIT 1`

	usage, err := scanUsage(db.conn.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return models.UsageInterval{}, false, nil
	}
	if err != nil {
		return models.UsageInterval{}, false, fmt.Errorf("querying latest usage: %w", err)
	}
	return usage, true, nil
}

// UsageForInterval returns the cached usage for the interval containing start,
// falling back to the legacy key
func (db *DB) UsageForInterval(ctx context.Context, siteID string, start time.Time, channel string) (models.UsageInterval, bool, error) {
	canonical := interval.Floor(start)
	query := `
	SELECT ` + usageColumns + `
	FROM usage
	WHERE site_id = ? AND channel_type = ? AND interval_start = ?
	`

	for _, key := range []time.Time{canonical, interval.LegacyKey(canonical)} {
		usage, err := scanUsage(db.conn.QueryRowContext(ctx, query, siteID, channelOrDefault(channel), formatTime(key)))
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return models.UsageInterval{}, false, fmt.Errorf("querying usage: %w", err)
		}
		return usage, true, nil
	}
	return models.UsageInterval{}, false, nil
}

// UsageWindow returns cached usage with from <= interval_start <= to, oldest first
func (db *DB) UsageWindow(ctx context.Context, siteID, channel string, from, to time.Time) ([]models.UsageInterval, error) {
	query := `
	SELECT ` + usageColumns + `
	FROM usage
	WHERE site_id = ? AND channel_type = ? AND interval_start >= ? AND interval_start <= ?
	ORDER BY interval_start ASC
	`
	rows, err := db.conn.QueryContext(ctx, query, siteID, channelOrDefault(channel), formatTime(from), formatTime(to))
	if err != nil {
		return nil, fmt.Errorf("querying usage window: %w", err)
	}
	defer rows.Close()

	return collectUsage(rows)
}

// ListUsage returns the newest cached usage for a site, newest first
func (db *DB) ListUsage(ctx context.Context, siteID, channel string, limit int) ([]models.UsageInterval, error) {
	query := `
	SELECT ` + usageColumns + `
	FROM usage
	WHERE site_id = ? AND channel_type = ?
	ORDER BY interval_start DESC
	LIMIT ?
	`
	rows, err := db.conn.QueryContext(ctx, query, siteID, channelOrDefault(channel), limit)
	if err != nil {
		return nil, fmt.Errorf("querying usage: %w", err)
	}
	defer rows.Close()

	return collectUsage(rows)
}

func collectUsage(rows *sql.Rows) ([]models.UsageInterval, error) {
	var results []models.UsageInterval
	for rows.Next() {
		usage, err := scanUsage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning usage: %w", err)
		}
		results = append(results, usage)
	}
	return results, rows.Err()
}

func scanUsage(s scanner) (models.UsageInterval, error) {
	var (
		u                     models.UsageInterval
		start, end, updatedAt string
		cost                  sql.NullFloat64
		quality, meter        sql.NullString
	)
	if err := s.Scan(&u.SiteID, &start, &end, &u.ChannelType, &u.Kwh, &cost, &quality, &meter, &updatedAt); err != nil {
		return models.UsageInterval{}, err
	}

	var err error
	if u.IntervalStart, err = interval.ParseStored(start); err != nil {
		return models.UsageInterval{}, fmt.Errorf("parsing interval_start: %w", err)
	}
	if u.IntervalEnd, err = interval.ParseStored(end); err != nil {
		return models.UsageInterval{}, fmt.Errorf("parsing interval_end: %w", err)
	}
	if u.UpdatedAt, err = interval.ParseStored(updatedAt); err != nil {
		return models.UsageInterval{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	u.Cost = floatPtr(cost)
	u.Quality = stringPtr(quality)
	u.MeterIdentifier = stringPtr(meter)
	return u, nil
}
