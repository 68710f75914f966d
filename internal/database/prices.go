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

const priceColumns = `site_id, interval_start, interval_end, channel_type, per_kwh, renewables, descriptor, updated_at`

// UpsertPrices writes price rows keyed by (site, interval start, channel).
// Timestamps are floored onto the interval grid first, so jittered upstream
// starts collapse onto one row. Missing optional fields keep the stored value.
func (db *DB) UpsertPrices(ctx context.Context, rows []models.PriceInterval) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	query := `
	INSERT INTO prices (` + priceColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (site_id, interval_start, channel_type) DO UPDATE SET
		interval_end = excluded.interval_end,
		per_kwh = excluded.per_kwh,
		renewables = COALESCE(excluded.renewables, prices.renewables),
		descriptor = COALESCE(excluded.descriptor, prices.descriptor),
		updated_at = excluded.updated_at
	`

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning price upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("preparing price upsert: %w", err)
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
			row.PerKwh,
			nullFloat(row.Renewables),
			nullString(row.Descriptor),
			updatedAt,
		)
		if err != nil {
			return 0, fmt.Errorf("upserting price %s: %w", formatTime(start), err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing price upsert: %w", err)
	}
	return written, nil
}

// PriceForInterval returns the cached price for the interval containing start.
// Rows stored under the legacy one-second-skewed key are found as well.
func (db *DB) PriceForInterval(ctx context.Context, siteID string, start time.Time, channel string) (models.PriceInterval, bool, error) {
	canonical := interval.Floor(start)
	query := `
	SELECT ` + priceColumns + `
	FROM prices
	WHERE site_id = ? AND channel_type = ? AND interval_start = ?
	`

	for _, key := range []time.Time{canonical, interval.LegacyKey(canonical)} {
		row := db.conn.QueryRowContext(ctx, query, siteID, channelOrDefault(channel), formatTime(key))
		price, err := scanPrice(row)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return models.PriceInterval{}, false, fmt.Errorf("querying price: %w", err)
		}
		return price, true, nil
	}
	return models.PriceInterval{}, false, nil
}

// LatestPrice returns the most recent cached price whose interval started at
// or before asOf. A zero asOf disables the bound.
func (db *DB) LatestPrice(ctx context.Context, siteID, channel string, asOf time.Time) (models.PriceInterval, bool, error) {
	query := `SELECT ` + priceColumns + ` FROM prices WHERE site_id = ? AND channel_type = ?`
	args := []any{siteID, channelOrDefault(channel)}
	if !asOf.IsZero() {
		query += ` AND interval_start <= ?`
		args = append(args, formatTime(asOf))
	}
	query += ` ORDER BY interval_start DESC LIMIT 1`

	price, err := scanPrice(db.conn.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return models.PriceInterval{}, false, nil
	}
	if err != nil {
		return models.PriceInterval{}, false, fmt.Errorf("querying latest price: %w", err)
	}
	return price, true, nil
}

// Forecast returns up to limit cached prices that start strictly after asOf,
// in ascending order.
func (db *DB) Forecast(ctx context.Context, siteID, channel string, asOf time.Time, limit int) ([]models.PriceInterval, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `
	SELECT ` + priceColumns + `
	FROM prices
	WHERE site_id = ? AND channel_type = ? AND interval_start > ?
	ORDER BY interval_start ASC
	LIMIT ?
	`
	rows, err := db.conn.QueryContext(ctx, query, siteID, channelOrDefault(channel), formatTime(asOf), limit)
	if err != nil {
		return nil, fmt.Errorf("querying forecast: %w", err)
	}
	defer rows.Close()

	return collectPrices(rows)
}

// ListPrices returns the newest cached prices for a site, newest first
func (db *DB) ListPrices(ctx context.Context, siteID, channel string, limit int) ([]models.PriceInterval, error) {
	query := `
	SELECT ` + priceColumns + `
	FROM prices
	WHERE site_id = ? AND channel_type = ?
	ORDER BY interval_start DESC
	LIMIT ?
	`
	rows, err := db.conn.QueryContext(ctx, query, siteID, channelOrDefault(channel), limit)
	if err != nil {
		return nil, fmt.Errorf("querying prices: %w", err)
	}
	defer rows.Close()

	return collectPrices(rows)
}

func collectPrices(rows *sql.Rows) ([]models.PriceInterval, error) {
	var results []models.PriceInterval
	for rows.Next() {
		price, err := scanPrice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning price: %w", err)
		}
		results = append(results, price)
	}
	return results, rows.Err()
}

func scanPrice(s scanner) (models.PriceInterval, error) {
	var (
		p                     models.PriceInterval
		start, end, updatedAt string
		renewables            sql.NullFloat64
		descriptor            sql.NullString
	)
	if err := s.Scan(&p.SiteID, &start, &end, &p.ChannelType, &p.PerKwh, &renewables, &descriptor, &updatedAt); err != nil {
		return models.PriceInterval{}, err
	}

	var err error
	if p.IntervalStart, err = interval.ParseStored(start); err != nil {
		return models.PriceInterval{}, fmt.Errorf("parsing interval_start: %w", err)
	}
	if p.IntervalEnd, err = interval.ParseStored(end); err != nil {
		return models.PriceInterval{}, fmt.Errorf("parsing interval_end: %w", err)
	}
	if p.UpdatedAt, err = interval.ParseStored(updatedAt); err != nil {
		return models.PriceInterval{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	p.Renewables = floatPtr(renewables)
	p.Descriptor = stringPtr(descriptor)
	return p, nil
}
