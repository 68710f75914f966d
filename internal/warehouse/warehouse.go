// Package warehouse writes durable history to Postgres: every upstream
// payload once as an ingest event, plus normalized price and usage rows.
package warehouse

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-json-experiment/json"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// DefaultSource names rows that came from the Amber API
const DefaultSource = "amber"

const (
	connectAttempts  = 8
	connectBaseDelay = 500 * time.Millisecond
	connectMaxDelay  = 8 * time.Second
	statementTimeout = 30 * time.Second
)

// Schema creates the warehouse tables when they do not exist
const Schema = `
CREATE TABLE IF NOT EXISTS ingest_events (
	id UUID PRIMARY KEY,
	source TEXT NOT NULL,
	kind TEXT NOT NULL,
	payload JSONB NOT NULL,
	payload_hash TEXT NOT NULL,
	window_start TIMESTAMPTZ,
	window_end TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (source, kind, payload_hash)
);

CREATE TABLE IF NOT EXISTS price_intervals (
	site_id TEXT NOT NULL,
	interval_start TIMESTAMPTZ NOT NULL,
	interval_end TIMESTAMPTZ NOT NULL,
	is_forecast BOOLEAN NOT NULL DEFAULT FALSE,
	price_cents_per_kwh DOUBLE PRECISION,
	spot_per_kwh DOUBLE PRECISION,
	descriptor TEXT,
	spike_status TEXT,
	renewables_percent DOUBLE PRECISION,
	source TEXT NOT NULL,
	raw_event_id UUID REFERENCES ingest_events(id),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (site_id, interval_start, is_forecast, source)
);

CREATE TABLE IF NOT EXISTS usage_intervals (
	site_id TEXT NOT NULL,
	channel_type TEXT NOT NULL,
	interval_start TIMESTAMPTZ NOT NULL,
	interval_end TIMESTAMPTZ NOT NULL,
	kwh DOUBLE PRECISION NOT NULL,
	cost_aud DOUBLE PRECISION,
	quality TEXT,
	meter_identifier TEXT,
	source TEXT NOT NULL,
	raw_event_id UUID REFERENCES ingest_events(id),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (site_id, channel_type, interval_start, source)
);
`

// Window is the time range an ingest event covers
type Window struct {
	Start time.Time
	End   time.Time
}

// PriceRow is one normalized price interval
type PriceRow struct {
	SiteID            string
	IntervalStart     time.Time
	IntervalEnd       time.Time
	IsForecast        bool
	PriceCentsPerKwh  *float64
	SpotPerKwh        *float64
	Descriptor        *string
	SpikeStatus       *string
	RenewablesPercent *float64
	Source            string
	RawEventID        *string
}

// UsageRow is one normalized usage interval
type UsageRow struct {
	SiteID          string
	ChannelType     string
	IntervalStart   time.Time
	IntervalEnd     time.Time
	Kwh             float64
	CostAUD         *float64
	Quality         *string
	MeterIdentifier *string
	Source          string
	RawEventID      *string
}

// Warehouse is a Postgres connection pool
type Warehouse struct {
	db     *sql.DB
	logger *log.Logger
}

// Open connects to Postgres, retrying with exponential backoff while the
// server is unreachable
func Open(ctx context.Context, dsn string, logger *log.Logger) (*Warehouse, error) {
	if dsn == "" {
		return nil, fmt.Errorf("warehouse DSN is required")
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening warehouse: %w", err)
	}

	var lastErr error
	for attempt, delay := range connectDelays() {
		pingCtx, cancel := context.WithTimeout(ctx, statementTimeout)
		lastErr = db.PingContext(pingCtx)
		cancel()
		if lastErr == nil {
			return &Warehouse{db: db, logger: logger}, nil
		}
		if attempt == connectAttempts-1 {
			break
		}

		logger.Warn("warehouse not reachable, retrying", "attempt", attempt+1, "delay", delay, "err", lastErr)
		select {
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	db.Close()
	return nil, fmt.Errorf("connecting to warehouse after %d attempts: %w", connectAttempts, lastErr)
}

// connectDelays returns the wait after each failed connection attempt
func connectDelays() []time.Duration {
	delays := make([]time.Duration, connectAttempts)
	delay := connectBaseDelay
	for i := range delays {
		delays[i] = delay
		delay *= 2
		if delay > connectMaxDelay {
			delay = connectMaxDelay
		}
	}
	return delays
}

// Close closes the connection pool
func (w *Warehouse) Close() error {
	return w.db.Close()
}

// EnsureSchema creates missing tables
func (w *Warehouse) EnsureSchema(ctx context.Context) error {
	if _, err := w.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("creating warehouse schema: %w", err)
	}
	return nil
}

// PayloadHash returns the hex SHA-256 of the deterministic JSON encoding of
// payload. Equal payloads hash equally regardless of map ordering.
func PayloadHash(payload any) (string, []byte, error) {
	encoded, err := json.Marshal(payload, json.Deterministic(true))
	if err != nil {
		return "", nil, fmt.Errorf("encoding payload: %w", err)
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), encoded, nil
}

// InsertIngestEvent stores a raw upstream payload and returns its id. A
// payload already stored for the same source and kind returns the existing id.
func (w *Warehouse) InsertIngestEvent(ctx context.Context, source, kind string, payload any, window Window) (string, error) {
	hash, encoded, err := PayloadHash(payload)
	if err != nil {
		return "", err
	}

	var id string
	err = w.db.QueryRowContext(ctx, `
		SELECT id FROM ingest_events
		WHERE source = $1 AND kind = $2 AND payload_hash = $3
	`, source, kind, hash).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("looking up ingest event: %w", err)
	}

	id = uuid.NewString()
	err = w.db.QueryRowContext(ctx, `
		INSERT INTO ingest_events (id, source, kind, payload, payload_hash, window_start, window_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (source, kind, payload_hash) DO UPDATE SET payload_hash = EXCLUDED.payload_hash
		RETURNING id
	`, id, source, kind, string(encoded), hash, nullTime(window.Start), nullTime(window.End)).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("inserting ingest event: %w", err)
	}
	return id, nil
}

// UpsertPriceIntervals writes price rows in one transaction and returns the
// number of rows affected. Optional columns keep their stored value when the
// new row leaves them empty.
func (w *Warehouse) UpsertPriceIntervals(ctx context.Context, rows []PriceRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	query := `
	INSERT INTO price_intervals (
		site_id, interval_start, interval_end, is_forecast, price_cents_per_kwh,
		spot_per_kwh, descriptor, spike_status, renewables_percent, source, raw_event_id
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (site_id, interval_start, is_forecast, source) DO UPDATE SET
		interval_end = EXCLUDED.interval_end,
		price_cents_per_kwh = COALESCE(EXCLUDED.price_cents_per_kwh, price_intervals.price_cents_per_kwh),
		spot_per_kwh = COALESCE(EXCLUDED.spot_per_kwh, price_intervals.spot_per_kwh),
		descriptor = COALESCE(EXCLUDED.descriptor, price_intervals.descriptor),
		spike_status = COALESCE(EXCLUDED.spike_status, price_intervals.spike_status),
		renewables_percent = COALESCE(EXCLUDED.renewables_percent, price_intervals.renewables_percent),
		raw_event_id = COALESCE(EXCLUDED.raw_event_id, price_intervals.raw_event_id),
		updated_at = NOW()
	`

	return w.inTx(ctx, query, len(rows), func(i int) []any {
		r := rows[i]
		return []any{
			r.SiteID, r.IntervalStart.UTC(), r.IntervalEnd.UTC(), r.IsForecast, nullFloat(r.PriceCentsPerKwh),
			nullFloat(r.SpotPerKwh), nullString(r.Descriptor), nullString(r.SpikeStatus), nullFloat(r.RenewablesPercent),
			sourceOrDefault(r.Source), nullString(r.RawEventID),
		}
	})
}

// UpsertUsageIntervals writes usage rows in one transaction and returns the
// number of rows affected
func (w *Warehouse) UpsertUsageIntervals(ctx context.Context, rows []UsageRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	query := `
	INSERT INTO usage_intervals (
		site_id, channel_type, interval_start, interval_end, kwh,
		cost_aud, quality, meter_identifier, source, raw_event_id
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (site_id, channel_type, interval_start, source) DO UPDATE SET
		interval_end = EXCLUDED.interval_end,
		kwh = EXCLUDED.kwh,
		cost_aud = COALESCE(EXCLUDED.cost_aud, usage_intervals.cost_aud),
		quality = COALESCE(EXCLUDED.quality, usage_intervals.quality),
		meter_identifier = COALESCE(EXCLUDED.meter_identifier, usage_intervals.meter_identifier),
		raw_event_id = COALESCE(EXCLUDED.raw_event_id, usage_intervals.raw_event_id),
		updated_at = NOW()
	`

	return w.inTx(ctx, query, len(rows), func(i int) []any {
		r := rows[i]
		return []any{
			r.SiteID, r.ChannelType, r.IntervalStart.UTC(), r.IntervalEnd.UTC(), r.Kwh,
			nullFloat(r.CostAUD), nullString(r.Quality), nullString(r.MeterIdentifier),
			sourceOrDefault(r.Source), nullString(r.RawEventID),
		}
	})
}

// LatestUsageStart returns the newest usage interval start stored for a
// site, source, and channel
func (w *Warehouse) LatestUsageStart(ctx context.Context, siteID, source, channel string) (time.Time, bool, error) {
	var latest sql.NullTime
	err := w.db.QueryRowContext(ctx, `
		SELECT MAX(interval_start) FROM usage_intervals
		WHERE site_id = $1 AND source = $2 AND channel_type = $3
	`, siteID, sourceOrDefault(source), channel).Scan(&latest)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("querying latest usage: %w", err)
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	return latest.Time.UTC(), true, nil
}

func (w *Warehouse) inTx(ctx context.Context, query string, n int, args func(i int) []any) (int64, error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	var affected int64
	for i := 0; i < n; i++ {
		res, err := stmt.ExecContext(ctx, args(i)...)
		if err != nil {
			return 0, fmt.Errorf("upserting row %d: %w", i, err)
		}
		if rows, err := res.RowsAffected(); err == nil {
			affected += rows
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing upsert: %w", err)
	}
	return affected, nil
}

func sourceOrDefault(source string) string {
	if source == "" {
		return DefaultSource
	}
	return source
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
