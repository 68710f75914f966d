// Package syncer runs the batch jobs that keep the cache warm and copy
// history into the warehouse.
package syncer

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jgoulah/gridcache/internal/amber"
	"github.com/jgoulah/gridcache/internal/warehouse"
	"github.com/jgoulah/gridcache/pkg/models"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultChunkDays   = 7
	DefaultMaxAttempts = 4
	DefaultBackoff     = time.Second
	maxBackoff         = 30 * time.Second

	// Newest usage rows requested by Sync; one per channel on a typical site
	recentUsageRecords = 3

	kindPrices = "prices"
	kindUsage  = "usage"
)

// Store is the local cache written by the jobs
type Store interface {
	UpsertPrices(ctx context.Context, rows []models.PriceInterval) (int, error)
	UpsertUsage(ctx context.Context, rows []models.UsageInterval) (int, error)
	Prune(ctx context.Context, retention time.Duration, now time.Time) (int64, error)
}

// LiveSource fetches the current prices and newest usage
type LiveSource interface {
	PricesCurrent(ctx context.Context, siteID string) ([]amber.RawPrice, error)
	UsageRecent(ctx context.Context, siteID string, n int) ([]amber.RawUsage, error)
}

// RangeSource fetches history by date range
type RangeSource interface {
	PricesRange(ctx context.Context, siteID string, from, to time.Time) ([]amber.RawPrice, error)
	UsageRange(ctx context.Context, siteID string, from, to time.Time) ([]amber.RawUsage, error)
}

// Sink receives history for durable storage
type Sink interface {
	InsertIngestEvent(ctx context.Context, source, kind string, payload any, window warehouse.Window) (string, error)
	UpsertPriceIntervals(ctx context.Context, rows []warehouse.PriceRow) (int64, error)
	UpsertUsageIntervals(ctx context.Context, rows []warehouse.UsageRow) (int64, error)
	LatestUsageStart(ctx context.Context, siteID, source, channel string) (time.Time, bool, error)
}

// Options configures a Syncer
type Options struct {
	Store       Store
	Live        LiveSource
	Ranges      RangeSource
	Sink        Sink // nil skips warehouse writes
	Clock       clockwork.Clock
	Logger      *log.Logger
	SiteID      string
	Channel     string
	Source      string
	Retention   time.Duration
	ChunkDays   int
	MaxAttempts int
	Backoff     time.Duration
}

// Syncer runs sync and backfill jobs for one site
type Syncer struct {
	store       Store
	live        LiveSource
	ranges      RangeSource
	sink        Sink
	clock       clockwork.Clock
	logger      *log.Logger
	siteID      string
	channel     string
	source      string
	retention   time.Duration
	chunkDays   int
	maxAttempts int
	backoff     time.Duration
}

// New creates a Syncer
func New(opts Options) (*Syncer, error) {
	if opts.SiteID == "" {
		return nil, fmt.Errorf("site id is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}

	s := &Syncer{
		store:       opts.Store,
		live:        opts.Live,
		ranges:      opts.Ranges,
		sink:        opts.Sink,
		clock:       opts.Clock,
		logger:      opts.Logger,
		siteID:      opts.SiteID,
		channel:     opts.Channel,
		source:      opts.Source,
		retention:   opts.Retention,
		chunkDays:   opts.ChunkDays,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.logger == nil {
		s.logger = log.New(io.Discard)
	}
	if s.channel == "" {
		s.channel = models.DefaultChannel
	}
	if s.source == "" {
		s.source = warehouse.DefaultSource
	}
	if s.retention <= 0 {
		s.retention = 14 * 24 * time.Hour
	}
	if s.chunkDays <= 0 {
		s.chunkDays = DefaultChunkDays
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = DefaultMaxAttempts
	}
	if s.backoff < 0 {
		s.backoff = 0
	}
	return s, nil
}

// SyncReport summarizes one Sync run
type SyncReport struct {
	Prices      int
	Usage       int
	Dropped     int
	Pruned      int64
	LatestPrice time.Time
	LatestUsage time.Time
}

// Sync fetches current prices and the newest usage, writes them to the
// cache, and prunes rows past retention. Upstream failures are returned; a
// failed prune is only logged.
func (s *Syncer) Sync(ctx context.Context) (SyncReport, error) {
	if s.live == nil {
		return SyncReport{}, fmt.Errorf("live source is required for sync")
	}
	var report SyncReport
	now := s.clock.Now().UTC()

	raws, err := s.live.PricesCurrent(ctx, s.siteID)
	if err != nil {
		return report, fmt.Errorf("fetching current prices: %w", err)
	}
	prices, dropped := amber.ToPriceIntervals(s.siteID, raws)
	report.Dropped += dropped

	rawUsage, err := s.live.UsageRecent(ctx, s.siteID, recentUsageRecords)
	if err != nil {
		return report, fmt.Errorf("fetching recent usage: %w", err)
	}
	usage, dropped := amber.ToUsageIntervals(s.siteID, rawUsage)
	report.Dropped += dropped

	if report.Prices, err = s.store.UpsertPrices(ctx, prices); err != nil {
		return report, fmt.Errorf("caching prices: %w", err)
	}
	if report.Usage, err = s.store.UpsertUsage(ctx, usage); err != nil {
		return report, fmt.Errorf("caching usage: %w", err)
	}

	for _, p := range prices {
		if !p.IntervalStart.After(now) && p.IntervalStart.After(report.LatestPrice) {
			report.LatestPrice = p.IntervalStart
		}
	}
	for _, u := range usage {
		if u.IntervalStart.After(report.LatestUsage) {
			report.LatestUsage = u.IntervalStart
		}
	}

	if report.Pruned, err = s.store.Prune(ctx, s.retention, now); err != nil {
		s.logger.Warn("cache prune failed", "err", err)
	}

	s.logger.Info("sync complete", "site", s.siteID, "prices", report.Prices, "usage", report.Usage, "dropped", report.Dropped, "pruned", report.Pruned)
	return report, nil
}

// Prune removes cached rows past retention
func (s *Syncer) Prune(ctx context.Context) (int64, error) {
	return s.store.Prune(ctx, s.retention, s.clock.Now().UTC())
}

// BackfillReport summarizes one Backfill run
type BackfillReport struct {
	Chunks        int
	Prices        int
	Usage         int
	Dropped       int
	Expired       int // rows older than retention, sent to the sink only
	Events        int
	WarehouseRows int64
}

// Backfill copies history between two dates inclusive into the cache and,
// when a sink is configured, the warehouse. Each chunk fetches prices and
// usage concurrently and retries transient failures with backoff.
func (s *Syncer) Backfill(ctx context.Context, from, to time.Time) (BackfillReport, error) {
	var report BackfillReport
	if s.ranges == nil {
		return report, fmt.Errorf("range source is required for backfill")
	}
	if to.Before(from) {
		return report, fmt.Errorf("backfill end %s is before start %s", to.Format("2006-01-02"), from.Format("2006-01-02"))
	}

	for _, chunk := range dayChunks(from, to, s.chunkDays) {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := s.backfillChunk(ctx, chunk, &report); err != nil {
			return report, fmt.Errorf("backfilling %s..%s: %w", chunk.Start.Format("2006-01-02"), chunk.End.Format("2006-01-02"), err)
		}
		report.Chunks++
		s.logger.Info("backfilled chunk", "start", chunk.Start.Format("2006-01-02"), "end", chunk.End.Format("2006-01-02"),
			"prices", report.Prices, "usage", report.Usage)
	}
	return report, nil
}

func (s *Syncer) backfillChunk(ctx context.Context, chunk warehouse.Window, report *BackfillReport) error {
	var (
		rawPrices []amber.RawPrice
		rawUsage  []amber.RawUsage
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.withRetry(gctx, "fetching prices", func(ctx context.Context) error {
			var err error
			rawPrices, err = s.ranges.PricesRange(ctx, s.siteID, chunk.Start, chunk.End)
			return err
		})
	})
	g.Go(func() error {
		return s.withRetry(gctx, "fetching usage", func(ctx context.Context) error {
			var err error
			rawUsage, err = s.ranges.UsageRange(ctx, s.siteID, chunk.Start, chunk.End)
			return err
		})
	})
	if err := g.Wait(); err != nil {
		return err
	}

	priceRecords, dropped := amber.MapPrices(s.siteID, rawPrices)
	report.Dropped += dropped
	usage, dropped := amber.ToUsageIntervals(s.siteID, rawUsage)
	report.Dropped += dropped

	// Prune would delete anything older than the cutoff on the next sync
	cutoff := s.clock.Now().UTC().Add(-s.retention)
	prices := make([]models.PriceInterval, 0, len(priceRecords))
	for _, rec := range priceRecords {
		if rec.IntervalStart.Before(cutoff) {
			report.Expired++
			continue
		}
		prices = append(prices, rec.PriceInterval)
	}
	recent := make([]models.UsageInterval, 0, len(usage))
	for _, u := range usage {
		if u.IntervalStart.Before(cutoff) {
			report.Expired++
			continue
		}
		recent = append(recent, u)
	}

	n, err := s.store.UpsertPrices(ctx, prices)
	if err != nil {
		return fmt.Errorf("caching prices: %w", err)
	}
	report.Prices += n
	if n, err = s.store.UpsertUsage(ctx, recent); err != nil {
		return fmt.Errorf("caching usage: %w", err)
	}
	report.Usage += n

	if s.sink == nil {
		return nil
	}
	return s.writeSink(ctx, chunk, rawPrices, priceRecords, rawUsage, usage, report)
}

func (s *Syncer) writeSink(ctx context.Context, chunk warehouse.Window, rawPrices []amber.RawPrice, prices []amber.PriceRecord,
	rawUsage []amber.RawUsage, usage []models.UsageInterval, report *BackfillReport) error {
	if len(rawPrices) > 0 {
		eventID, err := s.sink.InsertIngestEvent(ctx, s.source, kindPrices, rawPrices, chunk)
		if err != nil {
			return fmt.Errorf("recording price payload: %w", err)
		}
		report.Events++
		n, err := s.sink.UpsertPriceIntervals(ctx, toPriceRows(prices, s.source, eventID))
		if err != nil {
			return fmt.Errorf("writing price intervals: %w", err)
		}
		report.WarehouseRows += n
	}

	if len(rawUsage) > 0 {
		eventID, err := s.sink.InsertIngestEvent(ctx, s.source, kindUsage, rawUsage, chunk)
		if err != nil {
			return fmt.Errorf("recording usage payload: %w", err)
		}
		report.Events++
		n, err := s.sink.UpsertUsageIntervals(ctx, toUsageRows(usage, s.source, eventID))
		if err != nil {
			return fmt.Errorf("writing usage intervals: %w", err)
		}
		report.WarehouseRows += n
	}
	return nil
}

// ResumeFrom returns the day to restart a backfill from: the day of the
// newest usage already in the warehouse when that is later than from.
func (s *Syncer) ResumeFrom(ctx context.Context, from time.Time) (time.Time, error) {
	if s.sink == nil {
		return from, nil
	}
	latest, ok, err := s.sink.LatestUsageStart(ctx, s.siteID, s.source, s.channel)
	if err != nil {
		return from, fmt.Errorf("finding resume point: %w", err)
	}
	if !ok {
		return from, nil
	}
	day := truncateDay(latest.In(from.Location()))
	if day.After(from) {
		return day, nil
	}
	return from, nil
}

// withRetry runs fn until it succeeds, the attempts run out, or the API
// rejects the credentials
func (s *Syncer) withRetry(ctx context.Context, what string, fn func(context.Context) error) error {
	delay := s.backoff
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if amber.IsAuthError(err) || ctx.Err() != nil {
			return fmt.Errorf("%s: %w", what, err)
		}
		if attempt >= s.maxAttempts {
			return fmt.Errorf("%s after %d attempts: %w", what, attempt, err)
		}

		s.logger.Warn("retrying", "op", what, "attempt", attempt, "delay", delay, "err", err)
		if delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.clock.After(delay):
			}
		}
		delay *= 2
		if delay > maxBackoff {
			delay = maxBackoff
		}
	}
}

func toPriceRows(records []amber.PriceRecord, source, eventID string) []warehouse.PriceRow {
	rows := make([]warehouse.PriceRow, len(records))
	for i, rec := range records {
		perKwh := rec.PerKwh
		rows[i] = warehouse.PriceRow{
			SiteID:            rec.SiteID,
			IntervalStart:     rec.IntervalStart,
			IntervalEnd:       rec.IntervalEnd,
			IsForecast:        rec.IsForecast(),
			PriceCentsPerKwh:  &perKwh,
			SpotPerKwh:        rec.SpotPerKwh,
			Descriptor:        rec.Descriptor,
			SpikeStatus:       rec.SpikeStatus,
			RenewablesPercent: rec.Renewables,
			Source:            source,
			RawEventID:        optionalID(eventID),
		}
	}
	return rows
}

func toUsageRows(usage []models.UsageInterval, source, eventID string) []warehouse.UsageRow {
	rows := make([]warehouse.UsageRow, len(usage))
	for i, u := range usage {
		rows[i] = warehouse.UsageRow{
			SiteID:          u.SiteID,
			ChannelType:     u.ChannelType,
			IntervalStart:   u.IntervalStart,
			IntervalEnd:     u.IntervalEnd,
			Kwh:             u.Kwh,
			CostAUD:         u.Cost,
			Quality:         u.Quality,
			MeterIdentifier: u.MeterIdentifier,
			Source:          source,
			RawEventID:      optionalID(eventID),
		}
	}
	return rows
}

func optionalID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

// dayChunks splits [from, to] into windows of at most days calendar days
func dayChunks(from, to time.Time, days int) []warehouse.Window {
	start := truncateDay(from)
	end := truncateDay(to)

	var chunks []warehouse.Window
	for !start.After(end) {
		chunkEnd := start.AddDate(0, 0, days-1)
		if chunkEnd.After(end) {
			chunkEnd = end
		}
		chunks = append(chunks, warehouse.Window{Start: start, End: chunkEnd})
		start = chunkEnd.AddDate(0, 0, 1)
	}
	return chunks
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
