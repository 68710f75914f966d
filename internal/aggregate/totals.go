// Package aggregate computes month-to-date cost totals from cached usage.
package aggregate

import (
	"context"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jgoulah/gridcache/internal/interval"
	"github.com/jgoulah/gridcache/pkg/models"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
)

const (
	// DefaultTimezone defines where billing months begin
	DefaultTimezone = "Australia/Sydney"
	// DefaultDelayThreshold is how old usage may get before totals are flagged delayed
	DefaultDelayThreshold = 30 * time.Minute

	MessageNoUsage = "Waiting for usage data"
	MessageNoCost  = "Waiting for settled cost data"
)

// UsageSource reads cached usage for a time window
type UsageSource interface {
	UsageWindow(ctx context.Context, siteID, channel string, from, to time.Time) ([]models.UsageInterval, error)
}

// Totals is the month-to-date summary. Total, AsOf, and UsageAge are nil when
// there is nothing to report.
type Totals struct {
	MonthStart time.Time
	Total      *decimal.Decimal
	AsOf       *time.Time
	Count      int
	UsageAge   *time.Duration
	IsDelayed  bool
	Message    string
}

// Aggregator computes Totals for one site and channel
type Aggregator struct {
	source         UsageSource
	siteID         string
	channel        string
	location       *time.Location
	delayThreshold time.Duration
	clock          clockwork.Clock
	logger         *log.Logger
}

// Option configures an Aggregator
type Option func(*Aggregator)

// WithChannel selects the meter channel, "general" by default
func WithChannel(channel string) Option {
	return func(a *Aggregator) {
		if channel != "" {
			a.channel = channel
		}
	}
}

// WithLocation sets the zone whose calendar defines the month
func WithLocation(loc *time.Location) Option {
	return func(a *Aggregator) {
		if loc != nil {
			a.location = loc
		}
	}
}

// WithDelayThreshold overrides DefaultDelayThreshold
func WithDelayThreshold(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.delayThreshold = d
		}
	}
}

// WithClock sets the time source
func WithClock(clock clockwork.Clock) Option {
	return func(a *Aggregator) {
		a.clock = clock
	}
}

// WithLogger sets the logger
func WithLogger(logger *log.Logger) Option {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

// New creates an Aggregator. The default location is Australia/Sydney,
// falling back to UTC if the zone database is unavailable.
func New(source UsageSource, siteID string, opts ...Option) *Aggregator {
	a := &Aggregator{
		source:         source,
		siteID:         siteID,
		channel:        models.DefaultChannel,
		delayThreshold: DefaultDelayThreshold,
		clock:          clockwork.NewRealClock(),
		logger:         log.New(io.Discard),
	}
	if loc, err := time.LoadLocation(DefaultTimezone); err == nil {
		a.location = loc
	} else {
		a.location = time.UTC
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// MonthStart returns midnight on the first day of now's month in loc, as UTC
func MonthStart(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc).UTC()
}

// MonthToDate sums settled cost over usage starting between the local month
// start and now. Rows without a cost count toward usage age only. Read
// failures are logged and reported as an empty window.
func (a *Aggregator) MonthToDate(ctx context.Context) Totals {
	now := a.clock.Now().UTC()
	totals := Totals{MonthStart: MonthStart(now, a.location)}

	rows, err := a.source.UsageWindow(ctx, a.siteID, a.channel, totals.MonthStart, now)
	if err != nil {
		a.logger.Warn("cache read failed", "table", "usage", "op", "month_to_date", "err", err)
		rows = nil
	}
	if len(rows) == 0 {
		totals.Message = MessageNoUsage
		return totals
	}

	var (
		sum         = decimal.Zero
		latestCost  time.Time
		latestUsage time.Time
	)
	for _, row := range rows {
		if row.IntervalEnd.After(latestUsage) {
			latestUsage = row.IntervalEnd
		}
		if row.Cost == nil {
			continue
		}
		sum = sum.Add(decimal.NewFromFloat(*row.Cost))
		totals.Count++
		if row.IntervalEnd.After(latestCost) {
			latestCost = row.IntervalEnd
		}
	}

	age := interval.Age(now, latestUsage)
	totals.UsageAge = &age
	totals.IsDelayed = age > a.delayThreshold

	if totals.Count == 0 {
		totals.Message = MessageNoCost
		return totals
	}
	totals.Total = &sum
	totals.AsOf = &latestCost
	return totals
}
