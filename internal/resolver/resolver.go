// Package resolver answers "what is the price and usage right now" from the
// local cache and the live API, in that order, and degrades to stale cache
// data rather than failing when the API is slow or down.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jgoulah/gridcache/internal/amber"
	"github.com/jgoulah/gridcache/pkg/models"
	"github.com/jonboulle/clockwork"
)

// Source records where a resolved value came from
type Source string

const (
	SourceLive  Source = "live"
	SourceCache Source = "cache"
)

var (
	// ErrNotConfigured is wrapped by every configuration error
	ErrNotConfigured = errors.New("not configured")
	// ErrNoSite is returned when no site is configured
	ErrNoSite = fmt.Errorf("%w: AMBER_SITE_ID is not set", ErrNotConfigured)
	// ErrNoCredentials is returned when the cache is empty and there is no
	// API token to fetch live data with
	ErrNoCredentials = fmt.Errorf("%w: AMBER_TOKEN is not set", ErrNotConfigured)
	// ErrNoData is returned when neither the API nor the cache has a value
	ErrNoData = errors.New("no data available")
)

const (
	DefaultFreshness   = 15 * time.Minute
	DefaultLiveTimeout = 4 * time.Second
	DefaultRetention   = 14 * 24 * time.Hour
)

// Store is the cache the resolver reads through
type Store interface {
	UpsertPrices(ctx context.Context, rows []models.PriceInterval) (int, error)
	UpsertUsage(ctx context.Context, rows []models.UsageInterval) (int, error)
	PriceForInterval(ctx context.Context, siteID string, start time.Time, channel string) (models.PriceInterval, bool, error)
	LatestPrice(ctx context.Context, siteID, channel string, asOf time.Time) (models.PriceInterval, bool, error)
	UsageForInterval(ctx context.Context, siteID string, start time.Time, channel string) (models.UsageInterval, bool, error)
	LatestUsage(ctx context.Context, siteID, channel string, asOf time.Time) (models.UsageInterval, bool, error)
	Forecast(ctx context.Context, siteID, channel string, asOf time.Time, limit int) ([]models.PriceInterval, error)
	Prune(ctx context.Context, retention time.Duration, now time.Time) (int64, error)
}

// Upstream is the live data source
type Upstream interface {
	PricesCurrent(ctx context.Context, siteID string) ([]amber.RawPrice, error)
	UsageRecent(ctx context.Context, siteID string, n int) ([]amber.RawUsage, error)
}

// Options configures a Resolver. Zero values take the package defaults.
type Options struct {
	Store       Store
	Upstream    Upstream // nil disables the live tier
	Clock       clockwork.Clock
	Logger      *log.Logger
	SiteID      string
	Channel     string
	Freshness   time.Duration
	LiveTimeout time.Duration
	Retention   time.Duration
}

// Resolved carries a value with its provenance
type Resolved[T any] struct {
	Value  T
	Source Source
	Stale  bool
	Age    time.Duration
}

// Resolver implements the read-through cache
type Resolver struct {
	store       Store
	upstream    Upstream
	clock       clockwork.Clock
	logger      *log.Logger
	siteID      string
	channel     string
	freshness   time.Duration
	liveTimeout time.Duration
	retention   time.Duration
}

// New creates a Resolver
func New(opts Options) *Resolver {
	r := &Resolver{
		store:       opts.Store,
		upstream:    opts.Upstream,
		clock:       opts.Clock,
		logger:      opts.Logger,
		siteID:      opts.SiteID,
		channel:     opts.Channel,
		freshness:   opts.Freshness,
		liveTimeout: opts.LiveTimeout,
		retention:   opts.Retention,
	}
	if r.clock == nil {
		r.clock = clockwork.NewRealClock()
	}
	if r.logger == nil {
		r.logger = log.New(io.Discard)
	}
	if r.channel == "" {
		r.channel = models.DefaultChannel
	}
	if r.freshness <= 0 {
		r.freshness = DefaultFreshness
	}
	if r.liveTimeout <= 0 {
		r.liveTimeout = DefaultLiveTimeout
	}
	if r.retention <= 0 {
		r.retention = DefaultRetention
	}
	return r
}

// SiteID returns the configured site
func (r *Resolver) SiteID() string {
	return r.siteID
}

// Now returns the resolver's current time in UTC
func (r *Resolver) Now() time.Time {
	return r.clock.Now().UTC()
}

// writeBack stores live rows and prunes old ones. Failures are logged only:
// a broken cache must not fail a request that already has its answer.
func (r *Resolver) writeBack(ctx context.Context, prices []models.PriceInterval, usage []models.UsageInterval) {
	if len(prices) > 0 {
		if _, err := r.store.UpsertPrices(ctx, prices); err != nil {
			r.logger.Warn("cache write failed", "table", "prices", "rows", len(prices), "err", err)
		}
	}
	if len(usage) > 0 {
		if _, err := r.store.UpsertUsage(ctx, usage); err != nil {
			r.logger.Warn("cache write failed", "table", "usage", "rows", len(usage), "err", err)
		}
	}
	if n, err := r.store.Prune(ctx, r.retention, r.Now()); err != nil {
		r.logger.Warn("cache prune failed", "err", err)
	} else if n > 0 {
		r.logger.Debug("pruned cache", "rows", n)
	}
}
