package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jgoulah/gridcache/internal/amber"
	"github.com/jgoulah/gridcache/internal/interval"
	"github.com/jgoulah/gridcache/pkg/models"
)

// liveUsageRecords covers one reading per channel of a typical site
const liveUsageRecords = 3

// LatestUsage resolves the most recent usage reading. The interval that just
// completed is looked up by key first, then any cached reading within the
// freshness threshold is served directly; otherwise a live fetch is tried
// before falling back to the newest cached reading, marked stale.
func (r *Resolver) LatestUsage(ctx context.Context) (Resolved[models.UsageInterval], error) {
	if r.siteID == "" {
		return Resolved[models.UsageInterval]{}, ErrNoSite
	}
	now := r.Now()

	if row, ok := r.completedUsage(ctx, now); ok {
		return Resolved[models.UsageInterval]{Value: row, Source: SourceCache, Age: interval.Age(now, row.IntervalEnd)}, nil
	}

	cached, haveCached := r.latestUsage(ctx, now)
	if haveCached {
		if age := interval.Age(now, cached.IntervalEnd); age <= r.freshness {
			return Resolved[models.UsageInterval]{Value: cached, Source: SourceCache, Age: age}, nil
		}
	}

	row, liveErr := r.liveUsage(ctx, now)
	if liveErr == nil {
		return Resolved[models.UsageInterval]{
			Value:  row,
			Source: SourceLive,
			Age:    interval.Age(now, row.IntervalEnd),
		}, nil
	}
	if !errors.Is(liveErr, errLiveDisabled) {
		r.logger.Warn("live usage unavailable, falling back to cache", "site", r.siteID, "err", liveErr)
	}

	if haveCached {
		return Resolved[models.UsageInterval]{
			Value:  cached,
			Source: SourceCache,
			Stale:  true,
			Age:    interval.Age(now, cached.IntervalEnd),
		}, nil
	}

	if errors.Is(liveErr, errLiveDisabled) {
		return Resolved[models.UsageInterval]{}, fmt.Errorf("%w: no cached usage for site %s", ErrNoCredentials, r.siteID)
	}
	return Resolved[models.UsageInterval]{}, fmt.Errorf("%w: latest usage for site %s: live: %v; cache: empty", ErrNoData, r.siteID, liveErr)
}

// completedUsage reads the interval ending at the current boundary, legacy
// keys included
func (r *Resolver) completedUsage(ctx context.Context, now time.Time) (models.UsageInterval, bool) {
	start := interval.Floor(now).Add(-interval.Duration)
	row, ok, err := r.store.UsageForInterval(ctx, r.siteID, start, r.channel)
	if err != nil {
		r.logger.Warn("cache read failed", "table", "usage", "err", err)
		return models.UsageInterval{}, false
	}
	return row, ok
}

func (r *Resolver) latestUsage(ctx context.Context, asOf time.Time) (models.UsageInterval, bool) {
	row, ok, err := r.store.LatestUsage(ctx, r.siteID, r.channel, asOf)
	if err != nil {
		r.logger.Warn("cache read failed", "table", "usage", "err", err)
		return models.UsageInterval{}, false
	}
	return row, ok
}

func (r *Resolver) liveUsage(ctx context.Context, now time.Time) (models.UsageInterval, error) {
	if r.upstream == nil {
		return models.UsageInterval{}, errLiveDisabled
	}

	fetchCtx, cancel := context.WithTimeout(ctx, r.liveTimeout)
	raws, err := r.upstream.UsageRecent(fetchCtx, r.siteID, liveUsageRecords)
	cancel()
	if err != nil {
		return models.UsageInterval{}, fmt.Errorf("fetching recent usage: %w", err)
	}

	rows, dropped := amber.ToUsageIntervals(r.siteID, raws)
	if dropped > 0 {
		r.logger.Debug("dropped unparseable usage records", "count", dropped)
	}

	var newest *models.UsageInterval
	for i := range rows {
		row := &rows[i]
		if row.ChannelType != r.channel || row.IntervalStart.After(now) {
			continue
		}
		if newest == nil || row.IntervalStart.After(newest.IntervalStart) {
			newest = row
		}
	}
	if newest == nil {
		return models.UsageInterval{}, fmt.Errorf("no %s usage in live response of %d records", r.channel, len(raws))
	}

	r.writeBack(ctx, nil, rows)

	result := *newest
	result.UpdatedAt = now
	return result, nil
}
