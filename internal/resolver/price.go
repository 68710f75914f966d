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

var errLiveDisabled = errors.New("live source disabled")

// CurrentPrice resolves the price of the interval containing now. It tries,
// in order: the cached row for exactly this interval, a live fetch bounded by
// the live timeout, and the most recent cached row at or before now, which is
// marked stale.
func (r *Resolver) CurrentPrice(ctx context.Context) (Resolved[models.PriceInterval], error) {
	if r.siteID == "" {
		return Resolved[models.PriceInterval]{}, ErrNoSite
	}
	now := r.Now()

	if row, ok := r.cachedPrice(ctx, interval.Floor(now)); ok {
		return Resolved[models.PriceInterval]{
			Value:  row,
			Source: SourceCache,
			Age:    interval.Age(now, row.IntervalEnd),
		}, nil
	}

	row, liveErr := r.livePrice(ctx, now)
	if liveErr == nil {
		return Resolved[models.PriceInterval]{
			Value:  row,
			Source: SourceLive,
			Age:    interval.Age(now, row.IntervalEnd),
		}, nil
	}
	if !errors.Is(liveErr, errLiveDisabled) {
		r.logger.Warn("live price unavailable, falling back to cache", "site", r.siteID, "err", liveErr)
	}

	if row, ok := r.latestPrice(ctx, now); ok {
		return Resolved[models.PriceInterval]{
			Value:  row,
			Source: SourceCache,
			Stale:  true,
			Age:    interval.Age(now, row.IntervalEnd),
		}, nil
	}

	if errors.Is(liveErr, errLiveDisabled) {
		return Resolved[models.PriceInterval]{}, fmt.Errorf("%w: no cached price for site %s", ErrNoCredentials, r.siteID)
	}
	return Resolved[models.PriceInterval]{}, fmt.Errorf("%w: current price for site %s: live: %v; cache: empty", ErrNoData, r.siteID, liveErr)
}

func (r *Resolver) cachedPrice(ctx context.Context, canonical time.Time) (models.PriceInterval, bool) {
	row, ok, err := r.store.PriceForInterval(ctx, r.siteID, canonical, r.channel)
	if err != nil {
		r.logger.Warn("cache read failed", "table", "prices", "err", err)
		return models.PriceInterval{}, false
	}
	return row, ok
}

func (r *Resolver) latestPrice(ctx context.Context, asOf time.Time) (models.PriceInterval, bool) {
	row, ok, err := r.store.LatestPrice(ctx, r.siteID, r.channel, asOf)
	if err != nil {
		r.logger.Warn("cache read failed", "table", "prices", "err", err)
		return models.PriceInterval{}, false
	}
	return row, ok
}

func (r *Resolver) livePrice(ctx context.Context, now time.Time) (models.PriceInterval, error) {
	if r.upstream == nil {
		return models.PriceInterval{}, errLiveDisabled
	}

	fetchCtx, cancel := context.WithTimeout(ctx, r.liveTimeout)
	raws, err := r.upstream.PricesCurrent(fetchCtx, r.siteID)
	cancel()
	if err != nil {
		return models.PriceInterval{}, fmt.Errorf("fetching current prices: %w", err)
	}

	records, dropped := amber.MapPrices(r.siteID, raws)
	if dropped > 0 {
		r.logger.Debug("dropped unparseable price records", "count", dropped)
	}

	current, ok := pickCurrent(records, r.channel, interval.Floor(now))
	if !ok {
		return models.PriceInterval{}, fmt.Errorf("no %s price in live response of %d records", r.channel, len(raws))
	}

	rows := make([]models.PriceInterval, len(records))
	for i, rec := range records {
		rows[i] = rec.PriceInterval
	}
	r.writeBack(ctx, rows, nil)

	current.UpdatedAt = now
	return current, nil
}

// pickCurrent selects the record for the interval containing now, then the
// one labelled current by the API, then the first on the channel.
func pickCurrent(records []amber.PriceRecord, channel string, canonical time.Time) (models.PriceInterval, bool) {
	var labelled, first *amber.PriceRecord
	for i := range records {
		rec := &records[i]
		if rec.ChannelType != channel {
			continue
		}
		if rec.IntervalStart.Equal(canonical) {
			return rec.PriceInterval, true
		}
		if labelled == nil && rec.Kind == amber.KindCurrent {
			labelled = rec
		}
		if first == nil {
			first = rec
		}
	}
	if labelled != nil {
		return labelled.PriceInterval, true
	}
	if first != nil {
		return first.PriceInterval, true
	}
	return models.PriceInterval{}, false
}
