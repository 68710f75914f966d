package resolver

import (
	"context"
	"time"

	"github.com/jgoulah/gridcache/internal/interval"
)

// Status summarizes cache freshness
type Status string

const (
	StatusOK      Status = "ok"
	StatusStale   Status = "stale"
	StatusUnknown Status = "unknown"
)

// HealthReport describes how fresh the cached data is. It never triggers a
// live fetch.
type HealthReport struct {
	CheckedAt        time.Time
	Status           Status
	LatestPriceStart *time.Time
	LatestUsageStart *time.Time
	PriceAge         *time.Duration
	UsageAge         *time.Duration
}

// Health reports on the newest cached price and usage at or before now.
// Status is ok only when both exist and neither is older than the freshness
// threshold, unknown when neither exists, and stale otherwise.
func (r *Resolver) Health(ctx context.Context) HealthReport {
	now := r.Now()
	report := HealthReport{CheckedAt: now, Status: StatusUnknown}
	if r.siteID == "" {
		return report
	}

	if price, ok := r.latestPrice(ctx, now); ok {
		start := price.IntervalStart
		age := interval.Age(now, price.IntervalEnd)
		report.LatestPriceStart = &start
		report.PriceAge = &age
	}
	if usage, ok := r.latestUsage(ctx, now); ok {
		start := usage.IntervalStart
		age := interval.Age(now, usage.IntervalEnd)
		report.LatestUsageStart = &start
		report.UsageAge = &age
	}

	switch {
	case report.PriceAge == nil && report.UsageAge == nil:
		report.Status = StatusUnknown
	case report.PriceAge != nil && report.UsageAge != nil &&
		*report.PriceAge <= r.freshness && *report.UsageAge <= r.freshness:
		report.Status = StatusOK
	default:
		report.Status = StatusStale
	}
	return report
}
