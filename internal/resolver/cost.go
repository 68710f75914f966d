package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/jgoulah/gridcache/internal/interval"
	"github.com/jgoulah/gridcache/pkg/models"
)

// CostEstimate is the running cost derived from the current price and the
// latest usage reading
type CostEstimate struct {
	CostPerHour     float64 // Cents per hour
	PowerKW         float64
	PerKwh          float64
	IntervalMinutes float64
	PriceSource     Source
	PriceStale      bool
	UsageSource     Source
	UsageStale      bool
	// IsEstimated is set when the usage reading is older than the freshness
	// threshold, independent of whether it came from the cache
	IsEstimated bool
	UsageAge    time.Duration
	Price       models.PriceInterval
	Usage       models.UsageInterval
}

// CostPerHour combines CurrentPrice and LatestUsage. Average power over the
// usage interval is kWh divided by its length in hours.
func (r *Resolver) CostPerHour(ctx context.Context) (CostEstimate, error) {
	price, err := r.CurrentPrice(ctx)
	if err != nil {
		return CostEstimate{}, fmt.Errorf("resolving price: %w", err)
	}
	usage, err := r.LatestUsage(ctx)
	if err != nil {
		return CostEstimate{}, fmt.Errorf("resolving usage: %w", err)
	}

	span := usage.Value.Duration()
	if span <= 0 {
		span = interval.Duration
	}
	powerKW := usage.Value.Kwh / span.Hours()

	return CostEstimate{
		CostPerHour:     powerKW * price.Value.PerKwh,
		PowerKW:         powerKW,
		PerKwh:          price.Value.PerKwh,
		IntervalMinutes: span.Minutes(),
		PriceSource:     price.Source,
		PriceStale:      price.Stale,
		UsageSource:     usage.Source,
		UsageStale:      usage.Stale,
		IsEstimated:     usage.Age > r.freshness,
		UsageAge:        usage.Age,
		Price:           price.Value,
		Usage:           usage.Value,
	}, nil
}
