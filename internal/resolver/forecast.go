package resolver

import (
	"context"

	"github.com/jgoulah/gridcache/pkg/models"
)

const (
	DefaultForecastHours = 2
	MaxForecastHours     = 24

	intervalsPerHour = 12
)

// ForecastResult lists cached future prices. Message is set when there are none.
type ForecastResult struct {
	Intervals []models.PriceInterval
	Message   string
}

// Forecast returns cached prices starting after now, ascending, covering at
// most hours hours. Hours outside 1..24 are clamped, with zero or less
// meaning the default of 2. The forecast is served from the cache only.
func (r *Resolver) Forecast(ctx context.Context, hours int) ForecastResult {
	if hours <= 0 {
		hours = DefaultForecastHours
	}
	if hours > MaxForecastHours {
		hours = MaxForecastHours
	}
	if r.siteID == "" {
		return ForecastResult{Message: "Site not configured"}
	}

	rows, err := r.store.Forecast(ctx, r.siteID, r.channel, r.Now(), hours*intervalsPerHour)
	if err != nil {
		r.logger.Warn("cache read failed", "table", "prices", "op", "forecast", "err", err)
		rows = nil
	}
	if len(rows) == 0 {
		return ForecastResult{Intervals: []models.PriceInterval{}, Message: "No forecast data cached"}
	}
	return ForecastResult{Intervals: rows}
}
