package amber

import (
	"time"

	"github.com/jgoulah/gridcache/internal/interval"
	"github.com/jgoulah/gridcache/pkg/models"
)

// PriceRecord is a canonical price plus the upstream detail the cache does
// not keep
type PriceRecord struct {
	models.PriceInterval
	Kind        string
	SpotPerKwh  *float64
	SpikeStatus *string
}

// IsForecast reports whether the record is a forecast rather than a settled
// or current price
func (r PriceRecord) IsForecast() bool {
	return r.Kind == KindForecast
}

// MapPrices converts raw price records onto the interval grid. Records
// without a parseable start or a per-kWh price are dropped and counted.
func MapPrices(siteID string, raws []RawPrice) ([]PriceRecord, int) {
	records := make([]PriceRecord, 0, len(raws))
	dropped := 0
	for _, raw := range raws {
		start, end, ok := rawSpan(raw.StartTime, raw.EndTime, raw.Duration)
		if !ok || raw.PerKwh == nil {
			dropped++
			continue
		}
		records = append(records, PriceRecord{
			PriceInterval: models.PriceInterval{
				SiteID:        siteID,
				IntervalStart: start,
				IntervalEnd:   end,
				ChannelType:   channelOrDefault(raw.ChannelType),
				PerKwh:        *raw.PerKwh,
				Renewables:    raw.Renewables,
				Descriptor:    optional(raw.Descriptor),
			},
			Kind:        raw.Type,
			SpotPerKwh:  raw.SpotPerKwh,
			SpikeStatus: optional(raw.SpikeStatus),
		})
	}
	return records, dropped
}

// ToPriceIntervals converts raw price records into cache rows
func ToPriceIntervals(siteID string, raws []RawPrice) ([]models.PriceInterval, int) {
	records, dropped := MapPrices(siteID, raws)
	rows := make([]models.PriceInterval, len(records))
	for i, r := range records {
		rows[i] = r.PriceInterval
	}
	return rows, dropped
}

// ToUsageIntervals converts raw usage records into cache rows. Records
// without a parseable start or a kWh reading are dropped and counted.
func ToUsageIntervals(siteID string, raws []RawUsage) ([]models.UsageInterval, int) {
	rows := make([]models.UsageInterval, 0, len(raws))
	dropped := 0
	for _, raw := range raws {
		start, end, ok := rawSpan(raw.StartTime, raw.EndTime, raw.Duration)
		if !ok || raw.Kwh == nil {
			dropped++
			continue
		}
		rows = append(rows, models.UsageInterval{
			SiteID:          siteID,
			IntervalStart:   start,
			IntervalEnd:     end,
			ChannelType:     channelOrDefault(raw.ChannelType),
			Kwh:             *raw.Kwh,
			Cost:            raw.Cost,
			Quality:         optional(raw.Quality),
			MeterIdentifier: optional(raw.ChannelIdentifier),
		})
	}
	return rows, dropped
}

// rawSpan resolves an upstream start/end pair onto the grid. A missing start
// is recovered from the end and the duration in minutes when both are known.
func rawSpan(startRaw, endRaw string, durationMinutes int) (time.Time, time.Time, bool) {
	var end time.Time
	if endRaw != "" {
		if t, err := interval.Parse(endRaw); err == nil {
			end = t
		}
	}

	start, err := interval.Parse(startRaw)
	if err != nil {
		if end.IsZero() || durationMinutes <= 0 {
			return time.Time{}, time.Time{}, false
		}
		start = end.Add(-time.Duration(durationMinutes) * time.Minute)
	}

	if end.IsZero() && durationMinutes > 0 {
		end = start.Add(time.Duration(durationMinutes) * time.Minute)
	}

	s, e := interval.Span(start, end)
	return s, e, true
}

func channelOrDefault(channel string) string {
	if channel == "" {
		return models.DefaultChannel
	}
	return channel
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
