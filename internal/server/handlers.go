package server

import (
	"net/http"
	"time"

	"github.com/jgoulah/gridcache/internal/interval"
	"github.com/jgoulah/gridcache/internal/resolver"
	"github.com/jgoulah/gridcache/pkg/models"
)

type priceResponse struct {
	SiteID        string   `json:"site_id"`
	ChannelType   string   `json:"channel_type"`
	PerKwh        float64  `json:"per_kwh"`
	Renewables    *float64 `json:"renewables"`
	Descriptor    *string  `json:"descriptor"`
	IntervalStart string   `json:"interval_start"`
	IntervalEnd   string   `json:"interval_end"`
	Source        string   `json:"source"`
	Stale         bool     `json:"stale"`
	AgeSeconds    float64  `json:"age_seconds"`
	FetchedAt     string   `json:"fetched_at"`
}

type usageResponse struct {
	SiteID          string   `json:"site_id"`
	ChannelType     string   `json:"channel_type"`
	Kwh             float64  `json:"kwh"`
	Cost            *float64 `json:"cost"`
	Quality         *string  `json:"quality"`
	IntervalStart   string   `json:"interval_start"`
	IntervalEnd     string   `json:"interval_end"`
	IntervalMinutes float64  `json:"interval_minutes"`
	Source          string   `json:"source"`
	Stale           bool     `json:"stale"`
	AgeSeconds      float64  `json:"age_seconds"`
	FetchedAt       string   `json:"fetched_at"`
}

type costResponse struct {
	CostPerHour     float64 `json:"cost_per_hour"`
	UsageKW         float64 `json:"usage_kw"`
	PricePerKwh     float64 `json:"price_per_kwh"`
	IntervalMinutes float64 `json:"interval_minutes"`
	PriceSource     string  `json:"price_source"`
	PriceStale      bool    `json:"price_stale"`
	UsageSource     string  `json:"usage_source"`
	UsageStale      bool    `json:"usage_stale"`
	IsEstimated     bool    `json:"is_estimated"`
	UsageAgeSeconds float64 `json:"usage_age_seconds"`
	FetchedAt       string  `json:"fetched_at"`
}

type healthResponse struct {
	AppTime                  string   `json:"app_time"`
	Status                   string   `json:"status"`
	DataSource               string   `json:"data_source"`
	LatestPriceIntervalStart *string  `json:"latest_price_interval_start"`
	LatestUsageIntervalStart *string  `json:"latest_usage_interval_start"`
	PriceAgeSeconds          *float64 `json:"price_age_seconds"`
	UsageAgeSeconds          *float64 `json:"usage_age_seconds"`
	DataAgeSeconds           *float64 `json:"data_age_seconds"`
}

type forecastInterval struct {
	IntervalStart string   `json:"interval_start"`
	IntervalEnd   string   `json:"interval_end"`
	PerKwh        float64  `json:"per_kwh"`
	Renewables    *float64 `json:"renewables"`
	Descriptor    *string  `json:"descriptor"`
}

type forecastResponse struct {
	Hours     int                `json:"hours"`
	Intervals []forecastInterval `json:"intervals"`
	Message   string             `json:"message,omitempty"`
}

type totalsResponse struct {
	MonthToDateCostAUD *float64 `json:"month_to_date_cost_aud"`
	AsOfIntervalEnd    *string  `json:"as_of_interval_end"`
	IntervalsCount     int      `json:"intervals_count"`
	UsageAgeSeconds    *float64 `json:"usage_age_seconds"`
	IsDelayed          bool     `json:"is_delayed"`
	Message            *string  `json:"message"`
	MonthStart         string   `json:"month_start"`
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	price, err := s.resolver.CurrentPrice(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set(DataSourceHeader, string(price.Source))
	writeJSON(w, http.StatusOK, priceResponse{
		SiteID:        price.Value.SiteID,
		ChannelType:   price.Value.ChannelType,
		PerKwh:        price.Value.PerKwh,
		Renewables:    price.Value.Renewables,
		Descriptor:    price.Value.Descriptor,
		IntervalStart: interval.Format(price.Value.IntervalStart),
		IntervalEnd:   interval.Format(price.Value.IntervalEnd),
		Source:        string(price.Source),
		Stale:         price.Stale,
		AgeSeconds:    price.Age.Seconds(),
		FetchedAt:     interval.Format(s.resolver.Now()),
	})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := s.resolver.LatestUsage(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set(DataSourceHeader, string(usage.Source))
	writeJSON(w, http.StatusOK, usageResponse{
		SiteID:          usage.Value.SiteID,
		ChannelType:     usage.Value.ChannelType,
		Kwh:             usage.Value.Kwh,
		Cost:            usage.Value.Cost,
		Quality:         usage.Value.Quality,
		IntervalStart:   interval.Format(usage.Value.IntervalStart),
		IntervalEnd:     interval.Format(usage.Value.IntervalEnd),
		IntervalMinutes: usage.Value.Duration().Minutes(),
		Source:          string(usage.Source),
		Stale:           usage.Stale,
		AgeSeconds:      usage.Age.Seconds(),
		FetchedAt:       interval.Format(s.resolver.Now()),
	})
}

func (s *Server) handleCost(w http.ResponseWriter, r *http.Request) {
	est, err := s.resolver.CostPerHour(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, costResponse{
		CostPerHour:     est.CostPerHour,
		UsageKW:         est.PowerKW,
		PricePerKwh:     est.PerKwh,
		IntervalMinutes: est.IntervalMinutes,
		PriceSource:     string(est.PriceSource),
		PriceStale:      est.PriceStale,
		UsageSource:     string(est.UsageSource),
		UsageStale:      est.UsageStale,
		IsEstimated:     est.IsEstimated,
		UsageAgeSeconds: est.UsageAge.Seconds(),
		FetchedAt:       interval.Format(s.resolver.Now()),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.resolver.Health(r.Context())

	resp := healthResponse{
		AppTime:                  interval.Format(report.CheckedAt),
		Status:                   string(report.Status),
		DataSource:               string(resolver.SourceCache),
		LatestPriceIntervalStart: formatOptional(report.LatestPriceStart),
		LatestUsageIntervalStart: formatOptional(report.LatestUsageStart),
		PriceAgeSeconds:          seconds(report.PriceAge),
		UsageAgeSeconds:          seconds(report.UsageAge),
	}
	// The dashboard shows one age: the older of the two inputs
	switch {
	case report.PriceAge != nil && report.UsageAge != nil:
		resp.DataAgeSeconds = seconds(ptr(max(*report.PriceAge, *report.UsageAge)))
	case report.PriceAge != nil:
		resp.DataAgeSeconds = seconds(report.PriceAge)
	case report.UsageAge != nil:
		resp.DataAgeSeconds = seconds(report.UsageAge)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	hours := forecastHours(r)
	if hours <= 0 {
		hours = resolver.DefaultForecastHours
	}
	if hours > resolver.MaxForecastHours {
		hours = resolver.MaxForecastHours
	}

	result := s.resolver.Forecast(r.Context(), hours)
	resp := forecastResponse{
		Hours:     hours,
		Intervals: make([]forecastInterval, 0, len(result.Intervals)),
		Message:   result.Message,
	}
	for _, p := range result.Intervals {
		resp.Intervals = append(resp.Intervals, toForecastInterval(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTotals(w http.ResponseWriter, r *http.Request) {
	totals := s.totals.MonthToDate(r.Context())

	resp := totalsResponse{
		IntervalsCount:  totals.Count,
		UsageAgeSeconds: seconds(totals.UsageAge),
		IsDelayed:       totals.IsDelayed,
		AsOfIntervalEnd: formatOptional(totals.AsOf),
		MonthStart:      interval.Format(totals.MonthStart),
	}
	if totals.Total != nil {
		v := totals.Total.InexactFloat64()
		resp.MonthToDateCostAUD = &v
	}
	if totals.Message != "" {
		resp.Message = &totals.Message
	}
	writeJSON(w, http.StatusOK, resp)
}

func toForecastInterval(p models.PriceInterval) forecastInterval {
	return forecastInterval{
		IntervalStart: interval.Format(p.IntervalStart),
		IntervalEnd:   interval.Format(p.IntervalEnd),
		PerKwh:        p.PerKwh,
		Renewables:    p.Renewables,
		Descriptor:    p.Descriptor,
	}
}

func formatOptional(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := interval.Format(*t)
	return &s
}

func seconds(d *time.Duration) *float64 {
	if d == nil {
		return nil
	}
	v := d.Seconds()
	return &v
}

func ptr[T any](v T) *T {
	return &v
}
