package models

import "time"

// DefaultChannel is the meter channel used when upstream data does not name one
const DefaultChannel = "general"

// UsageInterval represents metered consumption for one interval on one channel
type UsageInterval struct {
	SiteID          string    `json:"site_id"`
	IntervalStart   time.Time `json:"interval_start"` // Canonical 5-minute boundary (UTC)
	IntervalEnd     time.Time `json:"interval_end"`
	ChannelType     string    `json:"channel_type"` // "general", "controlledLoad", "feedIn"
	Kwh             float64   `json:"kwh"`
	Cost            *float64  `json:"cost,omitempty"` // Settles after the reading, may be nil
	Quality         *string   `json:"quality,omitempty"`
	MeterIdentifier *string   `json:"meter_identifier,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Duration returns the metered span of the interval
func (u UsageInterval) Duration() time.Duration {
	return u.IntervalEnd.Sub(u.IntervalStart)
}
