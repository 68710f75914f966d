package models

import "time"

// PriceInterval represents the tariff for one interval on one channel
type PriceInterval struct {
	SiteID        string    `json:"site_id"`
	IntervalStart time.Time `json:"interval_start"` // Canonical 5-minute boundary (UTC)
	IntervalEnd   time.Time `json:"interval_end"`
	ChannelType   string    `json:"channel_type"`
	PerKwh        float64   `json:"per_kwh"` // Cents per kWh
	Renewables    *float64  `json:"renewables,omitempty"`
	Descriptor    *string   `json:"descriptor,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}
