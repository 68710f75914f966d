package amber

// Interval kinds reported in the "type" field
const (
	KindActual   = "ActualInterval"
	KindCurrent  = "CurrentInterval"
	KindForecast = "ForecastInterval"
)

// Site is a metered site linked to the account
type Site struct {
	ID      string `json:"id"`
	NMI     string `json:"nmi"`
	Network string `json:"network"`
	Status  string `json:"status"`
}

// RawPrice is a price record as returned by the API
type RawPrice struct {
	Type        string   `json:"type"`
	Date        string   `json:"date"`
	Duration    int      `json:"duration"`
	StartTime   string   `json:"startTime"`
	EndTime     string   `json:"endTime"`
	NemTime     string   `json:"nemTime"`
	PerKwh      *float64 `json:"perKwh"`
	SpotPerKwh  *float64 `json:"spotPerKwh"`
	Renewables  *float64 `json:"renewables"`
	ChannelType string   `json:"channelType"`
	SpikeStatus string   `json:"spikeStatus"`
	Descriptor  string   `json:"descriptor"`
	Estimate    *bool    `json:"estimate"`
}

// RawUsage is a usage record as returned by the API
type RawUsage struct {
	Type              string   `json:"type"`
	Date              string   `json:"date"`
	Duration          int      `json:"duration"`
	StartTime         string   `json:"startTime"`
	EndTime           string   `json:"endTime"`
	NemTime           string   `json:"nemTime"`
	Kwh               *float64 `json:"kwh"`
	PerKwh            *float64 `json:"perKwh"`
	Cost              *float64 `json:"cost"`
	Renewables        *float64 `json:"renewables"`
	ChannelType       string   `json:"channelType"`
	ChannelIdentifier string   `json:"channelIdentifier"`
	SpikeStatus       string   `json:"spikeStatus"`
	Descriptor        string   `json:"descriptor"`
	Quality           string   `json:"quality"`
}
