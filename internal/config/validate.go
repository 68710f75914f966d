package config

import (
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// ErrMissingSite is returned by RequireSite when no site id is configured
var ErrMissingSite = errors.New("amber site_id is not configured (set amber.site_id or AMBER_SITE_ID)")

// Validate checks value ranges and required fields of enabled sections.
// A missing site id is not an error here: the server still starts and
// reports it per request.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Amber),
		validation.Field(&c.Cache),
		validation.Field(&c.Warehouse),
		validation.Field(&c.MQTT),
		validation.Field(&c.HomeAssistant),
		validation.Field(&c.LogLevel, validation.In("", "debug", "trace", "info", "warn", "warning", "error", "fatal")),
	)
}

// Validate implements validation.Validatable
func (a AmberConfig) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.BaseURL, is.URL),
		validation.Field(&a.Channel, validation.In("", "general", "controlledLoad", "feedIn")),
		validation.Field(&a.LiveTimeoutSeconds, validation.Min(0), validation.Max(60)),
		validation.Field(&a.BatchTimeoutSeconds, validation.Min(0)),
	)
}

// Validate implements validation.Validatable
func (c CacheConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.RetentionDays, validation.Min(0)),
		validation.Field(&c.FreshnessMinutes, validation.Min(0)),
		validation.Field(&c.DelayMinutes, validation.Min(0)),
		validation.Field(&c.Timezone, validation.By(validTimezone)),
	)
}

// Validate implements validation.Validatable
func (w WarehouseConfig) Validate() error {
	return validation.ValidateStruct(&w,
		validation.Field(&w.ChunkDays, validation.Min(0), validation.Max(31)),
	)
}

// Validate implements validation.Validatable
func (m MQTTConfig) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Broker, validation.When(m.Enabled, validation.Required)),
	)
}

// Validate implements validation.Validatable
func (h HAConfig) Validate() error {
	return validation.ValidateStruct(&h,
		validation.Field(&h.URL, validation.When(h.Enabled, validation.Required), is.URL),
		validation.Field(&h.Token, validation.When(h.Enabled, validation.Required)),
		validation.Field(&h.EntityID, validation.When(h.Enabled, validation.Required)),
	)
}

// RequireSite returns ErrMissingSite when no site id is configured
func (c *Config) RequireSite() error {
	if c.Amber.SiteID == "" {
		return ErrMissingSite
	}
	return nil
}

func validTimezone(value interface{}) error {
	name, _ := value.(string)
	if name == "" {
		return nil
	}
	if _, err := time.LoadLocation(name); err != nil {
		return errors.New("must be an IANA timezone name")
	}
	return nil
}
