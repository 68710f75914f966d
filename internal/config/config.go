package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Amber         AmberConfig     `yaml:"amber" toml:"amber"`
	Cache         CacheConfig     `yaml:"cache,omitempty" toml:"cache"`
	Server        ServerConfig    `yaml:"server,omitempty" toml:"server"`
	Warehouse     WarehouseConfig `yaml:"warehouse,omitempty" toml:"warehouse"`
	MQTT          MQTTConfig      `yaml:"mqtt,omitempty" toml:"mqtt"`
	HomeAssistant HAConfig        `yaml:"home_assistant,omitempty" toml:"home_assistant"`
	LogLevel      string          `yaml:"log_level,omitempty" toml:"log_level,omitempty"` // debug, info, warn, error
}

// AmberConfig holds upstream API settings
type AmberConfig struct {
	Token               string `yaml:"token" toml:"token"`
	SiteID              string `yaml:"site_id" toml:"site_id"`
	BaseURL             string `yaml:"base_url,omitempty" toml:"base_url,omitempty"`
	Channel             string `yaml:"channel,omitempty" toml:"channel,omitempty"`                             // Fallback: general
	LiveTimeoutSeconds  int    `yaml:"live_timeout_seconds,omitempty" toml:"live_timeout_seconds,omitempty"`   // Dashboard requests (fallback: 4)
	BatchTimeoutSeconds int    `yaml:"batch_timeout_seconds,omitempty" toml:"batch_timeout_seconds,omitempty"` // Sync and backfill (fallback: 60)
	MemoSeconds         int    `yaml:"memo_seconds,omitempty" toml:"memo_seconds,omitempty"`                   // Negative disables (fallback: 20)
}

// CacheConfig holds local cache settings
type CacheConfig struct {
	Path             string `yaml:"path,omitempty" toml:"path,omitempty"`
	RetentionDays    int    `yaml:"retention_days,omitempty" toml:"retention_days,omitempty"`       // Fallback: 14
	FreshnessMinutes int    `yaml:"freshness_minutes,omitempty" toml:"freshness_minutes,omitempty"` // Fallback: 15
	DelayMinutes     int    `yaml:"delay_minutes,omitempty" toml:"delay_minutes,omitempty"`         // Fallback: 30
	Timezone         string `yaml:"timezone,omitempty" toml:"timezone,omitempty"`                   // Fallback: Australia/Sydney
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	ListenAddr     string   `yaml:"listen_addr,omitempty" toml:"listen_addr,omitempty"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty" toml:"allowed_origins,omitempty"`
}

// WarehouseConfig holds Postgres history settings
type WarehouseConfig struct {
	DSN       string `yaml:"dsn,omitempty" toml:"dsn,omitempty"`
	Source    string `yaml:"source,omitempty" toml:"source,omitempty"`
	ChunkDays int    `yaml:"chunk_days,omitempty" toml:"chunk_days,omitempty"` // Fallback: 7
}

// MQTTConfig holds MQTT broker settings
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled" toml:"enabled"`
	Broker      string `yaml:"broker" toml:"broker"` // host:port
	Username    string `yaml:"username,omitempty" toml:"username,omitempty"`
	Password    string `yaml:"password,omitempty" toml:"password,omitempty"`
	TopicPrefix string `yaml:"topic_prefix,omitempty" toml:"topic_prefix,omitempty"`
}

// HAConfig holds Home Assistant HTTP API configuration
type HAConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled"`
	URL      string `yaml:"url" toml:"url"`             // e.g., "http://homeassistant.local:8123"
	Token    string `yaml:"token" toml:"token"`         // Long-lived access token
	EntityID string `yaml:"entity_id" toml:"entity_id"` // e.g., "sensor.amber_price"
}

// Load reads the config file. The format follows the extension: .toml is
// TOML, anything else YAML.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Return empty config if file doesn't exist
			return &Config{}, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if isTOML(configPath) {
		err = toml.Unmarshal(data, &cfg)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return &cfg, nil
}

// Save writes the config to file
func Save(configPath string, cfg *Config) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isTOML(configPath) {
		data, err = toml.Marshal(cfg)
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// DefaultConfigPath returns the default config file path (local directory)
func DefaultConfigPath() string {
	return "config.yaml"
}

// ApplyEnv overrides file settings from the environment. lookup is
// os.LookupEnv outside tests.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("AMBER_TOKEN"); ok && v != "" {
		c.Amber.Token = v
	}
	if v, ok := lookup("AMBER_SITE_ID"); ok && v != "" {
		c.Amber.SiteID = v
	}
	if v, ok := lookup("SQLITE_PATH"); ok && v != "" {
		c.Cache.Path = v
	}
	if v, ok := lookup("WAREHOUSE_DSN"); ok && v != "" {
		c.Warehouse.DSN = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.LogLevel = v
	}
	if v, ok := lookup("RETENTION_DAYS"); ok && v != "" {
		days, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RETENTION_DAYS: %w", err)
		}
		c.Cache.RetentionDays = days
	}
	return nil
}

// GetChannel returns the meter channel, "general" by default
func (c *Config) GetChannel() string {
	if c.Amber.Channel == "" {
		return "general"
	}
	return c.Amber.Channel
}

// GetLiveTimeout returns the upstream timeout for dashboard requests
func (c *Config) GetLiveTimeout() time.Duration {
	if c.Amber.LiveTimeoutSeconds <= 0 {
		return 4 * time.Second
	}
	return time.Duration(c.Amber.LiveTimeoutSeconds) * time.Second
}

// GetBatchTimeout returns the upstream timeout for batch jobs
func (c *Config) GetBatchTimeout() time.Duration {
	if c.Amber.BatchTimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Amber.BatchTimeoutSeconds) * time.Second
}

// GetMemoTTL returns how long live responses are shared, zero when disabled
func (c *Config) GetMemoTTL() time.Duration {
	switch {
	case c.Amber.MemoSeconds < 0:
		return 0
	case c.Amber.MemoSeconds == 0:
		return 20 * time.Second
	default:
		return time.Duration(c.Amber.MemoSeconds) * time.Second
	}
}

// GetCachePath returns the SQLite cache path
func (c *Config) GetCachePath() string {
	if c.Cache.Path == "" {
		return filepath.Join("data_local", "cache.sqlite")
	}
	return c.Cache.Path
}

// GetRetention returns how long cached rows are kept, 14 days by default
func (c *Config) GetRetention() time.Duration {
	if c.Cache.RetentionDays <= 0 {
		return 14 * 24 * time.Hour
	}
	return time.Duration(c.Cache.RetentionDays) * 24 * time.Hour
}

// GetFreshness returns the age beyond which cached data counts as stale
func (c *Config) GetFreshness() time.Duration {
	if c.Cache.FreshnessMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.Cache.FreshnessMinutes) * time.Minute
}

// GetDelayThreshold returns the usage age beyond which totals are delayed
func (c *Config) GetDelayThreshold() time.Duration {
	if c.Cache.DelayMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.Cache.DelayMinutes) * time.Minute
}

// GetLocation returns the billing timezone
func (c *Config) GetLocation() (*time.Location, error) {
	name := c.Cache.Timezone
	if name == "" {
		name = "Australia/Sydney"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", name, err)
	}
	return loc, nil
}

// GetListenAddr returns the HTTP listen address
func (c *Config) GetListenAddr() string {
	if c.Server.ListenAddr == "" {
		return ":5050"
	}
	return c.Server.ListenAddr
}

// GetChunkDays returns the number of days per backfill request
func (c *Config) GetChunkDays() int {
	if c.Warehouse.ChunkDays <= 0 {
		return 7
	}
	return c.Warehouse.ChunkDays
}

// GetWarehouseSource returns the source label written to the warehouse
func (c *Config) GetWarehouseSource() string {
	if c.Warehouse.Source == "" {
		return "amber"
	}
	return c.Warehouse.Source
}
