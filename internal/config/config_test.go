package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GetRetention() != 14*24*time.Hour {
		t.Errorf("retention = %s", cfg.GetRetention())
	}
	if cfg.GetLiveTimeout() != 4*time.Second {
		t.Errorf("live timeout = %s", cfg.GetLiveTimeout())
	}
	if cfg.GetFreshness() != 15*time.Minute || cfg.GetDelayThreshold() != 30*time.Minute {
		t.Errorf("freshness=%s delay=%s", cfg.GetFreshness(), cfg.GetDelayThreshold())
	}
	if cfg.GetChannel() != "general" || cfg.GetChunkDays() != 7 || cfg.GetListenAddr() != ":5050" {
		t.Errorf("channel=%s chunk=%d listen=%s", cfg.GetChannel(), cfg.GetChunkDays(), cfg.GetListenAddr())
	}
	if cfg.GetMemoTTL() != 20*time.Second {
		t.Errorf("memo ttl = %s", cfg.GetMemoTTL())
	}
	if err := cfg.RequireSite(); !errors.Is(err, ErrMissingSite) {
		t.Errorf("RequireSite = %v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
amber:
  token: secret
  site_id: 01ABC
  live_timeout_seconds: 2
  memo_seconds: -1
cache:
  path: /tmp/cache.sqlite
  retention_days: 30
server:
  allowed_origins: ["http://localhost:3000"]
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Amber.SiteID != "01ABC" || cfg.Amber.Token != "secret" {
		t.Errorf("amber = %+v", cfg.Amber)
	}
	if cfg.GetLiveTimeout() != 2*time.Second {
		t.Errorf("live timeout = %s", cfg.GetLiveTimeout())
	}
	if cfg.GetMemoTTL() != 0 {
		t.Errorf("memo ttl = %s, want disabled", cfg.GetMemoTTL())
	}
	if cfg.GetRetention() != 30*24*time.Hour {
		t.Errorf("retention = %s", cfg.GetRetention())
	}
	if len(cfg.Server.AllowedOrigins) != 1 {
		t.Errorf("origins = %v", cfg.Server.AllowedOrigins)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
log_level = "debug"

[amber]
token = "secret"
site_id = "01ABC"

[warehouse]
dsn = "postgres://localhost/energy"
chunk_days = 3
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Amber.SiteID != "01ABC" || cfg.LogLevel != "debug" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.GetChunkDays() != 3 || cfg.Warehouse.DSN == "" {
		t.Errorf("warehouse = %+v", cfg.Warehouse)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("amber: [unclosed"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := &Config{Amber: AmberConfig{Token: "t", SiteID: "s"}}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Amber.SiteID != "s" {
		t.Errorf("site = %q", loaded.Amber.SiteID)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"AMBER_TOKEN":    "env-token",
		"AMBER_SITE_ID":  "env-site",
		"SQLITE_PATH":    "/data/cache.sqlite",
		"RETENTION_DAYS": "7",
		"WAREHOUSE_DSN":  "postgres://db/energy",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	cfg := &Config{Amber: AmberConfig{Token: "file-token", SiteID: "file-site"}}
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Amber.Token != "env-token" || cfg.Amber.SiteID != "env-site" {
		t.Errorf("amber = %+v", cfg.Amber)
	}
	if cfg.GetCachePath() != "/data/cache.sqlite" {
		t.Errorf("cache path = %s", cfg.GetCachePath())
	}
	if cfg.GetRetention() != 7*24*time.Hour {
		t.Errorf("retention = %s", cfg.GetRetention())
	}
	if cfg.Warehouse.DSN != "postgres://db/energy" {
		t.Errorf("dsn = %s", cfg.Warehouse.DSN)
	}

	env["RETENTION_DAYS"] = "two weeks"
	if err := cfg.ApplyEnv(lookup); err == nil {
		t.Error("expected error for non-numeric RETENTION_DAYS")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"empty", Config{}, false},
		{"negative retention", Config{Cache: CacheConfig{RetentionDays: -1}}, true},
		{"bad timezone", Config{Cache: CacheConfig{Timezone: "Mars/Olympus"}}, true},
		{"bad channel", Config{Amber: AmberConfig{Channel: "solar"}}, true},
		{"mqtt without broker", Config{MQTT: MQTTConfig{Enabled: true}}, true},
		{"ha without token", Config{HomeAssistant: HAConfig{Enabled: true, URL: "http://ha.local:8123", EntityID: "sensor.x"}}, true},
		{"ha complete", Config{HomeAssistant: HAConfig{Enabled: true, URL: "http://ha.local:8123", Token: "t", EntityID: "sensor.x"}}, false},
		{"bad log level", Config{LogLevel: "loud"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
