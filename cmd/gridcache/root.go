package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/jgoulah/gridcache/internal/aggregate"
	"github.com/jgoulah/gridcache/internal/amber"
	"github.com/jgoulah/gridcache/internal/config"
	"github.com/jgoulah/gridcache/internal/database"
	"github.com/jgoulah/gridcache/internal/logutil"
	"github.com/jgoulah/gridcache/internal/resolver"
)

var (
	cfgFile  string
	dbPath   string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "gridcache",
	Short: "Cache Amber Electric prices and usage for a local dashboard",
	Long: `GridCache pulls price and usage intervals from the Amber Electric API into a
local SQLite cache and serves them to a dashboard, falling back to cached data
when the API is slow or unavailable.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file, .yaml or .toml (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "cache database file (default is ./data_local/cache.sqlite)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
}

// getConfigPath returns the config file path
func getConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the config file, applies environment overrides and validates
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	if dbPath != "" {
		cfg.Cache.Path = dbPath
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the logger at the configured level
func newLogger(cfg *config.Config) (*log.Logger, error) {
	return logutil.New(cfg.LogLevel)
}

// openDB opens the cache database, creating its directory
func openDB(cfg *config.Config) (*database.DB, error) {
	path := cfg.GetCachePath()

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	return database.New(path)
}

// newAmberClient creates an API client, with the short dashboard timeout when
// live is set and the batch timeout otherwise. It
// returns nil without a token.
func newAmberClient(cfg *config.Config, live bool) (*amber.Client, error) {
	if cfg.Amber.Token == "" {
		return nil, nil
	}
	loc, err := cfg.GetLocation()
	if err != nil {
		return nil, err
	}

	opts := []amber.Option{
		amber.WithLocation(loc),
		amber.WithChunkDays(cfg.GetChunkDays()),
	}
	if live {
		opts = append(opts, amber.WithTimeout(cfg.GetLiveTimeout()))
	} else {
		opts = append(opts, amber.WithTimeout(cfg.GetBatchTimeout()))
	}
	if cfg.Amber.BaseURL != "" {
		opts = append(opts, amber.WithBaseURL(cfg.Amber.BaseURL))
	}
	return amber.New(cfg.Amber.Token, opts...)
}

// newResolver wires the dashboard read path: cache first, then a memoized
// live client with the short timeout.
func newResolver(cfg *config.Config, db *database.DB, logger *log.Logger) (*resolver.Resolver, error) {
	client, err := newAmberClient(cfg, true)
	if err != nil {
		return nil, fmt.Errorf("creating amber client: %w", err)
	}

	opts := resolver.Options{
		Store:       db,
		Logger:      logger,
		SiteID:      cfg.Amber.SiteID,
		Channel:     cfg.GetChannel(),
		Freshness:   cfg.GetFreshness(),
		LiveTimeout: cfg.GetLiveTimeout(),
		Retention:   cfg.GetRetention(),
	}
	if client != nil {
		opts.Upstream = amber.NewMemo(client, cfg.GetMemoTTL())
	} else {
		logger.Warn("AMBER_TOKEN not set, serving cached data only")
	}
	return resolver.New(opts), nil
}

// newAggregator builds the month-to-date totals query
func newAggregator(cfg *config.Config, db *database.DB, logger *log.Logger) (*aggregate.Aggregator, error) {
	loc, err := cfg.GetLocation()
	if err != nil {
		return nil, err
	}
	return aggregate.New(db, cfg.Amber.SiteID,
		aggregate.WithLocation(loc),
		aggregate.WithDelayThreshold(cfg.GetDelayThreshold()),
		aggregate.WithLogger(logger),
	), nil
}
