package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/jgoulah/gridcache/internal/config"
	"github.com/jgoulah/gridcache/internal/database"
	"github.com/jgoulah/gridcache/internal/syncer"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch current prices and usage into the cache",
	Long: `Fetches the current price window (including forecasts) and the newest usage
intervals from the Amber API, stores them in the local cache and prunes rows
older than the retention period.`,
	RunE: runSync,
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete cached rows older than the retention period",
	RunE:  runPrune,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(pruneCmd)
}

// newSyncer wires a Syncer for batch work. sink may be nil.
func newSyncer(cfg *config.Config, db *database.DB, logger *log.Logger, sink syncer.Sink) (*syncer.Syncer, error) {
	if err := cfg.RequireSite(); err != nil {
		return nil, err
	}
	client, err := newAmberClient(cfg, false)
	if err != nil {
		return nil, fmt.Errorf("creating amber client: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("amber token is not configured (set amber.token or AMBER_TOKEN)")
	}

	return syncer.New(syncer.Options{
		Store:     db,
		Live:      client,
		Ranges:    client,
		Sink:      sink,
		Logger:    logger,
		SiteID:    cfg.Amber.SiteID,
		Channel:   cfg.GetChannel(),
		Source:    cfg.GetWarehouseSource(),
		Retention: cfg.GetRetention(),
		ChunkDays: cfg.GetChunkDays(),
	})
}

func runSync(cmd *cobra.Command, args []string) error {
	fmt.Printf("=== Sync started at %s ===\n", time.Now().Format("2006-01-02 15:04:05 MST"))

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	s, err := newSyncer(cfg, db, logger, nil)
	if err != nil {
		return err
	}

	report, err := s.Sync(cmd.Context())
	if err != nil {
		return fmt.Errorf("syncing: %w", err)
	}

	fmt.Printf("✓ Cached %d price and %d usage intervals\n", report.Prices, report.Usage)
	if report.Dropped > 0 {
		fmt.Printf("⚠ Dropped %d unparseable records\n", report.Dropped)
	}
	if !report.LatestPrice.IsZero() {
		fmt.Printf("  Latest price interval: %s\n", report.LatestPrice.Format(time.RFC3339))
	}
	if !report.LatestUsage.IsZero() {
		fmt.Printf("  Latest usage interval: %s\n", report.LatestUsage.Format(time.RFC3339))
	}
	fmt.Printf("✓ Pruned %d old rows\n", report.Pruned)
	return nil
}

func runPrune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	retention := cfg.GetRetention()
	n, err := db.Prune(cmd.Context(), retention, time.Now())
	if err != nil {
		return fmt.Errorf("pruning: %w", err)
	}

	fmt.Printf("✓ Deleted %d rows older than %d days\n", n, int(retention.Hours()/24))
	return nil
}
