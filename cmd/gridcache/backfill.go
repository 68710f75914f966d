package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jgoulah/gridcache/internal/syncer"
	"github.com/jgoulah/gridcache/internal/warehouse"
)

var (
	backfillStart     string
	backfillEnd       string
	backfillChunkDays int
	backfillWarehouse bool
	backfillResume    bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Copy price and usage history into the cache and warehouse",
	Long: `Fetches prices and usage between two dates (inclusive) in chunks and stores
them in the local cache. With --warehouse the raw responses and normalized
rows are also written to the Postgres warehouse (warehouse.dsn or
WAREHOUSE_DSN).

Dates accept YYYY-MM-DD or a relative form such as 7d for seven days ago.`,
	RunE: runBackfill,
}

func init() {
	backfillCmd.Flags().StringVar(&backfillStart, "start", "7d", "first day to fetch (YYYY-MM-DD or Nd)")
	backfillCmd.Flags().StringVar(&backfillEnd, "end", "", "last day to fetch (YYYY-MM-DD, default today)")
	backfillCmd.Flags().IntVar(&backfillChunkDays, "chunk-days", 0, "days per request (default from config, 7)")
	backfillCmd.Flags().BoolVar(&backfillWarehouse, "warehouse", false, "also write to the Postgres warehouse")
	backfillCmd.Flags().BoolVar(&backfillResume, "resume", false, "start from the newest usage already in the warehouse")
	rootCmd.AddCommand(backfillCmd)
}

func runBackfill(cmd *cobra.Command, args []string) error {
	fmt.Printf("=== Backfill started at %s ===\n", time.Now().Format("2006-01-02 15:04:05 MST"))

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	loc, err := cfg.GetLocation()
	if err != nil {
		return err
	}
	if backfillChunkDays > 0 {
		cfg.Warehouse.ChunkDays = backfillChunkDays
	}

	now := time.Now().In(loc)
	from, err := parseDate(backfillStart, now)
	if err != nil {
		return fmt.Errorf("parsing --start date: %w", err)
	}
	to := now
	if backfillEnd != "" {
		if to, err = parseDate(backfillEnd, now); err != nil {
			return fmt.Errorf("parsing --end date: %w", err)
		}
	}

	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	ctx := cmd.Context()
	var sink syncer.Sink
	if backfillWarehouse || backfillResume {
		wh, err := warehouse.Open(ctx, cfg.Warehouse.DSN, logger.WithPrefix("warehouse"))
		if err != nil {
			return err
		}
		defer wh.Close()
		if err := wh.EnsureSchema(ctx); err != nil {
			return err
		}
		sink = wh
		fmt.Println("✓ Connected to warehouse")
	}

	s, err := newSyncer(cfg, db, logger, sink)
	if err != nil {
		return err
	}

	if backfillResume {
		resumed, err := s.ResumeFrom(ctx, from)
		if err != nil {
			return err
		}
		if !resumed.Equal(from) {
			fmt.Printf("Resuming from %s\n", resumed.Format("2006-01-02"))
		}
		from = resumed
	}

	fmt.Printf("Backfilling %s to %s (%d-day chunks)...\n", from.Format("2006-01-02"), to.Format("2006-01-02"), cfg.GetChunkDays())
	report, err := s.Backfill(ctx, from, to)
	if err != nil {
		fmt.Printf("⚠ Stopped after %d chunks\n", report.Chunks)
		return err
	}

	fmt.Printf("✓ Cached %d price and %d usage intervals in %d chunks\n", report.Prices, report.Usage, report.Chunks)
	if report.Dropped > 0 {
		fmt.Printf("⚠ Dropped %d unparseable records\n", report.Dropped)
	}
	if report.Expired > 0 {
		fmt.Printf("  Skipped caching %d intervals older than retention\n", report.Expired)
	}
	if sink != nil {
		fmt.Printf("✓ Warehouse: %d ingest events, %d rows\n", report.Events, report.WarehouseRows)
	}
	return nil
}

// parseDate parses a date string in either YYYY-MM-DD format or relative format (e.g., "7d")
func parseDate(dateStr string, now time.Time) (time.Time, error) {
	// Try absolute date format first
	t, err := time.ParseInLocation("2006-01-02", dateStr, now.Location())
	if err == nil {
		return t, nil
	}

	// Try relative format (e.g., "7d" for 7 days ago)
	if len(dateStr) > 1 && dateStr[len(dateStr)-1] == 'd' {
		daysStr := dateStr[:len(dateStr)-1]
		var days int
		if _, err := fmt.Sscanf(daysStr, "%d", &days); err == nil {
			return now.AddDate(0, 0, -days), nil
		}
	}

	return time.Time{}, fmt.Errorf("invalid date format: %s (use YYYY-MM-DD or Nd for N days ago)", dateStr)
}
