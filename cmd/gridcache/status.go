package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jgoulah/gridcache/internal/resolver"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cache freshness and row counts",
	Long:  `Reports the same health status as the API together with cache size and month-to-date cost. Never calls the Amber API.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
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

	ctx := cmd.Context()
	prices, usage, err := db.Counts(ctx)
	if err != nil {
		return fmt.Errorf("counting rows: %w", err)
	}

	// No upstream: status only reads the cache
	res := resolver.New(resolver.Options{
		Store:     db,
		Logger:    logger,
		SiteID:    cfg.Amber.SiteID,
		Channel:   cfg.GetChannel(),
		Freshness: cfg.GetFreshness(),
	})
	totals, err := newAggregator(cfg, db, logger)
	if err != nil {
		return err
	}

	report := res.Health(ctx)
	fmt.Printf("Site:    %s\n", valueOr(cfg.Amber.SiteID, "(not configured)"))
	fmt.Printf("Cache:   %s\n", cfg.GetCachePath())
	fmt.Printf("Rows:    %s prices, %s usage\n", humanize.Comma(prices), humanize.Comma(usage))
	fmt.Printf("Status:  %s\n", report.Status)
	if report.LatestPriceStart != nil {
		fmt.Printf("  Latest price: %s (%s)\n", report.LatestPriceStart.Format(time.RFC3339), formatAge(report.PriceAge))
	}
	if report.LatestUsageStart != nil {
		fmt.Printf("  Latest usage: %s (%s)\n", report.LatestUsageStart.Format(time.RFC3339), formatAge(report.UsageAge))
	}

	mtd := totals.MonthToDate(ctx)
	if mtd.Total != nil {
		fmt.Printf("Month to date: $%s over %s intervals\n", mtd.Total.StringFixed(2), humanize.Comma(int64(mtd.Count)))
	} else {
		fmt.Printf("Month to date: %s\n", mtd.Message)
	}
	if mtd.IsDelayed {
		fmt.Printf("⚠ Usage data is delayed (%s)\n", formatAge(mtd.UsageAge))
	}
	return nil
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
