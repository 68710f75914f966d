package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jgoulah/gridcache/internal/publisher"
	"github.com/jgoulah/gridcache/internal/resolver"
	"github.com/jgoulah/gridcache/pkg/models"
)

var publishEvery time.Duration

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish the current price and cost to MQTT or Home Assistant",
	Long: `Resolves the current price, running cost and cache health the same way the
API does and publishes a snapshot to the MQTT broker and/or the Home Assistant
HTTP API, whichever are enabled in config.`,
	RunE: runPublish,
}

func init() {
	publishCmd.Flags().DurationVar(&publishEvery, "every", 0, "keep publishing on this interval (0 publishes once)")
	rootCmd.AddCommand(publishCmd)
}

func runPublish(cmd *cobra.Command, args []string) error {
	fmt.Printf("=== Publish started at %s ===\n", time.Now().Format("2006-01-02 15:04:05 MST"))

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if !cfg.MQTT.Enabled && !cfg.HomeAssistant.Enabled {
		return fmt.Errorf("neither MQTT nor Home Assistant is enabled in config")
	}
	if err := cfg.RequireSite(); err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	pub, err := publisher.New(cfg.MQTT, cfg.HomeAssistant)
	if err != nil {
		return fmt.Errorf("creating publisher: %w", err)
	}
	defer pub.Close()

	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	res, err := newResolver(cfg, db, logger)
	if err != nil {
		return err
	}

	if publishEvery <= 0 {
		return publishOnce(cmd.Context(), res, pub)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ticker := time.NewTicker(publishEvery)
	defer ticker.Stop()
	for {
		if err := publishOnce(ctx, res, pub); err != nil {
			fmt.Printf("FAILED: %v\n", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func publishOnce(ctx context.Context, res *resolver.Resolver, pub *publisher.Publisher) error {
	var price *resolver.Resolved[models.PriceInterval]
	if p, err := res.CurrentPrice(ctx); err == nil {
		price = &p
	} else {
		fmt.Printf("⚠ No price: %v\n", err)
	}

	var cost *resolver.CostEstimate
	if c, err := res.CostPerHour(ctx); err == nil {
		cost = &c
	} else {
		fmt.Printf("⚠ No cost estimate: %v\n", err)
	}

	snap := publisher.NewSnapshot(res.SiteID(), price, cost, res.Health(ctx))
	if err := pub.Publish(ctx, snap); err != nil {
		return fmt.Errorf("publishing: %w", err)
	}

	if snap.PerKwh != nil {
		fmt.Printf("✓ Published %.2f c/kWh (%s, status %s)\n", *snap.PerKwh, snap.PriceSource, snap.Status)
	} else {
		fmt.Printf("✓ Published snapshot without price (status %s)\n", snap.Status)
	}
	return nil
}
