package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/jgoulah/gridcache/internal/server"
	"github.com/jgoulah/gridcache/internal/syncer"
)

var (
	serveAddr         string
	serveSyncInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dashboard API",
	Long: `Starts the HTTP API. Price and usage requests read through the local cache
to the Amber API; health, forecast and totals are served from the cache only.

With --sync-interval the cache is also refreshed in the background.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config, :5050)")
	serveCmd.Flags().DurationVar(&serveSyncInterval, "sync-interval", 0, "refresh the cache on this interval (0 disables)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	if err := cfg.RequireSite(); err != nil {
		logger.Warn("starting without a site; price and usage requests will fail", "err", err)
	}

	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	res, err := newResolver(cfg, db, logger)
	if err != nil {
		return err
	}
	totals, err := newAggregator(cfg, db, logger)
	if err != nil {
		return err
	}

	addr := serveAddr
	if addr == "" {
		addr = cfg.GetListenAddr()
	}
	srv, err := server.New(server.Options{
		Resolver:       res,
		Totals:         totals,
		Logger:         logger.WithPrefix("http"),
		ListenAddr:     addr,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if serveSyncInterval > 0 {
		s, err := newSyncer(cfg, db, logger, nil)
		if err != nil {
			return err
		}
		go syncLoop(ctx, s, serveSyncInterval, logger.WithPrefix("sync"))
	}

	return srv.Run(ctx)
}

// syncLoop runs Sync on every tick until ctx is done. Failures are logged
// and retried on the next tick.
func syncLoop(ctx context.Context, s *syncer.Syncer, every time.Duration, logger *log.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		report, err := s.Sync(ctx)
		if err != nil {
			logger.Warn("background sync failed", "err", err)
		} else {
			logger.Debug("background sync", "prices", report.Prices, "usage", report.Usage, "pruned", report.Pruned)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
