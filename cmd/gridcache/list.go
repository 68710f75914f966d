package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	listTable string
	listLimit int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached intervals",
	Long:  `Displays the newest cached price or usage intervals for the configured site.`,
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringVar(&listTable, "table", "prices", "Table to list (prices or usage)")
	listCmd.Flags().IntVar(&listLimit, "limit", 24, "Number of rows to show")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.RequireSite(); err != nil {
		return err
	}

	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	ctx := cmd.Context()
	site, channel := cfg.Amber.SiteID, cfg.GetChannel()

	switch listTable {
	case "prices":
		data, err := db.ListPrices(ctx, site, channel, listLimit)
		if err != nil {
			return fmt.Errorf("listing prices: %w", err)
		}
		if len(data) == 0 {
			fmt.Printf("No prices cached for %s\n", site)
			return nil
		}

		fmt.Printf("\n%s Prices (%s):\n", site, channel)
		fmt.Println("------------------------------------------------------------")
		fmt.Printf("%-20s  %10s  %-10s  %s\n", "Interval", "c/kWh", "Level", "Updated")
		fmt.Println("------------------------------------------------------------")
		for _, p := range data {
			descriptor := "-"
			if p.Descriptor != nil {
				descriptor = *p.Descriptor
			}
			fmt.Printf("%-20s  %10.2f  %-10s  %s\n", p.IntervalStart.Format("2006-01-02 15:04"), p.PerKwh, descriptor, humanize.Time(p.UpdatedAt))
		}
		fmt.Println("------------------------------------------------------------")
		fmt.Printf("%s records\n", humanize.Comma(int64(len(data))))

	case "usage":
		data, err := db.ListUsage(ctx, site, channel, listLimit)
		if err != nil {
			return fmt.Errorf("listing usage: %w", err)
		}
		if len(data) == 0 {
			fmt.Printf("No usage cached for %s\n", site)
			return nil
		}

		fmt.Printf("\n%s Usage (%s):\n", site, channel)
		fmt.Println("------------------------------------------------------------")
		fmt.Printf("%-20s  %5s  %10s  %10s  %s\n", "Interval", "Min", "kWh", "Cost", "Quality")
		fmt.Println("------------------------------------------------------------")

		var total float64
		for _, u := range data {
			cost, quality := "-", "-"
			if u.Cost != nil {
				cost = fmt.Sprintf("%.2f", *u.Cost)
			}
			if u.Quality != nil {
				quality = *u.Quality
			}
			fmt.Printf("%-20s  %5.0f  %10.3f  %10s  %s\n", u.IntervalStart.Format("2006-01-02 15:04"), u.Duration().Minutes(), u.Kwh, cost, quality)
			total += u.Kwh
		}

		fmt.Println("------------------------------------------------------------")
		fmt.Printf("Total: %.3f kWh (%s records, newest %s)\n", total, humanize.Comma(int64(len(data))), humanize.Time(data[0].IntervalEnd))

	default:
		return fmt.Errorf("unknown table: %s (available: prices, usage)", listTable)
	}

	return nil
}

// formatAge renders a duration the way the dashboard does
func formatAge(d *time.Duration) string {
	if d == nil {
		return "n/a"
	}
	return humanize.RelTime(time.Now().Add(-*d), time.Now(), "ago", "from now")
}
