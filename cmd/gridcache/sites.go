package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sitesCmd = &cobra.Command{
	Use:   "sites",
	Short: "List the sites visible to the Amber token",
	Long:  `Lists the sites linked to the configured API token, to find the value for amber.site_id.`,
	RunE:  runSites,
}

func init() {
	rootCmd.AddCommand(sitesCmd)
}

func runSites(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	client, err := newAmberClient(cfg, false)
	if err != nil {
		return fmt.Errorf("creating amber client: %w", err)
	}
	if client == nil {
		return fmt.Errorf("amber token is not configured (set amber.token or AMBER_TOKEN)")
	}

	sites, err := client.Sites(cmd.Context())
	if err != nil {
		return fmt.Errorf("listing sites: %w", err)
	}
	if len(sites) == 0 {
		fmt.Println("No sites found")
		return nil
	}

	fmt.Printf("%-28s  %-12s  %-12s  %s\n", "Site ID", "NMI", "Network", "Status")
	fmt.Println("------------------------------------------------------------------------")
	for _, s := range sites {
		marker := ""
		if s.ID == cfg.Amber.SiteID {
			marker = "  ✓ configured"
		}
		fmt.Printf("%-28s  %-12s  %-12s  %s%s\n", s.ID, s.NMI, s.Network, s.Status, marker)
	}
	return nil
}
