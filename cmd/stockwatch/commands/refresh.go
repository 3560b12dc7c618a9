package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// refreshCmd represents the refresh command
var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Run one full data refresh and ranking rebuild",
	Long: `Runs the daily refresh pipeline once and exits.

This command:
- Updates trading calendars and the security list
- Fills missing daily bars for securities and benchmark indices
- Recomputes both ranking configurations and rewrites the cache

Example:
  go run ./cmd/stockwatch refresh`,
	RunE: runRefresh,
}

func init() {
	rootCmd.AddCommand(refreshCmd)
}

func runRefresh(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Stockwatch Data Refresh ===")

	c, err := initComponents()
	if err != nil {
		return err
	}
	defer c.Close()

	start := time.Now()
	if err := c.refresher.Refresh(context.Background()); err != nil {
		return fmt.Errorf("refresh: %w", err)
	}

	fmt.Printf("\n✅ Refresh completed in %s\n", time.Since(start).Round(time.Second))
	return nil
}
