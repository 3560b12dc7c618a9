package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/luwei/stockwatch/internal/store"
	"github.com/luwei/stockwatch/pkg/config"
	"github.com/luwei/stockwatch/pkg/database"
	"github.com/luwei/stockwatch/pkg/logger"
)

// initdbCmd represents the initdb command
var initdbCmd = &cobra.Command{
	Use:   "initdb",
	Short: "Create the database schema",
	Long: `Creates the securities, daily_bars, trade_calendar and query_cache
tables if they do not exist. Safe to run repeatedly.

Example:
  go run ./cmd/stockwatch initdb`,
	RunE: runInitDB,
}

func init() {
	rootCmd.AddCommand(initdbCmd)
}

func runInitDB(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg)

	db, err := database.New(cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	if err := store.InitSchema(context.Background(), db.Pool); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}

	log.Info("Database schema ready")
	fmt.Println("✅ Database schema ready")
	return nil
}
