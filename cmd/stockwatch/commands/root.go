package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
	env        string
	verbose    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "stockwatch",
	Short: "A-share deviation ranking service",
	Long: `Stockwatch CLI

Ranks A-share securities by price deviation against their benchmark
indices over rolling trading-day windows, keeps daily bar data current
and serves the rankings over HTTP with a daily-partitioned cache.

Usage:
  go run ./cmd/stockwatch [command]

Examples:
  go run ./cmd/stockwatch serve
  go run ./cmd/stockwatch refresh
  go run ./cmd/stockwatch initdb`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is .env)")
	rootCmd.PersistentFlags().StringVar(&env, "env", "development", "environment (development|staging|production)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
