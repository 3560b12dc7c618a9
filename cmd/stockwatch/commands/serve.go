package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/luwei/stockwatch/internal/api"
	"github.com/luwei/stockwatch/internal/api/handlers"
	"github.com/luwei/stockwatch/internal/scheduler"
	"github.com/luwei/stockwatch/internal/scheduler/jobs"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server and refresh scheduler",
	Long: `Starts the HTTP API server together with the job scheduler.

This command:
- Serves the ranking endpoint with cache-miss inline refresh
- Runs the daily data refresh at the 17:00 cutover
- Cleans expired cache rows nightly

Endpoints:
  GET  /health            - Health check
  GET  /api/stocks/both   - Deviation rankings, both window configurations

Example:
  go run ./cmd/stockwatch serve
  go run ./cmd/stockwatch serve --port 8089`,
	RunE: runServe,
}

var servePort string

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&servePort, "port", "", "API server port (default from PORT env)")
}

func runServe(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Stockwatch Server ===")

	c, err := initComponents()
	if err != nil {
		return err
	}
	defer c.Close()

	if servePort != "" {
		c.cfg.Port = servePort
	}

	// Handler and router
	stocksHandler := handlers.NewStocksHandler(c.snapshots, c.refresher, c.log)
	router := api.NewRouter(stocksHandler, c.db, c.log)
	server := api.New(c.cfg, c.log, router)

	// Scheduler with the daily refresh and cache cleanup jobs
	sched := scheduler.New(c.log)
	if err := sched.AddJob(jobs.NewDataRefreshJob(c.refresher, c.log)); err != nil {
		return fmt.Errorf("register refresh job: %w", err)
	}
	if err := sched.AddJob(jobs.NewCacheCleanupJob(c.snapshots, c.log)); err != nil {
		return fmt.Errorf("register cleanup job: %w", err)
	}
	sched.Start()

	// Start server with graceful shutdown
	go func() {
		if err := server.Start(); err != nil {
			c.log.WithError(err).Fatal("Failed to start server")
		}
	}()

	fmt.Printf("\n✅ Server running on http://localhost:%s\n", c.cfg.Port)
	fmt.Println("\nAvailable endpoints:")
	fmt.Println("  GET  /health")
	fmt.Println("  GET  /api/stocks/both")
	fmt.Println("\nScheduled jobs:")
	for _, name := range sched.GetAllJobs() {
		fmt.Printf("  - %s\n", name)
	}
	fmt.Println("\nPress Ctrl+C to stop")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	c.log.Info("Shutting down...")
	sched.Stop()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	c.log.Info("Server stopped")
	return nil
}
