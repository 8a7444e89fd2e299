package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/timmy/wardrobe/internal/app"
	"github.com/timmy/wardrobe/internal/config"
	"github.com/timmy/wardrobe/internal/domain"
	"github.com/timmy/wardrobe/internal/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "wardrobectl",
	Short:        "Maintenance commands for the wardrobe service",
	SilenceUsage: true,
}

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Re-run the annotation pipeline for pending and failed items",
	RunE: func(cmd *cobra.Command, _ []string) error {
		statuses := []domain.ProcessingStatus{domain.ProcessingStatusPending, domain.ProcessingStatusError}
		if only, _ := cmd.Flags().GetString("status"); only != "" {
			statuses = []domain.ProcessingStatus{domain.ProcessingStatus(only)}
		}

		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			stats, err := a.Pipeline.Retry(ctx, statuses...)
			if err != nil {
				return err
			}
			cmd.Printf("retried %d items: %d completed, %d failed in %s\n",
				stats.TotalItems, stats.CompletedItems, stats.FailedItems,
				stats.EndTime.Sub(stats.StartTime).Round(time.Millisecond))
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <image_id>",
	Short: "Print the processing status of an item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			status, err := a.Pipeline.Status(ctx, args[0])
			if err != nil {
				return err
			}
			cmd.Println(status)
			return nil
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "path to config file")
	retryCmd.Flags().String("status", "", "only retry items in this status (pending or error)")

	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(statusCmd)
}

func withApp(ctx context.Context, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	appLogger := logger.New(&logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Output:      os.Stderr,
		ServiceName: "wardrobectl",
	})
	logger.SetDefaultLogger(appLogger)

	a, err := app.New(cfg, appLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	defer a.Close()

	return fn(ctx, a)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
