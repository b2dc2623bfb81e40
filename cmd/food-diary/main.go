package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ai-food-diary/internal/app"
	"ai-food-diary/internal/config"
)

var (
	verbose bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "food-diary",
	Short: "Maintenance and debugging commands for the food diary",
	Long: `food-diary runs the meal recognition pipeline from the command line and
maintains its stores: the product catalog, user sessions and metrics.

Configuration is read from .env, CONFIG_FILE and the environment, the same
way the Telegram bot reads it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.NewFromEnv()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		level := cfg.LogLevel
		if verbose {
			level = "debug"
		}
		logger, err = app.NewLogger(level)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	catalogImportCmd.Flags().String("json", "", "JSON file with an array of products")
	catalogImportCmd.Flags().String("html", "", "HTML page with calorie tables")
	catalogImportCmd.Flags().String("url", "", "URL of a page with calorie tables")
	catalogImportCmd.MarkFlagsOneRequired("json", "html", "url")
	catalogImportCmd.MarkFlagsMutuallyExclusive("json", "html", "url")
	catalogLookupCmd.Flags().Int("limit", 5, "Maximum number of fuzzy candidates")
	catalogCmd.AddCommand(catalogImportCmd, catalogLookupCmd)

	sessionsCmd.AddCommand(sessionsCleanupCmd)

	metricsCleanupCmd.Flags().Int("days", 30, "Keep records for the last N days")
	metricsCmd.AddCommand(metricsCleanupCmd)

	apiTokenCmd.Flags().Duration("ttl", 0, "Token lifetime (default 30 days)")
	apiCmd.AddCommand(apiTokenCmd)

	rootCmd.AddCommand(analyzeCmd, catalogCmd, sessionsCmd, metricsCmd, apiCmd)
}

// withApp opens the application for the duration of fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
