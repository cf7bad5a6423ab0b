package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/campaign-lens/backend/internal/config"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Campaign Lens - analyze marketing campaign reports from the terminal",
	Long: `analyze runs the same pipeline as the Campaign Lens server on a single file:
extract the text of a PDF, CSV or TXT campaign report, ask the configured
language model for a structured analysis, and print or export the result.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", config.FileName, "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging on stderr")
}

// Execute runs the root command; an interrupt cancels the running analysis.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// loadConfig reads the config file and builds the stderr logger for a command.
func loadConfig() (*config.AppConfig, *slog.Logger, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.Advanced.LogLevel = "debug"
	}
	return cfg, cfg.NewLogger(os.Stderr), nil
}
