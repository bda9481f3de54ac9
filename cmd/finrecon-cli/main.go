package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"finrecon/internal/app"
	"finrecon/pkg/config"
	"finrecon/pkg/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "finrecon-cli",
	Short: "Operator tools for the finrecon reconciliation pipeline",
	Long: `finrecon-cli runs the document reconciliation pipeline outside the HTTP
service: process a single document, or sweep documents left in a status.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error); overrides LOG_LEVEL")

	rootCmd.AddCommand(processCmd())
	rootCmd.AddCommand(reprocessCmd())
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// bootstrap loads configuration and wires the pipeline for a command.
func bootstrap(cmd *cobra.Command) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logger.Level = level
	}
	if err := logger.Init(cfg.Logger.Level, cfg.Logger.Format); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	application, err := app.New(cmd.Context(), cfg, logger.Component("cli"))
	if err != nil {
		logger.Error("Failed to initialize application", zap.Error(err))
		return nil, err
	}
	return application, nil
}
