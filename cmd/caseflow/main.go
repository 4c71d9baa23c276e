package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"caseflow-backend/internal/shared/config"
	"caseflow-backend/internal/shared/telemetry"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "caseflow",
		Short:         "Legal case enrichment and analysis service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(reconcileCmd())

	err := rootCmd.Execute()
	telemetry.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads configuration and initializes the process logger.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if err := telemetry.Init(cfg.LogLevel, cfg.LogFormat); err != nil {
		return config.Config{}, fmt.Errorf("init logger: %w", err)
	}
	return cfg, nil
}
