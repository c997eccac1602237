package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/autotrader/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or validate configuration files",
	Long: `Manage executor configuration files.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file

Examples:
  autotrader config init --output autotrader.yaml
  autotrader config validate --file autotrader.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default configuration file",
	Long: `Create a new configuration file with default settings (paper mode,
replay feed, SQLite journal).

Example:
  autotrader config init --output autotrader.yaml`,
	RunE: runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Check if a configuration file is valid and can be loaded.

Example:
  autotrader config validate --file autotrader.yaml`,
	RunE: runConfigValidate,
}

var (
	configInitOutput   string
	configInitLive     bool
	configInitForce    bool
	configValidatePath string
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "autotrader.yaml", "output config file path")
	configInitCmd.Flags().BoolVar(&configInitLive, "live", false, "write a live-mode template (REST broker, HTTP feed, Postgres journal)")
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing file")
	configValidateCmd.Flags().StringVarP(&configValidatePath, "file", "f", "", "path to config file (required)")
	configValidateCmd.MarkFlagRequired("file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(configInitOutput); err == nil && !configInitForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configInitOutput)
	}

	cfg := config.Default()
	if configInitLive {
		cfg.Mode = "live"
		cfg.Account.ID = "LIVE-001"
		cfg.Feed = config.FeedConfig{
			Type:        "http",
			URL:         "https://quotes.example.com/v1",
			Timeout:     cfg.Feed.Timeout,
			BatchSize:   cfg.Feed.BatchSize,
			MaxQuoteAge: cfg.Feed.MaxQuoteAge,
		}
		cfg.Broker.Type = "rest"
		cfg.Broker.URL = "https://broker.example.com"
		cfg.Journal = config.JournalConfig{Type: "postgres"}
		cfg.Alerts.MinSeverity = "warning"
	}
	if err := cfg.SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("✓ Created default configuration: %s\n", configInitOutput)
	if configInitLive {
		fmt.Printf("  Secrets are read from %s and %s\n", config.EnvBrokerToken, config.EnvPostgresDSN)
	}
	fmt.Println("\nEdit the file and run with:")
	fmt.Printf("  autotrader run --config %s\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configValidatePath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	fmt.Printf("✓ Configuration valid: %s\n", configValidatePath)
	fmt.Printf("  Account: %s (%s, mode %s)\n", cfg.Account.ID, cfg.Account.Currency, cfg.Mode)
	fmt.Printf("  Universe: %v every %s\n", cfg.Trading.Universe, cfg.Trading.Interval.D())
	fmt.Printf("  Risk: max %d positions, %.0f%% per position, daily loss %.1f%%, drawdown %.1f%%\n",
		cfg.Risk.MaxOpenPositions, cfg.Risk.MaxPositionPct*100, cfg.Risk.MaxDailyLossPct*100, cfg.Risk.MaxDrawdownPct*100)
	fmt.Printf("  Feed: %s  Journal: %s\n", cfg.Feed.Type, cfg.Journal.Type)
	return nil
}
