package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "autotrader",
	Short: "A risk-managed automated equity trading executor",
	Long: `Autotrader runs a fixed-cadence trading loop against a capital budget.

It provides tools for:
  - Running the executor in paper or live mode
  - Reconciling journaled positions against the broker
  - Querying the trade journal and the latest status snapshot
  - Generating and validating configuration files

Every entry passes position-size limits, circuit breakers and a re-entry
cooldown before an order is placed.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}
