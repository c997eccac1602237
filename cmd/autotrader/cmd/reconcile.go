package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/executor"
	"github.com/rustyeddy/autotrader/internal/clock"
	"github.com/rustyeddy/autotrader/internal/retry"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Compare journaled positions with the broker",
	Long: `Load open positions from the journal and compare them with the holdings
reported by the live broker. Nothing is changed on either side; the command
exits non-zero when they disagree.

Example:
  autotrader reconcile --config autotrader.yaml`,
	RunE: runReconcile,
}

var (
	reconcileConfigPath string
	reconcileTimeout    time.Duration
)

func init() {
	rootCmd.AddCommand(reconcileCmd)

	reconcileCmd.Flags().StringVarP(&reconcileConfigPath, "config", "f", "", "path to config file (YAML or JSON) (required)")
	reconcileCmd.Flags().DurationVar(&reconcileTimeout, "timeout", 30*time.Second, "overall timeout")
	reconcileCmd.MarkFlagRequired("config")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(reconcileConfigPath, "live")
	if err != nil {
		return err
	}
	if cfg.Broker.Type != "rest" {
		return fmt.Errorf("reconcile needs a remote broker (broker.type rest), got %q", cfg.Broker.Type)
	}

	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()

	repo, err := openRepository(cfg)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer repo.Close()

	recorded, err := repo.LoadOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}

	b, _, err := buildBroker(cfg, clock.Real{}, nil)
	if err != nil {
		return fmt.Errorf("broker: %w", err)
	}
	held, err := retry.Value(ctx, broker.Policy(cfg.RetryPolicy(), b), b.GetPositions)
	if err != nil {
		return fmt.Errorf("broker positions: %w", err)
	}

	mismatches := executor.Reconcile(recorded, held)
	if len(mismatches) == 0 {
		fmt.Printf("✓ %d journaled positions match the broker\n", len(recorded))
		return nil
	}

	fmt.Printf("✗ %d mismatches:\n", len(mismatches))
	for _, m := range mismatches {
		fmt.Printf("  %s\n", m)
	}
	return executor.ErrReconciliationMismatch
}
