package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/autotrader/status"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the latest status snapshot",
	Long: `Print the snapshot most recently written by a running executor.

Example:
  autotrader status --file status.json`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var statusFile string

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVarP(&statusFile, "file", "f", "./status.json", "status file written by autotrader run")
}

func runStatus(cmd *cobra.Command, args []string) error {
	s, err := status.ReadFile(statusFile)
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}

	fmt.Printf("Session %s (%s) %s, cycle %d, %s ago\n",
		s.Session, s.Mode, s.State, s.Cycle, time.Since(s.Time).Round(time.Second))
	fmt.Printf("  Equity: $%.2f  Cash: $%.2f  Realized: $%.2f  Unrealized: $%.2f\n",
		s.Equity, s.Cash, s.RealizedPL, s.UnrealizedPL)
	b := s.Breakers
	if b.Halted {
		fmt.Printf("  HALTED: %s\n", b.Reason)
	}
	fmt.Printf("  Daily P/L: $%.2f (%.2f%%)  Drawdown: %.2f%%  Losing streak: %d\n",
		b.DailyPL, b.DailyPLPct*100, b.DrawdownPct*100, b.ConsecutiveLosses)
	if s.Feed.PricesFromCache {
		fmt.Println("  Feed: serving cached prices")
	}
	if len(s.Feed.StaleSymbols) > 0 {
		fmt.Printf("  Stale: %v\n", s.Feed.StaleSymbols)
	}

	fmt.Printf("  Positions (%d open, %d orders):\n", s.OpenPositions, s.OpenOrders)
	for _, p := range s.Positions {
		fmt.Printf("    %-6s %8g @ %.2f  now %.2f  trail %.2f  target %.2f  P/L $%.2f (%.2f%%)\n",
			p.Symbol, p.Qty, p.EntryPrice, p.CurrentPrice, p.TrailingStop, p.TakeProfit, p.UnrealizedPL, p.UnrealizedPct*100)
	}
	return nil
}
