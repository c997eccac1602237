package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/autotrader/config"
	"github.com/rustyeddy/autotrader/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query trade journal data",
	Long: `Query and display closed trades from the SQLite journal.

Subcommands:
  trade  - Get details of a specific trade by ID
  today  - List trades closed today
  day    - List trades closed on a specific day

A single trade is printed as an Org-mode entry; lists print a table,
or Org entries with --org, or CSV with --csv.

Examples:
  autotrader journal trade 01HZX3T4...
  autotrader journal today
  autotrader journal day 2025-03-04 --csv`,
}

var journalTradeCmd = &cobra.Command{
	Use:   "trade <trade-id>",
	Short: "Get details of a specific trade",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalTrade,
}

var journalTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "List trades closed today",
	Args:  cobra.NoArgs,
	RunE:  runJournalToday,
}

var journalDayCmd = &cobra.Command{
	Use:   "day <YYYY-MM-DD>",
	Short: "List trades closed on a specific day",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalDay,
}

var (
	journalConfig string
	journalDBPath string
	journalTZ     string
	journalCSV    bool
	journalOrg    bool
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalTradeCmd)
	journalCmd.AddCommand(journalTodayCmd)
	journalCmd.AddCommand(journalDayCmd)

	journalCmd.PersistentFlags().StringVarP(&journalConfig, "config", "f", "", "read the journal named in this config file instead of --db")
	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "./autotrader.sqlite", "path to SQLite journal DB")
	journalCmd.PersistentFlags().StringVar(&journalTZ, "tz", "America/New_York", "timezone that defines a trading day")
	journalCmd.PersistentFlags().BoolVar(&journalCSV, "csv", false, "write trades as CSV instead of a table")
	journalCmd.PersistentFlags().BoolVar(&journalOrg, "org", false, "write trades as Org-mode entries")
}

func runJournalTrade(cmd *cobra.Command, args []string) error {
	j, closeFn, err := openHistory()
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer closeFn()

	rec, err := j.GetTrade(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("get trade: %w", err)
	}

	if journalCSV {
		return journal.WriteTradesCSV(os.Stdout, []journal.TradeRecord{rec})
	}
	fmt.Println(journal.FormatTradeOrg(rec))
	return nil
}

func runJournalToday(cmd *cobra.Command, args []string) error {
	loc, err := time.LoadLocation(journalTZ)
	if err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	return listDay(loc, time.Now().In(loc).Format("2006-01-02"))
}

func runJournalDay(cmd *cobra.Command, args []string) error {
	loc, err := time.LoadLocation(journalTZ)
	if err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	return listDay(loc, args[0])
}

func listDay(loc *time.Location, day string) error {
	j, closeFn, err := openHistory()
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer closeFn()

	start, end, err := dayBounds(loc, day)
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}

	recs, err := j.ListTradesClosedBetween(context.Background(), start, end)
	if err != nil {
		return fmt.Errorf("query trades: %w", err)
	}

	switch {
	case journalCSV:
		return journal.WriteTradesCSV(os.Stdout, recs)
	case journalOrg:
		fmt.Println(journal.FormatTradesOrg(recs))
		return nil
	}

	fmt.Printf("%-26s %-6s %8s %10s %10s %10s  %s\n", "TRADE", "SYMBOL", "QTY", "ENTRY", "EXIT", "P/L", "REASON")
	for _, r := range recs {
		fmt.Printf("%-26s %-6s %8g %10.2f %10.2f %10.2f  %s\n",
			r.TradeID, r.Symbol, r.Qty, r.EntryPrice, r.ExitPrice, r.RealizedPL, r.Reason)
	}
	s := journal.Summarize(recs)
	fmt.Printf("\n%d trades (%d wins, %d losses)  net $%.2f  fees $%.2f",
		s.Trades, s.Wins, s.Losses, s.NetPL, s.Fees)
	if s.ProfitFactor > 0 {
		fmt.Printf("  profit factor %.2f", s.ProfitFactor)
	}
	fmt.Println()
	return nil
}

// openHistory opens the journal for reading. With --config the configured
// backend is used (SQLite or Postgres); CSV export files are left alone.
func openHistory() (journal.History, func() error, error) {
	if journalConfig == "" {
		j, err := journal.NewSQLite(journalDBPath)
		if err != nil {
			return nil, nil, err
		}
		return j, j.Close, nil
	}

	cfg, err := config.LoadFromFile(journalConfig)
	if err != nil {
		return nil, nil, err
	}
	cfg.Journal.TradesFile, cfg.Journal.EquityFile = "", ""
	repo, err := openRepository(cfg)
	if err != nil {
		return nil, nil, err
	}
	h, err := history(repo)
	if err != nil {
		_ = repo.Close()
		return nil, nil, err
	}
	return h, repo.Close, nil
}

func dayBounds(loc *time.Location, day string) (time.Time, time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)
	return start, end, nil
}
