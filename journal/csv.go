package journal

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"time"
)

var (
	tradeHeader  = []string{"trade_id", "symbol", "qty", "entry_price", "exit_price", "open_time", "close_time", "realized_pl", "fees", "reason", "signal_id", "mode"}
	equityHeader = []string{"time", "cash", "equity", "realized_pl", "unrealized_pl", "drawdown_pct", "open_positions"}
)

// CSVJournal mirrors closed trades and equity points to a pair of CSV
// files. It is append-only and is used alongside a Repository as an
// export, never as the source of truth.
type CSVJournal struct {
	trades *csv.Writer
	equity *csv.Writer
	tf, ef *os.File
}

func NewCSV(tradesPath, equityPath string) (*CSVJournal, error) {
	tf, err := os.Create(tradesPath)
	if err != nil {
		return nil, err
	}
	ef, err := os.Create(equityPath)
	if err != nil {
		_ = tf.Close()
		return nil, err
	}

	tw := csv.NewWriter(tf)
	ew := csv.NewWriter(ef)

	if err := writeRow(tw, tradeHeader); err != nil {
		return nil, err
	}
	if err := writeRow(ew, equityHeader); err != nil {
		return nil, err
	}

	return &CSVJournal{tw, ew, tf, ef}, nil
}

func (j *CSVJournal) RecordTrade(t TradeRecord) error {
	return writeRow(j.trades, tradeRow(t))
}

func (j *CSVJournal) RecordEquity(e EquitySnapshot) error {
	return writeRow(j.equity, []string{
		e.Time.UTC().Format(time.RFC3339),
		f(e.Cash),
		f(e.Equity),
		f(e.RealizedPL),
		f(e.UnrealizedPL),
		f(e.DrawdownPct),
		strconv.Itoa(e.OpenPositions),
	})
}

func (j *CSVJournal) Close() error {
	j.trades.Flush()
	if err := j.trades.Error(); err != nil {
		return err
	}
	j.equity.Flush()
	if err := j.equity.Error(); err != nil {
		return err
	}

	if err := j.tf.Close(); err != nil {
		return err
	}
	return j.ef.Close()
}

// WriteTradesCSV writes a header and one row per trade to w.
func WriteTradesCSV(w io.Writer, recs []TradeRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(tradeHeader); err != nil {
		return err
	}
	for _, r := range recs {
		if err := cw.Write(tradeRow(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func tradeRow(t TradeRecord) []string {
	return []string{
		t.TradeID,
		t.Symbol,
		f(t.Qty),
		f(t.EntryPrice),
		f(t.ExitPrice),
		t.OpenTime.UTC().Format(time.RFC3339),
		t.CloseTime.UTC().Format(time.RFC3339),
		f(t.RealizedPL),
		f(t.Fees),
		t.Reason,
		t.SignalID,
		t.Mode,
	}
}

func writeRow(w *csv.Writer, row []string) error {
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}
