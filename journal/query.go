package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const tradeColumns = `trade_id, symbol, qty, entry_price, exit_price, open_time, close_time,
	realized_pl, fees, reason, signal_id, mode, meta`

type scanner interface {
	Scan(dest ...any) error
}

func scanTrade(s scanner) (TradeRecord, error) {
	var (
		rec  TradeRecord
		meta string
	)
	err := s.Scan(
		&rec.TradeID,
		&rec.Symbol,
		&rec.Qty,
		&rec.EntryPrice,
		&rec.ExitPrice,
		&rec.OpenTime,
		&rec.CloseTime,
		&rec.RealizedPL,
		&rec.Fees,
		&rec.Reason,
		&rec.SignalID,
		&rec.Mode,
		&meta,
	)
	if err != nil {
		return TradeRecord{}, err
	}
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &rec.Meta); err != nil {
			return TradeRecord{}, fmt.Errorf("trade %s meta: %w", rec.TradeID, err)
		}
	}
	return rec, nil
}

// GetTrade returns a single trade record by ID.
func (j *SQLite) GetTrade(ctx context.Context, tradeID string) (TradeRecord, error) {
	row := j.db.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE trade_id = ?`, tradeID)
	rec, err := scanTrade(row)
	if err == sql.ErrNoRows {
		return TradeRecord{}, fmt.Errorf("trade %q: %w", tradeID, ErrNotFound)
	}
	return rec, err
}

// ListTradesClosedBetween returns trades whose close_time is within [start, end).
func (j *SQLite) ListTradesClosedBetween(ctx context.Context, start, end time.Time) ([]TradeRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT `+tradeColumns+`
		FROM trades
		WHERE close_time >= ? AND close_time < ?
		ORDER BY close_time ASC`, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		rec, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Summary aggregates a set of closed trades.
type Summary struct {
	Trades       int
	Wins         int
	Losses       int
	GrossProfit  float64
	GrossLoss    float64 // positive
	NetPL        float64
	Fees         float64
	ProfitFactor float64 // 0 when there are no losses
}

func Summarize(recs []TradeRecord) Summary {
	var s Summary
	for _, r := range recs {
		s.Trades++
		s.NetPL += r.RealizedPL
		s.Fees += r.Fees
		if r.RealizedPL < 0 {
			s.Losses++
			s.GrossLoss += -r.RealizedPL
		} else {
			s.Wins++
			s.GrossProfit += r.RealizedPL
		}
	}
	if s.GrossLoss > 0 {
		s.ProfitFactor = s.GrossProfit / s.GrossLoss
	}
	return s
}
