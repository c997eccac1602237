package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rustyeddy/autotrader/order"
	"github.com/rustyeddy/autotrader/position"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// One writer; avoids SQLITE_BUSY between the loop and CLI readers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) SavePosition(ctx context.Context, p position.Position) error {
	updated := p.UpdatedAt
	if updated.IsZero() {
		updated = p.EntryTime
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO positions
		(symbol, qty, entry_price, entry_time, stop_loss, take_profit, trailing_pct, trailing_stop,
		 highest_price, max_hold, current_price, realized_pl, fees, signal_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			qty = excluded.qty,
			stop_loss = excluded.stop_loss,
			take_profit = excluded.take_profit,
			trailing_stop = excluded.trailing_stop,
			highest_price = excluded.highest_price,
			current_price = excluded.current_price,
			realized_pl = excluded.realized_pl,
			fees = excluded.fees,
			updated_at = excluded.updated_at`,
		p.Symbol, p.Qty, p.EntryPrice, p.EntryTime.UTC(), p.StopLoss, p.TakeProfit, p.TrailingPct, p.TrailingStop,
		p.HighestPrice, int64(p.MaxHold), p.CurrentPrice, p.RealizedPL, p.Fees, p.SignalID, updated.UTC(),
	)
	return err
}

func (j *SQLite) DeletePosition(ctx context.Context, symbol string) error {
	_, err := j.db.ExecContext(ctx, `DELETE FROM positions WHERE symbol = ?`, symbol)
	return err
}

func (j *SQLite) LoadOpenPositions(ctx context.Context) ([]position.Position, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT symbol, qty, entry_price, entry_time, stop_loss, take_profit, trailing_pct, trailing_stop,
		       highest_price, max_hold, current_price, realized_pl, fees, signal_id, updated_at
		FROM positions
		ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []position.Position
	for rows.Next() {
		var (
			p       position.Position
			maxHold int64
		)
		if err := rows.Scan(
			&p.Symbol, &p.Qty, &p.EntryPrice, &p.EntryTime, &p.StopLoss, &p.TakeProfit, &p.TrailingPct, &p.TrailingStop,
			&p.HighestPrice, &maxHold, &p.CurrentPrice, &p.RealizedPL, &p.Fees, &p.SignalID, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		p.MaxHold = time.Duration(maxHold)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (j *SQLite) SaveOrder(ctx context.Context, o order.Order) error {
	updated := o.ClosedAt
	if updated.IsZero() {
		updated = o.SubmittedAt
	}
	if updated.IsZero() {
		updated = o.CreatedAt
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO orders
		(order_id, broker_id, symbol, side, kind, qty, status, limit_price, stop_price,
		 filled_qty, filled_price, commission, created_at, updated_at, signal_id, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET
			broker_id = excluded.broker_id,
			status = excluded.status,
			filled_qty = excluded.filled_qty,
			filled_price = excluded.filled_price,
			commission = excluded.commission,
			updated_at = excluded.updated_at,
			reason = excluded.reason`,
		o.ID, o.BrokerID, o.Symbol, string(o.Side), string(o.Kind), o.Qty, string(o.Status), o.LimitPrice, o.StopPrice,
		o.FilledQty, o.FilledPrice, o.Commission, o.CreatedAt.UTC(), updated.UTC(), o.SignalID, o.Reason,
	)
	return err
}

// GetOrder reads back a stored order.
func (j *SQLite) GetOrder(ctx context.Context, orderID string) (order.Order, error) {
	var (
		o                  order.Order
		side, kind, status string
		updated            time.Time
	)
	err := j.db.QueryRowContext(ctx, `
		SELECT order_id, broker_id, symbol, side, kind, qty, status, limit_price, stop_price,
		       filled_qty, filled_price, commission, created_at, updated_at, signal_id, reason
		FROM orders WHERE order_id = ?`, orderID).Scan(
		&o.ID, &o.BrokerID, &o.Symbol, &side, &kind, &o.Qty, &status, &o.LimitPrice, &o.StopPrice,
		&o.FilledQty, &o.FilledPrice, &o.Commission, &o.CreatedAt, &updated, &o.SignalID, &o.Reason,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return order.Order{}, ErrNotFound
	}
	if err != nil {
		return order.Order{}, err
	}
	o.Side, o.Kind, o.Status = order.Side(side), order.Kind(kind), order.Status(status)
	if o.Status.Terminal() {
		o.ClosedAt = updated
	}
	return o, nil
}

func (j *SQLite) AppendTradeHistory(ctx context.Context, t TradeRecord) error {
	meta := []byte("{}")
	if len(t.Meta) > 0 {
		var err error
		if meta, err = json.Marshal(t.Meta); err != nil {
			return err
		}
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO trades
		(trade_id, symbol, qty, entry_price, exit_price, open_time, close_time, realized_pl, fees, reason, signal_id, mode, meta)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TradeID, t.Symbol, t.Qty, t.EntryPrice, t.ExitPrice, t.OpenTime.UTC(), t.CloseTime.UTC(),
		t.RealizedPL, t.Fees, t.Reason, t.SignalID, t.Mode, string(meta),
	)
	return err
}

func (j *SQLite) RecordEquity(ctx context.Context, e EquitySnapshot) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO equity
		(time, cash, equity, realized_pl, unrealized_pl, drawdown_pct, open_positions)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Time.UTC(), e.Cash, e.Equity, e.RealizedPL, e.UnrealizedPL, e.DrawdownPct, e.OpenPositions,
	)
	return err
}

func (j *SQLite) LastEquity(ctx context.Context) (EquitySnapshot, error) {
	var e EquitySnapshot
	err := j.db.QueryRowContext(ctx, `
		SELECT time, cash, equity, realized_pl, unrealized_pl, drawdown_pct, open_positions
		FROM equity ORDER BY time DESC LIMIT 1`).Scan(
		&e.Time, &e.Cash, &e.Equity, &e.RealizedPL, &e.UnrealizedPL, &e.DrawdownPct, &e.OpenPositions,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return EquitySnapshot{}, ErrNotFound
	}
	return e, err
}

func (j *SQLite) SaveRiskState(ctx context.Context, r RiskRecord) error {
	cd, err := json.Marshal(r.Cooldown)
	if err != nil {
		return err
	}
	pending, err := json.Marshal(r.PendingExits)
	if err != nil {
		return err
	}
	var haltedAt sql.NullTime
	if !r.HaltedAt.IsZero() {
		haltedAt = sql.NullTime{Time: r.HaltedAt.UTC(), Valid: true}
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT INTO risk_state
		(id, day, session_start_equity, day_start_equity, peak_equity, realized_pl,
		 consecutive_losses, halted, halt_reason, halted_at, cooldown, pending_exits, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			day = excluded.day,
			session_start_equity = excluded.session_start_equity,
			day_start_equity = excluded.day_start_equity,
			peak_equity = excluded.peak_equity,
			realized_pl = excluded.realized_pl,
			consecutive_losses = excluded.consecutive_losses,
			halted = excluded.halted,
			halt_reason = excluded.halt_reason,
			halted_at = excluded.halted_at,
			cooldown = excluded.cooldown,
			pending_exits = excluded.pending_exits,
			updated_at = excluded.updated_at`,
		r.Day, r.SessionStartEquity, r.DayStartEquity, r.PeakEquity, r.RealizedPL,
		r.ConsecutiveLosses, r.Halted, r.HaltReason, haltedAt, string(cd), string(pending), r.UpdatedAt.UTC(),
	)
	return err
}

func (j *SQLite) LoadRiskState(ctx context.Context) (RiskRecord, error) {
	var (
		r        RiskRecord
		haltedAt sql.NullTime
		cd       string
		pending  string
	)
	err := j.db.QueryRowContext(ctx, `
		SELECT day, session_start_equity, day_start_equity, peak_equity, realized_pl,
		       consecutive_losses, halted, halt_reason, halted_at, cooldown, pending_exits, updated_at
		FROM risk_state WHERE id = 1`).Scan(
		&r.Day, &r.SessionStartEquity, &r.DayStartEquity, &r.PeakEquity, &r.RealizedPL,
		&r.ConsecutiveLosses, &r.Halted, &r.HaltReason, &haltedAt, &cd, &pending, &r.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return RiskRecord{}, ErrNotFound
	}
	if err != nil {
		return RiskRecord{}, err
	}
	if haltedAt.Valid {
		r.HaltedAt = haltedAt.Time
	}
	if err := json.Unmarshal([]byte(cd), &r.Cooldown); err != nil {
		return RiskRecord{}, fmt.Errorf("risk state cooldown: %w", err)
	}
	if err := json.Unmarshal([]byte(pending), &r.PendingExits); err != nil {
		return RiskRecord{}, fmt.Errorf("risk state pending exits: %w", err)
	}
	return r, nil
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
