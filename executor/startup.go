package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/yanun0323/logs"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/internal/retry"
	"github.com/rustyeddy/autotrader/journal"
	"github.com/rustyeddy/autotrader/notify"
	"github.com/rustyeddy/autotrader/position"
	"github.com/rustyeddy/autotrader/risk"
)

// Mismatch is one symbol on which the journal and the broker disagree.
type Mismatch struct {
	Symbol   string  `json:"symbol"`
	Recorded float64 `json:"recorded"`
	Broker   float64 `json:"broker"`
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s journal=%g broker=%g", m.Symbol, m.Recorded, m.Broker)
}

const qtyTolerance = 1e-6

// Reconcile compares recorded positions against broker holdings by symbol
// and quantity. Zero-quantity holdings are ignored.
func Reconcile(recorded []position.Position, held []broker.Holding) []Mismatch {
	want := make(map[string]float64, len(recorded))
	for _, p := range recorded {
		want[p.Symbol] += p.Qty
	}
	got := make(map[string]float64, len(held))
	for _, h := range held {
		if math.Abs(h.Qty) > qtyTolerance {
			got[h.Symbol] += h.Qty
		}
	}

	var out []Mismatch
	for sym, q := range want {
		if math.Abs(q-got[sym]) > qtyTolerance {
			out = append(out, Mismatch{Symbol: sym, Recorded: q, Broker: got[sym]})
		}
	}
	for sym, q := range got {
		if _, ok := want[sym]; !ok {
			out = append(out, Mismatch{Symbol: sym, Broker: q})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Start rebuilds state from the journal. In live mode the journal must agree
// with the broker or Start fails with ErrReconciliationMismatch.
func (e *Executor) Start(ctx context.Context) error {
	if e.started {
		return nil
	}
	now := e.deps.Clock.Now()

	recorded, err := e.deps.Repo.LoadOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("load open positions: %w", err)
	}

	cash := e.cfg.StartingCash
	switch e.cfg.Mode {
	case Live:
		held, err := retry.Value(ctx, e.policy, e.deps.Broker.GetPositions)
		if err != nil {
			return fmt.Errorf("broker positions: %w", err)
		}
		if mm := Reconcile(recorded, held); len(mm) > 0 {
			data := map[string]any{}
			for _, m := range mm {
				data[m.Symbol] = m.String()
			}
			e.notify(notify.Critical, notify.SystemError, "startup reconciliation failed", data)
			return fmt.Errorf("%w: %v", ErrReconciliationMismatch, mm)
		}
		bal, err := retry.Value(ctx, e.policy, e.deps.Broker.GetBalances)
		if err != nil {
			return fmt.Errorf("broker balances: %w", err)
		}
		cash = bal.Cash
	default:
		last, err := e.deps.Repo.LastEquity(ctx)
		switch {
		case err == nil:
			cash = last.Cash
		case !errors.Is(err, journal.ErrNotFound):
			return fmt.Errorf("last equity: %w", err)
		}
	}

	st := e.state
	for _, p := range recorded {
		if err := st.Ledger.Restore(p); err != nil {
			e.notify(notify.Critical, notify.SystemError, "restore failed", map[string]any{"symbol": p.Symbol, "error": err.Error()})
			return fmt.Errorf("%w: restore %s: %v", ErrInvariant, p.Symbol, err)
		}
	}
	st.Cash = cash
	st.Risk = risk.NewState(st.equity(), cash)
	st.Risk.OpenPositions = st.Ledger.Len()
	st.Day = e.deps.Session.Day(now)
	if err := e.restoreRisk(ctx, now); err != nil {
		return err
	}

	e.started = true
	logs.Infof("executor %s started: mode=%s cash=%.2f positions=%d", e.session, e.cfg.Mode, cash, st.Ledger.Len())
	e.publish(ctx, now)
	return nil
}

// restoreRisk carries the saved breaker state into this run. Peak equity
// always carries over; the rest only when the trading day is unchanged.
func (e *Executor) restoreRisk(ctx context.Context, now time.Time) error {
	rec, err := e.deps.Repo.LoadRiskState(ctx)
	if errors.Is(err, journal.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load risk state: %w", err)
	}

	st := e.state
	if rec.PeakEquity > st.Risk.PeakEquity {
		st.Risk.PeakEquity = rec.PeakEquity
	}
	if rec.SessionStartEquity > 0 {
		st.Risk.SessionStartEquity = rec.SessionStartEquity
	}
	if rec.Day != st.Day {
		logs.Infof("risk state from %s ignored on %s", rec.Day, st.Day)
		return nil
	}

	if rec.DayStartEquity > 0 {
		st.Risk.DayStartEquity = rec.DayStartEquity
	}
	st.Risk.RealizedPL = rec.RealizedPL
	st.Risk.ConsecutiveLosses = rec.ConsecutiveLosses
	st.dayPL = rec.RealizedPL
	st.Cooldown.Restore(rec.Cooldown)
	for sym, reason := range rec.PendingExits {
		if st.Ledger.Has(sym) {
			st.pendingExits[sym] = position.ExitReason(reason)
		}
	}

	if rec.Halted {
		st.Risk.Halted = true
		st.Risk.HaltReason = risk.Reason(rec.HaltReason)
		st.Risk.HaltedAt = rec.HaltedAt
		st.Liquidating = true
		st.LiquidationReason = position.Halted
		logs.Warnf("trading still halted since %s: %s", rec.HaltedAt.Format(time.RFC3339), rec.HaltReason)
	}
	if r := e.risk.UpdateState(st.Risk, st.equity(), st.Ledger.UnrealizedPL(), now); r != risk.OK {
		e.tripped(r, now)
	}
	return nil
}

func (e *Executor) riskRecord(now time.Time) journal.RiskRecord {
	st := e.state
	rec := journal.RiskRecord{
		Day:                st.Day,
		SessionStartEquity: st.Risk.SessionStartEquity,
		DayStartEquity:     st.Risk.DayStartEquity,
		PeakEquity:         st.Risk.PeakEquity,
		RealizedPL:         st.Risk.RealizedPL,
		ConsecutiveLosses:  st.Risk.ConsecutiveLosses,
		Halted:             st.Risk.Halted,
		HaltReason:         string(st.Risk.HaltReason),
		HaltedAt:           st.Risk.HaltedAt,
		Cooldown:           st.Cooldown.Snapshot(),
		UpdatedAt:          now,
	}
	if len(st.pendingExits) > 0 {
		rec.PendingExits = make(map[string]string, len(st.pendingExits))
		for sym, reason := range st.pendingExits {
			rec.PendingExits[sym] = string(reason)
		}
	}
	return rec
}
