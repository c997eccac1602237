package executor

import (
	"context"
	"time"

	"github.com/yanun0323/logs"

	"github.com/rustyeddy/autotrader/status"
)

func (e *Executor) snapshot(now time.Time) status.Snapshot {
	st := e.state
	snap := status.Snapshot{
		Session:       e.session,
		Mode:          string(e.cfg.Mode),
		State:         string(st.State),
		Equity:        st.equity(),
		Cash:          st.Cash,
		RealizedPL:    st.Risk.RealizedPL,
		UnrealizedPL:  st.Ledger.UnrealizedPL(),
		OpenPositions: st.Ledger.Len(),
		OpenOrders:    len(st.Orders.Open()),
		Breakers: status.Breakers{
			Halted:            st.Risk.Halted,
			Reason:            string(st.Risk.HaltReason),
			DrawdownPct:       st.Risk.DrawdownPct,
			DailyPL:           st.Risk.DailyPL,
			DailyPLPct:        st.Risk.DailyPLPct,
			ConsecutiveLosses: st.Risk.ConsecutiveLosses,
		},
		Feed: status.Feed{
			PricesFromCache: st.PricesFromCache,
			StaleSymbols:    append([]string(nil), st.Stale...),
		},
		Cycle: st.Cycle,
		Time:  now,
	}
	for _, p := range st.Ledger.Snapshot() {
		snap.Positions = append(snap.Positions, status.PositionView{
			Symbol:        p.Symbol,
			Qty:           p.Qty,
			EntryPrice:    p.EntryPrice,
			CurrentPrice:  p.CurrentPrice,
			StopLoss:      p.StopLoss,
			TakeProfit:    p.TakeProfit,
			TrailingStop:  p.TrailingStop,
			UnrealizedPL:  p.UnrealizedPL,
			UnrealizedPct: p.UnrealizedPct,
			EntryTime:     p.EntryTime,
		})
	}
	return snap
}

// publish stores a copy for Status and hands the snapshot to the publisher.
func (e *Executor) publish(ctx context.Context, now time.Time) {
	snap := e.snapshot(now)

	e.mu.Lock()
	e.snap = snap.Clone()
	e.mu.Unlock()

	if e.deps.Publisher == nil {
		return
	}
	if err := e.deps.Publisher.Publish(ctx, snap); err != nil {
		logs.Warnf("publish status: %v", err)
	}
}
