package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)

func capOnlyLimits() Limits {
	l := DefaultLimits()
	l.MaxRiskPerTradePct = 0
	return l
}

func TestPreTradeCheckAdjustsToHardCap(t *testing.T) {
	t.Parallel()

	e := NewEngine(capOnlyLimits())
	st := NewState(1000, 1000)

	c := e.PreTradeCheck(Request{Symbol: "AAPL", Qty: 3, Price: 100, StopLoss: 95, TakeProfit: 110}, st)
	require.True(t, c.OK(), c.Msg)
	assert.True(t, c.Adjusted)
	assert.Equal(t, 2.0, c.Qty)
	assert.InDelta(t, 200.0, c.CapValue, 1e-9)

	c = e.PreTradeCheck(Request{Symbol: "AAPL", Qty: 2, Price: 100}, st)
	require.True(t, c.OK())
	assert.False(t, c.Adjusted)
}

func TestPreTradeCheckRejectsWhenResizeCannotFit(t *testing.T) {
	t.Parallel()

	e := NewEngine(capOnlyLimits())
	st := NewState(1000, 1000)

	// One share is already above the $200 cap; resizing yields zero.
	c := e.PreTradeCheck(Request{Symbol: "BRK", Qty: 1, Price: 250}, st)
	assert.Equal(t, PositionSizeExceeded, c.Reason)
	assert.Zero(t, c.Qty)

	l := capOnlyLimits()
	l.LotSize = 0.5
	e = NewEngine(l)
	c = e.PreTradeCheck(Request{Symbol: "AAPL", Qty: 2.5, Price: 100}, st)
	require.True(t, c.OK())
	assert.Equal(t, 2.0, c.Qty, "2.5 shares resized to the 2.0 lot that fits $200")
	assert.LessOrEqual(t, c.Qty*100, 200.0)
}

func TestPreTradeCheckSmallAccountCap(t *testing.T) {
	t.Parallel()

	e := NewEngine(capOnlyLimits())
	assert.Equal(t, 0.25, e.HardCapPct(200))
	assert.Equal(t, 0.20, e.HardCapPct(250))

	st := NewState(200, 200)
	c := e.PreTradeCheck(Request{Symbol: "F", Qty: 10, Price: 10}, st)
	require.True(t, c.OK())
	assert.Equal(t, 5.0, c.Qty, "25% of $200")
}

func TestPreTradeCheckRiskBasedCap(t *testing.T) {
	t.Parallel()

	l := DefaultLimits()
	l.MaxRiskPerTradePct = 0.01
	e := NewEngine(l)
	st := NewState(10000, 10000)

	// $100 risk budget over a $10 stop allows 10 shares, tighter than the
	// $2,000 hard cap.
	req := Request{Symbol: "AAPL", Qty: 30, Price: 100, StopLoss: 90, TakeProfit: 130}
	c := e.PreTradeCheck(req, st)
	require.True(t, c.OK(), c.Msg)
	assert.Equal(t, 10.0, c.Qty)
	assert.InDelta(t, 1000.0, c.CapValue, 1e-9)
}

func TestPreTradeCheckOrder(t *testing.T) {
	t.Parallel()

	e := NewEngine(capOnlyLimits())
	base := Request{Symbol: "AAPL", Qty: 1, Price: 100, StopLoss: 95, TakeProfit: 110}

	tests := []struct {
		name  string
		setup func(st *State)
		req   Request
		want  Reason
	}{
		{"ok", func(*State) {}, base, OK},
		{"invalid", func(*State) {}, Request{Symbol: "AAPL"}, InvalidRequest},
		{"halted first", func(st *State) {
			st.halt(DailyLossLimit, t0)
			st.OpenPositions = 99
			st.Cash = 0
		}, base, TradingHalted},
		{"max positions before size", func(st *State) { st.OpenPositions = 5 }, Request{Symbol: "X", Qty: 1, Price: 1e6}, MaxPositionsReached},
		{"buying power", func(st *State) { st.Cash = 50 }, base, InsufficientBuyingPower},
		{"daily loss", func(st *State) { st.DailyPL = -900; st.DailyPLPct = -0.09 }, base, DailyLossLimit},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			st := NewState(10000, 10000)
			tt.setup(st)
			assert.Equal(t, tt.want, e.PreTradeCheck(tt.req, st).Reason)
		})
	}
}

func TestPreTradeCheckMinRewardRisk(t *testing.T) {
	t.Parallel()

	l := capOnlyLimits()
	l.MinRewardRisk = 1.5
	e := NewEngine(l)
	st := NewState(10000, 10000)

	c := e.PreTradeCheck(Request{Symbol: "AAPL", Qty: 1, Price: 100, StopLoss: 95, TakeProfit: 105}, st)
	assert.Equal(t, RewardRiskTooLow, c.Reason)

	c = e.PreTradeCheck(Request{Symbol: "AAPL", Qty: 1, Price: 100, StopLoss: 95, TakeProfit: 110}, st)
	assert.True(t, c.OK())
}

func TestDailyLossHaltBlocksEntries(t *testing.T) {
	t.Parallel()

	l := DefaultLimits()
	l.MaxDailyLossPct = 0.08
	l.MaxDrawdownPct = 0.20
	e := NewEngine(l)
	st := NewState(10000, 10000)

	assert.Equal(t, OK, e.UpdateState(st, 9500, 0, t0))
	assert.False(t, st.Halted)

	got := e.UpdateState(st, 9150, -200, t0.Add(time.Minute))
	assert.Equal(t, DailyLossLimit, got)
	assert.True(t, st.Halted)
	assert.Equal(t, DailyLossLimit, st.HaltReason)
	assert.InDelta(t, -0.085, st.DailyPLPct, 1e-9)

	c := e.PreTradeCheck(Request{Symbol: "AAPL", Qty: 1, Price: 10, StopLoss: 9, TakeProfit: 20}, st)
	assert.Equal(t, TradingHalted, c.Reason)

	// Latched: recovering equity does not clear it, nor re-report it.
	assert.Equal(t, OK, e.UpdateState(st, 10100, 0, t0.Add(2*time.Minute)))
	assert.True(t, st.Halted)
}

func TestAbsoluteDailyLoss(t *testing.T) {
	t.Parallel()

	l := DefaultLimits()
	l.MaxDailyLoss = 300
	l.MaxDailyLossPct = 0
	l.MaxDrawdownPct = 0
	e := NewEngine(l)
	st := NewState(10000, 10000)

	assert.Equal(t, OK, e.UpdateState(st, 9701, 0, t0))
	assert.Equal(t, DailyLossLimit, e.UpdateState(st, 9700, 0, t0))
}

func TestDrawdownHaltPersistsAcrossDays(t *testing.T) {
	t.Parallel()

	l := DefaultLimits()
	l.MaxDailyLossPct = 0.5
	l.MaxDrawdownPct = 0.10
	e := NewEngine(l)
	st := NewState(10000, 10000)

	e.UpdateState(st, 11000, 0, t0)
	assert.Equal(t, 11000.0, st.PeakEquity)

	e.DailyReset(st, 10500)
	assert.Equal(t, 11000.0, st.PeakEquity, "peak persists")
	assert.Equal(t, 10500.0, st.DayStartEquity)

	assert.Equal(t, MaxDrawdown, e.UpdateState(st, 9800, 0, t0))
	assert.InDelta(t, -1200.0/11000, st.DrawdownPct, 1e-9)

	e.DailyReset(st, 9800)
	assert.False(t, st.Halted)
	// The peak carried over, so the breaker trips again on the new day.
	assert.Equal(t, MaxDrawdown, e.UpdateState(st, 9850, 0, t0))
}

func TestConsecutiveLosses(t *testing.T) {
	t.Parallel()

	e := NewEngine(DefaultLimits())
	st := NewState(10000, 10000)

	assert.Equal(t, OK, e.RecordTradeOutcome(st, -10, t0))
	assert.Equal(t, OK, e.RecordTradeOutcome(st, -10, t0))
	assert.Equal(t, OK, e.RecordTradeOutcome(st, 5, t0))
	assert.Zero(t, st.ConsecutiveLosses)

	e.RecordTradeOutcome(st, -1, t0)
	e.RecordTradeOutcome(st, -1, t0)
	assert.Equal(t, ConsecutiveLosses, e.RecordTradeOutcome(st, -1, t0))
	assert.True(t, st.Halted)
	assert.InDelta(t, -18.0, st.RealizedPL, 1e-9)

	assert.Equal(t, ConsecutiveLosses, e.Resume(st))
	assert.False(t, st.Halted)
	assert.Zero(t, st.ConsecutiveLosses)
}

func TestResumeRebasesTrippedMeasure(t *testing.T) {
	t.Parallel()

	e := NewEngine(DefaultLimits())
	st := NewState(10000, 10000)
	require.Equal(t, DailyLossLimit, e.UpdateState(st, 9000, 0, t0))

	assert.Equal(t, DailyLossLimit, e.Resume(st))
	assert.Equal(t, OK, e.UpdateState(st, 9000, 0, t0))
	assert.False(t, st.Halted)
	assert.Equal(t, OK, e.Resume(st))
}
