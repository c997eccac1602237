package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/broker/sim"
	"github.com/rustyeddy/autotrader/cooldown"
	"github.com/rustyeddy/autotrader/internal/clock"
	"github.com/rustyeddy/autotrader/internal/retry"
	"github.com/rustyeddy/autotrader/journal"
	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/notify"
	"github.com/rustyeddy/autotrader/order"
	"github.com/rustyeddy/autotrader/position"
	"github.com/rustyeddy/autotrader/risk"
	"github.com/rustyeddy/autotrader/signal"
)

// Tuesday, inside the default trading window.
var t0 = time.Date(2025, 3, 4, 10, 0, 0, 0, market.DefaultSession().Location)

type feed struct {
	mu     sync.Mutex
	clk    clock.Clock
	prices map[string]float64
	err    error
}

func (f *feed) GetQuotes(_ context.Context, symbols []string) (map[string]market.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]market.Quote)
	for _, sym := range symbols {
		if p, ok := f.prices[sym]; ok {
			out[sym] = market.Quote{Symbol: sym, Bid: p, Ask: p, Last: p, Time: f.clk.Now()}
		}
	}
	return out, nil
}

func (f *feed) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type recorder struct {
	mu     sync.Mutex
	alerts []notify.Alert
}

func (r *recorder) Notify(sev notify.Severity, cat notify.Category, msg string, data map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, notify.Alert{Severity: sev, Category: cat, Message: msg, Data: data})
}

func (r *recorder) count(sev notify.Severity, cat notify.Category) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.alerts {
		if a.Severity == sev && a.Category == cat {
			n++
		}
	}
	return n
}

type harness struct {
	t      *testing.T
	clk    *clock.Fake
	feed   *feed
	broker *sim.Broker
	repo   *journal.Memory
	alerts *recorder
	cfg    Config
	deps   Deps
	ex     *Executor
}

func newHarness(t *testing.T, plans []signal.TradePlan, opts ...func(h *harness)) *harness {
	t.Helper()
	clk := clock.NewFake(t0)
	h := &harness{
		t:      t,
		clk:    clk,
		feed:   &feed{clk: clk, prices: make(map[string]float64)},
		repo:   journal.NewMemory(),
		alerts: &recorder{},
	}
	h.cfg = Config{
		Mode:            Paper,
		StartingCash:    10_000,
		TrailingStopPct: 0.015,
		LotSize:         1,
	}
	h.deps = Deps{
		Quotes:    market.NewFetcher(h.feed, nil, market.FetcherOptions{MaxAge: 30 * time.Second}),
		Signals:   signal.Static(plans),
		Simulator: order.NewSimulator(order.SimConfig{Seed: 1}),
		Repo:      h.repo,
		Notifier:  h.alerts,
		Clock:     clk,
		Limits:    risk.DefaultLimits(),
		Cooldown:  cooldown.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(h)
	}

	ex, err := New(h.cfg, h.deps)
	require.NoError(t, err)
	h.ex = ex
	return h
}

func withLiveBroker(h *harness) {
	h.broker = sim.New(10_000, order.NewSimulator(order.SimConfig{Seed: 1}), h.clk)
	h.cfg.Mode = Live
	h.deps.Broker = h.broker
}

func (h *harness) price(sym string, p float64) {
	h.feed.mu.Lock()
	h.feed.prices[sym] = p
	h.feed.mu.Unlock()
	if h.broker != nil {
		h.broker.UpdateQuote(market.Quote{Symbol: sym, Bid: p, Ask: p, Last: p, Time: h.clk.Now()})
	}
}

func (h *harness) cycle() {
	h.t.Helper()
	require.NoError(h.t, h.ex.RunCycle(context.Background()))
}

func (h *harness) position(sym string) (position.Position, bool) {
	return h.ex.state.Ledger.Get(sym)
}

func aapl(shares, score float64) signal.TradePlan {
	return signal.TradePlan{ID: "sig-aapl", Symbol: "AAPL", Price: 100, Shares: shares, StopLoss: 95, TakeProfit: 110, Score: score}
}

func TestTrailingStopExitAndCooldown(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []signal.TradePlan{aapl(3, 80)})

	h.price("AAPL", 100)
	h.cycle()
	p, ok := h.position("AAPL")
	require.True(t, ok)
	assert.Equal(t, 3.0, p.Qty)
	assert.InDelta(t, 98.5, p.TrailingStop, 1e-9)
	assert.Equal(t, 1, h.alerts.count(notify.Info, notify.PositionOpened))
	assert.InDelta(t, 9_700, h.ex.state.Cash, 1e-9)

	h.clk.Advance(10 * time.Second)
	h.price("AAPL", 108)
	h.cycle()
	p, _ = h.position("AAPL")
	assert.InDelta(t, 106.38, p.TrailingStop, 1e-9)

	h.clk.Advance(10 * time.Second)
	h.price("AAPL", 106)
	h.cycle()
	_, ok = h.position("AAPL")
	require.False(t, ok, "106 < 106.38 must exit")

	trades := h.repo.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, string(position.TrailingStop), trades[0].Reason)
	assert.InDelta(t, 18.0, trades[0].RealizedPL, 1e-9)
	assert.Equal(t, "paper", trades[0].Mode)
	assert.InDelta(t, 10_018, h.ex.state.Cash, 1e-9)
	assert.Equal(t, 1, h.alerts.count(notify.Info, notify.PositionClosed))

	// Still inside the five minute cooldown.
	h.clk.Advance(10 * time.Second)
	h.price("AAPL", 107.5)
	h.cycle()
	_, ok = h.position("AAPL")
	assert.False(t, ok)

	h.clk.Advance(6 * time.Minute)
	h.cycle()
	p, ok = h.position("AAPL")
	require.True(t, ok, "cooldown elapsed and price moved")
	assert.Equal(t, 107.5, p.EntryPrice)
}

func TestDailyLossHalt(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []signal.TradePlan{aapl(20, 80)})

	h.price("AAPL", 100)
	h.cycle()
	_, ok := h.position("AAPL")
	require.True(t, ok)

	h.clk.Advance(10 * time.Second)
	h.price("AAPL", 57.5)
	h.cycle()

	_, ok = h.position("AAPL")
	assert.False(t, ok)
	st := h.ex.Status()
	assert.Equal(t, string(Halted), st.State)
	assert.True(t, st.Breakers.Halted)
	assert.Equal(t, string(risk.DailyLossLimit), st.Breakers.Reason)
	assert.InDelta(t, 9_150, st.Equity, 1e-9)
	assert.InDelta(t, -0.085, st.Breakers.DailyPLPct, 1e-9)
	assert.Equal(t, 1, h.alerts.count(notify.Critical, notify.TradingHalted))
	assert.Equal(t, 1, h.alerts.count(notify.Warning, notify.StopHit))

	trades := h.repo.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, string(position.StopLoss), trades[0].Reason)
	assert.InDelta(t, -850, trades[0].RealizedPL, 1e-9)

	// Halted: no entries however good the candidate.
	h.clk.Advance(15 * time.Minute)
	h.price("AAPL", 100)
	h.cycle()
	_, ok = h.position("AAPL")
	assert.False(t, ok)
	assert.Equal(t, 0, h.ex.state.Orders.Len())

	chk := h.ex.risk.PreTradeCheck(risk.Request{Symbol: "AAPL", Qty: 1, Price: 100, StopLoss: 95, TakeProfit: 110}, h.ex.state.Risk)
	assert.Equal(t, risk.TradingHalted, chk.Reason)

	h.ex.Resume()
	h.clk.Advance(10 * time.Second)
	h.cycle()
	assert.Equal(t, 1, h.alerts.count(notify.Info, notify.TradingResumed))
	assert.False(t, h.ex.Status().Breakers.Halted)
	p, ok := h.position("AAPL")
	require.True(t, ok, "entries resume after an explicit resume")
	assert.Equal(t, 18.0, p.Qty, "20 shares resized to the 20 percent cap of 9150")
}

func TestFeedOutageFreezesPositions(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []signal.TradePlan{aapl(3, 80)})

	h.price("AAPL", 100)
	h.cycle()
	before, ok := h.position("AAPL")
	require.True(t, ok)

	h.feed.fail(errors.New("connection refused"))
	for i := 0; i < 3; i++ {
		h.clk.Advance(15 * time.Second)
		h.cycle()

		st := h.ex.Status()
		assert.True(t, st.Feed.PricesFromCache)
		assert.Equal(t, 1, st.OpenPositions)
	}

	st := h.ex.Status()
	assert.Equal(t, []string{"AAPL"}, st.Feed.StaleSymbols)
	after, _ := h.position("AAPL")
	assert.Equal(t, before.Qty, after.Qty)
	assert.Equal(t, before.CurrentPrice, after.CurrentPrice)
	assert.Equal(t, before.TrailingStop, after.TrailingStop)
	assert.Equal(t, 0, h.ex.state.Orders.Len())
	assert.Empty(t, h.repo.Trades())
	assert.Equal(t, 1, h.alerts.count(notify.Warning, notify.FeedDegraded), "one alert per outage")

	h.feed.fail(nil)
	h.clk.Advance(15 * time.Second)
	h.cycle()
	assert.False(t, h.ex.Status().Feed.PricesFromCache)
	assert.Equal(t, 1, h.alerts.count(notify.Info, notify.FeedDegraded))
}

func TestStaleQuoteBlocksExitForThatSymbolOnly(t *testing.T) {
	t.Parallel()

	plans := []signal.TradePlan{
		aapl(3, 80),
		{ID: "sig-msft", Symbol: "MSFT", Price: 300, Shares: 1, StopLoss: 290, TakeProfit: 330, Score: 70},
	}
	h := newHarness(t, plans)
	h.price("AAPL", 100)
	h.price("MSFT", 300)
	h.cycle()
	require.Equal(t, 2, h.ex.state.Ledger.Len())

	// MSFT stops updating; AAPL gaps through its stop.
	h.feed.mu.Lock()
	delete(h.feed.prices, "MSFT")
	h.feed.mu.Unlock()
	h.clk.Advance(45 * time.Second)
	h.price("AAPL", 90)
	h.cycle()

	_, ok := h.position("AAPL")
	assert.False(t, ok, "AAPL has a fresh quote and exits")
	_, ok = h.position("MSFT")
	assert.True(t, ok, "MSFT is stale and untouched")
	assert.Equal(t, []string{"MSFT"}, h.ex.Status().Feed.StaleSymbols)
}

func TestOpenPositionsNeverExceedMax(t *testing.T) {
	t.Parallel()

	plans := []signal.TradePlan{
		{Symbol: "AAPL", Price: 100, Shares: 1, Score: 90},
		{Symbol: "MSFT", Price: 300, Shares: 1, Score: 80},
		{Symbol: "NVDA", Price: 200, Shares: 1, Score: 70},
	}
	h := newHarness(t, plans, func(h *harness) { h.deps.Limits.MaxOpenPositions = 2 })
	h.price("AAPL", 100)
	h.price("MSFT", 300)
	h.price("NVDA", 200)

	for i := 0; i < 3; i++ {
		h.cycle()
		h.clk.Advance(10 * time.Second)
	}
	assert.Equal(t, []string{"AAPL", "MSFT"}, h.ex.state.Ledger.Symbols(), "highest scores win the slots")

	p, _ := h.position("AAPL")
	assert.InDelta(t, 95, p.StopLoss, 1e-9, "default stop")
	assert.InDelta(t, 110, p.TakeProfit, 1e-9, "default target")
}

func TestLimitEntryRestsThenExpires(t *testing.T) {
	t.Parallel()

	plan := signal.TradePlan{Symbol: "AAPL", Price: 99, Shares: 2, StopLoss: 95, TakeProfit: 110, Score: 80}
	h := newHarness(t, []signal.TradePlan{plan}, func(h *harness) {
		h.cfg.EntryKind = order.Limit
		h.cfg.OrderTTL = time.Minute
	})

	h.price("AAPL", 100)
	h.cycle()
	open := h.ex.state.Orders.Open()
	require.Len(t, open, 1)
	assert.Equal(t, order.Submitted, open[0].Status)
	assert.Equal(t, 99.0, open[0].LimitPrice)
	assert.Equal(t, 1, h.ex.Status().OpenOrders)

	h.clk.Advance(30 * time.Second)
	h.cycle()
	assert.Len(t, h.ex.state.Orders.Open(), 1, "one working entry per symbol")

	h.clk.Advance(31 * time.Second)
	h.cycle()
	stored, ok := h.repo.Order(open[0].ID)
	require.True(t, ok)
	assert.Equal(t, order.Expired, stored.Status)
	assert.Equal(t, 0, h.ex.state.Ledger.Len())

	// A fresh limit order goes in and fills once the ask drops to 99.
	h.clk.Advance(10 * time.Second)
	h.price("AAPL", 98.5)
	h.cycle()
	h.clk.Advance(10 * time.Second)
	h.cycle()
	p, ok := h.position("AAPL")
	require.True(t, ok)
	assert.LessOrEqual(t, p.EntryPrice, 99.0)
}

func TestMarketClosedIsIdle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []signal.TradePlan{aapl(3, 80)})
	h.clk.Set(time.Date(2025, 3, 4, 8, 0, 0, 0, t0.Location()))
	h.price("AAPL", 100)
	h.cycle()

	assert.Equal(t, string(Idle), h.ex.Status().State)
	assert.Equal(t, 0, h.ex.state.Ledger.Len())
}

func TestDayRolloverSummarisesAndResets(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []signal.TradePlan{aapl(20, 80)})
	h.price("AAPL", 100)
	h.cycle()
	h.clk.Advance(10 * time.Second)
	h.price("AAPL", 57.5)
	h.cycle()
	require.True(t, h.ex.state.Risk.Halted)

	h.clk.Set(t0.Add(24 * time.Hour))
	h.price("AAPL", 58)
	h.cycle()

	assert.Equal(t, 1, h.alerts.count(notify.Info, notify.DailySummary))
	assert.False(t, h.ex.state.Risk.Halted)
	assert.InDelta(t, 9_150, h.ex.state.Risk.DayStartEquity, 1e-9)
	_, ok := h.ex.state.Cooldown.Get("AAPL")
	assert.False(t, ok, "yesterday's exits are forgotten")
}

func TestStopLiquidates(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []signal.TradePlan{aapl(3, 80)})
	h.price("AAPL", 100)
	h.cycle()
	require.Equal(t, 1, h.ex.state.Ledger.Len())

	h.ex.Stop()
	h.clk.Advance(10 * time.Second)
	h.price("AAPL", 101)
	err := h.ex.RunCycle(context.Background())
	require.ErrorIs(t, err, ErrStopped)

	assert.Equal(t, 0, h.ex.state.Ledger.Len())
	trades := h.repo.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, string(position.Manual), trades[0].Reason)
	assert.Equal(t, string(Stopped), h.ex.Status().State)

	assert.ErrorIs(t, h.ex.RunCycle(context.Background()), ErrStopped)
	positions, err := h.repo.LoadOpenPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []signal.TradePlan{aapl(3, 80)}, func(h *harness) { h.cfg.Interval = time.Millisecond })
	h.price("AAPL", 100)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.ex.Run(ctx) }()

	require.Eventually(t, func() bool { return h.ex.Status().OpenPositions == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, string(Stopped), h.ex.Status().State)
	assert.Equal(t, 0, h.ex.Status().OpenPositions)
}

func TestRestartRestoresPositions(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []signal.TradePlan{aapl(3, 80)})
	h.price("AAPL", 100)
	h.cycle()

	again, err := New(h.cfg, h.deps)
	require.NoError(t, err)
	require.NoError(t, again.Start(context.Background()))
	p, ok := again.state.Ledger.Get("AAPL")
	require.True(t, ok)
	assert.Equal(t, 3.0, p.Qty)
	assert.InDelta(t, 9_700, again.state.Cash, 1e-9, "cash comes from the last equity snapshot")
	assert.InDelta(t, 10_000, again.state.Risk.Equity, 1e-9)
}

func TestRestartKeepsHalt(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []signal.TradePlan{aapl(20, 80)})
	h.price("AAPL", 100)
	h.cycle()
	h.clk.Advance(10 * time.Second)
	h.price("AAPL", 57.5)
	h.cycle()
	require.True(t, h.ex.state.Risk.Halted)

	again, err := New(h.cfg, h.deps)
	require.NoError(t, err)
	require.NoError(t, again.Start(context.Background()))
	assert.True(t, again.state.Risk.Halted)
	assert.Equal(t, risk.DailyLossLimit, again.state.Risk.HaltReason)
	assert.InDelta(t, 10_000, again.state.Risk.DayStartEquity, 1e-9)
	assert.InDelta(t, -850, again.state.Risk.DailyPL, 1e-9)
	_, ok := again.state.Cooldown.Get("AAPL")
	assert.True(t, ok, "the day's exits survive the restart")

	h.clk.Advance(15 * time.Minute)
	h.price("AAPL", 100)
	require.NoError(t, again.RunCycle(context.Background()))
	assert.Equal(t, 0, again.state.Ledger.Len(), "no entries while halted")
	assert.Equal(t, 0, again.state.Orders.Len())
	st := again.Status()
	assert.Equal(t, string(Halted), st.State)
	assert.Equal(t, string(risk.DailyLossLimit), st.Breakers.Reason)

	// The next trading day starts clean apart from the peak.
	h.clk.Set(t0.Add(24 * time.Hour))
	tomorrow, err := New(h.cfg, h.deps)
	require.NoError(t, err)
	require.NoError(t, tomorrow.Start(context.Background()))
	assert.False(t, tomorrow.state.Risk.Halted)
	assert.Zero(t, tomorrow.state.Risk.ConsecutiveLosses)
	assert.InDelta(t, 10_000, tomorrow.state.Risk.PeakEquity, 1e-9)
	assert.InDelta(t, 9_150, tomorrow.state.Risk.DayStartEquity, 1e-9)
	assert.Empty(t, tomorrow.state.Cooldown.Snapshot())
}

func TestPartialExitSellsRemainder(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []signal.TradePlan{aapl(20, 80)}, func(h *harness) {
		h.cfg.TrailingStopPct = 0
		h.deps.Simulator = order.NewSimulator(order.SimConfig{Seed: 1, PartialFillProb: 1, PartialFillMin: 0.5, PartialFillMax: 0.5})
	})
	h.price("AAPL", 100)
	h.cycle()
	p, ok := h.position("AAPL")
	require.True(t, ok)
	require.Equal(t, 10.0, p.Qty, "entry fills half")

	h.clk.Advance(10 * time.Second)
	h.price("AAPL", 90)
	h.cycle()
	p, ok = h.position("AAPL")
	require.True(t, ok)
	assert.Equal(t, 5.0, p.Qty, "stop-loss exit fills half")
	assert.Equal(t, position.StopLoss, h.ex.state.pendingExits["AAPL"])
	assert.Equal(t, 0, h.ex.state.Orders.Len())
	assert.Empty(t, h.repo.Trades())

	// Fill the rest in full from here on. The price is back above the
	// stop, so only the remembered exit can close the position.
	h.ex.state.Orders = order.NewBook(order.NewSimulator(order.SimConfig{Seed: 1}))
	h.clk.Advance(10 * time.Second)
	h.price("AAPL", 96)
	h.cycle()

	_, ok = h.position("AAPL")
	assert.False(t, ok)
	assert.Empty(t, h.ex.state.pendingExits)
	trades := h.repo.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, string(position.StopLoss), trades[0].Reason)
	assert.InDelta(t, 10_000-1_000+450+480, h.ex.state.Cash, 1e-9)
}

func TestConsecutiveLossesLiquidateOthers(t *testing.T) {
	t.Parallel()

	plans := []signal.TradePlan{
		{ID: "a", Symbol: "AAPL", Price: 100, Shares: 1, StopLoss: 95, TakeProfit: 110, Score: 90},
		{ID: "m", Symbol: "MSFT", Price: 300, Shares: 1, StopLoss: 290, TakeProfit: 330, Score: 85},
		{ID: "n", Symbol: "NVDA", Price: 200, Shares: 1, StopLoss: 190, TakeProfit: 220, Score: 80},
		{ID: "t", Symbol: "TSLA", Price: 250, Shares: 1, StopLoss: 240, TakeProfit: 275, Score: 75},
	}
	h := newHarness(t, plans)
	h.price("AAPL", 100)
	h.price("MSFT", 300)
	h.price("NVDA", 200)
	h.price("TSLA", 250)
	h.cycle()
	require.Equal(t, 4, h.ex.state.Ledger.Len())

	h.clk.Advance(10 * time.Second)
	h.price("AAPL", 94)
	h.price("MSFT", 289)
	h.price("NVDA", 189)
	h.cycle()

	assert.Equal(t, 0, h.ex.state.Ledger.Len(), "the survivor is liquidated")
	assert.True(t, h.ex.state.Risk.Halted)
	assert.Equal(t, risk.ConsecutiveLosses, h.ex.state.Risk.HaltReason)
	assert.Equal(t, 1, h.alerts.count(notify.Critical, notify.TradingHalted))
	assert.Equal(t, string(Halted), h.ex.Status().State)

	trades := h.repo.Trades()
	require.Len(t, trades, 4)
	for i, sym := range []string{"AAPL", "MSFT", "NVDA"} {
		assert.Equal(t, sym, trades[i].Symbol)
		assert.Equal(t, string(position.StopLoss), trades[i].Reason)
		assert.Negative(t, trades[i].RealizedPL)
	}
	assert.Equal(t, "TSLA", trades[3].Symbol)
	assert.Equal(t, string(position.Halted), trades[3].Reason)
	assert.Greater(t, h.ex.state.Risk.DailyPLPct, -0.01, "no loss breaker involved")

	h.clk.Advance(10 * time.Minute)
	h.price("TSLA", 260)
	h.cycle()
	assert.Equal(t, 0, h.ex.state.Ledger.Len())
	assert.Equal(t, 0, h.ex.state.Orders.Len())
}

func TestLiveEntryAndTakeProfit(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []signal.TradePlan{aapl(3, 80)}, withLiveBroker)
	h.price("AAPL", 100)
	h.cycle()

	p, ok := h.position("AAPL")
	require.True(t, ok)
	assert.Equal(t, 3.0, p.Qty)
	assert.InDelta(t, 9_700, h.ex.state.Cash, 1e-9)

	held, err := h.broker.GetPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, Reconcile(h.ex.state.Ledger.Snapshot(), held))

	h.clk.Advance(10 * time.Second)
	h.price("AAPL", 111)
	h.cycle()

	_, ok = h.position("AAPL")
	assert.False(t, ok)
	assert.Equal(t, 1, h.alerts.count(notify.Info, notify.TargetHit))
	assert.InDelta(t, 10_033, h.ex.state.Cash, 1e-9)
	trades := h.repo.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, "live", trades[0].Mode)
}

type rejecting struct{ *sim.Broker }

func (rejecting) PlaceOrder(context.Context, broker.PlaceRequest) (string, error) {
	return "", fmt.Errorf("%w: symbol not tradable", broker.ErrRejected)
}

func TestLiveRejectionAlerts(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []signal.TradePlan{aapl(3, 80)}, withLiveBroker, func(h *harness) {
		h.deps.Broker = rejecting{h.broker}
	})
	h.price("AAPL", 100)
	h.cycle()

	assert.Equal(t, 1, h.alerts.count(notify.Warning, notify.OrderRejected))
	assert.Equal(t, 0, h.ex.state.Ledger.Len())
	assert.Equal(t, 0, h.ex.state.Orders.Len())
	assert.InDelta(t, 10_000, h.ex.state.Cash, 1e-9)
}

// lostReply places orders but never delivers the broker's answer.
type lostReply struct{ *sim.Broker }

func (b lostReply) PlaceOrder(ctx context.Context, req broker.PlaceRequest) (string, error) {
	if _, err := b.Broker.PlaceOrder(ctx, req); err != nil {
		return "", err
	}
	return "", context.DeadlineExceeded
}

// neverArrives times out without the order reaching the broker.
type neverArrives struct{ *sim.Broker }

func (neverArrives) PlaceOrder(context.Context, broker.PlaceRequest) (string, error) {
	return "", fmt.Errorf("%w: 503", broker.ErrUnavailable)
}

func singleAttempt(h *harness) {
	h.deps.Retry = retry.Policy{Name: "broker", Attempts: 1}
}

func TestLivePlacementTimeoutIsResolved(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []signal.TradePlan{aapl(3, 80)}, withLiveBroker, singleAttempt, func(h *harness) {
		h.deps.Broker = lostReply{h.broker}
	})
	h.price("AAPL", 100)
	h.cycle()

	open := h.ex.state.Orders.Open()
	require.Len(t, open, 1, "the order is kept, not assumed rejected")
	assert.Equal(t, order.Pending, open[0].Status)
	assert.Equal(t, 0, h.alerts.count(notify.Warning, notify.OrderRejected))
	assert.Equal(t, 1, h.alerts.count(notify.Warning, notify.SystemError))
	held, err := h.broker.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, held, 1, "the broker did take it")

	h.clk.Advance(10 * time.Second)
	h.cycle()

	p, ok := h.position("AAPL")
	require.True(t, ok, "found by client id and booked")
	assert.Equal(t, 3.0, p.Qty)
	assert.Equal(t, 0, h.ex.state.Orders.Len())
	assert.Empty(t, Reconcile(h.ex.state.Ledger.Snapshot(), held))
	assert.InDelta(t, 9_700, h.ex.state.Cash, 1e-9)
	stored, ok := h.repo.Order(open[0].ID)
	require.True(t, ok)
	assert.Equal(t, order.Filled, stored.Status)
	assert.NotEmpty(t, stored.BrokerID)
}

func TestLivePlacementNeverFoundIsRejected(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []signal.TradePlan{aapl(3, 80)}, withLiveBroker, singleAttempt, func(h *harness) {
		h.deps.Broker = neverArrives{h.broker}
	})
	h.price("AAPL", 100)
	h.cycle()
	open := h.ex.state.Orders.Open()
	require.Len(t, open, 1)
	id := open[0].ID

	for i := 1; i < maxLookups; i++ {
		h.clk.Advance(10 * time.Second)
		h.cycle()
		o, ok := h.ex.state.Orders.Get(id)
		require.True(t, ok)
		assert.Equal(t, order.Pending, o.Status)
	}
	assert.Equal(t, 0, h.alerts.count(notify.Warning, notify.OrderRejected))

	h.clk.Advance(10 * time.Second)
	h.cycle()
	stored, ok := h.repo.Order(id)
	require.True(t, ok)
	assert.Equal(t, order.Rejected, stored.Status)
	assert.Equal(t, "not found at broker", stored.Reason)
	assert.Equal(t, 1, h.alerts.count(notify.Warning, notify.OrderRejected))
	assert.Equal(t, 0, h.ex.state.Ledger.Len())
}

func TestLiveStartupReconciliation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, withLiveBroker)
	require.NoError(t, h.repo.SavePosition(context.Background(), position.Position{
		Symbol: "AAPL", Qty: 3, EntryPrice: 100, StopLoss: 95, TakeProfit: 110, EntryTime: t0,
	}))

	err := h.ex.Start(context.Background())
	require.ErrorIs(t, err, ErrReconciliationMismatch)
	assert.Equal(t, 1, h.alerts.count(notify.Critical, notify.SystemError))

	h.broker.Seed(broker.Holding{Symbol: "AAPL", Qty: 3, AvgPrice: 100})
	require.NoError(t, h.ex.Start(context.Background()))
	assert.True(t, h.ex.state.Ledger.Has("AAPL"))
}

func TestReconcile(t *testing.T) {
	t.Parallel()

	recorded := []position.Position{{Symbol: "AAPL", Qty: 3}, {Symbol: "MSFT", Qty: 1}}
	tests := []struct {
		name string
		held []broker.Holding
		want []Mismatch
	}{
		{"match", []broker.Holding{{Symbol: "MSFT", Qty: 1}, {Symbol: "AAPL", Qty: 3}}, nil},
		{"zero holdings ignored", []broker.Holding{{Symbol: "AAPL", Qty: 3}, {Symbol: "MSFT", Qty: 1}, {Symbol: "NVDA"}}, nil},
		{"qty differs", []broker.Holding{{Symbol: "AAPL", Qty: 2}, {Symbol: "MSFT", Qty: 1}}, []Mismatch{{Symbol: "AAPL", Recorded: 3, Broker: 2}}},
		{"missing at broker", []broker.Holding{{Symbol: "AAPL", Qty: 3}}, []Mismatch{{Symbol: "MSFT", Recorded: 1}}},
		{"unknown at broker", []broker.Holding{{Symbol: "AAPL", Qty: 3}, {Symbol: "MSFT", Qty: 1}, {Symbol: "TSLA", Qty: 5}}, []Mismatch{{Symbol: "TSLA", Broker: 5}}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Reconcile(recorded, tt.held))
		})
	}
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, Deps{})
	assert.Error(t, err, "fetcher required")

	q := market.NewFetcher(&feed{clk: clock.Real{}}, nil, market.FetcherOptions{})
	_, err = New(Config{Mode: Live}, Deps{Quotes: q})
	assert.Error(t, err, "live needs a broker")

	_, err = New(Config{EntryKind: order.Stop}, Deps{Quotes: q})
	assert.Error(t, err)

	ex, err := New(Config{}, Deps{Quotes: q})
	require.NoError(t, err)
	assert.Equal(t, Paper, ex.cfg.Mode)
	assert.NotEmpty(t, ex.SessionID())

	m, err := ParseMode("live")
	require.NoError(t, err)
	assert.Equal(t, Live, m)
	_, err = ParseMode("demo")
	assert.Error(t, err)
}
