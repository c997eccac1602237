package executor

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/yanun0323/logs"

	"github.com/rustyeddy/autotrader/journal"
	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/notify"
	"github.com/rustyeddy/autotrader/order"
	"github.com/rustyeddy/autotrader/position"
	"github.com/rustyeddy/autotrader/risk"
	"github.com/rustyeddy/autotrader/signal"
)

// RunCycle runs one pass of the loop: quotes, exits, risk, entries, then
// persistence and publication, in that order. It returns ErrStopped once
// the executor has liquidated and stopped, and otherwise any invariant
// violations hit along the way.
func (e *Executor) RunCycle(ctx context.Context) error {
	st := e.state
	if st.State == Stopped {
		return ErrStopped
	}
	if !e.started {
		if err := e.Start(ctx); err != nil {
			return err
		}
	}

	now := e.deps.Clock.Now()
	st.Cycle++
	st.cycleErr = nil
	st.exited = make(map[string]bool)

	if e.stopRequested() {
		e.shutdown(ctx, now)
		return ErrStopped
	}

	select {
	case <-e.resumeCh:
		e.resume(now)
	default:
	}

	e.rollDay(now)

	if !e.deps.Session.IsOpen(now) {
		st.State = e.phase(now)
		e.publish(ctx, now)
		return nil
	}

	res := e.refreshQuotes(ctx, now)
	e.processOrders(ctx, res, now)
	e.evaluateExits(ctx, res, now)
	e.updateRisk(res, now)
	if st.Liquidating {
		e.cancelEntries(ctx, now)
		e.liquidate(ctx, res, st.LiquidationReason, now)
	}
	e.enterPositions(ctx, res, now)

	e.persist(ctx, now)
	st.State = e.phase(now)
	e.publish(ctx, now)
	return st.cycleErr
}

func (e *Executor) phase(now time.Time) State {
	switch {
	case e.state.State == Stopped:
		return Stopped
	case e.state.Risk.Halted:
		return Halted
	case !e.deps.Session.IsOpen(now):
		return Idle
	}
	return Running
}

// watchlist is every symbol the cycle needs a price for.
func (e *Executor) watchlist() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(sym string) {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym != "" && !seen[sym] {
			seen[sym] = true
			out = append(out, sym)
		}
	}
	for _, sym := range e.state.Ledger.Symbols() {
		add(sym)
	}
	for _, o := range e.state.Orders.Open() {
		add(o.Symbol)
	}
	for _, sym := range e.cfg.Universe {
		add(sym)
	}
	sort.Strings(out)
	return out
}

func (e *Executor) refreshQuotes(ctx context.Context, now time.Time) market.Result {
	st := e.state
	res := e.deps.Quotes.Fetch(ctx, e.watchlist(), now)
	st.PricesFromCache = res.FromCache
	st.Stale = append([]string(nil), res.Stale...)

	switch {
	case res.FromCache && !st.feedDegraded:
		msg := "quote feed down, using cached prices"
		if res.Err != nil {
			msg = fmt.Sprintf("%s: %v", msg, res.Err)
		}
		e.notify(notify.Warning, notify.FeedDegraded, msg, map[string]any{"stale": strings.Join(res.Stale, ",")})
	case !res.FromCache && st.feedDegraded:
		e.notify(notify.Info, notify.FeedDegraded, "quote feed recovered", nil)
	}
	st.feedDegraded = res.FromCache
	return res
}

func (e *Executor) evaluateExits(ctx context.Context, res market.Result, now time.Time) {
	st := e.state
	for _, sym := range st.Ledger.Symbols() {
		if st.Orders.HasOpen(sym, order.Sell) {
			continue
		}
		q, ok := res.Fresh(sym)
		if !ok {
			logs.Debugf("%s: no fresh quote, exit check skipped", sym)
			continue
		}
		if _, err := st.Ledger.MarkToMarket(sym, q.Price(), now); err != nil {
			logs.Warnf("mark %s: %v", sym, err)
			continue
		}
		if reason, ok := st.pendingExits[sym]; ok {
			logs.Infof("%s: selling remainder of %s exit", sym, reason)
			e.submitExit(ctx, sym, reason, q, now)
			continue
		}
		reason, err := st.Ledger.EvaluateExit(sym, now)
		if err != nil || reason == position.None {
			continue
		}
		e.submitExit(ctx, sym, reason, q, now)
	}
}

func (e *Executor) updateRisk(res market.Result, now time.Time) {
	st := e.state
	prices := make(map[string]float64, len(res.Quotes))
	for sym, q := range res.Quotes {
		prices[sym] = q.BuyPrice()
	}
	st.Risk.Cash = st.Cash - st.reserved(prices)
	st.Risk.OpenPositions = st.Ledger.Len() + st.openBuys()

	if r := e.risk.UpdateState(st.Risk, st.equity(), st.Ledger.UnrealizedPL(), now); r != risk.OK {
		e.tripped(r, now)
	}
}

// tripped starts liquidation after a circuit breaker fires.
func (e *Executor) tripped(r risk.Reason, now time.Time) {
	st := e.state
	st.Liquidating = true
	st.LiquidationReason = position.Halted

	msg := fmt.Sprintf("trading halted: %s", r)
	logs.Errorf("%s (equity %.2f, daily %.2f, drawdown %.2f%%)", msg, st.Risk.Equity, st.Risk.DailyPL, 100*st.Risk.DrawdownPct)
	e.notify(notify.Critical, notify.TradingHalted, msg, map[string]any{
		"reason":             string(r),
		"equity":             st.Risk.Equity,
		"daily_pl":           st.Risk.DailyPL,
		"daily_pl_pct":       st.Risk.DailyPLPct,
		"drawdown_pct":       st.Risk.DrawdownPct,
		"consecutive_losses": st.Risk.ConsecutiveLosses,
		"open_positions":     st.Ledger.Len(),
		"time":               now.Format(time.RFC3339),
	})
}

func (e *Executor) resume(now time.Time) {
	st := e.state
	was := e.risk.Resume(st.Risk)
	st.Liquidating = false
	st.LiquidationReason = position.None
	if was == risk.OK {
		return
	}
	logs.Infof("trading resumed after %s", was)
	e.notify(notify.Info, notify.TradingResumed, "trading resumed", map[string]any{
		"was":  string(was),
		"time": now.Format(time.RFC3339),
	})
}

// rollDay starts a new trading day when the session day changes.
func (e *Executor) rollDay(now time.Time) {
	st := e.state
	day := e.deps.Session.Day(now)
	if st.Day == "" {
		st.Day = day
		return
	}
	if day == st.Day {
		return
	}

	e.notify(notify.Info, notify.DailySummary, fmt.Sprintf("session %s closed", st.Day), map[string]any{
		"day":          st.Day,
		"trades":       st.dayTrades,
		"realized_pl":  st.dayPL,
		"equity":       st.equity(),
		"drawdown_pct": st.Risk.DrawdownPct,
	})

	e.risk.DailyReset(st.Risk, st.equity())
	st.Cooldown.DailyReset(day)
	st.Liquidating = false
	st.LiquidationReason = position.None
	st.dayTrades, st.dayPL = 0, 0
	st.Day = day
	logs.Infof("new trading day %s, equity %.2f", day, st.Risk.DayStartEquity)
}

// enterPositions admits ranked candidates into the free slots.
func (e *Executor) enterPositions(ctx context.Context, res market.Result, now time.Time) {
	st := e.state
	switch {
	case st.Risk.Halted, st.Liquidating:
		return
	case !e.deps.Session.InWindow(now):
		return
	case res.FromCache:
		logs.Debugf("entries paused: prices from cache")
		return
	}
	for _, sym := range st.Ledger.Symbols() {
		if res.IsStale(sym) {
			logs.Infof("entries paused: %s quote is stale", sym)
			return
		}
	}

	slots := math.MaxInt
	if limit := e.deps.Limits.MaxOpenPositions; limit > 0 {
		slots = limit - st.Ledger.Len() - st.openBuys()
	}
	if slots <= 0 {
		return
	}

	sctx, cancel := context.WithTimeout(ctx, e.cfg.SignalTimeout)
	plans, err := e.deps.Signals.GetCandidates(sctx, e.cfg.Universe, now)
	cancel()
	if err != nil {
		logs.Warnf("signals: %v", err)
		return
	}
	plans = signal.Rank(plans)
	if len(plans) == 0 {
		return
	}

	quotes := e.candidateQuotes(ctx, res, plans, now)
	for _, plan := range plans {
		if slots <= 0 {
			return
		}
		sym := plan.Symbol
		if st.Ledger.Has(sym) || st.Orders.HasOpen(sym, order.Buy) || st.exited[sym] {
			continue
		}
		q, ok := quotes[sym]
		if !ok {
			logs.Debugf("%s: no fresh quote, candidate skipped", sym)
			continue
		}
		price := q.BuyPrice()
		if ok, why := st.Cooldown.CanEnter(sym, price, plan.Score, now); !ok {
			logs.Infof("%s: %s", sym, why)
			continue
		}

		stop, target := plan.StopLoss, plan.TakeProfit
		if stop <= 0 || target <= 0 {
			ds, dt := e.defaultLevels(price)
			if stop <= 0 {
				stop = ds
			}
			if target <= 0 {
				target = dt
			}
		}
		if !(stop < price && price < target) {
			logs.Infof("%s: levels %.4f/%.4f do not bracket price %.4f", sym, stop, target, price)
			continue
		}

		req := risk.Request{Symbol: sym, Qty: plan.Shares, Price: price, StopLoss: stop, TakeProfit: target}
		if req.Qty <= 0 {
			req.Qty = e.size(req)
		}
		req.Qty = order.RoundLot(req.Qty, e.cfg.LotSize)
		if req.Qty <= 0 {
			continue
		}

		chk := e.risk.PreTradeCheck(req, st.Risk)
		if !chk.OK() {
			logs.Infof("%s: %s %s", sym, chk.Reason, chk.Msg)
			switch chk.Reason {
			case risk.TradingHalted, risk.MaxPositionsReached, risk.DailyLossLimit:
				return
			}
			continue
		}
		if chk.Adjusted {
			logs.Infof("%s: qty %g adjusted to %g (cap %.2f)", sym, req.Qty, chk.Qty, chk.CapValue)
		}

		if e.submitEntry(ctx, plan, q, chk.Qty, stop, target, now) {
			st.Risk.Cash -= chk.Qty * price
			st.Risk.OpenPositions++
			slots--
		}
	}
}

// candidateQuotes returns fresh quotes for plans, fetching symbols the cycle
// did not already price.
func (e *Executor) candidateQuotes(ctx context.Context, res market.Result, plans []signal.TradePlan, now time.Time) map[string]market.Quote {
	out := make(map[string]market.Quote, len(plans))
	var missing []string
	for _, p := range plans {
		if _, ok := res.Quotes[p.Symbol]; !ok {
			missing = append(missing, p.Symbol)
			continue
		}
		if q, ok := res.Fresh(p.Symbol); ok {
			out[p.Symbol] = q
		}
	}
	if len(missing) == 0 {
		return out
	}
	extra := e.deps.Quotes.Fetch(ctx, missing, now)
	for _, sym := range missing {
		if q, ok := extra.Fresh(sym); ok {
			out[sym] = q
		}
	}
	return out
}

func (e *Executor) defaultLevels(price float64) (stop, target float64) {
	return price * (1 - e.cfg.StopLossPct), price * (1 + e.cfg.TakeProfitPct)
}

// size picks a quantity for plans that leave it to the executor: the
// per-trade risk budget when one is set, otherwise the position cap.
func (e *Executor) size(req risk.Request) float64 {
	st := e.state
	if pct := e.deps.Limits.MaxRiskPerTradePct; pct > 0 {
		return risk.Calculate(risk.Inputs{
			Equity:     st.Risk.Equity,
			RiskPct:    pct,
			EntryPrice: req.Price,
			StopPrice:  req.StopLoss,
			LotSize:    e.cfg.LotSize,
		}).Qty
	}
	capValue := e.risk.CapValue(req, st.Risk.Equity)
	if math.IsInf(capValue, 1) {
		return 0
	}
	return capValue / req.Price
}

// liquidate submits a market sell for every position without one working.
// Stale or cached quotes are acceptable here.
func (e *Executor) liquidate(ctx context.Context, res market.Result, reason position.ExitReason, now time.Time) {
	st := e.state
	for _, sym := range st.Ledger.Symbols() {
		if st.Orders.HasOpen(sym, order.Sell) {
			continue
		}
		q, ok := res.Quotes[sym]
		if !ok {
			if cached, err := e.deps.Quotes.Cache().Get(sym); err == nil {
				q, ok = cached, true
			}
		}
		if !ok {
			p, _ := st.Ledger.Get(sym)
			q = market.Quote{Symbol: sym, Last: p.CurrentPrice, Time: now}
		}
		e.submitExit(ctx, sym, reason, q, now)
	}
}

// shutdown liquidates everything and moves to Stopped.
func (e *Executor) shutdown(ctx context.Context, now time.Time) {
	st := e.state
	logs.Infof("stop requested: liquidating %d positions", st.Ledger.Len())

	res := e.deps.Quotes.Fetch(ctx, e.watchlist(), now)
	e.processOrders(ctx, res, now)
	e.cancelEntries(ctx, now)
	e.liquidate(ctx, res, position.Manual, now)

	polls := int(e.cfg.FillTimeout/e.cfg.PollInterval) + 1
wait:
	for i := 0; i < polls && (st.Ledger.Len() > 0 || st.Orders.Len() > 0); i++ {
		if e.cfg.Mode == Live {
			select {
			case <-ctx.Done():
				break wait
			case <-time.After(e.cfg.PollInterval):
			}
		}
		now = e.deps.Clock.Now()
		res = e.deps.Quotes.Fetch(ctx, e.watchlist(), now)
		e.processOrders(ctx, res, now)
		e.liquidate(ctx, res, position.Manual, now)
	}

	if n := st.Ledger.Len(); n > 0 {
		err := fmt.Errorf("%w: stopped with %d open positions: %v", ErrInvariant, n, st.Ledger.Symbols())
		logs.Errorf("%v", err)
		e.notify(notify.Critical, notify.SystemError, err.Error(), nil)
	}

	st.State = Stopped
	e.persist(ctx, now)
	e.notify(notify.Warning, notify.TradingHalted, "executor stopped", map[string]any{
		"equity":         st.equity(),
		"open_positions": st.Ledger.Len(),
	})
	e.publish(ctx, now)
	logs.Infof("executor %s stopped, equity %.2f", e.session, st.equity())
}

func (e *Executor) persist(ctx context.Context, now time.Time) {
	st := e.state
	var failed error
	for _, p := range st.Ledger.Snapshot() {
		if err := e.deps.Repo.SavePosition(ctx, p); err != nil && failed == nil {
			failed = fmt.Errorf("save position %s: %w", p.Symbol, err)
		}
	}
	err := e.deps.Repo.RecordEquity(ctx, journal.EquitySnapshot{
		Time:          now,
		Cash:          st.Cash,
		Equity:        st.equity(),
		RealizedPL:    st.Risk.RealizedPL,
		UnrealizedPL:  st.Ledger.UnrealizedPL(),
		DrawdownPct:   st.Risk.DrawdownPct,
		OpenPositions: st.Ledger.Len(),
	})
	if err != nil && failed == nil {
		failed = fmt.Errorf("record equity: %w", err)
	}
	if err := e.deps.Repo.SaveRiskState(ctx, e.riskRecord(now)); err != nil && failed == nil {
		failed = fmt.Errorf("save risk state: %w", err)
	}
	if failed != nil {
		e.persistFailed(failed)
	}
}

func (e *Executor) persistFailed(err error) {
	logs.Errorf("persist: %v", err)
	e.notify(notify.Warning, notify.SystemError, err.Error(), nil)
}
