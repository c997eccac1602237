package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/yanun0323/logs"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/internal/retry"
	"github.com/rustyeddy/autotrader/journal"
	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/notify"
	"github.com/rustyeddy/autotrader/order"
	"github.com/rustyeddy/autotrader/position"
	"github.com/rustyeddy/autotrader/risk"
	"github.com/rustyeddy/autotrader/signal"
)

func (e *Executor) submitEntry(ctx context.Context, plan signal.TradePlan, q market.Quote, qty, stop, target float64, now time.Time) bool {
	st := e.state
	req := order.Request{
		Symbol:   plan.Symbol,
		Side:     order.Buy,
		Kind:     e.cfg.EntryKind,
		Qty:      qty,
		TTL:      e.cfg.FillTimeout,
		SignalID: plan.ID,
	}
	if req.Kind == order.Limit {
		req.LimitPrice = plan.Price
		if req.LimitPrice <= 0 {
			req.LimitPrice = q.BuyPrice()
		}
		req.TTL = e.cfg.OrderTTL
	}
	o, err := st.Orders.New(req, now)
	if err != nil {
		logs.Warnf("entry %s: %v", plan.Symbol, err)
		return false
	}

	maxHold := plan.MaxHold
	if maxHold <= 0 {
		maxHold = e.cfg.MaxHold
	}
	st.intents[o.ID] = &intent{
		Entry:      true,
		StopLoss:   stop,
		TakeProfit: target,
		MaxHold:    maxHold,
		Score:      plan.Score,
	}
	logs.Infof("entry %s %s qty=%g score=%.1f stop=%.4f target=%.4f", o.Kind, o.Symbol, qty, plan.Score, stop, target)
	e.submit(ctx, o, q, now)
	return true
}

func (e *Executor) submitExit(ctx context.Context, sym string, reason position.ExitReason, q market.Quote, now time.Time) {
	st := e.state
	p, ok := st.Ledger.Get(sym)
	if !ok {
		return
	}
	o, err := st.Orders.New(order.Request{
		Symbol:   sym,
		Side:     order.Sell,
		Kind:     order.Market,
		Qty:      p.Qty,
		TTL:      e.cfg.FillTimeout,
		SignalID: p.SignalID,
	}, now)
	if err != nil {
		_ = e.invariant(fmt.Errorf("exit order for %s: %v", sym, err))
		return
	}
	st.intents[o.ID] = &intent{Exit: reason}
	logs.Infof("exit %s %s qty=%g mark=%.4f", sym, reason, p.Qty, p.CurrentPrice)
	e.submit(ctx, o, q, now)
}

// submit hands o to the simulator or the broker and settles it straight
// away if it is already done.
func (e *Executor) submit(ctx context.Context, o *order.Order, q market.Quote, now time.Time) {
	st := e.state
	if e.cfg.Mode == Live {
		e.place(ctx, o, now)
	} else {
		err := st.Orders.Submit(o, q, now)
		switch {
		case err == nil, errors.Is(err, order.ErrNoFill):
		case errors.Is(err, order.ErrMissingQuote):
			_, _ = st.Orders.Reject(o.ID, "no usable quote", now)
		default:
			logs.Warnf("submit %s: %v", o.ID, err)
		}
	}

	e.saveOrder(ctx, *o)
	if o.Status.Terminal() {
		e.settle(ctx, o, now)
	}
}

func (e *Executor) place(ctx context.Context, o *order.Order, now time.Time) {
	st := e.state
	req := broker.PlaceRequest{
		ClientID: o.ID,
		Symbol:   o.Symbol,
		Side:     o.Side,
		Kind:     o.Kind,
		Qty:      o.Qty,
	}
	switch o.Kind {
	case order.Limit:
		req.Price = o.LimitPrice
	case order.Stop:
		req.Price = o.StopPrice
	}

	brokerID, err := retry.Value(ctx, e.policy, func(ctx context.Context) (string, error) {
		return e.deps.Broker.PlaceOrder(ctx, req)
	})
	if err == nil {
		e.accepted(ctx, o, brokerID, now)
		return
	}
	if broker.Refused(err) {
		logs.Warnf("place %s %s %s: %v", o.Side, o.Symbol, o.ID, err)
		_, _ = st.Orders.Reject(o.ID, err.Error(), now)
		return
	}

	// The broker may have taken the order; it stays Pending until found.
	if in := st.intents[o.ID]; in != nil {
		in.unresolved = true
	}
	logs.Errorf("place %s %s %s: outcome unknown: %v", o.Side, o.Symbol, o.ID, err)
	e.notify(notify.Warning, notify.SystemError, fmt.Sprintf("%s %s order %s outcome unknown: %v", o.Side, o.Symbol, o.ID, err), map[string]any{
		"order_id": o.ID,
		"symbol":   o.Symbol,
		"qty":      o.Qty,
	})
}

// accepted records the broker's ID for o and picks up its first status.
func (e *Executor) accepted(ctx context.Context, o *order.Order, brokerID string, now time.Time) {
	o.BrokerID = brokerID
	if err := e.state.Orders.Submit(o, market.Quote{}, now); err != nil {
		logs.Warnf("submit %s: %v", o.ID, err)
		return
	}
	e.pollOrder(ctx, o, now)
}

// maxLookups is how many times the broker must fail to find an unresolved
// order before it is rejected locally.
const maxLookups = 3

// resolve searches the broker for an order by its client ID.
func (e *Executor) resolve(ctx context.Context, o *order.Order, in *intent, now time.Time) {
	st := e.state
	lookup, ok := e.deps.Broker.(broker.ClientLookup)
	if ok {
		bs, err := retry.Value(ctx, e.policy, func(ctx context.Context) (broker.OrderStatus, error) {
			return lookup.FindOrder(ctx, o.ID)
		})
		switch {
		case err == nil:
			in.unresolved = false
			logs.Infof("order %s found at broker as %s (%s)", o.ID, bs.ID, bs.Status)
			e.accepted(ctx, o, bs.ID, now)
			return
		case !errors.Is(err, broker.ErrNotFound):
			logs.Warnf("lookup %s: %v", o.ID, err)
			return
		}
	}

	in.lookups++
	if in.lookups < maxLookups {
		return
	}
	in.unresolved = false
	reason := "not found at broker"
	if !ok {
		reason = "placement unconfirmed"
		e.notify(notify.Critical, notify.SystemError, fmt.Sprintf("%s %s order %s never confirmed, check the broker", o.Side, o.Symbol, o.ID), map[string]any{
			"order_id": o.ID,
			"symbol":   o.Symbol,
		})
	}
	if _, err := st.Orders.Reject(o.ID, reason, now); err != nil {
		logs.Warnf("reject %s: %v", o.ID, err)
	}
}

// processOrders advances working orders and settles the ones that finished.
func (e *Executor) processOrders(ctx context.Context, res market.Result, now time.Time) {
	st := e.state
	if e.cfg.Mode == Live {
		for _, o := range st.Orders.Open() {
			in := st.intents[o.ID]
			switch {
			case o.BrokerID != "":
				e.pollOrder(ctx, o, now)
			case in != nil && in.unresolved:
				e.resolve(ctx, o, in, now)
			}
		}
	} else {
		fresh := make(map[string]market.Quote, len(res.Quotes))
		for sym := range res.Quotes {
			if q, ok := res.Fresh(sym); ok {
				fresh[sym] = q
			}
		}
		for _, o := range st.Orders.Open() {
			if o.Status != order.Submitted || o.Kind != order.Market {
				continue
			}
			q, ok := fresh[o.Symbol]
			if !ok {
				continue
			}
			if err := st.Orders.Fill(o, q, now); err != nil && !errors.Is(err, order.ErrNoFill) {
				logs.Warnf("fill %s: %v", o.ID, err)
			}
		}
		st.Orders.CheckPending(fresh, now)
		for _, o := range st.Orders.Due(now) {
			if _, err := st.Orders.Expire(o.ID, now); err == nil {
				logs.Infof("order %s %s %s expired", o.Side, o.Symbol, o.ID)
			}
		}
	}

	ids := make([]string, 0, len(st.intents))
	for id := range st.intents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		o, ok := st.Orders.Get(id)
		if !ok {
			delete(st.intents, id)
			continue
		}
		if o.Status.Terminal() {
			e.settle(ctx, o, now)
		}
	}

	if e.cfg.Mode == Live {
		bal, err := retry.Value(ctx, e.policy, e.deps.Broker.GetBalances)
		if err != nil {
			logs.Warnf("balances: %v", err)
			return
		}
		st.Cash = bal.Cash
	}
}

// pollOrder applies the broker's view of o. Fills are only booked once the
// broker reports a terminal status.
func (e *Executor) pollOrder(ctx context.Context, o *order.Order, now time.Time) {
	st := e.state
	bs, err := retry.Value(ctx, e.policy, func(ctx context.Context) (broker.OrderStatus, error) {
		return e.deps.Broker.GetOrder(ctx, o.BrokerID)
	})
	if err != nil {
		logs.Warnf("poll %s (%s): %v", o.ID, o.BrokerID, err)
		return
	}

	if !bs.Status.Terminal() {
		if o.ExpiresAt.IsZero() || now.Before(o.ExpiresAt) {
			return
		}
		in := st.intents[o.ID]
		if in != nil && in.cancelRequested {
			return
		}
		err := e.policy.Do(ctx, func(ctx context.Context) error {
			return e.deps.Broker.CancelOrder(ctx, o.BrokerID)
		})
		if err != nil {
			logs.Warnf("cancel expired %s: %v", o.ID, err)
			return
		}
		if in != nil {
			in.cancelRequested = true
		}
		return
	}

	if bs.FilledQty > 0 {
		_, err := st.Orders.ApplyFill(o.ID, order.Fill{
			Qty:        bs.FilledQty,
			Price:      bs.AvgPrice,
			Commission: bs.Commission,
			At:         now,
		})
		if err != nil {
			_ = e.invariant(fmt.Errorf("broker fill for %s: %v", o.ID, err))
		}
		return
	}
	switch bs.Status {
	case order.Rejected:
		_, err = st.Orders.Reject(o.ID, bs.Reason, now)
	case order.Expired:
		_, err = st.Orders.Expire(o.ID, now)
	default:
		_, err = st.Orders.Cancel(o.ID, now)
	}
	if err != nil {
		logs.Warnf("order %s: %v", o.ID, err)
	}
}

// cancelEntries withdraws every working buy.
func (e *Executor) cancelEntries(ctx context.Context, now time.Time) {
	st := e.state
	for _, o := range st.Orders.Open() {
		in := st.intents[o.ID]
		if in == nil || !in.Entry || in.unresolved {
			continue
		}
		if e.cfg.Mode == Live && o.BrokerID != "" {
			if in.cancelRequested {
				continue
			}
			id := o.BrokerID
			if err := e.policy.Do(ctx, func(ctx context.Context) error { return e.deps.Broker.CancelOrder(ctx, id) }); err != nil {
				logs.Warnf("cancel %s: %v", o.ID, err)
				continue
			}
			in.cancelRequested = true
			e.pollOrder(ctx, o, now)
		} else if _, err := st.Orders.Cancel(o.ID, now); err != nil {
			logs.Warnf("cancel %s: %v", o.ID, err)
		}
		if o.Status.Terminal() {
			e.settle(ctx, o, now)
		}
	}
}

// settle books a terminal order into cash and the ledger.
func (e *Executor) settle(ctx context.Context, o *order.Order, now time.Time) {
	st := e.state
	in, ok := st.intents[o.ID]
	if !ok {
		return
	}
	delete(st.intents, o.ID)
	defer st.Orders.Forget(o.ID)
	e.saveOrder(ctx, *o)

	if o.FilledQty <= 0 {
		if o.Status == order.Rejected {
			e.notify(notify.Warning, notify.OrderRejected, fmt.Sprintf("%s %s rejected: %s", o.Side, o.Symbol, o.Reason), map[string]any{
				"order_id": o.ID,
				"symbol":   o.Symbol,
				"qty":      o.Qty,
			})
			return
		}
		logs.Infof("order %s %s %s ended %s without a fill", o.Side, o.Symbol, o.ID, o.Status)
		return
	}

	if in.Entry {
		e.settleEntry(ctx, o, in, now)
		return
	}
	e.settleExit(ctx, o, in, now)
}

func (e *Executor) settleEntry(ctx context.Context, o *order.Order, in *intent, now time.Time) {
	st := e.state
	cost := o.Notional() + o.Commission
	st.Cash -= cost

	price := o.FilledPrice
	stop, target := in.StopLoss, in.TakeProfit
	if !(stop < price && price < target) {
		stop, target = e.defaultLevels(price)
		logs.Warnf("%s filled at %.4f outside planned levels, using %.4f/%.4f", o.Symbol, price, stop, target)
	}

	p, err := st.Ledger.Open(position.OpenRequest{
		Symbol:     o.Symbol,
		Qty:        o.FilledQty,
		EntryPrice: price,
		StopLoss:   stop,
		TakeProfit: target,
		At:         now,
		MaxHold:    in.MaxHold,
		Fees:       o.Commission,
		SignalID:   o.SignalID,
	})
	if err != nil {
		if e.cfg.Mode == Paper {
			st.Cash += cost
		}
		_ = e.invariant(fmt.Errorf("open %s: %v", o.Symbol, err))
		return
	}
	if err := e.deps.Repo.SavePosition(ctx, p); err != nil {
		e.persistFailed(fmt.Errorf("save position %s: %w", p.Symbol, err))
	}

	logs.Infof("opened %s qty=%g at %.4f stop=%.4f target=%.4f", p.Symbol, p.Qty, p.EntryPrice, p.StopLoss, p.TakeProfit)
	e.notify(notify.Info, notify.PositionOpened, fmt.Sprintf("opened %s", p.Symbol), map[string]any{
		"symbol":      p.Symbol,
		"qty":         p.Qty,
		"entry_price": p.EntryPrice,
		"stop_loss":   p.StopLoss,
		"take_profit": p.TakeProfit,
		"score":       in.Score,
		"partial":     o.Status == order.PartiallyFilled,
	})
}

func (e *Executor) settleExit(ctx context.Context, o *order.Order, in *intent, now time.Time) {
	st := e.state
	st.Cash += o.Notional() - o.Commission

	p, ok := st.Ledger.Get(o.Symbol)
	if !ok {
		_ = e.invariant(fmt.Errorf("exit fill %s for %s without a position", o.ID, o.Symbol))
		return
	}

	if o.FilledQty < p.Qty-qtyTolerance {
		p, err := st.Ledger.Reduce(o.Symbol, o.FilledQty, o.FilledPrice, o.Commission, now)
		if err != nil {
			_ = e.invariant(fmt.Errorf("reduce %s: %v", o.Symbol, err))
			return
		}
		if err := e.deps.Repo.SavePosition(ctx, p); err != nil {
			e.persistFailed(fmt.Errorf("save position %s: %w", p.Symbol, err))
		}
		st.pendingExits[o.Symbol] = in.Exit
		logs.Infof("partial exit %s %s: sold %g, %g left", o.Symbol, in.Exit, o.FilledQty, p.Qty)
		return
	}

	closed, err := st.Ledger.Close(o.Symbol, position.Exit{
		Price:  o.FilledPrice,
		Reason: in.Exit,
		At:     now,
		Fees:   o.Commission,
	})
	if err != nil {
		_ = e.invariant(fmt.Errorf("close %s: %v", o.Symbol, err))
		return
	}
	e.finishClose(ctx, o, closed, now)
}

func (e *Executor) finishClose(ctx context.Context, o *order.Order, c position.Closed, now time.Time) {
	st := e.state
	sym := c.Position.Symbol
	st.exited[sym] = true
	delete(st.pendingExits, sym)
	st.dayTrades++
	st.dayPL += c.RealizedPL

	if r := e.risk.RecordTradeOutcome(st.Risk, c.RealizedPL, now); r != risk.OK {
		e.tripped(r, now)
	}
	st.Cooldown.RecordExit(sym, c.ExitPrice, c.WasLoss(), now)

	if err := e.deps.Repo.DeletePosition(ctx, sym); err != nil {
		e.persistFailed(fmt.Errorf("delete position %s: %w", sym, err))
	}
	err := e.deps.Repo.AppendTradeHistory(ctx, journal.TradeRecord{
		TradeID:    o.ID,
		Symbol:     sym,
		Qty:        c.Position.Qty,
		EntryPrice: c.Position.EntryPrice,
		ExitPrice:  c.ExitPrice,
		OpenTime:   c.Position.EntryTime,
		CloseTime:  c.ExitTime,
		RealizedPL: c.RealizedPL,
		Fees:       c.Position.Fees,
		Reason:     string(c.Reason),
		SignalID:   c.Position.SignalID,
		Mode:       string(e.cfg.Mode),
		Meta: map[string]any{
			"hold":          c.HoldDuration.String(),
			"highest_price": c.Position.HighestPrice,
			"session":       e.session,
		},
	})
	if err != nil {
		e.persistFailed(fmt.Errorf("trade history %s: %w", sym, err))
	}

	sev, cat := notify.Info, notify.PositionClosed
	switch c.Reason {
	case position.StopLoss:
		sev, cat = notify.Warning, notify.StopHit
	case position.TakeProfit:
		cat = notify.TargetHit
	}
	logs.Infof("closed %s %s at %.4f pl=%.2f hold=%s", sym, c.Reason, c.ExitPrice, c.RealizedPL, c.HoldDuration)
	e.notify(sev, cat, fmt.Sprintf("closed %s: %s", sym, c.Reason), map[string]any{
		"symbol":      sym,
		"qty":         c.Position.Qty,
		"entry_price": c.Position.EntryPrice,
		"exit_price":  c.ExitPrice,
		"realized_pl": c.RealizedPL,
		"reason":      string(c.Reason),
	})
}

func (e *Executor) saveOrder(ctx context.Context, o order.Order) {
	if err := e.deps.Repo.SaveOrder(ctx, o); err != nil {
		e.persistFailed(fmt.Errorf("save order %s: %w", o.ID, err))
	}
}
