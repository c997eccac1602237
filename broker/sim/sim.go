// Package sim is an in-process OrderBroker that fills against the latest
// quotes with order.Simulator.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/internal/clock"
	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/order"
)

type booked struct {
	qty      float64
	notional float64
	fees     float64
}

type Broker struct {
	mu       sync.Mutex
	clock    clock.Clock
	cash     float64
	holdings map[string]*broker.Holding
	quotes   *market.QuoteStore
	book     *order.Book
	booked   map[string]booked
	ids      []string
	clients  map[string]string // client ID to order ID
}

func New(cash float64, sim *order.Simulator, c clock.Clock) *Broker {
	if c == nil {
		c = clock.Real{}
	}
	return &Broker{
		clock:    c,
		cash:     cash,
		holdings: make(map[string]*broker.Holding),
		quotes:   market.NewQuoteStore(),
		book:     order.NewBook(sim),
		booked:   make(map[string]booked),
		clients:  make(map[string]string),
	}
}

// Seed installs a holding, e.g. to mirror an existing account.
func (b *Broker) Seed(h broker.Holding) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := h
	b.holdings[h.Symbol] = &cp
}

// UpdateQuote records q and works any resting orders for its symbol.
func (b *Broker) UpdateQuote(q market.Quote) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.quotes.Set(q)
	now := b.clock.Now()

	for _, o := range b.book.Open() {
		if o.Symbol == q.Symbol && o.Kind == order.Market && o.Status == order.Submitted {
			_ = b.book.Fill(o, q, now)
		}
	}
	b.book.CheckPending(map[string]market.Quote{q.Symbol: q}, now)

	for _, o := range b.book.Open() {
		if o.Status == order.Submitted && !o.ExpiresAt.IsZero() && !now.Before(o.ExpiresAt) {
			_, _ = b.book.Expire(o.ID, now)
		}
	}
	b.settleLocked()
}

func (b *Broker) PlaceOrder(_ context.Context, req broker.PlaceRequest) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// A repeated client ID is the same order.
	if id, ok := b.clients[req.ClientID]; ok && req.ClientID != "" {
		if o, ok := b.book.Get(id); ok && o.Status == order.Rejected {
			return id, fmt.Errorf("%w: %s", broker.ErrRejected, o.Reason)
		}
		return id, nil
	}

	now := b.clock.Now()
	r := order.Request{Symbol: req.Symbol, Side: req.Side, Kind: req.Kind, Qty: req.Qty, SignalID: req.ClientID}
	switch req.Kind {
	case order.Limit:
		r.LimitPrice = req.Price
	case order.Stop:
		r.StopPrice = req.Price
	}
	o, err := b.book.New(r, now)
	if err != nil {
		return "", fmt.Errorf("%w: %v", broker.ErrRejected, err)
	}
	b.ids = append(b.ids, o.ID)
	if req.ClientID != "" {
		b.clients[req.ClientID] = o.ID
	}

	if reason := b.affordLocked(req); reason != "" {
		_, _ = b.book.Reject(o.ID, reason, now)
		return o.ID, fmt.Errorf("%w: %s", broker.ErrRejected, reason)
	}

	q, _ := b.quotes.Get(req.Symbol)
	err = b.book.Submit(o, q, now)
	switch {
	case errors.Is(err, order.ErrMissingQuote):
		_, _ = b.book.Reject(o.ID, "no quote", now)
		return o.ID, fmt.Errorf("%w: no quote for %s", broker.ErrRejected, req.Symbol)
	case err != nil && !errors.Is(err, order.ErrNoFill):
		return "", err
	}
	b.settleLocked()
	return o.ID, nil
}

func (b *Broker) affordLocked(req broker.PlaceRequest) string {
	switch req.Side {
	case order.Buy:
		q, err := b.quotes.Get(req.Symbol)
		price := req.Price
		if err == nil && q.BuyPrice() > 0 && req.Kind == order.Market {
			price = q.BuyPrice()
		}
		if price > 0 && price*req.Qty > b.cash {
			return "insufficient buying power"
		}
	case order.Sell:
		h, ok := b.holdings[req.Symbol]
		if !ok || h.Qty+1e-9 < req.Qty {
			return "insufficient holdings"
		}
	}
	return ""
}

// settleLocked moves cash and holdings for fills booked since the last call.
func (b *Broker) settleLocked() {
	for _, id := range b.ids {
		o, ok := b.book.Get(id)
		if !ok {
			continue
		}
		prev := b.booked[id]
		dq := o.FilledQty - prev.qty
		if dq <= 0 {
			continue
		}
		notional := o.FilledQty * o.FilledPrice
		dn := notional - prev.notional
		df := o.Commission - prev.fees
		b.booked[id] = booked{qty: o.FilledQty, notional: notional, fees: o.Commission}

		h := b.holdings[o.Symbol]
		if h == nil {
			h = &broker.Holding{Symbol: o.Symbol}
			b.holdings[o.Symbol] = h
		}
		switch o.Side {
		case order.Buy:
			b.cash -= dn + df
			h.AvgPrice = (h.AvgPrice*h.Qty + dn) / (h.Qty + dq)
			h.Qty += dq
		case order.Sell:
			b.cash += dn - df
			h.Qty -= dq
			if h.Qty <= 1e-9 {
				delete(b.holdings, o.Symbol)
			}
		}
	}
}

func (b *Broker) GetOrder(_ context.Context, id string) (broker.OrderStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.book.Get(id)
	if !ok {
		return broker.OrderStatus{}, fmt.Errorf("%w: order %s", broker.ErrNotFound, id)
	}
	return broker.OrderStatus{
		ID:         o.ID,
		Status:     o.Status,
		FilledQty:  o.FilledQty,
		AvgPrice:   o.FilledPrice,
		Commission: o.Commission,
		Reason:     o.Reason,
	}, nil
}

func (b *Broker) FindOrder(ctx context.Context, clientID string) (broker.OrderStatus, error) {
	b.mu.Lock()
	id, ok := b.clients[clientID]
	b.mu.Unlock()
	if !ok {
		return broker.OrderStatus{}, fmt.Errorf("%w: client order %s", broker.ErrNotFound, clientID)
	}
	return b.GetOrder(ctx, id)
}

func (b *Broker) CancelOrder(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.book.Cancel(id, b.clock.Now()); err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return fmt.Errorf("%w: order %s", broker.ErrNotFound, id)
		}
		return fmt.Errorf("%w: %v", broker.ErrRejected, err)
	}
	return nil
}

func (b *Broker) GetPositions(_ context.Context) ([]broker.Holding, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]broker.Holding, 0, len(b.holdings))
	for _, h := range b.holdings {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (b *Broker) GetBalances(_ context.Context) (broker.Balances, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	equity := b.cash
	for _, h := range b.holdings {
		price := h.AvgPrice
		if q, err := b.quotes.Get(h.Symbol); err == nil && q.Price() > 0 {
			price = q.Price()
		}
		equity += h.Qty * price
	}
	return broker.Balances{Cash: b.cash, Equity: equity, BuyingPower: b.cash}, nil
}

var (
	_ broker.OrderBroker  = (*Broker)(nil)
	_ broker.ClientLookup = (*Broker)(nil)
)
