package order

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rustyeddy/autotrader/internal/id"
	"github.com/rustyeddy/autotrader/market"
)

// Request describes an order before it exists.
type Request struct {
	Symbol     string
	Side       Side
	Kind       Kind
	Qty        float64
	LimitPrice float64
	StopPrice  float64
	TTL        time.Duration
	SignalID   string
}

// Book tracks orders for one owner. It is not safe for concurrent use; the
// control loop owns it.
type Book struct {
	sim    *Simulator // nil when fills come from a broker
	orders map[string]*Order
}

func NewBook(sim *Simulator) *Book {
	return &Book{sim: sim, orders: make(map[string]*Order)}
}

func (b *Book) Simulated() bool { return b.sim != nil }

func (b *Book) New(req Request, at time.Time) (*Order, error) {
	if req.Symbol == "" {
		return nil, errors.New("order: symbol required")
	}
	if req.Qty <= 0 {
		return nil, fmt.Errorf("order: quantity must be positive, got %v", req.Qty)
	}
	if req.Kind == "" {
		req.Kind = Market
	}
	if req.Kind == Limit && req.LimitPrice <= 0 {
		return nil, errors.New("order: limit price required")
	}
	if req.Kind == Stop && req.StopPrice <= 0 {
		return nil, errors.New("order: stop price required")
	}

	o := &Order{
		ID:         id.At(at),
		Symbol:     req.Symbol,
		Side:       req.Side,
		Kind:       req.Kind,
		Qty:        req.Qty,
		Status:     Pending,
		LimitPrice: req.LimitPrice,
		StopPrice:  req.StopPrice,
		CreatedAt:  at,
		SignalID:   req.SignalID,
	}
	if req.TTL > 0 {
		o.ExpiresAt = at.Add(req.TTL)
	}
	b.orders[o.ID] = o
	return o, nil
}

// Track adds an order restored from elsewhere.
func (b *Book) Track(o *Order) {
	b.orders[o.ID] = o
}

// Submit moves a Pending order to Submitted. In simulation a market order is
// filled on the spot from q; limit and stop orders wait for CheckPending.
// A failed immediate fill leaves the order Submitted and returns the error.
func (b *Book) Submit(o *Order, q market.Quote, at time.Time) error {
	if err := o.transition(Submitted, at); err != nil {
		return err
	}
	if b.sim == nil || o.Kind != Market {
		return nil
	}
	return b.Fill(o, q, at)
}

// Fill simulates an execution of o against q.
func (b *Book) Fill(o *Order, q market.Quote, at time.Time) error {
	if b.sim == nil {
		return errors.New("order: book has no simulator")
	}
	f, err := b.sim.SimulateFill(o, q, at)
	if err != nil {
		return err
	}
	return o.applyFill(f)
}

// ApplyFill books an externally reported execution.
func (b *Book) ApplyFill(orderID string, f Fill) (*Order, error) {
	o, ok := b.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, orderID)
	}
	return o, o.applyFill(f)
}

// CheckPending fills Submitted limit orders whose limit is crossed and
// triggers stop orders whose level is crossed. Orders for symbols missing
// from quotes are left alone. It returns the orders that filled.
func (b *Book) CheckPending(quotes map[string]market.Quote, at time.Time) []*Order {
	if b.sim == nil {
		return nil
	}
	var filled []*Order
	for _, o := range b.Open() {
		if o.Status != Submitted || o.Kind == Market {
			continue
		}
		q, ok := quotes[o.Symbol]
		if !ok || !q.Valid() {
			continue
		}

		switch o.Kind {
		case Limit:
			if !limitCrossed(o, q) {
				continue
			}
			f, err := b.sim.SimulateFill(o, q, at)
			if err != nil {
				continue
			}
			// A limit order never fills through its limit.
			if o.Side == Buy && f.Price > o.LimitPrice {
				f.Price = o.LimitPrice
			}
			if o.Side == Sell && f.Price < o.LimitPrice {
				f.Price = o.LimitPrice
			}
			if o.applyFill(f) == nil {
				filled = append(filled, o)
			}
		case Stop:
			if !o.Triggered && !stopCrossed(o, q) {
				continue
			}
			o.Triggered = true
			if b.Fill(o, q, at) == nil {
				filled = append(filled, o)
			}
		}
	}
	return filled
}

func limitCrossed(o *Order, q market.Quote) bool {
	if o.Side == Buy {
		p := q.BuyPrice()
		return p > 0 && p <= o.LimitPrice
	}
	p := q.SellPrice()
	return p > 0 && p >= o.LimitPrice
}

func stopCrossed(o *Order, q market.Quote) bool {
	p := q.Price()
	if p <= 0 {
		return false
	}
	if o.Side == Buy {
		return p >= o.StopPrice
	}
	return p <= o.StopPrice
}

func (b *Book) get(orderID string) (*Order, error) {
	o, ok := b.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, orderID)
	}
	return o, nil
}

func (b *Book) Get(orderID string) (*Order, bool) {
	o, ok := b.orders[orderID]
	return o, ok
}

// Cancel moves any non-terminal order to Cancelled.
func (b *Book) Cancel(orderID string, at time.Time) (*Order, error) {
	o, err := b.get(orderID)
	if err != nil {
		return nil, err
	}
	return o, o.transition(Cancelled, at)
}

func (b *Book) Reject(orderID, reason string, at time.Time) (*Order, error) {
	o, err := b.get(orderID)
	if err != nil {
		return nil, err
	}
	if err := o.transition(Rejected, at); err != nil {
		return o, err
	}
	o.Reason = reason
	return o, nil
}

// Expire moves a Submitted order to Expired.
func (b *Book) Expire(orderID string, at time.Time) (*Order, error) {
	o, err := b.get(orderID)
	if err != nil {
		return nil, err
	}
	return o, o.transition(Expired, at)
}

// Due returns Submitted orders whose TTL has elapsed at at.
func (b *Book) Due(at time.Time) []*Order {
	var out []*Order
	for _, o := range b.Open() {
		if o.Status == Submitted && !o.ExpiresAt.IsZero() && !at.Before(o.ExpiresAt) {
			out = append(out, o)
		}
	}
	return out
}

// Open returns non-terminal orders in creation order.
func (b *Book) Open() []*Order {
	out := make([]*Order, 0, len(b.orders))
	for _, o := range b.orders {
		if !o.Status.Terminal() {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// HasOpen reports whether symbol has a working order on side.
func (b *Book) HasOpen(symbol string, side Side) bool {
	for _, o := range b.orders {
		if o.Symbol == symbol && o.Side == side && !o.Status.Terminal() {
			return true
		}
	}
	return false
}

// Forget drops a terminal order once the caller has persisted it.
func (b *Book) Forget(orderID string) {
	if o, ok := b.orders[orderID]; ok && o.Status.Terminal() {
		delete(b.orders, orderID)
	}
}

func (b *Book) Len() int { return len(b.orders) }
