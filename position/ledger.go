package position

import (
	"fmt"
	"sort"
	"time"
)

// OpenRequest carries the confirmed entry fill.
type OpenRequest struct {
	Symbol     string
	Qty        float64
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	At         time.Time
	MaxHold    time.Duration
	Fees       float64
	SignalID   string
}

// Ledger owns every open position. The control loop is its only writer.
type Ledger struct {
	max         int
	trailingPct float64
	positions   map[string]*Position
}

func NewLedger(maxOpen int, trailingPct float64) *Ledger {
	return &Ledger{
		max:         maxOpen,
		trailingPct: trailingPct,
		positions:   make(map[string]*Position),
	}
}

func (l *Ledger) Max() int { return l.max }

func (l *Ledger) Len() int { return len(l.positions) }

func (l *Ledger) Has(symbol string) bool {
	_, ok := l.positions[symbol]
	return ok
}

func (l *Ledger) Open(req OpenRequest) (Position, error) {
	if _, ok := l.positions[req.Symbol]; ok {
		return Position{}, fmt.Errorf("%w: %s", ErrDuplicateSymbol, req.Symbol)
	}
	if l.max > 0 && len(l.positions) >= l.max {
		return Position{}, fmt.Errorf("%w: %d", ErrPositionLimit, l.max)
	}
	if req.Qty <= 0 {
		return Position{}, fmt.Errorf("%w: %v", ErrInvalidQuantity, req.Qty)
	}
	if !(req.StopLoss < req.EntryPrice && req.EntryPrice < req.TakeProfit) {
		return Position{}, fmt.Errorf("%w: %s stop=%.4f entry=%.4f target=%.4f",
			ErrInvalidLevels, req.Symbol, req.StopLoss, req.EntryPrice, req.TakeProfit)
	}

	p := &Position{
		Symbol:       req.Symbol,
		Qty:          req.Qty,
		EntryPrice:   req.EntryPrice,
		EntryTime:    req.At,
		StopLoss:     req.StopLoss,
		TakeProfit:   req.TakeProfit,
		TrailingPct:  l.trailingPct,
		HighestPrice: req.EntryPrice,
		MaxHold:      req.MaxHold,
		Fees:         req.Fees,
		SignalID:     req.SignalID,
	}
	if l.trailingPct > 0 {
		p.TrailingStop = req.EntryPrice * (1 - l.trailingPct)
	}
	p.revalue(req.EntryPrice, req.At)

	l.positions[req.Symbol] = p
	return *p, nil
}

// Restore reinstates a persisted position, enforcing the same uniqueness and
// capacity rules as Open.
func (l *Ledger) Restore(p Position) error {
	if _, ok := l.positions[p.Symbol]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSymbol, p.Symbol)
	}
	if l.max > 0 && len(l.positions) >= l.max {
		return fmt.Errorf("%w: %d", ErrPositionLimit, l.max)
	}
	if p.Qty <= 0 {
		return fmt.Errorf("%w: %s qty %v", ErrInvalidQuantity, p.Symbol, p.Qty)
	}
	if p.HighestPrice < p.EntryPrice {
		p.HighestPrice = p.EntryPrice
	}
	if p.TrailingPct == 0 {
		p.TrailingPct = l.trailingPct
	}
	if p.CurrentPrice == 0 {
		p.CurrentPrice = p.EntryPrice
	}
	cp := p
	l.positions[p.Symbol] = &cp
	return nil
}

// MarkToMarket revalues the position at price and ratchets the trailing stop
// on a new high. The trailing stop never moves down.
func (l *Ledger) MarkToMarket(symbol string, price float64, at time.Time) (Position, error) {
	p, ok := l.positions[symbol]
	if !ok {
		return Position{}, fmt.Errorf("%w: %s", ErrNotFound, symbol)
	}
	if price <= 0 {
		return *p, fmt.Errorf("position: invalid price %v for %s", price, symbol)
	}

	p.revalue(price, at)
	if price > p.HighestPrice {
		p.HighestPrice = price
		if p.TrailingPct > 0 {
			if ts := price * (1 - p.TrailingPct); ts > p.TrailingStop {
				p.TrailingStop = ts
			}
		}
	}
	return *p, nil
}

// EvaluateExit checks the exit triggers in priority order against the last
// marked price. It does not mutate the ledger.
func (l *Ledger) EvaluateExit(symbol string, now time.Time) (ExitReason, error) {
	p, ok := l.positions[symbol]
	if !ok {
		return None, fmt.Errorf("%w: %s", ErrNotFound, symbol)
	}
	price := p.CurrentPrice

	switch {
	case price <= p.StopLoss:
		return StopLoss, nil
	case price >= p.TakeProfit:
		return TakeProfit, nil
	case p.TrailingStop > 0 && price <= p.TrailingStop:
		return TrailingStop, nil
	case p.MaxHold > 0 && now.Sub(p.EntryTime) >= p.MaxHold:
		return MaxHoldExceeded, nil
	}
	return None, nil
}

// Reduce books a partial exit of qty at price. Closing the whole quantity
// must go through Close.
func (l *Ledger) Reduce(symbol string, qty, price, fees float64, at time.Time) (Position, error) {
	p, ok := l.positions[symbol]
	if !ok {
		return Position{}, fmt.Errorf("%w: %s", ErrNotFound, symbol)
	}
	if qty <= 0 || qty >= p.Qty {
		return *p, fmt.Errorf("%w: reduce %s by %v of %v", ErrInvalidQuantity, symbol, qty, p.Qty)
	}

	p.RealizedPL += (price - p.EntryPrice) * qty
	p.Fees += fees
	p.Qty -= qty
	p.revalue(price, at)
	return *p, nil
}

// Close removes the position and reports the net realized P&L over its life.
func (l *Ledger) Close(symbol string, exit Exit) (Closed, error) {
	p, ok := l.positions[symbol]
	if !ok {
		return Closed{}, fmt.Errorf("%w: %s", ErrNotFound, symbol)
	}
	delete(l.positions, symbol)

	gross := p.RealizedPL + (exit.Price-p.EntryPrice)*p.Qty
	p.Fees += exit.Fees
	p.revalue(exit.Price, exit.At)

	return Closed{
		Position:     *p,
		ExitPrice:    exit.Price,
		ExitTime:     exit.At,
		Reason:       exit.Reason,
		RealizedPL:   gross - p.Fees,
		HoldDuration: exit.At.Sub(p.EntryTime),
	}, nil
}

func (l *Ledger) Get(symbol string) (Position, bool) {
	p, ok := l.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Snapshot returns copies of all positions ordered by symbol.
func (l *Ledger) Snapshot() []Position {
	out := make([]Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (l *Ledger) Symbols() []string {
	out := make([]string, 0, len(l.positions))
	for sym := range l.positions {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func (l *Ledger) MarketValue() float64 {
	var v float64
	for _, p := range l.positions {
		v += p.MarketValue()
	}
	return v
}

func (l *Ledger) UnrealizedPL() float64 {
	var v float64
	for _, p := range l.positions {
		v += p.UnrealizedPL
	}
	return v
}
