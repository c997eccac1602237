package order

import (
	"errors"
	"fmt"
	"time"
)

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

type Kind string

const (
	Market Kind = "market"
	Limit  Kind = "limit"
	Stop   Kind = "stop"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case Market, Limit, Stop:
		return k, nil
	case "":
		return Market, nil
	}
	return "", fmt.Errorf("unknown order kind %q", s)
}

type Status string

const (
	Pending         Status = "pending"
	Submitted       Status = "submitted"
	PartiallyFilled Status = "partially_filled"
	Filled          Status = "filled"
	Cancelled       Status = "cancelled"
	Rejected        Status = "rejected"
	Expired         Status = "expired"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s != Pending && s != Submitted
}

var (
	ErrMissingQuote      = errors.New("order: no usable quote")
	ErrAlreadyTerminal   = errors.New("order: already terminal")
	ErrInvalidTransition = errors.New("order: invalid transition")
	ErrNoFill            = errors.New("order: no fill")
	ErrOverfill          = errors.New("order: fill exceeds requested quantity")
	ErrNotFound          = errors.New("order: not found")
)

type Order struct {
	ID       string  `json:"id"`
	BrokerID string  `json:"broker_id,omitempty"`
	Symbol   string  `json:"symbol"`
	Side     Side    `json:"side"`
	Kind     Kind    `json:"kind"`
	Qty      float64 `json:"qty"`
	Status   Status  `json:"status"`

	LimitPrice float64 `json:"limit_price,omitempty"`
	StopPrice  float64 `json:"stop_price,omitempty"`
	Triggered  bool    `json:"triggered,omitempty"` // stop level crossed

	FilledQty   float64 `json:"filled_qty"`
	FilledPrice float64 `json:"filled_price"` // volume-weighted
	Commission  float64 `json:"commission"`

	CreatedAt   time.Time `json:"created_at"`
	SubmittedAt time.Time `json:"submitted_at,omitempty"`
	FilledAt    time.Time `json:"filled_at,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
	ClosedAt    time.Time `json:"closed_at,omitempty"`

	SignalID string `json:"signal_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

func (o *Order) Remaining() float64 {
	return o.Qty - o.FilledQty
}

func (o *Order) Notional() float64 {
	return o.FilledQty * o.FilledPrice
}

var transitions = map[Status][]Status{
	Pending:   {Submitted, Cancelled, Rejected},
	Submitted: {PartiallyFilled, Filled, Cancelled, Rejected, Expired},
}

func (o *Order) transition(to Status, at time.Time) error {
	if o.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, o.ID, o.Status)
	}
	for _, s := range transitions[o.Status] {
		if s == to {
			o.Status = to
			if to == Submitted {
				o.SubmittedAt = at
			}
			if to.Terminal() {
				o.ClosedAt = at
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
}

// Fill is one execution against an order.
type Fill struct {
	Qty        float64
	Price      float64
	Commission float64
	At         time.Time
}

// applyFill books f against a Submitted order. A partial fill ends the order
// as PartiallyFilled; the remainder needs a new order.
func (o *Order) applyFill(f Fill) error {
	if o.Status != Submitted {
		if o.Status.Terminal() {
			return fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, o.ID, o.Status)
		}
		return fmt.Errorf("%w: fill on %s order", ErrInvalidTransition, o.Status)
	}
	if f.Qty <= 0 || f.Price <= 0 {
		return ErrNoFill
	}
	if o.FilledQty+f.Qty > o.Qty+1e-9 {
		return fmt.Errorf("%w: %s filled %.4f + %.4f > %.4f", ErrOverfill, o.ID, o.FilledQty, f.Qty, o.Qty)
	}

	total := o.FilledQty + f.Qty
	o.FilledPrice = (o.FilledPrice*o.FilledQty + f.Price*f.Qty) / total
	o.FilledQty = total
	o.Commission += f.Commission
	o.FilledAt = f.At

	to := Filled
	if o.Remaining() > 1e-9 {
		to = PartiallyFilled
	}
	return o.transition(to, f.At)
}
