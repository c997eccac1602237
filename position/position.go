package position

import (
	"errors"
	"time"
)

type ExitReason string

const (
	None            ExitReason = ""
	StopLoss        ExitReason = "StopLoss"
	TakeProfit      ExitReason = "TakeProfit"
	TrailingStop    ExitReason = "TrailingStop"
	MaxHoldExceeded ExitReason = "MaxHoldExceeded"

	// Liquidation reasons used outside evaluateExit.
	Halted ExitReason = "Halted"
	Manual ExitReason = "Manual"
)

var (
	ErrDuplicateSymbol = errors.New("position: symbol already open")
	ErrPositionLimit   = errors.New("position: open position limit reached")
	ErrNotFound        = errors.New("position: not found")
	ErrInvalidLevels   = errors.New("position: stop-loss < entry < take-profit required")
	ErrInvalidQuantity = errors.New("position: invalid quantity")
)

// Position is a long holding in one symbol.
type Position struct {
	Symbol     string    `json:"symbol"`
	Qty        float64   `json:"qty"`
	EntryPrice float64   `json:"entry_price"`
	EntryTime  time.Time `json:"entry_time"`

	StopLoss     float64       `json:"stop_loss"`
	TakeProfit   float64       `json:"take_profit"`
	TrailingPct  float64       `json:"trailing_pct"`
	TrailingStop float64       `json:"trailing_stop"`
	HighestPrice float64       `json:"highest_price"`
	MaxHold      time.Duration `json:"max_hold"`

	CurrentPrice  float64   `json:"current_price"`
	UnrealizedPL  float64   `json:"unrealized_pl"`
	UnrealizedPct float64   `json:"unrealized_pct"`
	UpdatedAt     time.Time `json:"updated_at"`

	// Accumulated over partial exits.
	RealizedPL float64 `json:"realized_pl"`
	Fees       float64 `json:"fees"`

	SignalID string `json:"signal_id,omitempty"`
}

func (p Position) MarketValue() float64 { return p.Qty * p.CurrentPrice }

func (p Position) CostBasis() float64 { return p.Qty * p.EntryPrice }

func (p *Position) revalue(price float64, at time.Time) {
	p.CurrentPrice = price
	p.UnrealizedPL = (price - p.EntryPrice) * p.Qty
	if p.EntryPrice > 0 {
		p.UnrealizedPct = (price - p.EntryPrice) / p.EntryPrice
	}
	p.UpdatedAt = at
}

// Exit is how a position is closed.
type Exit struct {
	Price  float64
	Reason ExitReason
	At     time.Time
	Fees   float64
}

// Closed is the result of closing a position.
type Closed struct {
	Position     Position
	ExitPrice    float64
	ExitTime     time.Time
	Reason       ExitReason
	RealizedPL   float64 // net of all fees, includes earlier partial exits
	HoldDuration time.Duration
}

func (c Closed) WasLoss() bool { return c.RealizedPL < 0 }
