package journal

import (
	"context"
	"errors"
	"time"

	"github.com/rustyeddy/autotrader/cooldown"
	"github.com/rustyeddy/autotrader/order"
	"github.com/rustyeddy/autotrader/position"
)

var ErrNotFound = errors.New("journal: not found")

// TradeRecord is one closed round trip.
type TradeRecord struct {
	TradeID    string
	Symbol     string
	Qty        float64
	EntryPrice float64
	ExitPrice  float64
	OpenTime   time.Time
	CloseTime  time.Time
	RealizedPL float64 // net of fees
	Fees       float64
	Reason     string
	SignalID   string
	Mode       string
	Meta       map[string]any
}

// EquitySnapshot is one point on the equity curve.
type EquitySnapshot struct {
	Time          time.Time
	Cash          float64
	Equity        float64
	RealizedPL    float64
	UnrealizedPL  float64
	DrawdownPct   float64
	OpenPositions int
}

// RiskRecord is the circuit-breaker and re-entry state that must survive a
// restart. There is a single record; each save replaces it.
type RiskRecord struct {
	Day                string // trading-day key the record belongs to
	SessionStartEquity float64
	DayStartEquity     float64
	PeakEquity         float64
	RealizedPL         float64
	ConsecutiveLosses  int
	Halted             bool
	HaltReason         string
	HaltedAt           time.Time
	Cooldown           []cooldown.Entry
	PendingExits       map[string]string // symbol to exit reason of a partly filled exit
	UpdatedAt          time.Time
}

// Repository is durable storage for the executor's state.
type Repository interface {
	SavePosition(ctx context.Context, p position.Position) error
	DeletePosition(ctx context.Context, symbol string) error
	SaveOrder(ctx context.Context, o order.Order) error
	AppendTradeHistory(ctx context.Context, t TradeRecord) error
	LoadOpenPositions(ctx context.Context) ([]position.Position, error)
	RecordEquity(ctx context.Context, e EquitySnapshot) error
	LastEquity(ctx context.Context) (EquitySnapshot, error)
	SaveRiskState(ctx context.Context, r RiskRecord) error
	// LoadRiskState returns ErrNotFound until the first save.
	LoadRiskState(ctx context.Context) (RiskRecord, error)
	Close() error
}

// History is the read side used by reporting commands.
type History interface {
	GetTrade(ctx context.Context, tradeID string) (TradeRecord, error)
	ListTradesClosedBetween(ctx context.Context, start, end time.Time) ([]TradeRecord, error)
}
