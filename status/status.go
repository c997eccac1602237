// Package status publishes executor snapshots to dashboards.
package status

import (
	"context"
	"time"
)

type PositionView struct {
	Symbol        string    `json:"symbol"`
	Qty           float64   `json:"qty"`
	EntryPrice    float64   `json:"entry_price"`
	CurrentPrice  float64   `json:"current_price"`
	StopLoss      float64   `json:"stop_loss"`
	TakeProfit    float64   `json:"take_profit"`
	TrailingStop  float64   `json:"trailing_stop"`
	UnrealizedPL  float64   `json:"unrealized_pl"`
	UnrealizedPct float64   `json:"unrealized_pct"`
	EntryTime     time.Time `json:"entry_time"`
}

type Breakers struct {
	Halted            bool    `json:"halted"`
	Reason            string  `json:"reason,omitempty"`
	DrawdownPct       float64 `json:"drawdown_pct"`
	DailyPL           float64 `json:"daily_pl"`
	DailyPLPct        float64 `json:"daily_pl_pct"`
	ConsecutiveLosses int     `json:"consecutive_losses"`
}

type Feed struct {
	PricesFromCache bool     `json:"prices_from_cache"`
	StaleSymbols    []string `json:"stale_symbols,omitempty"`
}

type Snapshot struct {
	Session       string         `json:"session"`
	Mode          string         `json:"mode"`
	State         string         `json:"state"`
	Equity        float64        `json:"equity"`
	Cash          float64        `json:"cash"`
	RealizedPL    float64        `json:"realized_pl"`
	UnrealizedPL  float64        `json:"unrealized_pl"`
	OpenPositions int            `json:"open_positions"`
	OpenOrders    int            `json:"open_orders"`
	Positions     []PositionView `json:"positions"`
	Breakers      Breakers       `json:"breakers"`
	Feed          Feed           `json:"feed"`
	Cycle         int64          `json:"cycle"`
	Time          time.Time      `json:"time"`
}

// Clone returns a copy that shares no slices with s.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Positions = append([]PositionView(nil), s.Positions...)
	out.Feed.StaleSymbols = append([]string(nil), s.Feed.StaleSymbols...)
	return out
}

type Publisher interface {
	Publish(ctx context.Context, s Snapshot) error
}

// Multi publishes to every publisher and returns the first error.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, s Snapshot) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, s); err != nil && first == nil {
			first = err
		}
	}
	return first
}
