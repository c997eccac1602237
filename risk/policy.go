package risk

import "time"

// Limits are the account-level risk settings. Percentages are fractions.
type Limits struct {
	MaxOpenPositions int // 5

	// Hard position-value cap as a share of equity. Accounts below
	// SmallAccountThreshold use SmallAccountPct instead.
	MaxPositionPct        float64 // 0.20
	SmallAccountThreshold float64 // 250
	SmallAccountPct       float64 // 0.25

	// Risk-based cap: the loss at the stop may not exceed this share of
	// equity. Zero disables it.
	MaxRiskPerTradePct float64 // 0.02

	// Circuit breakers; zero disables each one.
	MaxDailyLoss         float64 // absolute, account currency
	MaxDailyLossPct      float64 // 0.08
	MaxDrawdownPct       float64 // 0.15
	MaxConsecutiveLosses int     // 3

	MinRewardRisk float64 // optional, 0 disables
	LotSize       float64 // 1 for whole shares
}

func DefaultLimits() Limits {
	return Limits{
		MaxOpenPositions:      5,
		MaxPositionPct:        0.20,
		SmallAccountThreshold: 250,
		SmallAccountPct:       0.25,
		MaxRiskPerTradePct:    0.02,
		MaxDailyLossPct:       0.08,
		MaxDrawdownPct:        0.15,
		MaxConsecutiveLosses:  3,
		LotSize:               1,
	}
}

// State is the running risk picture. The executor owns it; the engine
// mutates it in place.
type State struct {
	SessionStartEquity float64 `json:"session_start_equity"`
	DayStartEquity     float64 `json:"day_start_equity"`
	Equity             float64 `json:"equity"`
	Cash               float64 `json:"cash"` // buying power
	PeakEquity         float64 `json:"peak_equity"`

	RealizedPL   float64 `json:"realized_pl"` // today
	UnrealizedPL float64 `json:"unrealized_pl"`
	DailyPL      float64 `json:"daily_pl"`
	DailyPLPct   float64 `json:"daily_pl_pct"`
	DrawdownPct  float64 `json:"drawdown_pct"` // <= 0

	OpenPositions     int `json:"open_positions"`
	ConsecutiveLosses int `json:"consecutive_losses"`

	Halted     bool      `json:"halted"`
	HaltReason Reason    `json:"halt_reason,omitempty"`
	HaltedAt   time.Time `json:"halted_at,omitempty"`
}

func NewState(equity, cash float64) *State {
	return &State{
		SessionStartEquity: equity,
		DayStartEquity:     equity,
		Equity:             equity,
		Cash:               cash,
		PeakEquity:         equity,
	}
}

func (s *State) halt(r Reason, at time.Time) {
	s.Halted = true
	s.HaltReason = r
	s.HaltedAt = at
}

// Request is a proposed long entry.
type Request struct {
	Symbol     string
	Qty        float64
	Price      float64
	StopLoss   float64
	TakeProfit float64
}
