package executor

import (
	"time"

	"github.com/rustyeddy/autotrader/cooldown"
	"github.com/rustyeddy/autotrader/order"
	"github.com/rustyeddy/autotrader/position"
	"github.com/rustyeddy/autotrader/risk"
)

// ExecutorState is everything the loop mutates. It is owned by the loop
// goroutine and never shared.
type ExecutorState struct {
	State State
	Cash  float64 // settled cash, before reservations for working buys

	Ledger   *position.Ledger
	Orders   *order.Book
	Risk     *risk.State
	Cooldown *cooldown.Controller

	Day   string // trading-day key of the last cycle
	Cycle int64

	PricesFromCache bool
	Stale           []string

	Liquidating       bool
	LiquidationReason position.ExitReason

	intents map[string]*intent
	exited  map[string]bool // symbols closed during the current cycle

	// pendingExits holds the reason of an exit that filled only in part.
	// The remainder is sold for that reason whatever the price does next.
	pendingExits map[string]position.ExitReason

	feedDegraded bool
	dayTrades    int
	dayPL        float64

	cycleErr error
}

// intent is what the loop meant to do with an order.
type intent struct {
	Entry      bool
	StopLoss   float64
	TakeProfit float64
	MaxHold    time.Duration
	Score      float64

	Exit position.ExitReason

	cancelRequested bool

	// unresolved marks an order whose placement failed without a clear
	// refusal; lookups counts the broker searches that did not find it.
	unresolved bool
	lookups    int
}

func newState(cfg Config, deps Deps) *ExecutorState {
	return &ExecutorState{
		State:    Idle,
		Ledger:   position.NewLedger(deps.Limits.MaxOpenPositions, cfg.TrailingStopPct),
		Orders:   order.NewBook(deps.Simulator),
		Risk:     risk.NewState(cfg.StartingCash, cfg.StartingCash),
		Cooldown: cooldown.New(deps.Cooldown, deps.Session.Day),
		Cash:     cfg.StartingCash,
		intents:  make(map[string]*intent),
		exited:   make(map[string]bool),

		pendingExits: make(map[string]position.ExitReason),
	}
}

// reserved is the cash committed to working buy orders.
func (s *ExecutorState) reserved(prices map[string]float64) float64 {
	var v float64
	for _, o := range s.Orders.Open() {
		if o.Side != order.Buy {
			continue
		}
		p := o.LimitPrice
		if p <= 0 {
			p = prices[o.Symbol]
		}
		v += o.Remaining() * p
	}
	return v
}

func (s *ExecutorState) openBuys() int {
	n := 0
	for _, o := range s.Orders.Open() {
		if o.Side == order.Buy {
			n++
		}
	}
	return n
}

func (s *ExecutorState) equity() float64 {
	return s.Cash + s.Ledger.MarketValue()
}
