package risk

import (
	"fmt"
	"math"
	"time"
)

// Reason is the outcome of a risk check or the cause of a halt.
type Reason string

const (
	OK                      Reason = "OK"
	TradingHalted           Reason = "TradingHalted"
	MaxPositionsReached     Reason = "MaxPositionsReached"
	PositionSizeExceeded    Reason = "PositionSizeExceeded"
	InsufficientBuyingPower Reason = "InsufficientBuyingPower"
	DailyLossLimit          Reason = "DailyLossLimit"
	MaxDrawdown             Reason = "MaxDrawdown"
	ConsecutiveLosses       Reason = "ConsecutiveLosses"
	RewardRiskTooLow        Reason = "RewardRiskTooLow"
	InvalidRequest          Reason = "InvalidRequest"
)

// Check is the typed result of PreTradeCheck.
type Check struct {
	Reason   Reason
	Msg      string
	Qty      float64 // admitted quantity, possibly adjusted down
	Adjusted bool
	CapValue float64 // position-value cap applied
}

func (c Check) OK() bool { return c.Reason == OK }

func reject(r Reason, format string, args ...any) Check {
	return Check{Reason: r, Msg: fmt.Sprintf(format, args...)}
}

// Engine applies Limits. It holds no state of its own.
type Engine struct {
	limits Limits
}

func NewEngine(l Limits) *Engine {
	return &Engine{limits: l}
}

func (e *Engine) Limits() Limits { return e.limits }

// HardCapPct is the share of equity a single position may take.
func (e *Engine) HardCapPct(equity float64) float64 {
	if e.limits.SmallAccountThreshold > 0 && equity < e.limits.SmallAccountThreshold && e.limits.SmallAccountPct > 0 {
		return e.limits.SmallAccountPct
	}
	return e.limits.MaxPositionPct
}

// CapValue is min(risk-based cap, hard cap) for a request, in account
// currency.
func (e *Engine) CapValue(req Request, equity float64) float64 {
	capValue := math.Inf(1)
	if pct := e.HardCapPct(equity); pct > 0 {
		capValue = pct * equity
	}
	if e.limits.MaxRiskPerTradePct > 0 && req.StopLoss > 0 && req.StopLoss < req.Price {
		budget := e.limits.MaxRiskPerTradePct * equity
		maxQty := budget / (req.Price - req.StopLoss)
		if v := maxQty * req.Price; v < capValue {
			capValue = v
		}
	}
	return capValue
}

const capEpsilon = 1e-6

// PreTradeCheck runs the admission checks in order and returns the first
// failure. An oversize request is resized once to fit the cap and
// re-checked before it is rejected.
func (e *Engine) PreTradeCheck(req Request, st *State) Check {
	if req.Qty <= 0 || req.Price <= 0 {
		return reject(InvalidRequest, "qty %v price %v", req.Qty, req.Price)
	}

	if st.Halted {
		return reject(TradingHalted, "trading halted: %s", st.HaltReason)
	}

	if e.limits.MaxOpenPositions > 0 && st.OpenPositions >= e.limits.MaxOpenPositions {
		return reject(MaxPositionsReached, "open positions %d >= max %d", st.OpenPositions, e.limits.MaxOpenPositions)
	}

	c := Check{Reason: OK, Qty: req.Qty}
	c.CapValue = e.CapValue(req, st.Equity)
	if c.Qty*req.Price > c.CapValue+capEpsilon {
		adjusted := floorLot(c.CapValue/req.Price, e.limits.LotSize)
		if adjusted <= 0 || adjusted*req.Price > c.CapValue+capEpsilon {
			return reject(PositionSizeExceeded, "%s value %.2f exceeds cap %.2f and cannot be resized",
				req.Symbol, req.Qty*req.Price, c.CapValue)
		}
		c.Qty = adjusted
		c.Adjusted = true
	}

	if cost := c.Qty * req.Price; cost > st.Cash+capEpsilon {
		return reject(InsufficientBuyingPower, "cost %.2f exceeds buying power %.2f", cost, st.Cash)
	}

	if e.dailyLossBreached(st) {
		return reject(DailyLossLimit, "daily P&L %.2f (%.2f%%) at limit", st.DailyPL, 100*st.DailyPLPct)
	}

	if e.limits.MinRewardRisk > 0 && req.StopLoss > 0 && req.TakeProfit > 0 {
		if rr := RR(req.Price, req.StopLoss, req.TakeProfit); rr < e.limits.MinRewardRisk {
			return reject(RewardRiskTooLow, "RR %.2f below minimum %.2f", rr, e.limits.MinRewardRisk)
		}
	}

	return c
}

func (e *Engine) dailyLossBreached(st *State) bool {
	if e.limits.MaxDailyLoss > 0 && st.DailyPL <= -e.limits.MaxDailyLoss {
		return true
	}
	return e.limits.MaxDailyLossPct > 0 && st.DailyPLPct <= -e.limits.MaxDailyLossPct
}

// UpdateState revalues the state at equity and trips the drawdown and daily
// loss breakers. It returns the reason only when this call tripped a halt.
func (e *Engine) UpdateState(st *State, equity, unrealized float64, at time.Time) Reason {
	st.Equity = equity
	st.UnrealizedPL = unrealized
	st.DailyPL = equity - st.DayStartEquity
	if st.DayStartEquity > 0 {
		st.DailyPLPct = st.DailyPL / st.DayStartEquity
	}
	if equity > st.PeakEquity {
		st.PeakEquity = equity
	}
	if st.PeakEquity > 0 {
		st.DrawdownPct = (equity - st.PeakEquity) / st.PeakEquity
	}

	if st.Halted {
		return OK
	}
	if e.limits.MaxDrawdownPct > 0 && st.DrawdownPct <= -e.limits.MaxDrawdownPct {
		st.halt(MaxDrawdown, at)
		return MaxDrawdown
	}
	if e.dailyLossBreached(st) {
		st.halt(DailyLossLimit, at)
		return DailyLossLimit
	}
	return OK
}

// RecordTradeOutcome updates the loss streak with a closed trade's net P&L.
func (e *Engine) RecordTradeOutcome(st *State, pnl float64, at time.Time) Reason {
	st.RealizedPL += pnl
	if pnl < 0 {
		st.ConsecutiveLosses++
	} else {
		st.ConsecutiveLosses = 0
	}

	limit := e.limits.MaxConsecutiveLosses
	if limit > 0 && st.ConsecutiveLosses >= limit && !st.Halted {
		st.halt(ConsecutiveLosses, at)
		return ConsecutiveLosses
	}
	return OK
}

// DailyReset starts a new trading day. Peak and drawdown carry over.
func (e *Engine) DailyReset(st *State, equity float64) {
	st.DayStartEquity = equity
	st.Equity = equity
	st.DailyPL = 0
	st.DailyPLPct = 0
	st.RealizedPL = 0
	st.ConsecutiveLosses = 0
	st.Halted = false
	st.HaltReason = ""
	st.HaltedAt = time.Time{}
}

// Resume clears a halt on operator request and rebases whichever measure
// tripped it so the next UpdateState does not trip it again immediately.
func (e *Engine) Resume(st *State) Reason {
	if !st.Halted {
		return OK
	}
	was := st.HaltReason
	switch was {
	case MaxDrawdown:
		st.PeakEquity = st.Equity
		st.DrawdownPct = 0
	case DailyLossLimit:
		st.DayStartEquity = st.Equity
		st.DailyPL = 0
		st.DailyPLPct = 0
	case ConsecutiveLosses:
		st.ConsecutiveLosses = 0
	}
	st.Halted = false
	st.HaltReason = ""
	st.HaltedAt = time.Time{}
	return was
}
