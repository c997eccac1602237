// Package cooldown suppresses rapid re-entry into a symbol after an exit.
package cooldown

import (
	"math"
	"sort"
	"time"
)

type Reason string

const (
	OK                Reason = "OK"
	CooldownActive    Reason = "CooldownActive"
	InsufficientMove  Reason = "InsufficientMove"
	LowReentryScore   Reason = "LowReentryScore"
	ReentryCapReached Reason = "ReentryCapReached"
)

type Config struct {
	Cooldown           time.Duration `json:"cooldown" yaml:"cooldown"`
	LossCooldown       time.Duration `json:"loss_cooldown" yaml:"loss_cooldown"`
	MinMovePct         float64       `json:"min_move_pct" yaml:"min_move_pct"` // 0.007
	MinReentryScore    float64       `json:"min_reentry_score" yaml:"min_reentry_score"`
	MaxReentriesPerDay int           `json:"max_reentries_per_day" yaml:"max_reentries_per_day"` // 0 means no cap
}

func DefaultConfig() Config {
	return Config{
		Cooldown:           5 * time.Minute,
		LossCooldown:       12 * time.Minute,
		MinMovePct:         0.007,
		MinReentryScore:    70,
		MaxReentriesPerDay: 2,
	}
}

// Entry is the memory of the last exit from a symbol.
type Entry struct {
	Symbol         string    `json:"symbol"`
	ExitTime       time.Time `json:"exit_time"`
	ExitPrice      float64   `json:"exit_price"`
	WasLoss        bool      `json:"was_loss"`
	ReentriesToday int       `json:"reentries_today"`
	Day            string    `json:"day"`
}

// Controller is owned by the control loop and is not safe for concurrent use.
type Controller struct {
	cfg     Config
	dayOf   func(time.Time) string
	entries map[string]*Entry
}

// New builds a controller. dayOf maps a time to its trading-day key; nil
// uses the UTC calendar date.
func New(cfg Config, dayOf func(time.Time) string) *Controller {
	if dayOf == nil {
		dayOf = func(t time.Time) string { return t.UTC().Format("2006-01-02") }
	}
	return &Controller{cfg: cfg, dayOf: dayOf, entries: make(map[string]*Entry)}
}

func (c *Controller) RecordExit(symbol string, price float64, wasLoss bool, at time.Time) Entry {
	day := c.dayOf(at)
	e, ok := c.entries[symbol]
	if !ok || e.Day != day {
		e = &Entry{Symbol: symbol, Day: day}
		c.entries[symbol] = e
	}
	e.ExitTime = at
	e.ExitPrice = price
	e.WasLoss = wasLoss
	e.ReentriesToday++
	return *e
}

// Required is the cooldown that applies after e.
func (c *Controller) Required(e Entry) time.Duration {
	if e.WasLoss && c.cfg.LossCooldown > 0 {
		return c.cfg.LossCooldown
	}
	return c.cfg.Cooldown
}

// CanEnter reports whether symbol may be entered at price with the given
// signal score. Exits from earlier trading days do not count.
func (c *Controller) CanEnter(symbol string, price, score float64, now time.Time) (bool, Reason) {
	e, ok := c.entries[symbol]
	if !ok || e.Day != c.dayOf(now) {
		return true, OK
	}

	if now.Sub(e.ExitTime) < c.Required(*e) {
		return false, CooldownActive
	}
	if e.ExitPrice > 0 && math.Abs(price-e.ExitPrice)/e.ExitPrice < c.cfg.MinMovePct {
		return false, InsufficientMove
	}
	if e.ReentriesToday > 0 && score < c.cfg.MinReentryScore {
		return false, LowReentryScore
	}
	if c.cfg.MaxReentriesPerDay > 0 && e.ReentriesToday > c.cfg.MaxReentriesPerDay {
		return false, ReentryCapReached
	}
	return true, OK
}

// DailyReset forgets exits from days other than today.
func (c *Controller) DailyReset(today string) {
	for sym, e := range c.entries {
		if e.Day != today {
			delete(c.entries, sym)
		}
	}
}

// Restore replaces the controller's memory with saved entries.
func (c *Controller) Restore(entries []Entry) {
	c.entries = make(map[string]*Entry, len(entries))
	for _, e := range entries {
		if e.Symbol == "" {
			continue
		}
		e := e
		c.entries[e.Symbol] = &e
	}
}

func (c *Controller) Get(symbol string) (Entry, bool) {
	e, ok := c.entries[symbol]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

func (c *Controller) Snapshot() []Entry {
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
