// Package executor runs the trading control loop: one cycle at a fixed
// cadence that refreshes quotes, works exits, re-evaluates the circuit
// breakers and, when everything is clear, admits new entries.
//
// All mutable trading state lives in ExecutorState and is touched only by
// the goroutine that calls RunCycle. Other goroutines see it through
// Status, which returns a copy.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/logs"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/cooldown"
	"github.com/rustyeddy/autotrader/internal/clock"
	"github.com/rustyeddy/autotrader/internal/retry"
	"github.com/rustyeddy/autotrader/journal"
	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/notify"
	"github.com/rustyeddy/autotrader/order"
	"github.com/rustyeddy/autotrader/risk"
	"github.com/rustyeddy/autotrader/signal"
	"github.com/rustyeddy/autotrader/status"
)

var (
	ErrInvariant              = errors.New("executor: invariant violated")
	ErrReconciliationMismatch = errors.New("executor: broker positions do not match journal")
	ErrStopped                = errors.New("executor: stopped")
)

type Mode string

const (
	Paper Mode = "paper"
	Live  Mode = "live"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case Paper, Live:
		return m, nil
	case "":
		return Paper, nil
	}
	return "", fmt.Errorf("unknown mode %q (want paper|live)", s)
}

type State string

const (
	Idle    State = "idle"
	Running State = "running"
	Halted  State = "halted"
	Stopped State = "stopped"
)

type Config struct {
	Mode     Mode
	Interval time.Duration
	Universe []string

	EntryKind     order.Kind
	OrderTTL      time.Duration // resting limit entries
	FillTimeout   time.Duration // market orders, and the shutdown wait
	PollInterval  time.Duration // broker polling during shutdown
	SignalTimeout time.Duration

	// Defaults for plans without their own levels.
	StopLossPct     float64
	TakeProfitPct   float64
	TrailingStopPct float64
	MaxHold         time.Duration

	LotSize      float64
	StartingCash float64 // paper mode, first run
}

func (c *Config) defaults() {
	if c.Mode == "" {
		c.Mode = Paper
	}
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.EntryKind == "" {
		c.EntryKind = order.Market
	}
	if c.OrderTTL <= 0 {
		c.OrderTTL = 5 * time.Minute
	}
	if c.FillTimeout <= 0 {
		c.FillTimeout = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.SignalTimeout <= 0 {
		c.SignalTimeout = 5 * time.Second
	}
	if c.StopLossPct <= 0 {
		c.StopLossPct = 0.05
	}
	if c.TakeProfitPct <= 0 {
		c.TakeProfitPct = 0.10
	}
}

// Deps are the collaborators the loop talks to.
type Deps struct {
	Quotes    *market.Fetcher
	Signals   signal.Source
	Broker    broker.OrderBroker // live mode
	Simulator *order.Simulator   // paper mode
	Repo      journal.Repository
	Notifier  notify.Notifier
	Publisher status.Publisher
	Session   market.Session
	Clock     clock.Clock
	Limits    risk.Limits
	Cooldown  cooldown.Config
	Retry     retry.Policy
}

type Executor struct {
	cfg     Config
	deps    Deps
	risk    *risk.Engine
	policy  retry.Policy
	session string

	state   *ExecutorState
	started bool

	stopCh   chan struct{}
	stopOnce sync.Once
	resumeCh chan struct{}

	mu   sync.Mutex
	snap status.Snapshot
}

func New(cfg Config, deps Deps) (*Executor, error) {
	cfg.defaults()

	if deps.Quotes == nil {
		return nil, errors.New("executor: quote fetcher is required")
	}
	switch cfg.Mode {
	case Paper:
		if deps.Simulator == nil {
			deps.Simulator = order.NewSimulator(order.SimConfig{LotSize: cfg.LotSize})
		}
	case Live:
		if deps.Broker == nil {
			return nil, errors.New("executor: live mode needs a broker")
		}
		deps.Simulator = nil
	default:
		return nil, fmt.Errorf("executor: unknown mode %q", cfg.Mode)
	}
	if cfg.EntryKind != order.Market && cfg.EntryKind != order.Limit {
		return nil, fmt.Errorf("executor: entries must be market or limit orders, got %q", cfg.EntryKind)
	}
	if deps.Signals == nil {
		deps.Signals = signal.Static(nil)
	}
	if deps.Repo == nil {
		deps.Repo = journal.NewMemory()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Session.Location == nil {
		deps.Session = market.DefaultSession()
	}
	if deps.Retry.Attempts == 0 {
		deps.Retry = retry.Default("broker")
	}

	policy := deps.Retry
	if deps.Broker != nil {
		policy = broker.Policy(policy, deps.Broker)
	}

	e := &Executor{
		cfg:      cfg,
		deps:     deps,
		risk:     risk.NewEngine(deps.Limits),
		policy:   policy,
		session:  uuid.NewString(),
		stopCh:   make(chan struct{}),
		resumeCh: make(chan struct{}, 1),
	}
	e.state = newState(cfg, deps)
	e.snap = e.snapshot(deps.Clock.Now())
	return e, nil
}

func (e *Executor) SessionID() string { return e.session }

// Stop asks the loop to liquidate and exit at the top of the next cycle.
func (e *Executor) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

func (e *Executor) stopRequested() bool {
	select {
	case <-e.stopCh:
		return true
	default:
		return false
	}
}

// Resume clears a halt at the top of the next cycle.
func (e *Executor) Resume() {
	select {
	case e.resumeCh <- struct{}{}:
	default:
	}
}

// Status returns the snapshot published by the last cycle.
func (e *Executor) Status() status.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap.Clone()
}

// Run starts the executor if needed and drives RunCycle every Interval
// until Stop is called or ctx is cancelled. Either way open positions are
// liquidated before Run returns.
func (e *Executor) Run(ctx context.Context) error {
	if !e.started {
		if err := e.Start(ctx); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	logs.Infof("executor %s running in %s mode every %s", e.session, e.cfg.Mode, e.cfg.Interval)
	for {
		if err := e.RunCycle(ctx); err != nil {
			if errors.Is(err, ErrStopped) {
				return nil
			}
			logs.Errorf("cycle %d: %v", e.state.Cycle, err)
		}

		select {
		case <-ctx.Done():
			e.Stop()
			err := e.RunCycle(context.WithoutCancel(ctx))
			if errors.Is(err, ErrStopped) {
				return nil
			}
			return err
		case <-e.stopCh:
		case <-ticker.C:
		}
	}
}

func (e *Executor) notify(sev notify.Severity, cat notify.Category, msg string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	data["session"] = e.session
	data["mode"] = string(e.cfg.Mode)
	e.deps.Notifier.Notify(sev, cat, msg, data)
}

// invariant reports a violated invariant. The affected action is abandoned
// and the cycle carries on.
func (e *Executor) invariant(err error) error {
	err = fmt.Errorf("%w: %v", ErrInvariant, err)
	logs.Errorf("%v", err)
	e.notify(notify.Critical, notify.SystemError, err.Error(), nil)
	e.state.cycleErr = errors.Join(e.state.cycleErr, err)
	return err
}
