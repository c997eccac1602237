// Package notify delivers operator alerts without blocking the trading loop.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type Severity int

const (
	Info Severity = iota
	Warning
	Critical
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Critical:
		return "critical"
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return Info, nil
	case "warning", "warn":
		return Warning, nil
	case "critical", "crit":
		return Critical, nil
	}
	return Info, fmt.Errorf("unknown severity %q", s)
}

type Category string

const (
	PositionOpened Category = "position_opened"
	PositionClosed Category = "position_closed"
	StopHit        Category = "stop_hit"
	TargetHit      Category = "target_hit"
	RiskBreach     Category = "risk_breach"
	TradingHalted  Category = "trading_halted"
	TradingResumed Category = "trading_resumed"
	OrderRejected  Category = "order_rejected"
	FeedDegraded   Category = "feed_degraded"
	SystemError    Category = "system_error"
	DailySummary   Category = "daily_summary"
)

type Alert struct {
	Severity Severity       `json:"-"`
	Category Category       `json:"category"`
	Message  string         `json:"message"`
	Data     map[string]any `json:"data,omitempty"`
	Time     time.Time      `json:"time"`
}

func (a Alert) Title() string {
	return fmt.Sprintf("[%s] %s", strings.ToUpper(a.Severity.String()), a.Category)
}

// Channel is one delivery target.
type Channel interface {
	Name() string
	Send(ctx context.Context, a Alert) error
}

// Notifier is what the executor talks to.
type Notifier interface {
	Notify(sev Severity, cat Category, msg string, data map[string]any)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Notify(Severity, Category, string, map[string]any) {}
