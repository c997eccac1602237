package signal

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/yanun0323/logs"
)

// TradePlan is a candidate long entry produced by an external scorer.
type TradePlan struct {
	ID         string        `json:"id" yaml:"id"`
	Symbol     string        `json:"symbol" yaml:"symbol"`
	Price      float64       `json:"price" yaml:"price"`
	Shares     float64       `json:"shares" yaml:"shares"` // 0 lets the executor size it
	StopLoss   float64       `json:"stop_loss" yaml:"stop_loss"`
	TakeProfit float64       `json:"take_profit" yaml:"take_profit"`
	Score      float64       `json:"score" yaml:"score"`
	MaxHold    time.Duration `json:"max_hold,omitempty" yaml:"max_hold,omitempty"`
	AsOf       time.Time     `json:"as_of,omitempty" yaml:"as_of,omitempty"`
}

// Source produces candidates ranked by descending score.
type Source interface {
	GetCandidates(ctx context.Context, symbols []string, asOf time.Time) ([]TradePlan, error)
}

var ErrInvalidPlan = errors.New("signal: invalid trade plan")

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// Validate enforces the boundary contract. Zero stop or target means "use
// the configured default".
func (p TradePlan) Validate() error {
	switch {
	case strings.TrimSpace(p.Symbol) == "":
		return fmt.Errorf("%w: symbol required", ErrInvalidPlan)
	case !finite(p.Price) || p.Price <= 0:
		return fmt.Errorf("%w: %s price %v", ErrInvalidPlan, p.Symbol, p.Price)
	case !finite(p.Shares) || p.Shares < 0:
		return fmt.Errorf("%w: %s shares %v", ErrInvalidPlan, p.Symbol, p.Shares)
	case !finite(p.Score):
		return fmt.Errorf("%w: %s score %v", ErrInvalidPlan, p.Symbol, p.Score)
	case p.StopLoss < 0 || p.TakeProfit < 0:
		return fmt.Errorf("%w: %s negative levels", ErrInvalidPlan, p.Symbol)
	case p.StopLoss > 0 && p.StopLoss >= p.Price:
		return fmt.Errorf("%w: %s stop %.4f not below price %.4f", ErrInvalidPlan, p.Symbol, p.StopLoss, p.Price)
	case p.TakeProfit > 0 && p.TakeProfit <= p.Price:
		return fmt.Errorf("%w: %s target %.4f not above price %.4f", ErrInvalidPlan, p.Symbol, p.TakeProfit, p.Price)
	}
	return nil
}

// Rank drops invalid and duplicate plans and orders the rest by score,
// highest first. The first plan seen for a symbol wins.
func Rank(plans []TradePlan) []TradePlan {
	seen := make(map[string]bool, len(plans))
	out := make([]TradePlan, 0, len(plans))
	for _, p := range plans {
		p.Symbol = strings.ToUpper(strings.TrimSpace(p.Symbol))
		if err := p.Validate(); err != nil {
			logs.Warnf("dropping candidate: %v", err)
			continue
		}
		if seen[p.Symbol] {
			continue
		}
		seen[p.Symbol] = true
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// Static serves a fixed candidate list.
type Static []TradePlan

func (s Static) GetCandidates(_ context.Context, symbols []string, _ time.Time) ([]TradePlan, error) {
	return filter(s, symbols), nil
}

func filter(plans []TradePlan, symbols []string) []TradePlan {
	if len(symbols) == 0 {
		return append([]TradePlan(nil), plans...)
	}
	allowed := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		allowed[strings.ToUpper(s)] = true
	}
	var out []TradePlan
	for _, p := range plans {
		if allowed[strings.ToUpper(p.Symbol)] {
			out = append(out, p)
		}
	}
	return out
}
