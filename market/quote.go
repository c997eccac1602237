package market

import (
	"context"
	"time"
)

// Quote is a timestamped top-of-book snapshot for one symbol.
type Quote struct {
	Symbol string    `json:"symbol" yaml:"symbol"`
	Bid    float64   `json:"bid" yaml:"bid"`
	Ask    float64   `json:"ask" yaml:"ask"`
	Last   float64   `json:"last" yaml:"last"`
	Volume int64     `json:"volume" yaml:"volume"`
	Time   time.Time `json:"time" yaml:"time"`
}

// QuoteSource returns the latest quotes for the requested symbols. Symbols the
// source has nothing for are simply missing from the map.
type QuoteSource interface {
	GetQuotes(ctx context.Context, symbols []string) (map[string]Quote, error)
}

// Valid reports whether the quote carries a timestamp and at least one
// usable price. Anything else is treated as absent.
func (q Quote) Valid() bool {
	if q.Time.IsZero() {
		return false
	}
	return q.Last > 0 || (q.Bid > 0 && q.Ask > 0)
}

func (q Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.Time)
}

// IsStale reports whether the quote is unusable at now. A zero maxAge
// disables the age check.
func (q Quote) IsStale(now time.Time, maxAge time.Duration) bool {
	if !q.Valid() {
		return true
	}
	return maxAge > 0 && q.Age(now) > maxAge
}

func (q Quote) Mid() float64 {
	if q.Bid > 0 && q.Ask > 0 {
		return (q.Bid + q.Ask) / 2
	}
	return 0
}

func (q Quote) Spread() float64 {
	if q.Bid > 0 && q.Ask > 0 {
		return q.Ask - q.Bid
	}
	return 0
}

// Price is the mark used for valuation: last trade, else mid.
func (q Quote) Price() float64 {
	if q.Last > 0 {
		return q.Last
	}
	return q.Mid()
}

// BuyPrice is what a buyer pays: ask, else last.
func (q Quote) BuyPrice() float64 {
	if q.Ask > 0 {
		return q.Ask
	}
	return q.Last
}

// SellPrice is what a seller receives: bid, else last.
func (q Quote) SellPrice() float64 {
	if q.Bid > 0 {
		return q.Bid
	}
	return q.Last
}
