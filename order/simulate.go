package order

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rustyeddy/autotrader/market"
)

// SimConfig controls paper-mode fills.
type SimConfig struct {
	SlippageBps     float64 `json:"slippage_bps" yaml:"slippage_bps"`
	Commission      float64 `json:"commission" yaml:"commission"` // flat, per fill
	PartialFillProb float64 `json:"partial_fill_prob" yaml:"partial_fill_prob"`
	PartialFillMin  float64 `json:"partial_fill_min" yaml:"partial_fill_min"` // fraction of requested
	PartialFillMax  float64 `json:"partial_fill_max" yaml:"partial_fill_max"`
	NoFillProb      float64 `json:"no_fill_prob" yaml:"no_fill_prob"`
	LotSize         float64 `json:"lot_size" yaml:"lot_size"` // 0 allows fractional quantities
	Seed            int64   `json:"seed" yaml:"seed"`
}

type Simulator struct {
	cfg SimConfig

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSimulator(cfg SimConfig) *Simulator {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulator{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

func (s *Simulator) Config() SimConfig { return s.cfg }

func (s *Simulator) float() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// RoundLot floors qty to the configured lot size.
func RoundLot(qty, lot float64) float64 {
	if lot <= 0 {
		return qty
	}
	return math.Floor(qty/lot+1e-9) * lot
}

// FillPrice applies slippage against the side of the book the order crosses.
func (s *Simulator) FillPrice(side Side, q market.Quote) (float64, error) {
	slip := s.cfg.SlippageBps / 10_000
	switch side {
	case Buy:
		p := q.BuyPrice()
		if p <= 0 {
			return 0, ErrMissingQuote
		}
		return p * (1 + slip), nil
	default:
		p := q.SellPrice()
		if p <= 0 {
			return 0, ErrMissingQuote
		}
		return p * (1 - slip), nil
	}
}

// SimulateFill computes a fill for the order's remaining quantity. A zero
// quantity outcome is reported as ErrNoFill, never as a fill.
func (s *Simulator) SimulateFill(o *Order, q market.Quote, at time.Time) (Fill, error) {
	price, err := s.FillPrice(o.Side, q)
	if err != nil {
		return Fill{}, err
	}

	if s.cfg.NoFillProb > 0 && s.float() < s.cfg.NoFillProb {
		return Fill{}, ErrNoFill
	}

	qty := o.Remaining()
	if s.cfg.PartialFillProb > 0 && s.float() < s.cfg.PartialFillProb {
		lo, hi := s.cfg.PartialFillMin, s.cfg.PartialFillMax
		if hi <= 0 || hi > 1 {
			hi = 1
		}
		if lo < 0 || lo > hi {
			lo = 0
		}
		frac := lo + (hi-lo)*s.float()
		qty = RoundLot(qty*frac, s.cfg.LotSize)
	}
	if qty <= 0 {
		return Fill{}, ErrNoFill
	}

	return Fill{
		Qty:        qty,
		Price:      price,
		Commission: s.cfg.Commission,
		At:         at,
	}, nil
}
