package journal

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/autotrader/cooldown"
	"github.com/rustyeddy/autotrader/order"
	"github.com/rustyeddy/autotrader/position"
)

// Memory is an in-process Repository for tests and dry runs.
type Memory struct {
	mu        sync.Mutex
	positions map[string]position.Position
	orders    map[string]order.Order
	trades    []TradeRecord
	equity    []EquitySnapshot
	risk      *RiskRecord
}

func NewMemory() *Memory {
	return &Memory{
		positions: make(map[string]position.Position),
		orders:    make(map[string]order.Order),
	}
}

func (m *Memory) SavePosition(_ context.Context, p position.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[p.Symbol] = p
	return nil
}

func (m *Memory) DeletePosition(_ context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, symbol)
	return nil
}

func (m *Memory) LoadOpenPositions(_ context.Context) ([]position.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]position.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (m *Memory) SaveOrder(_ context.Context, o order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
	return nil
}

func (m *Memory) Order(id string) (order.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	return o, ok
}

func (m *Memory) AppendTradeHistory(_ context.Context, t TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.trades {
		if existing.TradeID == t.TradeID {
			return fmt.Errorf("trade %q already recorded", t.TradeID)
		}
	}
	m.trades = append(m.trades, t)
	return nil
}

func (m *Memory) Trades() []TradeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TradeRecord(nil), m.trades...)
}

func (m *Memory) RecordEquity(_ context.Context, e EquitySnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.equity = append(m.equity, e)
	return nil
}

func (m *Memory) LastEquity(_ context.Context) (EquitySnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.equity) == 0 {
		return EquitySnapshot{}, ErrNotFound
	}
	return m.equity[len(m.equity)-1], nil
}

func (m *Memory) SaveRiskState(_ context.Context, r RiskRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.Cooldown = append([]cooldown.Entry(nil), r.Cooldown...)
	r.PendingExits = maps.Clone(r.PendingExits)
	m.risk = &r
	return nil
}

func (m *Memory) LoadRiskState(_ context.Context) (RiskRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.risk == nil {
		return RiskRecord{}, ErrNotFound
	}
	r := *m.risk
	r.Cooldown = append([]cooldown.Entry(nil), r.Cooldown...)
	r.PendingExits = maps.Clone(r.PendingExits)
	return r, nil
}

func (m *Memory) GetTrade(_ context.Context, tradeID string) (TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.trades {
		if t.TradeID == tradeID {
			return t, nil
		}
	}
	return TradeRecord{}, fmt.Errorf("trade %q: %w", tradeID, ErrNotFound)
}

func (m *Memory) ListTradesClosedBetween(_ context.Context, start, end time.Time) ([]TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []TradeRecord
	for _, t := range m.trades {
		if !t.CloseTime.Before(start) && t.CloseTime.Before(end) {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CloseTime.Before(out[j].CloseTime) })
	return out, nil
}

func (m *Memory) Close() error { return nil }

var (
	_ Repository = (*Memory)(nil)
	_ History    = (*Memory)(nil)
	_ Repository = (*SQLite)(nil)
	_ History    = (*SQLite)(nil)
	_ Repository = (*Postgres)(nil)
	_ History    = (*Postgres)(nil)
)
