package journal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trade(id, symbol string, closeAt time.Time, pl float64) TradeRecord {
	return TradeRecord{
		TradeID:    id,
		Symbol:     symbol,
		Qty:        10,
		EntryPrice: 100,
		ExitPrice:  100 + pl/10,
		OpenTime:   closeAt.Add(-time.Hour),
		CloseTime:  closeAt,
		RealizedPL: pl,
		Reason:     "TakeProfit",
		Mode:       "paper",
	}
}

func TestGetTrade(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	j, _ := newTestSQLite(t)
	defer j.Close()

	closeAt := time.Date(2025, 4, 10, 15, 30, 0, 0, time.UTC)
	want := trade("T123", "NVDA", closeAt, 375)
	want.Meta = map[string]any{"signal": "breakout"}
	require.NoError(t, j.AppendTradeHistory(ctx, want))

	got, err := j.GetTrade(ctx, "T123")
	require.NoError(t, err)

	assert.Equal(t, want.Symbol, got.Symbol)
	assert.InDelta(t, want.ExitPrice, got.ExitPrice, 1e-9)
	assert.True(t, got.OpenTime.Equal(want.OpenTime))
	assert.True(t, got.CloseTime.Equal(want.CloseTime))
	assert.Equal(t, "breakout", got.Meta["signal"])
}

func TestGetTradeNotFound(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()

	_, err := j.GetTrade(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListTradesClosedBetween(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	j, _ := newTestSQLite(t)
	defer j.Close()

	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	// Inserted out of order.
	for _, rec := range []TradeRecord{
		trade("T3", "MSFT", base.Add(10*time.Hour), 50),
		trade("T1", "AAPL", base.Add(1*time.Hour), 10),
		trade("T4", "AMD", base.Add(24*time.Hour), -5),
		trade("T2", "NVDA", base.Add(5*time.Hour), -20),
	} {
		require.NoError(t, j.AppendTradeHistory(ctx, rec))
	}

	tests := []struct {
		name       string
		start, end time.Time
		want       []string
	}{
		{"window", base.Add(3 * time.Hour), base.Add(12 * time.Hour), []string{"T2", "T3"}},
		{"whole day ordered", base, base.Add(24 * time.Hour), []string{"T1", "T2", "T3"}},
		{"start inclusive", base.Add(time.Hour), base.Add(2 * time.Hour), []string{"T1"}},
		{"end exclusive", base, base.Add(time.Hour), nil},
		{"no matches", base.Add(48 * time.Hour), base.Add(72 * time.Hour), nil},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := j.ListTradesClosedBetween(ctx, tt.start, tt.end)
			require.NoError(t, err)

			var ids []string
			for _, r := range got {
				ids = append(ids, r.TradeID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	at := time.Now()
	s := Summarize([]TradeRecord{
		trade("a", "AAPL", at, 30),
		trade("b", "AAPL", at, -10),
		trade("c", "MSFT", at, 20),
		trade("d", "NVDA", at, -15),
	})
	assert.Equal(t, 4, s.Trades)
	assert.Equal(t, 2, s.Wins)
	assert.Equal(t, 2, s.Losses)
	assert.InDelta(t, 25.0, s.NetPL, 1e-9)
	assert.InDelta(t, 2.0, s.ProfitFactor, 1e-9)

	assert.Zero(t, Summarize(nil).ProfitFactor)
}
