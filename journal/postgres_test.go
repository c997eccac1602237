package journal

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/autotrader/position"
)

func TestPostgresDSN(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opt  PostgresOption
		want string
	}{
		{"defaults", PostgresOption{}, "postgres://localhost:5432?sslmode=disable"},
		{"conn string wins", PostgresOption{ConnString: "postgres://x/y", Host: "ignored"}, "postgres://x/y"},
		{
			"full",
			PostgresOption{Host: "db", Port: 6543, User: "trader", Password: "p@ss", Database: "autotrader", SSLMode: "require"},
			"postgres://trader:p%40ss@db:6543/autotrader?sslmode=require",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.opt.dsn())
		})
	}

	u, err := url.Parse(PostgresOption{User: "u", Params: map[string]string{"application_name": "autotrader", "": "skip"}}.dsn())
	require.NoError(t, err)
	assert.Equal(t, "autotrader", u.Query().Get("application_name"))
	assert.Equal(t, "disable", u.Query().Get("sslmode"))
	assert.Len(t, u.Query(), 2)
}

func TestPostgresModels(t *testing.T) {
	t.Parallel()

	entry := time.Date(2025, 3, 4, 14, 40, 0, 0, time.UTC)
	p := position.Position{
		Symbol: "AAPL", Qty: 3, EntryPrice: 100.12, EntryTime: entry,
		StopLoss: 95, TakeProfit: 110, TrailingPct: 0.02, TrailingStop: 98.1176,
		HighestPrice: 100.12, MaxHold: 2 * time.Hour, CurrentPrice: 100.5,
	}
	back := positionModel(p).position()
	assert.Equal(t, "100.12", positionModel(p).EntryPrice.String())
	assert.InDelta(t, p.TrailingStop, back.TrailingStop, 1e-9)
	assert.Equal(t, p.MaxHold, back.MaxHold)
	assert.True(t, back.UpdatedAt.Equal(entry), "zero UpdatedAt falls back to entry time")

	rec := trade("T1", "AAPL", entry, -12.5)
	m, err := tradeModel(rec)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(m.Meta))

	rec.Meta = map[string]any{"score": 72.0}
	m, err = tradeModel(rec)
	require.NoError(t, err)
	got, err := m.record()
	require.NoError(t, err)
	assert.Equal(t, 72.0, got.Meta["score"])
	assert.Equal(t, "-12.5", m.RealizedPL.String())

	e := equityModel(EquitySnapshot{Time: entry, Equity: 9150, DrawdownPct: -0.085}).snapshot()
	assert.Equal(t, 9150.0, e.Equity)
	assert.InDelta(t, -0.085, e.DrawdownPct, 1e-12)
}
