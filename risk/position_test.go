package risk

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       Inputs
		wantQty  float64
		wantRisk float64
	}{
		{
			name:     "whole shares",
			in:       Inputs{Equity: 10000, RiskPct: 0.01, EntryPrice: 50, StopPrice: 48.5, LotSize: 1},
			wantQty:  66,
			wantRisk: 100,
		},
		{
			name:     "fractional",
			in:       Inputs{Equity: 1000, RiskPct: 0.02, EntryPrice: 100, StopPrice: 95},
			wantQty:  4,
			wantRisk: 20,
		},
		{
			name:     "no stop distance",
			in:       Inputs{Equity: 1000, RiskPct: 0.02, EntryPrice: 100, StopPrice: 100, LotSize: 1},
			wantQty:  0,
			wantRisk: 20,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Calculate(tt.in)
			assert.InDelta(t, tt.wantQty, got.Qty, 1e-9)
			assert.InDelta(t, tt.wantRisk, got.RiskAmount, 1e-9)
		})
	}
}

func TestCalcHelpers(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 50.0, PlannedLoss(10, 100, 95), 1e-9)
	assert.InDelta(t, 2.0, RR(100, 95, 110), 1e-9)
	assert.Zero(t, RR(100, 100, 110))
	assert.InDelta(t, 0.05, RiskPct(50, 1000), 1e-9)
	assert.True(t, math.IsInf(RiskPct(50, 0), 1))
}
