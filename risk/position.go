package risk

import "math"

// Inputs for risk-based position sizing.
type Inputs struct {
	Equity     float64
	RiskPct    float64 // 0.01
	EntryPrice float64
	StopPrice  float64
	LotSize    float64 // 0 allows fractional shares
}

type Result struct {
	Qty        float64
	StopDist   float64
	RiskAmount float64
}

func floorLot(qty, lot float64) float64 {
	if lot <= 0 {
		return qty
	}
	return math.Floor(qty/lot+1e-9) * lot
}

// Calculate sizes a position so that a stop-out loses RiskPct of equity.
func Calculate(in Inputs) Result {
	dist := abs(in.EntryPrice - in.StopPrice)
	riskAmt := in.Equity * in.RiskPct
	if dist == 0 || riskAmt <= 0 {
		return Result{StopDist: dist, RiskAmount: riskAmt}
	}

	return Result{
		Qty:        floorLot(riskAmt/dist, in.LotSize),
		StopDist:   dist,
		RiskAmount: riskAmt,
	}
}
