package risk

import "math"

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// PlannedLoss is the loss in account currency if the stop is hit.
func PlannedLoss(qty, entry, stop float64) float64 {
	return qty * abs(entry-stop)
}

func RR(entry, stop, takeProfit float64) float64 {
	risk := abs(entry - stop)
	reward := abs(takeProfit - entry)
	if risk == 0 {
		return 0
	}
	return reward / risk
}

func RiskPct(plannedLoss, equity float64) float64 {
	if equity <= 0 {
		return math.Inf(1)
	}
	return plannedLoss / equity
}
