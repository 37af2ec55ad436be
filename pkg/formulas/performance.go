package formulas

import "math"

// CalculateSharpeRatio annualizes (mean - rf/periods) / std of periodic
// returns. Returns nil with fewer than two returns or zero volatility.
func CalculateSharpeRatio(returns []float64, riskFreeRate float64, periodsPerYear int) *float64 {
	if len(returns) < 2 || periodsPerYear <= 0 {
		return nil
	}

	stdDev := StdDev(returns)
	if stdDev == 0 {
		return nil
	}

	periodicRiskFree := riskFreeRate / float64(periodsPerYear)
	sharpe := (Mean(returns) - periodicRiskFree) / stdDev * math.Sqrt(float64(periodsPerYear))
	return &sharpe
}

// CalculateCAGRFromMultiple converts a total growth multiple earned over
// periods observations into a compound annual growth rate.
func CalculateCAGRFromMultiple(multiple float64, periods, periodsPerYear int) *float64 {
	if periods <= 0 || periodsPerYear <= 0 || multiple <= 0 {
		return nil
	}
	years := float64(periods) / float64(periodsPerYear)
	cagr := math.Pow(multiple, 1/years) - 1
	return &cagr
}

// CumulativeCurve compounds periodic returns into a growth curve starting at 1
func CumulativeCurve(returns []float64) []float64 {
	curve := make([]float64, len(returns))
	acc := 1.0
	for i, r := range returns {
		acc *= 1 + r
		curve[i] = acc
	}
	return curve
}

// PctReturn is last/values[len-days] - 1, or nil when the history is shorter
// than days or the base is not positive
func PctReturn(values []float64, days int) *float64 {
	if days <= 0 || len(values) < days {
		return nil
	}
	base := values[len(values)-days]
	if base <= 0 {
		return nil
	}
	r := values[len(values)-1]/base - 1
	return &r
}
