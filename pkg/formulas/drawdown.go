package formulas

// DrawdownMetrics represents drawdown analysis results
type DrawdownMetrics struct {
	MaxDrawdown     float64 `json:"max_drawdown"`     // positive fraction, 0.25 = 25% below peak
	CurrentDrawdown float64 `json:"current_drawdown"` // distance of the last value from its running peak
	DaysInDrawdown  int     `json:"days_in_drawdown"`
	PeakValue       float64 `json:"peak_value"`
}

// CalculateMaxDrawdown returns the largest peak-to-trough decline of a value
// curve as a positive fraction, or nil with fewer than two points.
func CalculateMaxDrawdown(values []float64) *float64 {
	m := CalculateDrawdownMetrics(values)
	if m == nil {
		return nil
	}
	return &m.MaxDrawdown
}

// CalculateDrawdownMetrics walks the curve once tracking the running peak
func CalculateDrawdownMetrics(values []float64) *DrawdownMetrics {
	if len(values) < 2 {
		return nil
	}

	maxDrawdown := 0.0
	peak := values[0]
	peakIndex := 0

	for i, v := range values {
		if v > peak {
			peak = v
			peakIndex = i
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > maxDrawdown {
				maxDrawdown = dd
			}
		}
	}

	current := 0.0
	if peak > 0 {
		current = (peak - values[len(values)-1]) / peak
	}

	return &DrawdownMetrics{
		MaxDrawdown:     maxDrawdown,
		CurrentDrawdown: current,
		DaysInDrawdown:  len(values) - 1 - peakIndex,
		PeakValue:       peak,
	}
}
