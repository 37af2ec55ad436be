package formulas

// RollingPercentileRank maps each value to its percentile rank within the
// trailing lookback window, ties sharing their average rank, divided by the
// number of defined observations in the window. Emits NaN until minPeriods
// defined observations are available, and for undefined inputs.
func RollingPercentileRank(values []float64, lookback, minPeriods int) []float64 {
	n := len(values)
	out := NaNSeries(n)
	for i := 0; i < n; i++ {
		current := values[i]
		if IsNaN(current) {
			continue
		}
		start := i - lookback + 1
		if start < 0 {
			start = 0
		}

		var nobs, less, equal int
		for _, v := range values[start : i+1] {
			switch {
			case IsNaN(v):
				continue
			case v < current:
				less++
			case v == current:
				equal++
			}
			nobs++
		}
		if nobs < minPeriods {
			continue
		}
		rank := float64(less) + float64(equal+1)/2
		out[i] = rank / float64(nobs)
	}
	return out
}

// PercentileMinPeriods is the number of observations required before a
// percentile rank is emitted: half the lookback, and never fewer than 5.
func PercentileMinPeriods(lookback int, minFraction float64) int {
	m := int(float64(lookback) * minFraction)
	if m < 5 {
		return 5
	}
	return m
}
