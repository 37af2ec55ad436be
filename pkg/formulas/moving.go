package formulas

import (
	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"
)

// SMA returns the simple moving average series. The first period-1 entries
// are NaN, and the whole series is NaN when there is not enough data.
func SMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return NaNSeries(len(values))
	}
	out := talib.Sma(values, period)
	for i := 0; i < period-1; i++ {
		out[i] = nanValue
	}
	return out
}

// EMA returns the recursive exponential average with alpha = 2/(span+1),
// seeded with the first defined value so every entry from there on is set.
// A NaN input repeats the previous average.
func EMA(values []float64, span int) []float64 {
	out := NaNSeries(len(values))
	if span <= 0 {
		return out
	}
	alpha := 2 / (float64(span) + 1)
	prev := nanValue
	for i, v := range values {
		switch {
		case IsNaN(v):
		case IsNaN(prev):
			prev = v
		default:
			prev = alpha*v + (1-alpha)*prev
		}
		out[i] = prev
	}
	return out
}

// Last returns the final element of a series, NaN when empty
func Last(values []float64) float64 {
	if len(values) == 0 {
		return nanValue
	}
	return values[len(values)-1]
}

// RollingMeanStd computes a trailing mean and sample standard deviation over
// window observations. A value is emitted once minPeriods non-NaN values are
// in the window (the standard deviation needs at least two).
func RollingMeanStd(values []float64, window, minPeriods int) (means, stds []float64) {
	n := len(values)
	means = NaNSeries(n)
	stds = NaNSeries(n)
	buf := make([]float64, 0, window)

	for i := 0; i < n; i++ {
		start := i - window + 1
		if start < 0 {
			start = 0
		}
		buf = buf[:0]
		for _, v := range values[start : i+1] {
			if !IsNaN(v) {
				buf = append(buf, v)
			}
		}
		if len(buf) < minPeriods || len(buf) == 0 {
			continue
		}
		if len(buf) == 1 {
			means[i] = buf[0]
			continue
		}
		means[i], stds[i] = stat.MeanStdDev(buf, nil)
	}
	return means, stds
}
