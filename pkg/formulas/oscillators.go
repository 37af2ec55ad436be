package formulas

import "math"

var nanValue = math.NaN()

// WilderRSI computes the Relative Strength Index with Wilder smoothing:
// gains and losses are averaged with an exponential filter of alpha 1/period,
// seeded from the first price change. RSI is NaN while the average loss is 0.
func WilderRSI(closes []float64, period int) []float64 {
	n := len(closes)
	out := NaNSeries(n)
	if n < 2 || period <= 0 {
		return out
	}

	alpha := 1.0 / float64(period)
	var avgUp, avgDown float64
	for i := 1; i < n; i++ {
		delta := closes[i] - closes[i-1]
		gain := math.Max(delta, 0)
		loss := math.Max(-delta, 0)
		if i == 1 {
			avgUp, avgDown = gain, loss
		} else {
			avgUp = (1-alpha)*avgUp + alpha*gain
			avgDown = (1-alpha)*avgDown + alpha*loss
		}
		if avgDown == 0 {
			continue
		}
		rs := avgUp / avgDown
		out[i] = Clip(100-100/(1+rs), 0, 100)
	}
	return out
}

// BollingerWidth returns (upper-lower)/middle for bands of numStd standard
// deviations around a period moving average. Values start once half the
// window is available.
func BollingerWidth(closes []float64, period int, numStd float64) []float64 {
	means, stds := RollingMeanStd(closes, period, period/2)
	out := NaNSeries(len(closes))
	for i := range closes {
		if IsNaN(means[i]) || IsNaN(stds[i]) || means[i] == 0 {
			continue
		}
		upper := means[i] + stds[i]*numStd
		lower := means[i] - stds[i]*numStd
		out[i] = (upper - lower) / means[i]
	}
	return out
}

// MoneyFlowIndex computes the volume-weighted RSI analogue on the typical
// price (high+low+close)/3. Flow is positive when the typical price rises and
// negative when it falls; the index is NaN while the negative flow sum is 0
// or any flow in the window is undefined.
func MoneyFlowIndex(high, low, close, volume []float64, period int) []float64 {
	n := len(close)
	out := NaNSeries(n)
	if n == 0 || period <= 0 || len(high) != n || len(low) != n || len(volume) != n {
		return out
	}

	pos := make([]float64, n)
	neg := make([]float64, n)
	prevTP := nanValue
	for i := 0; i < n; i++ {
		tp := (high[i] + low[i] + close[i]) / 3
		flow := tp * volume[i]
		delta := tp - prevTP
		if delta > 0 {
			pos[i] = flow
		}
		if delta < 0 {
			neg[i] = flow
		}
		prevTP = tp
	}

	for i := period - 1; i < n; i++ {
		var posSum, negSum float64
		for j := i - period + 1; j <= i; j++ {
			posSum += pos[j]
			negSum += neg[j]
		}
		if IsNaN(posSum) || IsNaN(negSum) || negSum == 0 {
			continue
		}
		ratio := posSum / negSum
		out[i] = 100 - 100/(1+ratio)
	}
	return out
}
