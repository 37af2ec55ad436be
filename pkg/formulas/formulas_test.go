package formulas

import (
	"math"
	"math/rand"
	"testing"

	"github.com/markcheno/go-talib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomWalk(n int, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	price := 100.0
	for i := range out {
		price *= 1 + rng.NormFloat64()*0.02
		out[i] = price
	}
	return out
}

func TestRank_AveragesTies(t *testing.T) {
	ranks := Rank([]float64{10, 20, 20, 5})
	assert.Equal(t, []float64{2, 3.5, 3.5, 1}, ranks)
}

func TestSpearmanCorrelation(t *testing.T) {
	tests := []struct {
		name     string
		x, y     []float64
		expected float64
	}{
		{"monotonic increasing", []float64{1, 2, 3, 4}, []float64{10, 100, 1000, 10000}, 1},
		{"monotonic decreasing", []float64{1, 2, 3, 4}, []float64{4, 3, 2, 1}, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, SpearmanCorrelation(tt.x, tt.y), 1e-12)
		})
	}

	assert.True(t, IsNaN(SpearmanCorrelation([]float64{1, 1, 1}, []float64{1, 2, 3})), "constant input has no rank correlation")
}

func TestQuantile_LinearInterpolation(t *testing.T) {
	data := []float64{4, 1, 3, 2, 5}
	assert.InDelta(t, 4.2, Quantile(data, 0.8), 1e-12)
	assert.InDelta(t, 1.8, Quantile(data, 0.2), 1e-12)
	assert.InDelta(t, 3.0, Quantile(data, 0.5), 1e-12)
	assert.True(t, IsNaN(Quantile(nil, 0.5)))
}

func TestSMA(t *testing.T) {
	out := SMA([]float64{1, 2, 3, 4, 5}, 3)
	require.Len(t, out, 5)
	assert.True(t, IsNaN(out[0]))
	assert.True(t, IsNaN(out[1]))
	assert.InDelta(t, 2.0, out[2], 1e-12)
	assert.InDelta(t, 4.0, out[4], 1e-12)

	short := SMA([]float64{1, 2}, 3)
	assert.True(t, IsNaN(short[0]) && IsNaN(short[1]))
}

func TestEMA_SeededWithFirstValue(t *testing.T) {
	// span 3 gives alpha 0.5
	got := EMA([]float64{math.NaN(), 10, 20, math.NaN(), 40}, 3)
	assert.True(t, IsNaN(got[0]))
	assert.Equal(t, 10.0, got[1])
	assert.Equal(t, 15.0, got[2])
	assert.Equal(t, 15.0, got[3])
	assert.Equal(t, 27.5, got[4])

	short := EMA([]float64{100, 110}, 147)
	assert.Equal(t, 100.0, short[0], "defined before a full span of history")
	assert.InDelta(t, 100+10*2.0/148, short[1], 1e-12)

	assert.True(t, IsNaN(EMA([]float64{1}, 0)[0]))
}

func TestWilderRSI(t *testing.T) {
	t.Run("only gains leaves RSI undefined", func(t *testing.T) {
		closes := []float64{1, 2, 3, 4, 5, 6}
		for _, v := range WilderRSI(closes, 14) {
			assert.True(t, IsNaN(v))
		}
	})

	t.Run("seeded from first change", func(t *testing.T) {
		closes := []float64{10, 11, 10}
		out := WilderRSI(closes, 2)
		// index 1: up=1, down=0 -> undefined
		assert.True(t, IsNaN(out[1]))
		// index 2: up=0.5, down=0.5 -> 50
		assert.InDelta(t, 50.0, out[2], 1e-12)
	})

	t.Run("bounded", func(t *testing.T) {
		for _, v := range WilderRSI(randomWalk(500, 1), 14) {
			if !IsNaN(v) {
				assert.GreaterOrEqual(t, v, 0.0)
				assert.LessOrEqual(t, v, 100.0)
			}
		}
	})
}

func TestBollingerWidth(t *testing.T) {
	closes := randomWalk(60, 2)
	width := BollingerWidth(closes, 20, 2)

	for i := 0; i < 9; i++ {
		assert.True(t, IsNaN(width[i]), "index %d should be warming up", i)
	}
	assert.False(t, IsNaN(width[9]))

	window := closes[40:60]
	mean := Mean(window)
	std := StdDev(window)
	assert.InDelta(t, 4*std/mean, width[59], 1e-12)
}

func TestMoneyFlowIndex_MatchesTalibWherePresent(t *testing.T) {
	n := 300
	rng := rand.New(rand.NewSource(7))
	closes := randomWalk(n, 3)
	high := make([]float64, n)
	low := make([]float64, n)
	volume := make([]float64, n)
	for i := range closes {
		high[i] = closes[i] * (1 + rng.Float64()*0.01)
		low[i] = closes[i] * (1 - rng.Float64()*0.01)
		volume[i] = 1e6 * (1 + rng.Float64())
	}

	ours := MoneyFlowIndex(high, low, closes, volume, 14)
	ref := talib.Mfi(high, low, closes, volume, 14)

	assert.False(t, IsNaN(ours[13]), "first window includes the seed bar")
	compared := 0
	for i := 14; i < n; i++ {
		if IsNaN(ours[i]) {
			continue
		}
		assert.InDelta(t, ref[i], ours[i], 1e-6, "index %d", i)
		compared++
	}
	assert.Greater(t, compared, 200)
}

func TestMoneyFlowIndex_MissingVolumePropagates(t *testing.T) {
	closes := []float64{1, 2, 3, 2, 1, 2, 3}
	volume := []float64{1, 1, math.NaN(), 1, 1, 1, 1}
	out := MoneyFlowIndex(closes, closes, closes, volume, 3)

	// the NaN bar is a rising bar so every window holding it is undefined
	assert.True(t, IsNaN(out[2]))
	assert.True(t, IsNaN(out[3]))
	assert.True(t, IsNaN(out[4]))
	assert.False(t, IsNaN(out[5]))
}

func TestRollingPercentileRank(t *testing.T) {
	values := []float64{math.NaN(), 1, 2, 3, 2, 5}
	out := RollingPercentileRank(values, 3, 2)

	assert.True(t, IsNaN(out[0]))
	assert.True(t, IsNaN(out[1]), "one observation is below min periods")
	assert.InDelta(t, 1.0, out[2], 1e-12)     // [1,2]: rank 2 of 2
	assert.InDelta(t, 1.0, out[3], 1e-12)     // [1,2,3]
	assert.InDelta(t, 1.5/3, out[4], 1e-12)   // [2,3,2]: tie average 1.5
	assert.InDelta(t, 3.0/3, out[5], 1e-12)   // [3,2,5]
	assert.Equal(t, 126, PercentileMinPeriods(252, 0.5))
	assert.Equal(t, 5, PercentileMinPeriods(6, 0.5))
}

func TestDrawdownMetrics(t *testing.T) {
	m := CalculateDrawdownMetrics([]float64{100, 120, 60, 90})
	require.NotNil(t, m)
	assert.InDelta(t, 0.5, m.MaxDrawdown, 1e-12)
	assert.InDelta(t, 0.25, m.CurrentDrawdown, 1e-12)
	assert.Equal(t, 2, m.DaysInDrawdown)

	assert.Nil(t, CalculateMaxDrawdown([]float64{1}))
}

func TestPerformance(t *testing.T) {
	cagr := CalculateCAGRFromMultiple(4, 504, 252)
	require.NotNil(t, cagr)
	assert.InDelta(t, 1.0, *cagr, 1e-12)

	assert.Nil(t, CalculateSharpeRatio([]float64{0.01, 0.01, 0.01}, 0.04, 252), "zero volatility")

	curve := CumulativeCurve([]float64{0.1, -0.5})
	assert.InDelta(t, 0.55, curve[1], 1e-12)

	r := PctReturn([]float64{50, 80, 100}, 3)
	require.NotNil(t, r)
	assert.InDelta(t, 1.0, *r, 1e-12)
	assert.Nil(t, PctReturn([]float64{1}, 7))
}
