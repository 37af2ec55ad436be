package validation

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/riskcycle/internal/modules/factors"
	"github.com/aristath/riskcycle/pkg/formulas"
)

// seriesFrom builds a factor series whose every factor equals risk
func seriesFrom(closes, risk []float64) *factors.FactorSeries {
	start := time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)
	fs := &factors.FactorSeries{Ticker: "TEST", Close: closes}
	for i := range closes {
		fs.Dates = append(fs.Dates, start.AddDate(0, 0, i))
	}
	fs.Total = risk
	fs.Valuation = risk
	fs.Momentum = risk
	fs.Volatility = risk
	fs.Volume = formulas.NaNSeries(len(closes))
	return fs
}

// oracleRisk is low exactly when the 30-day forward return is high
func oracleRisk(closes []float64, horizon int) []float64 {
	risk := make([]float64, len(closes))
	for i := range closes {
		if i+horizon >= len(closes) {
			risk[i] = 0.5
			continue
		}
		fwd := closes[i+horizon]/closes[i] - 1
		risk[i] = formulas.Clip(0.5-3*fwd, 0.01, 0.99)
	}
	return risk
}

func oscillating(n int, drift, amplitude float64) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		t := float64(i)
		closes[i] = 100 * math.Exp(drift*t) * (1 + amplitude*math.Sin(2*math.Pi*t/60))
	}
	return closes
}

func TestValidate_AntiCorrelatedMeanReversion(t *testing.T) {
	h := NewHarness(DefaultConfig(), zerolog.Nop())
	closes := oscillating(1500, -0.003, 0.15)

	res, err := h.Validate(seriesFrom(closes, oracleRisk(closes, 30)))
	require.NoError(t, err)

	assert.Equal(t, RegimeMeanReversion, res.Regime)
	assert.Less(t, res.TrendStrength, 0.30)
	assert.Equal(t, 1470, res.Samples)
	assert.GreaterOrEqual(t, res.Score, 80)
	assert.Less(t, res.RankCorrelation, -0.9)
	assert.Greater(t, res.AvgReturnBuyZone, res.AvgReturnSellZone)
	assert.Equal(t, 1.0, res.WinRateBuy)
	assert.Equal(t, 0.0, res.WinRateSell)
}

func TestValidate_MomentumRegime(t *testing.T) {
	h := NewHarness(DefaultConfig(), zerolog.Nop())
	closes := oscillating(1200, 0.002, 0.10)

	res, err := h.Validate(seriesFrom(closes, oracleRisk(closes, 30)))
	require.NoError(t, err)

	assert.Equal(t, RegimeMomentum, res.Regime)
	assert.Less(t, res.AvgRiskPump, 0.5)
	assert.Greater(t, res.AvgRiskCrash, 0.5)
	assert.Equal(t, 100, res.Score)
	assert.Zero(t, res.WinRateBuy, "zone metrics belong to the mean reversion rubric")
}

func TestValidate_InsufficientData(t *testing.T) {
	h := NewHarness(DefaultConfig(), zerolog.Nop())

	t.Run("too few rows", func(t *testing.T) {
		closes := oscillating(150, 0, 0.1)
		res, err := h.Validate(seriesFrom(closes, oracleRisk(closes, 30)))
		assert.True(t, errors.Is(err, ErrInsufficientSamples))
		require.NotNil(t, res)
		assert.Equal(t, 0, res.Score)
		assert.Equal(t, "Insufficient Data", res.Reason)
	})

	t.Run("too few defined samples", func(t *testing.T) {
		closes := oscillating(250, 0, 0.1)
		fs := seriesFrom(closes, oracleRisk(closes, 30))
		fs.Valuation = formulas.NaNSeries(len(closes))
		copy(fs.Valuation[200:], fs.Total[200:])

		res, err := h.Validate(fs)
		assert.True(t, errors.Is(err, ErrInsufficientSamples))
		assert.Equal(t, 20, res.Samples)
	})

	t.Run("nil series", func(t *testing.T) {
		_, err := h.Validate(nil)
		assert.True(t, errors.Is(err, ErrInsufficientSamples))
	})
}

func TestValidate_DegenerateRisk(t *testing.T) {
	h := NewHarness(DefaultConfig(), zerolog.Nop())
	closes := oscillating(600, 0.001, 0.1)
	flat := make([]float64, len(closes))
	for i := range flat {
		flat[i] = 0.5
	}

	res, err := h.Validate(seriesFrom(closes, flat))
	assert.True(t, errors.Is(err, ErrDegenerateSeries))
	assert.Equal(t, 0, res.Score)
}

func TestValidate_ScoreBounds(t *testing.T) {
	h := NewHarness(DefaultConfig(), zerolog.Nop())
	for seed := int64(1); seed <= 20; seed++ {
		rng := rand.New(rand.NewSource(seed))
		n := 300 + rng.Intn(900)
		closes := make([]float64, n)
		risk := make([]float64, n)
		price := 10.0
		for i := range closes {
			price *= 1 + rng.NormFloat64()*0.03
			closes[i] = price
			risk[i] = rng.Float64()
		}

		res, err := h.Validate(seriesFrom(closes, risk))
		require.NoError(t, err, "seed %d", seed)
		assert.GreaterOrEqual(t, res.Score, 0)
		assert.LessOrEqual(t, res.Score, 100)
		assert.Zero(t, res.Score%20)
	}
}

func TestBucket(t *testing.T) {
	h := NewHarness(DefaultConfig(), zerolog.Nop())
	tests := []struct {
		risk     float64
		expected int
	}{
		{0, -1},
		{0.01, 0},
		{0.3, 0},
		{0.31, 1},
		{0.4, 1},
		{0.6, 2},
		{0.75, 3},
		{0.76, 4},
		{1.0, 4},
		{1.01, -1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, h.bucket(tt.risk), "risk %v", tt.risk)
	}
}

func TestRenderReport(t *testing.T) {
	res := &Result{Score: 80, Regime: RegimeMeanReversion, Samples: 900, RankCorrelation: -0.25, AvgReturnBuyZone: 0.05, AvgReturnSellZone: -0.02, WinRateBuy: 0.7, WinRateSell: 0.4}
	text := RenderReport("GLD", res, nil)
	assert.Contains(t, text, "VALIDATION REPORT: GLD")
	assert.Contains(t, text, "Model Score:        80/100")
	assert.Contains(t, text, "Buy Zone Return:  5.0%")
	assert.Contains(t, text, "Win Rate Spread:  30.0%")

	momentum := RenderReport("BTC-USD", &Result{Score: 60, Regime: RegimeMomentum, AvgRiskPump: 0.42}, nil)
	assert.Contains(t, momentum, "Avg Risk in Pump:  0.42")

	failed := RenderReport("NEW", nil, ErrInsufficientSamples)
	assert.Contains(t, failed, "Error: insufficient validation samples")
}
