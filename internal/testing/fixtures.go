package testing

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/aristath/riskcycle/internal/domain"
)

// FixtureStart is the first bar date of generated series
var FixtureStart = time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)

// RandomWalkSeries returns a seeded geometric random walk with daily bars
func RandomWalkSeries(t *testing.T, ticker string, n int, seed int64, withVolume bool) *domain.PriceSeries {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	closes := make([]float64, n)
	price := 100.0
	for i := range closes {
		price *= math.Exp(0.0003 + rng.NormFloat64()*0.02)
		closes[i] = price
	}
	return SeriesFromCloses(t, ticker, closes, withVolume)
}

// CyclicalSeries returns a noiseless trend with a sine cycle on top
func CyclicalSeries(t *testing.T, ticker string, n int, drift, amplitude float64, period int) *domain.PriceSeries {
	t.Helper()
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 * math.Exp(drift*float64(i)+amplitude*math.Sin(2*math.Pi*float64(i)/float64(period)))
	}
	return SeriesFromCloses(t, ticker, closes, true)
}

// SeriesFromCloses builds bars around the given closes
func SeriesFromCloses(t *testing.T, ticker string, closes []float64, withVolume bool) *domain.PriceSeries {
	t.Helper()
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		vol := math.NaN()
		if withVolume {
			vol = 1e6 + float64(i%17)*1e4
		}
		bars[i] = domain.Bar{
			Date:   FixtureStart.AddDate(0, 0, i),
			Open:   c,
			High:   c * 1.005,
			Low:    c * 0.995,
			Close:  c,
			Volume: vol,
		}
	}
	s, err := domain.NewPriceSeries(ticker, bars, withVolume)
	if err != nil {
		t.Fatalf("Failed to build fixture series %s: %v", ticker, err)
	}
	return s
}

// NewAssetFixtures returns a small valid universe with one asset per behaviour
func NewAssetFixtures() []domain.AssetConfig {
	return []domain.AssetConfig{
		{
			Ticker: "BTC-USD", Tier: domain.TierCrypto,
			BaseWeight: 0.25, MinWeight: 0.05, MaxWeight: 0.40,
			ExitThreshold: 0.85, ReduceThreshold: 0.70, MoonbagFraction: 0.40,
		},
		{
			Ticker: "VWCE", Tier: domain.TierCore, Proxy: "^GSPC",
			BaseWeight: 0.35, MinWeight: 0.15, MaxWeight: 0.50,
			ExitThreshold: 0.90, ReduceThreshold: 0.75, MoonbagFraction: 0.60,
		},
		{
			Ticker: "GC=F", Tier: domain.TierCommodity,
			BaseWeight: 0.15, MinWeight: 0.05, MaxWeight: 0.25,
			ExitThreshold: 0.90, ReduceThreshold: 0.75, MoonbagFraction: 0.50,
		},
		{
			Ticker: "XEON", Tier: domain.TierCash,
			BaseWeight: 0.25, MinWeight: 0.0, MaxWeight: 1.0,
			ExitThreshold: 1.0, ReduceThreshold: 1.0, MoonbagFraction: 1.0,
			EstYield: 0.03,
		},
	}
}
