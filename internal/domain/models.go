// Package domain provides core domain models and types.
package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoData means the data source returned nothing for a ticker
	ErrNoData = errors.New("no data")
	// ErrInsufficientHistory means a series is too short for the model
	ErrInsufficientHistory = errors.New("insufficient history")
	// ErrUnorderedSeries means bar dates are not strictly increasing
	ErrUnorderedSeries = errors.New("bars not strictly increasing by date")
)

// Tier groups assets that share allocation behaviour
type Tier string

const (
	TierCrypto     Tier = "CRYPTO"
	TierCore       Tier = "CORE"
	TierSatellite  Tier = "SATELLITE"
	TierAggressive Tier = "AGGRESSIVE"
	TierGrowth     Tier = "GROWTH"
	TierCommodity  Tier = "COMMODITY"
	// TierCash assets carry no market risk and have no proxy
	TierCash Tier = "CASH"
)

// Valid reports whether t is a known tier
func (t Tier) Valid() bool {
	switch t {
	case TierCrypto, TierCore, TierSatellite, TierAggressive, TierGrowth, TierCommodity, TierCash:
		return true
	}
	return false
}

// Regime is the per-asset trend classification used by the allocator
type Regime string

const (
	RegimeBull    Regime = "BULL"
	RegimeBear    Regime = "BEAR"
	RegimeNeutral Regime = "NEUTRAL"
)

// Rating is the headline recommendation derived from the composite risk
type Rating string

const (
	RatingBuy  Rating = "BUY"
	RatingHold Rating = "HOLD"
	RatingSell Rating = "SELL"
)

// Bar is one daily observation. Volume is NaN when the source omitted it for
// that day.
type Bar struct {
	Date   time.Time `json:"date" msgpack:"d"`
	Open   float64   `json:"open" msgpack:"o"`
	High   float64   `json:"high" msgpack:"h"`
	Low    float64   `json:"low" msgpack:"l"`
	Close  float64   `json:"close" msgpack:"c"`
	Volume float64   `json:"volume" msgpack:"v"`
}

// PriceSeries is an ordered daily history for one ticker. HasVolume is false
// when the source carries no volume at all, which is distinct from zero volume.
type PriceSeries struct {
	Ticker    string `json:"ticker" msgpack:"t"`
	Bars      []Bar  `json:"bars" msgpack:"b"`
	HasVolume bool   `json:"has_volume" msgpack:"hv"`
}

// NewPriceSeries validates ordering and returns the series
func NewPriceSeries(ticker string, bars []Bar, hasVolume bool) (*PriceSeries, error) {
	for i := 1; i < len(bars); i++ {
		if !bars[i].Date.After(bars[i-1].Date) {
			return nil, fmt.Errorf("%s at %s: %w", ticker, bars[i].Date.Format("2006-01-02"), ErrUnorderedSeries)
		}
	}
	return &PriceSeries{Ticker: ticker, Bars: bars, HasVolume: hasVolume}, nil
}

// Len returns the number of bars
func (s *PriceSeries) Len() int {
	return len(s.Bars)
}

// Truncate returns the first n bars as a new series sharing no backing array
func (s *PriceSeries) Truncate(n int) *PriceSeries {
	if n > len(s.Bars) {
		n = len(s.Bars)
	}
	bars := make([]Bar, n)
	copy(bars, s.Bars[:n])
	return &PriceSeries{Ticker: s.Ticker, Bars: bars, HasVolume: s.HasVolume}
}

// Dates returns the bar dates
func (s *PriceSeries) Dates() []time.Time {
	out := make([]time.Time, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Date
	}
	return out
}

// Closes returns the close prices
func (s *PriceSeries) Closes() []float64 {
	return s.column(func(b Bar) float64 { return b.Close })
}

// Highs returns the high prices
func (s *PriceSeries) Highs() []float64 {
	return s.column(func(b Bar) float64 { return b.High })
}

// Lows returns the low prices
func (s *PriceSeries) Lows() []float64 {
	return s.column(func(b Bar) float64 { return b.Low })
}

// Volumes returns the volumes
func (s *PriceSeries) Volumes() []float64 {
	return s.column(func(b Bar) float64 { return b.Volume })
}

func (s *PriceSeries) column(f func(Bar) float64) []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = f(b)
	}
	return out
}
