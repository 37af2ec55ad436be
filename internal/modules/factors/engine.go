package factors

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/riskcycle/internal/domain"
	"github.com/aristath/riskcycle/pkg/formulas"
)

var (
	// ErrInvalidPrice means a close was non-positive or undefined
	ErrInvalidPrice = errors.New("non-positive or undefined close")
	// ErrInvalidWeights means factor weights are negative or all zero
	ErrInvalidWeights = errors.New("invalid factor weights")
)

// FactorSeries holds the factor values aligned to the retained dates.
// Factor entries are NaN where the factor was not yet computable; Total is
// always defined.
type FactorSeries struct {
	Ticker          string      `json:"ticker"`
	Dates           []time.Time `json:"dates"`
	Close           []float64   `json:"close"`
	Valuation       []float64   `json:"risk_valuation"`
	Momentum        []float64   `json:"risk_momentum"`
	Volatility      []float64   `json:"risk_volatility"`
	Volume          []float64   `json:"risk_volume"`
	Total           []float64   `json:"risk_total"`
	VolumeAvailable bool        `json:"volume_available"`

	RSI            []float64        `json:"rsi"`
	BollingerWidth []float64        `json:"bb_width"`
	MFI            []float64        `json:"mfi"`
	Model          *ValuationResult `json:"-"`
}

// Len returns the number of retained rows
func (f *FactorSeries) Len() int {
	return len(f.Total)
}

// LastRisk returns the final composite risk, NaN when empty
func (f *FactorSeries) LastRisk() float64 {
	return formulas.Last(f.Total)
}

// Engine computes factor series. It holds no mutable state and is safe for
// concurrent use.
type Engine struct {
	cfg Config
	log zerolog.Logger
}

// NewEngine creates a factor engine
func NewEngine(cfg Config, log zerolog.Logger) *Engine {
	return &Engine{
		cfg: cfg,
		log: log.With().Str("component", "factor_engine").Logger(),
	}
}

// Config returns the engine settings
func (e *Engine) Config() Config {
	return e.cfg
}

// Compute derives all factors and the composite for a price series
func (e *Engine) Compute(series *domain.PriceSeries) (*FactorSeries, error) {
	if series == nil || series.Len() == 0 {
		return nil, domain.ErrNoData
	}
	if err := validateWeights(e.cfg.Weights, series.HasVolume); err != nil {
		return nil, err
	}

	closes := series.Closes()
	logPrices := make([]float64, len(closes))
	for i, c := range closes {
		if !(c > 0) || math.IsInf(c, 0) {
			return nil, fmt.Errorf("%s bar %d: %w", series.Ticker, i, ErrInvalidPrice)
		}
		logPrices[i] = math.Log(c)
	}

	start := time.Now()
	var model *ValuationResult
	if e.cfg.ReferenceEstimator {
		model = ReferenceValuationRisk(logPrices, e.cfg)
	} else {
		model = ValuationRisk(logPrices, e.cfg)
	}
	e.log.Debug().
		Str("ticker", series.Ticker).
		Int("bars", len(closes)).
		Bool("reference", e.cfg.ReferenceEstimator).
		Dur("duration_ms", time.Since(start)).
		Msg("Valuation model fitted")

	minPeriods := formulas.PercentileMinPeriods(e.cfg.PercentileLookback, e.cfg.PercentileMinFraction)

	rsi := formulas.WilderRSI(closes, e.cfg.RSIPeriod)
	momentum := formulas.RollingPercentileRank(rsi, e.cfg.PercentileLookback, minPeriods)

	width := formulas.BollingerWidth(closes, e.cfg.BollingerPeriod, e.cfg.BollingerStdDev)
	volatility := formulas.RollingPercentileRank(width, e.cfg.PercentileLookback, minPeriods)

	mfi := formulas.NaNSeries(len(closes))
	volume := formulas.NaNSeries(len(closes))
	if series.HasVolume {
		mfi = formulas.MoneyFlowIndex(series.Highs(), series.Lows(), closes, series.Volumes(), e.cfg.MFIPeriod)
		volume = formulas.RollingPercentileRank(mfi, e.cfg.PercentileLookback, minPeriods)
	}

	out := &FactorSeries{
		Ticker:          series.Ticker,
		VolumeAvailable: series.HasVolume,
		Model:           &ValuationResult{},
	}
	dates := series.Dates()
	for i := range closes {
		total, ok := Composite(model.Risk[i], momentum[i], volatility[i], volume[i], series.HasVolume, e.cfg.Weights, e.cfg.NeutralFill)
		if !ok {
			continue
		}
		out.Dates = append(out.Dates, dates[i])
		out.Close = append(out.Close, closes[i])
		out.Valuation = append(out.Valuation, model.Risk[i])
		out.Momentum = append(out.Momentum, momentum[i])
		out.Volatility = append(out.Volatility, volatility[i])
		out.Volume = append(out.Volume, volume[i])
		out.Total = append(out.Total, total)
		out.RSI = append(out.RSI, rsi[i])
		out.BollingerWidth = append(out.BollingerWidth, width[i])
		out.MFI = append(out.MFI, mfi[i])
		out.Model.Risk = append(out.Model.Risk, model.Risk[i])
		out.Model.PredLinear = append(out.Model.PredLinear, model.PredLinear[i])
		out.Model.PredQuad = append(out.Model.PredQuad, model.PredQuad[i])
		out.Model.ResidLinear = append(out.Model.ResidLinear, model.ResidLinear[i])
		out.Model.ResidQuad = append(out.Model.ResidQuad, model.ResidQuad[i])
	}

	return out, nil
}

// Composite blends one day's factors. Undefined factors count as fill; the
// day is undefined only when no available factor is defined. Volume is left
// out of both numerator and denominator when the series has no volume.
func Composite(valuation, momentum, volatility, volume float64, volumeAvailable bool, w Weights, fill float64) (float64, bool) {
	type term struct{ value, weight float64 }
	terms := []term{
		{valuation, w.Valuation},
		{momentum, w.Momentum},
		{volatility, w.Volatility},
	}
	if volumeAvailable {
		terms = append(terms, term{volume, w.Volume})
	}

	var num, den float64
	defined := false
	for _, t := range terms {
		v := t.value
		if formulas.IsNaN(v) {
			v = fill
		} else {
			defined = true
		}
		num += v * t.weight
		den += t.weight
	}
	if !defined || den == 0 {
		return math.NaN(), false
	}
	return formulas.Clip(num/den, 0, 1), true
}

func validateWeights(w Weights, volumeAvailable bool) error {
	if w.Valuation < 0 || w.Momentum < 0 || w.Volatility < 0 || w.Volume < 0 {
		return ErrInvalidWeights
	}
	sum := w.Valuation + w.Momentum + w.Volatility
	if volumeAvailable {
		sum += w.Volume
	}
	if sum <= 0 {
		return ErrInvalidWeights
	}
	return nil
}
