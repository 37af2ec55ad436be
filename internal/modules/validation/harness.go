// Package validation scores whether a composite risk series has predicted
// forward returns, using a rubric chosen by the asset's trend regime.
package validation

import (
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/aristath/riskcycle/internal/modules/factors"
	"github.com/aristath/riskcycle/pkg/formulas"
)

var (
	// ErrInsufficientSamples means too few rows had a defined forward return
	ErrInsufficientSamples = errors.New("insufficient validation samples")
	// ErrDegenerateSeries means risk or forward returns had no variation
	ErrDegenerateSeries = errors.New("degenerate series")
)

// RegimeType selects the scoring rubric
type RegimeType string

const (
	RegimeMomentum      RegimeType = "MOMENTUM"
	RegimeMeanReversion RegimeType = "MEAN_REVERSION"
)

// Config holds the harness tunables
type Config struct {
	Horizon        int     `yaml:"horizon" json:"horizon"`
	MinRows        int     `yaml:"min_rows" json:"min_rows"`
	MinSamples     int     `yaml:"min_samples" json:"min_samples"`
	TrendSMA       int     `yaml:"trend_sma" json:"trend_sma"`
	TrendThreshold float64 `yaml:"trend_threshold" json:"trend_threshold"`
	// HygieneSamples is the sample count above which the data points are awarded
	HygieneSamples int `yaml:"hygiene_samples" json:"hygiene_samples"`
	// BucketEdges are the upper edges of the Strong Buy, Buy, Hold and Reduce bands
	BucketEdges          [4]float64 `yaml:"bucket_edges" json:"bucket_edges"`
	CorrelationThreshold float64    `yaml:"correlation_threshold" json:"correlation_threshold"`
	PumpRiskExcellent    float64    `yaml:"pump_risk_excellent" json:"pump_risk_excellent"`
	PumpRiskGood         float64    `yaml:"pump_risk_good" json:"pump_risk_good"`
	CrashRiskExcellent   float64    `yaml:"crash_risk_excellent" json:"crash_risk_excellent"`
	CrashRiskGood        float64    `yaml:"crash_risk_good" json:"crash_risk_good"`
}

// DefaultConfig returns the production harness settings
func DefaultConfig() Config {
	return Config{
		Horizon:              30,
		MinRows:              200,
		MinSamples:           100,
		TrendSMA:             200,
		TrendThreshold:       0.30,
		HygieneSamples:       365,
		BucketEdges:          [4]float64{0.3, 0.4, 0.6, 0.75},
		CorrelationThreshold: -0.1,
		PumpRiskExcellent:    0.50,
		PumpRiskGood:         0.60,
		CrashRiskExcellent:   0.50,
		CrashRiskGood:        0.35,
	}
}

// Result is the trust score and the evidence behind it. Zone and win-rate
// fields are only populated by the mean-reversion rubric; pump and crash
// fields only by the momentum rubric.
type Result struct {
	Score           int        `json:"score"`
	Regime          RegimeType `json:"regime_type,omitempty"`
	Samples         int        `json:"n_samples"`
	TrendStrength   float64    `json:"trend_strength"`
	RankCorrelation float64    `json:"correlation"`

	AvgRiskPump  float64 `json:"avg_risk_pump"`
	AvgRiskCrash float64 `json:"avg_risk_crash"`

	AvgReturnBuyZone  float64 `json:"avg_return_buy_zone"`
	AvgReturnSellZone float64 `json:"avg_return_sell_zone"`
	WinRateBuy        float64 `json:"win_rate_buy"`
	WinRateSell       float64 `json:"win_rate_sell"`

	Reason string `json:"reason,omitempty"`
}

// Harness validates factor series. It is stateless.
type Harness struct {
	cfg Config
	log zerolog.Logger
}

// NewHarness creates a validation harness
func NewHarness(cfg Config, log zerolog.Logger) *Harness {
	return &Harness{
		cfg: cfg,
		log: log.With().Str("component", "validation").Logger(),
	}
}

// sample is one row with a defined forward return
type sample struct {
	close float64
	risk  float64
	fwd   float64
}

// Config returns the harness configuration
func (h *Harness) Config() Config {
	return h.cfg
}

// Validate scores fs. The returned Result is always usable; on
// ErrInsufficientSamples it carries score 0 and a reason.
func (h *Harness) Validate(fs *factors.FactorSeries) (*Result, error) {
	if fs == nil || fs.Len() < h.cfg.MinRows {
		n := 0
		if fs != nil {
			n = fs.Len()
		}
		return &Result{Reason: "Insufficient Data"}, fmt.Errorf("%d rows, need %d: %w", n, h.cfg.MinRows, ErrInsufficientSamples)
	}

	samples := h.collect(fs)
	if len(samples) < h.cfg.MinSamples {
		return &Result{Samples: len(samples), Reason: "Insufficient Data"},
			fmt.Errorf("%d samples, need %d: %w", len(samples), h.cfg.MinSamples, ErrInsufficientSamples)
	}

	res, err := h.score(samples)
	if err != nil {
		return res, err
	}
	h.log.Debug().
		Str("ticker", fs.Ticker).
		Int("score", res.Score).
		Str("regime", string(res.Regime)).
		Float64("correlation", res.RankCorrelation).
		Msg("Validation scored")
	return res, nil
}

// collect keeps rows whose forward return and every available factor are defined
func (h *Harness) collect(fs *factors.FactorSeries) []sample {
	n := fs.Len()
	out := make([]sample, 0, n)
	for i := 0; i+h.cfg.Horizon < n; i++ {
		if formulas.IsNaN(fs.Valuation[i]) || formulas.IsNaN(fs.Momentum[i]) || formulas.IsNaN(fs.Volatility[i]) {
			continue
		}
		if fs.VolumeAvailable && formulas.IsNaN(fs.Volume[i]) {
			continue
		}
		fwd := fs.Close[i+h.cfg.Horizon]/fs.Close[i] - 1
		if formulas.IsNaN(fwd) || math.IsInf(fwd, 0) {
			continue
		}
		out = append(out, sample{close: fs.Close[i], risk: fs.Total[i], fwd: fwd})
	}
	return out
}

func (h *Harness) score(samples []sample) (*Result, error) {
	risks := make([]float64, len(samples))
	fwds := make([]float64, len(samples))
	closes := make([]float64, len(samples))
	for i, s := range samples {
		risks[i], fwds[i], closes[i] = s.risk, s.fwd, s.close
	}

	res := &Result{Samples: len(samples)}
	res.TrendStrength = trendStrength(closes, h.cfg.TrendSMA)
	res.Regime = RegimeMeanReversion
	if res.TrendStrength > h.cfg.TrendThreshold {
		res.Regime = RegimeMomentum
	}

	corr := formulas.SpearmanCorrelation(risks, fwds)
	if formulas.IsNaN(corr) {
		res.Reason = "risk or forward return has no variation"
		return res, ErrDegenerateSeries
	}
	res.RankCorrelation = corr

	if res.Regime == RegimeMomentum {
		h.scoreMomentum(res, risks, fwds)
	} else {
		h.scoreMeanReversion(res, risks, fwds)
	}
	if res.Samples > h.cfg.HygieneSamples {
		res.Score += 20
	}
	return res, nil
}

// trendStrength is the share of rows closing above their SMA, with the
// warm-up back-filled from the first defined average
func trendStrength(closes []float64, period int) float64 {
	sma := formulas.SMA(closes, period)
	first := math.NaN()
	for _, v := range sma {
		if !formulas.IsNaN(v) {
			first = v
			break
		}
	}

	above := 0
	for i, c := range closes {
		ma := sma[i]
		if formulas.IsNaN(ma) {
			ma = first
		}
		if c > ma {
			above++
		}
	}
	return float64(above) / float64(len(closes))
}

func (h *Harness) scoreMomentum(res *Result, risks, fwds []float64) {
	top := formulas.Quantile(fwds, 0.8)
	bottom := formulas.Quantile(fwds, 0.2)

	var pump, crash []float64
	for i, f := range fwds {
		if f > top {
			pump = append(pump, risks[i])
		}
		if f < bottom {
			crash = append(crash, risks[i])
		}
	}
	// an empty quintile has an undefined mean: it fails every comparison
	// and is reported as 0
	pumpRisk := meanOrNaN(pump)
	crashRisk := meanOrNaN(crash)

	switch {
	case pumpRisk < h.cfg.PumpRiskExcellent:
		res.Score += 40
	case pumpRisk < h.cfg.PumpRiskGood:
		res.Score += 20
	}
	switch {
	case crashRisk > h.cfg.CrashRiskExcellent:
		res.Score += 40
	case crashRisk > h.cfg.CrashRiskGood:
		res.Score += 20
	}

	if !formulas.IsNaN(pumpRisk) {
		res.AvgRiskPump = pumpRisk
	}
	if !formulas.IsNaN(crashRisk) {
		res.AvgRiskCrash = crashRisk
	}
}

func (h *Harness) scoreMeanReversion(res *Result, risks, fwds []float64) {
	buckets := make([][]float64, 5)
	for i, r := range risks {
		if b := h.bucket(r); b >= 0 {
			buckets[b] = append(buckets[b], fwds[i])
		}
	}

	buy := firstNonEmpty(buckets[0], buckets[1])
	sell := firstNonEmpty(buckets[4], buckets[3])

	avgBuy, avgSell := -999.0, 999.0
	wrBuy, wrSell := 0.0, 1.0
	if buy != nil {
		avgBuy, wrBuy = formulas.Mean(buy), winRate(buy)
		res.AvgReturnBuyZone, res.WinRateBuy = avgBuy, wrBuy
	}
	if sell != nil {
		avgSell, wrSell = formulas.Mean(sell), winRate(sell)
		res.AvgReturnSellZone, res.WinRateSell = avgSell, wrSell
	}

	if avgBuy > avgSell {
		res.Score += 40
	}
	if wrBuy > wrSell {
		res.Score += 20
	}
	if res.RankCorrelation < h.cfg.CorrelationThreshold {
		res.Score += 20
	}
}

// bucket returns the band index for right-closed intervals
// (0,e0], (e0,e1], (e1,e2], (e2,e3], (e3,1]; -1 outside (0,1]
func (h *Harness) bucket(r float64) int {
	if !(r > 0) || r > 1 {
		return -1
	}
	for i, edge := range h.cfg.BucketEdges {
		if r <= edge {
			return i
		}
	}
	return 4
}

func firstNonEmpty(groups ...[]float64) []float64 {
	for _, g := range groups {
		if len(g) > 0 {
			return g
		}
	}
	return nil
}

func winRate(values []float64) float64 {
	wins := 0
	for _, v := range values {
		if v > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(values))
}

func meanOrNaN(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return formulas.Mean(values)
}
