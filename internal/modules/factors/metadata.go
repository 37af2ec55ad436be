package factors

import (
	"strings"
	"time"

	"github.com/aristath/riskcycle/internal/domain"
	"github.com/aristath/riskcycle/pkg/formulas"
)

// RatingThresholds maps composite risk to BUY/HOLD/SELL
type RatingThresholds struct {
	Buy  float64 `yaml:"buy" json:"buy"`
	Sell float64 `yaml:"sell" json:"sell"`
}

// RatingConfig carries the default thresholds and per-tier overrides
type RatingConfig struct {
	Default RatingThresholds                 `yaml:"default" json:"default"`
	ByTier  map[domain.Tier]RatingThresholds `yaml:"by_tier" json:"by_tier"`
}

// DefaultRatingConfig returns BUY below 0.30 and SELL above 0.75
func DefaultRatingConfig() RatingConfig {
	return RatingConfig{Default: RatingThresholds{Buy: 0.30, Sell: 0.75}}
}

// Rate returns the rating for risk under tier's thresholds
func (c RatingConfig) Rate(risk float64, tier domain.Tier) domain.Rating {
	th := c.Default
	if override, ok := c.ByTier[tier]; ok {
		th = override
	}
	switch {
	case risk < th.Buy:
		return domain.RatingBuy
	case risk > th.Sell:
		return domain.RatingSell
	default:
		return domain.RatingHold
	}
}

// TrendBands are the long-horizon weekly bands, expressed in daily bars.
// A band is 0 while its window is longer than the history.
type TrendBands struct {
	SMA20W  float64 `json:"sma_20w"`
	EMA21W  float64 `json:"ema_21w"`
	SMA50W  float64 `json:"sma_50w"`
	SMA200W float64 `json:"sma_200w"`
}

// Metadata summarises the latest state of an asset
type Metadata struct {
	Ticker          string        `json:"ticker"`
	AsOf            time.Time     `json:"as_of"`
	LastPrice       float64       `json:"last_price"`
	LastRisk        float64       `json:"last_risk"`
	Rating          domain.Rating `json:"rating"`
	MA50Distance    *float64      `json:"ma50_dist,omitempty"`
	MA200Distance   *float64      `json:"ma200_dist,omitempty"`
	Return7D        *float64      `json:"ret_7d,omitempty"`
	Return30D       *float64      `json:"ret_30d,omitempty"`
	Return90D       *float64      `json:"ret_90d,omitempty"`
	Return365D      *float64      `json:"ret_365d,omitempty"`
	CurrentDrawdown float64       `json:"current_drawdown"`
	MaxDrawdown     float64       `json:"max_drawdown"`
	Bands           *TrendBands   `json:"bands,omitempty"`
}

// HasTrendBands reports whether weekly bands are tracked for the ticker
func HasTrendBands(ticker string) bool {
	return strings.HasSuffix(ticker, "-USD") || ticker == "GC=F" || ticker == "SI=F"
}

// BuildMetadata derives the summary. Price statistics use the full series;
// only the risk and rating come from the factor rows.
func BuildMetadata(fs *FactorSeries, series *domain.PriceSeries, tier domain.Tier, ratings RatingConfig) *Metadata {
	if fs == nil || fs.Len() == 0 {
		return nil
	}
	closes, asOf := fs.Close, fs.Dates[len(fs.Dates)-1]
	if series != nil && series.Len() > 0 {
		closes, asOf = series.Closes(), series.Bars[series.Len()-1].Date
	}
	last := formulas.Last(closes)

	md := &Metadata{
		Ticker:     fs.Ticker,
		AsOf:       asOf,
		LastPrice:  last,
		LastRisk:   fs.LastRisk(),
		Return7D:   formulas.PctReturn(closes, 7),
		Return30D:  formulas.PctReturn(closes, 30),
		Return90D:  formulas.PctReturn(closes, 90),
		Return365D: formulas.PctReturn(closes, 365),
	}
	md.Rating = ratings.Rate(md.LastRisk, tier)
	md.MA50Distance = maDistance(closes, 50)
	md.MA200Distance = maDistance(closes, 200)

	if dd := formulas.CalculateDrawdownMetrics(closes); dd != nil {
		md.CurrentDrawdown = dd.CurrentDrawdown
		md.MaxDrawdown = dd.MaxDrawdown
	}

	if HasTrendBands(fs.Ticker) {
		md.Bands = &TrendBands{
			SMA20W:  lastOrZero(formulas.SMA(closes, 140)),
			EMA21W:  lastOrZero(formulas.EMA(closes, 147)),
			SMA50W:  lastOrZero(formulas.SMA(closes, 350)),
			SMA200W: lastOrZero(formulas.SMA(closes, 1400)),
		}
	}
	return md
}

func maDistance(closes []float64, period int) *float64 {
	ma := formulas.Last(formulas.SMA(closes, period))
	if formulas.IsNaN(ma) || ma == 0 {
		return nil
	}
	d := formulas.Last(closes)/ma - 1
	return &d
}

func lastOrZero(values []float64) float64 {
	v := formulas.Last(values)
	if formulas.IsNaN(v) {
		return 0
	}
	return v
}
