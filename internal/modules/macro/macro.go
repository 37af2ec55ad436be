// Package macro blends basket risks and cross-asset relationships into a
// single top-down risk reading.
package macro

import (
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/riskcycle/internal/domain"
	"github.com/aristath/riskcycle/pkg/formulas"
)

// Weights of the composite components
type Weights struct {
	Crypto float64 `yaml:"crypto" json:"crypto"`
	Metals float64 `yaml:"metals" json:"metals"`
	Macro  float64 `yaml:"macro" json:"macro"`
	China  float64 `yaml:"china" json:"china"`
	Social float64 `yaml:"social" json:"social"`
}

// Config names the basket tickers and static readings
type Config struct {
	CryptoTickers []string `yaml:"crypto_tickers" json:"crypto_tickers"`
	MetalTickers  []string `yaml:"metal_tickers" json:"metal_tickers"`
	GoldTicker    string   `yaml:"gold_ticker" json:"gold_ticker"`
	SilverTicker  string   `yaml:"silver_ticker" json:"silver_ticker"`
	MinerTicker   string   `yaml:"miner_ticker" json:"miner_ticker"`
	YieldTicker   string   `yaml:"yield_ticker" json:"yield_ticker"`
	BTCTicker     string   `yaml:"btc_ticker" json:"btc_ticker"`
	ETHTicker     string   `yaml:"eth_ticker" json:"eth_ticker"`

	Weights Weights `yaml:"weights" json:"weights"`
	// China and Social have no market feed and are configured readings
	ChinaRisk  float64 `yaml:"china_risk" json:"china_risk"`
	SocialRisk float64 `yaml:"social_risk" json:"social_risk"`

	CorrelationWindow int     `yaml:"correlation_window" json:"correlation_window"`
	LeverageWindow    int     `yaml:"leverage_window" json:"leverage_window"`
	Fallback          float64 `yaml:"fallback" json:"fallback"`
}

// DefaultConfig returns the production macro settings
func DefaultConfig() Config {
	return Config{
		CryptoTickers:     []string{"BTC-USD", "ETH-USD"},
		MetalTickers:      []string{"GC=F", "SI=F"},
		GoldTicker:        "GC=F",
		SilverTicker:      "SI=F",
		MinerTicker:       "GDX",
		YieldTicker:       "^TNX",
		BTCTicker:         "BTC-USD",
		ETHTicker:         "ETH-USD",
		Weights:           Weights{Crypto: 0.25, Metals: 0.25, Macro: 0.25, China: 0.15, Social: 0.10},
		ChinaRisk:         0.30,
		SocialRisk:        0.55,
		CorrelationWindow: 60,
		LeverageWindow:    60,
		Fallback:          0.5,
	}
}

// RiskTickers are the tickers whose composite risk feeds the baskets
func (c Config) RiskTickers() []string {
	out := append([]string{}, c.CryptoTickers...)
	return append(out, c.MetalTickers...)
}

// SeriesTickers are the tickers needed as raw price series
func (c Config) SeriesTickers() []string {
	return []string{c.GoldTicker, c.MinerTicker, c.YieldTicker}
}

// Inputs carries what the pipeline has computed for this run
type Inputs struct {
	LastRisk  map[string]float64
	LastPrice map[string]float64
	Series    map[string]*domain.PriceSeries
}

// Score is the macro reading
type Score struct {
	Composite float64 `json:"composite"`
	Status    string  `json:"status"`
	Crypto    float64 `json:"crypto"`
	Metals    float64 `json:"metals"`
	Macro     float64 `json:"macro"`
	China     float64 `json:"china"`
	Social    float64 `json:"social"`

	YieldCorrelation *float64 `json:"yield_gold_correlation"`
	MinerLeverage    *float64 `json:"miner_leverage_ratio"`
	GoldSilverRatio  *float64 `json:"gold_silver_ratio"`
	EthBtcRatio      *float64 `json:"eth_btc_ratio"`
	// Missing lists baskets that fell back to the neutral reading
	Missing []string `json:"missing,omitempty"`
}

// Analyzer computes macro scores
type Analyzer struct {
	cfg Config
	log zerolog.Logger
}

// NewAnalyzer creates a macro analyzer
func NewAnalyzer(cfg Config, log zerolog.Logger) *Analyzer {
	return &Analyzer{
		cfg: cfg,
		log: log.With().Str("component", "macro").Logger(),
	}
}

// Config returns the analyzer settings
func (a *Analyzer) Config() Config {
	return a.cfg
}

// Compose computes the composite from this run's inputs
func (a *Analyzer) Compose(in Inputs) *Score {
	c := a.cfg
	s := &Score{China: c.ChinaRisk, Social: c.SocialRisk}

	var ok bool
	if s.Crypto, ok = basketMean(in.LastRisk, c.CryptoTickers); !ok {
		s.Crypto = c.Fallback
		s.Missing = append(s.Missing, "crypto")
	}
	if s.Metals, ok = basketMean(in.LastRisk, c.MetalTickers); !ok {
		s.Metals = c.Fallback
		s.Missing = append(s.Missing, "metals")
	}

	gold, tnx, gdx := in.Series[c.GoldTicker], in.Series[c.YieldTicker], in.Series[c.MinerTicker]
	s.Macro = c.Fallback
	if corr, ok := YieldCorrelation(gold, tnx, c.CorrelationWindow); ok {
		s.YieldCorrelation = &corr
		s.Macro = formulas.Clip(0.5+0.5*corr, 0, 1)
	} else {
		s.Missing = append(s.Missing, "macro")
	}
	if mlr, ok := MinerLeverage(gold, gdx, c.LeverageWindow); ok {
		s.MinerLeverage = &mlr
	}
	s.GoldSilverRatio = ratio(in.LastPrice, c.GoldTicker, c.SilverTicker)
	s.EthBtcRatio = ratio(in.LastPrice, c.ETHTicker, c.BTCTicker)

	w := c.Weights
	s.Composite = formulas.Clip(
		s.Crypto*w.Crypto+s.Metals*w.Metals+s.Macro*w.Macro+s.China*w.China+s.Social*w.Social, 0, 1)
	s.Status = StatusLabel(s.Composite)

	a.log.Info().
		Float64("composite", s.Composite).
		Str("status", s.Status).
		Strs("missing", s.Missing).
		Msg("Macro composite computed")
	return s
}

// StatusLabel names a composite level
func StatusLabel(score float64) string {
	switch {
	case score < 0.20:
		return "EXTREME LOW"
	case score < 0.40:
		return "LOW"
	case score < 0.60:
		return "MODERATE"
	case score < 0.75:
		return "HIGH"
	case score < 0.85:
		return "VERY HIGH"
	default:
		return "EXTREME"
	}
}

// YieldCorrelation is the Pearson correlation of gold and yield levels over
// the last window common dates
func YieldCorrelation(gold, yield *domain.PriceSeries, window int) (float64, bool) {
	g, y := alignCloses(gold, yield)
	if window <= 1 || len(g) < window {
		return 0, false
	}
	corr := formulas.Correlation(g[len(g)-window:], y[len(y)-window:])
	if math.IsNaN(corr) {
		return 0, false
	}
	return corr, true
}

// MinerLeverage is the miner return over the gold return, both summed over
// the last window daily returns on common dates
func MinerLeverage(gold, miner *domain.PriceSeries, window int) (float64, bool) {
	g, m := alignCloses(gold, miner)
	if window <= 0 || len(g) < window+1 {
		return 0, false
	}
	gr := formulas.CalculateReturns(g[len(g)-window-1:])
	mr := formulas.CalculateReturns(m[len(m)-window-1:])
	var sg, sm float64
	for i := range gr {
		sg += gr[i]
		sm += mr[i]
	}
	if sg == 0 {
		return 0, false
	}
	return sm / sg, true
}

func basketMean(risk map[string]float64, tickers []string) (float64, bool) {
	var sum float64
	var n int
	for _, t := range tickers {
		if v, ok := risk[t]; ok && !math.IsNaN(v) {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func ratio(prices map[string]float64, num, den string) *float64 {
	a, okA := prices[num]
	b, okB := prices[den]
	if !okA || !okB || b <= 0 || math.IsNaN(a) {
		return nil
	}
	r := a / b
	return &r
}

// dayKey ignores the time of day so series from different exchanges align
func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func alignCloses(a, b *domain.PriceSeries) ([]float64, []float64) {
	if a == nil || b == nil {
		return nil, nil
	}
	idx := make(map[string]float64, b.Len())
	for _, bar := range b.Bars {
		idx[dayKey(bar.Date)] = bar.Close
	}
	var xa, xb []float64
	for _, bar := range a.Bars {
		if v, ok := idx[dayKey(bar.Date)]; ok {
			xa = append(xa, bar.Close)
			xb = append(xb, v)
		}
	}
	return xa, xb
}
