package backtest

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/riskcycle/internal/domain"
	"github.com/aristath/riskcycle/internal/modules/factors"
	"github.com/aristath/riskcycle/pkg/formulas"
)

// ErrInsufficientRows means the window is shorter than MinRows
var ErrInsufficientRows = errors.New("insufficient rows for backtest")

// Metrics summarises one equity curve
type Metrics struct {
	FinalMultiple float64  `json:"final_multiple"`
	TotalReturn   float64  `json:"total_return"`
	CAGR          *float64 `json:"cagr"`
	Volatility    float64  `json:"volatility"`
	Sharpe        *float64 `json:"sharpe"`
	MaxDrawdown   float64  `json:"max_drawdown"`
}

// Result is a completed simulation
type Result struct {
	Ticker   string      `json:"ticker"`
	Tier     domain.Tier `json:"tier"`
	Start    time.Time   `json:"start"`
	End      time.Time   `json:"end"`
	Days     int         `json:"days"`
	Strategy Metrics     `json:"strategy"`
	BuyHold  Metrics     `json:"buy_and_hold"`
	// Alpha is the difference in final growth multiples
	Alpha float64 `json:"alpha"`
	// Protection is how much shallower the strategy drawdown was
	Protection float64 `json:"drawdown_protection"`
	Trades     int     `json:"trades"`
	Turnover   float64 `json:"turnover"`

	Dates         []time.Time `json:"-"`
	Positions     []float64   `json:"-"`
	StrategyCurve []float64   `json:"-"`
	BuyHoldCurve  []float64   `json:"-"`
}

// Runner simulates the position policy
type Runner struct {
	cfg Config
	log zerolog.Logger
}

// NewRunner creates a backtest runner
func NewRunner(cfg Config, log zerolog.Logger) *Runner {
	return &Runner{
		cfg: cfg,
		log: log.With().Str("component", "backtest").Logger(),
	}
}

// Config returns the runner settings
func (r *Runner) Config() Config {
	return r.cfg
}

// Run simulates the factor series for an asset of the given tier
func (r *Runner) Run(fs *factors.FactorSeries, tier domain.Tier) (*Result, error) {
	return r.RunWith(fs, tier, r.cfg)
}

// RunWith simulates with an explicit config
func (r *Runner) RunWith(fs *factors.FactorSeries, tier domain.Tier, cfg Config) (*Result, error) {
	if fs == nil || fs.Len() == 0 {
		return nil, domain.ErrNoData
	}

	momentum := trailingMomentum(fs.Close, cfg.MomentumLookback)
	positions := Positions(fs.Total, momentum, cfg.ThresholdsFor(tier), cfg)

	start := 0
	if cfg.Years > 0 {
		cutoff := fs.Dates[len(fs.Dates)-1].AddDate(-cfg.Years, 0, 0)
		for start < fs.Len() && fs.Dates[start].Before(cutoff) {
			start++
		}
	}
	n := fs.Len() - start
	if n < cfg.MinRows || n < 2 {
		return nil, fmt.Errorf("%s: %d rows, need %d: %w", fs.Ticker, n, cfg.MinRows, ErrInsufficientRows)
	}

	closes := fs.Close[start:]
	pos := positions[start:]
	raw := formulas.CalculateReturns(closes)
	strat := StrategyReturns(pos, raw, cfg.Fee)

	res := &Result{
		Ticker:        fs.Ticker,
		Tier:          tier,
		Start:         fs.Dates[start],
		End:           fs.Dates[len(fs.Dates)-1],
		Days:          n,
		Dates:         fs.Dates[start:],
		Positions:     pos,
		StrategyCurve: equityCurve(strat),
		BuyHoldCurve:  equityCurve(raw),
	}
	ppy := PeriodsPerYear(tier)
	res.Strategy = summarise(strat, res.StrategyCurve, cfg.RiskFreeRate, ppy)
	res.BuyHold = summarise(raw, res.BuyHoldCurve, cfg.RiskFreeRate, ppy)
	res.Alpha = res.Strategy.FinalMultiple - res.BuyHold.FinalMultiple
	res.Protection = math.Abs(res.BuyHold.MaxDrawdown) - math.Abs(res.Strategy.MaxDrawdown)

	for i := 1; i < len(pos); i++ {
		d := math.Abs(pos[i] - pos[i-1])
		if d > 0 {
			res.Trades++
			res.Turnover += d
		}
	}

	r.log.Debug().
		Str("ticker", fs.Ticker).
		Int("days", n).
		Float64("alpha", res.Alpha).
		Int("trades", res.Trades).
		Msg("Backtest complete")
	return res, nil
}

// Positions maps each day's risk to a target exposure. Exposure at i only
// depends on risk and momentum at i; neutral and undefined days keep the
// previous exposure.
func Positions(risk, momentum []float64, th Thresholds, cfg Config) []float64 {
	out := make([]float64, len(risk))
	prev := cfg.InitialPosition
	for i, rk := range risk {
		pos := prev
		if !math.IsNaN(rk) {
			exit, reduce := th.Exit, th.Reduce
			if i < len(momentum) && momentum[i] > cfg.MomentumThreshold {
				exit += cfg.MomentumExtension
				reduce += cfg.MomentumExtension
			}
			switch {
			case rk > exit:
				pos = cfg.ExitPosition
			case rk > reduce:
				pos = cfg.ReducePosition
			case rk < cfg.ValueThreshold:
				pos = math.Min(cfg.MaxPosition, th.Boost)
			}
		}
		out[i] = pos
		prev = pos
	}
	return out
}

// StrategyReturns applies yesterday's position to today's return and charges
// fee on today's position change. raw[k] is the return from day k to k+1.
func StrategyReturns(positions, raw []float64, fee float64) []float64 {
	out := make([]float64, len(raw))
	for k, ret := range raw {
		i := k + 1
		trade := math.Abs(positions[i] - positions[i-1])
		out[k] = positions[i-1]*ret - trade*fee
	}
	return out
}

func trailingMomentum(closes []float64, lookback int) []float64 {
	out := formulas.NaNSeries(len(closes))
	if lookback <= 0 {
		return out
	}
	for i := lookback; i < len(closes); i++ {
		if base := closes[i-lookback]; base > 0 {
			out[i] = closes[i]/base - 1
		}
	}
	return out
}

// equityCurve starts at 1 on the first day so it aligns with the dates
func equityCurve(returns []float64) []float64 {
	return append([]float64{1}, formulas.CumulativeCurve(returns)...)
}

func summarise(returns, curve []float64, rf float64, periodsPerYear int) Metrics {
	m := Metrics{FinalMultiple: 1}
	if len(curve) > 0 {
		m.FinalMultiple = curve[len(curve)-1]
	}
	m.TotalReturn = m.FinalMultiple - 1
	m.CAGR = formulas.CalculateCAGRFromMultiple(m.FinalMultiple, len(returns), periodsPerYear)
	m.Volatility = formulas.AnnualizedVolatility(returns, periodsPerYear)
	m.Sharpe = formulas.CalculateSharpeRatio(returns, rf, periodsPerYear)
	if dd := formulas.CalculateMaxDrawdown(curve); dd != nil {
		m.MaxDrawdown = *dd
	}
	return m
}
