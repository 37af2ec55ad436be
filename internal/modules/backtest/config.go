// Package backtest replays the zone policy on a single asset's history.
package backtest

import "github.com/aristath/riskcycle/internal/domain"

// Thresholds are the risk bands driving the simulated position
type Thresholds struct {
	Exit   float64 `yaml:"exit" json:"exit"`
	Reduce float64 `yaml:"reduce" json:"reduce"`
	Boost  float64 `yaml:"boost" json:"boost"`
}

// Config holds simulation parameters
type Config struct {
	ByTier  map[domain.Tier]Thresholds `yaml:"by_tier" json:"by_tier"`
	Default Thresholds                 `yaml:"default" json:"default"`

	ValueThreshold  float64 `yaml:"value_threshold" json:"value_threshold"`
	ExitPosition    float64 `yaml:"exit_position" json:"exit_position"`
	ReducePosition  float64 `yaml:"reduce_position" json:"reduce_position"`
	MaxPosition     float64 `yaml:"max_position" json:"max_position"`
	InitialPosition float64 `yaml:"initial_position" json:"initial_position"`

	MomentumThreshold float64 `yaml:"momentum_threshold" json:"momentum_threshold"`
	MomentumExtension float64 `yaml:"momentum_extension" json:"momentum_extension"`
	MomentumLookback  int     `yaml:"momentum_lookback" json:"momentum_lookback"`

	Fee          float64 `yaml:"fee" json:"fee"`
	RiskFreeRate float64 `yaml:"risk_free_rate" json:"risk_free_rate"`
	// Years limits the simulation to the trailing window, 0 uses everything
	Years   int `yaml:"years" json:"years"`
	MinRows int `yaml:"min_rows" json:"min_rows"`
}

// DefaultConfig returns the production backtest settings
func DefaultConfig() Config {
	return Config{
		ByTier: map[domain.Tier]Thresholds{
			domain.TierCrypto:     {Exit: 0.85, Reduce: 0.75, Boost: 1.4},
			domain.TierCore:       {Exit: 0.80, Reduce: 0.70, Boost: 1.4},
			domain.TierCommodity:  {Exit: 0.78, Reduce: 0.68, Boost: 1.2},
			domain.TierGrowth:     {Exit: 0.75, Reduce: 0.65, Boost: 1.2},
			domain.TierSatellite:  {Exit: 0.75, Reduce: 0.65, Boost: 1.2},
			domain.TierAggressive: {Exit: 0.85, Reduce: 0.75, Boost: 1.4},
		},
		Default:           Thresholds{Exit: 0.80, Reduce: 0.70, Boost: 1.4},
		ValueThreshold:    0.30,
		ExitPosition:      0.2,
		ReducePosition:    0.5,
		MaxPosition:       1.5,
		InitialPosition:   1.0,
		MomentumThreshold: 0.15,
		MomentumExtension: 0.05,
		MomentumLookback:  30,
		Fee:               0.001,
		RiskFreeRate:      0.04,
		Years:             5,
		MinRows:           150,
	}
}

// ThresholdsFor returns the bands of a tier
func (c Config) ThresholdsFor(tier domain.Tier) Thresholds {
	if th, ok := c.ByTier[tier]; ok {
		return th
	}
	return c.Default
}

// PeriodsPerYear is 365 for round-the-clock markets and 252 otherwise
func PeriodsPerYear(tier domain.Tier) int {
	if tier == domain.TierCrypto {
		return 365
	}
	return 252
}
