// Package factors computes the per-day risk factors of a price series and
// blends them into the composite risk score.
package factors

// Weights sets the contribution of each factor to the composite score.
// They are renormalized over the factors that are available for a series.
type Weights struct {
	Valuation  float64 `yaml:"valuation" json:"valuation"`
	Momentum   float64 `yaml:"momentum" json:"momentum"`
	Volatility float64 `yaml:"volatility" json:"volatility"`
	Volume     float64 `yaml:"volume" json:"volume"`
}

// Config holds every tunable of the factor engine
type Config struct {
	Weights Weights `yaml:"weights" json:"weights"`

	// ValuationMinPeriods is the warm-up before the first regression fit
	ValuationMinPeriods int `yaml:"valuation_min_periods" json:"valuation_min_periods"`
	// LinearWeight and QuadraticWeight blend the two model probabilities
	LinearWeight    float64 `yaml:"linear_weight" json:"linear_weight"`
	QuadraticWeight float64 `yaml:"quadratic_weight" json:"quadratic_weight"`
	// ResidualMinHistory is the residual count required before the residual
	// standard deviation replaces the fallback of 1.0
	ResidualMinHistory int `yaml:"residual_min_history" json:"residual_min_history"`
	// ReferenceEstimator switches valuation to the full-refit estimator
	ReferenceEstimator bool `yaml:"reference_estimator" json:"reference_estimator"`

	RSIPeriod             int     `yaml:"rsi_period" json:"rsi_period"`
	BollingerPeriod       int     `yaml:"bollinger_period" json:"bollinger_period"`
	BollingerStdDev       float64 `yaml:"bollinger_std_dev" json:"bollinger_std_dev"`
	MFIPeriod             int     `yaml:"mfi_period" json:"mfi_period"`
	PercentileLookback    int     `yaml:"percentile_lookback" json:"percentile_lookback"`
	PercentileMinFraction float64 `yaml:"percentile_min_fraction" json:"percentile_min_fraction"`

	// NeutralFill replaces an undefined factor on a given day
	NeutralFill float64 `yaml:"neutral_fill" json:"neutral_fill"`
}

// DefaultConfig returns the production factor settings
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			Valuation:  0.40,
			Momentum:   0.25,
			Volatility: 0.20,
			Volume:     0.15,
		},
		ValuationMinPeriods:   200,
		LinearWeight:          0.4,
		QuadraticWeight:       0.6,
		ResidualMinHistory:    10,
		RSIPeriod:             14,
		BollingerPeriod:       20,
		BollingerStdDev:       2.0,
		MFIPeriod:             14,
		PercentileLookback:    252,
		PercentileMinFraction: 0.5,
		NeutralFill:           0.5,
	}
}
