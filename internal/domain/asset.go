package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidAssetConfig is wrapped by AssetConfig.Validate failures
var ErrInvalidAssetConfig = errors.New("invalid asset config")

// AssetConfig is the static allocation profile of one held asset
type AssetConfig struct {
	Ticker string `json:"ticker" yaml:"ticker"`
	Tier   Tier   `json:"tier" yaml:"tier"`
	// Proxy is the ticker whose risk drives this asset; empty means the
	// asset's own ticker, and CASH assets never have one
	Proxy           string  `json:"proxy,omitempty" yaml:"proxy"`
	BaseWeight      float64 `json:"base_weight" yaml:"base_weight"`
	MinWeight       float64 `json:"min_weight" yaml:"min_weight"`
	MaxWeight       float64 `json:"max_weight" yaml:"max_weight"`
	ExitThreshold   float64 `json:"exit_threshold" yaml:"exit_threshold"`
	ReduceThreshold float64 `json:"reduce_threshold" yaml:"reduce_threshold"`
	MoonbagFraction float64 `json:"moonbag_fraction" yaml:"moonbag_fraction"`
	EstYield        float64 `json:"est_yield" yaml:"est_yield"`
	Custody         string  `json:"custody,omitempty" yaml:"custody"`
}

// IsCash reports whether the asset is risk-free cash
func (a AssetConfig) IsCash() bool {
	return a.Tier == TierCash
}

// RiskTicker is the ticker analysed for this asset, empty for cash
func (a AssetConfig) RiskTicker() string {
	if a.IsCash() {
		return ""
	}
	if a.Proxy != "" {
		return a.Proxy
	}
	return a.Ticker
}

// Validate checks weight bounds and threshold ordering
func (a AssetConfig) Validate() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%s: %s: %w", a.Ticker, fmt.Sprintf(format, args...), ErrInvalidAssetConfig)
	}

	if a.Ticker == "" {
		return fmt.Errorf("empty ticker: %w", ErrInvalidAssetConfig)
	}
	if !a.Tier.Valid() {
		return fail("unknown tier %q", a.Tier)
	}
	if a.MinWeight < 0 || a.MinWeight > a.BaseWeight || a.BaseWeight > a.MaxWeight || a.MaxWeight > 1 {
		return fail("weights must satisfy 0 <= min <= base <= max <= 1 (%.3f, %.3f, %.3f)", a.MinWeight, a.BaseWeight, a.MaxWeight)
	}
	if a.IsCash() {
		if a.Proxy != "" {
			return fail("cash asset cannot have proxy %q", a.Proxy)
		}
		return nil
	}
	if a.ReduceThreshold > a.ExitThreshold {
		return fail("reduce threshold %.2f above exit threshold %.2f", a.ReduceThreshold, a.ExitThreshold)
	}
	if a.MoonbagFraction < 0 || a.MoonbagFraction > 1 {
		return fail("moonbag fraction %.2f outside [0, 1]", a.MoonbagFraction)
	}
	return nil
}
