// Package allocation turns per-asset risk into target portfolio weights.
package allocation

import (
	"fmt"

	"github.com/aristath/riskcycle/internal/domain"
)

// NormalizationPolicy selects how raw weights are scaled to sum to 1
type NormalizationPolicy string

const (
	// NormalizeSimple divides every weight by the total
	NormalizeSimple NormalizationPolicy = "simple"
	// NormalizeResidual gives an unallocated remainder to CASH assets pro rata
	// by base weight, and scales down when over-allocated
	NormalizeResidual NormalizationPolicy = "residual"
)

// ConvictionConfig suppresses reductions shortly after a buy
type ConvictionConfig struct {
	Enabled            bool    `yaml:"enabled" json:"enabled"`
	MinHoldDays        int     `yaml:"min_hold_days" json:"min_hold_days"`
	ExceptionThreshold float64 `yaml:"exception_threshold" json:"exception_threshold"`
}

// MultiTimeframeConfig ignores one-day risk spikes above the reduce band
type MultiTimeframeConfig struct {
	Enabled          bool    `yaml:"enabled" json:"enabled"`
	ConfirmationDays int     `yaml:"confirmation_days" json:"confirmation_days"`
	SpikeTolerance   float64 `yaml:"spike_tolerance" json:"spike_tolerance"`
}

// MoonbagConfig scales the retained fraction in the reduce band
type MoonbagConfig struct {
	Enabled         bool    `yaml:"enabled" json:"enabled"`
	BaseMultiplier  float64 `yaml:"base_multiplier" json:"base_multiplier"`
	MomentumTrigger float64 `yaml:"momentum_trigger" json:"momentum_trigger"`
	MomentumBonus   float64 `yaml:"momentum_bonus" json:"momentum_bonus"`
	MaxBonus        float64 `yaml:"max_bonus" json:"max_bonus"`
	BullMultiplier  float64 `yaml:"bull_multiplier" json:"bull_multiplier"`
	BearMultiplier  float64 `yaml:"bear_multiplier" json:"bear_multiplier"`
	MaxMoonbag      float64 `yaml:"max_moonbag" json:"max_moonbag"`
}

// DamperLevel multiplies weights when macro risk exceeds Above
type DamperLevel struct {
	Above      float64 `yaml:"above" json:"above"`
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`
}

// DamperConfig couples the macro composite into tier weights. Levels are
// checked highest first.
type DamperConfig struct {
	Tiers  []domain.Tier `yaml:"tiers" json:"tiers"`
	Levels []DamperLevel `yaml:"levels" json:"levels"`
}

// WarningConfig tapers weight just under the reduce band
type WarningConfig struct {
	Enabled bool    `yaml:"enabled" json:"enabled"`
	Band    float64 `yaml:"band" json:"band"`
	Taper   float64 `yaml:"taper" json:"taper"`
}

// Policy holds every tunable of the allocator
type Policy struct {
	ValueThreshold float64 `yaml:"value_threshold" json:"value_threshold"`

	MomentumThreshold float64 `yaml:"momentum_threshold" json:"momentum_threshold"`
	MomentumExtension float64 `yaml:"momentum_extension" json:"momentum_extension"`
	// BullExtension further widens the bands for assets in a BULL regime
	BullExtension float64 `yaml:"bull_extension" json:"bull_extension"`

	// TierBoost is the value-zone multiplier per tier, DefaultBoost otherwise
	TierBoost    map[domain.Tier]float64 `yaml:"tier_boost" json:"tier_boost"`
	DefaultBoost float64                 `yaml:"default_boost" json:"default_boost"`
	// ScaledBoost grows the boost linearly from 1 at the value threshold to
	// the tier boost at risk 0
	ScaledBoost bool `yaml:"scaled_boost" json:"scaled_boost"`

	Conviction     ConvictionConfig     `yaml:"conviction" json:"conviction"`
	MultiTimeframe MultiTimeframeConfig `yaml:"multi_timeframe" json:"multi_timeframe"`
	Moonbag        MoonbagConfig        `yaml:"moonbag" json:"moonbag"`
	Warning        WarningConfig        `yaml:"warning" json:"warning"`
	Damper         DamperConfig         `yaml:"damper" json:"damper"`

	Normalization NormalizationPolicy `yaml:"normalization" json:"normalization"`

	// Regime and momentum derivation from a factor series
	RegimeLookback   int     `yaml:"regime_lookback" json:"regime_lookback"`
	BullThreshold    float64 `yaml:"bull_threshold" json:"bull_threshold"`
	BearThreshold    float64 `yaml:"bear_threshold" json:"bear_threshold"`
	MomentumLookback int     `yaml:"momentum_lookback" json:"momentum_lookback"`
}

// DefaultPolicy returns the production allocator settings
func DefaultPolicy() Policy {
	return Policy{
		ValueThreshold:    0.30,
		MomentumThreshold: 0.15,
		MomentumExtension: 0.05,
		TierBoost: map[domain.Tier]float64{
			domain.TierCrypto:     1.4,
			domain.TierCore:       1.4,
			domain.TierAggressive: 1.4,
		},
		DefaultBoost: 1.2,
		Conviction: ConvictionConfig{
			Enabled:            true,
			MinHoldDays:        45,
			ExceptionThreshold: 0.95,
		},
		MultiTimeframe: MultiTimeframeConfig{
			Enabled:          true,
			ConfirmationDays: 5,
			SpikeTolerance:   0.08,
		},
		Moonbag: MoonbagConfig{
			Enabled:         true,
			BaseMultiplier:  1.0,
			MomentumTrigger: 0.20,
			MomentumBonus:   0.5,
			MaxBonus:        0.30,
			BullMultiplier:  1.2,
			BearMultiplier:  0.8,
			MaxMoonbag:      0.70,
		},
		Warning: WarningConfig{Band: 0.10, Taper: 0.85},
		Damper: DamperConfig{
			Tiers: []domain.Tier{domain.TierCrypto, domain.TierGrowth},
			Levels: []DamperLevel{
				{Above: 0.70, Multiplier: 0.6},
				{Above: 0.60, Multiplier: 0.8},
			},
		},
		Normalization:    NormalizeResidual,
		RegimeLookback:   90,
		BullThreshold:    0.35,
		BearThreshold:    0.65,
		MomentumLookback: 30,
	}
}

// Validate checks that the zones produce weights that never rise with risk
func (p Policy) Validate() error {
	if p.ValueThreshold < 0 || p.ValueThreshold > 1 {
		return fmt.Errorf("value_threshold must be within [0, 1], got %g", p.ValueThreshold)
	}
	if p.DefaultBoost < 1 {
		return fmt.Errorf("default_boost must be at least 1, got %g", p.DefaultBoost)
	}
	for tier, b := range p.TierBoost {
		if b < 1 {
			return fmt.Errorf("tier_boost for %s must be at least 1, got %g", tier, b)
		}
	}
	if p.MultiTimeframe.ConfirmationDays < 0 || p.MultiTimeframe.SpikeTolerance < 0 {
		return fmt.Errorf("multi_timeframe confirmation_days and spike_tolerance must not be negative")
	}
	if p.Moonbag.MaxMoonbag < 0 || p.Moonbag.MaxMoonbag > 1 {
		return fmt.Errorf("moonbag max_moonbag must be within [0, 1], got %g", p.Moonbag.MaxMoonbag)
	}
	if p.Warning.Enabled {
		if p.Warning.Taper <= 0 || p.Warning.Taper > 1 {
			return fmt.Errorf("warning taper must be within (0, 1], got %g", p.Warning.Taper)
		}
		if p.Warning.Band < 0 {
			return fmt.Errorf("warning band must not be negative, got %g", p.Warning.Band)
		}
		if p.Moonbag.Enabled && p.Moonbag.MaxMoonbag > p.Warning.Taper {
			return fmt.Errorf("moonbag max_moonbag %g exceeds warning taper %g", p.Moonbag.MaxMoonbag, p.Warning.Taper)
		}
	}
	return nil
}

// retention is the moonbag fraction, never above the warning taper
func (p Policy) retention(assetFraction, momentum float64, regime domain.Regime) float64 {
	frac := p.MoonbagFraction(assetFraction, momentum, regime)
	if p.Warning.Enabled && frac > p.Warning.Taper {
		return p.Warning.Taper
	}
	return frac
}

func (p Policy) boost(tier domain.Tier, risk float64) float64 {
	b, ok := p.TierBoost[tier]
	if !ok {
		b = p.DefaultBoost
	}
	if p.ScaledBoost && p.ValueThreshold > 0 {
		return 1 + (p.ValueThreshold-risk)/p.ValueThreshold*(b-1)
	}
	return b
}

// damperFor returns the macro multiplier for a tier in a regime
func (p Policy) damperFor(tier domain.Tier, regime domain.Regime, macroRisk float64) float64 {
	if regime == domain.RegimeBull {
		return 1
	}
	applies := false
	for _, t := range p.Damper.Tiers {
		if t == tier {
			applies = true
			break
		}
	}
	if !applies {
		return 1
	}
	best := 1.0
	threshold := -1.0
	for _, lvl := range p.Damper.Levels {
		if macroRisk > lvl.Above && lvl.Above > threshold {
			best, threshold = lvl.Multiplier, lvl.Above
		}
	}
	return best
}

// MoonbagFraction adjusts the base retention for momentum and regime
func (p Policy) MoonbagFraction(base, momentum float64, regime domain.Regime) float64 {
	m := p.Moonbag
	if !m.Enabled {
		return base
	}
	adjusted := base * m.BaseMultiplier
	if momentum > m.MomentumTrigger {
		bonus := momentum * m.MomentumBonus
		if bonus > m.MaxBonus {
			bonus = m.MaxBonus
		}
		adjusted += bonus
	}
	switch regime {
	case domain.RegimeBull:
		adjusted *= m.BullMultiplier
	case domain.RegimeBear:
		adjusted *= m.BearMultiplier
	}
	if adjusted > m.MaxMoonbag {
		adjusted = m.MaxMoonbag
	}
	return adjusted
}
