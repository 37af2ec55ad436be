package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aristath/riskcycle/internal/modules/allocation"
	"github.com/aristath/riskcycle/internal/modules/backtest"
	"github.com/aristath/riskcycle/internal/modules/factors"
	"github.com/aristath/riskcycle/internal/modules/macro"
	"github.com/aristath/riskcycle/internal/modules/validation"
)

// Strategy bundles every tunable model parameter
type Strategy struct {
	Factors    factors.Config       `yaml:"factors" json:"factors"`
	Ratings    factors.RatingConfig `yaml:"ratings" json:"ratings"`
	Validation validation.Config    `yaml:"validation" json:"validation"`
	Allocation allocation.Policy    `yaml:"allocation" json:"allocation"`
	Backtest   backtest.Config      `yaml:"backtest" json:"backtest"`
	Macro      macro.Config         `yaml:"macro" json:"macro"`
	// Gate is the minimum validation score for an asset to receive a signal
	Gate float64 `yaml:"gate" json:"gate"`
	// MinBars is the shortest history the pipeline will score
	MinBars int `yaml:"min_bars" json:"min_bars"`
}

// DefaultStrategy returns the production model parameters
func DefaultStrategy() Strategy {
	return Strategy{
		Factors:    factors.DefaultConfig(),
		Ratings:    factors.DefaultRatingConfig(),
		Validation: validation.DefaultConfig(),
		Allocation: allocation.DefaultPolicy(),
		Backtest:   backtest.DefaultConfig(),
		Macro:      macro.DefaultConfig(),
		Gate:       60,
		MinBars:    200,
	}
}

// LoadStrategy overlays the YAML file at path on the defaults. An empty path
// returns the defaults unchanged.
func LoadStrategy(path string) (Strategy, error) {
	s := DefaultStrategy()
	if path == "" {
		return s, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("failed to read strategy file: %w", err)
	}
	return ParseStrategy(raw)
}

// ParseStrategy decodes YAML over the defaults. Unknown keys are rejected.
func ParseStrategy(raw []byte) (Strategy, error) {
	s := DefaultStrategy()
	if len(bytes.TrimSpace(raw)) == 0 {
		return s, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return s, fmt.Errorf("failed to parse strategy: %w", err)
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// Validate checks cross-field constraints
func (s Strategy) Validate() error {
	if s.Gate < 0 || s.Gate > 100 {
		return fmt.Errorf("strategy gate must be within [0, 100], got %g", s.Gate)
	}
	if s.MinBars < 2 {
		return fmt.Errorf("strategy min_bars must be at least 2, got %d", s.MinBars)
	}
	w := s.Factors.Weights
	if sum := w.Valuation + w.Momentum + w.Volatility + w.Volume; sum <= 0 {
		return fmt.Errorf("factor weights must sum to a positive value")
	}
	if s.Allocation.Normalization != allocation.NormalizeSimple && s.Allocation.Normalization != allocation.NormalizeResidual {
		return fmt.Errorf("unknown normalization policy %q", s.Allocation.Normalization)
	}
	if err := s.Allocation.Validate(); err != nil {
		return fmt.Errorf("invalid allocation policy: %w", err)
	}
	return nil
}
