package analysis

import (
	"context"
	"fmt"

	"github.com/aristath/riskcycle/internal/domain"
	"github.com/aristath/riskcycle/internal/modules/backtest"
	"github.com/aristath/riskcycle/internal/modules/factors"
	"github.com/aristath/riskcycle/internal/modules/validation"
)

// Inspection is an on-demand scoring of one ticker outside a run
type Inspection struct {
	Series        *domain.PriceSeries
	Factors       *factors.FactorSeries
	Validation    *validation.Result
	ValidationErr error
}

// Inspect fetches and scores a single ticker. Validation errors are returned
// inside the inspection so a report can still be rendered.
func (s *Service) Inspect(ctx context.Context, ticker string) (*Inspection, error) {
	series, err := s.source.Fetch(ctx, ticker)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", ticker, err)
	}
	fs, err := s.models.Factors.Compute(series)
	if err != nil {
		return nil, fmt.Errorf("failed to compute factors for %s: %w", ticker, err)
	}
	vr, vErr := s.models.Harness.Validate(fs)
	return &Inspection{Series: series, Factors: fs, Validation: vr, ValidationErr: vErr}, nil
}

// ValidationReport renders the operator text report for a ticker
func (s *Service) ValidationReport(ctx context.Context, ticker string) (string, error) {
	in, err := s.Inspect(ctx, ticker)
	if err != nil {
		return "", err
	}
	return validation.RenderReport(ticker, in.Validation, in.ValidationErr), nil
}

// Backtest replays the zone policy on a ticker. years <= 0 keeps the
// configured window.
func (s *Service) Backtest(ctx context.Context, ticker string, tier domain.Tier, years int) (*backtest.Result, error) {
	in, err := s.Inspect(ctx, ticker)
	if err != nil {
		return nil, err
	}
	cfg := s.models.Backtest.Config()
	if years > 0 {
		cfg.Years = years
	}
	return s.models.Backtest.RunWith(in.Factors, tier, cfg)
}
