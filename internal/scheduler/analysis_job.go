package scheduler

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/aristath/riskcycle/internal/modules/analysis"
)

// AnalysisRunner executes one batch analysis pass
type AnalysisRunner interface {
	Run(ctx context.Context) (*analysis.Report, error)
}

// AnalysisJob runs the batch pipeline over the asset registry
type AnalysisJob struct {
	runner AnalysisRunner
	log    zerolog.Logger
}

// NewAnalysisJob creates a new analysis job
func NewAnalysisJob(runner AnalysisRunner, log zerolog.Logger) *AnalysisJob {
	return &AnalysisJob{
		runner: runner,
		log:    log.With().Str("job", "analysis").Logger(),
	}
}

// Name returns the job name
func (j *AnalysisJob) Name() string {
	return "analysis"
}

// Run executes the analysis pass. A pass already in flight is not an error.
func (j *AnalysisJob) Run(ctx context.Context) error {
	report, err := j.runner.Run(ctx)
	if errors.Is(err, analysis.ErrRunInProgress) {
		j.log.Info().Msg("Analysis already in progress, skipping")
		return nil
	}
	if err != nil {
		return err
	}

	j.log.Info().
		Str("run_id", report.ID).
		Str("status", report.Status).
		Int("actionable", len(report.Actionable)).
		Int("no_signal", len(report.NoSignal)).
		Int("failed", report.FailedCount()).
		Msg("Analysis pass finished")
	return nil
}
