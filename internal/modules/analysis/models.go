// Package analysis runs the batch pipeline: fetch, factor scoring,
// validation gating, macro composite and allocation.
package analysis

import (
	"time"

	"github.com/aristath/riskcycle/internal/domain"
	"github.com/aristath/riskcycle/internal/modules/allocation"
	"github.com/aristath/riskcycle/internal/modules/factors"
	"github.com/aristath/riskcycle/internal/modules/macro"
	"github.com/aristath/riskcycle/internal/modules/validation"
)

// Run statuses
const (
	StatusCompleted = "completed"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
)

// Buckets segregate gated signals. They double as metric outcomes, with
// outcomeFailed for tickers that could not be scored.
const (
	BucketActionable = "actionable"
	BucketNoSignal   = "no_signal"
	outcomeFailed    = "failed"
)

// Reason prefixes carried by non-OK outcomes
const (
	reasonFetchFailure     = "Fetch Failure: "
	reasonInsufficientBars = "Insufficient history (<%d bars)"
	reasonFewSamples       = "Insufficient history (<%d validation samples)"
	reasonValidationError  = "Validation Error: "
)

// AssetResult is a fully scored risk ticker
type AssetResult struct {
	Ticker     string             `json:"ticker"`
	Metadata   *factors.Metadata  `json:"metadata"`
	Validation *validation.Result `json:"validation"`
	Valuation  float64            `json:"risk_valuation"`
	Momentum   float64            `json:"risk_momentum"`
	Volatility float64            `json:"risk_volatility"`
	Volume     *float64           `json:"risk_volume,omitempty"`
	Signal     allocation.Signal  `json:"signal"`
	Bars       int                `json:"bars"`
}

// Signal is the operator-facing record for one risk ticker. Every analysed
// ticker gets one, scored or not.
type Signal struct {
	Ticker          string             `json:"ticker"`
	Bucket          string             `json:"bucket"`
	Outcome         domain.OutcomeKind `json:"outcome"`
	LastPrice       *float64           `json:"last_price"`
	LastRisk        *float64           `json:"last_risk"`
	Rating          domain.Rating      `json:"rating,omitempty"`
	ValidationScore *int               `json:"validation_score"`
	Regime          domain.Regime      `json:"regime,omitempty"`
	Momentum        *float64           `json:"momentum,omitempty"`
	Reason          string             `json:"reason,omitempty"`
}

// Report is the persisted result of one analysis run
type Report struct {
	ID         string                                 `json:"id"`
	StartedAt  time.Time                              `json:"started_at"`
	FinishedAt time.Time                              `json:"finished_at"`
	Status     string                                 `json:"status"`
	Gate       float64                                `json:"gate"`
	Actionable []Signal                               `json:"actionable"`
	NoSignal   []Signal                               `json:"no_signal"`
	Outcomes   map[string]domain.Outcome[AssetResult] `json:"outcomes"`
	Macro      *macro.Score                           `json:"macro"`
	Assets     []domain.AssetConfig                   `json:"assets"`
	Allocation *allocation.Allocation                 `json:"allocation"`
}

// Signal looks a ticker up in either bucket
func (r *Report) Signal(ticker string) (Signal, bool) {
	for _, group := range [][]Signal{r.Actionable, r.NoSignal} {
		for _, s := range group {
			if s.Ticker == ticker {
				return s, true
			}
		}
	}
	return Signal{}, false
}

// FailedCount is the number of tickers that could not be scored
func (r *Report) FailedCount() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Kind() != domain.OutcomeOK {
			n++
		}
	}
	return n
}

// RunSummary is the index row of a stored run
type RunSummary struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Status      string    `json:"status"`
	AssetCount  int       `json:"asset_count"`
	FailedCount int       `json:"failed_count"`
	MacroRisk   *float64  `json:"macro_risk"`
}
