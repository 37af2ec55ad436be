package analysis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/riskcycle/internal/domain"
	"github.com/aristath/riskcycle/internal/modules/allocation"
	"github.com/aristath/riskcycle/internal/modules/backtest"
	"github.com/aristath/riskcycle/internal/modules/factors"
	"github.com/aristath/riskcycle/internal/modules/macro"
	"github.com/aristath/riskcycle/internal/modules/validation"
)

// ErrRunInProgress is returned when a run is requested while one is active
var ErrRunInProgress = errors.New("analysis run already in progress")

// AssetRegistry lists the configured universe
type AssetRegistry interface {
	GetAll(ctx context.Context) ([]domain.AssetConfig, error)
}

// RunStore persists reports
type RunStore interface {
	Save(ctx context.Context, report *Report) error
	Latest(ctx context.Context) (*Report, error)
	GetByID(ctx context.Context, id string) (*Report, error)
	List(ctx context.Context, limit int) ([]RunSummary, error)
}

// Allocator turns signals into target weights
type Allocator interface {
	Allocate(ctx context.Context, req allocation.Request) (*allocation.Allocation, error)
}

// Recorder receives run metrics
type Recorder interface {
	RunFinished(status string, took time.Duration)
	AssetProcessed(outcome string)
	AssetRisk(ticker string, risk float64)
	ValidationScore(ticker string, score float64)
	TargetWeight(ticker string, weight float64)
	MacroRisk(score float64)
	FetchObserved(ok bool, took time.Duration)
}

// Models groups the stateless model components
type Models struct {
	Factors  *factors.Engine
	Harness  *validation.Harness
	Macro    *macro.Analyzer
	Backtest *backtest.Runner
	Policy   allocation.Policy
	Ratings  factors.RatingConfig
}

// Config tunes the pipeline
type Config struct {
	// Gate is the minimum validation score for an actionable signal
	Gate float64
	// MinBars is the shortest history that is scored
	MinBars int
	// Concurrency bounds parallel fetch and scoring
	Concurrency int
}

// Service runs analysis passes. At most one pass runs at a time because the
// allocator's conviction state must not see concurrent writers.
type Service struct {
	source    domain.SeriesSource
	registry  AssetRegistry
	runs      RunStore
	allocator Allocator
	models    Models
	cfg       Config
	metrics   Recorder

	runMu    sync.Mutex
	latestMu sync.RWMutex
	latest   *Report

	now   func() time.Time
	newID func() string
	log   zerolog.Logger
}

// NewService creates the analysis service
func NewService(
	source domain.SeriesSource,
	registry AssetRegistry,
	runs RunStore,
	allocator Allocator,
	models Models,
	cfg Config,
	metrics Recorder,
	log zerolog.Logger,
) *Service {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.MinBars < 2 {
		cfg.MinBars = 200
	}
	return &Service{
		source:    source,
		registry:  registry,
		runs:      runs,
		allocator: allocator,
		models:    models,
		cfg:       cfg,
		metrics:   metrics,
		now:       time.Now,
		newID:     uuid.NewString,
		log:       log.With().Str("service", "analysis").Logger(),
	}
}

// scored is the internal per-ticker result of a pass
type scored struct {
	ticker  string
	outcome domain.Outcome[AssetResult]
	series  *domain.PriceSeries
}

// Run executes one full analysis pass and persists the report. A failure of
// a single ticker never aborts the pass; it is reported with a reason.
func (s *Service) Run(ctx context.Context) (*Report, error) {
	if !s.runMu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer s.runMu.Unlock()
	return s.run(ctx)
}

// Start launches a pass in the background and returns immediately. The pass
// is detached from ctx cancellation but keeps its values.
func (s *Service) Start(ctx context.Context) error {
	if !s.runMu.TryLock() {
		return ErrRunInProgress
	}
	go func() {
		defer s.runMu.Unlock()
		if _, err := s.run(context.WithoutCancel(ctx)); err != nil {
			s.log.Error().Err(err).Msg("Background analysis run failed")
		}
	}()
	return nil
}

func (s *Service) run(ctx context.Context) (*Report, error) {
	started := s.now().UTC()
	fail := func(err error) (*Report, error) {
		s.metrics.RunFinished(StatusFailed, s.now().Sub(started))
		return nil, err
	}

	assets, err := s.registry.GetAll(ctx)
	if err != nil {
		return fail(fmt.Errorf("failed to load asset registry: %w", err))
	}
	if len(assets) == 0 {
		return fail(fmt.Errorf("asset registry is empty"))
	}

	macroCfg := s.models.Macro.Config()
	tiers := riskTiers(assets)
	tickers := analysedTickers(assets, macroCfg.RiskTickers())

	s.log.Info().Int("assets", len(assets)).Int("tickers", len(tickers)).Msg("Starting analysis run")

	results := s.scoreAll(ctx, tickers, tiers)
	if err := ctx.Err(); err != nil {
		return fail(fmt.Errorf("analysis run cancelled: %w", err))
	}

	report := &Report{
		ID:        s.newID(),
		StartedAt: started,
		Gate:      s.cfg.Gate,
		Outcomes:  make(map[string]domain.Outcome[AssetResult], len(results)),
		Assets:    assets,
	}

	series := make(map[string]*domain.PriceSeries)
	attempted := make(map[string]bool, len(results))
	for _, res := range results {
		attempted[res.ticker] = true
		report.Outcomes[res.ticker] = res.outcome
		if res.series != nil {
			series[res.ticker] = res.series
		}
		sig := s.toSignal(res)
		if sig.Bucket == BucketActionable {
			report.Actionable = append(report.Actionable, sig)
		} else {
			report.NoSignal = append(report.NoSignal, sig)
		}
	}
	s.fetchMacroSeries(ctx, macroCfg.SeriesTickers(), attempted, series)

	report.Macro = s.models.Macro.Compose(macroInputs(report.Outcomes, series))
	s.metrics.MacroRisk(report.Macro.Composite)

	alloc, err := s.allocator.Allocate(ctx, allocation.Request{
		Assets:    assets,
		Signals:   allocatorSignals(assets, report),
		MacroRisk: report.Macro.Composite,
		Now:       started,
	})
	switch {
	case err != nil:
		s.log.Error().Err(err).Msg("Allocation failed")
		report.Status = StatusFailed
	default:
		report.Allocation = alloc
		for ticker, w := range alloc.Weights {
			s.metrics.TargetWeight(ticker, w)
		}
		report.Status = StatusCompleted
		if report.FailedCount() > 0 {
			report.Status = StatusPartial
		}
	}

	report.FinishedAt = s.now().UTC()
	took := report.FinishedAt.Sub(started)
	s.metrics.RunFinished(report.Status, took)

	if saveErr := s.runs.Save(ctx, report); saveErr != nil {
		s.log.Error().Err(saveErr).Str("run_id", report.ID).Msg("Failed to persist analysis run")
		if err == nil {
			err = saveErr
		}
	}
	if report.Allocation != nil {
		s.latestMu.Lock()
		s.latest = report
		s.latestMu.Unlock()
	}

	s.log.Info().
		Str("run_id", report.ID).
		Str("status", report.Status).
		Int("actionable", len(report.Actionable)).
		Int("no_signal", len(report.NoSignal)).
		Int("failed", report.FailedCount()).
		Float64("macro_risk", report.Macro.Composite).
		Dur("took", took).
		Msg("Analysis run finished")

	if err != nil {
		return report, fmt.Errorf("analysis run %s: %w", report.ID, err)
	}
	return report, nil
}

// scoreAll fans tickers out over a bounded worker pool. Tickers never
// dispatched because ctx ended are reported as fetch failures.
func (s *Service) scoreAll(ctx context.Context, tickers []string, tiers map[string]domain.Tier) []scored {
	jobs := make(chan string)
	out := make(chan scored, len(tickers))

	workers := s.cfg.Concurrency
	if workers > len(tickers) {
		workers = len(tickers)
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ticker := range jobs {
				out <- s.scoreOne(ctx, ticker, tiers[ticker])
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, ticker := range tickers {
			select {
			case jobs <- ticker:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
	close(out)

	byTicker := make(map[string]scored, len(tickers))
	for res := range out {
		byTicker[res.ticker] = res
	}
	results := make([]scored, 0, len(tickers))
	for _, ticker := range tickers {
		res, ok := byTicker[ticker]
		if !ok {
			res = scored{
				ticker:  ticker,
				outcome: domain.Unavailable[AssetResult](reasonFetchFailure + context.Cause(ctx).Error()),
			}
		}
		results = append(results, res)
	}
	return results
}

// scoreOne fetches, scores and validates a ticker. Panics are recovered into
// a validation failure so one bad series cannot take down the pass.
func (s *Service) scoreOne(ctx context.Context, ticker string, tier domain.Tier) (res scored) {
	res.ticker = ticker
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("ticker", ticker).Interface("panic", r).Msg("Recovered panic while scoring")
			res.outcome = domain.ValidationFailed[AssetResult](fmt.Sprintf("%spanic: %v", reasonValidationError, r))
		}
		if k := res.outcome.Kind(); k != domain.OutcomeOK && k != "" {
			s.log.Warn().Str("ticker", ticker).Str("reason", res.outcome.Reason()).Msg("Asset not scored")
		}
	}()

	start := time.Now()
	series, err := s.source.Fetch(ctx, ticker)
	s.metrics.FetchObserved(err == nil, time.Since(start))
	if err != nil {
		res.outcome = domain.Unavailable[AssetResult](reasonFetchFailure + err.Error())
		return res
	}
	res.series = series

	result, outcome := s.score(series, tier)
	if outcome != nil {
		res.outcome = *outcome
		return res
	}
	res.outcome = domain.Ok(*result)
	return res
}

// score runs the pure model stages on an in-memory series. A non-nil outcome
// is the reason the series could not be scored.
func (s *Service) score(series *domain.PriceSeries, tier domain.Tier) (*AssetResult, *domain.Outcome[AssetResult]) {
	reject := func(o domain.Outcome[AssetResult]) (*AssetResult, *domain.Outcome[AssetResult]) {
		return nil, &o
	}

	if series.Len() < s.cfg.MinBars {
		return reject(domain.Unavailable[AssetResult](fmt.Sprintf(reasonInsufficientBars, s.cfg.MinBars)))
	}

	fs, err := s.models.Factors.Compute(series)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientHistory) || errors.Is(err, domain.ErrNoData) {
			return reject(domain.Unavailable[AssetResult](fmt.Sprintf(reasonInsufficientBars, s.cfg.MinBars)))
		}
		return reject(domain.ValidationFailed[AssetResult](reasonValidationError + err.Error()))
	}

	vr, err := s.models.Harness.Validate(fs)
	if err != nil {
		if errors.Is(err, validation.ErrInsufficientSamples) {
			return reject(domain.Unavailable[AssetResult](fmt.Sprintf(reasonFewSamples, s.models.Harness.Config().MinSamples)))
		}
		return reject(domain.ValidationFailed[AssetResult](reasonValidationError + err.Error()))
	}

	return &AssetResult{
		Ticker:     series.Ticker,
		Metadata:   factors.BuildMetadata(fs, series, tier, s.models.Ratings),
		Validation: vr,
		Valuation:  lastOr(fs.Valuation, 0.5),
		Momentum:   lastOr(fs.Momentum, 0.5),
		Volatility: lastOr(fs.Volatility, 0.5),
		Volume:     lastPtr(fs.Volume),
		Signal:     allocation.SignalFromFactors(fs, s.models.Policy),
		Bars:       series.Len(),
	}, nil
}

func (s *Service) toSignal(res scored) Signal {
	sig := Signal{
		Ticker:  res.ticker,
		Bucket:  BucketNoSignal,
		Outcome: res.outcome.Kind(),
		Reason:  res.outcome.Reason(),
	}
	if res.series != nil && res.series.Len() > 0 {
		p := res.series.Bars[res.series.Len()-1].Close
		sig.LastPrice = &p
	}

	result, ok := res.outcome.Value()
	if !ok {
		s.metrics.AssetProcessed(outcomeFailed)
		return sig
	}

	risk := result.Metadata.LastRisk
	score := result.Validation.Score
	momentum := result.Signal.Momentum
	sig.LastRisk = &risk
	sig.LastPrice = &result.Metadata.LastPrice
	sig.Rating = result.Metadata.Rating
	sig.ValidationScore = &score
	sig.Regime = result.Signal.Regime
	sig.Momentum = &momentum

	s.metrics.AssetRisk(res.ticker, risk)
	s.metrics.ValidationScore(res.ticker, float64(score))

	if float64(score) < s.cfg.Gate {
		sig.Reason = fmt.Sprintf("Validation score %d below gate %.0f", score, s.cfg.Gate)
		s.metrics.AssetProcessed(BucketNoSignal)
		return sig
	}
	sig.Bucket = BucketActionable
	s.metrics.AssetProcessed(BucketActionable)
	return sig
}

// fetchMacroSeries adds the raw series the macro composite needs beyond the
// scored tickers. Tickers already attempted this pass are not retried.
func (s *Service) fetchMacroSeries(ctx context.Context, tickers []string, attempted map[string]bool, series map[string]*domain.PriceSeries) {
	for _, ticker := range tickers {
		if ticker == "" || attempted[ticker] {
			continue
		}
		attempted[ticker] = true
		start := time.Now()
		ps, err := s.source.Fetch(ctx, ticker)
		s.metrics.FetchObserved(err == nil, time.Since(start))
		if err != nil {
			s.log.Warn().Err(err).Str("ticker", ticker).Msg("Macro series unavailable")
			continue
		}
		series[ticker] = ps
	}
}

// LatestReport returns the newest report with an allocation, from memory or
// storage
func (s *Service) LatestReport(ctx context.Context) (*Report, error) {
	s.latestMu.RLock()
	latest := s.latest
	s.latestMu.RUnlock()
	if latest != nil {
		return latest, nil
	}

	report, err := s.runs.Latest(ctx)
	if err != nil {
		return nil, err
	}
	if report.Allocation != nil {
		s.latestMu.Lock()
		if s.latest == nil {
			s.latest = report
		}
		s.latestMu.Unlock()
	}
	return report, nil
}

// LatestRun returns the newest stored run regardless of status
func (s *Service) LatestRun(ctx context.Context) (*Report, error) {
	return s.runs.Latest(ctx)
}

// GetRun returns a stored run
func (s *Service) GetRun(ctx context.Context, id string) (*Report, error) {
	return s.runs.GetByID(ctx, id)
}

// ListRuns returns run summaries newest first
func (s *Service) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	return s.runs.List(ctx, limit)
}

// LatestAllocation serves the allocation HTTP handlers
func (s *Service) LatestAllocation(ctx context.Context) (*allocation.Allocation, []domain.AssetConfig, error) {
	report, err := s.LatestReport(ctx)
	if err != nil {
		if errors.Is(err, ErrRunNotFound) {
			return nil, nil, allocation.ErrNoAllocation
		}
		return nil, nil, err
	}
	if report.Allocation == nil {
		return nil, nil, allocation.ErrNoAllocation
	}
	return report.Allocation, report.Assets, nil
}

func riskTiers(assets []domain.AssetConfig) map[string]domain.Tier {
	out := make(map[string]domain.Tier)
	for _, a := range assets {
		rt := a.RiskTicker()
		if rt == "" {
			continue
		}
		if _, ok := out[rt]; !ok {
			out[rt] = a.Tier
		}
	}
	return out
}

// analysedTickers is the sorted union of asset risk tickers and extra
func analysedTickers(assets []domain.AssetConfig, extra []string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(t string) {
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, a := range assets {
		add(a.RiskTicker())
	}
	for _, t := range extra {
		add(t)
	}
	sort.Strings(out)
	return out
}

func macroInputs(outcomes map[string]domain.Outcome[AssetResult], series map[string]*domain.PriceSeries) macro.Inputs {
	in := macro.Inputs{
		LastRisk:  make(map[string]float64),
		LastPrice: make(map[string]float64),
		Series:    series,
	}
	for ticker, o := range outcomes {
		if res, ok := o.Value(); ok {
			in.LastRisk[ticker] = res.Metadata.LastRisk
		}
	}
	for ticker, ps := range series {
		if ps.Len() > 0 {
			in.LastPrice[ticker] = ps.Bars[ps.Len()-1].Close
		}
	}
	return in
}

// allocatorSignals maps each held asset to its risk ticker's signal. Assets
// whose risk ticker is not actionable get a nil risk and therefore zero
// weight.
func allocatorSignals(assets []domain.AssetConfig, report *Report) map[string]allocation.Signal {
	actionable := make(map[string]bool, len(report.Actionable))
	for _, s := range report.Actionable {
		actionable[s.Ticker] = true
	}

	out := make(map[string]allocation.Signal, len(assets))
	for _, a := range assets {
		if a.IsCash() {
			continue
		}
		rt := a.RiskTicker()
		sig := allocation.Signal{Regime: domain.RegimeNeutral}
		if actionable[rt] {
			if res, ok := report.Outcomes[rt].Value(); ok {
				sig = res.Signal
			}
		}
		out[a.Ticker] = sig
	}
	return out
}

func lastOr(values []float64, fallback float64) float64 {
	if len(values) == 0 || math.IsNaN(values[len(values)-1]) {
		return fallback
	}
	return values[len(values)-1]
}

func lastPtr(values []float64) *float64 {
	if len(values) == 0 || math.IsNaN(values[len(values)-1]) {
		return nil
	}
	v := values[len(values)-1]
	return &v
}
