package analysis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/riskcycle/internal/domain"
	"github.com/aristath/riskcycle/internal/modules/allocation"
	"github.com/aristath/riskcycle/internal/modules/backtest"
	"github.com/aristath/riskcycle/internal/modules/factors"
	"github.com/aristath/riskcycle/internal/modules/macro"
	"github.com/aristath/riskcycle/internal/modules/validation"
	testutil "github.com/aristath/riskcycle/internal/testing"
)

type fakeSource struct {
	mu     sync.Mutex
	series map[string]*domain.PriceSeries
	errs   map[string]error
	panics map[string]bool
	block  chan struct{}
	calls  map[string]int
}

func (f *fakeSource) Fetch(ctx context.Context, ticker string) (*domain.PriceSeries, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[ticker]++
	f.mu.Unlock()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.panics[ticker] {
		panic("corrupt series")
	}
	if err, ok := f.errs[ticker]; ok {
		return nil, err
	}
	if s, ok := f.series[ticker]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("%s: %w", ticker, domain.ErrNoData)
}

type staticRegistry []domain.AssetConfig

func (r staticRegistry) GetAll(context.Context) ([]domain.AssetConfig, error) {
	return r, nil
}

type memoryRuns struct {
	mu      sync.Mutex
	reports []*Report
}

func (m *memoryRuns) Save(_ context.Context, r *Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, r)
	return nil
}

func (m *memoryRuns) Latest(context.Context) (*Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.reports) == 0 {
		return nil, ErrRunNotFound
	}
	return m.reports[len(m.reports)-1], nil
}

func (m *memoryRuns) GetByID(_ context.Context, id string) (*Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reports {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, ErrRunNotFound
}

func (m *memoryRuns) List(context.Context, int) ([]RunSummary, error) {
	return nil, nil
}

func (m *memoryRuns) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reports)
}

type memoryStates struct {
	mu     sync.Mutex
	states map[string]allocation.State
}

func (m *memoryStates) LoadAll(context.Context) (map[string]allocation.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]allocation.State, len(m.states))
	for k, v := range m.states {
		out[k] = v
	}
	return out, nil
}

func (m *memoryStates) SaveAll(_ context.Context, states map[string]allocation.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range states {
		m.states[k] = v
	}
	return nil
}

type countingRecorder struct {
	mu       sync.Mutex
	statuses []string
	outcomes map[string]int
}

func (c *countingRecorder) RunFinished(status string, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses = append(c.statuses, status)
}

func (c *countingRecorder) AssetProcessed(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outcomes == nil {
		c.outcomes = map[string]int{}
	}
	c.outcomes[outcome]++
}

func (c *countingRecorder) AssetRisk(string, float64) {}

func (c *countingRecorder) ValidationScore(string, float64) {}

func (c *countingRecorder) TargetWeight(string, float64) {}

func (c *countingRecorder) MacroRisk(float64) {}

func (c *countingRecorder) FetchObserved(bool, time.Duration) {}

type fixture struct {
	svc     *Service
	source  *fakeSource
	runs    *memoryRuns
	metrics *countingRecorder
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	log := zerolog.Nop()
	source := &fakeSource{
		series: map[string]*domain.PriceSeries{
			"BTC-USD": testutil.RandomWalkSeries(t, "BTC-USD", 800, 1, true),
			"^GSPC":   testutil.RandomWalkSeries(t, "^GSPC", 800, 2, false),
			"GC=F":    testutil.RandomWalkSeries(t, "GC=F", 800, 3, true),
			"^TNX":    testutil.RandomWalkSeries(t, "^TNX", 800, 4, false),
		},
		errs:   map[string]error{},
		panics: map[string]bool{},
	}
	policy := allocation.DefaultPolicy()
	models := Models{
		Factors:  factors.NewEngine(factors.DefaultConfig(), log),
		Harness:  validation.NewHarness(validation.DefaultConfig(), log),
		Macro:    macro.NewAnalyzer(macro.DefaultConfig(), log),
		Backtest: backtest.NewRunner(backtest.DefaultConfig(), log),
		Policy:   policy,
		Ratings:  factors.DefaultRatingConfig(),
	}
	allocator := allocation.NewService(allocation.NewEngine(policy, log), &memoryStates{states: map[string]allocation.State{}}, log)
	runs := &memoryRuns{}
	metrics := &countingRecorder{}

	svc := NewService(source, staticRegistry(testutil.NewAssetFixtures()), runs, allocator, models, cfg, metrics, log)
	svc.newID = func() string { return fmt.Sprintf("run-%d", runs.count()+1) }
	return &fixture{svc: svc, source: source, runs: runs, metrics: metrics}
}

func weightSum(alloc *allocation.Allocation) float64 {
	var sum float64
	for _, w := range alloc.Weights {
		sum += w
	}
	return sum
}

func actionFor(alloc *allocation.Allocation, ticker string) string {
	for _, a := range alloc.Assets {
		if a.Ticker == ticker {
			return a.Action
		}
	}
	return ""
}

func TestRun_FailingTickerIsReportedAndRestAllocated(t *testing.T) {
	f := newFixture(t, Config{Gate: 0, MinBars: 200, Concurrency: 3})
	f.source.errs["GC=F"] = errors.New("connection reset")

	report, err := f.svc.Run(context.Background())
	require.NoError(t, err)

	gold := report.Outcomes["GC=F"]
	assert.Equal(t, domain.OutcomeUnavailable, gold.Kind())
	assert.True(t, strings.HasPrefix(gold.Reason(), "Fetch Failure: "), gold.Reason())

	sig, ok := report.Signal("GC=F")
	require.True(t, ok, "failed ticker must appear in the report")
	assert.Equal(t, BucketNoSignal, sig.Bucket)

	for _, ticker := range []string{"BTC-USD", "^GSPC"} {
		o := report.Outcomes[ticker]
		require.Equal(t, domain.OutcomeOK, o.Kind(), "%s: %s", ticker, o.Reason())
	}

	require.NotNil(t, report.Allocation)
	assert.InDelta(t, 1.0, weightSum(report.Allocation), 1e-6)
	assert.Equal(t, 0.0, report.Allocation.Weights["GC=F"])
	assert.Equal(t, allocation.ActionSkip, actionFor(report.Allocation, "GC=F"))
	assert.NotEqual(t, allocation.ActionSkip, actionFor(report.Allocation, "VWCE"), "proxy risk drives the ETF")

	assert.Equal(t, StatusPartial, report.Status)
	assert.Equal(t, 1, f.runs.count())
	assert.Equal(t, []string{StatusPartial}, f.metrics.statuses)
	assert.Greater(t, f.metrics.outcomes[outcomeFailed], 0)
}

func TestRun_ReasonsDistinguishFailureKinds(t *testing.T) {
	f := newFixture(t, Config{Gate: 0, MinBars: 200, Concurrency: 2})
	f.source.series["^GSPC"] = testutil.RandomWalkSeries(t, "^GSPC", 150, 2, false)
	f.source.panics["GC=F"] = true

	report, err := f.svc.Run(context.Background())
	require.NoError(t, err)

	short := report.Outcomes["^GSPC"]
	assert.Equal(t, domain.OutcomeUnavailable, short.Kind())
	assert.Equal(t, "Insufficient history (<200 bars)", short.Reason())

	broken := report.Outcomes["GC=F"]
	assert.Equal(t, domain.OutcomeValidationFailed, broken.Kind())
	assert.True(t, strings.HasPrefix(broken.Reason(), "Validation Error: panic"), broken.Reason())

	missing := report.Outcomes["ETH-USD"]
	assert.Equal(t, domain.OutcomeUnavailable, missing.Kind())
	assert.Contains(t, missing.Reason(), "Fetch Failure: ")
}

func TestRun_GateSegregatesSignals(t *testing.T) {
	f := newFixture(t, Config{Gate: 101, MinBars: 200, Concurrency: 4})

	report, err := f.svc.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, report.Actionable)
	sig, ok := report.Signal("BTC-USD")
	require.True(t, ok)
	assert.Equal(t, BucketNoSignal, sig.Bucket)
	assert.Equal(t, domain.OutcomeOK, sig.Outcome)
	assert.Contains(t, sig.Reason, "below gate")
	require.NotNil(t, sig.ValidationScore)
	require.NotNil(t, sig.LastRisk)
	assert.False(t, math.IsNaN(*sig.LastRisk))

	// no actionable risk means everything lands in cash
	for _, a := range report.Allocation.Assets {
		if a.Tier != domain.TierCash {
			assert.Equal(t, allocation.ActionSkip, a.Action, a.Ticker)
		}
	}
	assert.InDelta(t, 1.0, report.Allocation.Weights["XEON"], 1e-9)
}

func TestRun_MacroUsesScoredTickers(t *testing.T) {
	f := newFixture(t, Config{Gate: 0, MinBars: 200, Concurrency: 4})

	report, err := f.svc.Run(context.Background())
	require.NoError(t, err)

	require.NotNil(t, report.Macro)
	assert.GreaterOrEqual(t, report.Macro.Composite, 0.0)
	assert.LessOrEqual(t, report.Macro.Composite, 1.0)
	assert.NotNil(t, report.Macro.YieldCorrelation, "gold and ^TNX were both fetched")
	assert.Equal(t, report.Macro.Composite, report.Allocation.MacroRisk)
}

func TestRun_OnlyOnePassAtATime(t *testing.T) {
	f := newFixture(t, Config{Gate: 0, MinBars: 200, Concurrency: 2})
	f.source.block = make(chan struct{})

	require.NoError(t, f.svc.Start(context.Background()))

	_, err := f.svc.Run(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.ErrorIs(t, f.svc.Start(context.Background()), ErrRunInProgress)

	close(f.source.block)
	require.Eventually(t, func() bool { return f.runs.count() == 1 }, 30*time.Second, 20*time.Millisecond)

	// the lock is released once the background pass has saved
	require.Eventually(t, func() bool {
		_, err := f.svc.Run(context.Background())
		return err == nil
	}, 30*time.Second, 20*time.Millisecond)
}

func TestRun_CancelledContext(t *testing.T) {
	f := newFixture(t, Config{Gate: 0, MinBars: 200, Concurrency: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, f.runs.count())
	assert.Equal(t, []string{StatusFailed}, f.metrics.statuses)
}

func TestLatestAllocation(t *testing.T) {
	f := newFixture(t, Config{Gate: 0, MinBars: 200, Concurrency: 2})

	_, _, err := f.svc.LatestAllocation(context.Background())
	assert.ErrorIs(t, err, allocation.ErrNoAllocation)

	report, err := f.svc.Run(context.Background())
	require.NoError(t, err)

	alloc, assets, err := f.svc.LatestAllocation(context.Background())
	require.NoError(t, err)
	assert.Same(t, report.Allocation, alloc)
	assert.Len(t, assets, len(testutil.NewAssetFixtures()))
}

func TestInspectAndBacktest(t *testing.T) {
	f := newFixture(t, Config{Gate: 0, MinBars: 200, Concurrency: 1})

	text, err := f.svc.ValidationReport(context.Background(), "BTC-USD")
	require.NoError(t, err)
	assert.Contains(t, text, "VALIDATION REPORT: BTC-USD")

	res, err := f.svc.Backtest(context.Background(), "BTC-USD", domain.TierCrypto, 1)
	require.NoError(t, err)
	assert.Equal(t, "BTC-USD", res.Ticker)

	_, err = f.svc.Backtest(context.Background(), "NOPE", domain.TierCore, 0)
	assert.ErrorIs(t, err, domain.ErrNoData)
}
