package allocation

import (
	"context"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/riskcycle/internal/domain"
	testutil "github.com/aristath/riskcycle/internal/testing"
)

var testNow = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func ptr(v float64) *float64 { return &v }

func assetByTicker(t *testing.T, ticker string) domain.AssetConfig {
	t.Helper()
	for _, a := range testutil.NewAssetFixtures() {
		if a.Ticker == ticker {
			return a
		}
	}
	t.Fatalf("no fixture asset %s", ticker)
	return domain.AssetConfig{}
}

// plainPolicy disables the stateful layers so only the zones apply
func plainPolicy() Policy {
	p := DefaultPolicy()
	p.Conviction.Enabled = false
	p.MultiTimeframe.Enabled = false
	return p
}

func TestAllocate_WeightsSumToOne(t *testing.T) {
	assets := testutil.NewAssetFixtures()
	for _, policy := range []NormalizationPolicy{NormalizeSimple, NormalizeResidual} {
		p := DefaultPolicy()
		p.Normalization = policy
		engine := NewEngine(p, zerolog.Nop())

		rng := rand.New(rand.NewSource(3))
		for trial := 0; trial < 200; trial++ {
			signals := make(map[string]Signal)
			for _, a := range assets {
				sig := Signal{Momentum: rng.Float64()*0.6 - 0.2, Regime: domain.RegimeNeutral}
				if rng.Float64() > 0.1 {
					sig.Risk = ptr(rng.Float64())
				}
				signals[a.Ticker] = sig
			}
			alloc := engine.Allocate(Request{
				Assets:    assets,
				Signals:   signals,
				MacroRisk: rng.Float64(),
				Now:       testNow,
			})

			var sum float64
			for _, w := range alloc.Weights {
				assert.GreaterOrEqual(t, w, 0.0)
				sum += w
			}
			assert.InDelta(t, 1.0, sum, 1e-6, "policy %s trial %d", policy, trial)
			assert.False(t, alloc.Degenerate)
		}
	}
}

func TestDecide_MonotonicZones(t *testing.T) {
	engine := NewEngine(plainPolicy(), zerolog.Nop())
	asset := assetByTicker(t, "BTC-USD")

	weightAt := func(r float64) float64 {
		res, _ := engine.Decide(asset, Signal{Risk: ptr(r), Regime: domain.RegimeNeutral}, State{}, 0, testNow)
		return res.RawWeight
	}

	prev := math.Inf(1)
	for r := asset.ReduceThreshold; r <= 1.0; r += 0.01 {
		w := weightAt(r)
		assert.LessOrEqual(t, w, prev, "risk %.2f", r)
		prev = w
	}
	for r := 0.0; r < 0.30; r += 0.01 {
		assert.GreaterOrEqual(t, weightAt(r), asset.BaseWeight, "risk %.2f", r)
	}
}

func TestDecide_Zones(t *testing.T) {
	engine := NewEngine(plainPolicy(), zerolog.Nop())
	asset := assetByTicker(t, "BTC-USD")

	tests := []struct {
		name     string
		risk     float64
		momentum float64
		action   string
		weight   float64
	}{
		{"value zone boosts", 0.10, 0, ActionOverweight, 0.35},
		{"neutral holds base", 0.50, 0, ActionHold, 0.25},
		{"reduce keeps moonbag", 0.75, 0, ActionMoonbag, 0.10},
		{"exit goes to min", 0.90, 0, ActionExit, 0.05},
		{"momentum lifts reduce band", 0.72, 0.20, ActionHold, 0.25},
		{"momentum lifts exit band", 0.88, 0.40, ActionMoonbag, 0.25 * 0.60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, _ := engine.Decide(asset, Signal{Risk: ptr(tt.risk), Momentum: tt.momentum, Regime: domain.RegimeNeutral}, State{}, 0, testNow)
			assert.Equal(t, tt.action, res.Action)
			assert.InDelta(t, tt.weight, res.RawWeight, 1e-9)
		})
	}
}

func TestDecide_PolicyVariants(t *testing.T) {
	asset := assetByTicker(t, "BTC-USD")

	warning := plainPolicy()
	warning.Warning.Enabled = true

	bull := plainPolicy()
	bull.BullExtension = 0.05

	scaled := plainPolicy()
	scaled.ScaledBoost = true

	tests := []struct {
		name   string
		policy Policy
		risk   float64
		regime domain.Regime
		action string
		weight float64
	}{
		{"warning tapers under reduce band", warning, 0.65, domain.RegimeNeutral, ActionReduce, 0.25 * 0.85},
		{"warning band ends below", warning, 0.55, domain.RegimeNeutral, ActionHold, 0.25},
		{"warning leaves moonbag zone alone", warning, 0.75, domain.RegimeNeutral, ActionMoonbag, 0.10},
		{"bull extension lifts reduce band", bull, 0.72, domain.RegimeBull, ActionHold, 0.25},
		{"bull extension lifts exit band", bull, 0.88, domain.RegimeBull, ActionMoonbag, 0.25 * 0.40 * 1.2},
		{"bull extension ignored outside bull", bull, 0.72, domain.RegimeNeutral, ActionMoonbag, 0.10},
		{"scaled boost at half threshold", scaled, 0.15, domain.RegimeNeutral, ActionOverweight, 0.25 * 1.2},
		{"scaled boost full at zero", scaled, 0, domain.RegimeNeutral, ActionOverweight, 0.35},
		{"scaled boost near threshold", scaled, 0.27, domain.RegimeNeutral, ActionOverweight, 0.25 * 1.04},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := NewEngine(tt.policy, zerolog.Nop())
			res, _ := engine.Decide(asset, Signal{Risk: ptr(tt.risk), Regime: tt.regime}, State{}, 0, testNow)
			assert.Equal(t, tt.action, res.Action)
			assert.InDelta(t, tt.weight, res.RawWeight, 1e-9)
		})
	}
}

func TestDecide_MonotonicWithFullMoonbag(t *testing.T) {
	p := plainPolicy()
	p.Warning.Enabled = true
	p.Moonbag.Enabled = false
	engine := NewEngine(p, zerolog.Nop())

	asset := assetByTicker(t, "BTC-USD")
	asset.MoonbagFraction = 1.0

	prev := math.Inf(1)
	for i := 40; i <= 100; i++ {
		r := float64(i) / 100
		res, _ := engine.Decide(asset, Signal{Risk: ptr(r), Regime: domain.RegimeNeutral}, State{}, 0, testNow)
		assert.LessOrEqual(t, res.RawWeight, prev+1e-12, "risk %.2f", r)
		prev = res.RawWeight
	}

	res, _ := engine.Decide(asset, Signal{Risk: ptr(0.75), Regime: domain.RegimeNeutral}, State{}, 0, testNow)
	assert.Equal(t, ActionMoonbag, res.Action)
	assert.InDelta(t, 0.25*0.85, res.RawWeight, 1e-9, "retention capped at the taper")
}

func TestDecide_ConvictionHold(t *testing.T) {
	engine := NewEngine(DefaultPolicy(), zerolog.Nop())
	asset := assetByTicker(t, "BTC-USD")
	bought := testNow.AddDate(0, 0, -20)
	state := State{Ticker: asset.Ticker, LastBuy: &bought, LastTarget: ptr(0.35)}

	res, next := engine.Decide(asset, Signal{Risk: ptr(0.90)}, state, 0, testNow)
	assert.Equal(t, ActionConvictionHold, res.Action)
	assert.InDelta(t, 0.35, res.RawWeight, 1e-9)
	require.NotNil(t, next.LastBuy)
	assert.Equal(t, bought, *next.LastBuy)

	t.Run("exception threshold breaks the hold", func(t *testing.T) {
		res, next := engine.Decide(asset, Signal{Risk: ptr(0.96)}, state, 0, testNow)
		assert.Equal(t, ActionExit, res.Action)
		assert.Nil(t, next.LastBuy)
		require.NotNil(t, next.LastSell)
		assert.Equal(t, testNow, *next.LastSell)
	})

	t.Run("hold expires after min hold days", func(t *testing.T) {
		res, _ := engine.Decide(asset, Signal{Risk: ptr(0.90)}, state, 0, bought.AddDate(0, 0, 50))
		assert.Equal(t, ActionExit, res.Action)
		assert.InDelta(t, asset.MinWeight, res.RawWeight, 1e-9)
	})
}

func TestDecide_UnconfirmedSpike(t *testing.T) {
	p := DefaultPolicy()
	p.Conviction.Enabled = false
	engine := NewEngine(p, zerolog.Nop())
	asset := assetByTicker(t, "BTC-USD")
	state := State{Ticker: asset.Ticker, LastTarget: ptr(0.30)}

	spike := Signal{Risk: ptr(0.80), RecentRisk: []float64{0.5, 0.5, 0.5, 0.5, 0.80}}
	res, next := engine.Decide(asset, spike, state, 0, testNow)
	assert.Equal(t, ActionWait, res.Action)
	assert.InDelta(t, 0.30, res.RawWeight, 1e-9)
	assert.InDelta(t, 0.30, *next.LastTarget, 1e-9)

	confirmed := Signal{Risk: ptr(0.80), RecentRisk: []float64{0.78, 0.77, 0.79, 0.78, 0.80}}
	res, _ = engine.Decide(asset, confirmed, state, 0, testNow)
	assert.Equal(t, ActionMoonbag, res.Action)

	short := Signal{Risk: ptr(0.80), RecentRisk: []float64{0.5, 0.80}}
	res, _ = engine.Decide(asset, short, state, 0, testNow)
	assert.Equal(t, ActionMoonbag, res.Action, "a window shorter than the confirmation days confirms")
}

func TestDecide_MacroDamper(t *testing.T) {
	engine := NewEngine(plainPolicy(), zerolog.Nop())
	crypto := assetByTicker(t, "BTC-USD")
	core := assetByTicker(t, "VWCE")

	tests := []struct {
		name   string
		asset  domain.AssetConfig
		regime domain.Regime
		macro  float64
		weight float64
	}{
		{"extreme macro damps crypto", crypto, domain.RegimeNeutral, 0.75, 0.25 * 0.6},
		{"elevated macro damps crypto", crypto, domain.RegimeBear, 0.65, 0.25 * 0.8},
		{"calm macro leaves crypto", crypto, domain.RegimeNeutral, 0.50, 0.25},
		{"bull regime skips damper", crypto, domain.RegimeBull, 0.75, 0.25},
		{"core tier not damped", core, domain.RegimeNeutral, 0.75, 0.35},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, _ := engine.Decide(tt.asset, Signal{Risk: ptr(0.50), Regime: tt.regime}, State{}, tt.macro, testNow)
			assert.InDelta(t, tt.weight, res.RawWeight, 1e-9)
		})
	}
}

func TestDecide_CashAndMissingRisk(t *testing.T) {
	engine := NewEngine(DefaultPolicy(), zerolog.Nop())

	cash := assetByTicker(t, "XEON")
	res, _ := engine.Decide(cash, Signal{Risk: ptr(0.99), Momentum: 1}, State{}, 0.9, testNow)
	assert.Equal(t, ActionCash, res.Action)
	require.NotNil(t, res.Risk)
	assert.Equal(t, 0.0, *res.Risk)
	assert.Equal(t, cash.BaseWeight, res.RawWeight)

	crypto := assetByTicker(t, "BTC-USD")
	res, next := engine.Decide(crypto, Signal{}, State{Ticker: crypto.Ticker}, 0, testNow)
	assert.Equal(t, ActionSkip, res.Action)
	assert.Nil(t, res.Risk)
	assert.Equal(t, 0.0, res.RawWeight)
	assert.Nil(t, next.LastTarget)
}

func TestDecide_StateTransitions(t *testing.T) {
	engine := NewEngine(plainPolicy(), zerolog.Nop())
	asset := assetByTicker(t, "BTC-USD")

	_, next := engine.Decide(asset, Signal{Risk: ptr(0.10)}, State{}, 0, testNow)
	require.NotNil(t, next.LastBuy)
	assert.Equal(t, testNow, *next.LastBuy)
	assert.InDelta(t, 0.35, *next.LastTarget, 1e-9)

	later := testNow.AddDate(0, 0, 3)
	_, again := engine.Decide(asset, Signal{Risk: ptr(0.10)}, next, 0, later)
	assert.Equal(t, testNow, *again.LastBuy, "existing buy date is kept")

	_, exited := engine.Decide(asset, Signal{Risk: ptr(0.95)}, again, 0, later)
	assert.Nil(t, exited.LastBuy)
	require.NotNil(t, exited.LastSell)
	assert.Equal(t, later, *exited.LastSell)
}

func TestAllocate_ResidualGoesToCash(t *testing.T) {
	engine := NewEngine(plainPolicy(), zerolog.Nop())
	assets := testutil.NewAssetFixtures()

	alloc := engine.Allocate(Request{
		Assets: assets,
		Signals: map[string]Signal{
			"BTC-USD": {Risk: ptr(0.95)},
			"VWCE":    {Risk: ptr(0.50)},
			"GC=F":    {Risk: ptr(0.50)},
		},
		Now: testNow,
	})

	assert.InDelta(t, 0.05, alloc.Weights["BTC-USD"], 1e-9)
	assert.InDelta(t, 0.35, alloc.Weights["VWCE"], 1e-9)
	assert.InDelta(t, 0.15, alloc.Weights["GC=F"], 1e-9)
	assert.InDelta(t, 0.45, alloc.Weights["XEON"], 1e-9)
}

func TestAllocate_SimpleNormalization(t *testing.T) {
	p := plainPolicy()
	p.Normalization = NormalizeSimple
	engine := NewEngine(p, zerolog.Nop())

	alloc := engine.Allocate(Request{
		Assets: testutil.NewAssetFixtures(),
		Signals: map[string]Signal{
			"BTC-USD": {Risk: ptr(0.95)},
			"VWCE":    {Risk: ptr(0.50)},
			"GC=F":    {Risk: ptr(0.50)},
		},
		Now: testNow,
	})

	assert.InDelta(t, 0.05/0.80, alloc.Weights["BTC-USD"], 1e-9)
	assert.InDelta(t, 0.25/0.80, alloc.Weights["XEON"], 1e-9)
}

func TestAllocate_Degenerate(t *testing.T) {
	engine := NewEngine(DefaultPolicy(), zerolog.Nop())
	asset := domain.AssetConfig{
		Ticker: "NEW", Tier: domain.TierSatellite,
		BaseWeight: 0.1, MaxWeight: 0.2, ExitThreshold: 0.9, ReduceThreshold: 0.8, MoonbagFraction: 0.5,
	}

	alloc := engine.Allocate(Request{Assets: []domain.AssetConfig{asset}, Now: testNow})
	assert.True(t, alloc.Degenerate)
	assert.Equal(t, 0.0, alloc.Weights["NEW"])
	assert.False(t, math.IsNaN(alloc.Weights["NEW"]))
}

func TestMoonbagFraction(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		name     string
		base     float64
		momentum float64
		regime   domain.Regime
		want     float64
	}{
		{"neutral unchanged", 0.40, 0.0, domain.RegimeNeutral, 0.40},
		{"momentum bonus", 0.40, 0.40, domain.RegimeNeutral, 0.60},
		{"bonus capped", 0.20, 1.00, domain.RegimeNeutral, 0.50},
		{"bull multiplier", 0.40, 0.0, domain.RegimeBull, 0.48},
		{"bear multiplier", 0.40, 0.0, domain.RegimeBear, 0.32},
		{"max moonbag", 0.60, 1.00, domain.RegimeBull, 0.70},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, p.MoonbagFraction(tt.base, tt.momentum, tt.regime), 1e-9)
		})
	}
}

type memoryStore struct {
	states map[string]State
}

func (m *memoryStore) LoadAll(context.Context) (map[string]State, error) {
	out := make(map[string]State, len(m.states))
	for k, v := range m.states {
		out[k] = v
	}
	return out, nil
}

func (m *memoryStore) SaveAll(_ context.Context, states map[string]State) error {
	for k, v := range states {
		m.states[k] = v
	}
	return nil
}

func TestService_ConvictionAcrossRuns(t *testing.T) {
	store := &memoryStore{states: map[string]State{}}
	svc := NewService(NewEngine(DefaultPolicy(), zerolog.Nop()), store, zerolog.Nop())
	assets := testutil.NewAssetFixtures()

	first, err := svc.Allocate(context.Background(), Request{
		Assets:  assets,
		Signals: map[string]Signal{"BTC-USD": {Risk: ptr(0.10)}, "VWCE": {Risk: ptr(0.5)}, "GC=F": {Risk: ptr(0.5)}},
		Now:     testNow,
	})
	require.NoError(t, err)
	require.NotNil(t, store.states["BTC-USD"].LastBuy)

	second, err := svc.Allocate(context.Background(), Request{
		Assets:  assets,
		Signals: map[string]Signal{"BTC-USD": {Risk: ptr(0.90)}, "VWCE": {Risk: ptr(0.5)}, "GC=F": {Risk: ptr(0.5)}},
		Now:     testNow.AddDate(0, 0, 20),
	})
	require.NoError(t, err)

	var firstRaw, secondRaw float64
	for _, a := range first.Assets {
		if a.Ticker == "BTC-USD" {
			firstRaw = a.RawWeight
		}
	}
	for _, a := range second.Assets {
		if a.Ticker == "BTC-USD" {
			secondRaw = a.RawWeight
			assert.Equal(t, ActionConvictionHold, a.Action)
		}
	}
	assert.InDelta(t, firstRaw, secondRaw, 1e-9)
}
