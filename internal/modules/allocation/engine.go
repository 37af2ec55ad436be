package allocation

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/riskcycle/internal/domain"
)

var (
	// ErrDegeneratePortfolio means every computed weight was zero
	ErrDegeneratePortfolio = errors.New("degenerate portfolio: total weight is zero")
	// ErrNoAllocation is returned by a source before the first run completes
	ErrNoAllocation = errors.New("no allocation computed yet")
)

// Allocation actions
const (
	ActionSkip           = "SKIP (No Data)"
	ActionCash           = "CASH"
	ActionConvictionHold = "CONVICTION HOLD"
	ActionWait           = "WAIT (Unconfirmed Spike)"
	ActionExit           = "EXIT"
	ActionMoonbag        = "MOONBAG"
	ActionOverweight     = "OVERWEIGHT"
	ActionReduce         = "REDUCE (Warning)"
	ActionHold           = "HOLD"
)

// Signal is the allocator input for one asset
type Signal struct {
	// Risk is nil when the asset has no usable signal
	Risk     *float64      `json:"risk"`
	Momentum float64       `json:"momentum"`
	Regime   domain.Regime `json:"regime"`
	// RecentRisk holds the composite risks of the confirmation window ending
	// today, oldest first
	RecentRisk []float64 `json:"-"`
}

// State is the persisted conviction history of one asset
type State struct {
	Ticker     string     `json:"ticker"`
	LastBuy    *time.Time `json:"last_buy,omitempty"`
	LastSell   *time.Time `json:"last_sell,omitempty"`
	LastTarget *float64   `json:"last_target,omitempty"`
}

// Request bundles one allocation pass
type Request struct {
	Assets    []domain.AssetConfig
	Signals   map[string]Signal
	States    map[string]State
	MacroRisk float64
	Now       time.Time
}

// AssetAllocation is the decision for one asset
type AssetAllocation struct {
	Ticker          string        `json:"ticker"`
	Tier            domain.Tier   `json:"tier"`
	Risk            *float64      `json:"risk"`
	Momentum        float64       `json:"momentum"`
	Regime          domain.Regime `json:"regime"`
	Action          string        `json:"action"`
	ExitThreshold   float64       `json:"exit_threshold"`
	ReduceThreshold float64       `json:"reduce_threshold"`
	Damper          float64       `json:"damper"`
	RawWeight       float64       `json:"raw_weight"`
	Weight          float64       `json:"weight"`
}

// Allocation is the result of one pass
type Allocation struct {
	Assets        []AssetAllocation  `json:"assets"`
	Weights       map[string]float64 `json:"weights"`
	UpdatedStates map[string]State   `json:"-"`
	MacroRisk     float64            `json:"macro_risk"`
	Degenerate    bool               `json:"degenerate"`
}

// Engine applies the zone policy. It holds no mutable state; conviction
// history is passed in and returned explicitly.
type Engine struct {
	policy Policy
	log    zerolog.Logger
}

// NewEngine creates an allocation engine
func NewEngine(policy Policy, log zerolog.Logger) *Engine {
	return &Engine{
		policy: policy,
		log:    log.With().Str("component", "allocation_engine").Logger(),
	}
}

// Policy returns the engine settings
func (e *Engine) Policy() Policy {
	return e.policy
}

// Allocate computes target weights for every configured asset
func (e *Engine) Allocate(req Request) *Allocation {
	out := &Allocation{
		Assets:        make([]AssetAllocation, 0, len(req.Assets)),
		Weights:       make(map[string]float64, len(req.Assets)),
		UpdatedStates: make(map[string]State, len(req.Assets)),
		MacroRisk:     req.MacroRisk,
	}

	raw := make(map[string]float64, len(req.Assets))
	for _, asset := range req.Assets {
		state, ok := req.States[asset.Ticker]
		if !ok {
			state = State{Ticker: asset.Ticker}
		}
		decision, next := e.decide(asset, req.Signals[asset.Ticker], state, req.MacroRisk, req.Now)
		raw[asset.Ticker] = decision.RawWeight
		out.Assets = append(out.Assets, decision)
		out.UpdatedStates[asset.Ticker] = next
	}

	weights, err := normalize(req.Assets, raw, e.policy.Normalization)
	if err != nil {
		e.log.Warn().Err(err).Msg("All weights zero, returning empty allocation")
		out.Degenerate = true
	}
	for i := range out.Assets {
		w := weights[out.Assets[i].Ticker]
		out.Assets[i].Weight = w
		out.Weights[out.Assets[i].Ticker] = w
	}

	sort.SliceStable(out.Assets, func(i, j int) bool {
		return out.Assets[i].Weight > out.Assets[j].Weight
	})
	return out
}

// Decide evaluates a single asset without normalization
func (e *Engine) Decide(asset domain.AssetConfig, sig Signal, state State, macroRisk float64, now time.Time) (AssetAllocation, State) {
	return e.decide(asset, sig, state, macroRisk, now)
}

func (e *Engine) decide(asset domain.AssetConfig, sig Signal, state State, macroRisk float64, now time.Time) (AssetAllocation, State) {
	p := e.policy
	res := AssetAllocation{
		Ticker:          asset.Ticker,
		Tier:            asset.Tier,
		Momentum:        sig.Momentum,
		Regime:          sig.Regime,
		ExitThreshold:   asset.ExitThreshold,
		ReduceThreshold: asset.ReduceThreshold,
		Damper:          1,
	}
	if res.Regime == "" {
		res.Regime = domain.RegimeNeutral
	}

	if asset.IsCash() {
		zero := 0.0
		res.Risk = &zero
		res.Action = ActionCash
		res.RawWeight = asset.BaseWeight
		return res, state
	}

	if sig.Risk == nil || math.IsNaN(*sig.Risk) {
		res.Action = ActionSkip
		return res, state
	}
	r := *sig.Risk
	res.Risk = &r

	exit, reduce := asset.ExitThreshold, asset.ReduceThreshold
	if sig.Momentum > p.MomentumThreshold {
		exit += p.MomentumExtension
		reduce += p.MomentumExtension
	}
	if res.Regime == domain.RegimeBull {
		exit += p.BullExtension
		reduce += p.BullExtension
	}
	res.ExitThreshold, res.ReduceThreshold = exit, reduce

	prior := asset.BaseWeight
	if state.LastTarget != nil {
		prior = *state.LastTarget
	}

	var weight float64
	switch {
	case p.Conviction.Enabled && inConvictionWindow(state, now, p.Conviction.MinHoldDays) && r < p.Conviction.ExceptionThreshold:
		weight = prior
		res.Action = ActionConvictionHold
	case p.MultiTimeframe.Enabled && r > reduce && isUnconfirmedSpike(r, sig.RecentRisk, p.MultiTimeframe):
		weight = prior
		res.Action = ActionWait
	case r > exit:
		weight = asset.MinWeight
		res.Action = ActionExit
	case r > reduce:
		frac := p.retention(asset.MoonbagFraction, sig.Momentum, res.Regime)
		weight = math.Max(asset.MinWeight, asset.BaseWeight*frac)
		res.Action = ActionMoonbag
	case r < p.ValueThreshold:
		weight = math.Min(asset.MaxWeight, asset.BaseWeight*p.boost(asset.Tier, r))
		res.Action = ActionOverweight
	case p.Warning.Enabled && r > reduce-p.Warning.Band:
		weight = asset.BaseWeight * p.Warning.Taper
		res.Action = ActionReduce
	default:
		weight = asset.BaseWeight
		res.Action = ActionHold
	}

	res.Damper = p.damperFor(asset.Tier, res.Regime, macroRisk)
	weight *= res.Damper
	weight = math.Max(asset.MinWeight, math.Min(asset.MaxWeight, weight))
	res.RawWeight = weight

	next := state
	next.Ticker = asset.Ticker
	switch res.Action {
	case ActionExit:
		t := now
		next.LastSell = &t
		next.LastBuy = nil
	case ActionOverweight:
		if next.LastBuy == nil {
			t := now
			next.LastBuy = &t
		}
	}
	if res.Action != ActionConvictionHold && res.Action != ActionWait {
		w := weight
		next.LastTarget = &w
	}
	return res, next
}

func inConvictionWindow(state State, now time.Time, minHoldDays int) bool {
	if state.LastBuy == nil {
		return false
	}
	days := now.Sub(*state.LastBuy).Hours() / 24
	return days >= 0 && days < float64(minHoldDays)
}

// isUnconfirmedSpike reports whether today's risk sits above the mean of the
// window ending today by more than the tolerance. A window shorter than
// ConfirmationDays confirms the reading.
func isUnconfirmedSpike(risk float64, recent []float64, cfg MultiTimeframeConfig) bool {
	if cfg.ConfirmationDays <= 0 || len(recent) < cfg.ConfirmationDays {
		return false
	}
	var sum float64
	var n int
	for _, v := range recent[len(recent)-cfg.ConfirmationDays:] {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return false
	}
	return risk-sum/float64(n) > cfg.SpikeTolerance
}
