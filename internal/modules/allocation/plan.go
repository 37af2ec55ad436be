package allocation

import (
	"math"
	"sort"

	"github.com/aristath/riskcycle/internal/domain"
)

// DefaultMinTradeValue is the smallest trade worth placing
const DefaultMinTradeValue = 500.0

// Buy gate thresholds on the asset's latest composite risk
const (
	BuyGateRisk  = 0.70
	ValueBuyRisk = 0.30
)

// Trade sides
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Trade statuses
const (
	StatusBuy      = "BUY"
	StatusValueBuy = "VALUE BUY"
	StatusSell     = "SELL"
	StatusSkipped  = "SKIP (High Risk)"
)

// Custody labels counted as platform exposure
var platformCustody = map[string]bool{"Platform": true, "DeFi": true}

// Trade is one rebalancing order
type Trade struct {
	Ticker       string   `json:"ticker"`
	Side         string   `json:"side"`
	Status       string   `json:"status"`
	Risk         *float64 `json:"risk,omitempty"`
	Value        float64  `json:"value"`
	CurrentValue float64  `json:"current_value"`
	TargetValue  float64  `json:"target_value"`
}

// PlanInput describes one rebalancing request
type PlanInput struct {
	// Holdings and TotalValue are current market values; a zero TotalValue
	// falls back to the sum of holdings
	Holdings      map[string]float64
	TotalValue    float64
	CashInjection float64
	Targets       map[string]float64
	// Risks gates buys; tickers without an entry are never gated
	Risks map[string]float64
	// Assets supplies yield and custody for the income and exposure totals
	Assets   []domain.AssetConfig
	MinTrade float64
}

// ExecutionPlan lists the trades moving holdings to target weights
type ExecutionPlan struct {
	CurrentValue     float64 `json:"current_value"`
	CashInjection    float64 `json:"cash_injection"`
	TotalValue       float64 `json:"total_value"`
	Trades           []Trade `json:"trades"`
	Skipped          []Trade `json:"skipped"`
	TotalBuy         float64 `json:"total_buy"`
	TotalSell        float64 `json:"total_sell"`
	PlatformExposure float64 `json:"platform_exposure"`
	AnnualIncome     float64 `json:"annual_income"`
}

// BuildExecutionPlan compares current holdings with target weights of the
// post-injection total. Deltas below MinTrade are ignored. Buys of assets
// above BuyGateRisk are skipped. Sells come first so they fund the buys.
func BuildExecutionPlan(in PlanInput) *ExecutionPlan {
	minTrade := in.MinTrade
	if minTrade <= 0 {
		minTrade = DefaultMinTradeValue
	}
	current := in.TotalValue
	if current <= 0 {
		for _, v := range in.Holdings {
			current += v
		}
	}
	total := current + in.CashInjection
	plan := &ExecutionPlan{
		CurrentValue:  round(current, 2),
		CashInjection: round(in.CashInjection, 2),
		TotalValue:    round(total, 2),
		Trades:        []Trade{},
		Skipped:       []Trade{},
	}

	tickers := make(map[string]struct{}, len(in.Holdings)+len(in.Targets))
	for t := range in.Holdings {
		tickers[t] = struct{}{}
	}
	for t := range in.Targets {
		tickers[t] = struct{}{}
	}

	for ticker := range tickers {
		held := in.Holdings[ticker]
		target := in.Targets[ticker] * total
		delta := target - held
		if math.Abs(delta) < minTrade {
			continue
		}
		trade := Trade{
			Ticker:       ticker,
			Value:        round(math.Abs(delta), 2),
			CurrentValue: round(held, 2),
			TargetValue:  round(target, 2),
		}
		if r, ok := in.Risks[ticker]; ok {
			trade.Risk = &r
		}
		if delta < 0 {
			trade.Side, trade.Status = SideSell, StatusSell
			plan.TotalSell += trade.Value
			plan.Trades = append(plan.Trades, trade)
			continue
		}
		trade.Side, trade.Status = SideBuy, StatusBuy
		switch {
		case trade.Risk != nil && *trade.Risk > BuyGateRisk:
			trade.Status = StatusSkipped
			plan.Skipped = append(plan.Skipped, trade)
			continue
		case trade.Risk != nil && *trade.Risk < ValueBuyRisk:
			trade.Status = StatusValueBuy
		}
		plan.TotalBuy += trade.Value
		plan.Trades = append(plan.Trades, trade)
	}

	for _, a := range in.Assets {
		target := in.Targets[a.Ticker] * total
		plan.AnnualIncome += target * a.EstYield
		if platformCustody[a.Custody] {
			plan.PlatformExposure += target
		}
	}
	plan.AnnualIncome = round(plan.AnnualIncome, 2)
	plan.PlatformExposure = round(plan.PlatformExposure, 2)

	sortTrades(plan.Trades)
	sortTrades(plan.Skipped)
	return plan
}

func sortTrades(trades []Trade) {
	sort.Slice(trades, func(i, j int) bool {
		a, b := trades[i], trades[j]
		if a.Side != b.Side {
			return a.Side == SideSell
		}
		if a.Value != b.Value {
			return a.Value > b.Value
		}
		return a.Ticker < b.Ticker
	})
}

// round rounds a float64 to n decimal places
func round(val float64, decimals int) float64 {
	multiplier := math.Pow(10, float64(decimals))
	return math.Round(val*multiplier) / multiplier
}
