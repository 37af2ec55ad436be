package allocation

import (
	"sort"

	"github.com/aristath/riskcycle/internal/domain"
)

// TierAllocation aggregates weights for one tier
type TierAllocation struct {
	Tier       domain.Tier `json:"tier"`
	BaseWeight float64     `json:"base_weight"`
	Weight     float64     `json:"weight"`
	Deviation  float64     `json:"deviation"`
	Assets     []string    `json:"assets"`
}

// CalculateTierAllocation sums base and final weights per tier
func CalculateTierAllocation(assets []domain.AssetConfig, weights map[string]float64) []TierAllocation {
	byTier := make(map[domain.Tier]*TierAllocation)
	for _, a := range assets {
		ta, ok := byTier[a.Tier]
		if !ok {
			ta = &TierAllocation{Tier: a.Tier}
			byTier[a.Tier] = ta
		}
		ta.BaseWeight += a.BaseWeight
		ta.Weight += weights[a.Ticker]
		ta.Assets = append(ta.Assets, a.Ticker)
	}

	out := make([]TierAllocation, 0, len(byTier))
	for _, ta := range byTier {
		ta.BaseWeight = round(ta.BaseWeight, 4)
		ta.Weight = round(ta.Weight, 4)
		ta.Deviation = round(ta.Weight-ta.BaseWeight, 4)
		sort.Strings(ta.Assets)
		out = append(out, *ta)
	}

	// Sort by weight descending
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].Tier < out[j].Tier
	})
	return out
}
