package allocation

import (
	"math"

	"github.com/aristath/riskcycle/internal/domain"
	"github.com/aristath/riskcycle/internal/modules/factors"
)

// DetectRegime classifies the trailing mean of composite risk. Fewer than
// lookback defined values yields NEUTRAL.
func DetectRegime(risks []float64, lookback int, bull, bear float64) domain.Regime {
	if lookback <= 0 || len(risks) < lookback {
		return domain.RegimeNeutral
	}
	var sum float64
	var n int
	for _, v := range risks[len(risks)-lookback:] {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		n++
	}
	if n < lookback {
		return domain.RegimeNeutral
	}
	mean := sum / float64(n)
	switch {
	case mean < bull:
		return domain.RegimeBull
	case mean > bear:
		return domain.RegimeBear
	default:
		return domain.RegimeNeutral
	}
}

// Momentum is the price change over lookback rows, 0 when too short
func Momentum(closes []float64, lookback int) float64 {
	n := len(closes)
	if lookback <= 0 || n < lookback {
		return 0
	}
	past := closes[n-lookback]
	if past <= 0 || math.IsNaN(past) || math.IsNaN(closes[n-1]) {
		return 0
	}
	return closes[n-1]/past - 1
}

// SignalFromFactors derives the allocator input from a factor series
func SignalFromFactors(fs *factors.FactorSeries, p Policy) Signal {
	if fs == nil || fs.Len() == 0 {
		return Signal{Regime: domain.RegimeNeutral}
	}
	risk := fs.LastRisk()
	sig := Signal{
		Momentum: Momentum(fs.Close, p.MomentumLookback),
		Regime:   DetectRegime(fs.Total, p.RegimeLookback, p.BullThreshold, p.BearThreshold),
	}
	if !math.IsNaN(risk) {
		sig.Risk = &risk
	}
	// A history shorter than the window leaves RecentRisk empty, which
	// confirms any reading
	if days := p.MultiTimeframe.ConfirmationDays; days > 0 && fs.Len() >= days {
		sig.RecentRisk = append([]float64(nil), fs.Total[fs.Len()-days:]...)
	}
	return sig
}
