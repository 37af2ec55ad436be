package allocation

import "github.com/aristath/riskcycle/internal/domain"

const weightEpsilon = 1e-12

// normalize scales raw weights so they sum to 1. On a zero total it returns
// all-zero weights together with ErrDegeneratePortfolio.
func normalize(assets []domain.AssetConfig, raw map[string]float64, policy NormalizationPolicy) (map[string]float64, error) {
	out := make(map[string]float64, len(raw))
	var total float64
	for _, a := range assets {
		w := raw[a.Ticker]
		if w < 0 {
			w = 0
		}
		out[a.Ticker] = w
		total += w
	}
	if total <= weightEpsilon {
		for k := range out {
			out[k] = 0
		}
		return out, ErrDegeneratePortfolio
	}

	if policy == NormalizeResidual && total < 1 {
		var cashBase float64
		for _, a := range assets {
			if a.IsCash() {
				cashBase += a.BaseWeight
			}
		}
		if cashBase > weightEpsilon {
			residual := 1 - total
			for _, a := range assets {
				if a.IsCash() {
					out[a.Ticker] += residual * a.BaseWeight / cashBase
				}
			}
			return out, nil
		}
	}

	for k, w := range out {
		out[k] = w / total
	}
	return out, nil
}
