package factors

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/aristath/riskcycle/pkg/formulas"
)

// degenerateStd is the residual spread below which a model is treated as a
// perfect fit and its z-score pinned to 0.
const degenerateStd = 1e-9

// ValuationResult is the valuation factor plus the per-day model internals
type ValuationResult struct {
	Risk        []float64 `json:"risk"`
	PredLinear  []float64 `json:"pred_linear"`
	PredQuad    []float64 `json:"pred_quad"`
	ResidLinear []float64 `json:"resid_linear"`
	ResidQuad   []float64 `json:"resid_quad"`
}

func newValuationResult(n int) *ValuationResult {
	return &ValuationResult{
		Risk:        formulas.NaNSeries(n),
		PredLinear:  formulas.NaNSeries(n),
		PredQuad:    formulas.NaNSeries(n),
		ResidLinear: formulas.NaNSeries(n),
		ResidQuad:   formulas.NaNSeries(n),
	}
}

// compensated is a Neumaier running sum
type compensated struct {
	sum, c float64
}

func (s *compensated) add(v float64) {
	t := s.sum + v
	if math.Abs(s.sum) >= math.Abs(v) {
		s.c += (s.sum - t) + v
	} else {
		s.c += (v - t) + s.sum
	}
	s.sum = t
}

func (s *compensated) value() float64 {
	return s.sum + s.c
}

// welford tracks the population variance of a stream
type welford struct {
	n    int
	mean float64
	m2   float64
}

func (w *welford) add(v float64) {
	w.n++
	d := v - w.mean
	w.mean += d / float64(w.n)
	w.m2 += d * (v - w.mean)
}

func (w *welford) std() float64 {
	if w.n == 0 {
		return 0
	}
	return math.Sqrt(w.m2 / float64(w.n))
}

// ValuationRisk runs the expanding-window ensemble over log prices. On day i
// a linear and a quadratic trend are least-squares fitted to days 0..i and
// evaluated at i; each residual is scored against the history of that
// model's residuals and mapped through the normal CDF.
//
// The fits are maintained incrementally: running sums of y, t·y and t²·y are
// kept, and the normal equations are solved in coordinates centred on the
// window midpoint, where the power sums of t have closed forms and the odd
// ones vanish. Day i depends only on days 0..i.
func ValuationRisk(logPrices []float64, cfg Config) *ValuationResult {
	n := len(logPrices)
	res := newValuationResult(n)

	var sy, sty, st2y compensated
	var histLin, histQuad welford

	for i := 0; i < n; i++ {
		t := float64(i)
		y := logPrices[i]
		sy.add(y)
		sty.add(t * y)
		st2y.add(t * t * y)

		if i < cfg.ValuationMinPeriods {
			continue
		}

		N := float64(i + 1)
		c := t / 2

		s2 := N * (N*N - 1) / 12
		det := N * N * (N*N - 1) * (N*N - 4) / 180

		uy0 := sy.value()
		uy1 := sty.value() - c*uy0
		uy2 := st2y.value() - 2*c*sty.value() + c*c*uy0

		slope := uy1 / s2
		predLin := uy0/N + slope*c

		curv := (N*uy2 - s2*uy0) / det
		intercept := (uy0 - curv*s2) / N
		predQuad := intercept + slope*c + curv*c*c

		residLin := y - predLin
		residQuad := y - predQuad
		histLin.add(residLin)
		histQuad.add(residQuad)

		res.PredLinear[i] = predLin
		res.PredQuad[i] = predQuad
		res.ResidLinear[i] = residLin
		res.ResidQuad[i] = residQuad
		res.Risk[i] = ensembleRisk(residLin, residQuad, &histLin, &histQuad, cfg)
	}

	return res
}

func ensembleRisk(residLin, residQuad float64, histLin, histQuad *welford, cfg Config) float64 {
	zLin := zScore(residLin, histLin, cfg.ResidualMinHistory)
	zQuad := zScore(residQuad, histQuad, cfg.ResidualMinHistory)
	return cfg.LinearWeight*distuv.UnitNormal.CDF(zLin) + cfg.QuadraticWeight*distuv.UnitNormal.CDF(zQuad)
}

func zScore(resid float64, hist *welford, minHistory int) float64 {
	std := 1.0
	if hist.n > minHistory {
		std = hist.std()
	}
	if std <= degenerateStd {
		return 0
	}
	return resid / std
}
