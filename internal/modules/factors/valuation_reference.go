package factors

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// ReferenceValuationRisk is the full-refit estimator: every day both
// polynomials are solved from scratch by QR least squares over days 0..i.
// It is quadratic in the series length and exists to check ValuationRisk.
// Time is rescaled to [-1, 1] before fitting to keep the design well
// conditioned; predictions are unaffected.
func ReferenceValuationRisk(logPrices []float64, cfg Config) *ValuationResult {
	n := len(logPrices)
	res := newValuationResult(n)

	var histLin, histQuad welford
	for i := cfg.ValuationMinPeriods; i < n; i++ {
		predLin := refitAt(logPrices[:i+1], 1)
		predQuad := refitAt(logPrices[:i+1], 2)

		residLin := logPrices[i] - predLin
		residQuad := logPrices[i] - predQuad
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

// refitAt fits a polynomial of the given degree to y over t=0..len(y)-1 and
// evaluates it at the last t. Returns NaN if the solve fails.
func refitAt(y []float64, degree int) float64 {
	rows := len(y)
	mid := float64(rows-1) / 2
	scale := mid
	if scale == 0 {
		scale = 1
	}

	design := mat.NewDense(rows, degree+1, nil)
	for r := 0; r < rows; r++ {
		u := (float64(r) - mid) / scale
		p := 1.0
		for c := 0; c <= degree; c++ {
			design.Set(r, c, p)
			p *= u
		}
	}

	var coef mat.VecDense
	if err := coef.SolveVec(design, mat.NewVecDense(rows, append([]float64(nil), y...))); err != nil {
		return math.NaN()
	}

	u := (float64(rows-1) - mid) / scale
	pred, p := 0.0, 1.0
	for c := 0; c <= degree; c++ {
		pred += coef.AtVec(c) * p
		p *= u
	}
	return pred
}
