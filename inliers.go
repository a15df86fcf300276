// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.12
//

package radioloc

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// Multiple of the robust scale below which a residual counts as an inlier.
// 2.5 is the classical robust statistics cutoff.
const INLIER_FACTOR = 2.5

// Residual magnitude below which a fit counts as numerically exact [dB].
// Far below any physical RSSI noise, far above solver convergence error.
const RESIDUAL_EPSILON_DB = 1e-6

// InliersData records which readings were classified as consistent with the
// winning candidate, together with the robust residual scale the threshold
// was derived from. It stays valid until the next Estimate call replaces it.
type InliersData struct {
	Inliers    []bool  // Membership per reading index
	NumInliers int     // Count of true entries
	Scale      float64 // Robust residual scale [dB]
}

// robustScale derives a residual standard deviation estimate from the best
// median of squared residuals, following the standard LMedS scale formula
//
//	s = k * (1 + 5/(n-p)) * sqrt(medianSq)
//
// where k = 1/Phi^-1(0.75) (~1.4826) makes the estimate consistent for
// Gaussian noise and the (1 + 5/(n-p)) term corrects small-sample bias for
// n readings and p unknowns.
func robustScale(medianSq float64, n, unknownDim int) float64 {
	k := 1 / distuv.Normal{Mu: 0, Sigma: 1}.Quantile(0.75)
	dof := n - unknownDim
	if dof < 1 {
		dof = 1
	}
	return k * (1 + 5/float64(dof)) * math.Sqrt(medianSq)
}

// classifyInliers marks every reading whose squared residual under the
// candidate is below (INLIER_FACTOR*scale)^2. Readings whose residual cannot
// be evaluated are outliers.
func classifyInliers(readings []Reading, c candidate, freq, scale float64) *InliersData {
	data := &InliersData{
		Inliers: make([]bool, len(readings)),
		Scale:   scale,
	}
	thr := SQ(INLIER_FACTOR * scale)
	if thr < SQ(RESIDUAL_EPSILON_DB) {
		// Degenerate scale from a numerically exact fit. The raw threshold
		// would sit inside the floating point noise of the residuals and
		// split cleanly fitting readings arbitrarily, so keep everything
		// that matches the model to within numerical precision.
		thr = SQ(RESIDUAL_EPSILON_DB)
	}
	for i := range readings {
		r, err := residualDbm(readings[i], c, freq)
		if err != nil {
			continue
		}
		if SQ(r) <= thr {
			data.Inliers[i] = true
			data.NumInliers++
		}
	}
	return data
}
