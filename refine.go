// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.12
//

// Nonlinear weighted least squares refinement of the robust search winner
// over its inlier set, with parameter covariance from the Fisher information
// at the solution.

package radioloc

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	LM_INITIAL_LAMBDA = 1e-3  // Initial Levenberg-Marquardt damping
	LM_MIN_LAMBDA     = 1e-12 // Damping floor
	LM_MAX_RETRIES    = 8     // Damping increases per iteration before giving up
)

// refineCandidate polishes the winning candidate by Levenberg-Marquardt over
// the inlier readings only, weighting each reading by 1/stddev^2 when a
// measurement standard deviation is present. It returns the refined
// parameters and their covariance (unknownDim x unknownDim), scaled by the
// residual variance estimate. Any failure here is recoverable by publishing
// the unrefined candidate instead.
func refineCandidate(readings []Reading, inliers *InliersData, c candidate, flags EstimationFlags, freq float64) (candidate, *mat.Dense, error) {
	var rs []Reading
	var w []float64
	for i := range readings {
		if !inliers.Inliers[i] {
			continue
		}
		rs = append(rs, readings[i])
		sd := readings[i].StdDev
		if sd <= 0 {
			sd = 1
		}
		w = append(w, 1/SQ(sd))
	}

	dim := len(c.pos)
	nx := flags.UnknownDim(dim)
	m := len(rs)
	if m < nx {
		return c, nil, fmt.Errorf("not enough inliers: %d < %d", m, nx)
	}

	W := mat.NewDiagDense(m, w)
	refined, err := levenbergMarquardt(rs, W, c, flags, freq)
	if err != nil {
		return c, nil, err
	}

	cov, err := parameterCovariance(rs, W, refined, flags, freq)
	if err != nil {
		return c, nil, err
	}
	return refined, cov, nil
}

// levenbergMarquardt minimizes the weighted sum of squared dBm residuals.
// The damping factor grows when a step increases the cost and shrinks after
// every accepted step.
func levenbergMarquardt(rs []Reading, W *mat.DiagDense, c candidate, flags EstimationFlags, freq float64) (candidate, error) {
	dim := len(c.pos)
	nx := flags.UnknownDim(dim)
	m := len(rs)

	cost, err := weightedCost(rs, W, c, freq)
	if err != nil {
		return c, err
	}

	J := mat.NewDense(m, nx, nil)
	dr := mat.NewVecDense(m, nil)
	row := make([]float64, nx)
	lambda := LM_INITIAL_LAMBDA

	for loop := 0; loop < REFINE_MAX_LOOP; loop++ {
		for i := range rs {
			if err := jacobianRow(row, rs[i], c, flags, freq); err != nil {
				return c, err
			}
			J.SetRow(i, row)
			r, err := residualDbm(rs[i], c, freq)
			if err != nil {
				return c, err
			}
			dr.SetVec(i, r)
		}

		// A = J^t W J, g = J^t W dr
		var WJ mat.Dense
		WJ.Mul(W, J)
		var A mat.Dense
		A.Mul(J.T(), &WJ)
		var g mat.VecDense
		g.MulVec(WJ.T(), dr)

		accepted := false
		var dx mat.VecDense
		var next candidate
		var nextCost float64
		for k := 0; k < LM_MAX_RETRIES; k++ {
			// Marquardt scaling: damp by lambda times the diagonal of A
			var Ad mat.Dense
			Ad.CloneFrom(&A)
			for j := 0; j < nx; j++ {
				Ad.Set(j, j, A.At(j, j)*(1+lambda))
			}
			if err := dx.SolveVec(&Ad, &g); err != nil {
				lambda *= 10
				continue
			}
			next = c.clone()
			next.apply(&dx, flags, 1)
			nextCost, err = weightedCost(rs, W, next, freq)
			if err != nil || nextCost > cost {
				lambda *= 10
				continue
			}
			accepted = true
			lambda = math.Max(lambda/10, LM_MIN_LAMBDA)
			break
		}
		if !accepted {
			// Damping exhausted without a better point: current c is the
			// minimum reachable from here
			return c, nil
		}

		c = next
		PrintD(4, "\tlm loop %d: cost=%g, lambda=%g\n", loop+1, nextCost, lambda)
		if maxAbsVec(&dx) < CONVERGENCE_THRESHOLD || cost-nextCost < CONVERGENCE_THRESHOLD*math.Max(cost, 1) {
			cost = nextCost
			return c, nil
		}
		cost = nextCost
	}

	return c, nil
}

// parameterCovariance evaluates (J^t W J)^-1 at the refined solution and
// scales it by the residual variance estimate.
func parameterCovariance(rs []Reading, W *mat.DiagDense, c candidate, flags EstimationFlags, freq float64) (*mat.Dense, error) {
	dim := len(c.pos)
	nx := flags.UnknownDim(dim)
	m := len(rs)

	J := mat.NewDense(m, nx, nil)
	dr := mat.NewVecDense(m, nil)
	row := make([]float64, nx)
	for i := range rs {
		if err := jacobianRow(row, rs[i], c, flags, freq); err != nil {
			return nil, err
		}
		J.SetRow(i, row)
		r, err := residualDbm(rs[i], c, freq)
		if err != nil {
			return nil, err
		}
		dr.SetVec(i, r)
	}

	var WJ mat.Dense
	WJ.Mul(W, J)
	var A mat.Dense
	A.Mul(J.T(), &WJ)

	var cov mat.Dense
	if err := cov.Inverse(&A); err != nil {
		return nil, fmt.Errorf("singular normal equations: %w", err)
	}

	// Residual variance estimate; unity when there are no spare degrees of
	// freedom. A numerically exact fit carries no residual information, so
	// the unscaled Fisher covariance is published instead of a zero matrix.
	s2 := 1.0
	if m > nx {
		ssr := 0.0
		for i := 0; i < m; i++ {
			ssr += W.At(i, i) * SQ(dr.AtVec(i))
		}
		if s := ssr / float64(m-nx); s > SQ(RESIDUAL_EPSILON_DB) {
			s2 = s
		}
	}
	cov.Scale(s2, &cov)
	return &cov, nil
}

// weightedCost is the weighted sum of squared dBm residuals.
func weightedCost(rs []Reading, W *mat.DiagDense, c candidate, freq float64) (float64, error) {
	cost := 0.0
	for i := range rs {
		r, err := residualDbm(rs[i], c, freq)
		if err != nil {
			return 0, err
		}
		cost += W.At(i, i) * SQ(r)
	}
	return cost, nil
}
