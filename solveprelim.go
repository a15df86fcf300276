// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.12
//

// Fits a single candidate parameter set to a (typically minimal) subset of
// readings. One such solve runs per robust-search trial, so failures here are
// recoverable: the outer loop just draws another subset.

package radioloc

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Calculation constants for preliminary and refinement solves
const (
	PRELIM_MAX_LOOP       = 30   // Maximum Gauss-Newton iterations per subset
	REFINE_MAX_LOOP       = 50   // Maximum Levenberg-Marquardt iterations
	CONVERGENCE_THRESHOLD = 1e-9 // Parameter update convergence threshold
	MAX_STEP_HALVINGS     = 6    // Step halvings before a trial iteration gives up
)

// candidate is one full parameter set of the propagation model. Quantities
// not being estimated keep the value they were seeded with.
type candidate struct {
	pos        []float64 // Emitter position [m]
	txPowerDbm float64   // Transmitted power [dBm]
	pathLoss   float64   // Path loss exponent
}

func (c candidate) clone() candidate {
	pos := make([]float64, len(c.pos))
	copy(pos, c.pos)
	return candidate{pos: pos, txPowerDbm: c.txPowerDbm, pathLoss: c.pathLoss}
}

// apply adds scale*dx to the enabled unknowns, in [position..., power,
// path loss] layout.
func (c *candidate) apply(dx mat.Vector, flags EstimationFlags, scale float64) {
	j := 0
	if flags.Position {
		for i := range c.pos {
			c.pos[i] += scale * dx.AtVec(j)
			j++
		}
	}
	if flags.TransmittedPower {
		c.txPowerDbm += scale * dx.AtVec(j)
		j++
	}
	if flags.PathLoss {
		c.pathLoss += scale * dx.AtVec(j)
	}
}

// residualDbm returns observed minus predicted received power for one reading.
func residualDbm(r Reading, c candidate, freq float64) (float64, error) {
	d := EucDist(c.pos, r.Position)
	pred, err := ExpectedPowerDbm(c.txPowerDbm, d, freq, c.pathLoss)
	if err != nil {
		return 0, err
	}
	return r.Rssi - pred, nil
}

// jacobianRow fills row with the partial derivatives of the predicted dBm
// power with respect to the enabled unknowns, evaluated at c.
func jacobianRow(row []float64, r Reading, c candidate, flags EstimationFlags, freq float64) error {
	d := EucDist(c.pos, r.Position)
	if d <= 0 {
		return fmt.Errorf("candidate coincides with receiver position")
	}
	j := 0
	if flags.Position {
		k := -10 * c.pathLoss / (math.Ln10 * d * d)
		for i := range c.pos {
			row[j] = k * (c.pos[i] - r.Position[i])
			j++
		}
	}
	if flags.TransmittedPower {
		row[j] = 1
		j++
	}
	if flags.PathLoss {
		row[j] = PathLossFactorDb(freq) - 10*math.Log10(d)
	}
	return nil
}

// subsetCost is the sum of squared dBm residuals over the given readings.
func subsetCost(readings []Reading, c candidate, freq float64) (float64, error) {
	cost := 0.0
	for i := range readings {
		r, err := residualDbm(readings[i], c, freq)
		if err != nil {
			return 0, err
		}
		cost += SQ(r)
	}
	return cost, nil
}

// solvePreliminary produces one candidate from a subset of readings. When the
// position is unknown and no caller-supplied guess exists (seeded=false), it
// is seeded by closed-form trilateration from model-inverted distances, then
// the full parameter set is polished by damped Gauss-Newton.
func solvePreliminary(readings []Reading, base candidate, seeded bool, flags EstimationFlags, freq float64) (candidate, error) {
	c := base.clone()
	if flags.Position && !seeded {
		pos, err := trilaterateSeed(readings, c, freq)
		if err != nil {
			pos = receiverCentroid(readings)
		}
		c.pos = pos
	}
	return gaussNewton(readings, c, flags, freq, PRELIM_MAX_LOOP)
}

// trilaterateSeed solves the linearized range equations
//
//	2 (p_ref - p_i) . x = d_i^2 - d_ref^2 - |p_i|^2 + |p_ref|^2
//
// for the emitter position x, using the last reading as reference and
// distances inverted from the propagation model at the current power and
// path loss values.
func trilaterateSeed(readings []Reading, c candidate, freq float64) ([]float64, error) {
	m := len(readings)
	dim := len(c.pos)
	if m < dim+1 {
		return nil, fmt.Errorf("not enough readings for trilateration: %d < %d", m, dim+1)
	}

	d := make([]float64, m)
	for i := range readings {
		di, err := ModelDistance(readings[i].Rssi, c.txPowerDbm, freq, c.pathLoss)
		if err != nil {
			return nil, err
		}
		d[i] = di
	}

	ref := readings[m-1].Position
	refNormSq := normSq(ref)

	G := mat.NewDense(m-1, dim, nil)
	dr := mat.NewVecDense(m-1, nil)
	for i := 0; i < m-1; i++ {
		p := readings[i].Position
		for j := 0; j < dim; j++ {
			G.Set(i, j, 2*(ref[j]-p[j]))
		}
		dr.SetVec(i, SQ(d[i])-SQ(d[m-1])-normSq(p)+refNormSq)
	}

	x, _, err := SolveLS(G, dr, identityWeights(m-1))
	if err != nil {
		return nil, err
	}

	pos := make([]float64, dim)
	for j := 0; j < dim; j++ {
		pos[j] = x.AtVec(j)
	}
	return pos, nil
}

// gaussNewton iterates linearized least squares updates until the parameter
// increment falls below the convergence threshold. Steps that increase the
// cost are halved a few times before the iteration counts as failed.
func gaussNewton(readings []Reading, c candidate, flags EstimationFlags, freq float64, maxLoop int) (candidate, error) {
	dim := len(c.pos)
	nx := flags.UnknownDim(dim)
	m := len(readings)
	if m < nx {
		return c, fmt.Errorf("not enough readings: %d < %d", m, nx)
	}

	cost, err := subsetCost(readings, c, freq)
	if err != nil {
		return c, err
	}

	G := mat.NewDense(m, nx, nil)
	dr := mat.NewVecDense(m, nil)
	W := identityWeights(m)
	row := make([]float64, nx)

	for loop := 0; loop < maxLoop; loop++ {
		for i := range readings {
			if err := jacobianRow(row, readings[i], c, flags, freq); err != nil {
				return c, err
			}
			G.SetRow(i, row)
			r, err := residualDbm(readings[i], c, freq)
			if err != nil {
				return c, err
			}
			dr.SetVec(i, r)
		}

		dx, _, err := SolveLS(G, dr, W)
		if err != nil {
			return c, err
		}
		if !vecFinite(dx) {
			return c, fmt.Errorf("non-finite parameter update")
		}

		// Damped step: back off until the cost stops increasing
		step := 1.0
		accepted := false
		var next candidate
		var nextCost float64
		for k := 0; k < MAX_STEP_HALVINGS; k++ {
			next = c.clone()
			next.apply(dx, flags, step)
			nextCost, err = subsetCost(readings, next, freq)
			if err == nil && nextCost <= cost {
				accepted = true
				break
			}
			step /= 2
		}
		if !accepted {
			// No progress possible from here: already converged or stuck
			if loop > 0 {
				return c, nil
			}
			return c, fmt.Errorf("no progress from initial guess")
		}

		c = next
		cost = nextCost
		PrintD(4, "\tgn loop %d: cost=%g, |dx|=%g\n", loop+1, cost, maxAbsVec(dx)*step)

		if maxAbsVec(dx)*step < CONVERGENCE_THRESHOLD {
			return c, nil
		}
	}

	return c, fmt.Errorf("number of loop reached max")
}

// ------------------------------------
// Small vector helpers
// ------------------------------------

func normSq(v []float64) float64 {
	s := 0.0
	for _, x := range v {
		s += SQ(x)
	}
	return s
}

func receiverCentroid(readings []Reading) []float64 {
	dim := len(readings[0].Position)
	pos := make([]float64, dim)
	for i := range readings {
		for j := 0; j < dim; j++ {
			pos[j] += readings[i].Position[j]
		}
	}
	for j := 0; j < dim; j++ {
		pos[j] /= float64(len(readings))
	}
	return pos
}

func identityWeights(n int) mat.Matrix {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1
	}
	return mat.NewDiagDense(n, w)
}

func maxAbsVec(v mat.Vector) float64 {
	m := 0.0
	for i := 0; i < v.Len(); i++ {
		if a := math.Abs(v.AtVec(i)); a > m {
			m = a
		}
	}
	return m
}

func vecFinite(v mat.Vector) bool {
	for i := 0; i < v.Len(); i++ {
		if math.IsNaN(v.AtVec(i)) || math.IsInf(v.AtVec(i), 0) {
			return false
		}
	}
	return true
}
