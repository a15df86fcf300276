// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.12
//

// Implements the Least Median of Squares search: random minimal subsets of
// readings each produce a candidate, candidates are scored by the median of
// squared residuals over the whole reading set, and the best scoring one
// wins. Tolerates just under 50% outlier contamination.

package radioloc

import (
	"fmt"
	"math"
	"math/rand"

	"golang.org/x/exp/slices"
)

// lmedsParams bundles the robust-search configuration handed down by the
// estimator facade.
type lmedsParams struct {
	subsetSize    int
	stopThreshold float64
	confidence    float64
	maxIterations int
	progressDelta float64
	flags         EstimationFlags
	freq          float64
	base          candidate // Known/initial values for all quantities
	seeded        bool      // base.pos is a caller-supplied position guess
	rng           *rand.Rand
	onIteration   func(iter int)
	onProgress    func(progress float64)
}

type lmedsResult struct {
	best       candidate
	medianSq   float64 // Winning median of squared residuals [dB^2]
	iterations int     // Trials actually run
}

// lmedsSearch runs the robust search over the full reading set. Individual
// subset failures (degenerate geometry, no convergence) are recovered by
// drawing another subset; only a total absence of valid candidates is an
// error.
func lmedsSearch(readings []Reading, p lmedsParams) (*lmedsResult, error) {
	n := len(readings)
	dim := len(p.base.pos)
	unknownDim := p.flags.UnknownDim(dim)

	required := p.maxIterations
	bestScore := math.Inf(1)
	var best *candidate
	lastProgress := 0.0

	iter := 0
	for ; iter < required; iter++ {
		if p.onIteration != nil {
			p.onIteration(iter)
		}

		subset := sampleReadings(readings, p.subsetSize, p.rng)
		cand, err := solvePreliminary(subset, p.base, p.seeded, p.flags, p.freq)
		if err != nil {
			PrintD(3, "\ttrial %d: subset discarded: %s\n", iter+1, err.Error())
			continue
		}

		score := medianSqResidual(readings, cand, p.freq)
		if score < bestScore {
			bestScore = score
			best = &cand

			// Re-derive how many trials the requested confidence still
			// needs, from the inlier ratio implied by the new best median.
			scale := robustScale(bestScore, n, unknownDim)
			inl := classifyInliers(readings, cand, p.freq, scale)
			w := float64(inl.NumInliers) / float64(n)
			required = requiredIterations(p.confidence, w, p.subsetSize, p.maxIterations)
			PrintD(2, "\ttrial %d: new best median=%g, inlier ratio=%.3f, required=%d\n",
				iter+1, bestScore, w, required)
		}

		if p.onProgress != nil && p.progressDelta > 0 {
			progress := math.Min(1, float64(iter+1)/float64(required))
			if progress-lastProgress >= p.progressDelta {
				lastProgress = progress
				p.onProgress(progress)
			}
		}

		if bestScore <= p.stopThreshold {
			iter++
			break
		}
	}

	if best == nil {
		return nil, fmt.Errorf("%w: no subset produced a valid candidate", ErrEstimation)
	}
	return &lmedsResult{best: *best, medianSq: bestScore, iterations: iter}, nil
}

// sampleReadings draws subsetSize distinct readings uniformly at random,
// without replacement.
func sampleReadings(readings []Reading, subsetSize int, rng *rand.Rand) []Reading {
	idx := make([]int, 0, subsetSize)
	for len(idx) < subsetSize {
		j := rng.Intn(len(readings))
		if slices.Contains(idx, j) {
			continue
		}
		idx = append(idx, j)
	}
	subset := make([]Reading, subsetSize)
	for i, j := range idx {
		subset[i] = readings[j]
	}
	return subset
}

// medianSqResidual scores a candidate over the whole reading set. Readings
// whose residual cannot be evaluated (candidate on top of a receiver) score
// +Inf so that degenerate candidates lose.
func medianSqResidual(readings []Reading, c candidate, freq float64) float64 {
	sq := make([]float64, len(readings))
	for i := range readings {
		r, err := residualDbm(readings[i], c, freq)
		if err != nil {
			sq[i] = math.Inf(1)
			continue
		}
		sq[i] = SQ(r)
	}
	return Median(sq)
}

// requiredIterations returns the number of random trials needed so that the
// probability of having drawn at least one all-inlier subset reaches the
// requested confidence, given inlier ratio w. Capped at maxIterations.
func requiredIterations(confidence, w float64, subsetSize, maxIterations int) int {
	if w <= 0 {
		return maxIterations
	}
	if w >= 1 {
		return 1
	}
	pAllInliers := math.Pow(w, float64(subsetSize))
	denom := math.Log(1 - pAllInliers)
	if denom >= 0 || math.IsInf(denom, -1) {
		return 1
	}
	req := math.Ceil(math.Log(1-confidence) / denom)
	if req < 1 {
		return 1
	}
	if req > float64(maxIterations) {
		return maxIterations
	}
	return int(req)
}
