// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.12
//

package radioloc

// EstimationFlags selects which emitter parameters are treated as unknowns.
// Disabled quantities are held at their configured initial values during the
// whole estimation.
type EstimationFlags struct {
	Position         bool // Estimate the emitter position (Dim unknowns)
	TransmittedPower bool // Estimate the transmitted power in dBm (1 unknown)
	PathLoss         bool // Estimate the path loss exponent (1 unknown)
}

// UnknownDim returns the total number of unknown scalar parameters for the
// given spatial dimension.
func (f EstimationFlags) UnknownDim(dim int) int {
	n := 0
	if f.Position {
		n += dim
	}
	if f.TransmittedPower {
		n += 1
	}
	if f.PathLoss {
		n += 1
	}
	return n
}

// MinReadings returns the minimum number of readings required to resolve the
// enabled unknowns: one more than the unknown count, because distance is a
// nonlinear function of the unknown position and a square system leaves the
// solution ambiguous. Zero enabled unknowns yields 0 and the estimator is
// never ready in that case.
func (f EstimationFlags) MinReadings(dim int) int {
	n := f.UnknownDim(dim)
	if n == 0 {
		return 0
	}
	return n + 1
}
