// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.12
//

package radioloc

import "errors"

// Error kinds surfaced by the estimator. Wrapped with context via %w, so
// callers can test them with errors.Is.
var (
	// ErrInvalidArgument is returned by setters when a value violates its
	// allowed domain. State is never mutated on this error.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrLocked is returned by any mutator invoked while Estimate is running.
	ErrLocked = errors.New("estimator is locked")

	// ErrNotReady is returned by Estimate when readings are missing or the
	// configured unknowns cannot be resolved from them.
	ErrNotReady = errors.New("estimator is not ready")

	// ErrEstimation is returned by Estimate when no valid candidate could be
	// produced from any sampled subset.
	ErrEstimation = errors.New("estimation failed")
)
