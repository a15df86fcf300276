// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.12
//

// Public estimator facade: configuration, readiness and locking, listener
// notifications, and orchestration of the robust search, inlier
// classification and refinement stages.

package radioloc

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/mat"
)

// Listener receives synchronous notifications during Estimate. All callbacks
// run on the calling goroutine while the estimator is locked, so mutators
// invoked from inside them fail with ErrLocked.
type Listener struct {
	OnEstimateStart          func(e *Estimator)
	OnEstimateEnd            func(e *Estimator)
	OnEstimateNextIteration  func(e *Estimator, iteration int)
	OnEstimateProgressChange func(e *Estimator, progress float64)
}

// EstOpt contains options and parameters for radio source estimation
type EstOpt struct {
	Dim                        int        // Spatial dimension (2 or 3)
	Freq                       float64    // Carrier frequency [Hz]
	StopThreshold              float64    // Early-exit threshold on the best median [dB^2]
	Confidence                 float64    // Probability of sampling an all-inlier subset, in (0,1)
	MaxIterations              int        // Hard ceiling on robust-search trials
	ProgressDelta              float64    // Minimum progress change per notification, in [0,1]
	PreliminarySubsetSize      int        // Readings per trial. 0 means minimum readings
	EstimatePosition           bool       // Estimate the emitter position
	EstimateTransmittedPower   bool       // Estimate the transmitted power
	EstimatePathLoss           bool       // Estimate the path loss exponent
	RefineResult               bool       // Run nonlinear refinement over the inliers
	KeepCovariance             bool       // Keep the full covariance matrix of the refinement
	InitialPosition            []float64  // Optional position guess (required if not estimating position)
	InitialTransmittedPowerDbm *float64   // Optional transmitted power guess [dBm]
	InitialPathLossExponent    *float64   // Optional path loss exponent guess
	Seed                       int64      // Random seed. 0 means time-seeded
	Listener                   *Listener  // Optional estimation callbacks
	Rand                       *rand.Rand // Optional random source, overrides Seed
}

// NewEstOpt creates a new EstOpt with default values. Defaults estimate a 3D
// position and transmitted power of a 2.4 GHz emitter with free space path
// loss, refining the result and keeping the covariance.
func NewEstOpt() *EstOpt {
	return &EstOpt{
		Dim:                      3,
		Freq:                     FREQ_WIFI_24G,
		StopThreshold:            1e-6,
		Confidence:               0.99,
		MaxIterations:            5000,
		ProgressDelta:            0.05,
		PreliminarySubsetSize:    0,
		EstimatePosition:         true,
		EstimateTransmittedPower: true,
		EstimatePathLoss:         false,
		RefineResult:             true,
		KeepCovariance:           true,
	}
}

// Estimator estimates the position, transmitted power and path loss exponent
// of a single radio emitter from located RSSI readings, using a Least Median
// of Squares search followed by optional weighted nonlinear refinement.
// Not safe for concurrent use: Estimate runs synchronously on the calling
// goroutine and a locked flag rejects configuration changes mid-estimation.
type Estimator struct {
	dim  int
	freq float64

	readings []Reading

	stopThreshold float64
	confidence    float64
	maxIterations int
	progressDelta float64
	subsetSize    int

	flags EstimationFlags

	initialPosition []float64
	initialTxDbm    *float64
	initialPathLoss *float64

	refineResult   bool
	keepCovariance bool

	rng      *rand.Rand
	listener *Listener

	locked bool

	// Last results, reset at the start of every Estimate call
	estPos      []float64
	estTxDbm    float64
	estPathLoss float64
	cov         *mat.Dense
	posCov      *mat.Dense
	txVar       *float64
	plVar       *float64
	inliers     *InliersData
}

// NewEstimator creates an Estimator from the given options, validating every
// configured value.
func NewEstimator(opt *EstOpt) (*Estimator, error) {
	if opt == nil {
		opt = NewEstOpt()
	}
	if opt.Dim < 1 {
		return nil, fmt.Errorf("%w: dimension must be at least 1, got %d", ErrInvalidArgument, opt.Dim)
	}
	if opt.Freq <= 0 {
		return nil, fmt.Errorf("%w: frequency must be positive, got %g", ErrInvalidArgument, opt.Freq)
	}

	e := &Estimator{
		dim:  opt.Dim,
		freq: opt.Freq,
		flags: EstimationFlags{
			Position:         opt.EstimatePosition,
			TransmittedPower: opt.EstimateTransmittedPower,
			PathLoss:         opt.EstimatePathLoss,
		},
		refineResult:   opt.RefineResult,
		keepCovariance: opt.KeepCovariance,
		listener:       opt.Listener,
	}
	e.resetResults()

	if err := e.SetStopThreshold(opt.StopThreshold); err != nil {
		return nil, err
	}
	if err := e.SetConfidence(opt.Confidence); err != nil {
		return nil, err
	}
	if err := e.SetMaxIterations(opt.MaxIterations); err != nil {
		return nil, err
	}
	if err := e.SetProgressDelta(opt.ProgressDelta); err != nil {
		return nil, err
	}
	if opt.PreliminarySubsetSize != 0 {
		if err := e.SetPreliminarySubsetSize(opt.PreliminarySubsetSize); err != nil {
			return nil, err
		}
	}
	if opt.InitialPosition != nil {
		if err := e.SetInitialPosition(opt.InitialPosition); err != nil {
			return nil, err
		}
	}
	if opt.InitialTransmittedPowerDbm != nil {
		if err := e.SetInitialTransmittedPowerDbm(*opt.InitialTransmittedPowerDbm); err != nil {
			return nil, err
		}
	}
	if opt.InitialPathLossExponent != nil {
		if err := e.SetInitialPathLossExponent(*opt.InitialPathLossExponent); err != nil {
			return nil, err
		}
	}

	switch {
	case opt.Rand != nil:
		e.rng = opt.Rand
	case opt.Seed != 0:
		e.rng = rand.New(rand.NewSource(opt.Seed))
	default:
		e.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return e, nil
}

// ------------------------------------
// Configuration mutators
// ------------------------------------

// SetReadings stores the reading collection by reference. It fails if the
// collection is nil, smaller than the current minimum readings requirement,
// or contains positions of the wrong dimension.
func (e *Estimator) SetReadings(readings []Reading) error {
	if e.locked {
		return fmt.Errorf("cannot set readings: %w", ErrLocked)
	}
	if readings == nil {
		return fmt.Errorf("%w: readings must not be nil", ErrInvalidArgument)
	}
	min := e.flags.MinReadings(e.dim)
	if !AreValidReadings(readings, min, e.dim) {
		return fmt.Errorf("%w: need at least %d valid %dD readings, got %d",
			ErrInvalidArgument, min, e.dim, len(readings))
	}
	e.readings = readings
	return nil
}

// SetStopThreshold sets the early-exit threshold on the best median of
// squared residuals. Must be positive.
func (e *Estimator) SetStopThreshold(v float64) error {
	if e.locked {
		return fmt.Errorf("cannot set stop threshold: %w", ErrLocked)
	}
	if v <= 0 {
		return fmt.Errorf("%w: stop threshold must be positive, got %g", ErrInvalidArgument, v)
	}
	e.stopThreshold = v
	return nil
}

// SetConfidence sets the requested probability of having sampled at least
// one all-inlier subset. Must lie strictly between 0 and 1.
func (e *Estimator) SetConfidence(v float64) error {
	if e.locked {
		return fmt.Errorf("cannot set confidence: %w", ErrLocked)
	}
	if v <= 0 || v >= 1 {
		return fmt.Errorf("%w: confidence must be in (0,1), got %g", ErrInvalidArgument, v)
	}
	e.confidence = v
	return nil
}

// SetMaxIterations sets the hard ceiling on robust-search trials. Must be at
// least 1.
func (e *Estimator) SetMaxIterations(v int) error {
	if e.locked {
		return fmt.Errorf("cannot set max iterations: %w", ErrLocked)
	}
	if v < 1 {
		return fmt.Errorf("%w: max iterations must be at least 1, got %d", ErrInvalidArgument, v)
	}
	e.maxIterations = v
	return nil
}

// SetProgressDelta sets the minimum progress change that triggers a progress
// notification. Must lie in [0,1].
func (e *Estimator) SetProgressDelta(v float64) error {
	if e.locked {
		return fmt.Errorf("cannot set progress delta: %w", ErrLocked)
	}
	if v < 0 || v > 1 {
		return fmt.Errorf("%w: progress delta must be in [0,1], got %g", ErrInvalidArgument, v)
	}
	e.progressDelta = v
	return nil
}

// SetPreliminarySubsetSize sets the number of readings per robust-search
// trial. Must not be below the current minimum readings requirement.
func (e *Estimator) SetPreliminarySubsetSize(v int) error {
	if e.locked {
		return fmt.Errorf("cannot set preliminary subset size: %w", ErrLocked)
	}
	min := e.flags.MinReadings(e.dim)
	if v < min {
		return fmt.Errorf("%w: preliminary subset size must be at least %d, got %d",
			ErrInvalidArgument, min, v)
	}
	e.subsetSize = v
	return nil
}

// SetEstimationFlags selects which quantities are unknowns. All three may be
// disabled, but the estimator is then never ready.
func (e *Estimator) SetEstimationFlags(flags EstimationFlags) error {
	if e.locked {
		return fmt.Errorf("cannot set estimation flags: %w", ErrLocked)
	}
	e.flags = flags
	// A previously configured subset size below the new minimum falls back
	// to the default
	if e.subsetSize != 0 && e.subsetSize < e.flags.MinReadings(e.dim) {
		e.subsetSize = 0
	}
	return nil
}

// SetFrequency sets the carrier frequency of the emitter. Must be positive.
func (e *Estimator) SetFrequency(v float64) error {
	if e.locked {
		return fmt.Errorf("cannot set frequency: %w", ErrLocked)
	}
	if v <= 0 {
		return fmt.Errorf("%w: frequency must be positive, got %g", ErrInvalidArgument, v)
	}
	e.freq = v
	return nil
}

// SetInitialPosition sets the position guess used to seed the solvers, or
// the fixed emitter position when position estimation is disabled. Pass nil
// to clear it.
func (e *Estimator) SetInitialPosition(pos []float64) error {
	if e.locked {
		return fmt.Errorf("cannot set initial position: %w", ErrLocked)
	}
	if pos != nil && len(pos) != e.dim {
		return fmt.Errorf("%w: initial position must have %d coordinates, got %d",
			ErrInvalidArgument, e.dim, len(pos))
	}
	e.initialPosition = pos
	return nil
}

// SetInitialTransmittedPowerDbm sets the transmitted power guess in dBm, or
// the fixed transmitted power when power estimation is disabled.
func (e *Estimator) SetInitialTransmittedPowerDbm(v float64) error {
	if e.locked {
		return fmt.Errorf("cannot set initial transmitted power: %w", ErrLocked)
	}
	e.initialTxDbm = &v
	return nil
}

// SetInitialTransmittedPower sets the transmitted power guess in linear
// units. Must be positive.
func (e *Estimator) SetInitialTransmittedPower(v float64) error {
	if e.locked {
		return fmt.Errorf("cannot set initial transmitted power: %w", ErrLocked)
	}
	if v <= 0 {
		return fmt.Errorf("%w: linear transmitted power must be positive, got %g", ErrInvalidArgument, v)
	}
	dbm := LinearToDbm(v)
	e.initialTxDbm = &dbm
	return nil
}

// SetInitialPathLossExponent sets the path loss exponent guess, or the fixed
// exponent when path loss estimation is disabled.
func (e *Estimator) SetInitialPathLossExponent(v float64) error {
	if e.locked {
		return fmt.Errorf("cannot set initial path loss exponent: %w", ErrLocked)
	}
	e.initialPathLoss = &v
	return nil
}

// SetRefineResult enables or disables the nonlinear refinement pass.
func (e *Estimator) SetRefineResult(v bool) error {
	if e.locked {
		return fmt.Errorf("cannot set refine result: %w", ErrLocked)
	}
	e.refineResult = v
	return nil
}

// SetKeepCovariance controls whether the full covariance matrix is retained
// after refinement. Per-quantity variances are kept either way.
func (e *Estimator) SetKeepCovariance(v bool) error {
	if e.locked {
		return fmt.Errorf("cannot set keep covariance: %w", ErrLocked)
	}
	e.keepCovariance = v
	return nil
}

// SetListener installs the estimation callbacks.
func (e *Estimator) SetListener(l *Listener) error {
	if e.locked {
		return fmt.Errorf("cannot set listener: %w", ErrLocked)
	}
	e.listener = l
	return nil
}

// SetRandSource installs a random source, making subset sampling
// deterministic for a fixed seed.
func (e *Estimator) SetRandSource(rng *rand.Rand) error {
	if e.locked {
		return fmt.Errorf("cannot set random source: %w", ErrLocked)
	}
	if rng == nil {
		return fmt.Errorf("%w: random source must not be nil", ErrInvalidArgument)
	}
	e.rng = rng
	return nil
}

// ------------------------------------
// Readiness and estimation
// ------------------------------------

// MinReadings returns the minimum number of readings the current estimation
// flags require, or 0 when nothing is being estimated.
func (e *Estimator) MinReadings() int {
	return e.flags.MinReadings(e.dim)
}

// PreliminarySubsetSize returns the effective number of readings drawn per
// robust-search trial.
func (e *Estimator) PreliminarySubsetSize() int {
	min := e.flags.MinReadings(e.dim)
	if e.subsetSize > min {
		return e.subsetSize
	}
	return min
}

// IsReady reports whether Estimate can run: readings are present and
// sufficient, at least one quantity is being estimated, and a fixed position
// is available when position estimation is disabled.
func (e *Estimator) IsReady() bool {
	min := e.flags.MinReadings(e.dim)
	if min == 0 {
		return false
	}
	if !AreValidReadings(e.readings, min, e.dim) {
		return false
	}
	if len(e.readings) < e.PreliminarySubsetSize() {
		return false
	}
	if !e.flags.Position && e.initialPosition == nil {
		return false
	}
	return true
}

// IsLocked reports whether an Estimate call is in progress.
func (e *Estimator) IsLocked() bool {
	return e.locked
}

// Estimate runs the robust search, inlier classification and optional
// refinement, replacing any previous results. The estimator is locked for
// the whole call; the lock is released on every return path.
func (e *Estimator) Estimate() error {
	if e.locked {
		return fmt.Errorf("estimation already in progress: %w", ErrLocked)
	}
	if !e.IsReady() {
		return fmt.Errorf("cannot estimate: %w", ErrNotReady)
	}

	e.locked = true
	defer func() { e.locked = false }()

	e.resetResults()

	if e.listener != nil && e.listener.OnEstimateStart != nil {
		e.listener.OnEstimateStart(e)
	}
	defer func() {
		if e.listener != nil && e.listener.OnEstimateEnd != nil {
			e.listener.OnEstimateEnd(e)
		}
	}()

	base, seeded := e.baseCandidate()
	params := lmedsParams{
		subsetSize:    e.PreliminarySubsetSize(),
		stopThreshold: e.stopThreshold,
		confidence:    e.confidence,
		maxIterations: e.maxIterations,
		progressDelta: e.progressDelta,
		flags:         e.flags,
		freq:          e.freq,
		base:          base,
		seeded:        seeded,
		rng:           e.rng,
	}
	if e.listener != nil && e.listener.OnEstimateNextIteration != nil {
		params.onIteration = func(iter int) { e.listener.OnEstimateNextIteration(e, iter) }
	}
	if e.listener != nil && e.listener.OnEstimateProgressChange != nil {
		params.onProgress = func(progress float64) { e.listener.OnEstimateProgressChange(e, progress) }
	}

	res, err := lmedsSearch(e.readings, params)
	if err != nil {
		return err
	}
	PrintD(1, "search done: median=%g after %d trials\n", res.medianSq, res.iterations)

	scale := robustScale(res.medianSq, len(e.readings), e.flags.UnknownDim(e.dim))
	inliers := classifyInliers(e.readings, res.best, e.freq, scale)

	best := res.best
	var cov *mat.Dense
	if e.refineResult {
		refined, c, err := refineCandidate(e.readings, inliers, best, e.flags, e.freq)
		if err != nil {
			PrintD(1, "refinement skipped: %s\n", err.Error())
		} else {
			best = refined
			cov = c
		}
	}

	e.publish(best, cov, inliers)
	return nil
}

// baseCandidate builds the parameter set the solvers start from: configured
// initial values where present, library defaults otherwise, and a
// transmitted power heuristic assuming the strongest reading was taken about
// one meter from the emitter.
func (e *Estimator) baseCandidate() (candidate, bool) {
	c := candidate{
		pos:        make([]float64, e.dim),
		txPowerDbm: 0,
		pathLoss:   DEFAULT_PATH_LOSS_EXPONENT,
	}
	if e.initialPathLoss != nil {
		c.pathLoss = *e.initialPathLoss
	}
	if e.initialTxDbm != nil {
		c.txPowerDbm = *e.initialTxDbm
	} else if e.flags.TransmittedPower {
		maxRssi := math.Inf(-1)
		for i := range e.readings {
			if e.readings[i].Rssi > maxRssi {
				maxRssi = e.readings[i].Rssi
			}
		}
		c.txPowerDbm = maxRssi - c.pathLoss*PathLossFactorDb(e.freq)
	}
	seeded := false
	if e.initialPosition != nil {
		copy(c.pos, e.initialPosition)
		seeded = true
	}
	return c, seeded
}

func (e *Estimator) resetResults() {
	e.estPos = nil
	e.estTxDbm = 0
	e.estPathLoss = DEFAULT_PATH_LOSS_EXPONENT
	e.cov = nil
	e.posCov = nil
	e.txVar = nil
	e.plVar = nil
	e.inliers = nil
}

// publish stores the final candidate and splits the covariance into its
// per-quantity sub-blocks, honoring the keep-covariance setting.
func (e *Estimator) publish(c candidate, cov *mat.Dense, inl *InliersData) {
	e.estPos = make([]float64, e.dim)
	copy(e.estPos, c.pos)
	e.estTxDbm = c.txPowerDbm
	e.estPathLoss = c.pathLoss
	e.inliers = inl

	if cov == nil {
		return
	}
	j := 0
	if e.flags.Position {
		pc := mat.NewDense(e.dim, e.dim, nil)
		for r := 0; r < e.dim; r++ {
			for s := 0; s < e.dim; s++ {
				pc.Set(r, s, cov.At(r, s))
			}
		}
		e.posCov = pc
		j += e.dim
	}
	if e.flags.TransmittedPower {
		v := cov.At(j, j)
		e.txVar = &v
		j++
	}
	if e.flags.PathLoss {
		v := cov.At(j, j)
		e.plVar = &v
	}
	if e.keepCovariance {
		e.cov = cov
	}
}

// ------------------------------------
// Result accessors
// ------------------------------------

// EstimatedPosition returns a copy of the last estimated emitter position,
// or nil before any successful estimation.
func (e *Estimator) EstimatedPosition() []float64 {
	if e.estPos == nil {
		return nil
	}
	pos := make([]float64, len(e.estPos))
	copy(pos, e.estPos)
	return pos
}

// EstimatedTransmittedPowerDbm returns the last estimated transmitted power
// in dBm, or 0 before any estimation.
func (e *Estimator) EstimatedTransmittedPowerDbm() float64 {
	return e.estTxDbm
}

// EstimatedTransmittedPower returns the last estimated transmitted power in
// linear units, or 1 before any estimation.
func (e *Estimator) EstimatedTransmittedPower() float64 {
	return DbmToLinear(e.estTxDbm)
}

// EstimatedPathLossExponent returns the last estimated path loss exponent,
// or the library default before any estimation.
func (e *Estimator) EstimatedPathLossExponent() float64 {
	return e.estPathLoss
}

// Covariance returns a copy of the full covariance of the refined unknowns,
// or nil when refinement did not run, failed, or covariance keeping is
// disabled.
func (e *Estimator) Covariance() *mat.Dense {
	if e.cov == nil {
		return nil
	}
	return mat.DenseCopyOf(e.cov)
}

// EstimatedPositionCovariance returns a copy of the position sub-block of the
// covariance, or nil when unavailable.
func (e *Estimator) EstimatedPositionCovariance() *mat.Dense {
	if e.posCov == nil {
		return nil
	}
	return mat.DenseCopyOf(e.posCov)
}

// TransmittedPowerVariance returns the variance of the estimated transmitted
// power in dB^2, when available.
func (e *Estimator) TransmittedPowerVariance() (float64, bool) {
	if e.txVar == nil {
		return 0, false
	}
	return *e.txVar, true
}

// PathLossExponentVariance returns the variance of the estimated path loss
// exponent, when available.
func (e *Estimator) PathLossExponentVariance() (float64, bool) {
	if e.plVar == nil {
		return 0, false
	}
	return *e.plVar, true
}

// Inliers returns the inlier classification of the last estimation, or nil.
func (e *Estimator) Inliers() *InliersData {
	return e.inliers
}

// Readings returns the reading collection currently referenced.
func (e *Estimator) Readings() []Reading {
	return e.readings
}

// Frequency returns the configured carrier frequency [Hz].
func (e *Estimator) Frequency() float64 {
	return e.freq
}

// Flags returns the current estimation flags.
func (e *Estimator) Flags() EstimationFlags {
	return e.flags
}

// Dim returns the spatial dimension.
func (e *Estimator) Dim() int {
	return e.dim
}
