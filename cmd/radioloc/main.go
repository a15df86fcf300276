// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.12
//

package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	m "github.com/albertoirurueta/irurueta-navigation-sub004"
)

func main() {

	// Parse command line arguments
	args, err := parseArgs()
	if err != nil {
		flag.Usage()
		os.Exit(1)
	}

	// Run the main application
	if err := runApplication(args); err != nil {
		m.PrintE(err)
		os.Exit(1)
	}
}

// Main application processing
func runApplication(args cmdOpt) error {

	// Load the survey file
	survey, err := readSurvey(args.surveyFn)
	if err != nil {
		return fmt.Errorf("failed to read survey file: %w", err)
	}

	if m.DBG_ >= 1 {
		m.PrintA("--- survey (%s) ---\n", filepath.Base(args.surveyFn))
		m.PrintA("emitter: %s, freq: %g Hz, readings: %d\n",
			survey.Emitter, survey.Frequency, len(survey.Readings))
	}

	// Build the estimator
	est, err := buildEstimator(args, survey)
	if err != nil {
		return fmt.Errorf("failed to configure estimator: %w", err)
	}

	// Run the estimation
	if err := est.Estimate(); err != nil {
		return fmt.Errorf("estimation failed: %w", err)
	}

	// Output results
	printResult(os.Stdout, survey.Emitter, est)
	return nil
}

// surveyFile is the YAML survey format: one emitter, a fixed carrier
// frequency and a list of located RSSI readings.
type surveyFile struct {
	Emitter                    string          `yaml:"emitter"`
	Frequency                  float64         `yaml:"frequency"`
	Dimension                  int             `yaml:"dimension"`
	Readings                   []surveyReading `yaml:"readings"`
	InitialPosition            []float64       `yaml:"initialPosition"`
	InitialTransmittedPowerDbm *float64        `yaml:"initialTransmittedPowerDbm"`
	InitialPathLossExponent    *float64        `yaml:"initialPathLossExponent"`
}

type surveyReading struct {
	Position []float64 `yaml:"position"`
	Rssi     float64   `yaml:"rssi"`
	StdDev   float64   `yaml:"stddev"`
}

// Read and decode the survey file
func readSurvey(fn string) (*surveyFile, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var survey surveyFile
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&survey); err != nil {
		return nil, err
	}
	if len(survey.Readings) == 0 {
		return nil, fmt.Errorf("survey contains no readings")
	}
	return &survey, nil
}

// Build and configure the estimator from survey data and command flags
func buildEstimator(args cmdOpt, survey *surveyFile) (*m.Estimator, error) {

	opt := m.NewEstOpt()
	if survey.Dimension > 0 {
		opt.Dim = survey.Dimension
	} else if len(survey.Readings) > 0 {
		opt.Dim = len(survey.Readings[0].Position)
	}
	if survey.Frequency > 0 {
		opt.Freq = survey.Frequency
	}
	opt.EstimatePathLoss = args.estPathLoss
	opt.RefineResult = !args.noRefine
	opt.Confidence = args.confidence
	opt.MaxIterations = args.maxIter
	opt.Seed = args.seed
	opt.InitialPosition = survey.InitialPosition
	opt.InitialTransmittedPowerDbm = survey.InitialTransmittedPowerDbm
	opt.InitialPathLossExponent = survey.InitialPathLossExponent
	if m.DBG_ >= 1 {
		opt.Listener = &m.Listener{
			OnEstimateProgressChange: func(_ *m.Estimator, progress float64) {
				m.PrintA("progress: %3.0f%%\n", progress*100)
			},
		}
	}

	est, err := m.NewEstimator(opt)
	if err != nil {
		return nil, err
	}
	if args.subsetSize > 0 {
		if err := est.SetPreliminarySubsetSize(args.subsetSize); err != nil {
			return nil, err
		}
	}

	readings := make([]m.Reading, len(survey.Readings))
	for i, r := range survey.Readings {
		readings[i] = m.Reading{
			Emitter:  m.EmitterID(survey.Emitter),
			Rssi:     r.Rssi,
			Position: r.Position,
			StdDev:   r.StdDev,
		}
	}
	if err := est.SetReadings(readings); err != nil {
		return nil, err
	}
	return est, nil
}

// Output estimation results
func printResult(w *os.File, emitter string, est *m.Estimator) {
	fmt.Fprintf(w, "emitter          : %s\n", emitter)
	if pos := est.EstimatedPosition(); pos != nil {
		fmt.Fprintf(w, "position [m]     :")
		for _, c := range pos {
			fmt.Fprintf(w, " %10.4f", c)
		}
		fmt.Fprintf(w, "\n")
	}
	fmt.Fprintf(w, "tx power         : %10.4f dBm (%.6g mW)\n",
		est.EstimatedTransmittedPowerDbm(), est.EstimatedTransmittedPower())
	fmt.Fprintf(w, "path loss exp    : %10.4f\n", est.EstimatedPathLossExponent())

	if inl := est.Inliers(); inl != nil {
		fmt.Fprintf(w, "inliers          : %d / %d (scale %.3f dB)\n",
			inl.NumInliers, len(inl.Inliers), inl.Scale)
	}
	if pc := est.EstimatedPositionCovariance(); pc != nil {
		fmt.Fprintf(w, "position std [m] :")
		r, _ := pc.Dims()
		for i := 0; i < r; i++ {
			fmt.Fprintf(w, " %10.4f", math.Sqrt(pc.At(i, i)))
		}
		fmt.Fprintf(w, "\n")
	}
	if v, ok := est.TransmittedPowerVariance(); ok {
		fmt.Fprintf(w, "tx power std     : %10.4f dB\n", math.Sqrt(v))
	}
	if v, ok := est.PathLossExponentVariance(); ok {
		fmt.Fprintf(w, "path loss std    : %10.4f\n", math.Sqrt(v))
	}
}

// Structure to hold command line argument information
type cmdOpt struct {
	surveyFn    string
	estPathLoss bool
	noRefine    bool
	confidence  float64
	maxIter     int
	subsetSize  int
	seed        int64
}

// Parse command line arguments
func parseArgs() (a cmdOpt, err error) {
	flag.Usage = func() {
		m.PrintA(`
[Usage]
	%s [Options] survey.yaml

[Options]
`, filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	opt := m.NewEstOpt()
	flag.BoolVar(&a.estPathLoss, "pl", opt.EstimatePathLoss, "Also estimate the path loss exponent.")
	flag.BoolVar(&a.noRefine, "nr", false, "Skip the nonlinear refinement pass.")
	flag.Float64Var(&a.confidence, "c", opt.Confidence, "Robust search confidence, in (0,1).")
	flag.IntVar(&a.maxIter, "i", opt.MaxIterations, "Maximum number of robust search trials.")
	flag.IntVar(&a.subsetSize, "s", 0, "Readings per trial. 0 uses the minimum for the enabled unknowns.")
	flag.Int64Var(&a.seed, "seed", 0, "Random seed for reproducible runs. 0 seeds from the clock.")
	var dbg int
	flag.IntVar(&dbg, "x", 0, "Debug information display. Specify level value. 0(OFF), 1(display), 2(detailed display), 3(more detailed), 4(most detailed)")
	flag.Parse()

	if flag.NArg() != 1 {
		return a, fmt.Errorf("exactly one survey file expected")
	}
	a.surveyFn = flag.Arg(0)
	m.DBG_ = dbg
	return
}
