// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.12
//

// Shared synthetic scenes for the estimator tests: known emitters observed
// by fixed receiver layouts through the propagation model.

package radioloc

import "testing"

var receivers3D = [][]float64{
	{0, 0, 0}, {10, 0, 0}, {0, 10, 0}, {0, 0, 10},
	{10, 10, 0}, {10, 0, 10}, {0, 10, 10}, {10, 10, 10},
	{5, 0, 3}, {0, 5, 7}, {7, 5, 0}, {3, 8, 6},
}

var receivers2D = [][]float64{
	{0, 0}, {10, 0}, {0, 10}, {10, 10},
	{5, 0}, {0, 5}, {10, 5}, {5, 10},
}

// syntheticReadings builds one reading per receiver with the RSSI the
// propagation model predicts, plus an optional per-reading dB offset.
func syntheticReadings(tb testing.TB, emitterPos []float64, txDbm, pathLoss, freq float64, receivers [][]float64, offsets []float64) []Reading {
	tb.Helper()
	readings := make([]Reading, len(receivers))
	for i, rx := range receivers {
		d := EucDist(emitterPos, rx)
		rssi, err := ExpectedPowerDbm(txDbm, d, freq, pathLoss)
		if err != nil {
			tb.Fatalf("receiver %d: %v", i, err)
		}
		if offsets != nil {
			rssi += offsets[i]
		}
		readings[i] = Reading{
			Emitter:  "test-emitter",
			Rssi:     rssi,
			Position: rx,
		}
	}
	return readings
}
