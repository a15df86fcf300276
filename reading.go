// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.12
//

package radioloc

// EmitterID identifies the radio source a reading belongs to (access point
// BSSID, beacon UUID, ...). The estimator treats it as opaque: a single
// Estimate call always concerns one emitter.
type EmitterID string

// Reading is a single located RSSI observation: the signal strength of one
// emitter measured at a known receiver position. Readings are owned by the
// caller and referenced, not copied, by the estimator.
type Reading struct {
	Emitter  EmitterID // Observed radio source
	Rssi     float64   // Received signal strength [dBm]
	Position []float64 // Receiver position, Dim coordinates [m]
	StdDev   float64   // Measurement standard deviation [dB], 0 if unknown
}

// AreValidReadings reports whether the collection can feed an estimation:
// non-empty, at least min readings, and every receiver position of the
// expected dimension.
func AreValidReadings(readings []Reading, min, dim int) bool {
	if len(readings) == 0 || len(readings) < min {
		return false
	}
	for i := range readings {
		if len(readings[i].Position) != dim {
			return false
		}
	}
	return true
}
