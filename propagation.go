// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.12
//

// Implements the log-distance propagation model used to predict received
// power from emitter parameters.

package radioloc

import (
	"fmt"
	"math"
)

// PathLossFactorDb returns 10*log10(c / (4*pi*f)), the per-exponent dB term
// of the propagation model for carrier frequency f [Hz].
func PathLossFactorDb(freq float64) float64 {
	return 10 * math.Log10(C/(4*PI*freq))
}

// ExpectedPower returns the received power in linear units predicted by the
// propagation model:
//
//	Pr = Pt * (c / (4*pi*f))^n / d^n
//
// with Pt the transmitted power (linear), d the distance [m], f the carrier
// frequency [Hz] and n the path loss exponent. Zero or negative distance or
// frequency is rejected so that downstream residual statistics never see
// NaN or Inf.
func ExpectedPower(txPower, dist, freq, pathLossExp float64) (float64, error) {
	if dist <= 0 {
		return 0, fmt.Errorf("%w: distance must be positive, got %g", ErrInvalidArgument, dist)
	}
	if freq <= 0 {
		return 0, fmt.Errorf("%w: frequency must be positive, got %g", ErrInvalidArgument, freq)
	}
	k := C / (4 * PI * freq)
	return txPower * math.Pow(k/dist, pathLossExp), nil
}

// ExpectedPowerDbm is the dBm form of the propagation model:
//
//	PrDbm = PtDbm + n*10*log10(c/(4*pi*f)) - n*10*log10(d)
//
// The whole engine scores residuals in this domain so that outlier
// magnitudes stay comparable across widely varying distances.
func ExpectedPowerDbm(txPowerDbm, dist, freq, pathLossExp float64) (float64, error) {
	if dist <= 0 {
		return 0, fmt.Errorf("%w: distance must be positive, got %g", ErrInvalidArgument, dist)
	}
	if freq <= 0 {
		return 0, fmt.Errorf("%w: frequency must be positive, got %g", ErrInvalidArgument, freq)
	}
	return txPowerDbm + pathLossExp*(PathLossFactorDb(freq)-10*math.Log10(dist)), nil
}

// ModelDistance inverts the dBm propagation model: the distance at which an
// emitter with the given parameters would be received at rssi dBm.
func ModelDistance(rssi, txPowerDbm, freq, pathLossExp float64) (float64, error) {
	if freq <= 0 {
		return 0, fmt.Errorf("%w: frequency must be positive, got %g", ErrInvalidArgument, freq)
	}
	if pathLossExp == 0 {
		return 0, fmt.Errorf("%w: path loss exponent must be non-zero", ErrInvalidArgument)
	}
	return math.Pow(10, (txPowerDbm-rssi)/(10*pathLossExp)+PathLossFactorDb(freq)/10), nil
}
