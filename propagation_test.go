// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.12
//

package radioloc

import (
	"errors"
	"math"
	"testing"
)

func TestExpectedPowerDomains(t *testing.T) {
	// The dBm and linear forms must describe the same model
	const (
		txDbm = 12.0
		dist  = 7.3
		n     = 2.4
	)
	prDbm, err := ExpectedPowerDbm(txDbm, dist, FREQ_WIFI_24G, n)
	if err != nil {
		t.Fatalf("ExpectedPowerDbm: %v", err)
	}
	pr, err := ExpectedPower(DbmToLinear(txDbm), dist, FREQ_WIFI_24G, n)
	if err != nil {
		t.Fatalf("ExpectedPower: %v", err)
	}
	if got := LinearToDbm(pr); math.Abs(got-prDbm) > 1e-9 {
		t.Errorf("linear form = %g dBm, dBm form = %g dBm", got, prDbm)
	}
}

func TestExpectedPowerDecaysWithDistance(t *testing.T) {
	prev := math.Inf(1)
	for _, d := range []float64{1, 2, 5, 10, 50, 200} {
		pr, err := ExpectedPowerDbm(0, d, FREQ_WIFI_24G, 2)
		if err != nil {
			t.Fatalf("distance %g: %v", d, err)
		}
		if pr >= prev {
			t.Errorf("power did not decay: %g dBm at %g m, previous %g dBm", pr, d, prev)
		}
		prev = pr
	}
}

func TestModelDistanceInversion(t *testing.T) {
	const (
		txDbm = 5.0
		n     = 1.8
		dist  = 13.7
	)
	rssi, err := ExpectedPowerDbm(txDbm, dist, FREQ_WIFI_5G, n)
	if err != nil {
		t.Fatalf("ExpectedPowerDbm: %v", err)
	}
	got, err := ModelDistance(rssi, txDbm, FREQ_WIFI_5G, n)
	if err != nil {
		t.Fatalf("ModelDistance: %v", err)
	}
	if math.Abs(got-dist) > 1e-9 {
		t.Errorf("ModelDistance = %g, want %g", got, dist)
	}
}

func TestPropagationRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		fn   func() error
	}{
		{"zero distance dBm", func() error { _, err := ExpectedPowerDbm(0, 0, FREQ_WIFI_24G, 2); return err }},
		{"negative distance dBm", func() error { _, err := ExpectedPowerDbm(0, -1, FREQ_WIFI_24G, 2); return err }},
		{"zero frequency dBm", func() error { _, err := ExpectedPowerDbm(0, 1, 0, 2); return err }},
		{"zero distance linear", func() error { _, err := ExpectedPower(1, 0, FREQ_WIFI_24G, 2); return err }},
		{"zero frequency linear", func() error { _, err := ExpectedPower(1, 1, 0, 2); return err }},
		{"zero frequency inversion", func() error { _, err := ModelDistance(-40, 0, 0, 2); return err }},
		{"zero exponent inversion", func() error { _, err := ModelDistance(-40, 0, FREQ_WIFI_24G, 0); return err }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.fn()
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("error = %v, want ErrInvalidArgument", err)
			}
		})
	}
}

func TestDbmConversions(t *testing.T) {
	if got := DbmToLinear(0); math.Abs(got-1) > 1e-12 {
		t.Errorf("DbmToLinear(0) = %g, want 1", got)
	}
	if got := DbmToLinear(30); math.Abs(got-1000) > 1e-9 {
		t.Errorf("DbmToLinear(30) = %g, want 1000", got)
	}
	for _, dbm := range []float64{-97.3, -40, 0, 12.5} {
		if got := LinearToDbm(DbmToLinear(dbm)); math.Abs(got-dbm) > 1e-9 {
			t.Errorf("round trip of %g dBm = %g", dbm, got)
		}
	}
}

func TestMedian(t *testing.T) {
	if got := Median([]float64{5, 1, 3}); got != 3 {
		t.Errorf("Median(5,1,3) = %g, want 3", got)
	}
	// Even count keeps the lower of the two middle values
	if got := Median([]float64{4, 1, 3, 2}); got != 2 {
		t.Errorf("Median(4,1,3,2) = %g, want 2", got)
	}
	// Input must stay untouched
	v := []float64{9, 1, 5}
	Median(v)
	if v[0] != 9 || v[1] != 1 || v[2] != 5 {
		t.Errorf("Median modified its input: %v", v)
	}
}
