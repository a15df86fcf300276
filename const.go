// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.12
//

package radioloc

const (
	PI = 3.1415926535897932 // Pi
	C  = 2.99792458e8       // Speed of light [m/s]

	FREQ_WIFI_24G = 2.4e9   // 2.4 GHz WiFi band [Hz]
	FREQ_WIFI_5G  = 5.18e9  // 5 GHz WiFi band, channel 36 [Hz]
	FREQ_BLE      = 2.402e9 // BLE advertising channel 37 [Hz]

	DEFAULT_PATH_LOSS_EXPONENT = 2.0 // Free space propagation
)
