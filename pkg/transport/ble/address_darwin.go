// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build darwin

package ble

import (
	"fmt"

	"tinygo.org/x/bluetooth"
)

// parseAddress accepts the peripheral UUID CoreBluetooth assigns to the sign.
func parseAddress(s string) (bluetooth.Address, error) {
	uuid, err := bluetooth.ParseUUID(s)
	if err != nil {
		return bluetooth.Address{}, fmt.Errorf("invalid device UUID %q: %w", s, err)
	}
	return bluetooth.Address{UUID: uuid}, nil
}
