// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build !darwin

package ble

import (
	"fmt"

	"tinygo.org/x/bluetooth"
)

// parseAddress accepts a MAC address such as AA:BB:CC:DD:EE:FF.
func parseAddress(s string) (bluetooth.Address, error) {
	mac, err := bluetooth.ParseMAC(s)
	if err != nil {
		return bluetooth.Address{}, fmt.Errorf("invalid device address %q: %w", s, err)
	}
	return bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: mac}}, nil
}
