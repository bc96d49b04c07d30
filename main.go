// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Marquee - CoolLED sign driver
//
// A CLI tool for sending text, images and animations to CoolLED LED signs
// over Bluetooth Low Energy, a serial bridge dongle or a remote bridge.

package main

import (
	"fmt"
	"os"

	"github.com/Thermoquad/marquee/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cmd.ExitCode(err))
	}
}
