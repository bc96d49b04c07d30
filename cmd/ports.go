// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/marquee/pkg/transport/serial"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports for a BLE-UART bridge dongle",
	Long: `List the serial ports present on this machine. Pass one of them to
--port to talk to a sign through a bridge dongle.

Signs themselves are not scanned for; their address always comes from
--address or the configuration file.

Exit codes:
  0 - At least one port found
  1 - No ports found or the port list could not be read`,
	Args: cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		ports, err := serial.Ports()
		if err != nil {
			return fmt.Errorf("list serial ports: %w", err)
		}
		if len(ports) == 0 {
			return errors.New("no serial ports found")
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)
}
