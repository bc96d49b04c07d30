// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package serial talks to a sign through a BLE-UART bridge dongle. The
// dongle keeps its own BLE connection to the sign, forwards every frame
// written to the port and writes each notification back as a frame.
package serial

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.bug.st/serial"

	"github.com/Thermoquad/marquee/pkg/transport"
)

// DefaultBaudRate of the bridge firmware
const DefaultBaudRate = 115200

// Transport opens serial ports. The address passed to Connect is the port
// name, such as /dev/ttyUSB0 or COM3.
type Transport struct {
	BaudRate int
}

// New creates a serial transport; a zero baud rate selects DefaultBaudRate.
func New(baudRate int) *Transport {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	return &Transport{BaudRate: baudRate}
}

// Connect opens the port at address.
func (t *Transport) Connect(ctx context.Context, address string) (transport.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: t.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(address, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", address, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		log.Debug().Err(err).Str("port", address).Msg("could not flush input buffer")
	}

	log.Info().Str("port", address).Int("baud", t.BaudRate).Msg("serial bridge connected")
	return transport.NewStreamLink(port, fmt.Sprintf("serial %s", address)), nil
}

// Ports lists the serial ports present on the system.
func Ports() ([]string, error) {
	return serial.GetPortsList()
}
