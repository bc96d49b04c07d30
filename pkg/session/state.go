// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import "fmt"

// State is the lifecycle state of a session.
type State uint8

// Session states
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateTransmitting
	StateFaulted // the last logical send exhausted its retry budget
)

var stateNames = map[State]string{
	StateDisconnected: "DISCONNECTED",
	StateConnecting:   "CONNECTING",
	StateConnected:    "CONNECTED",
	StateTransmitting: "TRANSMITTING",
	StateFaulted:      "FAULTED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
}
