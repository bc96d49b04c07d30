// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"fmt"

	"github.com/google/uuid"
)

// EventKind identifies a session event
type EventKind uint8

// Session events
const (
	EventConnected EventKind = iota
	EventDisconnected
	EventAttemptFailed
	EventSent
	EventCancelled
	EventFaulted
)

var eventNames = map[EventKind]string{
	EventConnected:     "connected",
	EventDisconnected:  "disconnected",
	EventAttemptFailed: "attempt_failed",
	EventSent:          "sent",
	EventCancelled:     "cancelled",
	EventFaulted:       "faulted",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", uint8(k))
}

// Event reports session progress. Send fields are zero for connection events.
type Event struct {
	Kind      EventKind
	SendID    uuid.UUID
	Command   string
	Attempt   uint32
	Remaining uint32 // attempts left after a failed attempt
	Err       error
	Result    *Result // set for EventSent
}

// EventHandler receives events synchronously on the sending goroutine. It
// must not call back into the session.
type EventHandler func(Event)
