// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package wsbridge carries a transport link over a WebSocket so a sign can be
// driven from a machine that is not next to it. Every WebSocket binary
// message holds one CBOR encoded Message.
package wsbridge

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// MsgType identifies a bridge message
type MsgType uint8

// Bridge message types
const (
	MsgConnect   MsgType = 1 // client -> server: open a link to Address
	MsgConnected MsgType = 2 // server -> client: link is open
	MsgWrite     MsgType = 3 // client -> server: write Data as one frame
	MsgNotify    MsgType = 4 // server -> client: device notification in Data
	MsgError     MsgType = 5 // either way: Error describes a failure; the link is gone
	MsgClose     MsgType = 6 // client -> server: close the link
)

var msgTypeNames = map[MsgType]string{
	MsgConnect:   "CONNECT",
	MsgConnected: "CONNECTED",
	MsgWrite:     "WRITE",
	MsgNotify:    "NOTIFY",
	MsgError:     "ERROR",
	MsgClose:     "CLOSE",
}

func (t MsgType) String() string {
	if name, ok := msgTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
}

// ErrBadMessage is returned for messages that do not decode.
var ErrBadMessage = errors.New("invalid bridge message")

// Message is the bridge envelope.
type Message struct {
	Type    MsgType `cbor:"1,keyasint"`
	Address string  `cbor:"2,keyasint,omitempty"`
	Data    []byte  `cbor:"3,keyasint,omitempty"`
	Error   string  `cbor:"4,keyasint,omitempty"`
	// Acked asks the server for a device-confirmed write of a MsgWrite
	Acked bool `cbor:"5,keyasint,omitempty"`
}

// Marshal encodes m.
func (m Message) Marshal() ([]byte, error) {
	data, err := cbor.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", m.Type, err)
	}
	return data, nil
}

// ParseMessage decodes one envelope.
func ParseMessage(data []byte) (Message, error) {
	var m Message
	if len(data) == 0 {
		return m, fmt.Errorf("%w: empty", ErrBadMessage)
	}
	if err := cbor.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	if _, ok := msgTypeNames[m.Type]; !ok {
		return m, fmt.Errorf("%w: type %d", ErrBadMessage, m.Type)
	}
	return m, nil
}
