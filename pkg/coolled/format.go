// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package coolled

import (
	"fmt"
	"strings"
)

var commandNames = map[byte]string{
	CmdMusic:      "Music",
	CmdText:       "Text",
	CmdImage:      "Image",
	CmdAnimation:  "Animation",
	CmdIcon:       "Icon",
	CmdMode:       "Mode",
	CmdSpeed:      "Speed",
	CmdBrightness: "Brightness",
	CmdSwitch:     "Switch",
	CmdTransfer:   "Transfer",
	CmdInvert:     "Invert Display",
	CmdClear:      "Clear",
	CmdShowIcon:   "Show Icon",
	CmdPowerDown:  "Power Down",
	CmdButtonOn:   "Power On",
	CmdMirror:     "Mirror",
	CmdRequest:    "Request",
	CmdInitialize: "Initialize",
}

// FormatCommandID returns a human-readable name for a command byte
func FormatCommandID(id byte) string {
	if name, ok := commandNames[id]; ok {
		return name
	}
	return fmt.Sprintf("Unknown (0x%02X)", id)
}

// Direction of a formatted frame
type Direction bool

// Directions
const (
	Outbound Direction = true
	Inbound  Direction = false
)

func (d Direction) arrow() string {
	if d == Outbound {
		return "->"
	}
	return "<-"
}

// FormatFrame renders a frame for logs and the decode command: a header line
// with direction and action, then the command and payload as rows of 16 hex
// bytes. Chunked frames also show their chunk header.
func FormatFrame(f *Frame, dir Direction) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s [len=%d", dir.arrow(), FormatCommandID(f.CommandID()), f.Length())
	if f.HasChecksum() {
		fmt.Fprintf(&b, " xor=0x%02X", f.Checksum())
		if c, err := ParseChunk(f.Payload()); err == nil {
			fmt.Fprintf(&b, " chunk=%d total=%d size=%d", c.Index, c.Total, len(c.Data))
		}
	}
	b.WriteString("]")

	data := append([]byte{f.CommandID()}, f.Payload()...)
	for _, row := range HexRows(data) {
		b.WriteString("\n")
		b.WriteString(row)
	}
	return b.String()
}

// HexRows formats data as uppercase hex, 16 bytes per row.
func HexRows(data []byte) []string {
	var rows []string
	for i := 0; i < len(data); i += 16 {
		end := min(i+16, len(data))
		parts := make([]string, 0, end-i)
		for _, c := range data[i:end] {
			parts = append(parts, fmt.Sprintf("%02X", c))
		}
		rows = append(rows, strings.Join(parts, " "))
	}
	return rows
}
