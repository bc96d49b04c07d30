// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package coolled

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

// Frame is one decoded protocol frame.
type Frame struct {
	length    uint16
	commandID byte
	payload   []byte
	checksum  byte
	hasSum    bool
	raw       []byte
	timestamp time.Time
}

// CommandID returns the frame's command byte
func (f *Frame) CommandID() byte {
	return f.commandID
}

// Payload returns the command parameters, without the checksum byte
func (f *Frame) Payload() []byte {
	return f.payload
}

// Length returns the declared length field
func (f *Frame) Length() uint16 {
	return f.length
}

// Checksum returns the trailing XOR byte, valid only when HasChecksum is true
func (f *Frame) Checksum() byte {
	return f.checksum
}

// HasChecksum reports whether the frame's command family carries a checksum
func (f *Frame) HasChecksum() bool {
	return f.hasSum
}

// Raw returns the escaped wire bytes the frame was decoded from
func (f *Frame) Raw() []byte {
	return f.raw
}

// Timestamp returns when the frame was decoded
func (f *Frame) Timestamp() time.Time {
	return f.timestamp
}

// EncodeFrame creates a complete wire-formatted frame.
// The length field covers the command byte, the payload and, for chunked data
// families, the XOR checksum appended after the payload.
func EncodeFrame(commandID byte, payload []byte) ([]byte, error) {
	n := 1 + len(payload)
	if checksummed(commandID) {
		n++
	}
	if n > MaxFrameLength {
		return nil, frameErr(ErrPayloadTooLarge, -1, "%d bytes (max %d)", n, MaxFrameLength)
	}

	body := make([]byte, 0, lengthSize+n)
	body = binary.BigEndian.AppendUint16(body, uint16(n))
	body = append(body, commandID)
	body = append(body, payload...)
	if checksummed(commandID) {
		body = append(body, XORChecksum(payload))
	}

	return wrap(body), nil
}

// MustEncodeFrame is EncodeFrame for payloads known to fit.
// Panics on encoding error.
func MustEncodeFrame(commandID byte, payload []byte) []byte {
	data, err := EncodeFrame(commandID, payload)
	if err != nil {
		panic(fmt.Sprintf("coolled: encode error: %v", err))
	}
	return data
}

// wrap escapes an unescaped body (length field onwards) and adds the markers.
func wrap(body []byte) []byte {
	stuffed := stuffBytes(body)
	frame := make([]byte, 0, len(stuffed)+2)
	frame = append(frame, StartByte)
	frame = append(frame, stuffed...)
	frame = append(frame, EndByte)
	return frame
}

// DecodeFrame decodes exactly one frame from b.
//
// ErrIncomplete means b is a valid prefix of a frame and decoding should be
// retried once more bytes have arrived.
func DecodeFrame(b []byte) (*Frame, error) {
	if len(b) == 0 {
		return nil, frameErr(ErrIncomplete, 0, "no bytes")
	}
	if b[0] != StartByte {
		return nil, frameErr(ErrBadStartMarker, 0, "got 0x%02X", b[0])
	}

	body := make([]byte, 0, len(b))
	need := -1
	i := 1
	for need < 0 || len(body) < lengthSize+need {
		if i >= len(b) {
			return nil, frameErr(ErrIncomplete, i, "have %d body bytes", len(body))
		}
		c := b[i]
		switch c {
		case StartByte:
			return nil, frameErr(ErrLengthMismatch, i, "start marker inside frame after %d body bytes", len(body))
		case EndByte:
			return nil, frameErr(ErrLengthMismatch, i, "end marker after %d body bytes, declared %d", len(body), need)
		case EscByte:
			if i+1 >= len(b) {
				return nil, frameErr(ErrIncomplete, i, "escape at end of input")
			}
			v, err := unescape(b[i+1])
			if err != nil {
				return nil, frameErr(ErrInvalidEscape, i, "0x02 0x%02X", b[i+1])
			}
			body = append(body, v)
			i += 2
		default:
			body = append(body, c)
			i++
		}

		if need < 0 && len(body) == lengthSize {
			need = int(binary.BigEndian.Uint16(body))
			if need == 0 {
				return nil, frameErr(ErrLengthMismatch, i, "declared length 0 leaves no command byte")
			}
		}
	}

	if i >= len(b) {
		return nil, frameErr(ErrIncomplete, i, "missing end marker")
	}
	if b[i] != EndByte {
		if bytes.IndexByte(b[i:], EndByte) >= 0 {
			return nil, frameErr(ErrLengthMismatch, i, "frame longer than declared length %d", need)
		}
		return nil, frameErr(ErrBadEndMarker, i, "got 0x%02X", b[i])
	}
	if i+1 != len(b) {
		return nil, frameErr(ErrLengthMismatch, i+1, "%d trailing bytes", len(b)-i-1)
	}

	data := body[lengthSize:]
	f := &Frame{
		length:    uint16(need),
		commandID: data[0],
		raw:       append([]byte(nil), b...),
		timestamp: time.Now(),
	}

	rest := data[1:]
	if !checksummed(f.commandID) {
		f.payload = append([]byte(nil), rest...)
		return f, nil
	}

	if len(rest) == 0 {
		return nil, frameErr(ErrLengthMismatch, -1, "command 0x%02X requires a checksum byte", f.commandID)
	}
	payload, sum := rest[:len(rest)-1], rest[len(rest)-1]
	if calc := XORChecksum(payload); calc != sum {
		return nil, frameErr(ErrChecksumMismatch, -1, "expected 0x%02X, got 0x%02X", calc, sum)
	}
	f.payload = append([]byte(nil), payload...)
	f.checksum = sum
	f.hasSum = true

	return f, nil
}

// stuffBytes applies byte stuffing to escape special bytes.
// Special bytes (START, ESC, END) are replaced with ESC + (byte + EscOffset).
func stuffBytes(data []byte) []byte {
	result := make([]byte, 0, len(data)*2)

	for _, b := range data {
		if b == StartByte || b == EscByte || b == EndByte {
			result = append(result, EscByte, b+EscOffset)
		} else {
			result = append(result, b)
		}
	}

	return result
}

// UnstuffBytes removes byte stuffing from escaped data.
// This is the inverse of stuffBytes.
func UnstuffBytes(data []byte) ([]byte, error) {
	result := make([]byte, 0, len(data))
	escapeNext := false

	for _, b := range data {
		if escapeNext {
			v, err := unescape(b)
			if err != nil {
				return nil, err
			}
			result = append(result, v)
			escapeNext = false
		} else if b == EscByte {
			escapeNext = true
		} else {
			result = append(result, b)
		}
	}

	if escapeNext {
		return nil, fmt.Errorf("%w: escape byte at end of data", ErrInvalidEscape)
	}

	return result, nil
}

func unescape(b byte) (byte, error) {
	v := b - EscOffset
	if b < EscOffset || (v != StartByte && v != EscByte && v != EndByte) {
		return 0, fmt.Errorf("%w: 0x%02X", ErrInvalidEscape, b)
	}
	return v, nil
}
