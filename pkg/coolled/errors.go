// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package coolled

import (
	"errors"
	"fmt"
)

// Frame decoding and encoding failures
var (
	ErrBadStartMarker   = errors.New("bad start marker")
	ErrBadEndMarker     = errors.New("bad end marker")
	ErrLengthMismatch   = errors.New("length mismatch")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrIncomplete       = errors.New("incomplete frame")
	ErrPayloadTooLarge  = errors.New("payload too large")
	ErrInvalidEscape    = errors.New("invalid escape sequence")
)

// Command and packing failures
var (
	ErrInvalidCommand   = errors.New("invalid command")
	ErrInvalidPanel     = errors.New("invalid panel geometry")
	ErrInvalidChunkSize = errors.New("invalid chunk size")
	ErrInvalidGrid      = errors.New("invalid pixel grid")
)

// FrameError reports a malformed frame. Kind is one of the frame sentinel
// errors above and is matched by errors.Is.
type FrameError struct {
	Kind   error
	Offset int // byte offset into the raw input, -1 if not applicable
	Detail string
}

func (e *FrameError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("frame: %v at offset %d: %s", e.Kind, e.Offset, e.Detail)
	}
	return fmt.Sprintf("frame: %v: %s", e.Kind, e.Detail)
}

func (e *FrameError) Unwrap() error {
	return e.Kind
}

func frameErr(kind error, offset int, format string, args ...interface{}) *FrameError {
	return &FrameError{Kind: kind, Offset: offset, Detail: fmt.Sprintf(format, args...)}
}

// InvalidCommandError is returned when a command value is rejected before any
// bytes are produced.
type InvalidCommandError struct {
	Command string
	Reason  string
}

func (e *InvalidCommandError) Error() string {
	return fmt.Sprintf("invalid %s command: %s", e.Command, e.Reason)
}

func (e *InvalidCommandError) Unwrap() error {
	return ErrInvalidCommand
}

func invalid(command, format string, args ...interface{}) error {
	return &InvalidCommandError{Command: command, Reason: fmt.Sprintf(format, args...)}
}
