// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"context"
	"errors"
	"fmt"
)

// Failure categories. Attempt errors wrap exactly one of ErrTransportTimeout
// or ErrTransportError; encoder and frame errors are returned unwrapped.
var (
	ErrTransportTimeout = errors.New("transport timeout")
	ErrTransportError   = errors.New("transport error")
	ErrDeviceRejected   = errors.New("device rejected data")
	ErrCancelled        = errors.New("send cancelled")
	ErrFaulted          = errors.New("send faulted")
	ErrBusy             = errors.New("send already in progress")
	ErrClosed           = errors.New("session closed")
)

// FaultError is returned when a send exhausts its retry budget.
type FaultError struct {
	Attempts uint32
	Cause    error // ErrTransportTimeout or ErrTransportError
	Last     error // error of the final attempt
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("%v after %d attempts: %v", ErrFaulted, e.Attempts, e.Last)
}

// Unwrap exposes ErrFaulted, the cause category and the last attempt error.
func (e *FaultError) Unwrap() []error {
	return []error{ErrFaulted, e.Cause, e.Last}
}

func category(err error) error {
	if errors.Is(err, ErrTransportTimeout) {
		return ErrTransportTimeout
	}
	return ErrTransportError
}

// retryable reports whether another attempt could succeed.
func retryable(err error) bool {
	return errors.Is(err, ErrTransportTimeout) || errors.Is(err, ErrTransportError)
}

// linkError tags a transport failure. Context errors are left for the
// attempt to classify.
func linkError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrTransportError, op, err)
}
