// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport defines the link capability the session drives. The
// session never scans for devices; it is always handed an address.
package transport

import (
	"context"
	"errors"
)

// ErrLinkLost reports that the link dropped and must be re-established
// before anything else can be written.
var ErrLinkLost = errors.New("link lost")

// Transport opens links to devices.
type Transport interface {
	// Connect opens a link to the device at address. It must honour ctx
	// cancellation.
	Connect(ctx context.Context, address string) (Link, error)
}

// Link is one open connection to a device.
//
// Write and ReadNotification return an error wrapping ErrLinkLost once the
// link has dropped, and ctx.Err() when ctx ends first. ReadNotification
// returns an already queued notification even when ctx is done, which lets
// callers drain stale replies with a cancelled context.
type Link interface {
	Write(ctx context.Context, frame []byte) error
	ReadNotification(ctx context.Context) ([]byte, error)
	Close() error
}

// AckedWriter is implemented by links that can have the device confirm a
// write before it returns.
type AckedWriter interface {
	WriteAcked(ctx context.Context, frame []byte) error
}

// WriteFrame writes frame to l. When acked is set and l is an AckedWriter the
// write is confirmed by the device.
func WriteFrame(ctx context.Context, l Link, frame []byte, acked bool) error {
	if aw, ok := l.(AckedWriter); ok && acked {
		return aw.WriteAcked(ctx, frame)
	}
	return l.Write(ctx, frame)
}
