// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transporttest provides a scriptable in-memory transport.
package transporttest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Thermoquad/marquee/pkg/coolled"
	"github.com/Thermoquad/marquee/pkg/syncutil"
	"github.com/Thermoquad/marquee/pkg/transport"
)

// WriteFunc scripts the device. n counts writes across every link of the
// transport, starting at 0. The returned replies are queued as
// notifications; a returned error fails the write, and an error wrapping
// transport.ErrLinkLost also drops the link.
type WriteFunc func(n int, frame []byte) (replies [][]byte, err error)

// AckAll answers every frame with a success status for its command. Cache
// probes are answered as not cached.
func AckAll(_ int, frame []byte) ([][]byte, error) {
	return [][]byte{Ack(frame)}, nil
}

// Silent never answers.
func Silent(int, []byte) ([][]byte, error) {
	return nil, nil
}

// Ack builds a bare success reply to frame.
func Ack(frame []byte) []byte {
	return Reply(frame, 0x00)
}

// Reply builds a bare [command, status] reply to frame.
func Reply(frame []byte, status byte) []byte {
	f, err := coolled.DecodeFrame(frame)
	if err != nil {
		return []byte{0x00, status}
	}
	return []byte{f.CommandID(), status}
}

// IsProbe reports whether frame is a cache probe.
func IsProbe(frame []byte) bool {
	f, err := coolled.DecodeFrame(frame)
	return err == nil && f.CommandID() == coolled.CmdTransfer
}

// Transport is an in-memory transport. The zero value acknowledges nothing.
type Transport struct {
	// OnWrite scripts replies. Nil behaves like Silent.
	OnWrite WriteFunc
	// ConnectErrs are returned by successive Connect calls before any
	// succeeds.
	ConnectErrs []error

	mu        syncutil.Mutex
	writes    [][]byte
	acked     []bool
	addresses []string
	links     []*Link
}

// New creates a transport scripted by onWrite.
func New(onWrite WriteFunc) *Transport {
	return &Transport{OnWrite: onWrite}
}

// Connect opens a new link unless a queued connect error is pending.
func (t *Transport) Connect(ctx context.Context, address string) (transport.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addresses = append(t.addresses, address)
	if len(t.ConnectErrs) > 0 {
		err := t.ConnectErrs[0]
		t.ConnectErrs = t.ConnectErrs[1:]
		return nil, err
	}
	l := &Link{
		t:      t,
		notes:  make(chan []byte, 64),
		closed: make(chan struct{}),
	}
	t.links = append(t.links, l)
	return l, nil
}

// Writes returns a copy of every frame written so far.
func (t *Transport) Writes() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.writes))
	copy(out, t.writes)
	return out
}

// Acked reports, per write, whether it was a device-confirmed write.
func (t *Transport) Acked() []bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]bool(nil), t.acked...)
}

// Connects returns the number of connect attempts, failed ones included.
func (t *Transport) Connects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.addresses)
}

// Addresses returns the address of every connect attempt.
func (t *Transport) Addresses() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.addresses...)
}

// Links returns every link opened so far.
func (t *Transport) Links() []*Link {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Link(nil), t.links...)
}

// Link is one in-memory link.
type Link struct {
	t      *Transport
	notes  chan []byte
	closed chan struct{}
	once   sync.Once

	mu     syncutil.Mutex
	reason error
}

// Write records frame and queues the scripted replies.
func (l *Link) Write(ctx context.Context, frame []byte) error {
	return l.write(ctx, frame, false)
}

// WriteAcked is Write recorded as a confirmed write.
func (l *Link) WriteAcked(ctx context.Context, frame []byte) error {
	return l.write(ctx, frame, true)
}

func (l *Link) write(ctx context.Context, frame []byte, acked bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := l.lost(); err != nil {
		return err
	}

	l.t.mu.Lock()
	n := len(l.t.writes)
	l.t.writes = append(l.t.writes, append([]byte(nil), frame...))
	l.t.acked = append(l.t.acked, acked)
	onWrite := l.t.OnWrite
	l.t.mu.Unlock()

	if onWrite == nil {
		return nil
	}
	replies, err := onWrite(n, frame)
	if err != nil {
		if errors.Is(err, transport.ErrLinkLost) {
			l.Drop(err)
		}
		return err
	}
	for _, r := range replies {
		l.Notify(r)
	}
	return nil
}

// Notify queues an unsolicited notification.
func (l *Link) Notify(note []byte) {
	select {
	case l.notes <- note:
	default:
		panic("transporttest: notification queue full")
	}
}

// Drop simulates the device going away.
func (l *Link) Drop(cause error) {
	l.once.Do(func() {
		l.mu.Lock()
		if errors.Is(cause, transport.ErrLinkLost) {
			l.reason = cause
		} else {
			l.reason = fmt.Errorf("%w: %v", transport.ErrLinkLost, cause)
		}
		l.mu.Unlock()
		close(l.closed)
	})
}

// Closed reports whether the link was closed or dropped.
func (l *Link) Closed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

func (l *Link) lost() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reason
}

// ReadNotification returns the next queued notification.
func (l *Link) ReadNotification(ctx context.Context) ([]byte, error) {
	select {
	case n := <-l.notes:
		return n, nil
	default:
	}
	select {
	case n := <-l.notes:
		return n, nil
	case <-l.closed:
		return nil, l.lost()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close drops the link.
func (l *Link) Close() error {
	l.Drop(errors.New("closed"))
	return nil
}
