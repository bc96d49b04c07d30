// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Thermoquad/marquee/pkg/coolled"
	"github.com/Thermoquad/marquee/pkg/syncutil"
)

// notificationBuffer bounds how many undelivered notifications a link keeps.
const notificationBuffer = 32

// StreamLink turns a byte stream into a Link. Notifications arrive as
// frames on the stream and are cut apart with the coolled stream decoder;
// each decoded frame is delivered with its raw bytes.
type StreamLink struct {
	rw    io.ReadWriteCloser
	name  string
	notes chan []byte
	done  chan struct{}

	writeMu syncutil.Mutex

	errMu syncutil.Mutex
	err   error

	closeOnce sync.Once
}

// NewStreamLink starts reading rw in the background. name identifies the
// link in log output.
func NewStreamLink(rw io.ReadWriteCloser, name string) *StreamLink {
	l := &StreamLink{
		rw:    rw,
		name:  name,
		notes: make(chan []byte, notificationBuffer),
		done:  make(chan struct{}),
	}
	go l.readLoop()
	return l
}

func (l *StreamLink) readLoop() {
	decoder := coolled.NewDecoder()
	buf := make([]byte, 256)
	for {
		n, err := l.rw.Read(buf)
		for _, b := range buf[:n] {
			frame, ferr := decoder.DecodeByte(b)
			if ferr != nil {
				log.Warn().Err(ferr).Str("link", l.name).Msg("dropping malformed notification")
				continue
			}
			if frame == nil {
				continue
			}
			select {
			case l.notes <- frame.Raw():
			default:
				log.Warn().Str("link", l.name).Msg("notification buffer full, dropping")
			}
		}
		if err != nil {
			l.fail(err)
			return
		}
	}
}

func (l *StreamLink) fail(err error) {
	l.errMu.Lock()
	if l.err == nil {
		l.err = fmt.Errorf("%w: %s: %v", ErrLinkLost, l.name, err)
	}
	l.errMu.Unlock()
	l.closeOnce.Do(func() { close(l.done) })
}

func (l *StreamLink) lost() error {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	return l.err
}

// Write sends one frame. The underlying stream has no deadline support, so
// ctx is only checked before the write starts.
func (l *StreamLink) Write(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := l.lost(); err != nil {
		return err
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if _, err := l.rw.Write(frame); err != nil {
		l.fail(err)
		return l.lost()
	}
	return nil
}

// ReadNotification waits for the next decoded notification.
func (l *StreamLink) ReadNotification(ctx context.Context) ([]byte, error) {
	select {
	case n := <-l.notes:
		return n, nil
	default:
	}

	select {
	case n := <-l.notes:
		return n, nil
	case <-l.done:
		return nil, l.lost()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes the stream and stops the reader.
func (l *StreamLink) Close() error {
	err := l.rw.Close()
	l.fail(io.ErrClosedPipe)
	return err
}
