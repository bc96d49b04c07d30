// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package session drives one sign over a transport. It owns the link, sends
// at most one logical command at a time, and retries whole commands within a
// retry budget.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Thermoquad/marquee/pkg/coolled"
	"github.com/Thermoquad/marquee/pkg/syncutil"
	"github.com/Thermoquad/marquee/pkg/transport"
)

// Result describes a delivered send.
type Result struct {
	ID            uuid.UUID
	Command       string
	Attempts      uint32
	FramesWritten int // frames written by the final attempt, probe included
	Chunks        int // chunk frames written by the final attempt
	CacheHit      bool
	Duration      time.Duration
}

// Session is a connection to one sign. All methods are safe for concurrent
// use; a send while another is in flight fails with ErrBusy.
type Session struct {
	transport transport.Transport
	address   string
	opts      options

	mu     syncutil.Mutex
	state  State
	link   transport.Link
	busy   bool
	closed bool
	stats  Stats
}

// New creates a disconnected session for the device at address.
func New(tr transport.Transport, address string, opts ...Option) *Session {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.encoder == nil {
		// The default panel size is always valid
		o.encoder, _ = coolled.NewEncoder(coolled.DefaultPanelWidth, coolled.DefaultPanelHeight, nil)
	}
	return &Session{transport: tr, address: address, opts: o}
}

// Address returns the device address.
func (s *Session) Address() string {
	return s.address
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns a snapshot of the counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != state {
		log.Debug().Str("from", s.state.String()).Str("to", state.String()).Msg("session state")
		s.state = state
	}
}

func (s *Session) emit(ev Event) {
	if s.opts.handler != nil {
		s.opts.handler(ev)
	}
}

func (s *Session) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.busy {
		return ErrBusy
	}
	s.busy = true
	return nil
}

func (s *Session) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// timeout derives a context that is cancelled with ErrTransportTimeout as
// its cause once d elapses on the session clock. d <= 0 means no limit.
func (s *Session) timeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(ctx)
	if d <= 0 {
		return ctx, func() { cancel(context.Canceled) }
	}
	t := s.opts.clock.AfterFunc(d, func() { cancel(ErrTransportTimeout) })
	return ctx, func() {
		t.Stop()
		cancel(context.Canceled)
	}
}

func timedOut(ctx context.Context) bool {
	return ctx.Err() != nil && errors.Is(context.Cause(ctx), ErrTransportTimeout)
}

// sleep waits d on the session clock.
func (s *Session) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := s.opts.clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.Chan():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect opens the link if it is not already open, retrying within the
// retry budget.
func (s *Session) Connect(ctx context.Context) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()

	budget := s.opts.budget
	var last error
	for attempt := uint32(1); attempt <= budget.MaxAttempts; attempt++ {
		actx, cancel := s.timeout(ctx, budget.Timeout)
		_, err := s.ensureLink(actx)
		if err != nil {
			err = s.classify(ctx, actx, err)
		}
		cancel()
		if err == nil {
			return nil
		}
		if !retryable(err) || s.isClosed() {
			return err
		}

		last = err
		remaining := budget.MaxAttempts - attempt
		s.emit(Event{Kind: EventAttemptFailed, Attempt: attempt, Remaining: remaining, Err: err})
		if remaining == 0 {
			break
		}
		if err := s.sleep(ctx, s.opts.retryDelay); err != nil {
			return fmt.Errorf("%w: %w", ErrCancelled, err)
		}
	}
	return &FaultError{Attempts: budget.MaxAttempts, Cause: category(last), Last: last}
}

// ensureLink returns the open link, dialling when there is none. A faulted
// session holding a link is connected again.
func (s *Session) ensureLink(ctx context.Context) (transport.Link, error) {
	s.mu.Lock()
	link := s.link
	if link != nil && s.state == StateFaulted {
		s.state = StateConnected
	}
	s.mu.Unlock()
	if link != nil {
		return link, nil
	}

	s.setState(StateConnecting)
	cctx, cancel := s.timeout(ctx, s.opts.connectTimeout)
	link, err := s.transport.Connect(cctx, s.address)
	expired := timedOut(cctx) && ctx.Err() == nil
	cancel()
	if err != nil {
		s.setState(StateDisconnected)
		if expired {
			return nil, fmt.Errorf("%w: connect %s: no connection within %s", ErrTransportTimeout, s.address, s.opts.connectTimeout)
		}
		return nil, linkError("connect "+s.address, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = link.Close()
		return nil, ErrClosed
	}
	s.link = link
	s.state = StateConnected
	s.stats.Connects++
	s.mu.Unlock()

	log.Info().Str("address", s.address).Msg("connected")
	s.emit(Event{Kind: EventConnected})
	return link, nil
}

// dropLink discards a link that reported ErrLinkLost.
func (s *Session) dropLink() {
	s.mu.Lock()
	link := s.link
	s.link = nil
	s.state = StateDisconnected
	s.stats.LinkLosses++
	s.mu.Unlock()
	if link != nil {
		_ = link.Close()
		log.Warn().Str("address", s.address).Msg("link lost")
		s.emit(Event{Kind: EventDisconnected})
	}
}

// classify turns an attempt failure into its category. ctx is the caller's
// context and actx the attempt context derived from it.
func (s *Session) classify(ctx, actx context.Context, err error) error {
	switch {
	case errors.Is(err, ErrClosed):
		return err
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
	case timedOut(actx) && !errors.Is(err, ErrTransportTimeout):
		return fmt.Errorf("%w: attempt exceeded %s", ErrTransportTimeout, s.opts.budget.Timeout)
	}
	return err
}

// Close drops the link. The session cannot be used afterwards; a send in
// flight fails with ErrClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	link := s.link
	s.link = nil
	s.state = StateDisconnected
	s.mu.Unlock()

	if link == nil {
		return nil
	}
	log.Info().Str("address", s.address).Msg("disconnected")
	s.emit(Event{Kind: EventDisconnected})
	return link.Close()
}
