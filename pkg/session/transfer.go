// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Thermoquad/marquee/pkg/coolled"
	"github.com/Thermoquad/marquee/pkg/transport"
)

// plan is everything one attempt writes, prepared before the first attempt
// so retries resend identical bytes from the start.
type plan struct {
	command   string
	probe     []byte
	frames    [][]byte
	chunked   bool
	expectAck bool
}

// Send encodes cmd and delivers it. Encoder errors are returned before any
// I/O.
func (s *Session) Send(ctx context.Context, cmd coolled.Command) (*Result, error) {
	enc, err := s.opts.encoder.Encode(cmd)
	if err != nil {
		return nil, err
	}
	return s.SendEncoded(ctx, enc)
}

// SendEncoded delivers an already encoded command.
func (s *Session) SendEncoded(ctx context.Context, enc *coolled.Encoded) (*Result, error) {
	frames, err := enc.Frames(s.opts.chunkSize)
	if err != nil {
		return nil, err
	}
	p := &plan{command: enc.Command, frames: frames, chunked: enc.Chunked, expectAck: enc.ExpectAck}
	if enc.Chunked && s.opts.cacheProbe {
		if p.probe, err = coolled.ProbeFrame(enc.CommandID, enc.Payload); err != nil {
			return nil, err
		}
	}
	return s.send(ctx, p)
}

// SendFrames writes prebuilt wire frames in order, waiting for a reply after
// each when expectAck is set.
func (s *Session) SendFrames(ctx context.Context, frames [][]byte, expectAck bool) (*Result, error) {
	if len(frames) == 0 {
		return nil, errors.New("no frames to send")
	}
	return s.send(ctx, &plan{command: "frames", frames: frames, expectAck: expectAck})
}

func (s *Session) send(ctx context.Context, p *plan) (*Result, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()

	res := &Result{ID: uuid.New(), Command: p.command}
	start := s.opts.clock.Now()
	budget := s.opts.budget
	logger := log.With().Str("send", res.ID.String()).Str("command", p.command).Logger()

	var last error
	for attempt := uint32(1); attempt <= budget.MaxAttempts; attempt++ {
		res.Attempts = attempt
		s.count(func(st *Stats) {
			st.Attempts++
			if attempt > 1 {
				st.Retries++
			}
		})

		err := s.attempt(ctx, p, res)
		if err == nil {
			res.Duration = s.opts.clock.Since(start)
			s.count(func(st *Stats) {
				st.Sends++
				st.LastSend = s.opts.clock.Now()
			})
			logger.Debug().Uint32("attempts", attempt).Bool("cache_hit", res.CacheHit).Int("frames", res.FramesWritten).Msg("sent")
			s.emit(Event{Kind: EventSent, SendID: res.ID, Command: p.command, Attempt: attempt, Result: res})
			return res, nil
		}

		if errors.Is(err, ErrCancelled) {
			s.count(func(st *Stats) { st.Cancelled++ })
			logger.Info().Err(err).Msg("send cancelled")
			s.emit(Event{Kind: EventCancelled, SendID: res.ID, Command: p.command, Attempt: attempt, Err: err})
			return res, err
		}
		if s.isClosed() {
			return res, ErrClosed
		}
		if !retryable(err) {
			return res, err
		}

		last = err
		remaining := budget.MaxAttempts - attempt
		s.count(func(st *Stats) { st.LastError = err.Error() })
		logger.Warn().Err(err).Uint32("attempt", attempt).Uint32("remaining", remaining).Msg("attempt failed")
		s.emit(Event{Kind: EventAttemptFailed, SendID: res.ID, Command: p.command, Attempt: attempt, Remaining: remaining, Err: err})
		if errors.Is(err, transport.ErrLinkLost) {
			s.dropLink()
		}
		if remaining == 0 {
			break
		}

		if err := s.sleep(ctx, s.opts.retryDelay); err != nil {
			err = fmt.Errorf("%w: %w", ErrCancelled, err)
			s.count(func(st *Stats) { st.Cancelled++ })
			s.emit(Event{Kind: EventCancelled, SendID: res.ID, Command: p.command, Attempt: attempt, Err: err})
			return res, err
		}
	}

	fault := &FaultError{Attempts: res.Attempts, Cause: category(last), Last: last}
	s.setState(StateFaulted)
	s.count(func(st *Stats) { st.Failures++ })
	logger.Error().Err(last).Uint32("attempts", res.Attempts).Msg("send faulted")
	s.emit(Event{Kind: EventFaulted, SendID: res.ID, Command: p.command, Attempt: res.Attempts, Err: fault})
	return res, fault
}

func (s *Session) count(fn func(*Stats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.stats)
}

// settle puts the state back to Connected or Disconnected depending on
// whether a link is held.
func (s *Session) settle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link != nil {
		s.state = StateConnected
	} else {
		s.state = StateDisconnected
	}
}

// attempt runs the whole plan once over the current link, connecting first
// when needed.
func (s *Session) attempt(ctx context.Context, p *plan, res *Result) error {
	actx, cancel := s.timeout(ctx, s.opts.budget.Timeout)
	defer cancel()

	res.FramesWritten, res.Chunks, res.CacheHit = 0, 0, false

	link, err := s.ensureLink(actx)
	if err != nil {
		return s.classify(ctx, actx, err)
	}
	s.drain(link)

	s.setState(StateTransmitting)
	err = s.transmit(actx, link, p, res)
	s.settle()
	if err != nil {
		return s.classify(ctx, actx, err)
	}
	return nil
}

// drain discards notifications left over from an earlier attempt.
func (s *Session) drain(link transport.Link) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for {
		note, err := link.ReadNotification(ctx)
		if err != nil {
			return
		}
		log.Debug().Hex("notification", note).Msg("discarding stale notification")
	}
}

func (s *Session) transmit(ctx context.Context, link transport.Link, p *plan, res *Result) error {
	if p.probe != nil {
		cached, err := s.probe(ctx, link, p.probe, res)
		if err != nil {
			return err
		}
		if cached {
			res.CacheHit = true
			s.count(func(st *Stats) { st.CacheHits++ })
			return nil
		}
		s.count(func(st *Stats) { st.CacheMisses++ })
	}

	for i, frame := range p.frames {
		// Chunk boundary: an in-flight chunk completes, the next one never starts
		if err := ctx.Err(); err != nil {
			return err
		}
		reply, err := s.exchange(ctx, link, frame, p.expectAck, res)
		if err != nil {
			return err
		}
		if p.chunked {
			res.Chunks++
			s.count(func(st *Stats) { st.ChunksWritten++ })
		}
		if reply != nil && reply.Rejected() {
			return fmt.Errorf("%w: %w: frame %d of %d: %s", ErrTransportError, ErrDeviceRejected, i+1, len(p.frames), reply.Status)
		}
	}
	return nil
}

// probe asks the device whether it already holds the payload. Silence means
// it does not.
func (s *Session) probe(ctx context.Context, link transport.Link, frame []byte, res *Result) (bool, error) {
	reply, err := s.exchange(ctx, link, frame, true, res)
	switch {
	case err == nil:
		return reply.Cached(), nil
	case errors.Is(err, ErrTransportTimeout) && ctx.Err() == nil:
		log.Debug().Msg("no cache probe reply, sending full payload")
		return false, nil
	default:
		return false, err
	}
}

// exchange writes one frame and, when wantReply is set, reads the reply. The
// ack timeout covers both.
func (s *Session) exchange(ctx context.Context, link transport.Link, frame []byte, wantReply bool, res *Result) (*coolled.Reply, error) {
	if s.opts.limiter != nil {
		if err := s.opts.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	fctx, cancel := s.timeout(ctx, s.opts.ackTimeout)
	defer cancel()

	if err := transport.WriteFrame(fctx, link, frame, wantReply); err != nil {
		return nil, s.frameError(ctx, fctx, "write", err)
	}
	res.FramesWritten++
	s.count(func(st *Stats) { st.FramesWritten++ })
	if !wantReply {
		return nil, nil
	}

	note, err := link.ReadNotification(fctx)
	if err != nil {
		return nil, s.frameError(ctx, fctx, "read notification", err)
	}
	reply := coolled.ParseReply(note)
	log.Trace().Hex("notification", note).Str("status", reply.Status.String()).Msg("reply")
	return &reply, nil
}

func (s *Session) frameError(ctx, fctx context.Context, op string, err error) error {
	if timedOut(fctx) && ctx.Err() == nil {
		return fmt.Errorf("%w: %s: nothing within %s", ErrTransportTimeout, op, s.opts.ackTimeout)
	}
	return linkError(op, err)
}
