// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/Thermoquad/marquee/pkg/coolled"
)

// Defaults applied by New
const (
	DefaultMaxAttempts    = 5
	DefaultConnectTimeout = 10 * time.Second
	DefaultAckTimeout     = time.Second
	DefaultRetryDelay     = time.Second
)

// RetryBudget bounds one logical send. Timeout limits each attempt as a
// whole; zero leaves attempts bounded only by the connect and ack timeouts.
type RetryBudget struct {
	MaxAttempts uint32
	Timeout     time.Duration
}

type options struct {
	budget         RetryBudget
	connectTimeout time.Duration
	ackTimeout     time.Duration
	retryDelay     time.Duration
	chunkSize      int
	cacheProbe     bool
	handler        EventHandler
	clock          clockwork.Clock
	limiter        *rate.Limiter
	encoder        *coolled.Encoder
}

func defaultOptions() options {
	return options{
		budget:         RetryBudget{MaxAttempts: DefaultMaxAttempts},
		connectTimeout: DefaultConnectTimeout,
		ackTimeout:     DefaultAckTimeout,
		retryDelay:     DefaultRetryDelay,
		chunkSize:      coolled.DefaultChunkMTU,
		cacheProbe:     true,
		clock:          clockwork.NewRealClock(),
	}
}

// Option configures a Session.
type Option func(*options)

// WithRetryBudget sets the attempt limit and per-attempt timeout. A zero
// MaxAttempts is treated as one attempt.
func WithRetryBudget(b RetryBudget) Option {
	return func(o *options) {
		if b.MaxAttempts == 0 {
			b.MaxAttempts = 1
		}
		o.budget = b
	}
}

// WithConnectTimeout bounds each connect attempt.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) { o.connectTimeout = d }
}

// WithAckTimeout bounds the wait for each device reply.
func WithAckTimeout(d time.Duration) Option {
	return func(o *options) { o.ackTimeout = d }
}

// WithRetryDelay sets the fixed pause between attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(o *options) { o.retryDelay = d }
}

// WithChunkSize sets the chunk payload size (1..255).
func WithChunkSize(n int) Option {
	return func(o *options) { o.chunkSize = n }
}

// WithCacheProbe enables or disables the cache probe before chunked sends.
func WithCacheProbe(enabled bool) Option {
	return func(o *options) { o.cacheProbe = enabled }
}

// WithEventHandler registers h for session events.
func WithEventHandler(h EventHandler) Option {
	return func(o *options) { o.handler = h }
}

// WithClock replaces the clock driving timeouts and retry delays.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithPacing limits frame writes to perSecond, with bursts of one. Zero
// disables pacing.
func WithPacing(perSecond float64) Option {
	return func(o *options) {
		if perSecond <= 0 {
			o.limiter = nil
			return
		}
		o.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// WithEncoder sets the encoder used by Send. The default encodes for a
// 96x16 panel and cannot render text.
func WithEncoder(e *coolled.Encoder) Option {
	return func(o *options) { o.encoder = e }
}
