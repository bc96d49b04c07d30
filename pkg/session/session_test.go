// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Thermoquad/marquee/pkg/coolled"
	"github.com/Thermoquad/marquee/pkg/render"
	"github.com/Thermoquad/marquee/pkg/transport"
	"github.com/Thermoquad/marquee/pkg/transport/transporttest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// ============================================================
// Helpers
// ============================================================

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) handle(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) kinds(kind EventKind) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

type sendResult struct {
	res *Result
	err error
}

// driveSend runs send in the background and keeps advancing the fake clock
// whenever the session waits on it.
func driveSend(t *testing.T, clock *clockwork.FakeClock, send func() (*Result, error)) (*Result, error) {
	t.Helper()
	done := make(chan sendResult, 1)
	go func() {
		res, err := send()
		done <- sendResult{res, err}
	}()

	for range 500 {
		select {
		case out := <-done:
			return out.res, out.err
		default:
		}
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		if clock.BlockUntilContext(ctx, 1) == nil {
			// Let the session reach its blocking read before time moves
			time.Sleep(2 * time.Millisecond)
			clock.Advance(time.Hour)
		}
		cancel()
	}
	t.Fatal("send did not finish")
	return nil, nil
}

func testGrid() *coolled.PixelGrid {
	return coolled.NewPixelGridFunc(40, 16, func(x, y int) coolled.Pixel {
		return coolled.Pixel{Color: coolled.White, On: (x+y)%3 == 0}
	})
}

func textEncoder(t *testing.T) *coolled.Encoder {
	t.Helper()
	enc, err := coolled.NewEncoder(coolled.DefaultPanelWidth, coolled.DefaultPanelHeight, render.NewRasterizer(afero.NewMemMapFs()))
	require.NoError(t, err)
	return enc
}

func countProbes(frames [][]byte) int {
	n := 0
	for _, f := range frames {
		if transporttest.IsProbe(f) {
			n++
		}
	}
	return n
}

// ============================================================
// Send Tests
// ============================================================

func TestSend_SimpleCommand(t *testing.T) {
	mock := transporttest.New(transporttest.AckAll)
	events := &eventLog{}
	s := New(mock, "AA:BB:CC:DD:EE:FF", WithClock(clockwork.NewFakeClock()), WithEventHandler(events.handle))
	defer s.Close()

	assert.Equal(t, StateDisconnected, s.State())

	cmd, err := coolled.NewBrightness(50)
	require.NoError(t, err)
	res, err := s.Send(context.Background(), cmd)
	require.NoError(t, err)

	assert.Equal(t, "brightness", res.Command)
	assert.Equal(t, uint32(1), res.Attempts)
	assert.Equal(t, 1, res.FramesWritten)
	assert.Zero(t, res.Chunks)
	assert.Equal(t, StateConnected, s.State())
	assert.Equal(t, [][]byte{coolled.MustEncodeFrame(coolled.CmdBrightness, []byte{0x80})}, mock.Writes())
	assert.Equal(t, []string{"AA:BB:CC:DD:EE:FF"}, mock.Addresses())
	assert.Len(t, events.kinds(EventConnected), 1)
	assert.Len(t, events.kinds(EventSent), 1)

	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.Sends)
	assert.Equal(t, uint64(1), stats.Connects)
	assert.Equal(t, uint64(1), stats.FramesWritten)
}

func TestSend_CacheHitSkipsBody(t *testing.T) {
	probes := 0
	mock := transporttest.New(func(n int, frame []byte) ([][]byte, error) {
		if transporttest.IsProbe(frame) {
			probes++
			if probes == 1 {
				return [][]byte{{coolled.CmdTransfer, coolled.ProbeNeedFull}}, nil
			}
			return [][]byte{{coolled.CmdTransfer, coolled.ProbeCached}}, nil
		}
		return transporttest.AckAll(n, frame)
	})
	s := New(mock, "dev", WithClock(clockwork.NewFakeClock()), WithEncoder(textEncoder(t)))
	defer s.Close()

	cmd := coolled.NewText("Hello")
	cmd.Font = render.FontBasic

	first, err := s.Send(context.Background(), cmd)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	assert.Positive(t, first.Chunks)
	firstWrites := mock.Writes()
	assert.Equal(t, 1, countProbes(firstWrites))
	assert.Len(t, firstWrites, 1+first.Chunks)

	second, err := s.Send(context.Background(), cmd)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Zero(t, second.Chunks)
	assert.Equal(t, 1, second.FramesWritten)

	all := mock.Writes()
	require.Len(t, all, len(firstWrites)+1, "second send writes only the probe")
	assert.Equal(t, firstWrites[0], all[len(all)-1], "identical payload gives identical probe")

	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.CacheHits)
	assert.Equal(t, uint64(1), stats.CacheMisses)
}

func TestSend_SilentProbeSendsFullPayload(t *testing.T) {
	clock := clockwork.NewFakeClock()
	mock := transporttest.New(func(n int, frame []byte) ([][]byte, error) {
		if transporttest.IsProbe(frame) {
			return nil, nil
		}
		return transporttest.AckAll(n, frame)
	})
	s := New(mock, "dev", WithClock(clock))
	defer s.Close()

	img, err := coolled.NewImage(testGrid())
	require.NoError(t, err)
	res, err := driveSend(t, clock, func() (*Result, error) { return s.Send(context.Background(), img) })
	require.NoError(t, err)
	assert.False(t, res.CacheHit)
	assert.Equal(t, uint32(1), res.Attempts)
	assert.Len(t, mock.Writes(), 1+res.Chunks)
}

func TestSend_RetryBudgetExhausted(t *testing.T) {
	clock := clockwork.NewFakeClock()
	mock := transporttest.New(transporttest.Silent)
	events := &eventLog{}
	s := New(mock, "dev",
		WithClock(clock),
		WithRetryBudget(RetryBudget{MaxAttempts: 3}),
		WithEventHandler(events.handle),
	)
	defer s.Close()

	img, err := coolled.NewImage(testGrid())
	require.NoError(t, err)
	res, err := driveSend(t, clock, func() (*Result, error) { return s.Send(context.Background(), img) })

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFaulted)
	assert.ErrorIs(t, err, ErrTransportTimeout)
	assert.NotErrorIs(t, err, ErrCancelled)

	var fault *FaultError
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, uint32(3), fault.Attempts)
	assert.Equal(t, ErrTransportTimeout, fault.Cause)
	assert.Equal(t, uint32(3), res.Attempts)
	assert.Equal(t, StateFaulted, s.State())

	failed := events.kinds(EventAttemptFailed)
	require.Len(t, failed, 3)
	for i, ev := range failed {
		assert.Equal(t, uint32(i+1), ev.Attempt)
		assert.Equal(t, uint32(2-i), ev.Remaining)
		assert.ErrorIs(t, ev.Err, ErrTransportTimeout)
	}
	assert.Len(t, events.kinds(EventFaulted), 1)

	// Every attempt restarts with the probe; the link is reused throughout
	assert.Equal(t, 3, countProbes(mock.Writes()))
	assert.Equal(t, 1, mock.Connects())
	assert.Equal(t, uint64(1), s.Stats().Failures)
	assert.Equal(t, uint64(2), s.Stats().Retries)
}

func TestSend_CancelMidSequence(t *testing.T) {
	img, err := coolled.NewImage(testGrid())
	require.NoError(t, err)
	enc, err := textEncoder(t).Encode(img)
	require.NoError(t, err)
	mtu := (len(enc.Payload) + 4) / 5
	frames, err := enc.Frames(mtu)
	require.NoError(t, err)
	require.Len(t, frames, 5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mock := transporttest.New(func(n int, frame []byte) ([][]byte, error) {
		if n == 1 {
			cancel()
		}
		return transporttest.AckAll(n, frame)
	})
	events := &eventLog{}
	s := New(mock, "dev",
		WithClock(clockwork.NewFakeClock()),
		WithChunkSize(mtu),
		WithCacheProbe(false),
		WithEventHandler(events.handle),
	)
	defer s.Close()

	res, err := s.SendEncoded(ctx, enc)
	require.ErrorIs(t, err, ErrCancelled)
	assert.NotErrorIs(t, err, ErrTransportTimeout)
	assert.NotErrorIs(t, err, ErrFaulted)
	assert.Equal(t, StateConnected, s.State())
	assert.Equal(t, frames[:2], mock.Writes())
	assert.Equal(t, 2, res.Chunks)
	assert.Empty(t, events.kinds(EventAttemptFailed))
	assert.Len(t, events.kinds(EventCancelled), 1)
}

func TestSend_ReconnectsAfterLinkLoss(t *testing.T) {
	clock := clockwork.NewFakeClock()
	mock := transporttest.New(func(n int, frame []byte) ([][]byte, error) {
		if n == 0 {
			return nil, transport.ErrLinkLost
		}
		return transporttest.AckAll(n, frame)
	})
	s := New(mock, "dev", WithClock(clock))
	defer s.Close()

	res, err := driveSend(t, clock, func() (*Result, error) {
		return s.Send(context.Background(), coolled.OnOff{On: true})
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(2), res.Attempts)
	assert.Equal(t, 2, mock.Connects())
	assert.True(t, mock.Links()[0].Closed())
	assert.Equal(t, uint64(1), s.Stats().LinkLosses)
}

func TestSend_RejectedReplyIsRetried(t *testing.T) {
	clock := clockwork.NewFakeClock()
	mock := transporttest.New(func(n int, frame []byte) ([][]byte, error) {
		if n == 0 {
			return [][]byte{transporttest.Reply(frame, byte(coolled.StatusDataChecksumError))}, nil
		}
		return transporttest.AckAll(n, frame)
	})
	events := &eventLog{}
	s := New(mock, "dev", WithClock(clock), WithEventHandler(events.handle))
	defer s.Close()

	speed, err := coolled.NewSpeed(10)
	require.NoError(t, err)
	res, err := driveSend(t, clock, func() (*Result, error) { return s.Send(context.Background(), speed) })
	require.NoError(t, err)
	assert.Equal(t, uint32(2), res.Attempts)
	assert.Equal(t, 1, mock.Connects(), "rejection keeps the link")

	failed := events.kinds(EventAttemptFailed)
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0].Err, ErrDeviceRejected)
	assert.ErrorIs(t, failed[0].Err, ErrTransportError)
}

func TestSend_EncoderErrorsAreNotRetried(t *testing.T) {
	mock := transporttest.New(transporttest.AckAll)
	s := New(mock, "dev", WithClock(clockwork.NewFakeClock()))
	defer s.Close()

	_, err := s.Send(context.Background(), coolled.NewText("no rasterizer"))
	require.ErrorIs(t, err, coolled.ErrNoRasterizer)
	assert.NotErrorIs(t, err, ErrTransportError)
	assert.Zero(t, mock.Connects())
	assert.Equal(t, StateDisconnected, s.State())
}

func TestSend_BusyWhileTransmitting(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	mock := transporttest.New(func(n int, frame []byte) ([][]byte, error) {
		if n == 0 {
			close(entered)
			<-release
		}
		return transporttest.AckAll(n, frame)
	})
	s := New(mock, "dev", WithClock(clockwork.NewFakeClock()))
	defer s.Close()

	done := make(chan error, 1)
	go func() {
		_, err := s.Send(context.Background(), coolled.OnOff{On: true})
		done <- err
	}()
	<-entered

	assert.Equal(t, StateTransmitting, s.State())
	_, err := s.Send(context.Background(), coolled.OnOff{On: false})
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, s.Connect(context.Background()), ErrBusy)

	close(release)
	require.NoError(t, <-done)
	assert.Len(t, mock.Writes(), 1)
}

func TestSendFrames_Raw(t *testing.T) {
	mock := transporttest.New(transporttest.Silent)
	s := New(mock, "dev", WithClock(clockwork.NewFakeClock()))
	defer s.Close()

	frames := [][]byte{{0x01, 0x00, 0x01, 0x0D, 0x03}, {0x01, 0x00, 0x02, 0x06, 0x01, 0x03}}
	res, err := s.SendFrames(context.Background(), frames, false)
	require.NoError(t, err)
	assert.Equal(t, 2, res.FramesWritten)
	assert.Equal(t, frames, mock.Writes())
	assert.Equal(t, []bool{false, false}, mock.Acked())

	_, err = s.SendFrames(context.Background(), nil, false)
	assert.Error(t, err)
}

func TestSend_ChunksUseConfirmedWrites(t *testing.T) {
	mock := transporttest.New(transporttest.AckAll)
	s := New(mock, "dev", WithClock(clockwork.NewFakeClock()))
	defer s.Close()

	img, err := coolled.NewImage(testGrid())
	require.NoError(t, err)
	res, err := s.Send(context.Background(), img)
	require.NoError(t, err)

	acked := mock.Acked()
	require.Len(t, acked, res.FramesWritten)
	for i, a := range acked {
		assert.True(t, a, "write %d", i)
	}
}

// ============================================================
// Connection Tests
// ============================================================

func TestConnect_RetriesThenSucceeds(t *testing.T) {
	clock := clockwork.NewFakeClock()
	mock := transporttest.New(transporttest.AckAll)
	mock.ConnectErrs = []error{errors.New("device busy")}
	events := &eventLog{}
	s := New(mock, "dev", WithClock(clock), WithEventHandler(events.handle))
	defer s.Close()

	_, err := driveSend(t, clock, func() (*Result, error) { return nil, s.Connect(context.Background()) })
	require.NoError(t, err)
	assert.Equal(t, StateConnected, s.State())
	assert.Equal(t, 2, mock.Connects())

	failed := events.kinds(EventAttemptFailed)
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0].Err, ErrTransportError)
}

func TestConnect_ExhaustedLeavesDisconnected(t *testing.T) {
	clock := clockwork.NewFakeClock()
	mock := transporttest.New(transporttest.AckAll)
	mock.ConnectErrs = []error{errors.New("a"), errors.New("b")}
	s := New(mock, "dev", WithClock(clock), WithRetryBudget(RetryBudget{MaxAttempts: 2}))
	defer s.Close()

	_, err := driveSend(t, clock, func() (*Result, error) { return nil, s.Connect(context.Background()) })
	assert.ErrorIs(t, err, ErrFaulted)
	assert.ErrorIs(t, err, ErrTransportError)
	assert.Equal(t, StateDisconnected, s.State())
}

func TestConnect_AfterFaultReusesLink(t *testing.T) {
	clock := clockwork.NewFakeClock()
	mock := transporttest.New(transporttest.Silent)
	s := New(mock, "dev", WithClock(clock), WithRetryBudget(RetryBudget{MaxAttempts: 1}))
	defer s.Close()

	img, err := coolled.NewImage(testGrid())
	require.NoError(t, err)
	_, err = driveSend(t, clock, func() (*Result, error) { return s.Send(context.Background(), img) })
	require.ErrorIs(t, err, ErrFaulted)
	require.Equal(t, StateFaulted, s.State())

	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, StateConnected, s.State())
	assert.Equal(t, 1, mock.Connects())
}

func TestClose(t *testing.T) {
	mock := transporttest.New(transporttest.AckAll)
	s := New(mock, "dev", WithClock(clockwork.NewFakeClock()))

	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Close())
	assert.Equal(t, StateDisconnected, s.State())
	assert.True(t, mock.Links()[0].Closed())

	_, err := s.Send(context.Background(), coolled.OnOff{On: true})
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, s.Close())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "TRANSMITTING", StateTransmitting.String())
	assert.Equal(t, "UNKNOWN(9)", State(9).String())
	assert.Equal(t, "attempt_failed", EventAttemptFailed.String())
}
