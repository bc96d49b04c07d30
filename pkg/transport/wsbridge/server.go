// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wsbridge

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Thermoquad/marquee/pkg/syncutil"
	"github.com/Thermoquad/marquee/pkg/transport"
)

// Observer is told about bridge traffic. Implementations must be safe for
// concurrent use.
type Observer interface {
	LinkOpened(address string)
	LinkClosed(address string, err error)
	FrameRelayed(direction string, size int)
}

// Relay directions reported to Observer
const (
	DirectionToDevice   = "to_device"
	DirectionFromDevice = "from_device"
)

var errClientClosed = errors.New("client closed link")

// ErrBusy is returned when a client asks for a link while another is open.
var ErrBusy = errors.New("bridge busy")

// Server relays WebSocket clients to links on a local transport. One link is
// relayed at a time; further clients are refused until it closes.
type Server struct {
	Transport transport.Transport
	// Username and Password enable HTTP Basic auth when both are set.
	Username string
	Password string
	// ConnectTimeout bounds the local connect. Zero means 10s.
	ConnectTimeout time.Duration
	Observer       Observer

	upgrader websocket.Upgrader
	active   atomic.Bool
}

// NewServer creates a bridge server for t.
func NewServer(t transport.Transport) *Server {
	return &Server{
		Transport: t,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) authorized(r *http.Request) bool {
	if s.Username == "" || s.Password == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	return ok &&
		subtle.ConstantTimeCompare([]byte(user), []byte(s.Username)) == 1 &&
		subtle.ConstantTimeCompare([]byte(pass), []byte(s.Password)) == 1
}

// ServeHTTP upgrades the request and relays until either side goes away.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="marquee"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sc := &serverConn{conn: conn}
	if err := s.relay(r.Context(), sc); err != nil {
		log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("bridge session ended")
	}
}

type serverConn struct {
	conn    *websocket.Conn
	writeMu syncutil.Mutex
}

func (c *serverConn) send(m Message) error {
	data, err := m.Marshal()
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *serverConn) receive() (Message, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return Message{}, err
		}
		if messageType == websocket.BinaryMessage {
			return ParseMessage(data)
		}
	}
}

func (s *Server) relay(ctx context.Context, c *serverConn) error {
	first, err := c.receive()
	if err != nil {
		return err
	}
	if first.Type != MsgConnect || first.Address == "" {
		_ = c.send(Message{Type: MsgError, Error: "expected CONNECT with an address"})
		return fmt.Errorf("%w: first message was %s", ErrBadMessage, first.Type)
	}
	address := first.Address

	if !s.active.CompareAndSwap(false, true) {
		_ = c.send(Message{Type: MsgError, Error: ErrBusy.Error()})
		return fmt.Errorf("%w: refused %s", ErrBusy, address)
	}
	defer s.active.Store(false)

	timeout := s.ConnectTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	link, err := s.Transport.Connect(connectCtx, address)
	cancel()
	if err != nil {
		_ = c.send(Message{Type: MsgError, Error: err.Error()})
		return fmt.Errorf("connect %s: %w", address, err)
	}
	defer link.Close()

	if s.Observer != nil {
		s.Observer.LinkOpened(address)
	}
	if err := c.send(Message{Type: MsgConnected}); err != nil {
		return err
	}
	log.Info().Str("address", address).Msg("bridge link open")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			m, err := c.receive()
			if err != nil {
				return err
			}
			switch m.Type {
			case MsgWrite:
				if err := transport.WriteFrame(gctx, link, m.Data, m.Acked); err != nil {
					_ = c.send(Message{Type: MsgError, Error: err.Error()})
					return err
				}
				s.relayed(DirectionToDevice, len(m.Data))
			case MsgClose:
				return errClientClosed
			default:
				log.Warn().Str("type", m.Type.String()).Msg("unexpected bridge message")
			}
		}
	})
	g.Go(func() error {
		for {
			note, err := link.ReadNotification(gctx)
			if err != nil {
				if gctx.Err() == nil {
					_ = c.send(Message{Type: MsgError, Error: err.Error()})
				}
				return err
			}
			if err := c.send(Message{Type: MsgNotify, Data: note}); err != nil {
				return err
			}
			s.relayed(DirectionFromDevice, len(note))
		}
	})
	g.Go(func() error {
		// The websocket read has no context; closing the connection ends it
		<-gctx.Done()
		_ = c.conn.Close()
		return nil
	})

	err = g.Wait()
	if errors.Is(err, errClientClosed) {
		err = nil
	}
	if s.Observer != nil {
		s.Observer.LinkClosed(address, err)
	}
	log.Info().Str("address", address).Msg("bridge link closed")
	return err
}

func (s *Server) relayed(direction string, size int) {
	if s.Observer != nil {
		s.Observer.FrameRelayed(direction, size)
	}
}
