// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wsbridge

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Thermoquad/marquee/pkg/syncutil"
	"github.com/Thermoquad/marquee/pkg/transport"
)

// ErrRemote wraps failures reported by the bridge server.
var ErrRemote = errors.New("bridge error")

const notificationBuffer = 32

// Client reaches signs through a bridge server. Each link uses its own
// WebSocket connection.
type Client struct {
	URL           string
	Username      string
	Password      string
	SkipSSLVerify bool
	// HandshakeTimeout bounds the WebSocket handshake. Zero means 10s.
	HandshakeTimeout time.Duration
}

// NewClient validates wsURL and returns a client for it.
func NewClient(wsURL, username, password string, skipSSLVerify bool) (*Client, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}
	return &Client{URL: wsURL, Username: username, Password: password, SkipSSLVerify: skipSSLVerify}, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	timeout := c.HandshakeTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	if u, err := url.Parse(c.URL); err == nil && u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: c.SkipSSLVerify}
	}

	headers := http.Header{}
	if c.Username != "" && c.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(c.Username + ":" + c.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	conn, resp, err := dialer.DialContext(ctx, c.URL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket connection failed: %w", err)
	}
	return conn, nil
}

// Connect asks the bridge to open a link to address and waits for it to
// confirm.
func (c *Client) Connect(ctx context.Context, address string) (transport.Link, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	l := &clientLink{
		conn:  conn,
		name:  c.URL,
		ready: make(chan struct{}),
		notes: make(chan []byte, notificationBuffer),
		done:  make(chan struct{}),
	}
	if err := l.send(Message{Type: MsgConnect, Address: address}); err != nil {
		_ = conn.Close()
		return nil, err
	}
	go l.readLoop()

	select {
	case <-l.ready:
		log.Debug().Str("url", c.URL).Str("address", address).Msg("bridge link open")
		return l, nil
	case <-l.done:
		_ = conn.Close()
		return nil, l.lost()
	case <-ctx.Done():
		_ = l.Close()
		return nil, ctx.Err()
	}
}

type clientLink struct {
	conn  *websocket.Conn
	name  string
	ready chan struct{}
	notes chan []byte
	done  chan struct{}

	writeMu syncutil.Mutex

	errMu     syncutil.Mutex
	err       error
	closeOnce sync.Once
}

func (l *clientLink) send(m Message) error {
	data, err := m.Marshal()
	if err != nil {
		return err
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if err := l.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("%w: %v", transport.ErrLinkLost, err)
	}
	return nil
}

func (l *clientLink) readLoop() {
	connected := false
	for {
		messageType, data, err := l.conn.ReadMessage()
		if err != nil {
			l.fail(fmt.Errorf("%w: %v", transport.ErrLinkLost, err))
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		m, err := ParseMessage(data)
		if err != nil {
			log.Warn().Err(err).Str("url", l.name).Msg("ignoring bridge message")
			continue
		}

		switch m.Type {
		case MsgConnected:
			if !connected {
				connected = true
				close(l.ready)
			}
		case MsgNotify:
			select {
			case l.notes <- m.Data:
			default:
				log.Warn().Str("url", l.name).Msg("notification buffer full, dropping")
			}
		case MsgError:
			err := fmt.Errorf("%w: %s", ErrRemote, m.Error)
			if connected {
				err = fmt.Errorf("%w: %w", transport.ErrLinkLost, err)
			}
			l.fail(err)
			return
		default:
			log.Warn().Str("type", m.Type.String()).Msg("unexpected bridge message")
		}
	}
}

func (l *clientLink) fail(err error) {
	l.errMu.Lock()
	if l.err == nil {
		l.err = err
	}
	l.errMu.Unlock()
	l.closeOnce.Do(func() { close(l.done) })
}

func (l *clientLink) lost() error {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	return l.err
}

func (l *clientLink) Write(ctx context.Context, frame []byte) error {
	return l.write(ctx, frame, false)
}

// WriteAcked forwards the write with Acked set so the server's link confirms
// it with the device.
func (l *clientLink) WriteAcked(ctx context.Context, frame []byte) error {
	return l.write(ctx, frame, true)
}

func (l *clientLink) write(ctx context.Context, frame []byte, acked bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := l.lost(); err != nil {
		return err
	}
	if err := l.send(Message{Type: MsgWrite, Data: frame, Acked: acked}); err != nil {
		l.fail(err)
		return err
	}
	return nil
}

func (l *clientLink) ReadNotification(ctx context.Context) ([]byte, error) {
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

func (l *clientLink) Close() error {
	if l.lost() == nil {
		_ = l.send(Message{Type: MsgClose})
	}
	err := l.conn.Close()
	l.fail(fmt.Errorf("%w: closed", transport.ErrLinkLost))
	return err
}
