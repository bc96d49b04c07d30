// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"golang.org/x/term"

	"github.com/Thermoquad/marquee/pkg/config"
	"github.com/Thermoquad/marquee/pkg/coolled"
	"github.com/Thermoquad/marquee/pkg/render"
	"github.com/Thermoquad/marquee/pkg/session"
	"github.com/Thermoquad/marquee/pkg/transport"
	"github.com/Thermoquad/marquee/pkg/transport/ble"
	"github.com/Thermoquad/marquee/pkg/transport/serial"
	"github.com/Thermoquad/marquee/pkg/transport/wsbridge"
)

// passwordEnv holds the bridge password so it never appears in shell history
const passwordEnv = "MARQUEE_PASSWORD"

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	if pw := os.Getenv(passwordEnv); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// openTransport builds the configured transport and returns it with the
// address the session should connect to and a description for the user.
func openTransport(c config.Config) (transport.Transport, string, string, error) {
	switch c.Transport {
	case config.TransportSerial:
		return serial.New(c.Serial.Baud), c.Serial.Port,
			fmt.Sprintf("Serial: %s @ %d baud", c.Serial.Port, c.Serial.Baud), nil

	case config.TransportWebSocket:
		if c.Address == "" {
			return nil, "", "", usage(errors.New("--address is required with the websocket transport"))
		}
		password := ""
		if c.WebSocket.Username != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", "", err
			}
		}
		client, err := wsbridge.NewClient(c.WebSocket.URL, c.WebSocket.Username, password, c.WebSocket.NoSSLVerify)
		if err != nil {
			return nil, "", "", usage(err)
		}
		return client, c.Address, fmt.Sprintf("WebSocket: %s -> %s", c.WebSocket.URL, c.Address), nil

	default:
		if c.Address == "" {
			return nil, "", "", usage(errors.New("--address is required"))
		}
		return ble.New(), c.Address, fmt.Sprintf("BLE: %s", c.Address), nil
	}
}

// newEncoder builds the encoder for the configured panel. The rasterizer
// reads font files from the host filesystem.
func newEncoder(c config.Config) (*coolled.Encoder, *render.Rasterizer, error) {
	r := render.NewRasterizer(appFs)
	enc, err := coolled.NewEncoder(c.Panel.Width, c.Panel.Height, r)
	if err != nil {
		_ = r.Close()
		return nil, nil, usage(err)
	}
	return enc, r, nil
}

// chainHandlers fans one event out to every non-nil handler.
func chainHandlers(handlers ...session.EventHandler) session.EventHandler {
	return func(ev session.Event) {
		for _, h := range handlers {
			if h != nil {
				h(ev)
			}
		}
	}
}

// logEvents reports session progress on the global logger.
func logEvents(ev session.Event) {
	switch ev.Kind {
	case session.EventAttemptFailed:
		log.Warn().Err(ev.Err).Str("command", ev.Command).
			Uint32("attempt", ev.Attempt).Uint32("remaining", ev.Remaining).
			Msg("attempt failed")
	case session.EventDisconnected:
		log.Warn().Msg("link lost")
	case session.EventFaulted:
		log.Error().Err(ev.Err).Str("command", ev.Command).Msg("retry budget exhausted")
	}
}

// connection is everything a device command needs.
type connection struct {
	session     *session.Session
	rasterizer  *render.Rasterizer
	description string
}

// openSession creates a session from the current configuration. extra
// handlers receive every session event after the logger.
func openSession(handlers ...session.EventHandler) (*connection, error) {
	tr, address, desc, err := openTransport(cfg)
	if err != nil {
		return nil, err
	}
	enc, r, err := newEncoder(cfg)
	if err != nil {
		return nil, err
	}

	opts := cfg.SessionOptions()
	opts = append(opts,
		session.WithEncoder(enc),
		session.WithEventHandler(chainHandlers(append([]session.EventHandler{logEvents}, handlers...)...)),
	)
	return &connection{
		session:     session.New(tr, address, opts...),
		rasterizer:  r,
		description: desc,
	}, nil
}

// Close releases the session and the rasterizer's font cache.
func (c *connection) Close() error {
	err := c.session.Close()
	if rerr := c.rasterizer.Close(); err == nil {
		err = rerr
	}
	return err
}

// readInput returns the named file's contents, or stdin for "-".
func readInput(fs afero.Fs, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return afero.ReadFile(fs, path)
}
