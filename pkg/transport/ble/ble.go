// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package ble connects to signs directly over Bluetooth Low Energy. Frames
// are written to the sign's fff1 characteristic and its notifications are
// read from the same characteristic.
package ble

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"tinygo.org/x/bluetooth"

	"github.com/Thermoquad/marquee/pkg/syncutil"
	"github.com/Thermoquad/marquee/pkg/transport"
)

// GATT identifiers of the CoolLEDX service
var (
	ServiceUUID        = bluetooth.New16BitUUID(0xfff0)
	CharacteristicUUID = bluetooth.New16BitUUID(0xfff1)
)

// ErrNoCharacteristic is returned when the device lacks the sign service.
var ErrNoCharacteristic = errors.New("sign characteristic not found")

const notificationBuffer = 32

// Transport connects through one host adapter.
type Transport struct {
	adapter *bluetooth.Adapter

	mu      syncutil.Mutex
	enabled bool
	links   map[string]*link
}

// New creates a transport on the default host adapter.
func New() *Transport {
	return &Transport{adapter: bluetooth.DefaultAdapter, links: make(map[string]*link)}
}

func (t *Transport) enable() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.enabled {
		return nil
	}
	if err := t.adapter.Enable(); err != nil {
		return fmt.Errorf("enable bluetooth adapter: %w", err)
	}
	t.adapter.SetConnectHandler(t.connectionChanged)
	t.enabled = true
	return nil
}

func (t *Transport) connectionChanged(device bluetooth.Device, connected bool) {
	if connected {
		return
	}
	key := strings.ToUpper(device.Address.String())
	t.mu.Lock()
	l := t.links[key]
	delete(t.links, key)
	t.mu.Unlock()
	if l != nil {
		log.Warn().Str("address", key).Msg("sign disconnected")
		l.fail(errors.New("device disconnected"))
	}
}

// Connect connects to the sign at address, discovers its characteristic and
// subscribes to notifications.
func (t *Transport) Connect(ctx context.Context, address string) (transport.Link, error) {
	if err := t.enable(); err != nil {
		return nil, err
	}
	addr, err := parseAddress(address)
	if err != nil {
		return nil, err
	}

	type result struct {
		link *link
		err  error
	}
	done := make(chan result, 1)
	go func() {
		l, err := t.dial(addr)
		done <- result{l, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		key := strings.ToUpper(address)
		t.mu.Lock()
		t.links[key] = r.link
		t.mu.Unlock()
		log.Info().Str("address", address).Msg("sign connected")
		return r.link, nil
	case <-ctx.Done():
		// The stack has no way to abort a pending connect
		go func() {
			if r := <-done; r.link != nil {
				_ = r.link.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

func (t *Transport) dial(addr bluetooth.Address) (*link, error) {
	device, err := t.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr.String(), err)
	}

	services, err := device.DiscoverServices([]bluetooth.UUID{ServiceUUID})
	if err != nil || len(services) == 0 {
		_ = device.Disconnect()
		return nil, fmt.Errorf("%w: service discovery: %v", ErrNoCharacteristic, err)
	}
	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{CharacteristicUUID})
	if err != nil || len(chars) == 0 {
		_ = device.Disconnect()
		return nil, fmt.Errorf("%w: characteristic discovery: %v", ErrNoCharacteristic, err)
	}

	l := &link{
		device: device,
		char:   chars[0],
		notes:  make(chan []byte, notificationBuffer),
		done:   make(chan struct{}),
	}
	if err := l.char.EnableNotifications(l.notify); err != nil {
		_ = device.Disconnect()
		return nil, fmt.Errorf("enable notifications: %w", err)
	}
	return l, nil
}

type link struct {
	device bluetooth.Device
	char   bluetooth.DeviceCharacteristic
	notes  chan []byte
	done   chan struct{}

	writeMu syncutil.Mutex

	errMu syncutil.Mutex
	err   error
}

func (l *link) notify(buf []byte) {
	note := append([]byte(nil), buf...)
	select {
	case l.notes <- note:
	default:
		log.Warn().Msg("notification buffer full, dropping")
	}
}

func (l *link) fail(cause error) {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	if l.err != nil {
		return
	}
	l.err = fmt.Errorf("%w: %v", transport.ErrLinkLost, cause)
	close(l.done)
}

func (l *link) lost() error {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	return l.err
}

// Write sends frame as a write command, which the peripheral does not
// confirm.
func (l *link) Write(ctx context.Context, frame []byte) error {
	return l.write(ctx, frame, false)
}

// WriteAcked sends frame as a write request and waits for the peripheral's
// write response.
func (l *link) WriteAcked(ctx context.Context, frame []byte) error {
	return l.write(ctx, frame, true)
}

func (l *link) write(ctx context.Context, frame []byte, acked bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := l.lost(); err != nil {
		return err
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	var err error
	if acked {
		_, err = l.char.Write(frame)
	} else {
		_, err = l.char.WriteWithoutResponse(frame)
	}
	if err != nil {
		l.fail(err)
		return l.lost()
	}
	return nil
}

func (l *link) ReadNotification(ctx context.Context) ([]byte, error) {
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

func (l *link) Close() error {
	err := l.device.Disconnect()
	l.fail(errors.New("closed"))
	return err
}
