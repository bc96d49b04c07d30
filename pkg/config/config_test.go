// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingOptional(t *testing.T) {
	cfg, err := Load(afero.NewMemMapFs(), "/etc/marquee.toml", true)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingRequired(t *testing.T) {
	_, err := Load(afero.NewMemMapFs(), "/etc/marquee.toml", false)
	assert.Error(t, err)
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/marquee.toml", []byte(`
address = "AA:BB:CC:DD:EE:FF"
transport = "serial"

[serial]
port = "/dev/ttyUSB0"

[panel]
width = 32

[session]
ack_timeout = "250ms"
retry_attempts = 3
`), 0o644))

	cfg, err := Load(fs, "/marquee.toml", false)
	require.NoError(t, err)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", cfg.Address)
	assert.Equal(t, TransportSerial, cfg.Transport)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Port)
	assert.Equal(t, 115200, cfg.Serial.Baud)
	assert.Equal(t, 32, cfg.Panel.Width)
	assert.Equal(t, 16, cfg.Panel.Height)
	assert.Equal(t, Duration(250*time.Millisecond), cfg.Session.AckTimeout)
	assert.Equal(t, Duration(10*time.Second), cfg.Session.ConnectTimeout)
	assert.Equal(t, uint32(3), cfg.Session.RetryAttempts)
	assert.True(t, cfg.Session.CacheProbe)
	assert.Len(t, cfg.SessionOptions(), 7)
}

func TestLoad_BadDuration(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/m.toml", []byte("[session]\nack_timeout = \"soon\"\n"), 0o644))
	_, err := Load(fs, "/m.toml", false)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"unknown transport", func(c *Config) { c.Transport = "carrier-pigeon" }},
		{"panel height not a multiple of 8", func(c *Config) { c.Panel.Height = 12 }},
		{"panel too short", func(c *Config) { c.Panel.Height = 0 }},
		{"mtu too large", func(c *Config) { c.Session.MTU = 256 }},
		{"no attempts", func(c *Config) { c.Session.RetryAttempts = 0 }},
		{"zero ack timeout", func(c *Config) { c.Session.AckTimeout = 0 }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"serial without port", func(c *Config) { c.Transport = TransportSerial }},
		{"websocket without url", func(c *Config) { c.Transport = TransportWebSocket }},
		{"websocket bad url", func(c *Config) {
			c.Transport = TransportWebSocket
			c.WebSocket.URL = "not a url"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := Default()
	cfg.Address = "dev"
	cfg.Session.RetryDelay = Duration(1500 * time.Millisecond)
	require.NoError(t, Save(fs, "/out.toml", cfg))

	data, err := afero.ReadFile(fs, "/out.toml")
	require.NoError(t, err)
	assert.Contains(t, string(data), "retry_delay")
	assert.Contains(t, string(data), "1.5s")

	loaded, err := Load(fs, "/out.toml", false)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
