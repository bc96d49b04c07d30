// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the marquee TOML configuration file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"

	"github.com/Thermoquad/marquee/pkg/coolled"
	"github.com/Thermoquad/marquee/pkg/session"
)

// Transport names
const (
	TransportBLE       = "ble"
	TransportSerial    = "serial"
	TransportWebSocket = "websocket"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Duration is a time.Duration written as a Go duration string ("1.5s").
type Duration time.Duration

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Config is the whole configuration file.
type Config struct {
	Address   string    `toml:"address"`
	Transport string    `toml:"transport" validate:"oneof=ble serial websocket"`
	Serial    Serial    `toml:"serial"`
	WebSocket WebSocket `toml:"websocket"`
	Panel     Panel     `toml:"panel"`
	Session   Session   `toml:"session"`
	LogLevel  string    `toml:"log_level" validate:"oneof=trace debug info warn error"`
	LogFile   string    `toml:"log_file,omitempty"`
}

type Serial struct {
	Port string `toml:"port,omitempty"`
	Baud int    `toml:"baud" validate:"min=1200"`
}

type WebSocket struct {
	URL         string `toml:"url,omitempty" validate:"omitempty,url"`
	Username    string `toml:"username,omitempty"`
	NoSSLVerify bool   `toml:"no_ssl_verify"`
}

type Panel struct {
	Width  int `toml:"width" validate:"min=1,max=65535"`
	Height int `toml:"height" validate:"min=8,max=248,mul8"`
}

type Session struct {
	ConnectTimeout Duration `toml:"connect_timeout" validate:"gt=0"`
	AckTimeout     Duration `toml:"ack_timeout" validate:"gt=0"`
	RetryAttempts  uint32   `toml:"retry_attempts" validate:"min=1"`
	RetryDelay     Duration `toml:"retry_delay" validate:"min=0"`
	MTU            int      `toml:"mtu" validate:"min=1,max=255"`
	CacheProbe     bool     `toml:"cache_probe"`
	ChunkRate      float64  `toml:"chunk_rate" validate:"min=0"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Transport: TransportBLE,
		Serial:    Serial{Baud: 115200},
		Panel:     Panel{Width: coolled.DefaultPanelWidth, Height: coolled.DefaultPanelHeight},
		Session: Session{
			ConnectTimeout: Duration(session.DefaultConnectTimeout),
			AckTimeout:     Duration(session.DefaultAckTimeout),
			RetryAttempts:  session.DefaultMaxAttempts,
			RetryDelay:     Duration(session.DefaultRetryDelay),
			MTU:            coolled.DefaultChunkMTU,
			CacheProbe:     true,
		},
		LogLevel: "info",
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("mul8", func(fl validator.FieldLevel) bool {
		return fl.Field().Int()%8 == 0
	})
	return v
}

// Load reads path from fsys over the defaults. A missing file yields the
// defaults when optional is set.
func Load(fsys afero.Fs, path string, optional bool) (Config, error) {
	cfg := Default()
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		if optional && errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Save writes cfg to path.
func Save(fsys afero.Fs, path string, cfg Config) error {
	data, err := toml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := afero.WriteFile(fsys, path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks field ranges and that the selected transport has what it
// needs.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	switch c.Transport {
	case TransportSerial:
		if c.Serial.Port == "" {
			return fmt.Errorf("%w: serial transport needs serial.port", ErrInvalid)
		}
	case TransportWebSocket:
		if c.WebSocket.URL == "" {
			return fmt.Errorf("%w: websocket transport needs websocket.url", ErrInvalid)
		}
	}
	return nil
}

// SessionOptions converts the session section into session options.
func (c Config) SessionOptions() []session.Option {
	s := c.Session
	return []session.Option{
		session.WithConnectTimeout(time.Duration(s.ConnectTimeout)),
		session.WithAckTimeout(time.Duration(s.AckTimeout)),
		session.WithRetryBudget(session.RetryBudget{MaxAttempts: s.RetryAttempts}),
		session.WithRetryDelay(time.Duration(s.RetryDelay)),
		session.WithChunkSize(s.MTU),
		session.WithCacheProbe(s.CacheProbe),
		session.WithPacing(s.ChunkRate),
	}
}
