// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/marquee/pkg/config"
	"github.com/Thermoquad/marquee/pkg/coolled"
)

var (
	appFs      = afero.NewOsFs()
	cfg        = config.Default()
	configPath string
	logCloser  io.Closer

	// Connection flags
	flagAddress    string
	flagTransport  string
	portName       string
	baudRate       int
	wsURL          string
	wsUsername     string
	wsNoSSLVerify  bool
	panelWidth     int
	panelHeight    int
	connectTimeout time.Duration
	retryAttempts  uint32
	chunkMTU       int
	noCacheProbe   bool
	logLevel       string
	logFile        string
)

// usageError marks failures caused by bad input rather than the device.
type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func usage(err error) error {
	if err == nil {
		return nil
	}
	return usageError{err}
}

// ExitCode maps an Execute error to the process exit status: 1 for runtime
// failures, 2 for usage and configuration errors.
func ExitCode(err error) int {
	var ue usageError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &ue), errors.Is(err, config.ErrInvalid), errors.Is(err, coolled.ErrInvalidCommand):
		return 2
	default:
		return 1
	}
}

var rootCmd = &cobra.Command{
	Use:   "marquee",
	Short: "CoolLED sign driver",
	Long: `Marquee - drive CoolLED/CoolLEDX LED signs over Bluetooth Low Energy.

Renders text, images and animations into the sign's wire protocol, sends them
in acknowledged chunks, skips payloads the sign already holds, and retries
whole commands when the link misbehaves.

Connection modes:
  BLE:       --address AA:BB:CC:DD:EE:FF
  Serial:    --transport serial --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --transport websocket --url ws://host/bridge --address AA:BB:...

Settings are read from $XDG_CONFIG_HOME/marquee/config.toml (or --config) and
overridden by flags. For WebSocket authentication, the password is read from
the MARQUEE_PASSWORD environment variable, or prompted interactively if not
set. The --password flag is intentionally not provided to avoid leaking
credentials in shell history.

Exit codes:
  0 - Success
  1 - Device or transport failure
  2 - Usage or configuration error`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(*cobra.Command, []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVarP(&configPath, "config", "c", "", "Configuration file (TOML)")
	f.StringVarP(&flagAddress, "address", "a", "", "Sign address (MAC, or CoreBluetooth UUID on macOS)")
	f.StringVarP(&flagTransport, "transport", "t", "", "Transport: ble, serial or websocket")

	// Serial connection flags
	f.StringVarP(&portName, "port", "p", "", "Serial port of a BLE-UART bridge")
	f.IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	f.StringVarP(&wsURL, "url", "u", "", "Bridge WebSocket URL (ws:// or wss://)")
	f.StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	f.BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Panel and session flags
	f.IntVar(&panelWidth, "width", coolled.DefaultPanelWidth, "Panel width in pixels")
	f.IntVar(&panelHeight, "height", coolled.DefaultPanelHeight, "Panel height in pixels")
	f.DurationVar(&connectTimeout, "timeout", 10*time.Second, "Connect timeout")
	f.Uint32Var(&retryAttempts, "retries", 5, "Attempts per command")
	f.IntVar(&chunkMTU, "mtu", coolled.DefaultChunkMTU, "Chunk size (1-255)")
	f.BoolVar(&noCacheProbe, "no-cache-probe", false, "Always send full payloads")

	f.StringVar(&logLevel, "log-level", "info", "Log level: trace, debug, info, warn, error")
	f.StringVar(&logFile, "log-file", "", "Also write logs to this file (rotated)")
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "marquee", "config.toml")
}

// setup loads the configuration, applies flag overrides and starts logging.
func setup(cmd *cobra.Command, _ []string) error {
	path, optional := configPath, false
	if path == "" {
		path, optional = defaultConfigPath(), true
	}
	if path != "" {
		loaded, err := config.Load(appFs, path, optional)
		if err != nil {
			return usage(err)
		}
		cfg = loaded
	}
	applyFlags(cmd)
	if err := cfg.Validate(); err != nil {
		return err
	}

	closer, err := InitLogging(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return usage(err)
	}
	logCloser = closer
	return nil
}

func applyFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	set := func(name string, apply func()) {
		if f.Changed(name) {
			apply()
		}
	}
	set("address", func() { cfg.Address = flagAddress })
	set("transport", func() { cfg.Transport = flagTransport })
	set("port", func() { cfg.Serial.Port = portName })
	set("baud", func() { cfg.Serial.Baud = baudRate })
	set("url", func() { cfg.WebSocket.URL = wsURL })
	set("username", func() { cfg.WebSocket.Username = wsUsername })
	set("no-ssl-verify", func() { cfg.WebSocket.NoSSLVerify = wsNoSSLVerify })
	set("width", func() { cfg.Panel.Width = panelWidth })
	set("height", func() { cfg.Panel.Height = panelHeight })
	set("timeout", func() { cfg.Session.ConnectTimeout = config.Duration(connectTimeout) })
	set("retries", func() { cfg.Session.RetryAttempts = retryAttempts })
	set("mtu", func() { cfg.Session.MTU = chunkMTU })
	set("no-cache-probe", func() { cfg.Session.CacheProbe = !noCacheProbe })
	set("log-level", func() { cfg.LogLevel = logLevel })
	set("log-file", func() { cfg.LogFile = logFile })

	// A port or URL alone is enough to pick the transport
	if !f.Changed("transport") {
		switch {
		case f.Changed("url"):
			cfg.Transport = config.TransportWebSocket
		case f.Changed("port"):
			cfg.Transport = config.TransportSerial
		}
	}
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command's
// context, which stops a send at the next chunk boundary.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}
