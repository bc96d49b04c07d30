// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/marquee/pkg/config"
	"github.com/Thermoquad/marquee/pkg/metrics"
	"github.com/Thermoquad/marquee/pkg/transport"
	"github.com/Thermoquad/marquee/pkg/transport/ble"
	"github.com/Thermoquad/marquee/pkg/transport/serial"
	"github.com/Thermoquad/marquee/pkg/transport/wsbridge"
)

var (
	bridgeListen   string
	bridgePath     string
	bridgeAuthUser string
	bridgeMetrics  bool
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Relay a local BLE or serial link to remote clients over WebSocket",
	Long: `Serve the WebSocket bridge so another machine can drive a sign through
this one with --transport websocket.

The local side uses --transport ble (default) or --transport serial. One
client is relayed at a time; others are refused until it disconnects.

With --auth-user, clients must present HTTP Basic credentials; the password
is read from MARQUEE_PASSWORD or prompted. With --metrics, Prometheus
metrics are served on /metrics of the same listener.

Example:
  marquee bridge --listen :8080 --metrics
  marquee --url ws://pi.local:8080/bridge --address AA:BB:CC:DD:EE:FF text Hi`,
	Args: cobra.NoArgs,
	RunE: runBridge,
}

func init() {
	bridgeCmd.Flags().StringVarP(&bridgeListen, "listen", "l", ":8080", "Listen address")
	bridgeCmd.Flags().StringVar(&bridgePath, "path", "/bridge", "WebSocket endpoint path")
	bridgeCmd.Flags().StringVar(&bridgeAuthUser, "auth-user", "", "Require HTTP Basic auth with this username")
	bridgeCmd.Flags().BoolVar(&bridgeMetrics, "metrics", false, "Serve Prometheus metrics on /metrics")
	rootCmd.AddCommand(bridgeCmd)
}

// localTransport is the transport the bridge relays to.
func localTransport(c config.Config) (transport.Transport, error) {
	switch c.Transport {
	case config.TransportBLE:
		return ble.New(), nil
	case config.TransportSerial:
		return serial.New(c.Serial.Baud), nil
	}
	return nil, usage(fmt.Errorf("the bridge cannot relay to a %s transport", c.Transport))
}

func runBridge(cmd *cobra.Command, _ []string) error {
	tr, err := localTransport(cfg)
	if err != nil {
		return err
	}

	server := wsbridge.NewServer(tr)
	server.ConnectTimeout = time.Duration(cfg.Session.ConnectTimeout)
	if bridgeAuthUser != "" {
		password, err := GetPassword()
		if err != nil {
			return err
		}
		if password == "" {
			return usage(errors.New("--auth-user needs a password"))
		}
		server.Username = bridgeAuthUser
		server.Password = password
	}

	mux := http.NewServeMux()
	mux.Handle(bridgePath, server)
	if bridgeMetrics {
		reg := metrics.NewRegistry()
		server.Observer = metrics.New(reg)
		mux.Handle("/metrics", metrics.Handler(reg))
	}

	log.Info().Str("listen", bridgeListen).Str("path", bridgePath).
		Str("transport", cfg.Transport).Bool("metrics", bridgeMetrics).
		Msg("bridge listening")
	return serveHTTP(cmd.Context(), bridgeListen, mux)
}

// serveHTTP runs an HTTP server until ctx ends, then shuts it down.
func serveHTTP(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
