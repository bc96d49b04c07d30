// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/marquee/pkg/coolled"
)

var (
	pingInit  bool
	pingCount int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Test the connection to a sign",
	Long: `Connect to the sign, retrying within the configured budget, and report
how long it took. With --init the phone app's start-up command is sent as
well, which proves the sign acknowledges writes.

Exit codes:
  0 - Connected (and every start-up command acknowledged with --init)
  1 - Connection or acknowledgement failed
  2 - Usage or configuration error

Useful for testing a sign, a serial bridge dongle or a remote bridge.`,
	Args: cobra.NoArgs,
	RunE: runPing,
}

func init() {
	pingCmd.Flags().BoolVar(&pingInit, "init", false, "Also send the start-up command and wait for its acknowledgement")
	pingCmd.Flags().IntVarP(&pingCount, "count", "n", 1, "Start-up commands to send with --init")
	rootCmd.AddCommand(pingCmd)
}

func runPing(cmd *cobra.Command, _ []string) error {
	if pingCount < 1 {
		return usage(fmt.Errorf("--count must be at least 1, got %d", pingCount))
	}
	conn, err := openSession()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Marquee - Connection Test\n")
	fmt.Printf("Connection: %s\n", conn.description)
	fmt.Printf("Connect timeout: %s, attempts: %d\n\n", time.Duration(cfg.Session.ConnectTimeout), cfg.Session.RetryAttempts)

	start := time.Now()
	if err := conn.session.Connect(cmd.Context()); err != nil {
		fmt.Fprintf(os.Stderr, "FAILED: %v\n", err)
		return describeSendError(err)
	}
	fmt.Printf("SUCCESS: connected in %s\n", time.Since(start).Round(time.Millisecond))

	if pingInit {
		failed := 0
		for i := 1; i <= pingCount; i++ {
			res, err := conn.session.Send(cmd.Context(), coolled.NewInitialize())
			if err != nil {
				if cmd.Context().Err() != nil {
					return describeSendError(err)
				}
				failed++
				fmt.Fprintf(os.Stderr, "[%d/%d] FAILED: %v\n", i, pingCount, err)
				continue
			}
			fmt.Printf("[%d/%d] acknowledged in %s (%d attempt(s))\n",
				i, pingCount, res.Duration.Round(time.Millisecond), res.Attempts)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d start-up commands failed", failed, pingCount)
		}
	}

	stats := conn.session.Stats()
	fmt.Printf("\n%s\n", stats.String())
	return nil
}
