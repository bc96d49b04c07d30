// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/marquee/pkg/coolled"
)

var (
	decodeHex     bool
	decodeInbound bool
	decodeQuiet   bool
)

var decodeCmd = &cobra.Command{
	Use:   "decode [file|-] | decode --hex <bytes>...",
	Short: "Decode captured frames in human-readable format",
	Long: `Decode a byte capture into frames, reassembling chunked transfers.

Input is a binary capture file, stdin ("-"), or hex bytes with --hex:

  marquee decode capture.bin
  marquee decode --hex 01 00 02 08 ff 03

Each frame is shown with its command, length and checksum. Malformed frames
are reported and counted; a summary follows the last frame.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDecode,
}

func init() {
	decodeCmd.Flags().BoolVar(&decodeHex, "hex", false, "Arguments are hex bytes, not a file")
	decodeCmd.Flags().BoolVar(&decodeInbound, "inbound", false, "Label frames as notifications from the sign")
	decodeCmd.Flags().BoolVarP(&decodeQuiet, "quiet", "q", false, "Only print errors and the summary")
	rootCmd.AddCommand(decodeCmd)
}

func runDecode(_ *cobra.Command, args []string) error {
	var data []byte
	if decodeHex {
		raw, err := coolled.NewRaw(strings.Join(args, " "), false)
		if err != nil {
			return err
		}
		data = raw.Data
	} else {
		if len(args) != 1 {
			return usage(fmt.Errorf("expected one capture file, got %d", len(args)))
		}
		var err error
		if data, err = readInput(appFs, args[0]); err != nil {
			return err
		}
	}

	dir := coolled.Outbound
	if decodeInbound {
		dir = coolled.Inbound
	}
	stats := decodeStream(os.Stdout, data, dir, !decodeQuiet)
	fmt.Println()
	fmt.Print(stats.String())
	if stats.Errors > 0 {
		return fmt.Errorf("%d malformed frame(s)", stats.Errors)
	}
	return nil
}

// decodeStats summarises one capture.
type decodeStats struct {
	Frames   int
	Errors   int
	Dropped  int
	Payloads int
	Commands map[byte]int
}

func (s decodeStats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Frames:   %d\n", s.Frames)
	fmt.Fprintf(&b, "Errors:   %d\n", s.Errors)
	fmt.Fprintf(&b, "Dropped:  %d bytes outside frames\n", s.Dropped)
	fmt.Fprintf(&b, "Payloads: %d reassembled\n", s.Payloads)
	for id := 0; id <= 0xFF; id++ {
		if n := s.Commands[byte(id)]; n > 0 {
			fmt.Fprintf(&b, "  %-16s %d\n", coolled.FormatCommandID(byte(id)), n)
		}
	}
	return b.String()
}

// decodeStream prints every frame in data to w and returns the totals.
// Chunked frames are reassembled; a completed payload is reported with its
// length and fingerprint.
func decodeStream(w io.Writer, data []byte, dir coolled.Direction, verbose bool) decodeStats {
	stats := decodeStats{Commands: make(map[byte]int)}
	decoder := coolled.NewDecoder()
	var asm coolled.Reassembler

	for _, b := range data {
		frame, err := decoder.DecodeByte(b)
		if err != nil {
			stats.Errors++
			fmt.Fprintf(w, "[ERROR] %v\n", err)
			continue
		}
		if frame == nil {
			continue
		}
		stats.Frames++
		stats.Commands[frame.CommandID()]++
		if verbose {
			fmt.Fprintln(w, coolled.FormatFrame(frame, dir))
		}

		if !frame.HasChecksum() {
			continue
		}
		payload, err := asm.Add(frame)
		if err != nil {
			stats.Errors++
			fmt.Fprintf(w, "[ERROR] %v\n", err)
			continue
		}
		if payload != nil {
			stats.Payloads++
			fmt.Fprintf(w, "   %s payload complete: %d bytes, fingerprint 0x%04X\n",
				coolled.FormatCommandID(frame.CommandID()), len(payload), coolled.Fingerprint(payload))
		}
	}
	stats.Dropped = decoder.Dropped()
	if partial := len(decoder.GetRawBytes()); partial > 0 {
		stats.Errors++
		fmt.Fprintf(w, "[ERROR] capture ends inside a frame (%d bytes)\n", partial)
	}
	return stats
}
