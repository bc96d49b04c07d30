// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"fmt"
	"strings"
	"time"
)

// Stats counts session activity since New.
type Stats struct {
	Sends         uint64 // logical sends delivered
	Failures      uint64 // logical sends that faulted
	Cancelled     uint64
	Attempts      uint64
	Retries       uint64 // attempts after the first of a send
	FramesWritten uint64
	ChunksWritten uint64
	CacheHits     uint64
	CacheMisses   uint64
	Connects      uint64
	LinkLosses    uint64
	LastError     string
	LastSend      time.Time
}

// String formats the counters for console output
func (s Stats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sends: %d  Failures: %d  Cancelled: %d\n", s.Sends, s.Failures, s.Cancelled)
	fmt.Fprintf(&b, "Attempts: %d  Retries: %d  Connects: %d  Link losses: %d\n", s.Attempts, s.Retries, s.Connects, s.LinkLosses)
	fmt.Fprintf(&b, "Frames: %d  Chunks: %d  Cache hits: %d  Cache misses: %d", s.FramesWritten, s.ChunksWritten, s.CacheHits, s.CacheMisses)
	if s.LastError != "" {
		fmt.Fprintf(&b, "\nLast error: %s", s.LastError)
	}
	return b.String()
}
