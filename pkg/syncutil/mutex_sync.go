// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build !deadlock

// Package syncutil wraps the sync mutexes so a build with -tags=deadlock
// swaps in the go-deadlock detector.
package syncutil

import "sync"

// DeadlockEnabled reports whether the detector is compiled in.
const DeadlockEnabled = false

// Mutex is a mutual exclusion lock.
type Mutex struct {
	sync.Mutex
}

// RWMutex is a reader/writer mutual exclusion lock.
type RWMutex struct {
	sync.RWMutex
}
