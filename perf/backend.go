// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package perf

import "golang.org/x/sys/unix"

// A Handle identifies one counter opened by a [Backend]. For the OS backend
// it is the perf event file descriptor.
type Handle int

// A Backend provides the hardware counter primitives a [Session] is built
// on. [OSBackend] is the perf_event_open implementation; package perftest
// has an in-memory one.
//
// A Backend's bulk operations act on every counter the calling thread
// created through it, so a Backend must be used from a single locked OS
// thread.
type Backend interface {
	// Open opens a counter described by attr that counts the calling thread
	// only while it runs on cpu (any CPU if cpu is -1).
	Open(attr *unix.PerfEventAttr, cpu int) (Handle, error)

	// Read reads the counter's current record into buf and returns the
	// number of bytes read.
	Read(h Handle, buf []byte) (int, error)

	// Close releases h.
	Close(h Handle) error

	// EnableAll and DisableAll start or stop every counter created by the
	// calling thread in one operation.
	EnableAll() error
	DisableAll() error
}
