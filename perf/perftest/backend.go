// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

// Package perftest provides an in-memory perf.Backend for tests.
package perftest

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/perfbracket/cachecount/perf"
)

// handleBase keeps fake handles distinct from counter indexes.
const handleBase = 100

// A Counter is one simulated hardware counter.
type Counter struct {
	Attr unix.PerfEventAttr
	CPU  int

	Raw, TimeEnabled, TimeRunning uint64

	// Rate is the number of events per tick while the counter is running.
	Rate uint64

	// RunNum/RunDen is the fraction of enabled time the counter is
	// scheduled on hardware. 1/1 means no multiplexing.
	RunNum, RunDen uint64

	Enabled bool
	Closed  bool
}

// Backend is a deterministic perf.Backend. Counters only move when Advance
// is called, so a test drives the "workload" explicitly.
//
// The error and short-read maps are keyed by counter index, which is the
// order of Open calls.
type Backend struct {
	OpenErrors map[int]error
	ReadErrors map[int]error
	ShortReads map[int]int // index -> bytes returned
	EnableErr  error
	DisableErr error

	// Reject, if set, is consulted on every Open after OpenErrors. A
	// non-nil result fails the open, modelling an event the host lacks.
	Reject func(attr *unix.PerfEventAttr) error

	// Calls records every operation in order, e.g. "open 0", "enable",
	// "read 1", "close 0".
	Calls []string

	counters []*Counter
}

var _ perf.Backend = (*Backend)(nil)

// Counter returns the i'th opened counter.
func (b *Backend) Counter(i int) *Counter {
	return b.counters[i]
}

// Len returns the number of Open calls that succeeded.
func (b *Backend) Len() int { return len(b.counters) }

// OpenCount returns the number of counters not yet closed.
func (b *Backend) OpenCount() int {
	n := 0
	for _, c := range b.counters {
		if !c.Closed {
			n++
		}
	}
	return n
}

func (b *Backend) lookup(h perf.Handle) (int, *Counter, error) {
	i := int(h) - handleBase
	if i < 0 || i >= len(b.counters) || b.counters[i].Closed {
		return i, nil, unix.EBADF
	}
	return i, b.counters[i], nil
}

func (b *Backend) Open(attr *unix.PerfEventAttr, cpu int) (perf.Handle, error) {
	i := len(b.counters)
	b.Calls = append(b.Calls, fmt.Sprintf("open %d", i))
	if err := b.OpenErrors[i]; err != nil {
		return -1, err
	}
	if b.Reject != nil {
		if err := b.Reject(attr); err != nil {
			return -1, err
		}
	}
	c := &Counter{
		Attr:    *attr,
		CPU:     cpu,
		Rate:    1,
		RunNum:  1,
		RunDen:  1,
		Enabled: attr.Bits&unix.PerfBitDisabled == 0,
	}
	b.counters = append(b.counters, c)
	return perf.Handle(handleBase + i), nil
}

func (b *Backend) Read(h perf.Handle, buf []byte) (int, error) {
	i, c, err := b.lookup(h)
	b.Calls = append(b.Calls, fmt.Sprintf("read %d", i))
	if err != nil {
		return -1, err
	}
	if err := b.ReadErrors[i]; err != nil {
		return -1, err
	}
	var rec [24]byte
	binary.NativeEndian.PutUint64(rec[0:], c.Raw)
	binary.NativeEndian.PutUint64(rec[8:], c.TimeEnabled)
	binary.NativeEndian.PutUint64(rec[16:], c.TimeRunning)
	n := len(rec)
	if short, ok := b.ShortReads[i]; ok {
		n = short
	}
	return copy(buf, rec[:n]), nil
}

func (b *Backend) Close(h perf.Handle) error {
	i, c, err := b.lookup(h)
	b.Calls = append(b.Calls, fmt.Sprintf("close %d", i))
	if err != nil {
		return err
	}
	c.Closed = true
	c.Enabled = false
	return nil
}

func (b *Backend) EnableAll() error {
	b.Calls = append(b.Calls, "enable")
	if b.EnableErr != nil {
		return b.EnableErr
	}
	b.setEnabled(true)
	return nil
}

func (b *Backend) DisableAll() error {
	b.Calls = append(b.Calls, "disable")
	if b.DisableErr != nil {
		return b.DisableErr
	}
	b.setEnabled(false)
	return nil
}

func (b *Backend) setEnabled(on bool) {
	for _, c := range b.counters {
		if !c.Closed {
			c.Enabled = on
		}
	}
}

// Advance simulates ticks nanoseconds of work. Every enabled counter gains
// ticks of enabled time, its run fraction of that as running time, and Rate
// events per running tick.
func (b *Backend) Advance(ticks uint64) {
	b.Calls = append(b.Calls, fmt.Sprintf("advance %d", ticks))
	for _, c := range b.counters {
		if !c.Enabled {
			continue
		}
		running := ticks * c.RunNum / c.RunDen
		c.TimeEnabled += ticks
		c.TimeRunning += running
		c.Raw += running * c.Rate
	}
}
