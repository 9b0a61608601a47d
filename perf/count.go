// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package perf

import (
	"encoding/binary"
	"math"
	"math/bits"
)

// recordSize is the size of a read with PERF_FORMAT_TOTAL_TIME_ENABLED and
// PERF_FORMAT_TOTAL_TIME_RUNNING: value, time enabled, time running.
const recordSize = 3 * 8

// Count is one read of one counter.
type Count struct {
	RawValue uint64 // The number of events while this counter was running.

	// Normally, TimeEnabled == TimeRunning. However, if more counters are
	// enabled than the hardware can support, events are multiplexed onto
	// the hardware. In that case, TimeRunning < TimeEnabled, and the raw
	// value is scaled under the assumption that the event happens at a
	// regular rate and the sampled time is representative.

	TimeEnabled uint64 // Total time the counter was enabled, in ns.
	TimeRunning uint64 // Total time the counter was actually counting, in ns.

	// Short is set when the read returned less than a full record. The
	// missing fields are zero.
	Short bool

	scale float64
	unit  string
}

// Value returns RawValue scaled for multiplexing: RawValue when the counter
// ran for its whole enabled time, RawValue*TimeEnabled/TimeRunning when it
// was multiplexed, and 0 when it never ran. The product is computed in 128
// bits and the result saturates at MaxUint64.
func (c Count) Value() uint64 {
	if c.TimeEnabled == c.TimeRunning {
		return c.RawValue
	}
	if c.TimeRunning == 0 {
		return 0
	}
	hi, lo := bits.Mul64(c.RawValue, c.TimeEnabled)
	if hi >= c.TimeRunning {
		return math.MaxUint64
	}
	q, _ := bits.Div64(hi, lo, c.TimeRunning)
	return q
}

// Scaled returns Value converted by the event's own scale factor, plus the
// unit of the result. Most hardware events have scale 1 and no unit.
func (c Count) Scaled() (float64, string) {
	v := float64(c.Value())
	if c.scale != 0 && c.scale != 1 {
		v *= c.scale
	}
	return v, c.unit
}

// Sub returns c with the raw value and times of base subtracted. It is used
// to measure from a baseline without resetting the counter.
func (c Count) Sub(base Count) Count {
	c.RawValue -= base.RawValue
	c.TimeEnabled -= base.TimeEnabled
	c.TimeRunning -= base.TimeRunning
	return c
}

// decodeCount decodes a read record. buf may be short; only complete words
// are kept and the rest decode as zero.
func decodeCount(buf []byte) Count {
	short := len(buf) < recordSize
	var rec [recordSize]byte
	copy(rec[:], buf[:len(buf)/8*8])
	return Count{
		RawValue:    binary.NativeEndian.Uint64(rec[0:]),
		TimeEnabled: binary.NativeEndian.Uint64(rec[8:]),
		TimeRunning: binary.NativeEndian.Uint64(rec[16:]),
		Short:       short,
	}
}

// A Snapshot is one Count per counter of a [Session], in the order the
// events were given to Open.
type Snapshot []Count

// Values returns the multiplex-scaled value of every count.
func (s Snapshot) Values() []uint64 {
	vs := make([]uint64, len(s))
	for i, c := range s {
		vs[i] = c.Value()
	}
	return vs
}
