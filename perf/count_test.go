// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package perf

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCountValue(t *testing.T) {
	for _, tc := range []struct {
		raw, enabled, running uint64
		want                  uint64
	}{
		{1000, 500, 500, 1000},  // ran the whole time
		{0, 0, 0, 0},            // never enabled
		{1000, 800, 400, 2000},  // multiplexed half the time
		{999, 300, 100, 2997},   // exact, no float rounding
		{7, 10, 3, 23},          // truncates
		{5, 100, 0, 0},          // enabled but never scheduled
		{math.MaxUint64, 3, 1, math.MaxUint64}, // saturates
		{1 << 40, 1 << 40, 1 << 39, 1 << 41},   // 128-bit intermediate
	} {
		c := Count{RawValue: tc.raw, TimeEnabled: tc.enabled, TimeRunning: tc.running}
		require.Equal(t, tc.want, c.Value(), "%+v", tc)
	}
}

func TestCountValueScalingLaw(t *testing.T) {
	// scaled == raw*enabled/running, and == raw when running == enabled.
	for raw := uint64(0); raw < 2000; raw += 37 {
		for running := uint64(1); running < 100; running += 13 {
			for enabled := running; enabled < 300; enabled += 29 {
				c := Count{RawValue: raw, TimeEnabled: enabled, TimeRunning: running}
				require.Equal(t, raw*enabled/running, c.Value())
			}
			c := Count{RawValue: raw, TimeEnabled: running, TimeRunning: running}
			require.Equal(t, raw, c.Value())
		}
	}
}

func TestCountScaled(t *testing.T) {
	c := Count{RawValue: 4, TimeEnabled: 10, TimeRunning: 5, scale: 0.5, unit: "Joules"}
	v, unit := c.Scaled()
	require.Equal(t, 4.0, v)
	require.Equal(t, "Joules", unit)

	v, unit = Count{RawValue: 3}.Scaled()
	require.Equal(t, 3.0, v)
	require.Empty(t, unit)
}

func TestCountSub(t *testing.T) {
	a := Count{RawValue: 10, TimeEnabled: 20, TimeRunning: 15}
	b := Count{RawValue: 4, TimeEnabled: 5, TimeRunning: 5}
	require.Equal(t, Count{RawValue: 6, TimeEnabled: 15, TimeRunning: 10}, a.Sub(b))
}

func TestDecodeCount(t *testing.T) {
	var buf [recordSize]byte
	binary.NativeEndian.PutUint64(buf[0:], 11)
	binary.NativeEndian.PutUint64(buf[8:], 22)
	binary.NativeEndian.PutUint64(buf[16:], 33)

	require.Equal(t, Count{RawValue: 11, TimeEnabled: 22, TimeRunning: 33}, decodeCount(buf[:]))
	require.Equal(t, Count{RawValue: 11, TimeEnabled: 22, Short: true}, decodeCount(buf[:16]))
	require.Equal(t, Count{RawValue: 11, Short: true}, decodeCount(buf[:12]))
	require.Equal(t, Count{Short: true}, decodeCount(buf[:7]))
	require.Equal(t, Count{Short: true}, decodeCount(nil))
}

func TestDecodeCountPartialWord(t *testing.T) {
	var buf [recordSize]byte
	binary.NativeEndian.PutUint64(buf[0:], 1000)
	binary.NativeEndian.PutUint64(buf[8:], 500)
	binary.NativeEndian.PutUint64(buf[16:], 500)

	// A read that stops inside TimeEnabled must not leave half a word behind,
	// or Value would see enabled != running == 0 and drop the count.
	c := decodeCount(buf[:12])
	require.Equal(t, Count{RawValue: 1000, Short: true}, c)
	require.Equal(t, uint64(1000), c.Value())

	c = decodeCount(buf[:20])
	require.Equal(t, Count{RawValue: 1000, TimeEnabled: 500, Short: true}, c)
}

func TestSnapshotValues(t *testing.T) {
	s := Snapshot{
		{RawValue: 5, TimeEnabled: 1, TimeRunning: 1},
		{RawValue: 5, TimeEnabled: 2, TimeRunning: 1},
	}
	require.Equal(t, []uint64{5, 10}, s.Values())
}
