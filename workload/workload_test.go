// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package workload

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWarmup(t *testing.T) {
	require.Equal(t, uint64(0), Warmup(0))
	require.Equal(t, uint64(12345), Warmup(12345))
	// The accumulator restarts on every call.
	require.Equal(t, uint64(10), Warmup(10))
}

func TestFlushTouch(t *testing.T) {
	region := make([]byte, 64)
	region[1] = 0x5a
	w, err := FlushTouch(region, 1000)
	require.NoError(t, err)
	w()
	require.Equal(t, byte(0x5a), region[0])
	require.Equal(t, byte(0x5a), region[1])

	// Zero iterations touch nothing.
	region[0], region[1] = 1, 2
	w, err = FlushTouch(region, 0)
	require.NoError(t, err)
	w()
	require.Equal(t, byte(1), region[0])
}

func TestFlushTouchInvalid(t *testing.T) {
	_, err := FlushTouch(make([]byte, 1), 10)
	require.Error(t, err)
	_, err = FlushTouch(make([]byte, 2), -1)
	require.Error(t, err)
}

func TestCheckFeatures(t *testing.T) {
	if err := CheckFeatures(); err != nil {
		t.Skip(err)
	}
	// Every x86-64 CPU with RDTSCP runs the payload.
	w, err := FlushTouch(make([]byte, 2), 1)
	require.NoError(t, err)
	w()
}
