// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package affinity

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestPinLastCore(t *testing.T) {
	var orig unix.CPUSet
	require.NoError(t, unix.SchedGetaffinity(0, &orig))

	id, err := LastCore()
	require.NoError(t, err)
	require.True(t, orig.IsSet(id))

	core, err := Pin(id)
	require.NoError(t, err)
	require.Equal(t, id, core.ID())

	var set unix.CPUSet
	require.NoError(t, unix.SchedGetaffinity(0, &set))
	require.Equal(t, 1, set.Count())
	require.True(t, set.IsSet(id))

	cpu, err := CurrentCPU()
	require.NoError(t, err)
	require.Equal(t, id, cpu)

	// Release hands back the original mask. Stay on the thread to check.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	require.NoError(t, core.Release())
	require.NoError(t, core.Release())
	require.NoError(t, unix.SchedGetaffinity(0, &set))
	require.Equal(t, orig, set)
}

func TestReleaseRestoreFailure(t *testing.T) {
	var orig unix.CPUSet
	require.NoError(t, unix.SchedGetaffinity(0, &orig))
	id, err := LastCore()
	require.NoError(t, err)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	core, err := Pin(id)
	require.NoError(t, err)

	// The kernel rejects an empty mask, so the restore fails.
	core.orig.Zero()
	err = core.Release()
	require.ErrorContains(t, err, "sched_setaffinity")
	require.ErrorIs(t, err, unix.EINVAL)

	// Only the first call acts, failed or not.
	require.NoError(t, core.Release())
	require.NoError(t, unix.SchedSetaffinity(0, &orig))
}

func TestPinInvalid(t *testing.T) {
	_, err := Pin(-1)
	require.Error(t, err)

	// A CPU outside any possible mask is rejected by the kernel.
	var set unix.CPUSet
	core, err := Pin(maxCPUs(&set) - 1)
	if err == nil {
		require.NoError(t, core.Release())
		t.Skip("host has a CPU at the top of the mask")
	}
	require.ErrorContains(t, err, "sched_setaffinity")
}
