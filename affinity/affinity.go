// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

// Package affinity pins the calling goroutine to one logical CPU.
package affinity

import (
	"fmt"
	"os"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// A Core records the CPU a goroutine was pinned to. Counters opened for the
// measurement are bound to the same CPU.
type Core struct {
	id   int
	orig unix.CPUSet
}

// ID returns the logical CPU number.
func (c *Core) ID() int { return c.id }

// Pin locks the calling goroutine to its current OS thread and restricts that
// thread to logical CPU id. The goroutine stays locked until Release.
//
// perf's bulk enable and disable act on the counters created by the calling
// thread, so everything from Pin to the final read must happen on this
// goroutine.
func Pin(id int) (*Core, error) {
	if id < 0 {
		return nil, fmt.Errorf("affinity: invalid CPU %d", id)
	}
	runtime.LockOSThread()

	c := &Core{id: id}
	if err := unix.SchedGetaffinity(0, &c.orig); err != nil {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("affinity: %w", os.NewSyscallError("sched_getaffinity", err))
	}
	var set unix.CPUSet
	set.Zero()
	set.Set(id)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("affinity: pinning to CPU %d: %w", id, os.NewSyscallError("sched_setaffinity", err))
	}
	return c, nil
}

// Release restores the thread's original affinity mask and unlocks the
// goroutine from it. The goroutine is unlocked even if the mask cannot be
// restored. Only the first call has an effect.
func (c *Core) Release() error {
	if c == nil || c.id < 0 {
		return nil
	}
	c.id = -1
	defer runtime.UnlockOSThread()
	if err := unix.SchedSetaffinity(0, &c.orig); err != nil {
		return fmt.Errorf("affinity: restoring mask: %w", os.NewSyscallError("sched_setaffinity", err))
	}
	return nil
}

// LastCore returns the highest-numbered CPU the process may run on. Pinning
// there keeps the measurement off CPU 0, where most interrupts land.
func LastCore() (int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return 0, os.NewSyscallError("sched_getaffinity", err)
	}
	for i := maxCPUs(&set) - 1; i >= 0; i-- {
		if set.IsSet(i) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("affinity: empty CPU set")
}

// maxCPUs is the number of CPUs a unix.CPUSet can describe.
func maxCPUs(set *unix.CPUSet) int {
	return len(set) * int(unsafe.Sizeof(set[0])) * 8
}

// CurrentCPU returns the CPU the calling thread is running on.
func CurrentCPU() (int, error) {
	var cpu uint32
	_, _, errno := unix.RawSyscall(unix.SYS_GETCPU, uintptr(unsafe.Pointer(&cpu)), 0, 0)
	if errno != 0 {
		return 0, os.NewSyscallError("getcpu", errno)
	}
	return int(cpu), nil
}
