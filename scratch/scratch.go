// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

// Package scratch maps the memory a workload touches while it is measured.
package scratch

import (
	"errors"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Ret is the x86 near return opcode. A prepared region is filled with it, so
// a call into any offset returns immediately.
const Ret = 0xc3

// DefaultSequence is a 2-byte NOP followed by a return.
var DefaultSequence = []byte{0x66, 0x90, Ret}

// ErrClosed is returned when using a Region after Close.
var ErrClosed = errors.New("scratch: region is closed")

// A Region is an anonymous private mapping with read, write and execute
// permission. It is faulted in when mapped so the workload never takes a page
// fault on it.
type Region struct {
	mem []byte
}

// Map maps a region of at least size bytes, rounded up to whole pages.
func Map(size int) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("scratch: invalid size %d", size)
	}
	page := unix.Getpagesize()
	size = (size + page - 1) &^ (page - 1)
	mem, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
		unix.MAP_ANONYMOUS|unix.MAP_PRIVATE|unix.MAP_POPULATE)
	if err != nil {
		return nil, fmt.Errorf("scratch: mapping %d bytes: %w", size, os.NewSyscallError("mmap", err))
	}
	return &Region{mem: mem}, nil
}

// Bytes returns the mapped memory. It is invalid after Close.
func (r *Region) Bytes() []byte {
	return r.mem
}

// Addr returns the address of the first byte, or 0 after Close.
func (r *Region) Addr() uintptr {
	if r.mem == nil {
		return 0
	}
	return uintptr(unsafe.Pointer(&r.mem[0]))
}

// Prepare fills the region with Ret and copies seq to its start.
func (r *Region) Prepare(seq []byte) error {
	if r.mem == nil {
		return ErrClosed
	}
	if len(seq) > len(r.mem) {
		return fmt.Errorf("scratch: sequence of %d bytes exceeds region of %d", len(seq), len(r.mem))
	}
	for i := range r.mem {
		r.mem[i] = Ret
	}
	copy(r.mem, seq)
	return nil
}

// Close unmaps the region. Calling Close more than once is a no-op.
func (r *Region) Close() error {
	if r == nil || r.mem == nil {
		return nil
	}
	mem := r.mem
	r.mem = nil
	if err := unix.Munmap(mem); err != nil {
		return os.NewSyscallError("munmap", err)
	}
	return nil
}
