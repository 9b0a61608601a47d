// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package perf

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

type osBackend struct{}

// OSBackend returns the Backend implemented by the kernel's perf_event_open
// facility. Bulk enable and disable are prctl(PR_TASK_PERF_EVENTS_ENABLE)
// and prctl(PR_TASK_PERF_EVENTS_DISABLE).
func OSBackend() Backend {
	return osBackend{}
}

func (osBackend) Open(attr *unix.PerfEventAttr, cpu int) (Handle, error) {
	fd, err := unix.PerfEventOpen(attr, 0, cpu, -1, unix.PERF_FLAG_FD_CLOEXEC)
	if err != nil {
		return -1, explainOpenError(err)
	}
	return Handle(fd), nil
}

// explainOpenError adds a hint to errors that usually mean the host's perf
// policy is too strict for unprivileged counting.
func explainOpenError(err error) error {
	wrapped := os.NewSyscallError("perf_event_open", err)
	if !errors.Is(err, syscall.EACCES) && !errors.Is(err, syscall.EPERM) {
		return wrapped
	}
	const path = "/proc/sys/kernel/perf_event_paranoid"
	data, err2 := os.ReadFile(path)
	val, err3 := strconv.Atoi(string(bytes.TrimSpace(data)))
	if err2 != nil || err3 != nil || val > 0 {
		// Unreadable, or set to > 0.
		return fmt.Errorf("%w (consider: echo 0 | sudo tee %s)", wrapped, path)
	}
	return wrapped
}

func (osBackend) Read(h Handle, buf []byte) (int, error) {
	for {
		n, err := unix.Read(int(h), buf)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return n, os.NewSyscallError("read", err)
		}
		return n, nil
	}
}

func (osBackend) Close(h Handle) error {
	if err := unix.Close(int(h)); err != nil {
		return os.NewSyscallError("close", err)
	}
	return nil
}

func (osBackend) EnableAll() error {
	if err := unix.Prctl(unix.PR_TASK_PERF_EVENTS_ENABLE, 0, 0, 0, 0); err != nil {
		return os.NewSyscallError("prctl(PR_TASK_PERF_EVENTS_ENABLE)", err)
	}
	return nil
}

func (osBackend) DisableAll() error {
	if err := unix.Prctl(unix.PR_TASK_PERF_EVENTS_DISABLE, 0, 0, 0, 0); err != nil {
		return os.NewSyscallError("prctl(PR_TASK_PERF_EVENTS_DISABLE)", err)
	}
	return nil
}
