// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !amd64

package workload

import (
	"sync/atomic"
	"time"
	"unsafe"
)

var (
	epoch = time.Now()
	fence atomic.Uint64
)

// Serialize performs an atomic read-modify-write and returns nanoseconds on
// the monotonic clock. There is no portable serializing instruction, so this
// orders memory only.
func Serialize() uint64 {
	fence.Add(1)
	return uint64(time.Since(epoch))
}

// flushTouch performs the touch loop without a cache flush.
func flushTouch(p *byte, n int) uint64 {
	b := unsafe.Slice(p, 2)
	for i := 0; i < n; i++ {
		b[0] = b[1]
	}
	return Serialize()
}

// CheckFeatures always succeeds; the portable payload uses no special
// instructions.
func CheckFeatures() error { return nil }
