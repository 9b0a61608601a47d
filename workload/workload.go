// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package workload runs code under a counter bracket.
//
// The bracket is: read the counters, serialize, enable every counter, run the
// workload, disable every counter, serialize, read the counters again. The
// serializing timestamp reads keep out-of-order execution from moving work
// across the enable and disable points.
package workload

import (
	"fmt"
	"unsafe"
)

// A Workload is the code being measured. It must not block, allocate heavily
// or leave the calling goroutine.
type Workload func()

var accumulator uint64

// Warmup increments a package-level accumulator n times and returns its final
// value. It brings the core out of low-power states before measurement.
//
//go:noinline
func Warmup(n int) uint64 {
	accumulator = 0
	for i := 0; i < n; i++ {
		accumulator++
	}
	return accumulator
}

// FlushTouch returns the reference payload: iters times, copy region[1] to
// region[0] and flush the cache line holding region[0]. It ends with a
// serializing timestamp read and a full fence.
func FlushTouch(region []byte, iters int) (Workload, error) {
	if len(region) < 2 {
		return nil, fmt.Errorf("workload: region of %d bytes is too small", len(region))
	}
	if iters < 0 {
		return nil, fmt.Errorf("workload: negative iteration count %d", iters)
	}
	p := unsafe.SliceData(region)
	return func() {
		flushTouch(p, iters)
	}, nil
}
