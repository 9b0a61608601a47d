// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package workload

import (
	"fmt"

	"github.com/klauspost/cpuid/v2"
)

// Serialize issues a full memory fence followed by RDTSCP and returns the
// time stamp counter.
func Serialize() uint64

//go:noescape
func flushTouch(p *byte, n int) uint64

// CheckFeatures reports an error if the CPU lacks an instruction the bracket
// or the reference payload uses: CLFLUSH and MFENCE (SSE2) and RDTSCP.
func CheckFeatures() error {
	var missing []string
	for _, f := range []cpuid.FeatureID{cpuid.SSE2, cpuid.RDTSCP} {
		if !cpuid.CPU.Supports(f) {
			missing = append(missing, f.String())
		}
	}
	if missing != nil {
		return fmt.Errorf("workload: CPU %q lacks %v", cpuid.CPU.BrandName, missing)
	}
	return nil
}
