// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package workload

import (
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/perfbracket/cachecount/internal/logutil"
	"github.com/perfbracket/cachecount/perf"
)

// A Bracket is the counter control Measure needs. [*perf.Session] implements
// it.
type Bracket interface {
	EnableAll() error
	DisableAll() error
	ReadSnapshot() (perf.Snapshot, error)
}

// Result is the outcome of one bracketed run.
type Result struct {
	Initial, Final perf.Snapshot

	// Start and End are the serializing timestamps taken just before
	// enabling and just after disabling: TSC ticks on amd64, nanoseconds
	// elsewhere.
	Start, End uint64
}

// Elapsed returns End - Start.
func (r *Result) Elapsed() uint64 { return r.End - r.Start }

// Measure runs w inside the counter bracket of b and returns the snapshots
// taken before enabling and after disabling.
//
// The garbage collector is disabled for the duration so it cannot run on the
// measured thread inside the bracket. Measure must be called on the goroutine
// that opened b.
func Measure(b Bracket, w Workload) (*Result, error) {
	defer debug.SetGCPercent(debug.SetGCPercent(-1))

	initial, err := b.ReadSnapshot()
	if err != nil {
		return nil, err
	}

	r := &Result{Initial: initial}
	r.Start = Serialize()
	if err := b.EnableAll(); err != nil {
		return nil, err
	}
	w()
	if err := b.DisableAll(); err != nil {
		return nil, err
	}
	r.End = Serialize()

	r.Final, err = b.ReadSnapshot()
	if err != nil {
		return nil, err
	}
	logutil.GetLogger().Debug("bracket closed",
		zap.Uint64("elapsed", r.Elapsed()),
		zap.Int("counters", len(r.Final)))
	return r, nil
}
