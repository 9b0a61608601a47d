// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package perfbench

import (
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sync"
	"testing"

	"github.com/perfbracket/cachecount/events"
	"github.com/perfbracket/cachecount/perf"
)

// TODO: Support derived events that use event groups.

var defaultEvents = []events.Event{
	events.EventCPUCycles,
	events.EventInstructions,
	events.EventCacheMisses,
	events.EventCacheReferences,
}

type countersOS struct {
	b  testingB
	bN int

	session  *perf.Session
	baseline perf.Snapshot
}

var printUnits = sync.OnceFunc(func() {
	// Print unit metadata.
	for _, event := range defaultEvents {
		// Currently all events are better=lower.
		fmt.Printf("Unit %s better=lower\n", event.String())
	}
	fmt.Printf("\n")
})

// testingB is the *testing.B interface needed by Counters. Used for testing.
type testingB interface {
	ReportMetric(n float64, unit string)
	Logf(format string, args ...any)
	Cleanup(func())
}

var openErrors sync.Map

// logOnce logs msg to b unless it was already logged by this process, to
// avoid flooding the benchmark log.
func logOnce(b testingB, msg string) {
	if _, prev := openErrors.Swap(msg, true); !prev {
		b.Logf("%s", msg)
	}
}

func openOS(b *testing.B) *Counters {
	printUnits()
	return open(b, b.N)
}

func open(b testingB, bN int, opts ...perf.Option) *Counters {
	cs := &Counters{countersOS{b: b, bN: bN}}

	// Bulk enable and disable act on the counters of the calling thread.
	runtime.LockOSThread()

	evs := slices.Clone(defaultEvents)
	for len(evs) > 0 {
		s, err := perf.Open(evs, perf.AnyCPU, opts...)
		if err == nil {
			cs.session = s
			break
		}
		var evErr *perf.EventError
		if !errors.As(err, &evErr) {
			logOnce(b, fmt.Sprintf("error opening counters: %v", err))
			break
		}
		logOnce(b, fmt.Sprintf("error opening counter %s: %v", evErr.Name, evErr.Err))
		evs = slices.Delete(evs, evErr.Index, evErr.Index+1)
	}
	if cs.session == nil {
		runtime.UnlockOSThread()
	}

	b.Cleanup(cs.close)

	// Start all of the counters.
	cs.Start()

	return cs
}

func (cs *Counters) startOS() {
	if cs.session == nil {
		return
	}
	if err := cs.session.EnableAll(); err != nil {
		logOnce(cs.b, err.Error())
	}
}

func (cs *Counters) stopOS() {
	if cs.session == nil {
		return
	}
	if err := cs.session.DisableAll(); err != nil {
		logOnce(cs.b, err.Error())
	}
}

func (cs *Counters) resetOS() {
	if cs.session == nil {
		return
	}
	// perf has a concept of resetting a counter, but it doesn't reset the
	// counter's timers, so instead we track our own baseline.
	snap, err := cs.session.ReadSnapshot()
	if err != nil {
		cs.b.Logf("error reading counters: %v", err)
		return
	}
	cs.baseline = snap
}

// read returns the counts since the baseline.
func (cs *Counters) read() (perf.Snapshot, error) {
	snap, err := cs.session.ReadSnapshot()
	if err != nil {
		return nil, err
	}
	if cs.baseline != nil {
		for i := range snap {
			snap[i] = snap[i].Sub(cs.baseline[i])
		}
	}
	return snap, nil
}

func (cs *Counters) totalOS(name string) (float64, bool) {
	if cs.session == nil {
		return 0, false
	}
	i := slices.Index(cs.session.Names(), name)
	if i < 0 {
		return 0, false
	}
	snap, err := cs.read()
	if err != nil {
		return 0, false
	}
	v, _ := snap[i].Scaled()
	return v, true
}

func (cs *Counters) close() {
	if cs.b == nil {
		return
	}
	defer func() { cs.b = nil }()
	if cs.session == nil {
		return
	}
	defer runtime.UnlockOSThread()

	cs.Stop()
	snap, err := cs.read()
	if err != nil {
		cs.b.Logf("error reading counters: %v", err)
	} else {
		for i, name := range cs.session.Names() {
			if snap[i].TimeRunning > 0 {
				v, _ := snap[i].Scaled()
				cs.b.ReportMetric(v/float64(cs.bN), name+"/op")
			}
		}
	}
	if err := cs.session.Close(); err != nil {
		cs.b.Logf("error closing counters: %v", err)
	}
}
