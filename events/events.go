// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

// Package events resolves human-readable performance event names into
// perf_event_open encodings.
//
// Names may be builtin perf names ("instructions", "L1-dcache-load-misses"),
// events published by a PMU under /sys/bus/event_source/devices, vendor events
// known to "perf list -j" ("uops_dispatched_port.port_0"), or explicit PMU
// encodings ("cpu/event=0xd0,umask=0x82/").
package events

import "golang.org/x/sys/unix"

// An Event represents a performance event that perf can count.
type Event interface {
	// String returns the string representation of this event, preferably as the
	// name used by "perf stat -e".
	String() string

	// SetAttrs sets the encoding fields for this event in the
	// [unix.PerfEventAttr] struct. It does not touch read format or flag bits.
	SetAttrs(*unix.PerfEventAttr) error
}

// An EventScale is an Event that provides a scaling factor and unit to convert
// raw values into meaningful values.
type EventScale interface {
	Event

	// ScaleUnit returns the factor to multiply raw values by to compute a
	// meaningful value, plus the unit of that value. A no-op implementation
	// should return 1.0, "".
	ScaleUnit() (scale float64, unit string)
}

type fixedEvent struct {
	name   string
	typ    uint32
	config uint64
}

func (e fixedEvent) SetAttrs(a *unix.PerfEventAttr) error {
	a.Type = e.typ
	a.Config = e.config
	return nil
}

func (e fixedEvent) String() string {
	return e.name
}

// Well-known hardware events.
var (
	EventCPUCycles       Event = fixedEvent{"cpu-cycles", unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_CPU_CYCLES}
	EventInstructions    Event = fixedEvent{"instructions", unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_INSTRUCTIONS}
	EventCacheReferences Event = fixedEvent{"cache-references", unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_CACHE_REFERENCES}
	EventCacheMisses     Event = fixedEvent{"cache-misses", unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_CACHE_MISSES}
	EventBranches        Event = fixedEvent{"branches", unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_BRANCH_INSTRUCTIONS}
	EventBranchMisses    Event = fixedEvent{"branch-misses", unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_BRANCH_MISSES}
)

// Well-known software events. These are useful where no hardware PMU is
// available, such as in virtual machines and containers.
var (
	EventTaskClock       Event = fixedEvent{"task-clock", unix.PERF_TYPE_SOFTWARE, unix.PERF_COUNT_SW_TASK_CLOCK}
	EventPageFaults      Event = fixedEvent{"page-faults", unix.PERF_TYPE_SOFTWARE, unix.PERF_COUNT_SW_PAGE_FAULTS}
	EventContextSwitches Event = fixedEvent{"context-switches", unix.PERF_TYPE_SOFTWARE, unix.PERF_COUNT_SW_CONTEXT_SWITCHES}
)

// DefaultNames is the event list measured when the caller supplies none. It
// targets the front end (DSB/MITE/MS delivery) and per-port uop dispatch of
// Intel Skylake-derived cores.
var DefaultNames = []string{
	"instructions",
	"branch-instructions",
	"branch-misses",
	"cache-misses",
	"inst_retired.any_p",
	"frontend_retired.dsb_miss",
	"idq.all_dsb_cycles_any_uops",
	"idq.ms_uops",
	"idq.dsb_uops",
	"uops_executed.core",
	"uops_dispatched_port.port_0",
	"uops_dispatched_port.port_1",
	"uops_dispatched_port.port_2",
	"uops_dispatched_port.port_3",
	"uops_dispatched_port.port_4",
	"uops_dispatched_port.port_5",
	"uops_dispatched_port.port_6",
	"uops_dispatched_port.port_7",
	"uops_issued.any",
	"br_misp_retired.all_branches",
}

// Names returns override if it is non-empty and a copy of [DefaultNames]
// otherwise. The two lists are never merged.
func Names(override []string) []string {
	if len(override) > 0 {
		return override
	}
	return append([]string(nil), DefaultNames...)
}
