// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package events

import (
	"sort"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

type builtinEvent struct {
	pmu    uint32
	config uint64
}

// hardwareEvents are the generic PERF_TYPE_HARDWARE names. They may be
// written bare or under cpu/. Names follow perf's parse-events.c.
var hardwareEvents = map[string]uint64{
	"cpu-cycles":              unix.PERF_COUNT_HW_CPU_CYCLES,
	"cycles":                  unix.PERF_COUNT_HW_CPU_CYCLES,
	"instructions":            unix.PERF_COUNT_HW_INSTRUCTIONS,
	"cache-references":        unix.PERF_COUNT_HW_CACHE_REFERENCES,
	"cache-misses":            unix.PERF_COUNT_HW_CACHE_MISSES,
	"branch-instructions":     unix.PERF_COUNT_HW_BRANCH_INSTRUCTIONS,
	"branches":                unix.PERF_COUNT_HW_BRANCH_INSTRUCTIONS,
	"branch-misses":           unix.PERF_COUNT_HW_BRANCH_MISSES,
	"bus-cycles":              unix.PERF_COUNT_HW_BUS_CYCLES,
	"stalled-cycles-frontend": unix.PERF_COUNT_HW_STALLED_CYCLES_FRONTEND,
	"idle-cycles-frontend":    unix.PERF_COUNT_HW_STALLED_CYCLES_FRONTEND,
	"stalled-cycles-backend":  unix.PERF_COUNT_HW_STALLED_CYCLES_BACKEND,
	"idle-cycles-backend":     unix.PERF_COUNT_HW_STALLED_CYCLES_BACKEND,
	"ref-cycles":              unix.PERF_COUNT_HW_REF_CPU_CYCLES,
}

// softwareEvents are the PERF_TYPE_SOFTWARE names. They are only valid bare.
var softwareEvents = map[string]uint64{
	"cpu-clock":        unix.PERF_COUNT_SW_CPU_CLOCK,
	"task-clock":       unix.PERF_COUNT_SW_TASK_CLOCK,
	"page-faults":      unix.PERF_COUNT_SW_PAGE_FAULTS,
	"faults":           unix.PERF_COUNT_SW_PAGE_FAULTS,
	"context-switches": unix.PERF_COUNT_SW_CONTEXT_SWITCHES,
	"cs":               unix.PERF_COUNT_SW_CONTEXT_SWITCHES,
	"cpu-migrations":   unix.PERF_COUNT_SW_CPU_MIGRATIONS,
	"migrations":       unix.PERF_COUNT_SW_CPU_MIGRATIONS,
	"minor-faults":     unix.PERF_COUNT_SW_PAGE_FAULTS_MIN,
	"major-faults":     unix.PERF_COUNT_SW_PAGE_FAULTS_MAJ,
	"alignment-faults": unix.PERF_COUNT_SW_ALIGNMENT_FAULTS,
	"emulation-faults": unix.PERF_COUNT_SW_EMULATION_FAULTS,
	"dummy":            unix.PERF_COUNT_SW_DUMMY,
	"bpf-output":       unix.PERF_COUNT_SW_BPF_OUTPUT,
}

// Legacy cache event names are "<cache>[-<op>][-<result>]", for example
// "L1-dcache-load-misses". See perf's evsel.c.
var (
	cacheNames = map[string]uint64{
		"L1-dcache": unix.PERF_COUNT_HW_CACHE_L1D, "l1-d": unix.PERF_COUNT_HW_CACHE_L1D,
		"l1d": unix.PERF_COUNT_HW_CACHE_L1D, "L1-data": unix.PERF_COUNT_HW_CACHE_L1D,
		"L1-icache": unix.PERF_COUNT_HW_CACHE_L1I, "l1-i": unix.PERF_COUNT_HW_CACHE_L1I,
		"l1i": unix.PERF_COUNT_HW_CACHE_L1I, "L1-instruction": unix.PERF_COUNT_HW_CACHE_L1I,
		"LLC": unix.PERF_COUNT_HW_CACHE_LL, "L2": unix.PERF_COUNT_HW_CACHE_LL,
		"dTLB": unix.PERF_COUNT_HW_CACHE_DTLB, "d-tlb": unix.PERF_COUNT_HW_CACHE_DTLB,
		"Data-TLB": unix.PERF_COUNT_HW_CACHE_DTLB,
		"iTLB": unix.PERF_COUNT_HW_CACHE_ITLB, "i-tlb": unix.PERF_COUNT_HW_CACHE_ITLB,
		"Instruction-TLB": unix.PERF_COUNT_HW_CACHE_ITLB,
		"branch": unix.PERF_COUNT_HW_CACHE_BPU, "branches": unix.PERF_COUNT_HW_CACHE_BPU,
		"bpu": unix.PERF_COUNT_HW_CACHE_BPU, "btb": unix.PERF_COUNT_HW_CACHE_BPU,
		"bpc":  unix.PERF_COUNT_HW_CACHE_BPU,
		"node": unix.PERF_COUNT_HW_CACHE_NODE,
	}
	cacheOpNames = map[string]uint64{
		"load": unix.PERF_COUNT_HW_CACHE_OP_READ, "loads": unix.PERF_COUNT_HW_CACHE_OP_READ,
		"read":  unix.PERF_COUNT_HW_CACHE_OP_READ,
		"store": unix.PERF_COUNT_HW_CACHE_OP_WRITE, "stores": unix.PERF_COUNT_HW_CACHE_OP_WRITE,
		"write":    unix.PERF_COUNT_HW_CACHE_OP_WRITE,
		"prefetch": unix.PERF_COUNT_HW_CACHE_OP_PREFETCH, "prefetches": unix.PERF_COUNT_HW_CACHE_OP_PREFETCH,
		"speculative-read": unix.PERF_COUNT_HW_CACHE_OP_PREFETCH, "speculative-load": unix.PERF_COUNT_HW_CACHE_OP_PREFETCH,
	}
	cacheResultNames = map[string]uint64{
		"refs": unix.PERF_COUNT_HW_CACHE_RESULT_ACCESS, "Reference": unix.PERF_COUNT_HW_CACHE_RESULT_ACCESS,
		"ops": unix.PERF_COUNT_HW_CACHE_RESULT_ACCESS, "access": unix.PERF_COUNT_HW_CACHE_RESULT_ACCESS,
		"misses": unix.PERF_COUNT_HW_CACHE_RESULT_MISS, "miss": unix.PERF_COUNT_HW_CACHE_RESULT_MISS,
	}

	// cacheOpsAllowed maps a cache to the bitmap of ops it supports.
	cacheOpsAllowed = map[uint64]uint8{
		unix.PERF_COUNT_HW_CACHE_L1D:  opR | opW | opP,
		unix.PERF_COUNT_HW_CACHE_L1I:  opR | opP,
		unix.PERF_COUNT_HW_CACHE_LL:   opR | opW | opP,
		unix.PERF_COUNT_HW_CACHE_DTLB: opR | opW | opP,
		unix.PERF_COUNT_HW_CACHE_ITLB: opR,
		unix.PERF_COUNT_HW_CACHE_BPU:  opR,
		unix.PERF_COUNT_HW_CACHE_NODE: opR | opW | opP,
	}
)

const (
	opR = uint8(1) << unix.PERF_COUNT_HW_CACHE_OP_READ
	opW = uint8(1) << unix.PERF_COUNT_HW_CACHE_OP_WRITE
	opP = uint8(1) << unix.PERF_COUNT_HW_CACHE_OP_PREFETCH
)

type namedConfig struct {
	name   string
	config uint64
}

// byLength flattens m with longer names first, so "branches" is tried
// before its prefix "branch".
func byLength(m map[string]uint64) []namedConfig {
	out := make([]namedConfig, 0, len(m))
	for name, config := range m {
		out = append(out, namedConfig{name, config})
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].name) != len(out[j].name) {
			return len(out[i].name) > len(out[j].name)
		}
		return out[i].name < out[j].name
	})
	return out
}

var cacheTables = sync.OnceValues(func() ([]namedConfig, [2][]namedConfig) {
	return byLength(cacheNames), [2][]namedConfig{byLength(cacheOpNames), byLength(cacheResultNames)}
})

// matchPrefix matches s against names, either exactly or followed by "-".
// It returns the config and the remainder after the "-".
func matchPrefix(s string, names []namedConfig) (uint64, string, bool) {
	for _, n := range names {
		if s == n.name {
			return n.config, "", true
		}
		if rest, ok := strings.CutPrefix(s, n.name+"-"); ok {
			return n.config, rest, true
		}
	}
	return 0, "", false
}

// resolveBuiltinEvent resolves the perf names that correspond to fixed
// PERF_TYPE_HARDWARE, PERF_TYPE_SOFTWARE and PERF_TYPE_HW_CACHE configs.
func resolveBuiltinEvent(pmu, eventName string) (builtinEvent, bool) {
	if pmu != "" && pmu != "cpu" {
		return builtinEvent{}, false
	}
	if config, ok := hardwareEvents[eventName]; ok {
		return builtinEvent{unix.PERF_TYPE_HARDWARE, config}, true
	}
	if pmu == "" {
		if config, ok := softwareEvents[eventName]; ok {
			return builtinEvent{unix.PERF_TYPE_SOFTWARE, config}, true
		}
	}
	return resolveCacheEvent(eventName)
}

func resolveCacheEvent(eventName string) (builtinEvent, bool) {
	caches, suffixes := cacheTables()
	cache, s, ok := matchPrefix(eventName, caches)
	if !ok {
		return builtinEvent{}, false
	}

	// Up to one op and one result follow, in either order. Anything left over
	// (such as "l1d-loads-stores") is rejected.
	parts := [2]uint64{unix.PERF_COUNT_HW_CACHE_OP_READ, unix.PERF_COUNT_HW_CACHE_RESULT_ACCESS}
	var seen [2]bool
	for i := 0; i < 2 && s != ""; i++ {
		for k := range suffixes {
			if seen[k] {
				continue
			}
			if config, rest, ok := matchPrefix(s, suffixes[k]); ok {
				parts[k], s, seen[k] = config, rest, true
				break
			}
		}
	}
	op, result := parts[0], parts[1]
	if s != "" || cacheOpsAllowed[cache]&(1<<op) == 0 {
		return builtinEvent{}, false
	}
	return builtinEvent{unix.PERF_TYPE_HW_CACHE, cache | op<<8 | result<<16}, true
}
