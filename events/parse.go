// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package events

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// SysPMUDir is where the kernel publishes event source devices.
const SysPMUDir = "/sys/bus/event_source/devices"

// A Resolver turns event names into Events. It caches PMU descriptions and
// the perf list output, so a single Resolver should be reused for a batch of
// names. The zero Resolver is not usable; use [NewResolver].
type Resolver struct {
	pmuFS  fs.FS
	pmuDir string

	pmus     *onceMap[string, *pmuDesc]
	perfList func() (map[string]perfListEntry, error)
}

// A PerfListFunc writes the output of "perf list -j" to stdout, and any
// diagnostics to stderr.
type PerfListFunc func(stdout, stderr io.Writer) error

// NewResolver returns a Resolver that reads PMU descriptions from pmuFS and
// vendor events from perfList. The root of pmuFS corresponds to
// [SysPMUDir]; dir is only used in error messages. A nil pmuFS or perfList
// selects the host's sysfs tree or perf binary.
func NewResolver(pmuFS fs.FS, dir string, perfList PerfListFunc) *Resolver {
	if pmuFS == nil {
		pmuFS, dir = os.DirFS(SysPMUDir), SysPMUDir
	}
	if perfList == nil {
		perfList = runPerfList
	}
	r := &Resolver{pmuFS: pmuFS, pmuDir: dir}
	r.pmus = newOnceMap(r.describePMU)
	r.perfList = sync.OnceValues(func() (map[string]perfListEntry, error) {
		var outBuf, errBuf bytes.Buffer
		err := perfList(&outBuf, &errBuf)
		return parsePerfList(outBuf.Bytes(), errBuf.Bytes(), err)
	})
	return r
}

func runPerfList(stdout, stderr io.Writer) error {
	cmd := exec.Command("perf", "list", "-j")
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd.Run()
}

var defaultResolver = sync.OnceValue(func() *Resolver {
	return NewResolver(nil, "", nil)
})

// ParseEvent resolves name against the host's PMUs.
func ParseEvent(name string) (Event, error) {
	return defaultResolver().ParseEvent(name)
}

// rawEvent is a fully resolved encoding.
type rawEvent struct {
	name  string
	pmu   uint32
	words [numWords]uint64

	scale float64
	unit  string
}

func (e *rawEvent) String() string {
	return e.name
}

func (e *rawEvent) SetAttrs(attr *unix.PerfEventAttr) error {
	attr.Type = e.pmu
	attr.Config = e.words[wordConfig]
	attr.Ext1 = e.words[wordConfig1]
	attr.Ext2 = e.words[wordConfig2]
	attr.Sample = e.words[wordPeriod] // Union of sample_period and sample_freq
	return nil
}

func (e *rawEvent) ScaleUnit() (float64, string) {
	if e.scale == 0 {
		return 1.0, e.unit
	}
	return e.scale, e.unit
}

// ParseEvent resolves name, which is either a symbolic event name or a PMU
// encoding in the form pmu/k=v,.../.
func (r *Resolver) ParseEvent(name string) (Event, error) {
	// TODO: Support modifiers such as ":u" and ":k".
	pmu, params, err := parsePMUEvent(name)
	if err == errNotPMUEvent {
		// Try as a symbolic event.
		pmu = ""
		params = []eventParam{{k: name, kOnly: true}}
	} else if err != nil {
		return nil, err
	}
	return r.resolve(name, pmu, params)
}

var errNotPMUEvent = errors.New("not a PMU format event")

// parsePMUEvent parses symbolic PMU event strings in the form pmu/k=v,.../
func parsePMUEvent(name string) (pmu string, params []eventParam, err error) {
	if !(strings.Count(name, "/") == 2 && !strings.HasPrefix(name, "/") && strings.HasSuffix(name, "/")) {
		return "", nil, errNotPMUEvent
	}

	pmu, rest, _ := strings.Cut(name, "/")
	params, err = parseParamList(strings.TrimSuffix(rest, "/"))
	if err != nil {
		return "", nil, fmt.Errorf("event %q: %w", name, err)
	}
	return pmu, params, nil
}

type eventParam struct {
	k     string
	v     uint64
	kOnly bool // Param may be an event name or k=1
}

// parseParamList parses a comma-separated list of k strings and k=v pairs. Lone
// keys have value 1 and may also be event names; see
// https://www.kernel.org/doc/Documentation/ABI/testing/sysfs-bus-event_source-devices-events.
func parseParamList(list string) ([]eventParam, error) {
	var params []eventParam
	for _, s := range strings.Split(list, ",") {
		k, vs, ok := strings.Cut(s, "=")
		if k == "" {
			return nil, fmt.Errorf("error parsing event param list %q: missing parameter name in %q", list, s)
		}
		if !ok {
			params = append(params, eventParam{k, 1, true})
			continue
		}
		// Decimal, hex, or octal.
		v, err := strconv.ParseUint(vs, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("error parsing event param list %q: parameter %q not a number", list, s)
		}
		params = append(params, eventParam{k, v, false})
	}
	return params, nil
}

// errUnknownEvent is returned by a lookup when the name is not one of its
// events, as opposed to a failure to consult its source.
var errUnknownEvent = errors.New("unknown event")

// lookupNamed finds a named event on desc, first among the events the PMU
// publishes in sysfs and then among the perf list vendor events.
func (r *Resolver) lookupNamed(desc *pmuDesc, name string) (pmuEvent, error) {
	if ev, ok := desc.events[name]; ok {
		return ev, nil
	}
	if desc.typ != unix.PERF_TYPE_RAW {
		// perf list vendor events all live on the core PMU.
		return pmuEvent{}, errUnknownEvent
	}
	list, err := r.perfList()
	if err != nil {
		return pmuEvent{}, err
	}
	ent, ok := list[name]
	if !ok {
		return pmuEvent{}, errUnknownEvent
	}
	return ent.event()
}

// resolve resolves an event in the form pmu/param1=N,.../ or a symbolic event.
// Symbolic events have pmu == "" and a single kOnly param.
func (r *Resolver) resolve(enc string, pmu string, params []eventParam) (*rawEvent, error) {
	ev := rawEvent{name: enc}

	// Builtin events win over identically named sysfs events, as in perf.
	// They only apply when the name stands alone: builtin types are static
	// and the dynamic PMU format bits mean nothing to them.
	if len(params) == 1 && params[0].kOnly {
		if b, ok := resolveBuiltinEvent(pmu, params[0].k); ok {
			ev.pmu, ev.words[wordConfig] = b.pmu, b.config
			return &ev, nil
		}
	}

	// A symbolic event that isn't builtin lives on the core PMU.
	symbolic := pmu == ""
	if symbolic {
		pmu = "cpu"
	}
	desc, err := r.pmus.get(pmu)
	if err != nil {
		return nil, err
	}
	ev.pmu = desc.typ

	// Classify each parameter as a format field or an event name.
	var named *pmuEvent
	namedIndex := -1
	for i, param := range params {
		if _, ok := desc.field(param.k); ok {
			continue
		}
		if param.kOnly {
			pe, err := r.lookupNamed(desc, param.k)
			if err == nil {
				if named != nil {
					return nil, fmt.Errorf("event %q: multiple events %q and %q", enc, named.name, pe.name)
				}
				named, namedIndex = &pe, i
				continue
			}
			if err != errUnknownEvent {
				return nil, err
			}
		}
		if symbolic {
			return nil, fmt.Errorf("unknown event %q", enc)
		}
		return nil, fmt.Errorf("event %q: unknown event or parameter %q", enc, param.k)
	}

	if named != nil {
		// The named event's own parameters come first so explicit
		// parameters override them regardless of order.
		merged := append([]eventParam(nil), named.params...)
		merged = append(merged, params[:namedIndex]...)
		params = append(merged, params[namedIndex+1:]...)
		ev.scale, ev.unit = named.scale, named.unit
	}

	for _, param := range params {
		f, ok := desc.field(param.k)
		if !ok {
			// The event description itself used an unknown field.
			return nil, fmt.Errorf("event %q: unknown parameter %q in description", enc, param.k)
		}
		if err := f.apply(&ev.words, param.v); err != nil {
			return nil, fmt.Errorf("event %q: %w", enc, err)
		}
	}

	return &ev, nil
}
