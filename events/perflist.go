// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// A perfListEntry is one element of the "perf list -j" array. Vendor events
// (the JSON event tables built into perf) are only reachable this way; sysfs
// does not publish them. Metrics have no EventName.
type perfListEntry struct {
	Unit       string
	EventName  string
	EventAlias string
	ScaleUnit  string
	Encoding   string
}

// parsePerfList decodes the output of "perf list -j" into a table keyed by
// event name and alias. errOut and runErr are the command's stderr and exit
// error.
func parsePerfList(out, errOut []byte, runErr error) (map[string]perfListEntry, error) {
	if runErr != nil {
		return nil, perfListError(errOut, runErr)
	}
	var list []perfListEntry
	if err := json.Unmarshal(stripPerfErrors(out), &list); err != nil {
		return nil, fmt.Errorf("error decoding perf list -j output: %w", err)
	}
	table := make(map[string]perfListEntry, len(list))
	for _, ent := range list {
		for _, key := range []string{ent.EventName, ent.EventAlias} {
			if key != "" {
				table[key] = ent
			}
		}
	}
	return table, nil
}

func perfListError(errOut []byte, runErr error) error {
	if errors.Is(runErr, exec.ErrNotFound) {
		return fmt.Errorf("perf command not found; cannot enumerate extended events")
	}
	msg := strings.TrimSpace(string(errOut))
	switch {
	case msg == "":
		return fmt.Errorf("perf list -j failed: %w", runErr)
	case strings.Contains(msg, "Error: unknown switch `j'"):
		// JSON output appeared in linux 6.2.
		return fmt.Errorf("perf version must be >= 6.2; cannot enumerate extended events")
	}
	return fmt.Errorf("perf list -j failed:\n%s", msg)
}

// stripPerfErrors drops diagnostics that some perf versions (6.5 at least)
// write to stdout right after the closing brace of an entry.
func stripPerfErrors(out []byte) []byte {
	lines := bytes.SplitAfter(out, []byte("\n"))
	for i, line := range lines {
		if j := bytes.Index(line, []byte("}Error: ")); j >= 0 {
			lines[i] = append(line[:j+1:j+1], '\n')
		}
	}
	return bytes.Join(lines, nil)
}

// event converts the entry into a named event of the core PMU.
func (ent *perfListEntry) event() (pmuEvent, error) {
	if ent.Encoding == "" {
		return pmuEvent{}, fmt.Errorf("unsupported event %q: no encoding from perf list -j", ent.EventName)
	}
	pmu, params, err := parsePMUEvent(ent.Encoding)
	if err == nil && pmu != "cpu" {
		err = fmt.Errorf("expected PMU %q", "cpu")
	}
	if err != nil {
		return pmuEvent{}, fmt.Errorf("unexpected encoding %q from perf list -j: %w", ent.Encoding, err)
	}
	scale, unit, err := parseScaleUnit(ent.ScaleUnit)
	if err != nil {
		return pmuEvent{}, fmt.Errorf("unexpected ScaleUnit %q from perf list -j: %w", ent.ScaleUnit, err)
	}
	return pmuEvent{name: ent.EventName, params: params, scale: scale, unit: unit}, nil
}

// parseScaleUnit splits a ScaleUnit such as "6.103515625e-5MiB" into its
// factor and unit. An empty string means 1 with no unit.
func parseScaleUnit(s string) (float64, string, error) {
	if s == "" {
		return 1.0, "", nil
	}
	var scale float64
	var unit string
	n, err := fmt.Sscanf(s, "%g%s", &scale, &unit)
	if n == 1 && err == io.EOF {
		err = nil
	}
	return scale, unit, err
}
