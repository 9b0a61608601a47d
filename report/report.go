// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

// Package report turns a pair of counter snapshots into per-event deltas.
package report

import (
	"errors"
	"fmt"
	"io"

	"github.com/perfbracket/cachecount/perf"
)

// NameWidth is the column width of event names. Longer names are truncated.
const NameWidth = 30

// ErrLength is returned when the inputs are not index-aligned.
var ErrLength = errors.New("report: length mismatch")

// Deltas returns final[i] - initial[i] of the scaled values, for every i.
// The result is signed so a counter that went backwards is visible instead of
// wrapping.
func Deltas(initial, final perf.Snapshot) ([]int64, error) {
	if len(initial) != len(final) {
		return nil, fmt.Errorf("%w: %d initial counts, %d final", ErrLength, len(initial), len(final))
	}
	d := make([]int64, len(final))
	for i := range final {
		d[i] = int64(final[i].Value() - initial[i].Value())
	}
	return d, nil
}

// Write writes one line per event, in input order: the name padded or
// truncated to NameWidth, a tab, then the delta.
func Write(w io.Writer, names []string, deltas []int64) error {
	if len(names) != len(deltas) {
		return fmt.Errorf("%w: %d names, %d deltas", ErrLength, len(names), len(deltas))
	}
	for i, name := range names {
		if _, err := fmt.Fprintf(w, "%-*.*s\t%d\n", NameWidth, NameWidth, name, deltas[i]); err != nil {
			return fmt.Errorf("report: %w", err)
		}
	}
	return nil
}
