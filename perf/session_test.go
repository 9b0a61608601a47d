// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package perf_test

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sys/unix"

	"github.com/perfbracket/cachecount/events"
	"github.com/perfbracket/cachecount/perf"
	"github.com/perfbracket/cachecount/perf/perftest"
)

// testResolver resolves the builtin names without consulting the host.
type testResolver map[string]events.Event

func (r testResolver) ParseEvent(name string) (events.Event, error) {
	if ev, ok := r[name]; ok {
		return ev, nil
	}
	return nil, fmt.Errorf("unknown event %q", name)
}

var resolver = testResolver{
	"instructions":     events.EventInstructions,
	"cpu-cycles":       events.EventCPUCycles,
	"cache-misses":     events.EventCacheMisses,
	"cache-references": events.EventCacheReferences,
	"branches":         events.EventBranches,
	"branch-misses":    events.EventBranchMisses,
}

func openFake(t *testing.T, b *perftest.Backend, names ...string) *perf.Session {
	t.Helper()
	s, err := perf.OpenNames(resolver, names, 3, perf.WithBackend(b), perf.WithLogger(zap.NewNop()))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenAttrs(t *testing.T) {
	b := &perftest.Backend{}
	s := openFake(t, b, "instructions", "cache-misses")

	require.Equal(t, 2, s.Len())
	require.Equal(t, []string{"instructions", "cache-misses"}, s.Names())
	require.Equal(t, 3, s.CPU())

	for i, want := range []uint64{unix.PERF_COUNT_HW_INSTRUCTIONS, unix.PERF_COUNT_HW_CACHE_MISSES} {
		c := b.Counter(i)
		require.Equal(t, 3, c.CPU)
		require.Equal(t, uint32(unix.PERF_TYPE_HARDWARE), c.Attr.Type)
		require.Equal(t, want, c.Attr.Config)
		require.Equal(t, uint64(unix.PERF_FORMAT_TOTAL_TIME_ENABLED|unix.PERF_FORMAT_TOTAL_TIME_RUNNING), c.Attr.Read_format)
		for _, bit := range []uint64{unix.PerfBitDisabled, unix.PerfBitExcludeKernel, unix.PerfBitExcludeHv, unix.PerfBitExcludeIdle} {
			require.NotZero(t, c.Attr.Bits&bit, "bit %#x not set", bit)
		}
		require.False(t, c.Enabled, "counter must start disabled")
	}
}

func TestSnapshotIndexAligned(t *testing.T) {
	names := []string{"instructions", "cpu-cycles", "cache-misses", "cache-references", "branches", "branch-misses"}
	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 20; trial++ {
		perm := append([]string(nil), names...)
		rng.Shuffle(len(perm), func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
		n := 1 + rng.Intn(len(perm))
		perm = perm[:n]

		b := &perftest.Backend{}
		s := openFake(t, b, perm...)
		// Give each event a distinct rate so a mix-up would show.
		for i := range perm {
			b.Counter(i).Rate = uint64(i + 1)
		}

		require.NoError(t, s.EnableAll())
		b.Advance(100)
		require.NoError(t, s.DisableAll())
		snap, err := s.ReadSnapshot()
		require.NoError(t, err)

		require.Len(t, snap, n)
		require.Equal(t, perm, s.Names())
		for i, c := range snap {
			require.Equal(t, uint64(100*(i+1)), c.Value(), "index %d (%s)", i, perm[i])
		}
	}
}

func TestMultiplexedScaling(t *testing.T) {
	b := &perftest.Backend{}
	s := openFake(t, b, "instructions", "cache-misses")
	b.Counter(1).RunNum, b.Counter(1).RunDen = 1, 4

	require.NoError(t, s.EnableAll())
	b.Advance(1000)
	require.NoError(t, s.DisableAll())
	snap, err := s.ReadSnapshot()
	require.NoError(t, err)

	require.Equal(t, perf.Count{RawValue: 1000, TimeEnabled: 1000, TimeRunning: 1000}.Value(), snap[0].Value())
	require.Equal(t, uint64(250), snap[1].RawValue)
	require.Equal(t, uint64(1000), snap[1].Value())
}

func TestFrozenWhileDisabled(t *testing.T) {
	b := &perftest.Backend{}
	s := openFake(t, b, "instructions", "cache-misses")

	require.NoError(t, s.EnableAll())
	b.Advance(10)
	require.NoError(t, s.DisableAll())
	first, err := s.ReadSnapshot()
	require.NoError(t, err)
	b.Advance(10)
	second, err := s.ReadSnapshot()
	require.NoError(t, err)
	require.Equal(t, first.Values(), second.Values())
}

func TestBulkEnableDisable(t *testing.T) {
	b := &perftest.Backend{}
	s := openFake(t, b, "instructions", "cache-misses", "branches")
	b.Calls = nil

	require.NoError(t, s.EnableAll())
	require.NoError(t, s.DisableAll())
	// One bulk call each, never a loop over handles.
	require.Equal(t, []string{"enable", "disable"}, b.Calls)
}

func TestBulkFailure(t *testing.T) {
	boom := errors.New("boom")
	b := &perftest.Backend{EnableErr: boom, DisableErr: boom}
	s := openFake(t, b, "instructions")

	err := s.EnableAll()
	require.ErrorIs(t, err, perf.ErrBracket)
	require.ErrorIs(t, err, boom)
	err = s.DisableAll()
	require.ErrorIs(t, err, perf.ErrBracket)
}

func TestResolveFailureOpensNothing(t *testing.T) {
	b := &perftest.Backend{}
	_, err := perf.OpenNames(resolver, []string{"instructions", "bogus", "cache-misses"}, 0, perf.WithBackend(b))
	var evErr *perf.EventError
	require.ErrorAs(t, err, &evErr)
	require.Equal(t, "resolve", evErr.Op)
	require.Equal(t, 1, evErr.Index)
	require.Equal(t, "bogus", evErr.Name)
	require.Empty(t, b.Calls)
}

func TestOpenEmpty(t *testing.T) {
	_, err := perf.OpenNames(resolver, nil, 0, perf.WithBackend(&perftest.Backend{}))
	require.ErrorIs(t, err, perf.ErrNoEvents)
	_, err = perf.Open(nil, 0, perf.WithBackend(&perftest.Backend{}))
	require.ErrorIs(t, err, perf.ErrNoEvents)
}

func TestOpenFailureClosesEarlier(t *testing.T) {
	b := &perftest.Backend{OpenErrors: map[int]error{2: unix.ENOENT}}
	_, err := perf.OpenNames(resolver, []string{"instructions", "cache-misses", "branches", "cpu-cycles"}, 0,
		perf.WithBackend(b), perf.WithLogger(zap.NewNop()))

	var evErr *perf.EventError
	require.ErrorAs(t, err, &evErr)
	require.Equal(t, "open", evErr.Op)
	require.Equal(t, 2, evErr.Index)
	require.Equal(t, "branches", evErr.Name)
	require.ErrorIs(t, err, unix.ENOENT)
	require.Contains(t, err.Error(), "event 2")

	require.Equal(t, 2, b.Len())
	require.Zero(t, b.OpenCount())
	require.Equal(t, []string{"open 0", "open 1", "open 2", "close 0", "close 1"}, b.Calls)
}

func TestShortRead(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	b := &perftest.Backend{ShortReads: map[int]int{1: 8}}
	s, err := perf.OpenNames(resolver, []string{"instructions", "cache-misses"}, 0,
		perf.WithBackend(b), perf.WithLogger(zap.New(core)))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.EnableAll())
	b.Advance(50)
	require.NoError(t, s.DisableAll())
	snap, err := s.ReadSnapshot()
	require.NoError(t, err, "short reads are not fatal")
	require.Len(t, snap, 2)
	require.False(t, snap[0].Short)
	require.True(t, snap[1].Short)
	require.Equal(t, uint64(50), snap[1].RawValue)
	require.Zero(t, snap[1].TimeEnabled)

	entries := logs.FilterMessage("short counter read").All()
	require.Len(t, entries, 1)
	require.Equal(t, int64(1), entries[0].ContextMap()["index"])
	require.Equal(t, "cache-misses", entries[0].ContextMap()["event"])
}

func TestShortReadPartialWord(t *testing.T) {
	b := &perftest.Backend{ShortReads: map[int]int{0: 12}}
	s := openFake(t, b, "instructions", "cache-misses")

	require.NoError(t, s.EnableAll())
	b.Advance(1000)
	require.NoError(t, s.DisableAll())
	snap, err := s.ReadSnapshot()
	require.NoError(t, err)

	require.True(t, snap[0].Short)
	require.Equal(t, uint64(1000), snap[0].RawValue)
	require.Zero(t, snap[0].TimeEnabled)
	require.Zero(t, snap[0].TimeRunning)
	require.Equal(t, uint64(1000), snap[0].Value())
	require.False(t, snap[1].Short)
	require.Equal(t, uint64(1000), snap[1].Value())
}

func TestReadError(t *testing.T) {
	b := &perftest.Backend{ReadErrors: map[int]error{1: unix.EIO}}
	s := openFake(t, b, "instructions", "cache-misses")

	_, err := s.ReadSnapshot()
	var evErr *perf.EventError
	require.ErrorAs(t, err, &evErr)
	require.Equal(t, "read", evErr.Op)
	require.Equal(t, 1, evErr.Index)
	require.ErrorIs(t, err, unix.EIO)
}

func TestCloseOnce(t *testing.T) {
	b := &perftest.Backend{}
	s := openFake(t, b, "instructions", "cache-misses")

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.Zero(t, b.OpenCount())
	closes := 0
	for _, c := range b.Calls {
		if c == "close 0" || c == "close 1" {
			closes++
		}
	}
	require.Equal(t, 2, closes)

	require.ErrorIs(t, s.EnableAll(), perf.ErrClosed)
	require.ErrorIs(t, s.DisableAll(), perf.ErrClosed)
	_, err := s.ReadSnapshot()
	require.ErrorIs(t, err, perf.ErrClosed)

	var nilSession *perf.Session
	require.NoError(t, nilSession.Close())
}
