// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

// Package perf counts hardware performance events over a bracketed piece of
// code.
//
// A [Session] opens one counter per event. Each counter is its own group, so
// the kernel may multiplex them when there are more events than hardware
// counters; reads are scaled to compensate. All counters of a Session are
// started and stopped together by a single bulk operation.
package perf

import (
	"errors"
	"fmt"
	"unsafe"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/perfbracket/cachecount/events"
	"github.com/perfbracket/cachecount/internal/logutil"
)

// AnyCPU opens counters that count on whichever CPU the thread runs on.
const AnyCPU = -1

var (
	// ErrNoEvents is returned by Open for an empty event list.
	ErrNoEvents = errors.New("perf: no events")

	// ErrClosed is returned by operations on a closed Session.
	ErrClosed = errors.New("perf: session is closed")

	// ErrBracket wraps failures of the bulk enable or disable. A measurement
	// whose bracket failed is not trustworthy.
	ErrBracket = errors.New("perf: bulk enable/disable failed")
)

// An EventError reports a failure concerning one event of a Session.
type EventError struct {
	Op    string // "resolve", "open" or "read"
	Index int    // Position of the event in the list given to Open
	Name  string
	Err   error
}

func (e *EventError) Error() string {
	return fmt.Sprintf("perf: cannot %s event %d (%s): %v", e.Op, e.Index, e.Name, e.Err)
}

func (e *EventError) Unwrap() error { return e.Err }

// A Resolver turns an event name into an [events.Event].
// [*events.Resolver] is the usual implementation.
type Resolver interface {
	ParseEvent(name string) (events.Event, error)
}

type resolverFunc func(string) (events.Event, error)

func (f resolverFunc) ParseEvent(name string) (events.Event, error) { return f(name) }

// HostResolver resolves names against the host's PMUs.
var HostResolver Resolver = resolverFunc(events.ParseEvent)

// Option configures a Session.
type Option func(*options)

type options struct {
	backend Backend
	logger  *zap.Logger
}

// WithBackend sets the counter backend. The default is [OSBackend].
func WithBackend(b Backend) Option {
	return func(o *options) {
		o.backend = b
	}
}

// WithLogger sets the logger used for non-fatal anomalies. The default is
// the process logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// A Session owns one counter per event, all bound to the same CPU.
//
// A Session is not safe for concurrent use, and because the bulk operations
// act on the calling thread, every method must be called from the goroutine
// that opened it while that goroutine is locked to its OS thread.
type Session struct {
	backend Backend
	logger  *zap.Logger
	cpu     int

	names   []string
	handles []Handle
	scales  []eventScale

	buf    [recordSize]byte
	closed bool
}

type eventScale struct {
	scale float64
	unit  string
}

// OpenNames resolves every name with r and then opens a Session for the
// resulting events. No counter is opened unless every name resolves.
func OpenNames(r Resolver, names []string, cpu int, opts ...Option) (*Session, error) {
	if len(names) == 0 {
		return nil, ErrNoEvents
	}
	evs := make([]events.Event, len(names))
	for i, name := range names {
		ev, err := r.ParseEvent(name)
		if err != nil {
			return nil, &EventError{Op: "resolve", Index: i, Name: name, Err: err}
		}
		evs[i] = ev
	}
	return Open(evs, cpu, opts...)
}

// Open opens one disabled counter per event on cpu, counting user-space
// activity of the calling thread only. Each counter is its own group.
//
// If any counter fails to open, the counters opened before it are closed
// and the returned error is an [*EventError] naming the failing index.
func Open(evs []events.Event, cpu int, opts ...Option) (*Session, error) {
	if len(evs) == 0 {
		return nil, ErrNoEvents
	}
	o := options{backend: OSBackend(), logger: logutil.GetLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Session{
		backend: o.backend,
		logger:  o.logger,
		cpu:     cpu,
		names:   make([]string, len(evs)),
		handles: make([]Handle, 0, len(evs)),
		scales:  make([]eventScale, len(evs)),
	}
	for i, ev := range evs {
		s.names[i] = ev.String()
		s.scales[i] = eventScale{1.0, ""}
		if es, ok := ev.(events.EventScale); ok {
			sc, unit := es.ScaleUnit()
			s.scales[i] = eventScale{sc, unit}
		}
	}

	for i, ev := range evs {
		attr := unix.PerfEventAttr{}
		attr.Size = uint32(unsafe.Sizeof(attr))
		if err := ev.SetAttrs(&attr); err != nil {
			return nil, s.abortOpen(&EventError{Op: "open", Index: i, Name: s.names[i], Err: err})
		}
		// Counting mode. A period from the event tables only applies to
		// sampling.
		attr.Sample = 0
		attr.Read_format = unix.PERF_FORMAT_TOTAL_TIME_ENABLED | unix.PERF_FORMAT_TOTAL_TIME_RUNNING
		attr.Bits = unix.PerfBitDisabled |
			unix.PerfBitExcludeKernel |
			unix.PerfBitExcludeHv |
			unix.PerfBitExcludeIdle

		h, err := s.backend.Open(&attr, cpu)
		if err != nil {
			return nil, s.abortOpen(&EventError{Op: "open", Index: i, Name: s.names[i], Err: err})
		}
		s.handles = append(s.handles, h)
		s.logger.Debug("opened counter",
			zap.Int("index", i),
			zap.String("event", s.names[i]),
			zap.Uint32("type", attr.Type),
			zap.Uint64("config", attr.Config),
			zap.Int("cpu", cpu))
	}
	return s, nil
}

// abortOpen closes whatever Open managed to open and returns err along with
// any close failures.
func (s *Session) abortOpen(err error) error {
	return multierr.Append(err, s.Close())
}

// Len returns the number of counters.
func (s *Session) Len() int { return len(s.names) }

// Names returns the event names, index-aligned with every Snapshot.
func (s *Session) Names() []string { return s.names }

// CPU returns the CPU the counters are bound to.
func (s *Session) CPU() int { return s.cpu }

// EnableAll starts every counter in a single bulk operation.
func (s *Session) EnableAll() error {
	if s.closed {
		return ErrClosed
	}
	if err := s.backend.EnableAll(); err != nil {
		return fmt.Errorf("%w: %w", ErrBracket, err)
	}
	return nil
}

// DisableAll stops every counter in a single bulk operation.
func (s *Session) DisableAll() error {
	if s.closed {
		return ErrClosed
	}
	if err := s.backend.DisableAll(); err != nil {
		return fmt.Errorf("%w: %w", ErrBracket, err)
	}
	return nil
}

// ReadSnapshot reads every counter in index order.
//
// A read that returns less than a full record is logged and the count is
// kept with its missing fields zeroed and Short set. A failed read is
// returned as an [*EventError].
func (s *Session) ReadSnapshot() (Snapshot, error) {
	if s.closed {
		return nil, ErrClosed
	}
	snap := make(Snapshot, len(s.handles))
	for i, h := range s.handles {
		n, err := s.backend.Read(h, s.buf[:])
		if err != nil {
			return nil, &EventError{Op: "read", Index: i, Name: s.names[i], Err: err}
		}
		c := decodeCount(s.buf[:n])
		if c.Short {
			s.logger.Warn("short counter read",
				zap.Int("index", i),
				zap.String("event", s.names[i]),
				zap.Int("bytes", n),
				zap.Int("want", recordSize))
		}
		c.scale, c.unit = s.scales[i].scale, s.scales[i].unit
		snap[i] = c
	}
	return snap, nil
}

// Close releases every counter. It is safe to call more than once; only the
// first call does anything.
func (s *Session) Close() error {
	if s == nil || s.closed {
		return nil
	}
	s.closed = true
	var err error
	for i, h := range s.handles {
		if cerr := s.backend.Close(h); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("closing event %d (%s): %w", i, s.names[i], cerr))
		}
	}
	s.handles = nil
	return err
}
