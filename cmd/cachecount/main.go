// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

// Cachecount counts hardware performance events caused by a short,
// cache-flushing workload on one pinned core.
//
// Usage:
//
//	cachecount [event...]
//
// With no arguments a default set of front-end and port-dispatch events is
// measured. Each event is printed with its delta over the workload.
// Environment variables CACHECOUNT_CORE, CACHECOUNT_ITERATIONS,
// CACHECOUNT_WARMUP and CACHECOUNT_LOG_LEVEL tune the run.
package main

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/klauspost/cpuid/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/perfbracket/cachecount/affinity"
	"github.com/perfbracket/cachecount/events"
	"github.com/perfbracket/cachecount/internal/config"
	"github.com/perfbracket/cachecount/internal/logutil"
	"github.com/perfbracket/cachecount/perf"
	"github.com/perfbracket/cachecount/report"
	"github.com/perfbracket/cachecount/scratch"
	"github.com/perfbracket/cachecount/workload"
)

func main() {
	os.Exit(mainExit(os.Args[1:], os.Stdout))
}

// mainExit runs one measurement and returns the process exit status: 0 on
// success, 1 on any fatal error. opts adjust the app after configuration is
// loaded.
func mainExit(args []string, stdout io.Writer, opts ...func(*app)) int {
	cfg, cfgErr := config.Load()
	logger := logutil.InitLogger(cfg.LogLevel)
	defer logger.Sync()
	if cfgErr != nil {
		logger.Error("invalid configuration", zap.Error(cfgErr))
		return 1
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		stdout:   stdout,
		resolver: perf.HostResolver,
	}
	for _, opt := range opts {
		opt(a)
	}
	if err := a.run(args); err != nil {
		logger.Error("measurement failed", zap.Error(err))
		return 1
	}
	return 0
}

type app struct {
	cfg      config.Config
	logger   *zap.Logger
	stdout   io.Writer
	resolver perf.Resolver
	opts     []perf.Option
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.stdout, format, args...)
}

// run performs one measurement of the events named by args, or the default
// events if args is empty. Every resource acquired is released before run
// returns, on success or failure.
func (a *app) run(args []string) (err error) {
	names := events.Names(args)
	if err := workload.CheckFeatures(); err != nil {
		return err
	}

	a.printf("# of CPUs available %d\n", runtime.NumCPU())
	a.printf("CPU %s (%d logical cores)\n", cpuid.CPU.BrandName, cpuid.CPU.LogicalCores)

	id := a.cfg.Core
	if id < 0 {
		if id, err = affinity.LastCore(); err != nil {
			return err
		}
	}
	core, err := affinity.Pin(id)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, core.Release())
	}()
	cur, err := affinity.CurrentCPU()
	if err != nil {
		return err
	}
	a.printf("My affinity %d\n", cur)

	region, err := scratch.Map(os.Getpagesize())
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, region.Close())
	}()
	a.printf("MMAP AT: %#x\n", region.Addr())
	if err := region.Prepare(scratch.DefaultSequence); err != nil {
		return err
	}

	opts := append([]perf.Option{perf.WithLogger(a.logger)}, a.opts...)
	s, err := perf.OpenNames(a.resolver, names, core.ID(), opts...)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, s.Close())
	}()
	a.logger.Debug("counters open", zap.Int("events", s.Len()), zap.Int("cpu", s.CPU()))

	a.printf("Integer_value %d\n", workload.Warmup(a.cfg.Warmup))

	w, err := workload.FlushTouch(region.Bytes(), a.cfg.Iterations)
	if err != nil {
		return err
	}
	r, err := workload.Measure(s, w)
	if err != nil {
		return err
	}
	deltas, err := report.Deltas(r.Initial, r.Final)
	if err != nil {
		return err
	}
	return report.Write(a.stdout, s.Names(), deltas)
}
