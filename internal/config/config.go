// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config reads the run configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap/zapcore"
)

// Environment variables understood by Load.
const (
	EnvLogLevel   = "CACHECOUNT_LOG_LEVEL"
	EnvCore       = "CACHECOUNT_CORE"
	EnvIterations = "CACHECOUNT_ITERATIONS"
	EnvWarmup     = "CACHECOUNT_WARMUP"
)

// Defaults match the reference payload.
const (
	DefaultIterations = 1000000
	DefaultWarmup     = 100000000
)

// Config is the configuration of one measurement run.
type Config struct {
	LogLevel zapcore.Level

	// Core is the logical CPU to pin to, or -1 for the last online CPU.
	Core int

	Iterations int
	Warmup     int
}

// Load reads Config from the process environment.
func Load() (Config, error) {
	return load(os.LookupEnv)
}

func load(lookup func(string) (string, bool)) (Config, error) {
	cfg := Config{
		LogLevel:   zapcore.InfoLevel,
		Core:       -1,
		Iterations: DefaultIterations,
		Warmup:     DefaultWarmup,
	}
	if v, ok := lookup(EnvLogLevel); ok {
		lvl, err := zapcore.ParseLevel(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", EnvLogLevel, err)
		}
		cfg.LogLevel = lvl
	}
	ints := []struct {
		env string
		dst *int
		min int
	}{
		{EnvCore, &cfg.Core, 0},
		{EnvIterations, &cfg.Iterations, 1},
		{EnvWarmup, &cfg.Warmup, 0},
	}
	for _, f := range ints {
		v, ok := lookup(f.env)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", f.env, err)
		}
		if n < f.min {
			return Config{}, fmt.Errorf("%s: %d is below the minimum %d", f.env, n, f.min)
		}
		*f.dst = n
	}
	return cfg, nil
}
