// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package logutil holds the process-wide zap logger.
package logutil

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.Mutex
	logger = zap.NewNop()
)

// InitLogger installs a console logger on stderr at the given level. Stdout
// is left to the measurement report.
func InitLogger(level zapcore.Level) *zap.Logger {
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(os.Stderr), level)
	l := zap.New(core, zap.AddCaller())

	mu.Lock()
	logger = l
	mu.Unlock()
	return l
}

// GetLogger returns the logger installed by InitLogger, or a no-op logger.
func GetLogger() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	return logger
}
