// Copyright 2025 The XRFusion Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ratelog implements the "log at most once per period" policy the
// XREAL adapter applies to malformed packets: noisy, expected-to-recur
// conditions must not flood the log.
package ratelog

import (
	"log"
	"sync"
	"time"
)

// Logger emits at most one message per period through the standard log
// package.
type Logger struct {
	period time.Duration

	mu   sync.Mutex
	last time.Time
}

// New returns a Logger that emits at most once per period.
func New(period time.Duration) *Logger {
	return &Logger{period: period}
}

// Printf logs format/args if at least period has elapsed since the last
// emitted message, otherwise it silently drops the line.
func (l *Logger) Printf(format string, args ...interface{}) {
	l.mu.Lock()
	now := time.Now()
	if now.Sub(l.last) < l.period {
		l.mu.Unlock()
		return
	}
	l.last = now
	l.mu.Unlock()
	log.Printf(format, args...)
}
