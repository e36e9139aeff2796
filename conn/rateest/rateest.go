// Copyright 2025 The XRFusion Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package rateest estimates a stream's sample rate from a sliding window of
// millisecond timestamps.
package rateest

import (
	"errors"

	"xrfusion.io/x/xrfusion/conn/ringbuf"
)

// ReadyThreshold is the minimum sample count before Rate/Duration become
// meaningful.
const ReadyThreshold = 100

// MinRateHz is the floor Rate() clamps to, so a stalled stream never reports
// zero or negative Hz to a caller dividing by it.
const MinRateHz = 0.1

// ErrNotReady is returned by Rate and Duration before ReadyThreshold samples
// have been collected.
var ErrNotReady = errors.New("rateest: not enough samples yet")

// Estimator tracks a bounded FIFO of millisecond timestamps and derives a
// sample-rate estimate from their span.
//
// Estimator is not safe for concurrent use; the connection pool guards it
// with the same lock it uses for the rest of its state.
type Estimator struct {
	buf *ringbuf.Buffer
}

// New returns an Estimator holding up to windowSize timestamps.
func New(windowSize int) *Estimator {
	return &Estimator{buf: ringbuf.New(windowSize)}
}

// Add records a new sample timestamp in milliseconds, evicting the oldest
// one if the window is full.
func (e *Estimator) Add(tsMS uint32) {
	e.buf.Push(float32(tsMS))
}

// Ready reports whether at least ReadyThreshold samples have been recorded.
func (e *Estimator) Ready() bool {
	return e.buf.Len() >= ReadyThreshold
}

// Reset forgets all recorded samples.
func (e *Estimator) Reset() {
	e.buf.Reset()
}

// RateHz returns (count-1) / ((last-first)/1000), clamped to MinRateHz,
// or ErrNotReady before ReadyThreshold samples have accumulated.
func (e *Estimator) RateHz() (float64, error) {
	if !e.Ready() {
		return 0, ErrNotReady
	}
	n := e.buf.Len()
	first := e.buf.At(0)
	last := e.buf.At(n - 1)
	spanS := float64(last-first) / 1000
	if spanS <= 0 {
		return MinRateHz, nil
	}
	rate := float64(n-1) / spanS
	if rate < MinRateHz {
		return MinRateHz, nil
	}
	return rate, nil
}

// DurationSeconds returns the span from the oldest to the newest recorded
// timestamp, or ErrNotReady before ReadyThreshold samples have accumulated.
func (e *Estimator) DurationSeconds() (float64, error) {
	if !e.Ready() {
		return 0, ErrNotReady
	}
	n := e.buf.Len()
	first := e.buf.At(0)
	last := e.buf.At(n - 1)
	return float64(last-first) / 1000, nil
}
