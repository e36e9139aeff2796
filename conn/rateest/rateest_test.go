// Copyright 2025 The XRFusion Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package rateest

import "testing"

func TestNotReadyBeforeThreshold(t *testing.T) {
	e := New(200)
	for i := 0; i < ReadyThreshold-1; i++ {
		e.Add(uint32(i * 10))
	}
	if e.Ready() {
		t.Fatal("expected not ready")
	}
	if _, err := e.RateHz(); err != ErrNotReady {
		t.Fatalf("err = %v, want ErrNotReady", err)
	}
}

func TestRateHz(t *testing.T) {
	e := New(200)
	// 100 samples, 10ms apart -> 100Hz.
	for i := 0; i < ReadyThreshold; i++ {
		e.Add(uint32(i * 10))
	}
	if !e.Ready() {
		t.Fatal("expected ready")
	}
	rate, err := e.RateHz()
	if err != nil {
		t.Fatal(err)
	}
	if rate < 99 || rate > 101 {
		t.Fatalf("rate=%v, want ~100", rate)
	}
}

func TestRateHzClampsToMin(t *testing.T) {
	e := New(200)
	for i := 0; i < ReadyThreshold; i++ {
		e.Add(0) // no elapsed time at all
	}
	rate, err := e.RateHz()
	if err != nil {
		t.Fatal(err)
	}
	if rate != MinRateHz {
		t.Fatalf("rate=%v, want MinRateHz", rate)
	}
}

func TestResetForgetsSamples(t *testing.T) {
	e := New(200)
	for i := 0; i < ReadyThreshold; i++ {
		e.Add(uint32(i))
	}
	e.Reset()
	if e.Ready() {
		t.Fatal("expected not ready after reset")
	}
}
