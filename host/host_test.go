// Copyright 2025 The XRFusion Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package host

import "testing"

func TestInit(t *testing.T) {
	state, err := Init()
	if err != nil {
		t.Fatal(err)
	}
	// Without a USB transport or vendor SDKs linked into the test binary,
	// every adapter reports itself skipped rather than failed.
	if len(state.Failed) != 0 {
		t.Fatalf("unexpected failed drivers: %v", state.Failed)
	}
	state2, err := Init()
	if err != nil || state2 != state {
		t.Fatal("Init() must be idempotent")
	}
}
