// Copyright 2025 The XRFusion Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package rokid

import (
	"sync"
	"testing"
	"time"

	"xrfusion.io/x/xrfusion/conn/imupose"
	"xrfusion.io/x/xrfusion/conn/quat"
)

func TestProbe(t *testing.T) {
	if _, ok := Probe(vendorID, 0x162B, 1, 1); !ok {
		t.Fatal("expected a known product to probe successfully")
	}
	if _, ok := Probe(vendorID, 0x9999, 1, 1); ok {
		t.Fatal("expected an unknown product to fail probing")
	}
	if _, ok := Probe(0x1bbb, 0x162B, 1, 1); ok {
		t.Fatal("expected a foreign vendor to fail probing")
	}
}

func TestSplitProductName(t *testing.T) {
	cases := []struct {
		in, brand, model string
	}{
		{"Rokid Max (1.2.3)", "Rokid", "Max"},
		{"Rokid Station2 (4.5)", "Rokid", "Station2"},
		{"Solo", "Solo", ""},
	}
	for _, c := range cases {
		brand, model := splitProductName(c.in)
		if brand != c.brand || model != c.model {
			t.Errorf("splitProductName(%q) = (%q,%q), want (%q,%q)", c.in, brand, model, c.brand, c.model)
		}
	}
}

func TestApplyDisplayMode(t *testing.T) {
	props, _ := Probe(vendorID, 0x162B, 1, 1)
	a := New(props, nil)
	a.applyDisplayMode(displayMode2D3840x1080x60)
	if a.sbsEnabled || a.resolutionH != resolutionH1080p {
		t.Fatalf("2D mode should disable SBS and select 1080p, got sbs=%v h=%v", a.sbsEnabled, a.resolutionH)
	}
	a.applyDisplayMode(displayMode3D3840x1200x60)
	if !a.sbsEnabled || a.resolutionH != resolutionH1200p {
		t.Fatalf("3D 1200p mode should enable SBS and select 1200p, got sbs=%v h=%v", a.sbsEnabled, a.resolutionH)
	}
	a.applyDisplayMode(displayMode3D3840x1080x60)
	if !a.sbsEnabled || a.resolutionH != resolutionH1080p {
		t.Fatalf("3D 1080p mode should enable SBS and keep 1080p, got sbs=%v h=%v", a.sbsEnabled, a.resolutionH)
	}
}

type fakeTransport struct {
	mu          sync.Mutex
	events      []RotationEvent
	idx         int
	productName string
	firmware    string
	mode        int
}

func (f *fakeTransport) Open(vid, pid uint16) error { return nil }
func (f *fakeTransport) ProductName() (string, error) {
	return f.productName, nil
}
func (f *fakeTransport) FirmwareVersion() (string, error) {
	return f.firmware, nil
}
func (f *fakeTransport) DisplayMode() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode, nil
}
func (f *fakeTransport) SetDisplayMode(mode int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mode = mode
	return nil
}
func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) WaitEvent() (RotationEvent, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx >= len(f.events) {
		return RotationEvent{}, false, nil
	}
	e := f.events[f.idx]
	f.idx++
	return e, true, nil
}

func TestAdapterConnectReadsProductName(t *testing.T) {
	ft := &fakeTransport{productName: "Rokid Max (1.0)", firmware: "1.0"}
	props, _ := Probe(vendorID, 0x162B, 1, 1)
	a := New(props, func() (Transport, error) { return ft, nil })
	if err := a.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if a.brand != "Rokid" || a.model != "Max" {
		t.Fatalf("expected brand/model parsed from product name, got %q/%q", a.brand, a.model)
	}
	if !props.FirmwareUpdateRecommended {
		t.Fatal("expected an old firmware version to recommend an update")
	}
}

func TestAdapterBlockOnDeviceDispatch(t *testing.T) {
	ft := &fakeTransport{events: []RotationEvent{
		{Quat: quat.Identity, TimestampMS: 1},
	}}
	props, _ := Probe(vendorID, 0x162B, 1, 1)
	a := New(props, func() (Transport, error) { return ft, nil })
	if err := a.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	var mu sync.Mutex
	var poses []imupose.Pose
	done := make(chan struct{})
	go func() {
		a.BlockOnDevice(func(id string, p imupose.Pose) {
			mu.Lock()
			poses = append(poses, p)
			mu.Unlock()
		})
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(poses)
		mu.Unlock()
		if n >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for a pose")
		case <-time.After(time.Millisecond):
		}
	}
	<-done // WaitEvent returns ok=false once events are drained, ending BlockOnDevice

	mu.Lock()
	defer mu.Unlock()
	if quat.AngularDistance(poses[0].Orientation, adjustmentQuat) > 1e-6 {
		t.Fatalf("expected identity rotation to come out as the adjustment quaternion alone, got %+v", poses[0].Orientation)
	}
}
