// Copyright 2025 The XRFusion Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package viture

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"xrfusion.io/x/xrfusion/conn/imupose"
	"xrfusion.io/x/xrfusion/conn/quat"
)

func TestProbe(t *testing.T) {
	cases := []struct {
		pid      uint16
		wantOK   bool
		wantFOV  float64
		wantName string
	}{
		{0x1011, true, 39.5, "One"},
		{0x1015, true, 39.5, "One Lite"},
		{0x1019, true, 43.0, "Pro"},
		{0xffff, false, 0, ""},
	}
	for _, c := range cases {
		props, ok := Probe(vendorID, c.pid, 1, 1)
		if ok != c.wantOK {
			t.Fatalf("Probe(pid=%04x) ok=%v want %v", c.pid, ok, c.wantOK)
		}
		if !ok {
			continue
		}
		if props.FOVDegrees != c.wantFOV || props.Model != c.wantName {
			t.Errorf("Probe(pid=%04x) = {%v,%v}, want {%v,%v}", c.pid, props.FOVDegrees, props.Model, c.wantFOV, c.wantName)
		}
	}
	if _, ok := Probe(0x1bbb, 0x1011, 1, 1); ok {
		t.Fatal("Probe matched on wrong vendor")
	}
}

func TestZXYEulerToQuaternionIdentity(t *testing.T) {
	q := zxyEulerToQuaternion(0, 0, 0)
	if math.Abs(q.W-1) > 1e-9 || math.Abs(q.X) > 1e-9 || math.Abs(q.Y) > 1e-9 || math.Abs(q.Z) > 1e-9 {
		t.Fatalf("expected identity quaternion, got %+v", q)
	}
}

func beBytes(v float32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, math.Float32bits(v))
	return b
}

func TestDecodeEventFusedQuaternion(t *testing.T) {
	data := make([]byte, 36)
	copy(data[20:24], beBytes(1))
	copy(data[24:28], beBytes(0))
	copy(data[28:32], beBytes(0))
	copy(data[32:36], beBytes(0))
	q, ok := decodeEvent(data, false)
	if !ok {
		t.Fatal("expected decode to succeed")
	}
	if math.Abs(q.W-1) > 1e-6 {
		t.Fatalf("expected identity-ish quaternion, got %+v", q)
	}
}

func TestDecodeEventEulerFallback(t *testing.T) {
	data := make([]byte, 12)
	copy(data[0:4], beBytes(0))
	copy(data[4:8], beBytes(0))
	copy(data[8:12], beBytes(0))
	q, ok := decodeEvent(data, true)
	if !ok {
		t.Fatal("expected decode to succeed")
	}
	if math.Abs(q.W-1) > 1e-9 {
		t.Fatalf("expected identity quaternion from zero euler, got %+v", q)
	}
}

func TestDecodeEventTooShort(t *testing.T) {
	if _, ok := decodeEvent([]byte{1, 2, 3}, true); ok {
		t.Fatal("expected decode to fail on a too-short payload")
	}
}

type fakeTransport struct {
	mu       sync.Mutex
	events   [][]byte
	idx      int
	freqEnum int
	sbs      bool
	initErr  error
}

func (f *fakeTransport) Init() error                   { return f.initErr }
func (f *fakeTransport) Deinit() error                 { return nil }
func (f *fakeTransport) SetIMUEnabled(bool) error      { return nil }
func (f *fakeTransport) SetIMUFrequency() (int, error) { return f.freqEnum, nil }
func (f *fakeTransport) Set3D(enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sbs = enabled
	return nil
}
func (f *fakeTransport) Get3DState() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sbs, nil
}

type timeoutErr struct{}

func (timeoutErr) Error() string { return "timeout" }
func (timeoutErr) Timeout() bool { return true }

func (f *fakeTransport) ReadEvent() ([]byte, uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx >= len(f.events) {
		return nil, 0, timeoutErr{}
	}
	e := f.events[f.idx]
	f.idx++
	return e, uint32(f.idx), nil
}

func TestAdapterConnectNegotiatesFirmware(t *testing.T) {
	ft := &fakeTransport{freqEnum: 3} // 240Hz -> current firmware
	a := New(func() (Transport, error) { return ft, nil })
	if err := a.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if a.oldFirmware {
		t.Fatal("expected current-firmware detection at 240Hz")
	}
	if !a.IsSBSModeSupported() {
		t.Fatal("expected SBS support on current firmware")
	}

	ft2 := &fakeTransport{freqEnum: 0} // 60Hz -> old firmware
	b := New(func() (Transport, error) { return ft2, nil })
	if err := b.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !b.oldFirmware || b.IsSBSModeSupported() {
		t.Fatal("expected old-firmware detection and no SBS support at 60Hz")
	}
}

func TestAdapterConnectOpenError(t *testing.T) {
	wantErr := errors.New("claim failed")
	a := New(func() (Transport, error) { return nil, wantErr })
	if err := a.Connect(); err == nil {
		t.Fatal("expected Connect to fail")
	}
}

func TestAdapterBlockOnDeviceDispatch(t *testing.T) {
	euler := make([]byte, 12)
	copy(euler[0:4], beBytes(0))
	copy(euler[4:8], beBytes(0))
	copy(euler[8:12], beBytes(0))

	ft := &fakeTransport{freqEnum: 0, events: [][]byte{euler}}
	a := New(func() (Transport, error) { return ft, nil })
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
	a.Disconnect(true)
	<-done

	mu.Lock()
	defer mu.Unlock()
	if !poses[0].HasOrientation {
		t.Fatal("expected orientation on emitted pose")
	}
	if quat.AngularDistance(poses[0].Orientation, adjustmentQuat) > 1e-3 {
		t.Fatalf("expected pose close to the adjustment quaternion alone for a zero euler sample, got %+v", poses[0].Orientation)
	}
}
