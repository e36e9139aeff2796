// Copyright 2025 The XRFusion Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package shm

import (
	"errors"
	"sync"
	"testing"
)

// memBackend is a fake Backend over an in-process byte buffer, standing in
// for a real mapped segment.
type memBackend struct {
	mu     sync.Mutex
	buf    [SegmentBytes]byte
	closed bool
}

func newMemBackend() *memBackend { return &memBackend{} }

func (m *memBackend) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, errors.New("memBackend: closed")
	}
	return copy(m.buf[off:], p), nil
}

func (m *memBackend) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, errors.New("memBackend: closed")
	}
	return copy(p, m.buf[off:int(off)+len(p)]), nil
}

func (m *memBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func TestConfigRoundTrip(t *testing.T) {
	backend := newMemBackend()
	p := NewPublisher(backend)
	want := Config{
		Enabled:             true,
		LookAheadCfg:        [4]float32{1, 2.5, -3, 0},
		DisplayResW:         1920,
		DisplayResH:         1080,
		FOV:                 46.5,
		LensDistanceRatio:   0.62,
		SBSEnabled:          true,
		CustomBannerEnabled: false,
	}
	if err := p.WriteConfig(want); err != nil {
		t.Fatalf("WriteConfig: %v", err)
	}
	got, err := p.ReadConfig()
	if err != nil {
		t.Fatalf("ReadConfig: %v", err)
	}
	want.Version = Version
	if got != want {
		t.Fatalf("ReadConfig() = %+v, want %+v", got, want)
	}
}

func TestReadConfigRejectsWrongVersion(t *testing.T) {
	backend := newMemBackend()
	p := NewPublisher(backend)
	if err := p.WriteConfig(Config{}); err != nil {
		t.Fatalf("WriteConfig: %v", err)
	}
	buf := make([]byte, 1)
	backend.ReadAt(buf, 0)
	buf[0] = Version + 1
	backend.WriteAt(buf, 0)

	if _, err := p.ReadConfig(); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("ReadConfig() err = %v, want ErrVersionMismatch", err)
	}
}

func TestIMURecordRoundTrip(t *testing.T) {
	backend := newMemBackend()
	p := NewPublisher(backend)
	rec := IMURecord{
		SmoothFollowEnabled: true,
		SmoothFollowOrigin:  [16]float32{0: 1, 1: 2, 2: 3},
		PosePosition:        [3]float32{0.1, 0.2, 0.3},
		IMUDateMS:           1234567890,
		PoseOrientation:     [16]float32{0: 0.1, 1: 0.2, 2: 0.3, 3: 0.9},
	}
	if err := p.WriteIMURecord(rec); err != nil {
		t.Fatalf("WriteIMURecord: %v", err)
	}
	got, err := p.ReadIMURecord()
	if err != nil {
		t.Fatalf("ReadIMURecord: %v", err)
	}
	if got != rec {
		t.Fatalf("ReadIMURecord() = %+v, want %+v", got, rec)
	}
}

// TestIMURecordParityDetectsTorn covers S6: tampering with one stored byte
// after a write must surface as a parity mismatch on the next read.
func TestIMURecordParityDetectsTorn(t *testing.T) {
	backend := newMemBackend()
	p := NewPublisher(backend)
	rec := ResetRecord()
	rec.IMUDateMS = 42
	if err := p.WriteIMURecord(rec); err != nil {
		t.Fatalf("WriteIMURecord: %v", err)
	}

	tornOffset := int64(ConfigBytes) + int64(IMURecordBytes) - 2
	var b [1]byte
	backend.ReadAt(b[:], tornOffset)
	b[0] ^= 0xFF
	backend.WriteAt(b[:], tornOffset)

	if _, err := p.ReadIMURecord(); !errors.Is(err, ErrParityMismatch) {
		t.Fatalf("ReadIMURecord() err = %v, want ErrParityMismatch", err)
	}
}

func TestResetRecordIsIdentity(t *testing.T) {
	rec := ResetRecord()
	if rec.PoseOrientation != IdentityOrientation {
		t.Fatalf("ResetRecord().PoseOrientation = %v, want IdentityOrientation", rec.PoseOrientation)
	}
	if rec.Parity() != rec.Parity() {
		t.Fatal("Parity() must be deterministic")
	}
}

func TestPublisherResetWritesIdentity(t *testing.T) {
	backend := newMemBackend()
	p := NewPublisher(backend)
	if err := p.WriteIMURecord(IMURecord{IMUDateMS: 99, PoseOrientation: [16]float32{1, 1, 1, 1}}); err != nil {
		t.Fatalf("WriteIMURecord: %v", err)
	}
	if err := p.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	got, err := p.ReadIMURecord()
	if err != nil {
		t.Fatalf("ReadIMURecord: %v", err)
	}
	if got.PoseOrientation != IdentityOrientation {
		t.Fatalf("after Reset, PoseOrientation = %v, want identity", got.PoseOrientation)
	}
}

func TestPublisherCloseIsIdempotent(t *testing.T) {
	p := NewPublisher(newMemBackend())
	if err := p.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
