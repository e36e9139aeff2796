// Copyright 2025 The XRFusion Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package shm implements the shared-memory IMU pose publisher the external
// renderer reads: a fixed-size named region holding a rarely-written
// config header and a per-sample IMU record, parity-checked so a reader
// racing a writer can detect and retry a torn read.
//
// The actual POSIX shared-memory segment (shm_open/mmap) lives behind the
// Backend interface and this package's segment_linux.go/segment_other.go
// split; everything in this file is pure byte layout and is exercised
// without any real mapped memory in tests.
package shm

import "sync"

// Version is the record layout version; readers must reject a segment
// whose stored version doesn't match.
const Version uint8 = 5

const (
	configLookAheadFields = 4
	orientationFields     = 16
	smoothFollowFields    = 16
	positionFields        = 3
)

// ConfigBytes and IMURecordBytes are the two regions' encoded sizes; the
// segment holds exactly one of each.
const (
	ConfigBytes    = 1 + 1 + configLookAheadFields*4 + 2*4 + 4 + 4 + 1 + 1
	IMURecordBytes = 1 + smoothFollowFields*4 + positionFields*4 + 8 + orientationFields*4 + 1
	SegmentBytes   = ConfigBytes + IMURecordBytes
)

// Config is the rarely-written (~4Hz) header describing the device and the
// driver's current display settings.
type Config struct {
	Version             uint8
	Enabled             bool
	LookAheadCfg        [configLookAheadFields]float32
	DisplayResW         uint32
	DisplayResH         uint32
	FOV                 float32
	LensDistanceRatio   float32
	SBSEnabled          bool
	CustomBannerEnabled bool
}

// IdentityOrientation is the 16-float orientation reset value: the
// identity quaternion [0,0,0,1] for each slot of the look-ahead triple,
// then four trailing zeros for the date block.
var IdentityOrientation = [orientationFields]float32{
	0, 0, 0, 1,
	0, 0, 0, 1,
	0, 0, 0, 1,
	0, 0, 0, 0,
}

// IMURecord is the per-sample record. PoseOrientation packs three
// quaternions (the two-stage look-ahead triple: current, stage-1-evicted,
// stage-2-evicted) followed by the once-a-second {year, month, day,
// seconds-of-day} date block.
type IMURecord struct {
	SmoothFollowEnabled bool
	SmoothFollowOrigin  [smoothFollowFields]float32
	PosePosition        [positionFields]float32
	IMUDateMS           uint64
	PoseOrientation     [orientationFields]float32
}

// Parity computes the XOR-of-all-bytes checksum over the IMUDateMS and
// PoseOrientation fields only.
func (r IMURecord) Parity() uint8 {
	var p uint8
	var dateBuf [8]byte
	putUint64(dateBuf[:], r.IMUDateMS)
	for _, b := range dateBuf {
		p ^= b
	}
	for _, f := range r.PoseOrientation {
		var fb [4]byte
		putFloat32(fb[:], f)
		for _, b := range fb {
			p ^= b
		}
	}
	return p
}

// ResetRecord returns the identity-quat IMU record Reset writes:
// orientation is IdentityOrientation, position is zero.
func ResetRecord() IMURecord {
	return IMURecord{PoseOrientation: IdentityOrientation}
}

// imuSegmentSuffix names the IMU region; readers look it up by this name,
// optionally under a per-session prefix.
const imuSegmentSuffix = "breezy_desktop_imu"

// IMUSegmentName returns the shared-memory object name for the IMU region,
// with an optional prefix distinguishing concurrent driver instances.
func IMUSegmentName(prefix string) string {
	return prefix + imuSegmentSuffix
}

// Backend is the narrow byte-addressable region this package needs:
// WriteAt/ReadAt into a fixed SegmentBytes-sized buffer, plus Close.
// Production code backs this with a POSIX shared-memory mapping
// (segment_linux.go; segment_other.go is a stub that fails on other
// platforms); tests use an in-process byte slice (shm_test.go's fake).
type Backend interface {
	WriteAt(p []byte, off int64) (int, error)
	ReadAt(p []byte, off int64) (int, error)
	Close() error
}

// Publisher serializes reads and writes to a Backend under its own mutex.
type Publisher struct {
	mu      sync.Mutex
	backend Backend
	closed  bool
}

// NewPublisher wraps backend. The segment is assumed zero-initialized on
// first creation.
func NewPublisher(backend Backend) *Publisher {
	return &Publisher{backend: backend}
}

// WriteConfig encodes and writes cfg at offset 0. cfg.Version is forced to
// Version regardless of the caller's value.
func (p *Publisher) WriteConfig(cfg Config) error {
	cfg.Version = Version
	buf := make([]byte, ConfigBytes)
	encodeConfig(buf, cfg)
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.backend.WriteAt(buf, 0)
	return err
}

// WriteIMURecord encodes rec (stamping its parity) and writes it at the
// IMU-record offset.
func (p *Publisher) WriteIMURecord(rec IMURecord) error {
	buf := make([]byte, IMURecordBytes)
	encodeIMURecord(buf, rec)
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.backend.WriteAt(buf, int64(ConfigBytes))
	return err
}

// Reset writes the identity-quat IMU record.
func (p *Publisher) Reset() error {
	return p.WriteIMURecord(ResetRecord())
}

// Close releases the backend.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.backend.Close()
}

// ErrParityMismatch is returned by ReadIMURecord when the stored parity
// byte doesn't match a fresh computation over the bytes just read, meaning
// a writer raced the read; callers should retry.
var ErrParityMismatch = parityMismatchError{}

type parityMismatchError struct{}

func (parityMismatchError) Error() string { return "shm: parity mismatch, retry read" }

// ErrVersionMismatch is returned by ReadConfig when the stored version
// doesn't match Version.
var ErrVersionMismatch = versionMismatchError{}

type versionMismatchError struct{}

func (versionMismatchError) Error() string { return "shm: version mismatch" }

// ReadConfig reads and decodes the config header, rejecting a mismatched
// version.
func (p *Publisher) ReadConfig() (Config, error) {
	buf := make([]byte, ConfigBytes)
	p.mu.Lock()
	_, err := p.backend.ReadAt(buf, 0)
	p.mu.Unlock()
	if err != nil {
		return Config{}, err
	}
	cfg := decodeConfig(buf)
	if cfg.Version != Version {
		return cfg, ErrVersionMismatch
	}
	return cfg, nil
}

// ReadIMURecord reads and decodes the IMU record, verifying its parity
// byte against a fresh computation; on mismatch it returns
// ErrParityMismatch and callers should retry.
func (p *Publisher) ReadIMURecord() (IMURecord, error) {
	buf := make([]byte, IMURecordBytes)
	p.mu.Lock()
	_, err := p.backend.ReadAt(buf, int64(ConfigBytes))
	p.mu.Unlock()
	if err != nil {
		return IMURecord{}, err
	}
	rec, storedParity := decodeIMURecord(buf)
	if rec.Parity() != storedParity {
		return rec, ErrParityMismatch
	}
	return rec, nil
}
