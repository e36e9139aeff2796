// Copyright 2025 The XRFusion Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package shm

import "math"

// Field-by-field little-endian byte encoding. No struct packing or
// unsafe reinterpretation is relied upon anywhere in this package.

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}

func getUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * uint(i))
	}
	return v
}

func putFloat32(b []byte, f float32) {
	putUint32(b, math.Float32bits(f))
}

func getFloat32(b []byte) float32 {
	return math.Float32frombits(getUint32(b))
}

func putBool(b []byte, v bool) {
	if v {
		b[0] = 1
	} else {
		b[0] = 0
	}
}

func getBool(b []byte) bool {
	return b[0] != 0
}

func encodeConfig(buf []byte, cfg Config) {
	off := 0
	buf[off] = cfg.Version
	off++
	putBool(buf[off:], cfg.Enabled)
	off++
	for _, f := range cfg.LookAheadCfg {
		putFloat32(buf[off:], f)
		off += 4
	}
	putUint32(buf[off:], cfg.DisplayResW)
	off += 4
	putUint32(buf[off:], cfg.DisplayResH)
	off += 4
	putFloat32(buf[off:], cfg.FOV)
	off += 4
	putFloat32(buf[off:], cfg.LensDistanceRatio)
	off += 4
	putBool(buf[off:], cfg.SBSEnabled)
	off++
	putBool(buf[off:], cfg.CustomBannerEnabled)
	off++
}

func decodeConfig(buf []byte) Config {
	var cfg Config
	off := 0
	cfg.Version = buf[off]
	off++
	cfg.Enabled = getBool(buf[off:])
	off++
	for i := range cfg.LookAheadCfg {
		cfg.LookAheadCfg[i] = getFloat32(buf[off:])
		off += 4
	}
	cfg.DisplayResW = getUint32(buf[off:])
	off += 4
	cfg.DisplayResH = getUint32(buf[off:])
	off += 4
	cfg.FOV = getFloat32(buf[off:])
	off += 4
	cfg.LensDistanceRatio = getFloat32(buf[off:])
	off += 4
	cfg.SBSEnabled = getBool(buf[off:])
	off++
	cfg.CustomBannerEnabled = getBool(buf[off:])
	off++
	return cfg
}

func encodeIMURecord(buf []byte, rec IMURecord) {
	off := 0
	putBool(buf[off:], rec.SmoothFollowEnabled)
	off++
	for _, f := range rec.SmoothFollowOrigin {
		putFloat32(buf[off:], f)
		off += 4
	}
	for _, f := range rec.PosePosition {
		putFloat32(buf[off:], f)
		off += 4
	}
	putUint64(buf[off:], rec.IMUDateMS)
	off += 8
	for _, f := range rec.PoseOrientation {
		putFloat32(buf[off:], f)
		off += 4
	}
	buf[off] = rec.Parity()
}

func decodeIMURecord(buf []byte) (IMURecord, uint8) {
	var rec IMURecord
	off := 0
	rec.SmoothFollowEnabled = getBool(buf[off:])
	off++
	for i := range rec.SmoothFollowOrigin {
		rec.SmoothFollowOrigin[i] = getFloat32(buf[off:])
		off += 4
	}
	for i := range rec.PosePosition {
		rec.PosePosition[i] = getFloat32(buf[off:])
		off += 4
	}
	rec.IMUDateMS = getUint64(buf[off:])
	off += 8
	for i := range rec.PoseOrientation {
		rec.PoseOrientation[i] = getFloat32(buf[off:])
		off += 4
	}
	return rec, buf[off]
}
