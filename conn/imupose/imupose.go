// Copyright 2025 The XRFusion Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package imupose defines the data types shared across this repository's
// device adapters, connection pool and output pipeline: the pose sample
// adapters emit and the per-device calibration properties the hotplug
// supervisor hands to the pool.
//
// It is a small, dependency-free vocabulary package that every other
// package imports.
package imupose

import "xrfusion.io/x/xrfusion/conn/quat"

// Vec3 is a position or velocity in meters (or meters/second).
type Vec3 struct {
	X, Y, Z float64
}

// Pose is a single IMU sample: an orientation, an optional position, and
// the driver-relative monotonic millisecond timestamp it was captured at.
type Pose struct {
	Orientation    quat.Quat
	Position       Vec3
	HasOrientation bool
	HasPosition    bool
	TimestampMS    uint32
}

// LookAhead holds the per-device predictive-offset calibration constants
// consumed (never computed) by the output pipeline to compensate for
// display latency.
type LookAhead struct {
	Constant            float64 // ms
	FrametimeMultiplier float64
	ScanlineAdjust      float64 // ms
	MSCap               float64 // ms
}

// DeviceProperties describes a single connected headset: its USB identity,
// display characteristics and the feature flags that drive the pool's
// election and the output pipeline's behavior.
//
// DeviceProperties is shared (conceptually refcounted) the way
// devices/devicereg.Handle manages it; the struct itself carries no
// lifecycle state, that lives in devicereg.
type DeviceProperties struct {
	Brand string
	Model string

	VendorID  uint16
	ProductID uint16
	USBBus    uint8
	USBAddr   uint8

	ResolutionW, ResolutionH uint32
	FOVDegrees               float64
	LensDistanceRatio        float64

	CalibrationWaitSeconds float64
	ExpectedIMURateHz      float64
	IMUBufferSize          int

	LookAhead LookAhead

	SBSModeSupported          bool
	CanBeSupplemental         bool
	ProvidesOrientation       bool
	ProvidesPosition          bool
	FirmwareUpdateRecommended bool
}

// ImuCyclesPerSecond returns the configured IMU rate, or 1 if unset, so
// callers dividing by it never divide by zero.
func (d DeviceProperties) ImuCyclesPerSecond() float64 {
	if d.ExpectedIMURateHz <= 0 {
		return 1
	}
	return d.ExpectedIMURateHz
}
