// Copyright 2025 The XRFusion Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package xrdriver defines the capability interface every per-vendor device
// adapter implements.
//
// The connection pool stores a Driver plus a stable driverID string key,
// and adapters report samples through a plain callback function rather than
// a back-reference to the pool, which is how cyclic references between
// pool, worker goroutines and adapter callbacks are broken.
package xrdriver

import (
	"errors"

	"xrfusion.io/x/xrfusion/conn/imupose"
)

// Sentinel errors for the two failure classes adapters surface. Adapters
// never panic.
var (
	// ErrTransport is returned by Connect on a USB claim/open failure.
	ErrTransport = errors.New("xrdriver: transport open/claim failed")
	// ErrDeviceGone is returned by BlockOnDevice when the device was
	// unplugged mid-read, hit an unrecoverable read error, or was
	// disconnected; IsConnected() reports false once that happens.
	ErrDeviceGone = errors.New("xrdriver: device disconnected")
)

// PoseHandler is the callback every adapter invokes once per normalized
// sample. The pool's IngestPose is wired here as a plain function value.
type PoseHandler func(driverID string, pose imupose.Pose)

// Probe is the pure capability an adapter package exposes at the package
// level (not through a Driver instance) so the hotplug supervisor can ask
// "do you own this USB identity" before constructing anything.
//
// Implementations must not hold any USB claim by the time they return.
type Probe func(vendorID, productID uint16, bus, address uint8) (*imupose.DeviceProperties, bool)

// Driver is the capability set every per-vendor adapter implements.
type Driver interface {
	// DriverID returns the stable key the pool, hotplug supervisor and
	// output pipeline use to refer to this connection. It must not change
	// for the lifetime of the Driver value.
	DriverID() string

	// Connect opens the transport, claims the interface, enables the IMU
	// and performs any required handshake write. It is idempotent: calling
	// it while already connected succeeds without reopening anything.
	Connect() error

	// BlockOnDevice blocks, invoking handler for every new sample in the
	// common NWU frame, until the device disconnects or hits an
	// unrecoverable error. It returns promptly (within one read-timeout
	// quantum) once Disconnect(soft=true) is called from another
	// goroutine.
	BlockOnDevice(handler PoseHandler) error

	// IsConnected reflects the adapter's internal liveness, independent of
	// whether BlockOnDevice's goroutine is currently running.
	IsConnected() bool

	// Disconnect releases the device. soft means the device is still
	// physically present (e.g. pool-driven role change); hard means it was
	// physically unplugged.
	Disconnect(soft bool)

	// IsSBSModeSupported reports whether this device exposes a
	// single/side-by-side display mode toggle at all.
	IsSBSModeSupported() bool
	// IsSBSMode queries the device's current display mode. Devices that
	// don't support SBS always return false.
	IsSBSMode() bool
	// SetSBSMode requests a display-mode change, returning whether the
	// request succeeded. Devices that don't support SBS always return
	// false.
	SetSBSMode(enabled bool) bool
}
