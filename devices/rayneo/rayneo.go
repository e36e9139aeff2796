// Copyright 2025 The XRFusion Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package rayneo implements the RayNeo-class device adapter. RayNeo's SDK
// drives IMU ticks far faster (around 500Hz) than this pipeline needs, and
// already does its own sensor fusion -- each tick is a cue to fetch the
// SDK's fused head-tracker pose, not a raw sample to fuse here. The
// adapter forces this down to 250Hz by discarding ticks that land inside
// the forced cycle window.
package rayneo

import (
	"fmt"
	"sync"

	"xrfusion.io/x/xrfusion/conn/imupose"
	"xrfusion.io/x/xrfusion/conn/quat"
	"xrfusion.io/x/xrfusion/devices/xrdriver"
)

const (
	vendorID  = 0x1bbb
	productID = 0xaf50

	forcedCyclesPerS     = 250
	cycleTimeErrorFactor = 0.95
	forcedCycleTimeMS    = 1000.0 / forcedCyclesPerS * cycleTimeErrorFactor
	bufferSizeTargetMS   = 10
)

// adjustmentQuat corrects RayNeo's reported frame to NWU, folding in the
// factory mounting offset.
var adjustmentQuat = quat.Quat{W: 0.561, X: -0.430, Y: 0.430, Z: 0.561}

// Probe implements xrdriver.Probe for the single RayNeo model this adapter
// supports (Air 2).
func Probe(vid, pid uint16, bus, addr uint8) (*imupose.DeviceProperties, bool) {
	if vid != vendorID || pid != productID {
		return nil, false
	}
	return &imupose.DeviceProperties{
		Brand:                  "RayNeo",
		Model:                  "Air 2",
		VendorID:               vid,
		ProductID:              pid,
		USBBus:                 bus,
		USBAddr:                addr,
		ResolutionW:            1920,
		ResolutionH:            1080,
		FOVDegrees:             46,
		LensDistanceRatio:      0.025,
		CalibrationWaitSeconds: 5,
		ExpectedIMURateHz:      forcedCyclesPerS,
		IMUBufferSize:          intCeil(bufferSizeTargetMS / forcedCycleTimeMS),
		LookAhead: imupose.LookAhead{
			Constant:            10,
			FrametimeMultiplier: 0.3,
			ScanlineAdjust:      8,
			MSCap:               40,
		},
		SBSModeSupported:    true,
		CanBeSupplemental:   true,
		ProvidesOrientation: true,
	}, true
}

func intCeil(v float64) int {
	n := int(v)
	if float64(n) < v {
		n++
	}
	return n
}

// HeadTrackerPose is the SDK's already-fused orientation, fetched once per
// accepted tick.
type HeadTrackerPose struct {
	Rotation    quat.Quat // SDK-frame (x,y,z,w order reassembled by the transport)
	TimestampNS uint64
}

// Transport is the narrow SDK surface this adapter needs: connection
// lifecycle and the blocking tick/pose pair. The SDK's separate MCU state
// callback only logs and is not part of this adapter's contract.
type Transport interface {
	EstablishConnection() error
	StartXR() error
	OpenIMU() error
	CloseIMU() error
	StopXR() error
	ResetConnection() error
	// NextTick blocks for the SDK's next (much faster than 250Hz) IMU
	// callback and returns the fused pose available at that instant.
	NextTick() (HeadTrackerPose, error)
	SwitchTo3D() error
	SwitchTo2D() error
}

// Adapter is the xrdriver.Driver implementation for RayNeo-class glasses.
type Adapter struct {
	open func() (Transport, error)

	mu               sync.Mutex
	transport        Transport
	connected        bool
	sbsEnabled       bool
	lastUtilizedTSMS uint32
	haveLast         bool
}

// New returns an Adapter, opening its transport via open on Connect.
func New(open func() (Transport, error)) *Adapter {
	return &Adapter{open: open}
}

var _ xrdriver.Driver = (*Adapter)(nil)

func (a *Adapter) Connect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connected {
		return nil
	}
	t, err := a.open()
	if err != nil {
		return fmt.Errorf("%w: %v", xrdriver.ErrTransport, err)
	}
	if err := t.EstablishConnection(); err != nil {
		return fmt.Errorf("%w: %v", xrdriver.ErrTransport, err)
	}
	if err := t.StartXR(); err != nil {
		return fmt.Errorf("%w: start xr: %v", xrdriver.ErrTransport, err)
	}
	if err := t.OpenIMU(); err != nil {
		return fmt.Errorf("%w: open imu: %v", xrdriver.ErrTransport, err)
	}
	a.transport = t
	a.connected = true
	a.haveLast = false
	return nil
}

func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// Disconnect tears the connection all the way down regardless of soft;
// RayNeo's SDK (unlike VITURE's) tolerates a full teardown while the
// device is still plugged in.
func (a *Adapter) Disconnect(soft bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return
	}
	if a.transport != nil {
		a.transport.CloseIMU()
		a.transport.StopXR()
		a.transport.ResetConnection()
	}
	a.connected = false
}

// BlockOnDevice pulls ticks until disconnected, discarding any that land
// inside the forced 250Hz cycle window.
func (a *Adapter) BlockOnDevice(handler xrdriver.PoseHandler) error {
	driverID := a.DriverID()
	for {
		a.mu.Lock()
		t, connected := a.transport, a.connected
		a.mu.Unlock()
		if !connected || t == nil {
			return xrdriver.ErrDeviceGone
		}

		pose, err := t.NextTick()
		if err != nil {
			return xrdriver.ErrDeviceGone
		}
		tsMS := uint32(pose.TimestampNS / 1000000)

		a.mu.Lock()
		elapsed := tsMS
		if a.haveLast {
			elapsed = tsMS - a.lastUtilizedTSMS
		}
		accept := !a.haveLast || float64(elapsed) > forcedCycleTimeMS
		if accept {
			a.lastUtilizedTSMS = tsMS
			a.haveLast = true
		}
		a.mu.Unlock()
		if !accept {
			continue
		}

		q := quat.Multiply(pose.Rotation, adjustmentQuat)
		handler(driverID, imupose.Pose{
			Orientation:    q,
			HasOrientation: true,
			TimestampMS:    tsMS,
		})
	}
}

func (a *Adapter) DriverID() string {
	return fmt.Sprintf("rayneo-%04x:%04x", vendorID, productID)
}

func (a *Adapter) IsSBSModeSupported() bool { return true }

func (a *Adapter) IsSBSMode() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sbsEnabled
}

func (a *Adapter) SetSBSMode(enabled bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.transport == nil {
		return false
	}
	var err error
	if enabled {
		err = a.transport.SwitchTo3D()
	} else {
		err = a.transport.SwitchTo2D()
	}
	if err != nil {
		return false
	}
	a.sbsEnabled = enabled
	return true
}
