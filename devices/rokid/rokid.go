// Copyright 2025 The XRFusion Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package rokid implements the Rokid-class device adapter. Rokid's SDK
// reports the product's brand and model strings only after a connection is
// established (split out of a single "Brand Model (version)" string), and
// the display-mode state must be polled from inside the event loop since
// the SDK offers no push notification for it.
package rokid

import (
	"fmt"
	"strings"
	"sync"

	"xrfusion.io/x/xrfusion/conn/imupose"
	"xrfusion.io/x/xrfusion/conn/quat"
	"xrfusion.io/x/xrfusion/devices/xrdriver"
)

// vendorID is the value the vendor SDK header ships -- an unusually low
// USB vendor ID, but it is what the hardware reports.
const vendorID = 1234

var supportedProducts = map[uint16]bool{
	0x162B: true, 0x162C: true, 0x162D: true, 0x162E: true,
	0x162F: true, 0x2002: true, 0x2180: true,
}

// Display mode indices. The SDK reports/accepts display mode as one of
// these small integers rather than a resolution struct.
const (
	displayMode2D3840x1080x60 = 0
	displayMode3D3840x1080x60 = 1
	displayMode3D3840x1200x90 = 4
	displayMode3D3840x1200x60 = 5
)

const (
	resolutionH1080p = 1080
	resolutionH1200p = 1200
)

// knownGoodFirmware is the firmware version string known not to need the
// update nudge; anything else sets FirmwareUpdateRecommended.
const knownGoodFirmware = "2.1.9"

// adjustmentQuat converts Rokid's east-up-south reported frame to NWU and
// applies a 5-degree factory calibration offset.
var adjustmentQuat = quat.Quat{W: 0.521, X: -0.478, Y: 0.478, Z: 0.521}

// Probe implements xrdriver.Probe for the Rokid family. Unlike the other
// adapters, Rokid's brand/model strings aren't known until the SDK is
// opened (Connect fills them in from the device's reported product name),
// so Probe returns a generic placeholder.
func Probe(vid, pid uint16, bus, addr uint8) (*imupose.DeviceProperties, bool) {
	if vid != vendorID || !supportedProducts[pid] {
		return nil, false
	}
	return &imupose.DeviceProperties{
		Brand:                  "Rokid",
		Model:                  "",
		VendorID:               vid,
		ProductID:              pid,
		USBBus:                 bus,
		USBAddr:                addr,
		ResolutionW:            1920,
		ResolutionH:            resolutionH1080p,
		FOVDegrees:             45,
		LensDistanceRatio:      0.02,
		CalibrationWaitSeconds: 1,
		ExpectedIMURateHz:      90,
		IMUBufferSize:          1,
		LookAhead: imupose.LookAhead{
			Constant:            20,
			FrametimeMultiplier: 0.6,
			ScanlineAdjust:      8,
			MSCap:               40,
		},
		SBSModeSupported:    true,
		CanBeSupplemental:   true,
		ProvidesOrientation: true,
	}, true
}

// splitProductName splits an SDK-reported "Brand Model (fw)" string into
// brand and model: split on the first space, then trim a trailing "(...)"
// version suffix from the model.
func splitProductName(name string) (brand, model string) {
	i := strings.IndexByte(name, ' ')
	if i < 0 {
		return name, ""
	}
	brand = name[:i]
	model = strings.TrimSpace(name[i+1:])
	if j := strings.IndexByte(model, '('); j >= 0 {
		model = strings.TrimSpace(model[:j])
	}
	return brand, model
}

// RotationEvent is one IMU sample: a raw SDK-frame quaternion and the
// sensor-relative timestamp. Whether the SDK delivered it before its read
// timeout elapsed is reported separately, by WaitEvent's ok result.
type RotationEvent struct {
	Quat        quat.Quat
	TimestampMS uint32
}

// Transport is the narrow SDK surface this adapter needs: event/control
// channel lifecycle, product identification, display mode and the blocking
// rotation event read.
type Transport interface {
	Open(vendorID, productID uint16) error
	ProductName() (string, error)
	// FirmwareVersion returns the glass's reported firmware version
	// string.
	FirmwareVersion() (string, error)
	DisplayMode() (int, error)
	SetDisplayMode(mode int) error
	// WaitEvent blocks up to ~1s for the next rotation sample. ok is false
	// once the timeout elapses with no sample, which BlockOnDevice treats
	// as the device having gone away.
	WaitEvent() (ev RotationEvent, ok bool, err error)
	Close() error
}

// Adapter is the xrdriver.Driver implementation for Rokid-class glasses.
type Adapter struct {
	props *imupose.DeviceProperties
	open  func() (Transport, error)

	mu           sync.Mutex
	transport    Transport
	connected    bool
	brand, model string
	sbsEnabled   bool
	resolutionH  uint32
}

// New returns an Adapter for a probed Rokid device, opening its transport
// via open on Connect. props is the value Probe returned; Connect refines
// its Brand, Model and FirmwareUpdateRecommended fields once the SDK
// reports them. The display-mode resolution is tracked on the Adapter;
// props.ResolutionH is not updated.
func New(props *imupose.DeviceProperties, open func() (Transport, error)) *Adapter {
	return &Adapter{props: props, open: open, resolutionH: resolutionH1080p}
}

var _ xrdriver.Driver = (*Adapter)(nil)

// Connect opens the event and control channels and reads back the
// product's brand/model, firmware version, and current display mode.
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
	if err := t.Open(a.props.VendorID, a.props.ProductID); err != nil {
		return fmt.Errorf("%w: %v", xrdriver.ErrTransport, err)
	}
	if name, err := t.ProductName(); err == nil {
		a.brand, a.model = splitProductName(name)
		a.props.Brand, a.props.Model = a.brand, a.model
	}
	if fw, err := t.FirmwareVersion(); err == nil {
		a.props.FirmwareUpdateRecommended = fw != knownGoodFirmware
	}
	if mode, err := t.DisplayMode(); err == nil {
		a.applyDisplayMode(mode)
	}
	a.transport = t
	a.connected = true
	return nil
}

func (a *Adapter) applyDisplayMode(mode int) {
	a.sbsEnabled = mode != displayMode2D3840x1080x60
	if !a.sbsEnabled {
		return
	}
	if mode != displayMode3D3840x1080x60 {
		a.resolutionH = resolutionH1200p
	} else {
		a.resolutionH = resolutionH1080p
	}
}

func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// Disconnect releases the adapter. soft means the hardware is still
// present (a pool-driven role change); hard means it was physically
// unplugged. Rokid's SDK tolerates a full teardown in both cases, so the
// two paths are identical here.
func (a *Adapter) Disconnect(soft bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return
	}
	if a.transport != nil {
		a.transport.Close()
		a.transport = nil
	}
	a.connected = false
}

// BlockOnDevice reads rotation events until disconnected, re-reading the
// display mode once per expected-rate second of samples. The poll happens
// in the same goroutine as the event read because the vendor SDK's two USB
// paths aren't safe to call concurrently.
func (a *Adapter) BlockOnDevice(handler xrdriver.PoseHandler) error {
	driverID := a.DriverID()
	cyclesPerS := 90
	counter := 0
	for {
		a.mu.Lock()
		t, connected := a.transport, a.connected
		a.mu.Unlock()
		if !connected || t == nil {
			return xrdriver.ErrDeviceGone
		}

		ev, ok, err := t.WaitEvent()
		if err != nil {
			return xrdriver.ErrDeviceGone
		}
		if !ok {
			a.Disconnect(false)
			continue
		}

		q := quat.Multiply(ev.Quat, adjustmentQuat)

		counter++
		if counter%cyclesPerS == 0 {
			counter = 0
			a.mu.Lock()
			if mode, err := t.DisplayMode(); err == nil {
				a.applyDisplayMode(mode)
			}
			a.mu.Unlock()
		}

		handler(driverID, imupose.Pose{
			Orientation:    q,
			HasOrientation: true,
			TimestampMS:    ev.TimestampMS,
		})
	}
}

// DriverID returns the stable key derived from the device's USB identity.
func (a *Adapter) DriverID() string {
	return fmt.Sprintf("rokid-%04x:%04x", a.props.VendorID, a.props.ProductID)
}

func (a *Adapter) IsSBSModeSupported() bool { return true }

func (a *Adapter) IsSBSMode() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sbsEnabled
}

// SetSBSMode requests a display-mode change. Enabling always requests the
// 1200p 3D mode; 3D offers both 1080p and 1200p and there is no reason to
// pick the lower one.
func (a *Adapter) SetSBSMode(enabled bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.transport == nil {
		return false
	}
	mode := displayMode2D3840x1080x60
	if enabled {
		mode = displayMode3D3840x1200x60
	}
	if err := a.transport.SetDisplayMode(mode); err != nil {
		return false
	}
	a.applyDisplayMode(mode)
	return true
}
