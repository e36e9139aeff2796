// Copyright 2025 The XRFusion Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package xreal implements the XREAL-class device adapter: a packed binary
// HID report parser, a Madgwick-style AHRS turning the raw inertial stream
// into an orientation, and the side-by-side display mode table.
package xreal

import (
	"fmt"
	"sync"
	"time"

	"xrfusion.io/x/xrfusion/conn/imupose"
	"xrfusion.io/x/xrfusion/devices/xrdriver"
	"xrfusion.io/x/xrfusion/internal/ratelog"
)

const (
	vendorID = 0x3318

	// The glasses stream IMU reports near 1kHz; downstream delivery is
	// throttled to 250Hz, with a 5% error margin so jitter doesn't starve
	// whole cycles.
	forcedCyclesPerS     = 250
	cycleTimeErrorFactor = 0.95
	forcedCycleTimeMS    = 1000.0 / forcedCyclesPerS * cycleTimeErrorFactor
	bufferSizeTargetMS   = 10
)

// productModels maps XREAL's supported product IDs to their marketing
// names.
var productModels = map[uint16]string{
	0x0424: "Air",
	0x0428: "Air 2",
	0x0432: "Air 2 Pro",
	0x0426: "Air 2 Ultra",
}

const air2UltraPID = 0x0426

// sbsDisplayModes and nonSBSDisplayModes are the bidirectional display
// mode lookup tables, keyed by refresh rate and resolution: the index of a
// mode in one array gives its counterpart in the other. Lookups take the
// first matching index, so the mapping is not one-to-one: 1920x1080@120
// maps to 3840x1080@90 SBS, which maps back to 1920x1080@90, and
// 1920x1080@60 SBS maps to 1920x1080@60, which maps to 3840x1080@60 SBS.
var (
	sbsDisplayModes    = []string{"3840x1080@60 SBS", "3840x1080@72 SBS", "3840x1080@90 SBS", "3840x1080@90 SBS", "1920x1080@60 SBS"}
	nonSBSDisplayModes = []string{"1920x1080@60", "1920x1080@72", "1920x1080@90", "1920x1080@120", "1920x1080@60"}
)

// sbsModeFor returns the SBS-display-mode name mapped to from a non-SBS
// mode name, or "" if unmapped.
func sbsModeFor(nonSBS string) string {
	for i, m := range nonSBSDisplayModes {
		if m == nonSBS {
			return sbsDisplayModes[i]
		}
	}
	return ""
}

// nonSBSModeFor returns the non-SBS display mode name mapped to from an
// SBS mode name, or "" if unmapped. It reverses sbsModeFor only for modes
// that appear once in each table.
func nonSBSModeFor(sbs string) string {
	for i, m := range sbsDisplayModes {
		if m == sbs {
			return nonSBSDisplayModes[i]
		}
	}
	return ""
}

// Probe implements xrdriver.Probe for the XREAL family.
func Probe(vid, pid uint16, bus, addr uint8) (*imupose.DeviceProperties, bool) {
	if vid != vendorID {
		return nil, false
	}
	model, ok := productModels[pid]
	if !ok {
		return nil, false
	}
	fov := 46.0
	if pid == air2UltraPID {
		fov = 52.0
	}
	props := &imupose.DeviceProperties{
		Brand:                  "XREAL",
		Model:                  model,
		VendorID:               vid,
		ProductID:              pid,
		USBBus:                 bus,
		USBAddr:                addr,
		ResolutionW:            1920,
		ResolutionH:            1080,
		FOVDegrees:             fov,
		LensDistanceRatio:      0.025,
		CalibrationWaitSeconds: 15,
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
	}
	return props, true
}

func intCeil(v float64) int {
	n := int(v)
	if float64(n) < v {
		n++
	}
	return n
}

// Transport is the USB black box this adapter is driven through: bulk/
// interrupt report reads, the OUT-endpoint handshake write, and interface
// lifecycle. Production code backs this with github.com/google/gousb;
// tests use a fake.
type Transport interface {
	// ReadReport blocks for up to the transport's own short timeout,
	// returning a single HID report or an error. A timeout is reported as
	// an error whose Timeout method returns true, so BlockOnDevice can treat
	// it as transient.
	ReadReport() ([]byte, error)
	// WriteInit sends the fixed handshake payload to the OUT endpoint.
	WriteInit(payload []byte) error
	Close() error
}

// initPayload is the fixed 9-byte handshake XREAL's protocol requires on
// connect.
var initPayload = [9]byte{0x01, 0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}

// Adapter is the xrdriver.Driver implementation for XREAL-class glasses.
type Adapter struct {
	props  *imupose.DeviceProperties
	open   func() (Transport, error)
	logger *ratelog.Logger

	mu         sync.Mutex
	transport  Transport
	connected  bool
	sbsEnabled bool
	baseMode   string

	ahrs           *AHRS
	lastSampleTS   uint64
	haveLastSample bool
	lastEmittedMS  uint32
	haveEmitted    bool
}

// New returns an Adapter for props, opening its transport via open on
// Connect.
func New(props *imupose.DeviceProperties, open func() (Transport, error)) *Adapter {
	return &Adapter{
		props:    props,
		open:     open,
		ahrs:     NewAHRS(),
		logger:   ratelog.New(time.Second),
		baseMode: nonSBSDisplayModes[0],
	}
}

var _ xrdriver.Driver = (*Adapter)(nil)

// Connect opens the transport and sends the handshake. It is idempotent.
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
	if err := t.WriteInit(initPayload[:]); err != nil {
		t.Close()
		return fmt.Errorf("%w: handshake: %v", xrdriver.ErrTransport, err)
	}
	a.transport = t
	a.connected = true
	a.ahrs.Reset()
	a.haveLastSample = false
	a.haveEmitted = false
	return nil
}

// IsConnected reports the adapter's internal liveness.
func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// Disconnect releases the transport. soft leaves internal bookkeeping
// otherwise identical to hard for this adapter: XREAL's SDK does not
// freeze on teardown while plugged in, so both paths fully release.
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

// BlockOnDevice reads reports until disconnect or an unrecoverable error,
// invoking handler for every UPDATE packet's normalized NWU-frame
// quaternion, throttled to the forced cycle time.
func (a *Adapter) BlockOnDevice(handler xrdriver.PoseHandler) error {
	driverID := a.DriverID()
	for {
		a.mu.Lock()
		t := a.transport
		connected := a.connected
		a.mu.Unlock()
		if !connected || t == nil {
			return xrdriver.ErrDeviceGone
		}

		raw, err := t.ReadReport()
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return xrdriver.ErrDeviceGone
		}

		kind, sample, perr := ParsePacket(raw)
		if perr != nil {
			a.logger.Printf("xreal: malformed packet: %v", perr)
			continue
		}
		if kind != EventUpdate {
			continue // INIT packets carry no sensor data
		}

		a.mu.Lock()
		var dt float64
		if a.haveLastSample {
			dt = float64(sample.TimestampNS-a.lastSampleTS) / 1e9
		} else {
			dt = 1.0 / DefaultSampleHz
		}
		a.lastSampleTS = sample.TimestampNS
		a.haveLastSample = true
		a.ahrs.Update(sample.GyroDPS, sample.AccelG, sample.MagnetGauss, dt)
		q := ToNWU(a.ahrs.Quaternion())
		tsMS := uint32(sample.TimestampNS / 1000000)
		emit := !a.haveEmitted || float64(tsMS-a.lastEmittedMS) >= forcedCycleTimeMS
		if emit {
			a.lastEmittedMS = tsMS
			a.haveEmitted = true
		}
		a.mu.Unlock()

		if emit {
			handler(driverID, imupose.Pose{
				Orientation:    q,
				HasOrientation: true,
				TimestampMS:    tsMS,
			})
		}
	}
}

// DriverID returns the stable key the pool and hotplug supervisor use to
// refer to this connection.
func (a *Adapter) DriverID() string {
	return fmt.Sprintf("xreal-%04x:%04x@%d:%d", a.props.VendorID, a.props.ProductID, a.props.USBBus, a.props.USBAddr)
}

// IsSBSModeSupported reports whether this device exposes a display-mode
// toggle; all XREAL Air models do.
func (a *Adapter) IsSBSModeSupported() bool {
	return a.props.SBSModeSupported
}

// IsSBSMode queries the last known display mode.
func (a *Adapter) IsSBSMode() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sbsEnabled
}

// SetSBSMode records the requested side-by-side state and reports success
// for SBS-capable devices. It sends no command to the glasses (Transport
// has no display-mode control path), so the device's actual display mode
// is neither changed nor confirmed here.
func (a *Adapter) SetSBSMode(enabled bool) bool {
	if !a.props.SBSModeSupported {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sbsEnabled = enabled
	return true
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	t, ok := err.(timeouter)
	return ok && t.Timeout()
}

// DisplayModeName returns the active display mode's name, reflecting
// whichever side-by-side state was last requested via SetSBSMode.
func (a *Adapter) DisplayModeName() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sbsEnabled {
		if sbs := sbsModeFor(a.baseMode); sbs != "" {
			return sbs
		}
	}
	return a.baseMode
}
