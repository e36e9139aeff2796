// Copyright 2025 The XRFusion Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package devicestest provides a fake implementation of the
// devices/xrdriver.Driver capability interface. host/pool and
// host/hotplug's tests drive connection pool scenarios without any real
// USB hardware by emitting samples through Driver.
package devicestest

import (
	"sync"

	"xrfusion.io/x/xrfusion/conn/imupose"
	"xrfusion.io/x/xrfusion/devices/xrdriver"
)

// Driver is a fake xrdriver.Driver: BlockOnDevice replays Poses back to
// back through the handler and then blocks until Disconnect (soft or hard)
// is called.
type Driver struct {
	ID         string
	Poses      []imupose.Pose
	SBSCapable bool

	mu         sync.Mutex
	connected  bool
	sbsEnabled bool
	stop       chan struct{}

	// ConnectErr, when set, is returned by Connect instead of succeeding.
	ConnectErr error
}

var _ xrdriver.Driver = (*Driver)(nil)

// NewDriver returns a Driver identified by id that will replay poses when
// BlockOnDevice runs.
func NewDriver(id string, poses ...imupose.Pose) *Driver {
	return &Driver{ID: id, Poses: poses}
}

func (d *Driver) DriverID() string { return d.ID }

func (d *Driver) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ConnectErr != nil {
		return d.ConnectErr
	}
	if d.connected {
		return nil
	}
	d.connected = true
	d.stop = make(chan struct{})
	return nil
}

func (d *Driver) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// BlockOnDevice feeds every configured Pose to handler in order, then
// blocks until Disconnect is called.
func (d *Driver) BlockOnDevice(handler xrdriver.PoseHandler) error {
	d.mu.Lock()
	stop := d.stop
	id := d.ID
	d.mu.Unlock()
	for _, p := range d.Poses {
		select {
		case <-stop:
			return xrdriver.ErrDeviceGone
		default:
		}
		handler(id, p)
	}
	<-stop
	return xrdriver.ErrDeviceGone
}

func (d *Driver) Disconnect(soft bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return
	}
	d.connected = false
	close(d.stop)
}

func (d *Driver) IsSBSModeSupported() bool { return d.SBSCapable }

func (d *Driver) IsSBSMode() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sbsEnabled
}

func (d *Driver) SetSBSMode(enabled bool) bool {
	if !d.SBSCapable {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sbsEnabled = enabled
	return true
}

// Emit pushes a single additional pose directly to handler via a caller-
// supplied dispatch, for tests that want to drive samples one at a time
// rather than pre-loading Poses. It is not part of xrdriver.Driver.
func (d *Driver) Emit(handler xrdriver.PoseHandler, p imupose.Pose) {
	handler(d.ID, p)
}
