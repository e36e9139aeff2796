// Copyright 2025 The XRFusion Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package devicereg implements the process-wide, reference-counted
// "current active device" handle: subsystems outside the connection pool
// (the output pipeline, plugins) check a device out, use it, and check it
// back in, while a queued replacement only takes effect once the current
// device's refcount drops to zero.
//
// The swap-pending-release pattern is expressed as a mutex-guarded struct
// with a single-slot replacement queue, matching the rest of this
// repository's concurrency style (explicit mutexes, no lock-free tricks).
package devicereg

import (
	"sync"

	"xrfusion.io/x/xrfusion/conn/imupose"
)

// ChangeFunc is invoked after a device transition (installed, replaced, or
// freed), always after the Handle's lock has been released so it may safely
// call back into the handle.
type ChangeFunc func(current *imupose.DeviceProperties)

// Handle is the reference-counted current-device holder.
//
// The zero value is ready to use.
type Handle struct {
	mu       sync.Mutex
	current  *imupose.DeviceProperties
	refCount int
	queued   *imupose.DeviceProperties
	onChange ChangeFunc
}

// SetOnChange registers the single callback invoked after every transition.
// It is not safe to call concurrently with other Handle methods.
func (h *Handle) SetOnChange(fn ChangeFunc) {
	h.onChange = fn
}

// SetDeviceAndCheckout installs device as current if none is held, setting
// its refcount to 1. Otherwise the device is queued; it is installed (with
// refcount 1) once the current device's refcount reaches zero.
func (h *Handle) SetDeviceAndCheckout(device *imupose.DeviceProperties) {
	h.mu.Lock()
	var notify *imupose.DeviceProperties
	if h.current == nil {
		h.current = device
		h.refCount = 1
		notify = h.current
	} else {
		h.queued = device
	}
	fn := h.onChange
	h.mu.Unlock()
	if fn != nil && notify != nil {
		fn(notify)
	}
}

// DeviceCheckout returns the current device and increments its refcount. It
// returns nil, signaling "transitioning", whenever a replacement is queued
// even though a current device still exists: no new reference to the old
// device is handed out while a swap is pending, so its refcount can only
// drain toward the install.
func (h *Handle) DeviceCheckout() *imupose.DeviceProperties {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.queued != nil {
		return nil
	}
	if h.current == nil {
		return nil
	}
	h.refCount++
	return h.current
}

// DeviceCheckin decrements the refcount for device. When it reaches zero,
// the device is freed and a queued replacement, if any, is installed with
// refcount 1. If device is the queued (not yet current) replacement rather
// than the checked-out current device, it is dropped without touching the
// refcount.
func (h *Handle) DeviceCheckin(device *imupose.DeviceProperties) {
	h.mu.Lock()
	var notify *imupose.DeviceProperties
	notified := false
	if h.queued == device && h.current != device {
		h.queued = nil
	} else if h.current == device {
		h.refCount--
		if h.refCount <= 0 {
			h.refCount = 0
			h.current = nil
			if h.queued != nil {
				h.current = h.queued
				h.queued = nil
				h.refCount = 1
			}
			notify = h.current
			notified = true
		}
	}
	fn := h.onChange
	h.mu.Unlock()
	if fn != nil && notified {
		fn(notify)
	}
}

// DevicePresent reports whether a current device is installed and no
// replacement is queued.
func (h *Handle) DevicePresent() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current != nil && h.queued == nil
}

// RefCount returns the current device's reference count, for tests and
// diagnostics.
func (h *Handle) RefCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.refCount
}
