// Copyright 2025 The XRFusion Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build !usb
// +build !usb

package main

import "xrfusion.io/x/xrfusion/host/hotplug"

// newSource watches the bus through sysfs; no cgo required.
func newSource() (hotplug.Source, error) {
	return hotplug.NewSysfsSource()
}
