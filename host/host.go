// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package host links in the device adapters relevant to this platform and
// initializes them in one call.
package host

import (
	"xrfusion.io/x/xrfusion"

	// Adapters available on every platform: XREAL speaks a documented USB
	// HID protocol and VITURE's SDK ships for all supported architectures.
	_ "xrfusion.io/x/xrfusion/devices/viture"
	_ "xrfusion.io/x/xrfusion/devices/xreal"
)

// Init calls xrfusion.Init() and returns it as-is.
//
// The only difference is that by calling host.Init(), you are guaranteed to
// have all the device adapters implemented in this library to be implicitly
// loaded.
func Init() (*xrfusion.State, error) {
	return xrfusion.Init()
}
