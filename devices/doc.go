// Copyright 2025 The XRFusion Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package devices contains the per-vendor XR glasses adapters.
//
// Subpackage xrdriver defines the capability interface every adapter
// implements; xreal, viture, rokid and rayneo implement it for their
// respective hardware. Subpackage devicereg holds the reference-counted
// current-device handle shared with subsystems outside the connection
// pool.
//
// Subpackage devicestest contains a fake implementation for testing.
package devices
