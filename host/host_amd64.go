// Copyright 2025 The XRFusion Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package host

import (
	// Rokid and RayNeo ship their vendor SDKs as x86-64 and arm64 binaries
	// only, so their adapters are linked in on those architectures alone.
	_ "xrfusion.io/x/xrfusion/devices/rayneo"
	_ "xrfusion.io/x/xrfusion/devices/rokid"
)
