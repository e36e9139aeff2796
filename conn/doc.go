// Copyright 2025 The XRFusion Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package conn holds the shared vocabulary the rest of the repository is
// built on: quaternion and Euler math (quat), the fixed-capacity ring
// buffer (ringbuf), the sample-rate estimator (rateest) and the pose and
// device-properties data model (imupose).
//
// These packages are dependency-free leaves; everything above them
// (devices, host, timesync, output, shm) imports downward only.
package conn
