// Copyright 2025 The XRFusion Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package xreal

import (
	"math"

	"xrfusion.io/x/xrfusion/conn/quat"
)

// AHRS is a complementary (Madgwick-style) attitude filter turning raw
// gyro/accel/mag samples into an orientation estimate. XREAL glasses stream
// raw inertial data rather than a pre-fused orientation, so the filter runs
// host-side at the sensor's native rate.
type AHRS struct {
	gain                  float64
	accelRejectionCos     float64 // cos(threshold), compared against dot product
	magRejectionCos       float64
	rejectionTimeoutTicks int
	sampleHz              float64

	q quat.Quat

	accelIgnoredTicks int
	magIgnoredTicks   int
}

// Filter defaults: gain 0.5, acceleration rejection at 10 degrees,
// magnetic rejection at 20 degrees, and a 5-second rejection timeout at
// the sensor's 1kHz native rate.
const (
	DefaultGain              = 0.5
	DefaultAccelRejectionDeg = 10.0
	DefaultMagRejectionDeg   = 20.0
	DefaultRejectionTimeoutS = 5.0
	DefaultSampleHz          = 1000.0
)

// NewAHRS returns an AHRS configured with the defaults above.
func NewAHRS() *AHRS {
	return &AHRS{
		gain:                  DefaultGain,
		accelRejectionCos:     math.Cos(DefaultAccelRejectionDeg * math.Pi / 180),
		magRejectionCos:       math.Cos(DefaultMagRejectionDeg * math.Pi / 180),
		rejectionTimeoutTicks: int(DefaultRejectionTimeoutS * DefaultSampleHz),
		sampleHz:              DefaultSampleHz,
		q:                     quat.Identity,
	}
}

// Quaternion returns the filter's current orientation estimate.
func (a *AHRS) Quaternion() quat.Quat {
	return a.q
}

func normalizeVec3(v [3]float64) ([3]float64, bool) {
	m := math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
	if m < 1e-9 {
		return v, false
	}
	return [3]float64{v[0] / m, v[1] / m, v[2] / m}, true
}

func cross(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func dot(a, b [3]float64) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

// rotate rotates unit vector v by quaternion q (q*v*conj(q)).
func rotate(q quat.Quat, v [3]float64) [3]float64 {
	p := quat.Quat{X: v[0], Y: v[1], Z: v[2], W: 0}
	r := quat.Multiply(quat.Multiply(q, p), quat.Conjugate(q))
	return [3]float64{r.X, r.Y, r.Z}
}

// Update feeds one sample. gyroDPS is in degrees/second, accelG and
// magGauss are raw accelerometer/magnetometer vectors (their scale doesn't
// matter, only direction). dtSeconds is the elapsed time since the previous
// update.
//
// Accelerometer and magnetometer corrections are rejected (skipped) when
// they disagree with the current gyro-integrated estimate by more than the
// configured threshold, for up to rejectionTimeoutTicks consecutive samples
// -- after which they're trusted again regardless, so a persistently bad
// reference doesn't permanently starve the filter of correction.
func (a *AHRS) Update(gyroDPS, accelG, magGauss [3]float64, dtSeconds float64) {
	gyroRad := [3]float64{
		gyroDPS[0] * math.Pi / 180,
		gyroDPS[1] * math.Pi / 180,
		gyroDPS[2] * math.Pi / 180,
	}

	accel, haveAccel := normalizeVec3(accelG)
	mag, haveMag := normalizeVec3(magGauss)

	feedback := [3]float64{}
	if haveAccel {
		gravity := rotate(quat.Conjugate(a.q), [3]float64{0, 0, 1})
		if dot(gravity, accel) >= a.accelRejectionCos || a.accelIgnoredTicks >= a.rejectionTimeoutTicks {
			feedback = cross(accel, gravity)
			a.accelIgnoredTicks = 0
		} else {
			a.accelIgnoredTicks++
		}
	}
	if haveMag {
		north := rotate(quat.Conjugate(a.q), [3]float64{1, 0, 0})
		if dot(north, mag) >= a.magRejectionCos || a.magIgnoredTicks >= a.rejectionTimeoutTicks {
			magFeedback := cross(mag, north)
			feedback[0] += magFeedback[0]
			feedback[1] += magFeedback[1]
			feedback[2] += magFeedback[2]
			a.magIgnoredTicks = 0
		} else {
			a.magIgnoredTicks++
		}
	}

	correctedGyro := [3]float64{
		gyroRad[0] + a.gain*feedback[0],
		gyroRad[1] + a.gain*feedback[1],
		gyroRad[2] + a.gain*feedback[2],
	}

	deltaQ := quat.Quat{
		X: correctedGyro[0] * 0.5 * dtSeconds,
		Y: correctedGyro[1] * 0.5 * dtSeconds,
		Z: correctedGyro[2] * 0.5 * dtSeconds,
		W: 0,
	}
	a.q = quat.Normalize(quat.Quat{
		X: a.q.X + (a.q.W*deltaQ.X + a.q.Y*deltaQ.Z - a.q.Z*deltaQ.Y),
		Y: a.q.Y + (a.q.W*deltaQ.Y - a.q.X*deltaQ.Z + a.q.Z*deltaQ.X),
		Z: a.q.Z + (a.q.W*deltaQ.Z + a.q.X*deltaQ.Y - a.q.Y*deltaQ.X),
		W: a.q.W + (-a.q.X*deltaQ.X - a.q.Y*deltaQ.Y - a.q.Z*deltaQ.Z),
	})
}

// Reset restores the filter to identity orientation.
func (a *AHRS) Reset() {
	a.q = quat.Identity
	a.accelIgnoredTicks = 0
	a.magIgnoredTicks = 0
}
