// Copyright 2025 The XRFusion Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package quat implements the Hamilton-convention unit quaternion and Euler
// angle math shared by every device adapter, the time-sync engine and the
// connection pool's blend.
//
// All orientations flowing through this repository live in the NWU
// (North-West-Up) world frame; this package does not know about frames, it
// only operates on numbers.
package quat

import "math"

// Quat is a Hamilton-convention unit quaternion (x, y, z, w).
type Quat struct {
	X, Y, Z, W float64
}

// Identity is the no-rotation quaternion.
var Identity = Quat{W: 1}

// Magnitude returns the Euclidean norm of q.
func (q Quat) Magnitude() float64 {
	return math.Sqrt(q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W)
}

// Normalize returns q scaled to unit magnitude.
//
// A zero (or near-zero) magnitude input returns Identity rather than
// dividing by zero, so no NaN ever propagates downstream.
func Normalize(q Quat) Quat {
	m := q.Magnitude()
	if m < 1e-9 {
		return Identity
	}
	return Quat{q.X / m, q.Y / m, q.Z / m, q.W / m}
}

// Conjugate returns the conjugate of q, (-x, -y, -z, w).
func Conjugate(q Quat) Quat {
	return Quat{-q.X, -q.Y, -q.Z, q.W}
}

// Multiply returns the Hamilton product a*b, renormalized.
func Multiply(a, b Quat) Quat {
	r := Quat{
		W: a.W*b.W - a.X*b.X - a.Y*b.Y - a.Z*b.Z,
		X: a.W*b.X + a.X*b.W + a.Y*b.Z - a.Z*b.Y,
		Y: a.W*b.Y - a.X*b.Z + a.Y*b.W + a.Z*b.X,
		Z: a.W*b.Z + a.X*b.Y - a.Y*b.X + a.Z*b.W,
	}
	return Normalize(r)
}

// AngularDistance returns the angle in radians between a and b:
// 2*acos(clamp(|(b * conj(a)).w|, 0, 1)).
func AngularDistance(a, b Quat) float64 {
	rel := Multiply(b, Conjugate(a))
	w := math.Abs(rel.W)
	if w > 1 {
		w = 1
	}
	return 2 * math.Acos(w)
}

// clamp01 restricts v to [-1, 1], guarding acos against float rounding that
// pushes a legitimate unit-dot-product result just past +-1.
func clamp01(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

// Euler is a roll/pitch/yaw orientation in degrees.
//
// Roll is in [-180, 180], pitch in [-90, 90] (it saturates at the gimbal),
// yaw in [-180, 180].
type Euler struct {
	Roll, Pitch, Yaw float64
}

// FromEulerZYX converts roll/pitch/yaw degrees (ZYX intrinsic order: yaw
// about Z, then pitch about Y, then roll about X) to a unit quaternion.
func FromEulerZYX(roll, pitch, yaw float64) Quat {
	rr := roll * math.Pi / 360 // half-angle, in radians
	rp := pitch * math.Pi / 360
	ry := yaw * math.Pi / 360

	sr, cr := math.Sincos(rr)
	sp, cp := math.Sincos(rp)
	sy, cy := math.Sincos(ry)

	return Normalize(Quat{
		W: cr*cp*cy + sr*sp*sy,
		X: sr*cp*cy - cr*sp*sy,
		Y: cr*sp*cy + sr*cp*sy,
		Z: cr*cp*sy - sr*sp*cy,
	})
}

// ToEulerZYX converts q to roll/pitch/yaw degrees (ZYX intrinsic order),
// clamping pitch to +-90 degrees at the gimbal.
func ToEulerZYX(q Quat) Euler {
	q = Normalize(q)

	// roll (x-axis rotation)
	sinrCosp := 2 * (q.W*q.X + q.Y*q.Z)
	cosrCosp := 1 - 2*(q.X*q.X+q.Y*q.Y)
	roll := math.Atan2(sinrCosp, cosrCosp)

	// pitch (y-axis rotation)
	sinp := clamp01(2 * (q.W*q.Y - q.Z*q.X))
	var pitch float64
	if math.Abs(sinp) >= 1 {
		pitch = math.Copysign(math.Pi/2, sinp)
	} else {
		pitch = math.Asin(sinp)
	}

	// yaw (z-axis rotation)
	sinyCosp := 2 * (q.W*q.Z + q.X*q.Y)
	cosyCosp := 1 - 2*(q.Y*q.Y+q.Z*q.Z)
	yaw := math.Atan2(sinyCosp, cosyCosp)

	const rad2deg = 180 / math.Pi
	return Euler{Roll: roll * rad2deg, Pitch: pitch * rad2deg, Yaw: yaw * rad2deg}
}

// DegreeDelta returns the shortest signed angular difference b-a in
// degrees, wrapped to (-180, 180]. DegreeDelta(-179, 179) == -2, not 358.
func DegreeDelta(a, b float64) float64 {
	d := math.Mod(b-a, 360)
	if d > 180 {
		d -= 360
	} else if d <= -180 {
		d += 360
	}
	return d
}
