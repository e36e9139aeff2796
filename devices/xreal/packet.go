// Copyright 2025 The XRFusion Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package xreal

import (
	"errors"

	"xrfusion.io/x/xrfusion/conn/quat"
)

// Sensor scale factors: gyro FSR is 2000dps over 2^23, accel 16g over
// 2^23, magnetometer 16 gauss over 2^23.
const (
	gyroScale  = 2000.0 / 8388608.0
	accelScale = 16.0 / 8388608.0
	magScale   = 16.0 / 8388608.0
)

// Packet event kinds: a packet bearing signature {0xAA, 0x53} is INIT,
// {0x01, 0x02} packets are UPDATE.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventInit
	EventUpdate
)

// packetLen is the minimum byte length of a well-formed report: 2-byte
// signature + 8-byte timestamp + 9 bytes gyro + 9 bytes accel + 6 bytes
// magnetometer + 1-byte checksum.
const packetLen = 2 + 8 + 9 + 9 + 6 + 1

// ErrMalformedPacket is returned for a bad signature, checksum or a short
// packet; the caller discards the packet with a rate-limited log line and
// never surfaces this upward.
var ErrMalformedPacket = errors.New("xreal: malformed packet")

// Sample is one decoded sensor reading: raw gyro/accel/mag in physical
// units plus the packet's relative-nanosecond timestamp.
type Sample struct {
	TimestampNS uint64
	GyroDPS     [3]float64
	AccelG      [3]float64
	MagnetGauss [3]float64
}

// sign24 sign-extends a little-endian 24-bit two's-complement value read
// from b[0:3]: bit 23 set means negative.
func sign24(b []byte) int32 {
	v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	if b[2]&0x80 != 0 {
		v |= ^int32(0xFFFFFF) // sign-extend bits 24..31
	}
	return v
}

func le16(b []byte) int16 {
	return int16(uint16(b[0]) | uint16(b[1])<<8)
}

func le64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func checksum(b []byte) byte {
	var c byte
	for _, v := range b {
		c ^= v
	}
	return c
}

// ParsePacket decodes a raw HID report. It returns (kind, sample, error).
// For EventInit, sample is the zero value; INIT packets carry a handshake,
// not sensor data. A checksum or length mismatch returns ErrMalformedPacket
// with EventUnknown.
func ParsePacket(raw []byte) (EventKind, Sample, error) {
	if len(raw) < 2 {
		return EventUnknown, Sample{}, ErrMalformedPacket
	}
	if raw[0] == 0xAA && raw[1] == 0x53 {
		return EventInit, Sample{}, nil
	}
	if raw[0] != 0x01 || raw[1] != 0x02 {
		return EventUnknown, Sample{}, ErrMalformedPacket
	}
	if len(raw) < packetLen {
		return EventUnknown, Sample{}, ErrMalformedPacket
	}

	body := raw[:packetLen-1]
	gotChecksum := raw[packetLen-1]
	if checksum(body) != gotChecksum {
		return EventUnknown, Sample{}, ErrMalformedPacket
	}

	off := 2
	ts := le64(raw[off : off+8])
	off += 8

	gyroX := sign24(raw[off : off+3])
	gyroY := sign24(raw[off+3 : off+6])
	gyroZ := sign24(raw[off+6 : off+9])
	off += 9

	accelX := sign24(raw[off : off+3])
	accelY := sign24(raw[off+3 : off+6])
	accelZ := sign24(raw[off+6 : off+9])
	off += 9

	magX := le16(raw[off : off+2])
	magY := le16(raw[off+2 : off+4])
	magZ := le16(raw[off+4 : off+6])

	return EventUpdate, Sample{
		TimestampNS: ts,
		GyroDPS:     [3]float64{float64(gyroX) * gyroScale, float64(gyroY) * gyroScale, float64(gyroZ) * gyroScale},
		AccelG:      [3]float64{float64(accelX) * accelScale, float64(accelY) * accelScale, float64(accelZ) * accelScale},
		MagnetGauss: [3]float64{float64(magX) * magScale, float64(magY) * magScale, float64(magZ) * magScale},
	}, nil
}

// nwuConversion is XREAL's fixed post-rotation quaternion landing its
// device-local frame in NWU.
var nwuConversion = quat.Quat{X: 1, Y: 0, Z: 0, W: 0}

// ToNWU applies XREAL's fixed device-local-to-NWU rotation.
func ToNWU(q quat.Quat) quat.Quat {
	return quat.Multiply(q, nwuConversion)
}
