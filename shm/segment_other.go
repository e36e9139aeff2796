// Copyright 2025 The XRFusion Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build !linux
// +build !linux

package shm

import "errors"

// OpenSegment is not implemented outside Linux: the renderer contract
// names a /dev/shm object, which is a Linux mechanism.
func OpenSegment(name string) (*Segment, error) {
	return nil, errors.New("shm: OpenSegment not implemented on this platform")
}

// Segment is an opaque placeholder on non-Linux platforms.
type Segment struct{}

func (s *Segment) WriteAt(p []byte, off int64) (int, error) {
	return 0, errors.New("shm: not implemented on this platform")
}

func (s *Segment) ReadAt(p []byte, off int64) (int, error) {
	return 0, errors.New("shm: not implemented on this platform")
}

func (s *Segment) Close() error { return nil }

// Unlink is not implemented on non-Linux platforms; it always returns an
// error.
func Unlink(name string) error {
	return errors.New("shm: Unlink not implemented on this platform")
}

var _ Backend = (*Segment)(nil)
