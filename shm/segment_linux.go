// Copyright 2025 The XRFusion Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package shm

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// shmDir is where Linux mounts the POSIX shared-memory tmpfs; shm_open(3)
// is itself defined in glibc as exactly this path join, so opening it
// directly here avoids a cgo dependency.
const shmDir = "/dev/shm"

// Segment is a Backend backed by a POSIX shared-memory object under
// /dev/shm and mapped with mmap(2) via golang.org/x/sys/unix.
type Segment struct {
	name string
	f    *os.File
	mem  []byte
}

// OpenSegment creates (or attaches to) the named POSIX shared-memory
// segment sized for a single IMU publication region and maps it into the
// process' address space. name must not contain a path separator.
func OpenSegment(name string) (*Segment, error) {
	path := filepath.Join(shmDir, name)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shm: open %s: %w", path, err)
	}
	if err := f.Truncate(int64(SegmentBytes)); err != nil {
		f.Close()
		return nil, fmt.Errorf("shm: truncate %s: %w", path, err)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, SegmentBytes, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("shm: mmap %s: %w", path, err)
	}
	return &Segment{name: name, f: f, mem: mem}, nil
}

func (s *Segment) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || int(off)+len(p) > len(s.mem) {
		return 0, fmt.Errorf("shm: write out of bounds at offset %d", off)
	}
	return copy(s.mem[off:], p), nil
}

func (s *Segment) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || int(off)+len(p) > len(s.mem) {
		return 0, fmt.Errorf("shm: read out of bounds at offset %d", off)
	}
	return copy(p, s.mem[off:off+int64(len(p))]), nil
}

// Close unmaps the segment. It does not unlink the named object, since
// readers may still be attached; Unlink removes it.
func (s *Segment) Close() error {
	if s.mem != nil {
		if err := unix.Munmap(s.mem); err != nil {
			return err
		}
		s.mem = nil
	}
	return s.f.Close()
}

// Unlink removes the named shared-memory object so no further process can
// attach to it.
func Unlink(name string) error {
	return os.Remove(filepath.Join(shmDir, name))
}

var _ Backend = (*Segment)(nil)
