// Copyright 2025 The XRFusion Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package output

import (
	"sync"
	"time"

	"xrfusion.io/x/xrfusion/shm"
)

// ShmSink adapts a Slot/Velocity pair onto shm.Publisher, the external
// renderer's read side. It owns the date block, recomputing it at most
// once a second.
type ShmSink struct {
	publisher *shm.Publisher
	now       func() time.Time

	mu          sync.Mutex
	lastDate    [4]float32
	lastDateSet bool
	lastDateAt  time.Time
}

// NewShmSink wraps publisher. Every sample Publish writes is stamped with
// the current wall-clock date block, refreshed at most once per second.
func NewShmSink(publisher *shm.Publisher) *ShmSink {
	return &ShmSink{publisher: publisher, now: time.Now}
}

// Publish writes slot as an shm.IMURecord: PoseOrientation packs the
// look-ahead triple (current, stage1-evicted, stage2-evicted) followed by
// the {year, month, day, seconds-of-day} date block. vel is not written;
// the record has no velocity field.
func (s *ShmSink) Publish(slot Slot, vel Velocity) error {
	date := s.dateBlock()
	rec := shm.IMURecord{
		IMUDateMS: uint64(slot.NowMS),
		PoseOrientation: [16]float32{
			float32(slot.Current.X), float32(slot.Current.Y), float32(slot.Current.Z), float32(slot.Current.W),
			float32(slot.Stage1Evicted.X), float32(slot.Stage1Evicted.Y), float32(slot.Stage1Evicted.Z), float32(slot.Stage1Evicted.W),
			float32(slot.Stage2Evicted.X), float32(slot.Stage2Evicted.Y), float32(slot.Stage2Evicted.Z), float32(slot.Stage2Evicted.W),
			date[0], date[1], date[2], date[3],
		},
	}
	return s.publisher.WriteIMURecord(rec)
}

// dateBlock returns the {year, month, day, seconds-of-day} block, recomputing
// it only once a wall-clock second has elapsed since the last call.
func (s *ShmSink) dateBlock() [4]float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if s.lastDateSet && now.Sub(s.lastDateAt) < time.Second {
		return s.lastDate
	}
	y, m, d := now.Date()
	secOfDay := now.Hour()*3600 + now.Minute()*60 + now.Second()
	s.lastDate = [4]float32{float32(y), float32(m), float32(d), float32(secOfDay)}
	s.lastDateSet = true
	s.lastDateAt = now
	return s.lastDate
}
