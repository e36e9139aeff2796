// Copyright 2025 The XRFusion Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package output implements the publication path fed by the connection
// pool's fused primary samples: a health watchdog, the two-stage
// ring-buffered look-ahead history, and per-axis angular velocity.
package output

import (
	"sync"
	"time"

	"xrfusion.io/x/xrfusion/conn/imupose"
	"xrfusion.io/x/xrfusion/conn/quat"
	"xrfusion.io/x/xrfusion/conn/ringbuf"
)

// HealthCaptureInterval is how often the watchdog samples the current
// orientation.
const HealthCaptureInterval = 250 * time.Millisecond

// HealthGracePeriod is how long a bit-identical capture must persist before
// IsImuAlive reports false.
const HealthGracePeriod = 1 * time.Second

// Slot is a single publication-worthy look-ahead triple: the sample that
// just arrived plus the two samples evicted from the two-stage history at
// this tick, spanning the configured look-ahead window.
type Slot struct {
	Current       quat.Quat
	Stage1Evicted quat.Quat
	Stage2Evicted quat.Quat
	NowMS         uint32
	Stage1MS      uint32
	Stage2MS      uint32
}

// Velocity is per-axis angular speed in degrees/second.
type Velocity struct {
	Roll, Pitch, Yaw float64
}

// Sink receives a look-ahead slot and the velocity computed alongside it.
// shm.Publisher is the production Sink; tests use a recording fake.
type Sink interface {
	Publish(slot Slot, vel Velocity) error
}

// stage is the five parallel ring buffers one look-ahead stage needs:
// x, y, z, w and the sample timestamp.
type stage struct {
	x, y, z, w, t *ringbuf.Buffer
}

func newStage(capacity int) stage {
	return stage{
		x: ringbuf.New(capacity),
		y: ringbuf.New(capacity),
		z: ringbuf.New(capacity),
		w: ringbuf.New(capacity),
		t: ringbuf.New(capacity),
	}
}

// push appends a sample, returning the evicted sample (and whether an
// eviction actually happened, since an evicted zero value is otherwise
// indistinguishable from "nothing evicted").
func (s stage) push(x, y, z, w float32, t uint32) (evicted [4]float32, evictedT uint32, ok bool) {
	ok = s.x.Full()
	evicted[0] = s.x.Push(x)
	evicted[1] = s.y.Push(y)
	evicted[2] = s.z.Push(z)
	evicted[3] = s.w.Push(w)
	evictedT = uint32(s.t.Push(float32(t)))
	return evicted, evictedT, ok
}

// Pipeline is the per-primary-device output pipeline: one is created per
// elected primary connection and fed every ingested pose.
type Pipeline struct {
	device imupose.DeviceProperties
	sink   Sink

	mu           sync.Mutex
	stage1       stage
	stage2       stage
	hasPrevEuler bool
	prevEuler    quat.Euler

	healthMu      sync.Mutex
	hasCapture    bool
	lastCapture   quat.Quat
	lastCaptureAt time.Time
	lastChangeAt  time.Time
	alive         bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// New returns a Pipeline sized per device.IMUBufferSize, publishing slots
// to sink. device.IMUBufferSize must be positive.
func New(device imupose.DeviceProperties, sink Sink) *Pipeline {
	n := device.IMUBufferSize
	if n <= 0 {
		n = 1
	}
	return &Pipeline{
		device: device,
		sink:   sink,
		stage1: newStage(n),
		stage2: newStage(n),
	}
}

// StartWatchdog launches the 250ms health-capture goroutine. Callers must
// call StopWatchdog to release it.
func (p *Pipeline) StartWatchdog() {
	p.stop = make(chan struct{})
	p.wg.Add(1)
	go p.watchdogLoop()
}

// StopWatchdog stops and joins the watchdog goroutine. Safe to call at most
// once per StartWatchdog.
func (p *Pipeline) StopWatchdog() {
	if p.stop == nil {
		return
	}
	close(p.stop)
	p.wg.Wait()
}

func (p *Pipeline) watchdogLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(HealthCaptureInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case now := <-ticker.C:
			p.captureHealth(now)
		}
	}
}

func (p *Pipeline) captureHealth(now time.Time) {
	p.healthMu.Lock()
	defer p.healthMu.Unlock()
	current := p.currentOrientation()
	if !p.hasCapture {
		p.hasCapture = true
		p.lastCapture = current
		p.lastChangeAt = now
		p.alive = true
		return
	}
	if current != p.lastCapture {
		p.lastCapture = current
		p.lastChangeAt = now
		p.alive = true
		return
	}
	p.alive = now.Sub(p.lastChangeAt) < HealthGracePeriod
}

// currentOrientation reads the most recently ingested orientation, or
// Identity if none has arrived yet.
func (p *Pipeline) currentOrientation() quat.Quat {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.stage1.x.Len()
	if n == 0 {
		return quat.Identity
	}
	return quat.Quat{
		X: float64(p.stage1.x.At(n - 1)),
		Y: float64(p.stage1.y.At(n - 1)),
		Z: float64(p.stage1.z.At(n - 1)),
		W: float64(p.stage1.w.At(n - 1)),
	}
}

// IsImuAlive reports whether a genuinely changing orientation has been
// observed within the last grace period.
func (p *Pipeline) IsImuAlive() bool {
	p.healthMu.Lock()
	defer p.healthMu.Unlock()
	return p.alive
}

// Ingest processes one fused pose: it updates the velocity estimate, pushes
// the orientation through the two-stage look-ahead history, and publishes a
// Slot whenever the history is deep enough to produce one.
func (p *Pipeline) Ingest(pose imupose.Pose) error {
	if !pose.HasOrientation {
		return nil
	}
	euler := quat.ToEulerZYX(pose.Orientation)

	p.mu.Lock()
	vel := p.velocityLocked(euler)
	p.prevEuler = euler
	p.hasPrevEuler = true

	x := float32(pose.Orientation.X)
	y := float32(pose.Orientation.Y)
	z := float32(pose.Orientation.Z)
	w := float32(pose.Orientation.W)

	evicted1, evictedT1, ok1 := p.stage1.push(x, y, z, w, pose.TimestampMS)
	var slot Slot
	emit := false
	if ok1 {
		evicted2, evictedT2, ok2 := p.stage2.push(evicted1[0], evicted1[1], evicted1[2], evicted1[3], evictedT1)
		if ok2 {
			slot = Slot{
				Current:       pose.Orientation,
				Stage1Evicted: quat.Quat{X: float64(evicted1[0]), Y: float64(evicted1[1]), Z: float64(evicted1[2]), W: float64(evicted1[3])},
				Stage2Evicted: quat.Quat{X: float64(evicted2[0]), Y: float64(evicted2[1]), Z: float64(evicted2[2]), W: float64(evicted2[3])},
				NowMS:         pose.TimestampMS,
				Stage1MS:      evictedT1,
				Stage2MS:      evictedT2,
			}
			emit = true
		}
	}
	p.mu.Unlock()

	if !emit || p.sink == nil {
		return nil
	}
	return p.sink.Publish(slot, vel)
}

// velocityLocked computes degrees/second per Euler axis from the previous
// sample, wrapped at +-180 degrees, scaled by the device's configured IMU
// rate. mu must be held.
func (p *Pipeline) velocityLocked(cur quat.Euler) Velocity {
	if !p.hasPrevEuler {
		return Velocity{}
	}
	rate := p.device.ImuCyclesPerSecond()
	return Velocity{
		Roll:  quat.DegreeDelta(p.prevEuler.Roll, cur.Roll) * rate,
		Pitch: quat.DegreeDelta(p.prevEuler.Pitch, cur.Pitch) * rate,
		Yaw:   quat.DegreeDelta(p.prevEuler.Yaw, cur.Yaw) * rate,
	}
}

// Reset clears the look-ahead history and health state; it does not stop
// the watchdog goroutine.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	p.stage1.x.Reset()
	p.stage1.y.Reset()
	p.stage1.z.Reset()
	p.stage1.w.Reset()
	p.stage1.t.Reset()
	p.stage2.x.Reset()
	p.stage2.y.Reset()
	p.stage2.z.Reset()
	p.stage2.w.Reset()
	p.stage2.t.Reset()
	p.hasPrevEuler = false
	p.mu.Unlock()

	p.healthMu.Lock()
	p.hasCapture = false
	p.alive = false
	p.healthMu.Unlock()
}
