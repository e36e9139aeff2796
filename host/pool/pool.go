// Copyright 2025 The XRFusion Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package pool implements the multi-device connection pool: it tracks zero
// or more simultaneously present headsets, elects a primary and at most
// one supplemental, runs a worker goroutine per active connection, fans
// pose samples into the rate estimators and time-sync engine, and blends
// primary and supplemental orientation into a single fused pose.
//
// A single mutex guards all pool state. Driver methods may call back into
// the pool, so no driver method is ever invoked while the mutex is held.
package pool

import (
	"errors"
	"sync"

	"xrfusion.io/x/xrfusion/conn/imupose"
	"xrfusion.io/x/xrfusion/conn/quat"
	"xrfusion.io/x/xrfusion/conn/rateest"
	"xrfusion.io/x/xrfusion/devices/xrdriver"
	"xrfusion.io/x/xrfusion/timesync"
)

// ErrNoPrimary is returned by BlockOnActive when no primary is elected.
var ErrNoPrimary = errors.New("pool: no primary connection")

// defaultRateWindow bounds the rate estimator's sliding window; it must be
// comfortably above rateest.ReadyThreshold.
const defaultRateWindow = 512

// DefaultWindowDurationS is the time-sync correlation window duration used
// once a timesync.Sync is created.
const DefaultWindowDurationS = 5.0

// PoseHandler is invoked with the fused pose derived from every primary
// sample, outside the pool's lock.
type PoseHandler func(driverID string, pose imupose.Pose)

// connRecord tracks one registered headset. It is always accessed through
// Pool's mutex except for its immutable fields (driverID, driver, device,
// supplemental) and its done channel, which workers read without the lock
// after capturing it while locked.
type connRecord struct {
	driverID     string
	driver       xrdriver.Driver
	device       imupose.DeviceProperties
	supplemental bool

	active        bool
	workerRunning bool
	done          chan struct{}

	refQuat  quat.Quat
	refSet   bool
	lastQuat quat.Quat

	lastRelQuat quat.Quat
	lastTSMs    uint32
	haveLast    bool
}

// Pool is the multi-device connection registry and fusion point.
type Pool struct {
	mu      sync.Mutex
	conns   []*connRecord
	primary int // index into conns, -1 if none
	supp    int // index into conns, -1 if none
	running bool

	ratePrimary *rateest.Estimator
	rateSupp    *rateest.Estimator
	sync        *timesync.Sync

	lastOffsetS    float64
	lastConfidence float64

	windowDurationS float64
	onPose          PoseHandler
}

// New returns an empty Pool that reports fused poses to onPose.
func New(onPose PoseHandler) *Pool {
	return &Pool{
		primary:         -1,
		supp:            -1,
		ratePrimary:     rateest.New(defaultRateWindow),
		rateSupp:        rateest.New(defaultRateWindow),
		windowDurationS: DefaultWindowDurationS,
		onPose:          onPose,
	}
}

// ConnectionCount returns the number of currently registered connections.
func (p *Pool) ConnectionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// PrimaryDriverID returns the primary connection's driver ID, or "" if
// none is elected.
func (p *Pool) PrimaryDriverID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.primary < 0 {
		return ""
	}
	return p.conns[p.primary].driverID
}

// SupplementalDriverID returns the supplemental connection's driver ID, or
// "" if none is elected.
func (p *Pool) SupplementalDriverID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.supp < 0 {
		return ""
	}
	return p.conns[p.supp].driverID
}

// LastOffsetSeconds returns the most recently computed time-sync offset.
func (p *Pool) LastOffsetSeconds() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastOffsetS
}

// LastConfidence returns the most recently computed time-sync confidence.
func (p *Pool) LastConfidence() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastConfidence
}

// HandleDeviceAdded registers a newly arrived device, as handed to it by
// the hotplug supervisor. If no primary is currently elected, the new
// connection may become one; likewise for supplemental. If the pool is
// already running (BlockOnActive has started the primary's worker) and
// this add causes a new supplemental to be elected, that supplemental's
// worker is started immediately.
func (p *Pool) HandleDeviceAdded(driverID string, driver xrdriver.Driver, device *imupose.DeviceProperties) {
	p.mu.Lock()
	rec := &connRecord{
		driverID:     driverID,
		driver:       driver,
		device:       *device,
		supplemental: device.CanBeSupplemental,
	}
	p.conns = append(p.conns, rec)

	prevSuppID := p.suppDriverIDLocked()
	p.reelectLocked()
	newSuppID := p.suppDriverIDLocked()

	var toStart *connRecord
	if p.running && newSuppID != "" && newSuppID != prevSuppID {
		toStart = p.conns[p.supp]
	}
	if toStart != nil {
		p.startWorkerLocked(toStart)
	}
	p.mu.Unlock()
}

// HandleDeviceRemoved unregisters the connection identified by driverID, as
// reported by the hotplug supervisor on departure. It soft-disconnects the
// departing driver (and, if it was primary, the current supplemental too,
// since role changes flow through a fresh election), re-elects both roles,
// destroys the time-sync state and resets the rate estimators. If primary
// is unchanged but a supplemental is newly (re-)elected as a result, its
// worker is restarted.
func (p *Pool) HandleDeviceRemoved(driverID string) {
	p.mu.Lock()
	idx := p.indexByIDLocked(driverID)
	if idx < 0 {
		p.mu.Unlock()
		return
	}

	removedWasPrimary := idx == p.primary
	var prevPrimary, prevSupp *connRecord
	if p.primary >= 0 {
		prevPrimary = p.conns[p.primary]
	}
	if p.supp >= 0 {
		prevSupp = p.conns[p.supp]
	}
	var oldSupp *connRecord
	if removedWasPrimary && p.supp >= 0 && p.supp != idx {
		oldSupp = p.conns[p.supp]
	}
	removedRec := p.conns[idx]
	p.conns = append(p.conns[:idx:idx], p.conns[idx+1:]...)

	p.reelectLocked()
	p.ratePrimary.Reset()
	p.rateSupp.Reset()
	p.sync = nil
	p.lastOffsetS = 0
	p.lastConfidence = 0

	var restart *connRecord
	var restartDone chan struct{}
	if oldSupp != nil {
		restartDone = oldSupp.done
		if p.running {
			if p.primary >= 0 && p.conns[p.primary] == oldSupp {
				restart = oldSupp
			} else if p.supp >= 0 && p.conns[p.supp] == oldSupp {
				restart = oldSupp
			}
		}
	}
	if !removedWasPrimary && p.running && p.primary >= 0 && p.conns[p.primary] == prevPrimary &&
		p.supp >= 0 && p.conns[p.supp] != prevSupp {
		p.startWorkerLocked(p.conns[p.supp])
	}
	p.mu.Unlock()

	removedRec.driver.Disconnect(true)
	if oldSupp != nil {
		oldSupp.driver.Disconnect(true)
	}
	if restart != nil {
		if restartDone != nil {
			<-restartDone
		}
		p.mu.Lock()
		p.startWorkerLocked(restart)
		p.mu.Unlock()
	}
}

// BlockOnActive starts the primary's (and, if present, the supplemental's)
// worker goroutine and blocks until the primary's worker exits, then
// soft-disconnects and waits for the supplemental's worker too.
func (p *Pool) BlockOnActive() error {
	p.mu.Lock()
	if p.primary < 0 {
		p.mu.Unlock()
		return ErrNoPrimary
	}
	p.running = true
	primaryRec := p.conns[p.primary]
	p.startWorkerLocked(primaryRec)
	primaryDone := primaryRec.done

	var suppRec *connRecord
	var suppDone chan struct{}
	if p.supp >= 0 {
		suppRec = p.conns[p.supp]
		p.startWorkerLocked(suppRec)
		suppDone = suppRec.done
	}
	p.mu.Unlock()

	<-primaryDone

	if suppRec != nil {
		suppRec.driver.Disconnect(true)
		<-suppDone
	}
	return nil
}

// DisconnectAll soft- or hard-disconnects every connection, tearing down
// time-sync state and rate estimators.
func (p *Pool) DisconnectAll(soft bool) {
	p.mu.Lock()
	drivers := make([]xrdriver.Driver, 0, len(p.conns))
	for _, c := range p.conns {
		c.active = false
		drivers = append(drivers, c.driver)
	}
	p.sync = nil
	p.lastOffsetS = 0
	p.lastConfidence = 0
	p.ratePrimary.Reset()
	p.rateSupp.Reset()
	p.mu.Unlock()

	for _, d := range drivers {
		d.Disconnect(soft)
	}
}

// DeviceIsSBSMode forwards to the primary's driver, or returns false if
// there is none. The lock is released before the driver call; the driver's
// SBS query may reacquire it.
func (p *Pool) DeviceIsSBSMode() bool {
	d := p.primaryDriver()
	if d == nil {
		return false
	}
	return d.IsSBSMode()
}

// DeviceSetSBSMode forwards to the primary's driver, or returns false if
// there is none.
func (p *Pool) DeviceSetSBSMode(enabled bool) bool {
	d := p.primaryDriver()
	if d == nil {
		return false
	}
	return d.SetSBSMode(enabled)
}

func (p *Pool) primaryDriver() xrdriver.Driver {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.primary < 0 {
		return nil
	}
	return p.conns[p.primary].driver
}

// IngestPose is the pool's sample-ingestion entry point, called by a
// connection's worker for every new sample it reads. It updates rate
// estimators and time-sync state, and, for primary samples, computes the
// fused pose and invokes the pool's PoseHandler outside the lock.
func (p *Pool) IngestPose(driverID string, pose imupose.Pose) {
	p.mu.Lock()
	rec := p.findByIDLocked(driverID)
	if rec == nil {
		p.mu.Unlock()
		return
	}
	rec.lastQuat = pose.Orientation
	rec.lastTSMs = pose.TimestampMS
	rec.haveLast = true

	source := -1
	switch {
	case p.primary >= 0 && p.conns[p.primary] == rec:
		source = 0
		p.ratePrimary.Add(pose.TimestampMS)
	case p.supp >= 0 && p.conns[p.supp] == rec:
		source = 1
		p.rateSupp.Add(pose.TimestampMS)
	}

	if p.sync == nil && p.primary >= 0 && p.supp >= 0 && p.ratePrimary.Ready() && p.rateSupp.Ready() {
		r1, _ := p.ratePrimary.RateHz()
		r2, _ := p.rateSupp.RateHz()
		p.sync = timesync.New(p.windowDurationS, r1, r2)
		pr := p.conns[p.primary]
		pr.refQuat, pr.refSet = pr.lastQuat, true
		sr := p.conns[p.supp]
		sr.refQuat, sr.refSet = sr.lastQuat, true
	}

	ref := quat.Identity
	if rec.refSet {
		ref = rec.refQuat
	}
	rec.lastRelQuat = quat.Multiply(quat.Conjugate(ref), pose.Orientation)

	if p.sync != nil && source >= 0 {
		p.sync.AddQuaternionSample(source, rec.lastRelQuat)
		if p.sync.Ready() {
			if res, err := p.sync.ComputeOffset(); err == nil {
				p.lastOffsetS = res.OffsetSeconds
				p.lastConfidence = res.Confidence
			}
		}
	}

	isPrimary := source == 0
	var fused imupose.Pose
	if isPrimary {
		fused = p.blendLocked(pose.TimestampMS)
	}
	handler := p.onPose
	p.mu.Unlock()

	if isPrimary && handler != nil {
		handler(driverID, fused)
	}
}

// blendLocked computes the fused orientation: the primary's relative
// quaternion, unless a supplemental is present with confidence above the
// 0.2 floor, in which case it is a confidence-weighted linear blend,
// renormalized. Called with the lock held.
func (p *Pool) blendLocked(tsMS uint32) imupose.Pose {
	q1 := quat.Identity
	if p.primary >= 0 {
		pr := p.conns[p.primary]
		if pr.haveLast {
			q1 = pr.lastRelQuat
		}
	}
	if p.supp < 0 || p.lastConfidence <= 0.2 {
		return imupose.Pose{Orientation: q1, HasOrientation: true, TimestampMS: tsMS}
	}
	sr := p.conns[p.supp]
	if !sr.haveLast {
		return imupose.Pose{Orientation: q1, HasOrientation: true, TimestampMS: tsMS}
	}
	w := p.lastConfidence
	if w > 1 {
		w = 1
	} else if w < 0 {
		w = 0
	}
	q2 := sr.lastRelQuat
	blended := quat.Quat{
		X: (1-w)*q1.X + w*q2.X,
		Y: (1-w)*q1.Y + w*q2.Y,
		Z: (1-w)*q1.Z + w*q2.Z,
		W: (1-w)*q1.W + w*q2.W,
	}
	return imupose.Pose{Orientation: quat.Normalize(blended), HasOrientation: true, TimestampMS: tsMS}
}

// startWorkerLocked spawns the worker goroutine for rec, unless one is
// already running. Must be called with the lock held; the goroutine itself
// acquires the lock only via IngestPose and markWorkerStopped.
func (p *Pool) startWorkerLocked(rec *connRecord) {
	if rec.workerRunning {
		return
	}
	rec.workerRunning = true
	rec.active = true
	rec.done = make(chan struct{})
	go p.runWorker(rec)
}

func (p *Pool) runWorker(rec *connRecord) {
	defer close(rec.done)
	defer p.markWorkerStopped(rec.driverID)
	if err := rec.driver.Connect(); err != nil {
		return
	}
	_ = rec.driver.BlockOnDevice(p.IngestPose)
}

func (p *Pool) markWorkerStopped(driverID string) {
	p.mu.Lock()
	if rec := p.findByIDLocked(driverID); rec != nil {
		rec.workerRunning = false
		rec.active = false
	}
	p.mu.Unlock()
}

func (p *Pool) reelectLocked() {
	p.primary = pickPrimary(p.conns)
	p.supp = pickSupplemental(p.conns, p.primary)
}

func (p *Pool) suppDriverIDLocked() string {
	if p.supp < 0 {
		return ""
	}
	return p.conns[p.supp].driverID
}

func (p *Pool) indexByIDLocked(driverID string) int {
	for i, c := range p.conns {
		if c.driverID == driverID {
			return i
		}
	}
	return -1
}

func (p *Pool) findByIDLocked(driverID string) *connRecord {
	if idx := p.indexByIDLocked(driverID); idx >= 0 {
		return p.conns[idx]
	}
	return nil
}

// pickPrimary returns the first index whose device is not
// CanBeSupplemental, or index 0 if any connection is present and all are
// supplemental-capable, or -1 if conns is empty.
func pickPrimary(conns []*connRecord) int {
	for i, c := range conns {
		if !c.supplemental {
			return i
		}
	}
	if len(conns) > 0 {
		return 0
	}
	return -1
}

// pickSupplemental returns the first index other than primaryIdx whose
// device is supplemental-capable, or -1 if none.
func pickSupplemental(conns []*connRecord, primaryIdx int) int {
	for i, c := range conns {
		if i == primaryIdx {
			continue
		}
		if c.supplemental {
			return i
		}
	}
	return -1
}
