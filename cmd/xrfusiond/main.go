// Copyright 2025 The XRFusion Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// xrfusiond aggregates the IMU streams of attached XR glasses into a single
// fused pose published over shared memory.
//
// It watches the USB bus for supported headsets, elects a primary (and,
// when a second pair is present, a supplemental) device, time-aligns the
// two streams and publishes the blended orientation for the renderer to
// read.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"xrfusion.io/x/xrfusion/conn/imupose"
	"xrfusion.io/x/xrfusion/devices/devicereg"
	"xrfusion.io/x/xrfusion/devices/xrdriver"
	"xrfusion.io/x/xrfusion/host"
	"xrfusion.io/x/xrfusion/host/hotplug"
	"xrfusion.io/x/xrfusion/host/pool"
	"xrfusion.io/x/xrfusion/output"
	"xrfusion.io/x/xrfusion/shm"
)

// configRefreshInterval paces the shared-memory config header rewrite.
const configRefreshInterval = 250 * time.Millisecond

// session wires the connection pool, the reference-counted device handle
// and the output pipeline together. It is the hotplug.Pool implementation
// the supervisor drives.
type session struct {
	pool      *pool.Pool
	devices   *devicereg.Handle
	publisher *shm.Publisher
	sink      *output.ShmSink

	mu         sync.Mutex
	byDriver   map[string]*imupose.DeviceProperties
	pipeline   *output.Pipeline
	primaryID  string
	primaryDev *imupose.DeviceProperties
}

func newSession(publisher *shm.Publisher) *session {
	s := &session{
		devices:   &devicereg.Handle{},
		publisher: publisher,
		sink:      output.NewShmSink(publisher),
		byDriver:  map[string]*imupose.DeviceProperties{},
	}
	s.pool = pool.New(s.handlePose)
	return s
}

func (s *session) HandleDeviceAdded(driverID string, driver xrdriver.Driver, device *imupose.DeviceProperties) {
	s.pool.HandleDeviceAdded(driverID, driver, device)
	log.Printf("xrfusiond: %s %s attached (%s)", device.Brand, device.Model, driverID)

	s.mu.Lock()
	s.byDriver[driverID] = device
	s.mu.Unlock()
	s.syncPrimary()
}

func (s *session) HandleDeviceRemoved(driverID string) {
	s.pool.HandleDeviceRemoved(driverID)
	log.Printf("xrfusiond: %s detached", driverID)

	s.mu.Lock()
	delete(s.byDriver, driverID)
	s.mu.Unlock()
	s.syncPrimary()
}

// syncPrimary aligns the device handle and the output pipeline with the
// pool's current primary. The new device is installed before the old one
// is checked in so devicereg's queued-replacement semantics cover the
// swap.
func (s *session) syncPrimary() {
	pid := s.pool.PrimaryDriverID()
	s.mu.Lock()
	if pid == s.primaryID {
		s.mu.Unlock()
		return
	}
	s.primaryID = pid
	prev := s.primaryDev
	device := s.byDriver[pid]
	s.primaryDev = device
	s.mu.Unlock()

	if device != nil {
		s.devices.SetDeviceAndCheckout(device)
		s.installPipeline(device)
	} else {
		s.teardownPipeline()
	}
	if prev != nil {
		s.devices.DeviceCheckin(prev)
	}
}

// installPipeline replaces the output pipeline with one sized for the new
// primary device and rewrites the shared-memory config header.
func (s *session) installPipeline(device *imupose.DeviceProperties) {
	p := output.New(*device, s.sink)
	p.StartWatchdog()

	s.mu.Lock()
	old := s.pipeline
	s.pipeline = p
	s.mu.Unlock()
	if old != nil {
		old.StopWatchdog()
	}

	if err := s.publisher.Reset(); err != nil {
		log.Printf("xrfusiond: reset pose record: %v", err)
	}
	s.refreshConfig()
}

func (s *session) teardownPipeline() {
	s.mu.Lock()
	old := s.pipeline
	s.pipeline = nil
	s.mu.Unlock()
	if old != nil {
		old.StopWatchdog()
	}
	if err := s.publisher.WriteConfig(shm.Config{}); err != nil {
		log.Printf("xrfusiond: clear config: %v", err)
	}
}

// handlePose receives the pool's fused pose for every primary sample.
func (s *session) handlePose(driverID string, pose imupose.Pose) {
	s.mu.Lock()
	p := s.pipeline
	s.mu.Unlock()
	if p == nil {
		return
	}
	if err := p.Ingest(pose); err != nil {
		log.Printf("xrfusiond: publish pose: %v", err)
	}
}

// refreshConfig rewrites the config header from the checked-out device.
func (s *session) refreshConfig() {
	device := s.devices.DeviceCheckout()
	if device == nil {
		return
	}
	defer s.devices.DeviceCheckin(device)
	cfg := shm.Config{
		Enabled: true,
		LookAheadCfg: [4]float32{
			float32(device.LookAhead.Constant),
			float32(device.LookAhead.FrametimeMultiplier),
			float32(device.LookAhead.ScanlineAdjust),
			float32(device.LookAhead.MSCap),
		},
		DisplayResW:       device.ResolutionW,
		DisplayResH:       device.ResolutionH,
		FOV:               float32(device.FOVDegrees),
		LensDistanceRatio: float32(device.LensDistanceRatio),
		SBSEnabled:        s.pool.DeviceIsSBSMode(),
	}
	if err := s.publisher.WriteConfig(cfg); err != nil {
		log.Printf("xrfusiond: write config: %v", err)
	}
}

// runConfigRefresher keeps the rarely-read config header fresh at ~4Hz
// until stop closes.
func (s *session) runConfigRefresher(stop <-chan struct{}) {
	ticker := time.NewTicker(configRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.refreshConfig()
		}
	}
}

func mainImpl() error {
	verbose := flag.Bool("v", false, "verbose mode")
	prefix := flag.String("prefix", "", "shared memory name prefix")
	flag.Parse()
	if !*verbose {
		log.SetOutput(io.Discard)
	}
	log.SetFlags(log.Lmicroseconds)
	if flag.NArg() != 0 {
		return errors.New("unexpected argument, try -help")
	}

	state, err := host.Init()
	if err != nil {
		return err
	}
	for _, d := range state.Loaded {
		log.Printf("xrfusiond: driver %s loaded", d)
	}
	for _, f := range state.Skipped {
		log.Printf("xrfusiond: driver %s", f)
	}
	for _, f := range state.Failed {
		log.Printf("xrfusiond: driver %s", f)
	}

	adapters := hotplug.All()
	if len(adapters) == 0 {
		return errors.New("no device adapter loaded; nothing to watch for")
	}

	seg, err := shm.OpenSegment(shm.IMUSegmentName(*prefix))
	if err != nil {
		return err
	}
	publisher := shm.NewPublisher(seg)
	defer publisher.Close()

	s := newSession(publisher)

	source, err := newSource()
	if err != nil {
		return err
	}
	defer source.Close()

	stop := make(chan struct{})
	supervisorDone := make(chan struct{})
	sup := hotplug.New(adapters, source, s)
	go func() {
		sup.Run(stop)
		close(supervisorDone)
	}()
	go s.runConfigRefresher(stop)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	quit := make(chan struct{})
	go func() {
		<-sig
		log.Printf("xrfusiond: shutting down")
		close(quit)
		// Unblocks BlockOnActive by tearing every worker down.
		s.pool.DisconnectAll(false)
	}()

	for {
		select {
		case <-quit:
			close(stop)
			<-supervisorDone
			s.teardownPipeline()
			return publisher.Reset()
		case <-time.After(time.Second):
		}
		if s.pool.PrimaryDriverID() == "" {
			continue
		}
		if err := s.pool.BlockOnActive(); err != nil {
			log.Printf("xrfusiond: %v", err)
		}
	}
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "xrfusiond: %s.\n", err)
		os.Exit(1)
	}
}
