// Copyright 2025 The XRFusion Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package hotplug implements the USB arrival/departure supervisor: it
// watches for XR headsets being plugged in or unplugged and hands each one
// to the first registered adapter whose Probe claims it.
//
// Two Source implementations provide the actual bus watching: a sysfs
// poller (Linux, no cgo) and a gousb-based one behind the "usb" build tag.
// Everything else here is platform-independent and unit-testable against a
// fake Source.
package hotplug

import (
	"log"
	"time"

	"xrfusion.io/x/xrfusion/conn/imupose"
	"xrfusion.io/x/xrfusion/devices/xrdriver"
)

// EventKind distinguishes a device arriving from one departing.
type EventKind int

const (
	// Arrival signals a new USB identity was seen on the bus.
	Arrival EventKind = iota
	// Departure signals a previously seen identity disappeared.
	Departure
)

// Event is a single USB arrival or departure, carrying just the device's
// bus identity.
type Event struct {
	Kind      EventKind
	VendorID  uint16
	ProductID uint16
	Bus       uint8
	Address   uint8
}

// Source is the narrow USB-bus contract the supervisor needs: a channel of
// arrival/departure events and a way to tear it down. Production code
// backs this with SysfsSource or USBSource; tests use a fake that feeds
// Event values directly.
type Source interface {
	Events() <-chan Event
	Close() error
}

// AdapterEntry pairs an adapter's pure Probe function with the Driver
// constructor invoked once Probe claims a device, and the human-readable
// name used for logging and priority ordering.
type AdapterEntry struct {
	Name  string
	Probe xrdriver.Probe
	// Open constructs the Driver for a device Probe has already claimed.
	// It must not itself touch the USB transport; Connect does that
	// lazily.
	Open func(props *imupose.DeviceProperties) xrdriver.Driver
}

// Pool is the narrow contract the connection pool exposes to the
// supervisor: the supervisor only ever hands the pool a stable driverID
// plus a Driver, never a reference to itself.
type Pool interface {
	HandleDeviceAdded(driverID string, driver xrdriver.Driver, device *imupose.DeviceProperties)
	HandleDeviceRemoved(driverID string)
}

// eventTimeout bounds each read from Source.Events() so teardown stays
// responsive even if the source never emits again.
const eventTimeout = 5 * time.Second

// Supervisor dispatches USB arrival/departure events to a Pool, matching
// arrivals against a platform-priority-ordered adapter list.
type Supervisor struct {
	adapters []AdapterEntry
	source   Source
	pool     Pool

	// byDriverID tracks which adapter claimed which currently-present
	// device, so a departure event (identified only by vendor/product/bus/
	// address) can be translated back to the driverID the pool knows it by.
	byDriverID map[string]Event
}

// New returns a Supervisor that dispatches events from source to pool,
// trying adapters in the given priority order (the first whose Probe
// returns true for a given identity claims the device).
func New(adapters []AdapterEntry, source Source, pool Pool) *Supervisor {
	return &Supervisor{
		adapters:   adapters,
		source:     source,
		pool:       pool,
		byDriverID: make(map[string]Event),
	}
}

// Run pumps events from the source until stop is closed, processing each
// arrival/departure synchronously. Callers run it in its own goroutine.
func (s *Supervisor) Run(stop <-chan struct{}) {
	events := s.source.Events()
	for {
		select {
		case <-stop:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handle(ev)
		case <-time.After(eventTimeout):
			// No event within the timeout window; loop back around so a
			// closed stop channel is still noticed promptly.
		}
	}
}

func (s *Supervisor) handle(ev Event) {
	switch ev.Kind {
	case Arrival:
		s.handleArrival(ev)
	case Departure:
		s.handleDeparture(ev)
	}
}

func (s *Supervisor) handleArrival(ev Event) {
	for _, a := range s.adapters {
		props, ok := a.Probe(ev.VendorID, ev.ProductID, ev.Bus, ev.Address)
		if !ok {
			continue
		}
		driver := a.Open(props)
		driverID := driver.DriverID()
		s.byDriverID[driverID] = ev
		s.pool.HandleDeviceAdded(driverID, driver, props)
		return
	}
	log.Printf("hotplug: no adapter claimed %04x:%04x at bus %d addr %d", ev.VendorID, ev.ProductID, ev.Bus, ev.Address)
}

func (s *Supervisor) handleDeparture(ev Event) {
	for id, seen := range s.byDriverID {
		if seen.VendorID == ev.VendorID && seen.ProductID == ev.ProductID && seen.Bus == ev.Bus && seen.Address == ev.Address {
			delete(s.byDriverID, id)
			s.pool.HandleDeviceRemoved(id)
			return
		}
	}
}
