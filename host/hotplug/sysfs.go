// Copyright 2025 The XRFusion Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package hotplug

import (
	"sort"
	"sync"
	"time"

	"xrfusion.io/x/xrfusion/host/fsutil"
)

// sysfsPollInterval is how often SysfsSource re-reads the sysfs USB tree.
const sysfsPollInterval = 500 * time.Millisecond

// identity is the USB-bus-visible key for one physical device slot.
type identity struct {
	vendor, product uint16
	bus, addr       uint8
}

// SysfsSource implements Source by polling /sys/bus/usb/devices and
// diffing against the previous snapshot. It needs no cgo and no device
// opens at all, which makes it the default on Linux; the gousb-backed
// USBSource (behind the "usb" build tag) is the alternative where libusb
// is available.
type SysfsSource struct {
	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewSysfsSource starts polling sysfs for arrivals/departures of any
// vendor/product. It fails immediately when the sysfs USB tree can't be
// read at all (non-Linux hosts, or usbcore missing).
func NewSysfsSource() (*SysfsSource, error) {
	if _, err := fsutil.EnumerateUSB(); err != nil {
		return nil, err
	}
	s := &SysfsSource{
		events: make(chan Event, 16),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.loop()
	return s, nil
}

func (s *SysfsSource) Events() <-chan Event {
	return s.events
}

func (s *SysfsSource) Close() error {
	close(s.done)
	s.wg.Wait()
	close(s.events)
	return nil
}

func (s *SysfsSource) loop() {
	defer s.wg.Done()
	var prev []identity
	ticker := time.NewTicker(sysfsPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			cur, err := snapshotSysfs()
			if err != nil {
				// A transient sysfs hiccup; keep the previous view rather
				// than reporting every device as departed.
				continue
			}
			for _, ev := range diffIdentities(prev, cur) {
				select {
				case s.events <- ev:
				case <-s.done:
					return
				}
			}
			prev = cur
		}
	}
}

func snapshotSysfs() ([]identity, error) {
	devs, err := fsutil.EnumerateUSB()
	if err != nil {
		return nil, err
	}
	out := make([]identity, 0, len(devs))
	for _, d := range devs {
		out = append(out, identity{vendor: d.VendorID, product: d.ProductID, bus: d.Bus, addr: d.Address})
	}
	sortIdentities(out)
	return out, nil
}

func sortIdentities(ids []identity) {
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].bus != ids[j].bus {
			return ids[i].bus < ids[j].bus
		}
		return ids[i].addr < ids[j].addr
	})
}

// diffIdentities reports the arrivals and departures between two sorted
// snapshots.
func diffIdentities(prev, cur []identity) []Event {
	seen := make(map[identity]bool, len(cur))
	var events []Event
	for _, id := range cur {
		seen[id] = true
	}
	prevSeen := make(map[identity]bool, len(prev))
	for _, id := range prev {
		prevSeen[id] = true
		if !seen[id] {
			events = append(events, Event{Kind: Departure, VendorID: id.vendor, ProductID: id.product, Bus: id.bus, Address: id.addr})
		}
	}
	for _, id := range cur {
		if !prevSeen[id] {
			events = append(events, Event{Kind: Arrival, VendorID: id.vendor, ProductID: id.product, Bus: id.bus, Address: id.addr})
		}
	}
	return events
}
