// Copyright 2025 The XRFusion Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build usb
// +build usb

package hotplug

import (
	"sync"
	"time"

	"github.com/google/gousb"
)

// pollInterval is how often USBSource re-enumerates the bus looking for
// arrivals/departures. github.com/google/gousb does not expose a portable
// hotplug callback, so the bus is polled instead.
const pollInterval = 500 * time.Millisecond

// USBSource implements Source by periodically re-listing the USB bus via
// gousb and diffing against the previous snapshot. It does not hold any
// device open between scans; Probe calls in the supervisor must not leave
// claims behind either.
type USBSource struct {
	ctx *gousb.Context

	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewUSBSource starts polling the USB bus for arrivals/departures of any
// vendor/product.
func NewUSBSource() *USBSource {
	s := &USBSource{
		ctx:    gousb.NewContext(),
		events: make(chan Event, 16),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.loop()
	return s
}

func (s *USBSource) Events() <-chan Event {
	return s.events
}

func (s *USBSource) Close() error {
	close(s.done)
	s.wg.Wait()
	close(s.events)
	return s.ctx.Close()
}

func (s *USBSource) loop() {
	defer s.wg.Done()
	var prev []identity
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			cur := s.snapshot()
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

// snapshot lists every device currently on the bus without keeping any of
// them open.
func (s *USBSource) snapshot() []identity {
	var out []identity
	devs, _ := s.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		out = append(out, identity{
			vendor:  uint16(desc.Vendor),
			product: uint16(desc.Product),
			bus:     uint8(desc.Bus),
			addr:    uint8(desc.Address),
		})
		return false
	})
	for _, d := range devs {
		d.Close()
	}
	sortIdentities(out)
	return out
}
