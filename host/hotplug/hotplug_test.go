// Copyright 2025 The XRFusion Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package hotplug

import (
	"sync"
	"testing"
	"time"

	"xrfusion.io/x/xrfusion/conn/imupose"
	"xrfusion.io/x/xrfusion/devices/xrdriver"
)

type fakeSource struct {
	ch chan Event
}

func newFakeSource() *fakeSource { return &fakeSource{ch: make(chan Event, 8)} }

func (f *fakeSource) Events() <-chan Event { return f.ch }
func (f *fakeSource) Close() error         { close(f.ch); return nil }

type fakeDriver struct {
	id string
}

func (d *fakeDriver) DriverID() string                         { return d.id }
func (d *fakeDriver) Connect() error                           { return nil }
func (d *fakeDriver) BlockOnDevice(xrdriver.PoseHandler) error { return nil }
func (d *fakeDriver) IsConnected() bool                        { return true }
func (d *fakeDriver) Disconnect(bool)                          {}
func (d *fakeDriver) IsSBSModeSupported() bool                 { return false }
func (d *fakeDriver) IsSBSMode() bool                          { return false }
func (d *fakeDriver) SetSBSMode(bool) bool                     { return false }

type fakePool struct {
	mu      sync.Mutex
	added   []string
	removed []string
}

func (p *fakePool) HandleDeviceAdded(driverID string, _ xrdriver.Driver, _ *imupose.DeviceProperties) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.added = append(p.added, driverID)
}
func (p *fakePool) HandleDeviceRemoved(driverID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removed = append(p.removed, driverID)
}
func (p *fakePool) addedIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.added...)
}
func (p *fakePool) removedIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.removed...)
}

func probeVendor(vid uint16, name string) xrdriver.Probe {
	return func(vendorID, productID uint16, bus, address uint8) (*imupose.DeviceProperties, bool) {
		if vendorID != vid {
			return nil, false
		}
		return &imupose.DeviceProperties{Brand: name, VendorID: vendorID, ProductID: productID, USBBus: bus, USBAddr: address}, true
	}
}

func TestSupervisorArrivalClaimsFirstMatchingAdapter(t *testing.T) {
	src := newFakeSource()
	pool := &fakePool{}
	adapters := []AdapterEntry{
		{Name: "vendor-a", Probe: probeVendor(0x1111, "A"), Open: func(p *imupose.DeviceProperties) xrdriver.Driver {
			return &fakeDriver{id: "a-1"}
		}},
		{Name: "vendor-b", Probe: probeVendor(0x2222, "B"), Open: func(p *imupose.DeviceProperties) xrdriver.Driver {
			return &fakeDriver{id: "b-1"}
		}},
	}
	sup := New(adapters, src, pool)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() { sup.Run(stop); close(done) }()

	src.ch <- Event{Kind: Arrival, VendorID: 0x2222, ProductID: 0x01, Bus: 1, Address: 5}
	waitFor(t, func() bool { return len(pool.addedIDs()) == 1 })
	if got := pool.addedIDs(); got[0] != "b-1" {
		t.Fatalf("added = %v, want b-1", got)
	}

	close(stop)
	<-done
}

func TestSupervisorDeparture(t *testing.T) {
	src := newFakeSource()
	pool := &fakePool{}
	adapters := []AdapterEntry{
		{Name: "vendor-a", Probe: probeVendor(0x1111, "A"), Open: func(p *imupose.DeviceProperties) xrdriver.Driver {
			return &fakeDriver{id: "a-1"}
		}},
	}
	sup := New(adapters, src, pool)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() { sup.Run(stop); close(done) }()

	src.ch <- Event{Kind: Arrival, VendorID: 0x1111, ProductID: 0x01, Bus: 2, Address: 9}
	waitFor(t, func() bool { return len(pool.addedIDs()) == 1 })

	src.ch <- Event{Kind: Departure, VendorID: 0x1111, ProductID: 0x01, Bus: 2, Address: 9}
	waitFor(t, func() bool { return len(pool.removedIDs()) == 1 })
	if got := pool.removedIDs(); got[0] != "a-1" {
		t.Fatalf("removed = %v, want a-1", got)
	}

	close(stop)
	<-done
}

func TestSupervisorArrivalWithNoMatchingAdapterIsIgnored(t *testing.T) {
	src := newFakeSource()
	pool := &fakePool{}
	sup := New(nil, src, pool)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() { sup.Run(stop); close(done) }()

	src.ch <- Event{Kind: Arrival, VendorID: 0x9999, ProductID: 0x01, Bus: 1, Address: 1}
	time.Sleep(20 * time.Millisecond)
	if got := pool.addedIDs(); len(got) != 0 {
		t.Fatalf("added = %v, want none", got)
	}

	close(stop)
	<-done
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestAdapterRegistry(t *testing.T) {
	defer func() {
		Unregister("zz-low")
		Unregister("aa-high")
	}()
	open := func(p *imupose.DeviceProperties) xrdriver.Driver { return &fakeDriver{id: "x"} }
	if err := Register("zz-low", 0, probeVendor(0x1111, "A"), open); err != nil {
		t.Fatal(err)
	}
	if err := Register("aa-high", 1, probeVendor(0x2222, "B"), open); err != nil {
		t.Fatal(err)
	}
	if err := Register("zz-low", 0, probeVendor(0x1111, "A"), open); err == nil {
		t.Fatal("duplicate registration must fail")
	}
	all := All()
	if len(all) != 2 || all[0].Name != "zz-low" || all[1].Name != "aa-high" {
		t.Fatalf("All() = %+v, want priority order zz-low, aa-high", all)
	}
	if err := Unregister("zz-low"); err != nil {
		t.Fatal(err)
	}
	if err := Unregister("zz-low"); err == nil {
		t.Fatal("double unregister must fail")
	}
	if err := Register("", 0, probeVendor(0x1111, "A"), open); err == nil {
		t.Fatal("empty name must fail")
	}
}

func TestDiffIdentities(t *testing.T) {
	a := identity{vendor: 0x3318, product: 0x0424, bus: 1, addr: 4}
	b := identity{vendor: 0x35ca, product: 0x1011, bus: 1, addr: 5}
	c := identity{vendor: 0x1bbb, product: 0xaf50, bus: 2, addr: 2}

	events := diffIdentities([]identity{a, b}, []identity{b, c})
	var arrivals, departures int
	for _, ev := range events {
		switch ev.Kind {
		case Arrival:
			arrivals++
			if ev.VendorID != c.vendor {
				t.Fatalf("unexpected arrival %+v", ev)
			}
		case Departure:
			departures++
			if ev.VendorID != a.vendor {
				t.Fatalf("unexpected departure %+v", ev)
			}
		}
	}
	if arrivals != 1 || departures != 1 {
		t.Fatalf("got %d arrivals, %d departures, want 1 and 1", arrivals, departures)
	}
	if got := diffIdentities([]identity{a}, []identity{a}); len(got) != 0 {
		t.Fatalf("identical snapshots must produce no events, got %+v", got)
	}
}
