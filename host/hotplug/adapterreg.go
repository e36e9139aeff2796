// Copyright 2025 The XRFusion Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package hotplug

import (
	"fmt"
	"sort"
	"sync"

	"xrfusion.io/x/xrfusion/conn/imupose"
	"xrfusion.io/x/xrfusion/devices/xrdriver"
)

// Register registers a device adapter so the supervisor can offer arriving
// devices to it.
//
// Registering the same adapter name twice is an error. priority orders the
// probe sequence: lower values are offered a device first, and ties break
// on the name. Adapters register themselves at driver-Init() time, so the
// set available to a Supervisor depends on which adapter packages the
// binary linked in and which of them loaded on this platform.
func Register(name string, priority int, probe xrdriver.Probe, open func(props *imupose.DeviceProperties) xrdriver.Driver) error {
	if len(name) == 0 {
		return fmt.Errorf("hotplug: can't register an adapter with no name")
	}
	if probe == nil {
		return fmt.Errorf("hotplug: can't register adapter %q with nil probe", name)
	}
	if open == nil {
		return fmt.Errorf("hotplug: can't register adapter %q with nil open", name)
	}
	regMu.Lock()
	defer regMu.Unlock()
	if _, ok := regByName[name]; ok {
		return fmt.Errorf("hotplug: can't register adapter %q twice", name)
	}
	regByName[name] = &regEntry{
		entry:    AdapterEntry{Name: name, Probe: probe, Open: open},
		priority: priority,
	}
	return nil
}

// Unregister removes a previously registered adapter.
func Unregister(name string) error {
	regMu.Lock()
	defer regMu.Unlock()
	if _, ok := regByName[name]; !ok {
		return fmt.Errorf("hotplug: can't unregister unknown adapter name %q", name)
	}
	delete(regByName, name)
	return nil
}

// All returns a copy of all the registered adapters, in probe-priority
// order.
func All() []AdapterEntry {
	regMu.Lock()
	defer regMu.Unlock()
	entries := make([]*regEntry, 0, len(regByName))
	for _, e := range regByName {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].priority != entries[j].priority {
			return entries[i].priority < entries[j].priority
		}
		return entries[i].entry.Name < entries[j].entry.Name
	})
	out := make([]AdapterEntry, len(entries))
	for i, e := range entries {
		out[i] = e.entry
	}
	return out
}

type regEntry struct {
	entry    AdapterEntry
	priority int
}

var (
	regMu     sync.Mutex
	regByName = map[string]*regEntry{}
)
