// Copyright 2025 The XRFusion Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package fsutil reads USB device identities out of the Linux sysfs tree.
//
// It is the cgo-free path to bus enumeration: each directory under
// /sys/bus/usb/devices that represents a device (not an interface) exposes
// idVendor, idProduct, busnum and devnum as small text files.
package fsutil

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// usbDevicesDir is where the kernel exposes the USB device tree.
const usbDevicesDir = "/sys/bus/usb/devices"

// USBDevice is one enumerated device's bus identity.
type USBDevice struct {
	VendorID  uint16
	ProductID uint16
	Bus       uint8
	Address   uint8
}

// EnumerateUSB lists every USB device currently visible in sysfs.
//
// Entries that can't be fully parsed are skipped rather than failing the
// whole enumeration; a device mid-departure routinely has its attribute
// files vanish between the directory listing and the reads.
func EnumerateUSB() ([]USBDevice, error) {
	return enumerateUSB(usbDevicesDir)
}

func enumerateUSB(dir string) ([]USBDevice, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []USBDevice
	for _, e := range entries {
		name := e.Name()
		// "1-1.4:1.0" style entries are interfaces, not devices.
		if strings.ContainsRune(name, ':') {
			continue
		}
		p := filepath.Join(dir, name)
		vendor, err := readHex16(filepath.Join(p, "idVendor"))
		if err != nil {
			continue
		}
		product, err := readHex16(filepath.Join(p, "idProduct"))
		if err != nil {
			continue
		}
		bus, err := readDec8(filepath.Join(p, "busnum"))
		if err != nil {
			continue
		}
		addr, err := readDec8(filepath.Join(p, "devnum"))
		if err != nil {
			continue
		}
		out = append(out, USBDevice{VendorID: vendor, ProductID: product, Bus: bus, Address: addr})
	}
	return out, nil
}

func readHex16(path string) (uint16, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 16, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}

func readDec8(path string) (uint8, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 8)
	if err != nil {
		return 0, err
	}
	return uint8(v), nil
}
