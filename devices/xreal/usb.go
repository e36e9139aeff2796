// Copyright 2025 The XRFusion Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build usb
// +build usb

package xreal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/gousb"

	"xrfusion.io/x/xrfusion/conn/imupose"
)

// imuInterfaceNum is the HID interface carrying IMU reports on XREAL Air
// hardware.
const imuInterfaceNum = 3

// readTimeout bounds a single report read so a soft disconnect becomes
// effective within one quantum.
const readTimeout = time.Second

func init() {
	TransportFactory = openUSBTransport
}

// usbTransport drives the glasses' IMU interface through gousb.
type usbTransport struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface
	in   *gousb.InEndpoint
	out  *gousb.OutEndpoint
}

func openUSBTransport(props *imupose.DeviceProperties) (Transport, error) {
	ctx := gousb.NewContext()
	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(props.VendorID), gousb.ID(props.ProductID))
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("xreal: open %04x:%04x: %w", props.VendorID, props.ProductID, err)
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("xreal: device %04x:%04x not found", props.VendorID, props.ProductID)
	}
	// The kernel's hid driver owns the interface by default; reattached on
	// Close.
	if err := dev.SetAutoDetach(true); err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("xreal: autodetach: %w", err)
	}
	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("xreal: claim config: %w", err)
	}
	intf, err := cfg.Interface(imuInterfaceNum, 0)
	if err != nil {
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("xreal: claim interface %d: %w", imuInterfaceNum, err)
	}
	t := &usbTransport{ctx: ctx, dev: dev, cfg: cfg, intf: intf}
	for _, ep := range intf.Setting.Endpoints {
		if ep.Direction == gousb.EndpointDirectionIn && t.in == nil {
			if t.in, err = intf.InEndpoint(ep.Number); err != nil {
				t.Close()
				return nil, fmt.Errorf("xreal: in endpoint: %w", err)
			}
		}
		if ep.Direction == gousb.EndpointDirectionOut && t.out == nil {
			if t.out, err = intf.OutEndpoint(ep.Number); err != nil {
				t.Close()
				return nil, fmt.Errorf("xreal: out endpoint: %w", err)
			}
		}
	}
	if t.in == nil || t.out == nil {
		t.Close()
		return nil, fmt.Errorf("xreal: interface %d lacks IN/OUT endpoints", imuInterfaceNum)
	}
	return t, nil
}

// readTimeoutError marks a read that expired without data; the adapter's
// read loop treats it as transient.
type readTimeoutError struct{}

func (readTimeoutError) Error() string { return "xreal: report read timed out" }
func (readTimeoutError) Timeout() bool { return true }

func (t *usbTransport) ReadReport() ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
	defer cancel()
	buf := make([]byte, t.in.Desc.MaxPacketSize)
	n, err := t.in.ReadContext(ctx, buf)
	if err != nil {
		if ctx.Err() != nil {
			return nil, readTimeoutError{}
		}
		return nil, err
	}
	return buf[:n], nil
}

func (t *usbTransport) WriteInit(payload []byte) error {
	_, err := t.out.Write(payload)
	return err
}

func (t *usbTransport) Close() error {
	if t.intf != nil {
		t.intf.Close()
		t.intf = nil
	}
	if t.cfg != nil {
		t.cfg.Close()
		t.cfg = nil
	}
	var err error
	if t.dev != nil {
		err = t.dev.Close()
		t.dev = nil
	}
	if t.ctx != nil {
		if cerr := t.ctx.Close(); err == nil {
			err = cerr
		}
		t.ctx = nil
	}
	return err
}
