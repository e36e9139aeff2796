// Copyright 2025 The XRFusion Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package xreal

import (
	"errors"

	"xrfusion.io/x/xrfusion"
	"xrfusion.io/x/xrfusion/conn/imupose"
	"xrfusion.io/x/xrfusion/devices/xrdriver"
	"xrfusion.io/x/xrfusion/host/hotplug"
)

// TransportFactory opens the USB transport for a probed device. The
// gousb-backed implementation installs itself here when the binary is
// built with the "usb" tag; when nil the adapter is skipped at Init()
// time. Tests inject fakes through New directly instead.
var TransportFactory func(props *imupose.DeviceProperties) (Transport, error)

// probePriority orders this adapter in the hotplug supervisor's probe
// sequence.
const probePriority = 0

type driver struct{}

func (d *driver) String() string {
	return "xreal"
}

func (d *driver) Prerequisites() []string {
	return nil
}

func (d *driver) Init() (bool, error) {
	if TransportFactory == nil {
		return false, errors.New("no USB transport linked in; build with the usb tag")
	}
	if err := hotplug.Register(d.String(), probePriority, Probe, openDriver); err != nil {
		return true, err
	}
	return true, nil
}

func openDriver(props *imupose.DeviceProperties) xrdriver.Driver {
	return New(props, func() (Transport, error) { return TransportFactory(props) })
}

func init() {
	xrfusion.MustRegister(&drv)
}

var drv driver
