// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

//go:build linux

package capture

import (
	"fmt"
	"net"
	"strings"

	"golang.org/x/sys/unix"
)

// Devices enumerates the system's interfaces eligible for capture, with
// their connection status. Interfaces the kernel cannot capture on are
// omitted.
func Devices() ([]Device, error) {
	if !kernelSupportsCapture(kernelRelease()) {
		return nil, fmt.Errorf("capture: packet sockets are not supported on this kernel")
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}

	fd, err := dgramSocket(unix.AF_INET)
	if err != nil {
		return nil, err
	}
	defer unix.Close(fd)

	devices := make([]Device, 0, len(ifaces))
	for _, iface := range ifaces {
		d := Device{
			Name:     iface.Name,
			Index:    iface.Index,
			Loopback: iface.Flags&net.FlagLoopback != 0,
		}
		flags, err := interfaceFlags(fd, iface.Name)
		if err != nil {
			// The interface may have vanished mid-enumeration.
			continue
		}
		d.Status = connectionStatus(iface.Name, d.Loopback, flags)
		devices = append(devices, d)
	}
	return devices, nil
}

// interfaceFlags reads the interface flag word through the flags ioctl.
func interfaceFlags(fd int, name string) (uint16, error) {
	ifr, err := unix.NewIfreq(name)
	if err != nil {
		return 0, err
	}
	if err := ioctlIfreq(fd, unix.SIOCGIFFLAGS, "SIOCGIFFLAGS", ifr); err != nil {
		return 0, err
	}
	return ifr.Uint16(), nil
}

// connectionStatus classifies link state. Loopback and tunnel interfaces
// have no meaningful link state; tunnels are recognized by name prefix,
// since tap devices share ARPHRD_ETHER with real Ethernet interfaces.
func connectionStatus(name string, loopback bool, flags uint16) ConnectionStatus {
	if loopback || strings.HasPrefix(name, "tun") || strings.HasPrefix(name, "tap") {
		return StatusNotApplicable
	}
	if flags&uint16(unix.IFF_RUNNING) != 0 {
		return StatusConnected
	}
	return StatusDisconnected
}
