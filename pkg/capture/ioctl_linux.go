// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

//go:build linux

package capture

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// ioctlIfreq issues a single interface ioctl against fd. The request record
// is a short-lived per-call value; response fields are read out of it by the
// caller immediately after a successful return. No retries: one failed
// attempt is terminal for that call.
func ioctlIfreq(fd int, req uint, name string, ifr *unix.Ifreq) error {
	if err := unix.IoctlIfreq(fd, req, ifr); err != nil {
		return fmt.Errorf("%s on %q: %w", name, ifr.Name(), err)
	}
	return nil
}

// dgramSocket opens an unconnected datagram socket of the given address
// family. The caller owns the returned descriptor.
func dgramSocket(family int) (int, error) {
	fd, err := unix.Socket(family, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("socket(%d, SOCK_DGRAM): %w", family, err)
	}
	return fd, nil
}

// htons converts a short from host to network byte order.
func htons(v uint16) uint16 {
	return v<<8 | v>>8
}
