// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

//go:build linux

package capture

import (
	"github.com/google/gopacket/layers"
	"golang.org/x/sys/unix"
)

// linkTypeForHardware maps the sll_hatype field of the capture socket's
// link-layer address to the framing tag the session reports. The mapping is
// fixed and evaluated once during activation.
//
// ARPHRD_NONE covers tun (L3) interfaces and the tunnel ARPHRD values cover
// the kernel's ipip/GRE/SIT devices; all of these deliver frames without
// link-layer framing, like the loopback device.
func linkTypeForHardware(hatype uint16) (layers.LinkType, bool) {
	switch hatype {
	case unix.ARPHRD_ETHER:
		return layers.LinkTypeEthernet, true
	case unix.ARPHRD_LOOPBACK,
		unix.ARPHRD_NONE,
		unix.ARPHRD_TUNNEL,
		unix.ARPHRD_TUNNEL6,
		unix.ARPHRD_IPGRE,
		unix.ARPHRD_SIT:
		return layers.LinkTypeRaw, true
	default:
		return 0, false
	}
}
