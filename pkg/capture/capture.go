// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package capture implements single-interface live packet capture.
//
// A Session binds one network interface and, once activated, delivers raw
// frames to a caller-supplied callback one at a time. The session owns two
// descriptors: an AF_PACKET socket that receives frames and an AF_INET
// datagram socket used only for interface ioctls (flags, index). Filtering
// happens entirely in user space against an already-compiled BPF program;
// no kernel-side filter is installed.
//
// Sessions are single-consumer: exactly one goroutine is expected to drive
// ReadPacket. The capture descriptor is exposed via Fd for external
// readiness polling, and BreakLoop provides coarse cooperative cancellation
// from other goroutines.
package capture

import (
	"time"

	"github.com/google/gopacket"
)

const (
	// MaximumSnapLen is the largest per-packet snapshot length a session
	// will honor. Requests outside [1, MaximumSnapLen] are replaced with
	// this value at activation time.
	MaximumSnapLen = 262144

	// captureBufSize is the fixed receive buffer capacity. The buffer holds
	// at most one in-flight frame; the kernel socket queue is the only
	// buffering between the interface and the callback.
	// TODO: size from the interface MTU instead of a fixed 64 KiB.
	captureBufSize = 64 * 1024
)

// Handler is invoked once per delivered packet. The data slice aliases the
// session's receive buffer and is only valid for the duration of the call;
// ci.Length carries the original on-wire length, ci.CaptureLength the number
// of bytes actually delivered.
type Handler func(data []byte, ci gopacket.CaptureInfo)

// Config holds the capture options fixed at activation time.
type Config struct {
	// SnapLen is the requested per-packet snapshot length. Values <= 0 or
	// greater than MaximumSnapLen select MaximumSnapLen.
	SnapLen int

	// Promiscuous requests promiscuous mode on the interface. The flag is
	// interface-wide, not session-private: activation records the
	// pre-existing state and Close only clears the flag if this session
	// set it and it is still set at teardown time.
	Promiscuous bool
}

// Stats is a point-in-time snapshot of a session's capture statistics.
type Stats struct {
	// Received counts packets pulled off the capture socket, including
	// packets later rejected by the filter.
	Received uint64

	// DroppedByFilter counts packets rejected by the session's BPF program.
	DroppedByFilter uint64

	// InterfaceDrops is the number of packets the kernel reports dropped
	// on the interface since this session activated. The underlying
	// counter is fixed-width and the delta wraps if it does.
	InterfaceDrops uint64
}

// clampSnapLen normalizes a requested snapshot length into
// [1, MaximumSnapLen]. Zero and negative values mean "unspecified" and
// select the maximum, as do excessive values.
func clampSnapLen(requested int) int {
	if requested <= 0 || requested > MaximumSnapLen {
		return MaximumSnapLen
	}
	return requested
}

// capInfo composes the per-packet header delivered to the callback.
// CaptureLength never exceeds the configured snapshot length.
func capInfo(ts time.Time, received, snapLen, ifindex int) gopacket.CaptureInfo {
	caplen := received
	if caplen > snapLen {
		caplen = snapLen
	}
	return gopacket.CaptureInfo{
		Timestamp:      ts,
		CaptureLength:  caplen,
		Length:         received,
		InterfaceIndex: ifindex,
	}
}
