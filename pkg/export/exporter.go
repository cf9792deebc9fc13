// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package export delivers captured packets to sinks and capture
// statistics to an OTLP collector.
package export

import (
	"time"

	"github.com/google/gopacket"
)

// Sink receives captured packets. Implementations are not required to be
// safe for concurrent use; the manager serializes writes.
type Sink interface {
	// Name identifies the sink in logs and counters.
	Name() string

	// WritePacket delivers one packet. data is only valid for the
	// duration of the call; sinks that retain it must copy.
	WritePacket(data []byte, ci gopacket.CaptureInfo) error

	Close() error
}

// StatsPoint is a snapshot of capture counters, exported periodically.
// All counters are cumulative since session activation.
type StatsPoint struct {
	Timestamp time.Time
	Interface string

	Received        uint64 // pulled off the capture socket, including filter-rejected
	DroppedByFilter uint64
	InterfaceDrops  uint64 // kernel-reported drops on the interface
	Written         uint64 // packets delivered to all sinks
	WriteErrors     uint64
}
