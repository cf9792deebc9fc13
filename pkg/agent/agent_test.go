// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package agent

import (
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/mbeema/snare/pkg/config"
	"github.com/mbeema/snare/pkg/export"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Capture.Interface = "lo"
	cfg.Output.Stdout.Enabled = false
	return cfg
}

func TestNewRejectsMissingInterface(t *testing.T) {
	cfg := testConfig()
	cfg.Capture.Interface = ""

	if _, err := New(cfg, "test", zap.NewNop()); err == nil {
		t.Fatal("expected error for an empty interface name")
	}
}

func TestNewRejectsBadFilter(t *testing.T) {
	cfg := testConfig()
	cfg.Capture.Filter = "not a filter %%"

	if _, err := New(cfg, "test", zap.NewNop()); err == nil {
		t.Fatal("expected error for an uncompilable filter")
	}
}

func TestNewDoesNotActivate(t *testing.T) {
	a, err := New(testConfig(), "test", zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Without Start the session holds no descriptors; Stop must still
	// be clean and idempotent.
	if err := a.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if err := a.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestHandlePacketLeavesHealthCountersToStatsTicker(t *testing.T) {
	// The captured counter is refreshed from Session.Stats on every tick.
	// If the packet path also incremented it, the value would flip between
	// the two sources.
	a, err := New(testConfig(), "test", zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Stop()

	exporter, err := export.NewManager(testConfig(), layers.LinkTypeEthernet, 65535, zap.NewNop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	a.exporter = exporter

	data := []byte{0x01, 0x02, 0x03}
	ci := gopacket.CaptureInfo{Timestamp: time.Now(), CaptureLength: 3, Length: 3}
	a.handlePacket(data, ci)
	a.handlePacket(data, ci)

	if got := a.healthStats.PacketsCaptured.Load(); got != 0 {
		t.Errorf("PacketsCaptured = %d after handlePacket, want 0", got)
	}
	if got := exporter.Written(); got != 2 {
		t.Errorf("exporter written = %d, want 2", got)
	}
}

func TestReloadRejectsBadFilter(t *testing.T) {
	a, err := New(testConfig(), "test", zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Stop()

	next := testConfig()
	next.Capture.Filter = "still not a filter %%"
	a.Reload(next)

	if got := a.cfg.Load().Capture.Filter; got != "" {
		t.Errorf("config updated despite bad filter: %q", got)
	}
	select {
	case <-a.filterCh:
		t.Error("bad filter reached the capture loop")
	default:
	}
}

func TestReloadQueuesNewFilter(t *testing.T) {
	a, err := New(testConfig(), "test", zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Stop()

	next := testConfig()
	next.Capture.Filter = "udp port 53"
	a.Reload(next)

	select {
	case prog := <-a.filterCh:
		if len(prog) == 0 {
			t.Error("empty program queued")
		}
	default:
		t.Error("no filter program queued")
	}
	if got := a.cfg.Load().Capture.Filter; got != "udp port 53" {
		t.Errorf("stored filter = %q", got)
	}
}

func TestReloadCoalescesPendingFilters(t *testing.T) {
	a, err := New(testConfig(), "test", zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Stop()

	first := testConfig()
	first.Capture.Filter = "tcp"
	a.Reload(first)

	second := testConfig()
	second.Capture.Filter = "udp"
	a.Reload(second)

	// Only the latest program should be pending.
	<-a.filterCh
	select {
	case <-a.filterCh:
		t.Error("stale filter program left queued")
	default:
	}
}
