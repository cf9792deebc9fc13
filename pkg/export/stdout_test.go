// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package export

import (
	"bytes"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// udpFrame builds a valid ethernet/IPv4/UDP frame for summary tests.
func udpFrame(t *testing.T) []byte {
	t.Helper()

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(10, 0, 0, 1),
		DstIP:    net.IPv4(10, 0, 0, 2),
	}
	udp := &layers.UDP{SrcPort: 40000, DstPort: 53}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatal(err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload([]byte("query"))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestStdoutSinkTextSummary(t *testing.T) {
	var out bytes.Buffer
	sink := NewStdoutSink("text", layers.LinkTypeEthernet)
	sink.out = &out

	data := udpFrame(t)
	ci := gopacket.CaptureInfo{
		Timestamp:     time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC),
		CaptureLength: len(data),
		Length:        len(data),
	}
	if err := sink.WritePacket(data, ci); err != nil {
		t.Fatalf("WritePacket: %v", err)
	}

	line := out.String()
	for _, want := range []string{"UDP", "10.0.0.1:40000", "10.0.0.2:53", ">"} {
		if !strings.Contains(line, want) {
			t.Errorf("summary %q missing %q", line, want)
		}
	}
}

func TestStdoutSinkJSONSummary(t *testing.T) {
	var out bytes.Buffer
	sink := NewStdoutSink("json", layers.LinkTypeEthernet)
	sink.out = &out

	data := udpFrame(t)
	ci := gopacket.CaptureInfo{
		Timestamp:     time.Now(),
		CaptureLength: len(data),
		Length:        len(data),
	}
	if err := sink.WritePacket(data, ci); err != nil {
		t.Fatalf("WritePacket: %v", err)
	}

	var got map[string]interface{}
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if got["protocol"] != "UDP" {
		t.Errorf("protocol = %v", got["protocol"])
	}
	if got["src"] != "10.0.0.1:40000" || got["dst"] != "10.0.0.2:53" {
		t.Errorf("endpoints = %v > %v", got["src"], got["dst"])
	}
	if int(got["length"].(float64)) != len(data) {
		t.Errorf("length = %v, want %d", got["length"], len(data))
	}
}

func TestStdoutSinkUndecodablePacket(t *testing.T) {
	var out bytes.Buffer
	sink := NewStdoutSink("text", layers.LinkTypeEthernet)
	sink.out = &out

	// Too short for an ethernet header.
	data := []byte{0x01, 0x02}
	ci := gopacket.CaptureInfo{Timestamp: time.Now(), CaptureLength: 2, Length: 2}
	if err := sink.WritePacket(data, ci); err != nil {
		t.Fatalf("WritePacket: %v", err)
	}
	if out.Len() == 0 {
		t.Error("no summary printed for an undecodable packet")
	}
}

func TestStdoutSinkDefaultFormat(t *testing.T) {
	sink := NewStdoutSink("", layers.LinkTypeEthernet)
	if sink.format != "text" {
		t.Errorf("format = %q, want text", sink.format)
	}
}
