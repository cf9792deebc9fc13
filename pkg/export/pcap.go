// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package export

import (
	"bufio"
	"fmt"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// PCAPSink writes packets to a pcap file readable by tcpdump and
// wireshark.
type PCAPSink struct {
	path string
	f    *os.File
	bw   *bufio.Writer
	w    *pcapgo.Writer
}

// NewPCAPSink creates the file and writes the pcap global header. The
// snapshot length and link type recorded in the header must match the
// capture session that feeds the sink.
func NewPCAPSink(path string, snapLen int, linkType layers.LinkType) (*PCAPSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create pcap file: %w", err)
	}

	bw := bufio.NewWriter(f)
	w := pcapgo.NewWriter(bw)
	if err := w.WriteFileHeader(uint32(snapLen), linkType); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write pcap header: %w", err)
	}

	return &PCAPSink{path: path, f: f, bw: bw, w: w}, nil
}

func (s *PCAPSink) Name() string { return "pcap" }

func (s *PCAPSink) WritePacket(data []byte, ci gopacket.CaptureInfo) error {
	if err := s.w.WritePacket(ci, data); err != nil {
		return fmt.Errorf("write packet to %s: %w", s.path, err)
	}
	return nil
}

// Close flushes buffered records and closes the file.
func (s *PCAPSink) Close() error {
	flushErr := s.bw.Flush()
	closeErr := s.f.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
