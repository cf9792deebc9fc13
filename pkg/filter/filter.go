// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package filter compiles tcpdump-style filter expressions into BPF
// programs. The capture session only executes already-compiled programs;
// this package is the compilation boundary in front of it.
package filter

import (
	"fmt"
	"strings"

	pcapfilter "github.com/packetcap/go-pcap/filter"
	"golang.org/x/net/bpf"
)

// Compile translates an expression like "tcp port 80" into a BPF program
// suitable for Session.SetFilter. An empty or blank expression compiles to
// nil, meaning "accept everything".
func Compile(expr string) ([]bpf.Instruction, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, nil
	}

	prog, err := pcapfilter.NewExpression(expr).Compile().Compile()
	if err != nil {
		return nil, fmt.Errorf("compile filter %q: %w", expr, err)
	}
	return prog, nil
}
