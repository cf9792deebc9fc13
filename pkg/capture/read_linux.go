// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

//go:build linux

package capture

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// ReadPacket receives at most one packet and, if the filter accepts it,
// invokes fn exactly once. The return count is 1 when fn ran, 0 when no
// packet was ready or the filter rejected one. ErrLoopBroken reports a
// BreakLoop interrupt; other errors are fatal to this call but not to the
// session. The embedding event loop decides when to call again.
func (s *Session) ReadPacket(fn Handler) (int, error) {
	if !s.activated {
		return 0, ErrNotActive
	}

	var n int
	for {
		if s.breakFlag.CompareAndSwap(true, false) {
			return 0, ErrLoopBroken
		}
		var err error
		n, err = s.recv(s.buf)
		if err == nil {
			break
		}
		if errno, ok := err.(unix.Errno); ok {
			if errno == unix.EINTR {
				continue
			}
			if errno == unix.EAGAIN {
				// Non-blocking mode, no packet for us.
				return 0, nil
			}
		}
		return 0, fmt.Errorf("recvfrom on %q: %w", s.device, err)
	}

	// Coarse wall-clock stamp taken after receipt; the kernel's own
	// per-packet timestamp is not consulted.
	ts := time.Now()

	s.received.Add(1)

	if n > len(s.buf) {
		return 0, fmt.Errorf("recvfrom returned %d bytes, which exceeds the buffer size %d", n, len(s.buf))
	}
	data := s.buf[:n]

	if s.vm != nil {
		// The program sees the actual received length as both snapshot
		// and wire length, not the configured snapshot length.
		keep, err := s.vm.Run(data)
		if err != nil {
			return 0, fmt.Errorf("filter on %q: %w", s.device, err)
		}
		if keep == 0 {
			s.filtered.Add(1)
			return 0, nil
		}
	}

	ci := capInfo(ts, n, s.snapLen, s.ifindex)
	fn(data[:ci.CaptureLength], ci)
	return 1, nil
}
