// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

//go:build !linux

package capture

import (
	"fmt"
	"runtime"

	"github.com/google/gopacket/layers"
	"go.uber.org/zap"
	"golang.org/x/net/bpf"
)

// Session is a stub on platforms without AF_PACKET support.
type Session struct{}

func NewSession(device string, cfg Config, logger *zap.Logger) (*Session, error) {
	return nil, fmt.Errorf("capture: %s: %w", runtime.GOOS, ErrNotSupported)
}

func (s *Session) Activate() error                    { return ErrNotSupported }
func (s *Session) ReadPacket(fn Handler) (int, error) { return 0, ErrNotSupported }
func (s *Session) SetFilter([]bpf.Instruction) error  { return ErrNotSupported }
func (s *Session) BreakLoop()                         {}
func (s *Session) Inject([]byte) (int, error)         { return 0, ErrNotSupported }
func (s *Session) Stats() (Stats, error)              { return Stats{}, ErrNotSupported }
func (s *Session) Close()                             {}
func (s *Session) Fd() int                            { return -1 }
func (s *Session) SetNonblock(bool) error             { return ErrNotSupported }
func (s *Session) Nonblock() bool                     { return false }
func (s *Session) Device() string                     { return "" }
func (s *Session) LinkType() layers.LinkType          { return 0 }
func (s *Session) SnapLen() int                       { return 0 }

func Devices() ([]Device, error) {
	return nil, fmt.Errorf("capture: %s: %w", runtime.GOOS, ErrNotSupported)
}
