// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

//go:build linux

package capture

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/gopacket/layers"
	"go.uber.org/zap"
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

// Session is the long-lived handle for one interface capture. It is created
// unbound to any kernel resource, activated once, driven by a single reader
// goroutine, and closed exactly once (Close is idempotent and safe after a
// partial activation failure).
type Session struct {
	device string
	cfg    Config
	logger *zap.Logger

	// captureFD receives frames; controlFD serves flag and index ioctls.
	// The two have independent lifetimes: either may be closed without
	// implying anything about the other. Both are -1 when not open.
	captureFD int
	controlFD int

	ifindex  int
	linkType layers.LinkType
	snapLen  int
	buf      []byte

	// promiscOriginal is the flag value observed immediately before this
	// session possibly changed it. It is only meaningful once
	// promiscQueried is set; Close must not restore anything otherwise.
	promiscOriginal bool
	promiscQueried  bool

	// recv pulls one datagram into the buffer, reporting the full on-wire
	// length even when truncated. Replaced in tests.
	recv func(buf []byte) (int, error)

	vm        *bpf.VM
	breakFlag atomic.Bool
	activated bool

	// received and filtered are written by the reader goroutine and read
	// by Stats, which may run on another goroutine.
	received       atomic.Uint64
	filtered       atomic.Uint64
	ifdropBaseline uint64

	nonblocking bool
}

// NewSession binds a device name without touching any kernel resource.
// The name is validated up front: it must fit the interface-name size limit
// and the running kernel must support AF_PACKET capture at all.
func NewSession(device string, cfg Config, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if device == "" {
		return nil, errors.New("capture: empty interface name")
	}
	if len(device) >= unix.IFNAMSIZ {
		return nil, fmt.Errorf("capture: interface name %q is too long", device)
	}
	if !kernelSupportsCapture(kernelRelease()) {
		return nil, fmt.Errorf("capture: interface %q does not support capturing traffic on this kernel", device)
	}

	return &Session{
		device:    device,
		cfg:       cfg,
		logger:    logger,
		captureFD: -1,
		controlFD: -1,
	}, nil
}

// Activate opens the session's descriptors, resolves the link type, and
// applies the requested options. On failure every acquired resource is
// released through Close before the error is returned, so the caller never
// observes a half-activated session.
//
// A nil return means the session is capturing. ErrPromiscNotSupported is a
// warning: the session is capturing, but without promiscuous mode.
func (s *Session) Activate() error {
	if s.activated {
		return errors.New("capture: session already active")
	}

	var err error
	if s.controlFD, err = dgramSocket(unix.AF_INET); err != nil {
		s.Close()
		return err
	}

	// First call that touches the named interface: a missing device is
	// reported here and nowhere else.
	ifr, err := unix.NewIfreq(s.device)
	if err != nil {
		s.Close()
		return err
	}
	if err := ioctlIfreq(s.controlFD, unix.SIOCGIFINDEX, "SIOCGIFINDEX", ifr); err != nil {
		s.Close()
		if errors.Is(err, unix.ENODEV) || errors.Is(err, unix.EINVAL) {
			return fmt.Errorf("interface %q: %w", s.device, ErrNoSuchDevice)
		}
		return err
	}
	s.ifindex = int(ifr.Uint32())

	// Stats queries need a baseline for the kernel drop counter.
	if s.ifdropBaseline, err = readInterfaceDrops(s.device); err != nil {
		s.Close()
		return err
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_CLOEXEC, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		s.Close()
		return fmt.Errorf("socket(AF_PACKET, SOCK_RAW): %w", err)
	}
	s.captureFD = fd

	// Binding to the interface index is what puts the descriptor into
	// capture mode for this device.
	sa := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  s.ifindex,
	}
	if err := unix.Bind(s.captureFD, sa); err != nil {
		s.Close()
		return fmt.Errorf("bind to %q: %w", s.device, err)
	}

	if err := s.resolveLinkType(); err != nil {
		s.Close()
		return err
	}

	s.snapLen = clampSnapLen(s.cfg.SnapLen)
	s.buf = make([]byte, captureBufSize)
	s.recv = s.recvFrom

	if s.cfg.Promiscuous {
		on, err := s.getPromisc()
		if err != nil {
			s.Close()
			return err
		}
		s.promiscOriginal = on
		s.promiscQueried = true
		if !on {
			if err := s.setPromisc(true); err != nil {
				// Capture works without promiscuous mode; activate
				// anyway and let the caller decide.
				s.activated = true
				return fmt.Errorf("interface %q: %w", s.device, ErrPromiscNotSupported)
			}
		}
	}

	s.activated = true
	return nil
}

// resolveLinkType classifies the interface by the hardware type in the
// capture socket's link-layer address record.
func (s *Session) resolveLinkType() error {
	sa, err := unix.Getsockname(s.captureFD)
	if err != nil {
		return fmt.Errorf("getsockname on %q: %w", s.device, err)
	}
	ll, ok := sa.(*unix.SockaddrLinklayer)
	if !ok {
		return fmt.Errorf("got a non-link-layer address instead of AF_PACKET for interface %q", s.device)
	}
	lt, ok := linkTypeForHardware(ll.Hatype)
	if !ok {
		return fmt.Errorf("unknown interface type %#x for interface %q", ll.Hatype, s.device)
	}
	s.linkType = lt
	return nil
}

func (s *Session) recvFrom(buf []byte) (int, error) {
	// MSG_TRUNC makes the kernel report the full frame length even when it
	// exceeds the buffer, which is how truncation is detected.
	n, _, err := unix.Recvfrom(s.captureFD, buf, unix.MSG_TRUNC)
	return n, err
}

// SetFilter installs a compiled BPF program evaluated in user space by the
// read loop; nil removes the current filter. No kernel-side filter is ever
// attached. May be called before or after Activate, but not concurrently
// with ReadPacket.
func (s *Session) SetFilter(prog []bpf.Instruction) error {
	if prog == nil {
		s.vm = nil
		return nil
	}
	vm, err := bpf.NewVM(prog)
	if err != nil {
		return fmt.Errorf("filter program: %w", err)
	}
	s.vm = vm
	return nil
}

// BreakLoop interrupts the next (or current, once its receive returns)
// ReadPacket call, which then reports ErrLoopBroken. Safe to call from any
// goroutine.
func (s *Session) BreakLoop() {
	s.breakFlag.Store(true)
}

// Inject is not supported by this backend and always fails.
func (s *Session) Inject(data []byte) (int, error) {
	return 0, fmt.Errorf("inject on %q: %w", s.device, ErrNotSupported)
}

// Stats returns the running counters together with the kernel's interface
// drop count accumulated since activation. Safe to call concurrently with
// ReadPacket.
func (s *Session) Stats() (Stats, error) {
	st := Stats{
		Received:        s.received.Load(),
		DroppedByFilter: s.filtered.Load(),
	}
	drops, err := readInterfaceDrops(s.device)
	if err != nil {
		return Stats{}, err
	}
	// Subject to wrap-around if the kernel counter wraps; accepted.
	st.InterfaceDrops = drops - s.ifdropBaseline
	return st, nil
}

// Close releases the session's descriptors and restores promiscuous state
// when appropriate. It is idempotent, never fails, and is safe after any
// partial activation failure. Restoration is best-effort: a failed flag
// ioctl is logged and swallowed, since teardown must not fail.
func (s *Session) Close() {
	if s.captureFD >= 0 {
		unix.Close(s.captureFD)
		s.captureFD = -1
	}
	if s.controlFD >= 0 {
		if s.cfg.Promiscuous && s.promiscQueried && !s.promiscOriginal {
			on, err := s.getPromisc()
			if err == nil && shouldRestorePromisc(s.cfg.Promiscuous, s.promiscQueried, s.promiscOriginal, on) {
				if err := s.setPromisc(false); err != nil {
					s.logger.Warn("failed to restore promiscuous mode",
						zap.String("interface", s.device),
						zap.Error(err),
					)
				}
			}
		}
		unix.Close(s.controlFD)
		s.controlFD = -1
	}
	s.activated = false
}

// Fd exposes the capture descriptor for external readiness polling. It is
// -1 before activation and after Close.
func (s *Session) Fd() int {
	return s.captureFD
}

// SetNonblock switches the capture descriptor between blocking and
// non-blocking receives. In non-blocking mode an empty socket queue makes
// ReadPacket return zero packets instead of waiting.
func (s *Session) SetNonblock(nonblocking bool) error {
	if s.captureFD < 0 {
		return ErrNotActive
	}
	if err := unix.SetNonblock(s.captureFD, nonblocking); err != nil {
		return fmt.Errorf("set nonblock on %q: %w", s.device, err)
	}
	s.nonblocking = nonblocking
	return nil
}

// Nonblock reports the last mode applied with SetNonblock.
func (s *Session) Nonblock() bool {
	return s.nonblocking
}

// Device returns the interface name the session is bound to.
func (s *Session) Device() string {
	return s.device
}

// LinkType reports the framing of delivered packets. Valid only after a
// successful Activate.
func (s *Session) LinkType() layers.LinkType {
	return s.linkType
}

// SnapLen returns the effective snapshot length. Valid only after Activate.
func (s *Session) SnapLen() int {
	return s.snapLen
}

// readInterfaceDrops reads the kernel's receive-drop counter for the device.
func readInterfaceDrops(device string) (uint64, error) {
	path := "/sys/class/net/" + device + "/statistics/rx_dropped"
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("interface stats for %q: %w", device, err)
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("interface stats for %q: %w", device, err)
	}
	return v, nil
}

// kernelRelease returns the running kernel's release string. Overridable
// for tests.
var kernelRelease = func() string {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return ""
	}
	return unix.ByteSliceToString(uts.Release[:])
}

// kernelSupportsCapture rejects kernels known to lack AF_PACKET. WSL1
// reports a "-Microsoft" release suffix and has no packet-socket support;
// WSL2 ("microsoft-standard") runs a real kernel and works.
func kernelSupportsCapture(release string) bool {
	if strings.Contains(release, "Microsoft") && !strings.Contains(release, "microsoft-standard") {
		return false
	}
	return true
}
