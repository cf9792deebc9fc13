// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

//go:build linux

package capture

import "golang.org/x/sys/unix"

// The promiscuous flag is interface-wide OS state, not session state.
// Closing our sockets does not clear it, and other processes may be
// managing the same flag concurrently. The protocol here is advisory and
// best-effort: read before write, and on teardown clear the flag only if
// this session set it and it is still set.

// getPromisc reports the interface's current promiscuous flag.
func (s *Session) getPromisc() (bool, error) {
	ifr, err := unix.NewIfreq(s.device)
	if err != nil {
		return false, err
	}
	if err := ioctlIfreq(s.controlFD, unix.SIOCGIFFLAGS, "SIOCGIFFLAGS", ifr); err != nil {
		return false, err
	}
	return ifr.Uint16()&uint16(unix.IFF_PROMISC) != 0, nil
}

// setPromisc flips the promiscuous bit, re-reading the flag word first so
// unrelated interface flags are preserved.
func (s *Session) setPromisc(enable bool) error {
	ifr, err := unix.NewIfreq(s.device)
	if err != nil {
		return err
	}
	if err := ioctlIfreq(s.controlFD, unix.SIOCGIFFLAGS, "SIOCGIFFLAGS", ifr); err != nil {
		return err
	}
	flags := ifr.Uint16()
	if enable {
		flags |= uint16(unix.IFF_PROMISC)
	} else {
		flags &^= uint16(unix.IFF_PROMISC)
	}
	ifr.SetUint16(flags)
	return ioctlIfreq(s.controlFD, unix.SIOCSIFFLAGS, "SIOCSIFFLAGS", ifr)
}

// shouldRestorePromisc decides whether Close may clear the flag: only when
// this session requested promiscuous mode, activation observed it off
// beforehand, and it is still on now. An externally-caused change is left
// untouched.
func shouldRestorePromisc(requested, queried, original, current bool) bool {
	return requested && queried && !original && current
}
