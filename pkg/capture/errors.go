// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package capture

import "errors"

var (
	// ErrNoSuchDevice is returned from Activate when the named interface
	// does not exist. It is raised by the first ioctl that touches the
	// interface; later failures are reported as plain errors.
	ErrNoSuchDevice = errors.New("no such device")

	// ErrPromiscNotSupported is a warning, not a failure: the session
	// activated and is usable, but promiscuous mode could not be enabled.
	// Callers that requested promiscuous capture should check for it with
	// errors.Is and decide whether degraded capture is acceptable. The
	// session must still be closed.
	ErrPromiscNotSupported = errors.New("promiscuous mode not supported")

	// ErrLoopBroken reports that BreakLoop interrupted a read. It is a
	// cooperative-cancellation signal, not a capture failure; the session
	// remains usable.
	ErrLoopBroken = errors.New("read loop interrupted")

	// ErrNotSupported is returned by operations this backend does not
	// implement, currently packet injection.
	ErrNotSupported = errors.New("operation not supported")

	// ErrNotActive is returned when reading from a session that has not
	// been activated or has been closed.
	ErrNotActive = errors.New("session not active")
)
