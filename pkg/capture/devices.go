// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package capture

// ConnectionStatus describes an interface's link state as far as capture is
// concerned.
type ConnectionStatus int

const (
	StatusUnknown ConnectionStatus = iota
	StatusConnected
	StatusDisconnected
	// StatusNotApplicable marks interfaces where "connected" has no
	// meaning: loopback and tunnel devices.
	StatusNotApplicable
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	case StatusNotApplicable:
		return "n/a"
	default:
		return "unknown"
	}
}

// Device describes one capturable interface.
type Device struct {
	Name     string
	Index    int
	Loopback bool
	Status   ConnectionStatus
}
