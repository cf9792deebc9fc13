// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package capture

// LibVersion identifies the capture backend, in the spirit of
// pcap_lib_version.
func LibVersion() string {
	return "snare capture 0.1.0 (AF_PACKET)"
}
