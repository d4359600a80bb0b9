// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package discovery implements the service announcer (component C7): an
// external, thin contract the core daemon invokes but does not otherwise
// depend on.
package discovery

import "context"

// ServiceType is the mDNS service type the daemon advertises under.
const ServiceType = "_wormhole._tcp.local."

// Announcer advertises the daemon's public endpoint on the local network
// so clients can find it without being told an address.
type Announcer interface {
	// Start begins advertising port under machineName, attaching attrs as
	// text-record properties (e.g. "version", "machine_name").
	Start(ctx context.Context, port int, machineName string, attrs map[string]string) error
	// Stop withdraws the advertisement.
	Stop() error
}

// Noop is an Announcer that does nothing, for configurations with
// announce.enabled = false or platforms without mDNS support.
type Noop struct{}

func (Noop) Start(context.Context, int, string, map[string]string) error { return nil }
func (Noop) Stop() error                                                { return nil }
