// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAnnouncementParses(t *testing.T) {
	packet := buildAnnouncement("mylaptop._wormhole._tcp.local.", "mylaptop.local.", net.IPv4(10, 0, 0, 5), 7117, map[string]string{"version": "1"})

	var msg struct {
		ID      uint16
		Flags   uint16
		QDCount uint16
		ANCount uint16
	}
	require.GreaterOrEqual(t, len(packet), 12)
	msg.ID = uint16(packet[0])<<8 | uint16(packet[1])
	msg.Flags = uint16(packet[2])<<8 | uint16(packet[3])
	msg.QDCount = uint16(packet[4])<<8 | uint16(packet[5])
	msg.ANCount = uint16(packet[6])<<8 | uint16(packet[7])

	assert.Equal(t, uint16(0), msg.QDCount)
	assert.Equal(t, uint16(4), msg.ANCount)
	assert.NotZero(t, msg.Flags&0x8000, "response flag must be set")
}

func TestSplitLabels(t *testing.T) {
	assert.Equal(t, []string{"_wormhole", "_tcp", "local"}, splitLabels("_wormhole._tcp.local."))
	assert.Equal(t, []string{"mylaptop", "local"}, splitLabels("mylaptop.local."))
}

func TestFirstIPv4SkipsLoopback(t *testing.T) {
	addrs := []net.Addr{
		&net.IPNet{IP: net.IPv4(127, 0, 0, 1), Mask: net.CIDRMask(8, 32)},
		&net.IPNet{IP: net.IPv4(192, 168, 1, 9), Mask: net.CIDRMask(24, 32)},
	}
	ip := firstIPv4(addrs)
	assert.Equal(t, net.IPv4(192, 168, 1, 9).To4(), ip)
}

func TestNoopAnnouncerIsInert(t *testing.T) {
	var n Noop
	require.NoError(t, n.Start(nil, 0, "", nil))
	require.NoError(t, n.Stop())
}
