// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"strings"
	"sync"
	"time"
)

var mdnsGroup4 = &net.UDPAddr{IP: net.IPv4(224, 0, 0, 251), Port: 5353}

// MDNSAnnouncer advertises the daemon over multicast DNS-SD
// (RFC 6763) by periodically emitting unsolicited PTR/SRV/TXT/A
// records for ServiceType on the local multicast group. It does not
// answer unicast queries; peers on this LAN discover the daemon by
// listening passively for these announcements, matching how the
// daemon's clients are expected to browse rather than probe.
type MDNSAnnouncer struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Start begins periodic multicast announcement until the context is
// cancelled or Stop is called.
func (a *MDNSAnnouncer) Start(ctx context.Context, port int, machineName string, attrs map[string]string) error {
	conn, err := net.ListenMulticastUDP("udp4", nil, mdnsGroup4)
	if err != nil {
		return fmt.Errorf("discovery: listen multicast: %w", err)
	}

	if machineName == "" {
		machineName = Hostname()
	}
	short := shortHostname(machineName)
	instance := fmt.Sprintf("%s.%s", short, ServiceType)
	host := fmt.Sprintf("%s.local.", short)
	addrs, _ := net.InterfaceAddrs()
	ip := firstIPv4(addrs)

	runCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.done = make(chan struct{})
	a.mu.Unlock()

	go a.loop(runCtx, conn, instance, host, ip, uint16(port), attrs)
	return nil
}

// Stop withdraws the advertisement and releases the socket.
func (a *MDNSAnnouncer) Stop() error {
	a.mu.Lock()
	cancel := a.cancel
	done := a.done
	a.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	if done != nil {
		<-done
	}
	return nil
}

func (a *MDNSAnnouncer) loop(ctx context.Context, conn *net.UDPConn, instance, host string, ip net.IP, port uint16, attrs map[string]string) {
	defer close(a.done)
	defer conn.Close()

	packet := buildAnnouncement(instance, host, ip, port, attrs)
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	announce := func() {
		if _, err := conn.WriteToUDP(packet, mdnsGroup4); err != nil {
			log.Printf("discovery: mdns announce: %v", err)
		}
	}

	announce()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			announce()
		}
	}
}

func firstIPv4(addrs []net.Addr) net.IP {
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			return v4
		}
	}
	return net.IPv4(127, 0, 0, 1)
}

// buildAnnouncement hand-packs a minimal DNS response message carrying
// PTR, SRV, TXT and A records for instance. Full service discovery
// needs authored PTR/SRV/TXT records, which neither the standard
// library nor any mDNS library in the dependency set provides; this
// follows the wire format directly from RFC 6763 section 6.
func buildAnnouncement(instance, host string, ip net.IP, port uint16, attrs map[string]string) []byte {
	var buf []byte

	appendName := func(name string) {
		for _, label := range splitLabels(name) {
			buf = append(buf, byte(len(label)))
			buf = append(buf, label...)
		}
		buf = append(buf, 0)
	}
	appendUint16 := func(v uint16) { buf = append(buf, byte(v>>8), byte(v)) }
	appendUint32 := func(v uint32) {
		buf = append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	}

	// Header: id=0, flags=response+authoritative, 0 questions, 4 answers.
	appendUint16(0)
	appendUint16(0x8400)
	appendUint16(0) // QDCOUNT
	appendUint16(4) // ANCOUNT
	appendUint16(0) // NSCOUNT
	appendUint16(0) // ARCOUNT

	const classIN = 1
	const ttl = uint32(120)

	// PTR ServiceType -> instance
	appendName(ServiceType)
	appendUint16(12) // TYPE PTR
	appendUint16(classIN)
	appendUint32(ttl)
	rdataStart := len(buf)
	appendUint16(0) // placeholder RDLENGTH
	beforeName := len(buf)
	appendName(instance)
	patchRDLength(buf, rdataStart, len(buf)-beforeName)

	// SRV instance -> host:port
	appendName(instance)
	appendUint16(33) // TYPE SRV
	appendUint16(classIN)
	appendUint32(ttl)
	rdataStart = len(buf)
	appendUint16(0)
	beforeName = len(buf)
	appendUint16(0) // priority
	appendUint16(0) // weight
	appendUint16(port)
	appendName(host)
	patchRDLength(buf, rdataStart, len(buf)-beforeName)

	// TXT instance -> attrs
	appendName(instance)
	appendUint16(16) // TYPE TXT
	appendUint16(classIN)
	appendUint32(ttl)
	rdataStart = len(buf)
	appendUint16(0)
	beforeName = len(buf)
	for k, v := range attrs {
		entry := k + "=" + v
		buf = append(buf, byte(len(entry)))
		buf = append(buf, entry...)
	}
	if len(attrs) == 0 {
		buf = append(buf, 0)
	}
	patchRDLength(buf, rdataStart, len(buf)-beforeName)

	// A host -> ip
	appendName(host)
	appendUint16(1) // TYPE A
	appendUint16(classIN)
	appendUint32(ttl)
	appendUint16(4)
	buf = append(buf, ip.To4()...)

	return buf
}

func patchRDLength(buf []byte, offset, length int) {
	buf[offset] = byte(length >> 8)
	buf[offset+1] = byte(length)
}

func splitLabels(name string) []string {
	var labels []string
	start := 0
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			if i > start {
				labels = append(labels, name[start:i])
			}
			start = i + 1
		}
	}
	if start < len(name) {
		labels = append(labels, name[start:])
	}
	return labels
}

// Hostname returns the local machine's hostname as os.Hostname reports
// it, used as the default mDNS instance name when none is configured;
// Start shortens it to its first label.
func Hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "wormhole"
	}
	return h
}

// shortHostname truncates a possibly fully-qualified hostname to its
// first label, matching how peers display the machine's mDNS name.
func shortHostname(name string) string {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return name
}
