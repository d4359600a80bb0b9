// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package control

import "net"

// checkPeerUID is a no-op on platforms without SO_PEERCRED; the socket's
// 0600 permission bit is the only access control available there.
func checkPeerUID(net.Conn) error { return nil }
