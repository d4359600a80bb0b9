// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package control

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckPeerUIDAcceptsOwnProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peercred.sock")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		require.NoError(t, err)
		accepted <- conn
	}()

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()

	server := <-accepted
	defer server.Close()

	require.NoError(t, checkPeerUID(server))
}
