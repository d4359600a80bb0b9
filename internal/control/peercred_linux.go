// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package control

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// checkPeerUID verifies that conn's connecting process runs as the same
// user as this daemon, using SO_PEERCRED. This is defense in depth on top
// of the socket's 0600 permission bit: a misconfigured umask or a shared
// temp directory should not let another user's process issue control
// requests.
func checkPeerUID(conn net.Conn) error {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return nil
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return fmt.Errorf("control: peer syscall conn: %w", err)
	}

	var ucred *unix.Ucred
	var ucredErr error
	if err := raw.Control(func(fd uintptr) {
		ucred, ucredErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return fmt.Errorf("control: read peer credentials: %w", err)
	}
	if ucredErr != nil {
		return fmt.Errorf("control: read peer credentials: %w", ucredErr)
	}

	if int(ucred.Uid) != os.Getuid() {
		return fmt.Errorf("control: connecting uid %d does not match daemon uid %d", ucred.Uid, os.Getuid())
	}
	return nil
}
