// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wormholed/wormhole/pkg/client"
)

// fakeServer is a minimal control-socket stand-in: it decodes one
// newline-delimited JSON request per connection and writes back
// whatever responder returns.
func fakeServer(t *testing.T, responder func(map[string]any) map[string]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "control.sock")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				scanner := bufio.NewScanner(conn)
				if !scanner.Scan() {
					return
				}
				var req map[string]any
				if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
					return
				}
				resp := responder(req)
				json.NewEncoder(conn).Encode(resp)
			}()
		}
	}()
	return path
}

func TestOpenSessionSuccess(t *testing.T) {
	path := fakeServer(t, func(req map[string]any) map[string]any {
		assert.Equal(t, "open_session", req["type"])
		assert.Equal(t, "alpha", req["name"])
		return map[string]any{"type": "success", "message": "opened"}
	})

	c := client.New(path)
	err := c.OpenSession(context.Background(), "alpha", "/tmp/alpha", nil)
	require.NoError(t, err)
}

func TestOpenSessionErrorSurfacesCode(t *testing.T) {
	path := fakeServer(t, func(map[string]any) map[string]any {
		return map[string]any{"type": "error", "code": "SESSION_EXISTS", "message": "already owned by a"}
	})

	c := client.New(path)
	err := c.OpenSession(context.Background(), "b", "/p", nil)
	require.Error(t, err)
	apiErr, ok := err.(*client.APIError)
	require.True(t, ok)
	assert.Equal(t, "SESSION_EXISTS", apiErr.Code)
}

func TestListSessions(t *testing.T) {
	path := fakeServer(t, func(map[string]any) map[string]any {
		return map[string]any{
			"type": "session_list",
			"sessions": []map[string]any{
				{"name": "alpha", "directory": "/tmp/alpha", "state": "idle", "cost": 0.5},
			},
		}
	})

	c := client.New(path)
	sessions, err := c.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "alpha", sessions[0].Name)
	assert.Equal(t, 0.5, sessions[0].Cost)
}

func TestGetStatus(t *testing.T) {
	path := fakeServer(t, func(map[string]any) map[string]any {
		return map[string]any{
			"type": "status", "running": true, "port": 7117,
			"machine_name": "laptop", "session_count": 2, "connected_clients": 1,
		}
	})

	c := client.New(path)
	status, err := c.GetStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Running)
	assert.Equal(t, 7117, status.Port)
	assert.Equal(t, 2, status.SessionCount)
}

func TestCallTimesOutWhenDaemonIsSilent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "control.sock")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			// Never respond; let the client's deadline fire.
			time.Sleep(time.Second)
			conn.Close()
		}
	}()

	c := client.New(path, client.WithTimeout(50*time.Millisecond))
	err = c.QuerySession(context.Background(), "alpha", "hi")
	require.Error(t, err)
}
