// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"bufio"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wormholed/wormhole/internal/session"
)

type fakeHub struct {
	sessions map[string]SessionInfo
	queries  []string
}

func newFakeHub() *fakeHub { return &fakeHub{sessions: map[string]SessionInfo{}} }

func (h *fakeHub) OpenSession(name, directory string, options map[string]any) error {
	if _, exists := h.sessions[name]; exists {
		return session.NewError(session.CodeSessionExists, "session already exists", name)
	}
	for _, s := range h.sessions {
		if s.Directory == directory {
			return session.NewError(session.CodeSessionExists, "directory already owned", name)
		}
	}
	h.sessions[name] = SessionInfo{Name: name, Directory: directory, State: "idle"}
	return nil
}

func (h *fakeHub) CloseSession(name string) error {
	if _, ok := h.sessions[name]; !ok {
		return session.NewError(session.CodeSessionNotFound, "no such session", name)
	}
	delete(h.sessions, name)
	return nil
}

func (h *fakeHub) ListSessions() []SessionInfo {
	out := make([]SessionInfo, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s)
	}
	return out
}

func (h *fakeHub) Status() (bool, int, string, int, int) {
	return true, 7117, "test-machine", len(h.sessions), 0
}

func (h *fakeHub) QuerySession(name, text string) error {
	if _, ok := h.sessions[name]; !ok {
		return session.NewError(session.CodeSessionNotFound, "no such session", name)
	}
	h.queries = append(h.queries, text)
	return nil
}

func startTestServer(t *testing.T, hub Hub) (*Server, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "control.sock")
	srv, err := Listen(path, hub)
	require.NoError(t, err)
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })
	return srv, path
}

func roundTrip(t *testing.T, path string, req Request) Response {
	t.Helper()
	conn, err := net.DialTimeout("unix", path, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, json.NewEncoder(conn).Encode(req))

	scanner := bufio.NewScanner(conn)
	require.True(t, scanner.Scan())
	var resp Response
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
	return resp
}

func TestOpenListCloseSession(t *testing.T) {
	hub := newFakeHub()
	_, path := startTestServer(t, hub)

	resp := roundTrip(t, path, Request{Type: RequestOpenSession, Name: "alpha", Directory: "/tmp/alpha"})
	assert.Equal(t, ResponseSuccess, resp.Type)

	resp = roundTrip(t, path, Request{Type: RequestListSessions})
	assert.Equal(t, ResponseSessionList, resp.Type)
	require.Len(t, resp.Sessions, 1)
	assert.Equal(t, "alpha", resp.Sessions[0].Name)

	resp = roundTrip(t, path, Request{Type: RequestCloseSession, Name: "alpha"})
	assert.Equal(t, ResponseSuccess, resp.Type)

	resp = roundTrip(t, path, Request{Type: RequestListSessions})
	assert.Empty(t, resp.Sessions)
}

func TestOpenSessionDuplicateDirectory(t *testing.T) {
	hub := newFakeHub()
	_, path := startTestServer(t, hub)

	require.Equal(t, ResponseSuccess, roundTrip(t, path, Request{Type: RequestOpenSession, Name: "a", Directory: "/p"}).Type)

	resp := roundTrip(t, path, Request{Type: RequestOpenSession, Name: "b", Directory: "/p"})
	assert.Equal(t, ResponseError, resp.Type)
	assert.Equal(t, "SESSION_EXISTS", resp.Code)
}

func TestCloseUnknownSessionReturnsNotFound(t *testing.T) {
	hub := newFakeHub()
	_, path := startTestServer(t, hub)

	resp := roundTrip(t, path, Request{Type: RequestCloseSession, Name: "ghost"})
	assert.Equal(t, ResponseError, resp.Type)
	assert.Equal(t, "SESSION_NOT_FOUND", resp.Code)
}

func TestGetStatus(t *testing.T) {
	hub := newFakeHub()
	_, path := startTestServer(t, hub)
	require.Equal(t, ResponseSuccess, roundTrip(t, path, Request{Type: RequestOpenSession, Name: "a", Directory: "/p"}).Type)

	resp := roundTrip(t, path, Request{Type: RequestGetStatus})
	assert.Equal(t, ResponseStatus, resp.Type)
	assert.True(t, resp.Running)
	assert.Equal(t, 7117, resp.Port)
	assert.Equal(t, 1, resp.SessionCount)
}

func TestUnknownRequestTypeIsInvalidMessage(t *testing.T) {
	hub := newFakeHub()
	_, path := startTestServer(t, hub)

	resp := roundTrip(t, path, Request{Type: "bogus"})
	assert.Equal(t, ResponseError, resp.Type)
	assert.Equal(t, "INVALID_MESSAGE", resp.Code)
}

func TestMultipleRequestsOnOneConnection(t *testing.T) {
	hub := newFakeHub()
	_, path := startTestServer(t, hub)

	conn, err := net.DialTimeout("unix", path, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	enc := json.NewEncoder(conn)
	scanner := bufio.NewScanner(conn)

	require.NoError(t, enc.Encode(Request{Type: RequestOpenSession, Name: "a", Directory: "/p"}))
	require.True(t, scanner.Scan())
	require.NoError(t, enc.Encode(Request{Type: RequestQuerySession, Name: "a", Text: "hi"}))
	require.True(t, scanner.Scan())

	var resp Response
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
	assert.Equal(t, ResponseSuccess, resp.Type)
	assert.Equal(t, []string{"hi"}, hub.queries)
}
