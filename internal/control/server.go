// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"runtime/debug"
	"time"
)

// Hub is the subset of the daemon the control socket drives.
type Hub interface {
	OpenSession(name, directory string, options map[string]any) error
	CloseSession(name string) error
	ListSessions() []SessionInfo
	Status() (running bool, port int, machineName string, sessionCount, connectedClients int)
	QuerySession(name, text string) error
}

// Server listens on a unix-domain socket and serves Request/Response
// pairs, one connection per client, one line per message.
type Server struct {
	path     string
	listener net.Listener
	hub      Hub
}

// Listen binds path, removing any stale socket left by a previous,
// uncleanly terminated run, and restricts it to the owning user.
func Listen(path string, hub Hub) (*Server, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("control: removing stale socket: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("control: listen %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("control: chmod %s: %w", path, err)
	}
	return &Server{path: path, listener: ln, hub: hub}, nil
}

// Serve accepts connections until the listener is closed.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

// Close closes the listener and unlinks the socket path.
func (s *Server) Close() error {
	err := s.listener.Close()
	if rerr := os.Remove(s.path); rerr != nil && !os.IsNotExist(rerr) {
		return rerr
	}
	return err
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	if err := checkPeerUID(conn); err != nil {
		log.Printf("control: rejecting connection: %v", err)
		json.NewEncoder(conn).Encode(errorResponse("CONNECTION_ERROR", err.Error()))
		return
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp := s.dispatchRecover(line)
		if err := enc.Encode(resp); err != nil {
			log.Printf("control: write response: %v", err)
			return
		}
	}
}

// dispatchRecover logs each request and recovers panics from a single
// malformed request without tearing down the connection, matching the
// daemon's logging/recovery pattern for its HTTP surfaces.
func (s *Server) dispatchRecover(line []byte) (resp Response) {
	start := time.Now()
	var req Request
	defer func() {
		if r := recover(); r != nil {
			log.Printf("control: panic handling %q: %v\n%s", req.Type, r, debug.Stack())
			resp = errorResponse("INTERNAL_ERROR", "internal server error")
		}
		log.Printf("control: %s %s", req.Type, time.Since(start))
	}()

	if err := json.Unmarshal(line, &req); err != nil {
		return errorResponse("INVALID_MESSAGE", err.Error())
	}
	return s.dispatch(req)
}

func (s *Server) dispatch(req Request) Response {
	switch req.Type {
	case RequestOpenSession:
		if err := s.hub.OpenSession(req.Name, req.Directory, req.Options); err != nil {
			return toErrorResponse(err)
		}
		return success(fmt.Sprintf("session %q opened", req.Name), nil)

	case RequestCloseSession:
		if err := s.hub.CloseSession(req.Name); err != nil {
			return toErrorResponse(err)
		}
		return success(fmt.Sprintf("session %q closed", req.Name), nil)

	case RequestListSessions:
		return Response{Type: ResponseSessionList, Sessions: s.hub.ListSessions()}

	case RequestGetStatus:
		running, port, machineName, count, clients := s.hub.Status()
		return Response{
			Type:             ResponseStatus,
			Running:          running,
			Port:             port,
			MachineName:      machineName,
			SessionCount:     count,
			ConnectedClients: clients,
		}

	case RequestQuerySession:
		if err := s.hub.QuerySession(req.Name, req.Text); err != nil {
			return toErrorResponse(err)
		}
		return success("query accepted", nil)

	default:
		return errorResponse("INVALID_MESSAGE", fmt.Sprintf("unknown request type %q", req.Type))
	}
}

// codedError is satisfied by *session.Error, letting the control
// socket surface a stable error code without importing session's
// concrete type into its dispatch switch.
type codedError interface {
	error
	ErrorCode() string
}

func toErrorResponse(err error) Response {
	if ce, ok := err.(codedError); ok {
		return errorResponse(ce.ErrorCode(), err.Error())
	}
	return errorResponse("INTERNAL_ERROR", err.Error())
}
