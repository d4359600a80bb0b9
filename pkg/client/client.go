// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package client provides a Go client library for the wormhole daemon's
// local control socket.
//
// Wormhole multiplexes interactive coding-agent sessions to clients on the
// local network. This client library provides typed access to the control
// socket's five RPCs, for building terminal tooling like wormhole-ctl.
//
// # Getting Started
//
// Create a client pointing to the daemon's control socket:
//
//	c := client.New("/tmp/wormhole-501.sock")
//
//	sessions, err := c.ListSessions(ctx)
//	err = c.OpenSession(ctx, "fix-auth", "/home/dev/project", nil)
//
// # Error Handling
//
// Control errors are returned as *APIError values, which carry the
// daemon's stable error-code strings.
//
//	err := c.CloseSession(ctx, "unknown")
//	if err != nil {
//	    if apiErr, ok := err.(*client.APIError); ok {
//	        fmt.Printf("control error: %s - %s\n", apiErr.Code, apiErr.Message)
//	    }
//	}
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// request/response mirror internal/control's wire types, so this public
// package does not depend on an internal one.
type request struct {
	Type      string         `json:"type"`
	Name      string         `json:"name,omitempty"`
	Directory string         `json:"directory,omitempty"`
	Text      string         `json:"text,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
}

type response struct {
	Type string `json:"type"`

	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`

	Code string `json:"code,omitempty"`

	Sessions []SessionInfo `json:"sessions,omitempty"`

	Running          bool   `json:"running,omitempty"`
	Port             int    `json:"port,omitempty"`
	MachineName      string `json:"machine_name,omitempty"`
	SessionCount     int    `json:"session_count,omitempty"`
	ConnectedClients int    `json:"connected_clients,omitempty"`
}

// SessionInfo is one session as reported by ListSessions.
type SessionInfo struct {
	Name           string    `json:"name"`
	Directory      string    `json:"directory"`
	State          string    `json:"state"`
	AgentSessionID string    `json:"agent_session_id,omitempty"`
	Cost           float64   `json:"cost"`
	LastActivity   time.Time `json:"last_activity"`
}

// Status is the daemon's get_status response.
type Status struct {
	Running          bool
	Port             int
	MachineName      string
	SessionCount     int
	ConnectedClients int
}

// APIError is returned when the daemon answers a control request with an
// error response. Code is one of the daemon's stable error-code strings
// (e.g. "SESSION_NOT_FOUND").
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Client talks to one daemon's control socket, opening a fresh connection
// per request the way the control socket's one-line-per-message framing
// expects.
//
// A Client is safe for concurrent use by multiple goroutines.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// Option configures a [Client].
type Option func(*Client)

// New creates a Client for the control socket at socketPath.
func New(socketPath string, opts ...Option) *Client {
	c := &Client{socketPath: socketPath, timeout: 10 * time.Second}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithTimeout sets the per-request dial+round-trip timeout. The default
// is 10 seconds.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// OpenSession asks the daemon to open a new session named name rooted at
// directory, returning *APIError with code "SESSION_EXISTS" if the name or
// directory is already in use.
func (c *Client) OpenSession(ctx context.Context, name, directory string, options map[string]any) error {
	_, err := c.call(ctx, request{Type: "open_session", Name: name, Directory: directory, Options: options})
	return err
}

// CloseSession asks the daemon to close and delete the named session.
func (c *Client) CloseSession(ctx context.Context, name string) error {
	_, err := c.call(ctx, request{Type: "close_session", Name: name})
	return err
}

// ListSessions returns every session the daemon currently owns.
func (c *Client) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	resp, err := c.call(ctx, request{Type: "list_sessions"})
	if err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

// GetStatus returns the daemon's current status.
func (c *Client) GetStatus(ctx context.Context) (Status, error) {
	resp, err := c.call(ctx, request{Type: "get_status"})
	if err != nil {
		return Status{}, err
	}
	return Status{
		Running:          resp.Running,
		Port:             resp.Port,
		MachineName:      resp.MachineName,
		SessionCount:     resp.SessionCount,
		ConnectedClients: resp.ConnectedClients,
	}, nil
}

// QuerySession sends text as a new turn to the named session's agent.
func (c *Client) QuerySession(ctx context.Context, name, text string) error {
	_, err := c.call(ctx, request{Type: "query_session", Name: name, Text: text})
	return err
}

func (c *Client) call(ctx context.Context, req request) (*response, error) {
	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(c.timeout))
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("client: encode request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("client: read response: %w", err)
		}
		return nil, fmt.Errorf("client: daemon closed connection without responding")
	}

	var resp response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("client: decode response: %w", err)
	}
	if resp.Type == "error" {
		return nil, &APIError{Code: resp.Code, Message: resp.Message}
	}
	return &resp, nil
}
