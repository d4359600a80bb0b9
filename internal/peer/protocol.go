// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package peer implements the public frame protocol and per-connection
// handler (component C5): the WebSocket-facing side that multiplexes a
// remote client's subscriptions across sessions.
package peer

import "time"

// Frame is the envelope every client<->daemon message uses; the Type
// field discriminates the payload the other fields carry.
type Frame struct {
	Type string `json:"type"`

	// client -> daemon
	ClientVersion     string   `json:"client_version,omitempty"`
	DeviceName        string   `json:"device_name,omitempty"`
	Sessions          []string `json:"sessions,omitempty"`
	Session           string   `json:"session,omitempty"`
	Text              string   `json:"text,omitempty"`
	RequestID         string   `json:"request_id,omitempty"`
	Decision          string   `json:"decision,omitempty"`
	Action            string   `json:"action,omitempty"`
	LastSeenSequence  uint64   `json:"last_seen_sequence,omitempty"`

	// daemon -> client
	ServerVersion          string            `json:"server_version,omitempty"`
	MachineName            string            `json:"machine_name,omitempty"`
	Welcome                []SessionSummary   `json:"sessions_info,omitempty"`
	Sequence               uint64            `json:"sequence,omitempty"`
	Timestamp              time.Time         `json:"timestamp,omitempty"`
	// Message carries the opaque agent message for an "event" frame, or a
	// human-readable string for an "error" frame.
	Message                any               `json:"message,omitempty"`
	ToolName               string            `json:"tool_name,omitempty"`
	ToolInput              map[string]any    `json:"tool_input,omitempty"`
	SessionName            string            `json:"session_name,omitempty"`
	Events                 []EventFrame      `json:"events,omitempty"`
	PendingPermissions     []PendingFrame    `json:"pending_permissions,omitempty"`
	OldestAvailableSequence uint64           `json:"oldest_available_sequence,omitempty"`
	Code                   string            `json:"code,omitempty"`
	Details                string            `json:"details,omitempty"`
}

// SessionSummary is one session's entry inside a welcome frame.
type SessionSummary struct {
	Name               string         `json:"name"`
	Directory          string         `json:"directory"`
	State              string         `json:"state"`
	AgentSessionID     string         `json:"agent_session_id,omitempty"`
	Cost               float64        `json:"cost"`
	LastActivity       time.Time      `json:"last_activity,omitempty"`
	PendingPermissions []PendingFrame `json:"pending_permissions,omitempty"`
}

// EventFrame is one event as delivered over the wire.
type EventFrame struct {
	Sequence  uint64         `json:"sequence"`
	Timestamp time.Time      `json:"timestamp"`
	Message   map[string]any `json:"message"`
}

// PendingFrame is one pending permission as delivered over the wire.
type PendingFrame struct {
	RequestID string         `json:"request_id"`
	ToolName  string         `json:"tool_name"`
	ToolInput map[string]any `json:"tool_input"`
}

// Frame type constants, per the client<->daemon frame tables.
const (
	TypeHello              = "hello"
	TypeSubscribe          = "subscribe"
	TypeInput              = "input"
	TypePermissionResponse = "permission_response"
	TypeControl            = "control"
	TypeSync               = "sync"

	TypeWelcome      = "welcome"
	TypeEvent        = "event"
	TypePermissionReq = "permission_request"
	TypeSyncResponse = "sync_response"
	TypeError        = "error"
)

// Control actions, per the control frame's action enum.
const (
	ActionInterrupt = "interrupt"
	ActionCompact   = "compact"
	ActionClear     = "clear"
	ActionPlan      = "plan"
)

// SubscribeAll is the sentinel meaning "every session" in a subscribe
// frame's sessions list.
const SubscribeAll = "*"
