// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import "context"

// StartupOptions carries whatever the caller passed to start(), echoed back
// unchanged in the session descriptor per the data model.
type StartupOptions map[string]any

// Agent is the opaque contract a session holds one instance of. It wraps
// an external coding-agent child process speaking a streaming JSON
// protocol; the session knows nothing about the agent's concrete CLI, only
// this contract.
type Agent interface {
	// Connect starts (or resumes, if resume != "") the agent subprocess
	// rooted at workDir.
	Connect(ctx context.Context, workDir string, resume string, opts StartupOptions) error

	// Query sends one user turn to the agent. Non-blocking: replies arrive
	// on the channel returned by Receive.
	Query(text string) error

	// Receive returns the channel of raw, agent-defined messages. The
	// channel is closed when the agent process exits; callers distinguish
	// a clean exit from a crash via Err.
	Receive() <-chan map[string]any

	// Err returns the error that closed the Receive channel, or nil if
	// the agent is still running or exited cleanly.
	Err() error

	// Interrupt asks the agent to stop its current turn without tearing
	// down the process.
	Interrupt() error

	// RespondPermission delivers an allow/deny decision for a pending
	// tool-use request back to the agent.
	RespondPermission(requestID string, allow bool, reason string) error

	// Disconnect tears down the subprocess.
	Disconnect() error
}
