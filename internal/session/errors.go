// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

// Code is one of the daemon's stable error-code strings, surfaced to
// clients over the control socket or the public peer frame stream.
type Code string

const (
	CodeDaemonNotRunning Code = "DAEMON_NOT_RUNNING"
	CodeSessionExists    Code = "SESSION_EXISTS"
	CodeSessionNotFound  Code = "SESSION_NOT_FOUND"
	CodeInvalidMessage   Code = "INVALID_MESSAGE"
	CodeSDKError         Code = "SDK_ERROR"
	CodeConnectionError  Code = "CONNECTION_ERROR"
	CodeInternalError    Code = "INTERNAL_ERROR"
)

// Error pairs a stable code with a human-readable message, optionally
// naming the session and extra detail.
type Error struct {
	Code    Code
	Message string
	Session string
	Details string
}

func (e *Error) Error() string {
	if e.Session != "" {
		return string(e.Code) + ": " + e.Message + " (" + e.Session + ")"
	}
	return string(e.Code) + ": " + e.Message
}

// ErrorCode returns the stable error-code string, letting callers in
// other packages (e.g. the control socket) surface it without
// depending on the Code type itself.
func (e *Error) ErrorCode() string { return string(e.Code) }

// NewError builds an Error for the given code/message, optionally naming a
// session.
func NewError(code Code, message, sessionName string) *Error {
	return &Error{Code: code, Message: message, Session: sessionName}
}
