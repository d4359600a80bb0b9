// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"sync"
)

// fakeAgent is a test double implementing Agent without spawning any
// process, so session logic can be exercised deterministically.
type fakeAgent struct {
	mu          sync.Mutex
	connected   bool
	resumeSeen  string
	events      chan map[string]any
	err         error
	responses   []permissionResponse
	queries     []string
	interrupted int
}

type permissionResponse struct {
	requestID string
	allow     bool
	reason    string
}

func newFakeAgent() *fakeAgent {
	return &fakeAgent{events: make(chan map[string]any, 64)}
}

func (f *fakeAgent) Connect(_ context.Context, _ string, resume string, _ StartupOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	f.resumeSeen = resume
	return nil
}

func (f *fakeAgent) Query(text string) error {
	f.mu.Lock()
	f.queries = append(f.queries, text)
	f.mu.Unlock()
	return nil
}

func (f *fakeAgent) Receive() <-chan map[string]any { return f.events }

func (f *fakeAgent) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeAgent) Interrupt() error {
	f.mu.Lock()
	f.interrupted++
	f.mu.Unlock()
	return nil
}

func (f *fakeAgent) RespondPermission(requestID string, allow bool, reason string) error {
	f.mu.Lock()
	f.responses = append(f.responses, permissionResponse{requestID, allow, reason})
	f.mu.Unlock()
	return nil
}

func (f *fakeAgent) Disconnect() error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

// push injects a message as if it came from the agent's stream.
func (f *fakeAgent) push(msg map[string]any) { f.events <- msg }

// closeStream simulates a clean end of stream (or, with err set, a crash).
func (f *fakeAgent) closeStream() { close(f.events) }
