// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package session implements the per-session state machine, sequence
// assignment, in-memory replay buffer, and permission resolver
// (component C3), plus the agent adapter it drives (component C11).
package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wormholed/wormhole/internal/broadcast"
	"github.com/wormholed/wormhole/internal/eventlog"
)

// State is one of the session's state-machine states.
type State string

const (
	StateIdle             State = "idle"
	StateWorking          State = "working"
	StateAwaitingApproval State = "awaiting_approval"
	StateError            State = "error"
)

// PendingPermission is a tool-use request awaiting an allow/deny decision.
type PendingPermission struct {
	RequestID string
	ToolName  string
	ToolInput map[string]any
	CreatedAt time.Time

	resolved chan struct{}
}

// Session owns one agent subprocess and implements the daemon's core
// per-session logic: sequencing, durable append, the replay buffer, and
// the tool-permission round trip.
type Session struct {
	mu sync.Mutex

	name      string
	directory string
	agent     Agent
	log       *eventlog.Log
	bus       *broadcast.Broadcaster

	state          State
	sequence       uint64
	agentSessionID string
	cost           float64
	lastActivity   time.Time
	startupOptions StartupOptions
	startupSet     bool

	buffer   *replayBuffer
	pending  map[string]*PendingPermission
	pumpDone chan struct{}

	// pumpGen increments on every Start/Restart. A pump goroutine applies
	// its terminal state transition only while its generation is still
	// current, so a pump left draining a superseded agent connection
	// cannot clobber state a newer pump already owns.
	pumpGen int
}

// Option configures a new Session.
type Option func(*Session)

// WithBufferMaxBytes overrides the default 2 MiB in-memory buffer cap.
func WithBufferMaxBytes(n int) Option {
	return func(s *Session) { s.buffer = newReplayBuffer(n) }
}

// New constructs a Session. The in-memory sequence counter is restored
// from the event log's latest sequence, so a session reconstructed after a
// restart continues its contiguous sequence rather than resetting it.
func New(name, directory string, agent Agent, evlog *eventlog.Log, opts ...Option) (*Session, error) {
	latest, err := evlog.Latest()
	if err != nil {
		return nil, fmt.Errorf("session %q: read event log: %w", name, err)
	}

	s := &Session{
		name:      name,
		directory: directory,
		agent:     agent,
		log:       evlog,
		bus:       broadcast.New(name),
		state:     StateIdle,
		sequence:  latest,
		buffer:    newReplayBuffer(DefaultBufferMaxBytes),
		pending:   make(map[string]*PendingPermission),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Name returns the session's name.
func (s *Session) Name() string { return s.name }

// Directory returns the session's working directory.
func (s *Session) Directory() string { return s.directory }

// Broadcaster returns the session's fan-out broadcaster, so a peer handler
// can register its sink.
func (s *Session) Broadcaster() *broadcast.Broadcaster { return s.bus }

// State returns the current state-machine state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// AgentSessionID returns the captured agent-side session identifier, or
// "" if none has been observed yet.
func (s *Session) AgentSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agentSessionID
}

// Cost returns the last reported cumulative cost.
func (s *Session) Cost() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cost
}

// LastActivity returns the timestamp of the most recently processed event.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Start launches the agent with directory as its working directory,
// recording options as startup_options on the first call only so later
// restarts reuse the original intent. A non-empty "resume" string in those
// first options seeds the agent session id when none is known yet.
func (s *Session) Start(ctx context.Context, opts StartupOptions) error {
	s.mu.Lock()
	if !s.startupSet {
		s.startupOptions = opts
		s.startupSet = true
		if r, ok := opts["resume"].(string); ok && r != "" && s.agentSessionID == "" {
			s.agentSessionID = r
		}
	}
	resume := s.agentSessionID
	s.mu.Unlock()

	if err := s.agent.Connect(ctx, s.directory, resume, s.startupOptions); err != nil {
		return NewError(CodeSDKError, err.Error(), s.name)
	}

	s.mu.Lock()
	s.pumpGen++
	gen := s.pumpGen
	s.pumpDone = make(chan struct{})
	done := s.pumpDone
	s.mu.Unlock()
	go s.pump(gen, done)
	return nil
}

// Restart best-effort disconnects the current agent and re-invokes Start
// with the original startup_options, passing resume=agent_session_id when
// known. The on-disk sequence counter is never reset by a restart.
func (s *Session) Restart(ctx context.Context) error {
	s.agent.Disconnect()
	s.mu.Lock()
	opts := s.startupOptions
	s.mu.Unlock()
	return s.Start(ctx, opts)
}

// Query sends text to the agent, restarting first if the session is in
// the error state or has no running agent.
func (s *Session) Query(ctx context.Context, text string) error {
	s.mu.Lock()
	agentless := s.pumpDone == nil
	if !agentless {
		select {
		case <-s.pumpDone:
			agentless = true
		default:
		}
	}
	needsRestart := s.state == StateError || agentless
	s.mu.Unlock()

	if needsRestart {
		if err := s.Restart(ctx); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.state = StateWorking
	s.mu.Unlock()

	if err := s.agent.Query(text); err != nil {
		// One restart-and-retry on a query failure; a second failure
		// surfaces to the caller.
		if rerr := s.Restart(ctx); rerr != nil {
			return NewError(CodeSDKError, rerr.Error(), s.name)
		}
		if err := s.agent.Query(text); err != nil {
			return NewError(CodeSDKError, err.Error(), s.name)
		}
	}
	return nil
}

// Interrupt forwards an interrupt to the agent without changing state; the
// agent signals end-of-turn through its own message stream.
func (s *Session) Interrupt() error {
	return s.agent.Interrupt()
}

// RespondToPermission completes the matching pending permission. It
// returns true iff a match was found and had not already been resolved.
func (s *Session) RespondToPermission(requestID string, allow bool, reason string) bool {
	s.mu.Lock()
	p, ok := s.pending[requestID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.pending, requestID)
	s.state = StateWorking
	s.mu.Unlock()

	close(p.resolved)
	if err := s.agent.RespondPermission(requestID, allow, reason); err != nil {
		log.Printf("session %q: respond permission %s: %v", s.name, requestID, err)
	}
	return true
}

// GetEventsSince returns events with sequence > after, preferring the
// in-memory buffer's fast path when it holds a contiguous prefix starting
// at after+1, falling back to the durable log otherwise.
func (s *Session) GetEventsSince(after uint64) ([]eventlog.Event, error) {
	s.mu.Lock()
	events, ok := s.buffer.since(after)
	s.mu.Unlock()
	if ok {
		return events, nil
	}
	return s.log.Load(after)
}

// GetOldestSequence returns the oldest sequence still on disk.
func (s *Session) GetOldestSequence() (uint64, error) {
	return s.log.Oldest()
}

// GetPendingPermissions returns a snapshot of the pending-permission
// table, for inclusion in welcome/sync_response payloads.
func (s *Session) GetPendingPermissions() []PendingPermission {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PendingPermission, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, PendingPermission{
			RequestID: p.RequestID,
			ToolName:  p.ToolName,
			ToolInput: p.ToolInput,
			CreatedAt: p.CreatedAt,
		})
	}
	return out
}

// Stop best-effort disconnects the agent and returns the session to idle.
func (s *Session) Stop() {
	s.agent.Disconnect()
	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
}

// pump consumes the agent's message stream until it closes, implementing
// the receive pump's seven steps for every message and the permission
// handler for control_request messages. gen is the pump generation this
// goroutine was started under; if a later Start/Restart has since moved the
// session to a new generation, this pump's terminal state transition is
// skipped so it cannot clobber state the newer pump already owns.
func (s *Session) pump(gen int, done chan struct{}) {
	defer close(done)

	for msg := range s.agent.Receive() {
		if requestID, toolName, toolInput, isPermission := asPermissionRequest(msg); isPermission {
			s.handlePermissionRequest(requestID, toolName, toolInput)
			continue
		}
		s.processMessage(msg)
	}

	s.mu.Lock()
	if gen != s.pumpGen {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if err := s.agent.Err(); err != nil {
		s.mu.Lock()
		s.state = StateError
		s.mu.Unlock()
		s.bus.Broadcast(eventlog.Event{Timestamp: time.Now(), Message: map[string]any{"type": "error", "code": string(CodeSDKError), "message": err.Error()}})
		log.Printf("session %q: agent stream ended with error: %v", s.name, err)
		return
	}

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
}

// processMessage runs the receive pump's steps for a plain message:
// normalise it, emit it (sequence, append, buffer, broadcast), then
// capture agent_session_id and total_cost_usd from it. The captures run
// after the broadcast, and neither one notifies the registry.
func (s *Session) processMessage(msg map[string]any) {
	normalised := normaliseMessage(msg)
	s.emit(normalised)
	s.captureAgentSessionID(normalised)
	s.captureCost(normalised)
}

// emit assigns a sequence number and timestamp, appends to the durable
// log before broadcasting, then enqueues into the bounded buffer and
// broadcasts - durability precedes observation.
func (s *Session) emit(message map[string]any) eventlog.Event {
	s.mu.Lock()
	s.sequence++
	ev := eventlog.Event{Sequence: s.sequence, Timestamp: time.Now(), Message: message}
	s.lastActivity = ev.Timestamp
	s.mu.Unlock()

	if err := s.log.Append(ev); err != nil {
		log.Printf("session %q: append event %d: %v", s.name, ev.Sequence, err)
	}

	s.mu.Lock()
	s.buffer.push(ev)
	s.mu.Unlock()

	s.bus.Broadcast(ev)
	return ev
}

func (s *Session) captureAgentSessionID(message map[string]any) {
	if message["subtype"] != "init" {
		return
	}
	data, ok := message["data"].(map[string]any)
	if !ok {
		return
	}
	sid, ok := data["session_id"].(string)
	if !ok || sid == "" {
		return
	}
	s.mu.Lock()
	already := s.agentSessionID != ""
	if !already {
		s.agentSessionID = sid
	}
	s.mu.Unlock()
}

func (s *Session) captureCost(message map[string]any) {
	cost, ok := message["total_cost_usd"].(float64)
	if !ok {
		return
	}
	s.mu.Lock()
	s.cost = cost
	s.mu.Unlock()
}

func (s *Session) handlePermissionRequest(requestIDHint, toolName string, toolInput map[string]any) {
	requestID := requestIDHint
	if requestID == "" {
		requestID = uuid.New().String()
	}

	p := &PendingPermission{
		RequestID: requestID,
		ToolName:  toolName,
		ToolInput: toolInput,
		CreatedAt: time.Now(),
		resolved:  make(chan struct{}),
	}

	s.mu.Lock()
	s.state = StateAwaitingApproval
	s.pending[requestID] = p
	s.mu.Unlock()

	s.emit(map[string]any{
		"type":         "permission_request",
		"request_id":   requestID,
		"tool_name":    toolName,
		"tool_input":   toolInput,
		"session_name": s.name,
	})

	<-p.resolved
}

// asPermissionRequest recognises the agent's control_request shape for a
// tool-use prompt (the concrete encoding of can_use_tool).
func asPermissionRequest(msg map[string]any) (requestID, toolName string, toolInput map[string]any, ok bool) {
	if msg["type"] != "control_request" {
		return "", "", nil, false
	}
	req, _ := msg["request"].(map[string]any)
	if req == nil {
		return "", "", nil, false
	}
	if req["subtype"] != "can_use_tool" {
		return "", "", nil, false
	}
	requestID, _ = msg["request_id"].(string)
	toolName, _ = req["tool_name"].(string)
	toolInput, _ = req["input"].(map[string]any)
	return requestID, toolName, toolInput, true
}

// normaliseMessage implements step 2 of the receive pump: pass maps
// through unchanged, and wrap anything else as {"raw": "<stringified>"}.
func normaliseMessage(msg map[string]any) map[string]any {
	if msg != nil {
		return msg
	}
	return map[string]any{"raw": fmt.Sprintf("%v", msg)}
}
