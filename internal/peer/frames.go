// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package peer

import (
	"context"
	"fmt"

	"github.com/wormholed/wormhole/internal/broadcast"
	"github.com/wormholed/wormhole/internal/session"
)

func (p *peerConn) handleFrame(f Frame) error {
	switch f.Type {
	case TypeHello:
		return p.handleHello(f)
	case TypeSubscribe:
		return p.handleSubscribe(f)
	case TypeInput:
		return p.handleInput(f)
	case TypePermissionResponse:
		return p.handlePermissionResponse(f)
	case TypeControl:
		return p.handleControl(f)
	case TypeSync:
		return p.handleSync(f)
	default:
		p.writeError("INVALID_MESSAGE", fmt.Sprintf("unknown frame type %q", f.Type), "")
		return nil
	}
}

func (p *peerConn) handleHello(_ Frame) error {
	sessions := p.hub.AllSessions()
	summaries := make([]SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		summaries = append(summaries, summarise(s))
	}
	return p.writeFrame(Frame{
		Type:          TypeWelcome,
		ServerVersion: p.hub.ServerVersion(),
		MachineName:   p.hub.MachineName(),
		Welcome:       summaries,
	})
}

func summarise(s *session.Session) SessionSummary {
	pending := s.GetPendingPermissions()
	pf := make([]PendingFrame, 0, len(pending))
	for _, p := range pending {
		pf = append(pf, PendingFrame{RequestID: p.RequestID, ToolName: p.ToolName, ToolInput: p.ToolInput})
	}
	return SessionSummary{
		Name:               s.Name(),
		Directory:          s.Directory(),
		State:              string(s.State()),
		AgentSessionID:     s.AgentSessionID(),
		Cost:               s.Cost(),
		LastActivity:       s.LastActivity(),
		PendingPermissions: pf,
	}
}

func (p *peerConn) handleSubscribe(f Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, name := range f.Sessions {
		if name == SubscribeAll {
			p.subscribed[SubscribeAll] = true
			for _, s := range p.hub.AllSessions() {
				p.registerSinkLocked(s)
			}
			continue
		}
		p.subscribed[name] = true
		if s, ok := p.hub.Session(name); ok {
			p.registerSinkLocked(s)
		}
	}
	return nil
}

// registerSinkLocked registers the peer's shared delivery channel with
// s's broadcaster, if not already registered. Caller holds p.mu.
func (p *peerConn) registerSinkLocked(s *session.Session) {
	if _, already := p.sinks[s.Name()]; already {
		return
	}
	bus := s.Broadcaster()
	id := bus.Add(p.delivered)
	p.sinks[s.Name()] = broadcastSink{bus: bus, id: id}
}

// registerIfSubscribedAll registers s with this peer's sinks if the peer
// holds a standing wildcard subscription, picking up sessions created
// after the subscribe frame arrived.
func (p *peerConn) registerIfSubscribedAll(s *session.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.subscribed[SubscribeAll] {
		p.registerSinkLocked(s)
	}
}

func (p *peerConn) isSubscribed(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.subscribed[SubscribeAll] || p.subscribed[name]
}

func (p *peerConn) unsubscribeAll() {
	p.mu.Lock()
	sinks := p.sinks
	p.sinks = make(map[string]broadcastSink)
	p.mu.Unlock()

	for _, sink := range sinks {
		sink.bus.Remove(sink.id)
	}
}

func (p *peerConn) forwardDelivery(d broadcast.Delivery) {
	if !p.isSubscribed(d.Session) {
		return
	}
	if err := p.writeFrame(Frame{
		Type:      TypeEvent,
		Session:   d.Session,
		Sequence:  d.Event.Sequence,
		Timestamp: d.Event.Timestamp,
		Message:   d.Event.Message,
	}); err != nil {
		// The read loop will notice the dead connection independently;
		// nothing further to do here.
		return
	}
}

func (p *peerConn) handleInput(f Frame) error {
	s, ok := p.hub.Session(f.Session)
	if !ok {
		p.writeError("SESSION_NOT_FOUND", "no such session", f.Session)
		return nil
	}
	if err := s.Query(context.Background(), f.Text); err != nil {
		p.writeError("SDK_ERROR", err.Error(), f.Session)
	}
	return nil
}

func (p *peerConn) handlePermissionResponse(f Frame) error {
	allow := f.Decision == "allow"
	if !p.hub.ResolvePermission(f.RequestID, allow, f.Details) {
		p.writeError("INVALID_MESSAGE", "no matching pending permission", "")
	}
	return nil
}

func (p *peerConn) handleControl(f Frame) error {
	s, ok := p.hub.Session(f.Session)
	if !ok {
		p.writeError("SESSION_NOT_FOUND", "no such session", f.Session)
		return nil
	}
	switch f.Action {
	case ActionInterrupt:
		if err := s.Interrupt(); err != nil {
			p.writeError("SDK_ERROR", err.Error(), f.Session)
		}
	case ActionCompact, ActionClear, ActionPlan:
		if err := s.Query(context.Background(), "/"+f.Action); err != nil {
			p.writeError("SDK_ERROR", err.Error(), f.Session)
		}
	default:
		p.writeError("INVALID_MESSAGE", fmt.Sprintf("unknown control action %q", f.Action), f.Session)
	}
	return nil
}

func (p *peerConn) handleSync(f Frame) error {
	s, ok := p.hub.Session(f.Session)
	if !ok {
		p.writeError("SESSION_NOT_FOUND", "no such session", f.Session)
		return nil
	}

	events, err := s.GetEventsSince(f.LastSeenSequence)
	if err != nil {
		p.writeError("INTERNAL_ERROR", err.Error(), f.Session)
		return nil
	}
	oldest, err := s.GetOldestSequence()
	if err != nil {
		p.writeError("INTERNAL_ERROR", err.Error(), f.Session)
		return nil
	}

	ef := make([]EventFrame, 0, len(events))
	for _, ev := range events {
		ef = append(ef, EventFrame{Sequence: ev.Sequence, Timestamp: ev.Timestamp, Message: ev.Message})
	}

	pending := s.GetPendingPermissions()
	pf := make([]PendingFrame, 0, len(pending))
	for _, pp := range pending {
		pf = append(pf, PendingFrame{RequestID: pp.RequestID, ToolName: pp.ToolName, ToolInput: pp.ToolInput})
	}

	return p.writeFrame(Frame{
		Type:                    TypeSyncResponse,
		Session:                 f.Session,
		Events:                  ef,
		PendingPermissions:      pf,
		OldestAvailableSequence: oldest,
	})
}
