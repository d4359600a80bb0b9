// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package peer

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wormholed/wormhole/internal/broadcast"
	"github.com/wormholed/wormhole/internal/session"
)

// Hub is the subset of the daemon a peer connection needs: session lookup
// and the cross-session permission-resolution fan-in.
type Hub interface {
	ServerVersion() string
	MachineName() string
	AllSessions() []*session.Session
	Session(name string) (*session.Session, bool)
	// ResolvePermission resolves requestID on whichever session owns it.
	ResolvePermission(requestID string, allow bool, reason string) bool
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler serves the public WebSocket endpoint.
type Handler struct {
	hub          Hub
	pingInterval time.Duration
	pongTimeout  time.Duration

	connsMu sync.Mutex
	conns   map[*peerConn]struct{}
}

// New returns a Handler backed by hub, with the given keepalive intervals.
func New(hub Hub, pingInterval, pongTimeout time.Duration) *Handler {
	return &Handler{
		hub:          hub,
		pingInterval: pingInterval,
		pongTimeout:  pongTimeout,
		conns:        make(map[*peerConn]struct{}),
	}
}

// ServeHTTP upgrades the connection and runs the peer's frame loop until
// it disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("peer: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	p := &peerConn{
		hub:          h.hub,
		conn:         conn,
		subscribed:   make(map[string]bool),
		sinks:        make(map[string]broadcastSink),
		delivered:    make(chan broadcast.Delivery, 256),
		pingInterval: h.pingInterval,
		pongTimeout:  h.pongTimeout,
	}

	h.connsMu.Lock()
	h.conns[p] = struct{}{}
	h.connsMu.Unlock()
	defer func() {
		h.connsMu.Lock()
		delete(h.conns, p)
		h.connsMu.Unlock()
	}()

	p.serve()
}

// NotifySessionCreated registers s's broadcaster with every connected peer
// that holds a standing wildcard subscription, so a peer that subscribed
// to "*" before s existed still receives its events without reconnecting.
func (h *Handler) NotifySessionCreated(s *session.Session) {
	h.connsMu.Lock()
	conns := make([]*peerConn, 0, len(h.conns))
	for p := range h.conns {
		conns = append(conns, p)
	}
	h.connsMu.Unlock()

	for _, p := range conns {
		p.registerIfSubscribedAll(s)
	}
}

// peerConn is one connected peer's handshake state, subscription set, and
// per-session broadcaster registrations. Peers have no durable identity:
// every reconnect starts from an empty subscription set, bootstrapped by
// the welcome snapshot and whatever sync/subscribe frames follow.
type peerConn struct {
	hub  Hub
	conn *websocket.Conn

	writeMu sync.Mutex

	mu         sync.Mutex
	subscribed map[string]bool // name -> true, or SubscribeAll -> true
	sinks      map[string]broadcastSink
	delivered  chan broadcast.Delivery

	pingInterval time.Duration
	pongTimeout  time.Duration
}

type broadcastSink struct {
	bus *broadcast.Broadcaster
	id  broadcast.SinkID
}

func (p *peerConn) serve() {
	defer p.unsubscribeAll()

	p.conn.SetReadDeadline(time.Now().Add(p.pongTimeout))
	p.conn.SetPongHandler(func(string) error {
		p.conn.SetReadDeadline(time.Now().Add(p.pongTimeout))
		return nil
	})

	incoming := make(chan Frame, 16)
	readErr := make(chan error, 1)
	go func() {
		for {
			var f Frame
			if err := p.conn.ReadJSON(&f); err != nil {
				readErr <- err
				close(incoming)
				return
			}
			incoming <- f
		}
	}()

	ticker := time.NewTicker(p.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case f, ok := <-incoming:
			if !ok {
				return
			}
			if err := p.handleFrame(f); err != nil {
				log.Printf("peer: handling frame %q: %v", f.Type, err)
			}
		case d := <-p.delivered:
			p.forwardDelivery(d)
		case <-ticker.C:
			p.writeMu.Lock()
			err := p.conn.WriteMessage(websocket.PingMessage, nil)
			p.writeMu.Unlock()
			if err != nil {
				return
			}
		case err := <-readErr:
			if err != nil {
				log.Printf("peer: read error: %v", err)
			}
			return
		}
	}
}

func (p *peerConn) writeFrame(f Frame) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return p.conn.WriteJSON(f)
}

func (p *peerConn) writeError(code, message, sessionName string) {
	if err := p.writeFrame(Frame{Type: TypeError, Code: code, Message: message, Session: sessionName}); err != nil {
		log.Printf("peer: write error frame: %v", err)
	}
}
