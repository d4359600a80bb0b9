// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package daemon implements the top-level supervisor (component C6): it
// binds the public peer endpoint and the local control socket, starts and
// stops the session registry, restores sessions on boot, and drains state
// on shutdown.
package daemon

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/wormholed/wormhole/internal/api/middleware"
	"github.com/wormholed/wormhole/internal/config"
	"github.com/wormholed/wormhole/internal/control"
	"github.com/wormholed/wormhole/internal/discovery"
	"github.com/wormholed/wormhole/internal/eventlog"
	"github.com/wormholed/wormhole/internal/peer"
	"github.com/wormholed/wormhole/internal/registry"
	"github.com/wormholed/wormhole/internal/session"
)

// Version is the daemon's own version string, reported in the welcome
// frame and the control socket's status response.
var Version = "dev"

// AgentFactory constructs a fresh, unconnected Agent for a new session.
// Production code passes session.NewClaudeAgent; tests substitute a fake.
type AgentFactory func() session.Agent

// Daemon owns every live session, the registry they are persisted to, and
// the public/control listeners. It implements both peer.Hub and
// control.Hub.
type Daemon struct {
	cfg          config.Config
	reg          *registry.Registry
	agentFactory AgentFactory

	mu       sync.Mutex
	sessions map[string]*session.Session
	clients  int

	peerHandler *peer.Handler
	publicLn    net.Listener
	controlSrv  *control.Server
	announcer   discovery.Announcer
}

// New constructs a Daemon over cfg, without starting any listeners or
// restoring sessions yet.
func New(cfg config.Config, agentFactory AgentFactory) *Daemon {
	d := &Daemon{
		cfg:          cfg,
		reg:          registry.Open(filepath.Join(cfg.DataDir, "sessions.json")),
		agentFactory: agentFactory,
		sessions:     make(map[string]*session.Session),
		announcer:    discovery.Noop{},
	}
	if cfg.Announce.Enabled {
		d.announcer = &discovery.MDNSAnnouncer{}
	}
	d.peerHandler = peer.New(d, cfg.PingInterval(), cfg.PongTimeout())
	return d
}

// Boot restores every session whose directory still exists, resuming its
// agent with the last known agent_session_id, then opens the control
// socket, begins accepting public connections, and announces the daemon.
func (d *Daemon) Boot(ctx context.Context) error {
	if err := os.MkdirAll(d.cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("daemon: create data dir: %w", err)
	}

	for _, desc := range d.reg.List() {
		if _, err := os.Stat(desc.Directory); err != nil {
			log.Printf("daemon: skipping restore of %q: directory gone: %v", desc.Name, err)
			continue
		}
		if err := d.restoreSession(ctx, desc); err != nil {
			log.Printf("daemon: restoring %q: %v", desc.Name, err)
		}
	}

	ctrlSrv, err := control.Listen(d.cfg.ControlSocket.Path, d)
	if err != nil {
		return fmt.Errorf("daemon: control socket: %w", err)
	}
	d.controlSrv = ctrlSrv
	go func() {
		if err := d.controlSrv.Serve(); err != nil {
			log.Printf("daemon: control socket serve: %v", err)
		}
	}()

	addr := fmt.Sprintf("%s:%d", d.cfg.Server.Host, d.cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		d.controlSrv.Close()
		return fmt.Errorf("daemon: bind public listener: %w", err)
	}
	d.publicLn = ln

	router := mux.NewRouter()
	router.Handle("/ws", http.HandlerFunc(d.handlePeerConn))
	router.HandleFunc("/healthz", d.handleHealthz).Methods(http.MethodGet)
	handler := middleware.Recovery(middleware.Logging(middleware.CORS(router)))
	go func() {
		if err := http.Serve(ln, handler); err != nil {
			log.Printf("daemon: public listener serve: %v", err)
		}
	}()

	attrs := map[string]string{"version": Version, "machine_name": d.cfg.MachineName}
	if err := d.announcer.Start(ctx, d.cfg.Server.Port, d.cfg.MachineName, attrs); err != nil {
		log.Printf("daemon: announce: %v", err)
	}

	return nil
}

// handlePeerConn brackets peer.Handler.ServeHTTP, which blocks for the
// connection's entire lifetime, with d.clients bookkeeping so get_status's
// connected_clients reflects currently connected peers.
func (d *Daemon) handlePeerConn(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	d.clients++
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.clients--
		d.mu.Unlock()
	}()

	d.peerHandler.ServeHTTP(w, r)
}

func (d *Daemon) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	running, _, machineName, sessionCount, _ := d.Status()
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"running":%t,"machine_name":%q,"session_count":%d}`, running, machineName, sessionCount)
}

func (d *Daemon) restoreSession(ctx context.Context, desc registry.Descriptor) error {
	evlog := eventlog.Open(d.cfg.DataDir, desc.Name)
	agent := d.agentFactory()
	s, err := session.New(desc.Name, desc.Directory, agent, evlog, session.WithBufferMaxBytes(d.cfg.Buffer.MaxBytes))
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.sessions[desc.Name] = s
	d.mu.Unlock()
	d.peerHandler.NotifySessionCreated(s)

	return s.Start(ctx, session.StartupOptions{"resume": desc.AgentSessionID})
}

// Shutdown upserts every live session into the registry so it resumes
// next boot, closes the public listener and the control socket, unlinks
// the control socket path, and stops every session's agent. Shutting down
// is not the same as an explicit close: event logs and registry entries
// are retained.
func (d *Daemon) Shutdown() {
	if err := d.announcer.Stop(); err != nil {
		log.Printf("daemon: announcer stop: %v", err)
	}
	if d.publicLn != nil {
		d.publicLn.Close()
	}
	if d.controlSrv != nil {
		d.controlSrv.Close()
	}

	d.mu.Lock()
	sessions := make([]*session.Session, 0, len(d.sessions))
	for _, s := range d.sessions {
		sessions = append(sessions, s)
	}
	d.mu.Unlock()

	for _, s := range sessions {
		if err := d.reg.Upsert(registry.Descriptor{
			Name:           s.Name(),
			Directory:      s.Directory(),
			AgentSessionID: s.AgentSessionID(),
			Cost:           s.Cost(),
			CreatedAt:      time.Now(),
		}); err != nil {
			log.Printf("daemon: persisting %q on shutdown: %v", s.Name(), err)
		}
		s.Stop()
	}
}

// --- peer.Hub ---

func (d *Daemon) ServerVersion() string { return Version }
func (d *Daemon) MachineName() string   { return d.cfg.MachineName }

func (d *Daemon) AllSessions() []*session.Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*session.Session, 0, len(d.sessions))
	for _, s := range d.sessions {
		out = append(out, s)
	}
	return out
}

func (d *Daemon) Session(name string) (*session.Session, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[name]
	return s, ok
}

func (d *Daemon) ResolvePermission(requestID string, allow bool, reason string) bool {
	for _, s := range d.AllSessions() {
		if s.RespondToPermission(requestID, allow, reason) {
			return true
		}
	}
	return false
}

// --- control.Hub ---

func (d *Daemon) OpenSession(name, directory string, options map[string]any) error {
	abs, err := filepath.Abs(directory)
	if err != nil {
		return session.NewError(session.CodeInternalError, err.Error(), name)
	}

	d.mu.Lock()
	if _, exists := d.sessions[name]; exists {
		d.mu.Unlock()
		return session.NewError(session.CodeSessionExists, "session already exists", name)
	}
	for _, existing := range d.sessions {
		if existing.Directory() == abs {
			d.mu.Unlock()
			return session.NewError(session.CodeSessionExists, fmt.Sprintf("directory already owned by %q", existing.Name()), name)
		}
	}
	d.mu.Unlock()

	evlog := eventlog.Open(d.cfg.DataDir, name)
	agent := d.agentFactory()
	s, err := session.New(name, abs, agent, evlog, session.WithBufferMaxBytes(d.cfg.Buffer.MaxBytes))
	if err != nil {
		return session.NewError(session.CodeInternalError, err.Error(), name)
	}

	if err := s.Start(context.Background(), session.StartupOptions(options)); err != nil {
		return err
	}

	d.mu.Lock()
	d.sessions[name] = s
	d.mu.Unlock()

	if err := d.reg.Upsert(registry.Descriptor{Name: name, Directory: abs, CreatedAt: time.Now()}); err != nil {
		log.Printf("daemon: persisting %q: %v", name, err)
	}
	d.peerHandler.NotifySessionCreated(s)
	return nil
}

func (d *Daemon) CloseSession(name string) error {
	d.mu.Lock()
	s, ok := d.sessions[name]
	if !ok {
		d.mu.Unlock()
		return session.NewError(session.CodeSessionNotFound, "no such session", name)
	}
	delete(d.sessions, name)
	d.mu.Unlock()

	s.Stop()
	if err := d.reg.Remove(name); err != nil {
		log.Printf("daemon: removing %q from registry: %v", name, err)
	}
	evlog := eventlog.Open(d.cfg.DataDir, name)
	if err := evlog.Clear(); err != nil {
		log.Printf("daemon: clearing event log for %q: %v", name, err)
	}
	return nil
}

func (d *Daemon) ListSessions() []control.SessionInfo {
	sessions := d.AllSessions()
	out := make([]control.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, control.SessionInfo{
			Name:           s.Name(),
			Directory:      s.Directory(),
			State:          string(s.State()),
			AgentSessionID: s.AgentSessionID(),
			Cost:           s.Cost(),
			LastActivity:   s.LastActivity(),
		})
	}
	return out
}

func (d *Daemon) Status() (running bool, port int, machineName string, sessionCount, connectedClients int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return true, d.cfg.Server.Port, d.cfg.MachineName, len(d.sessions), d.clients
}

func (d *Daemon) QuerySession(name, text string) error {
	s, ok := d.Session(name)
	if !ok {
		return session.NewError(session.CodeSessionNotFound, "no such session", name)
	}
	return s.Query(context.Background(), text)
}
