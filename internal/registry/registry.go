package registry

import (
	"log/slog"
	"sync"

	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/observability"
)

// Conn is the subset of *websocket.Conn the registry needs. Tests plug in
// fakes; production hands over gorilla connections.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// session serializes writes to one connection. gorilla allows a single
// concurrent writer, so every send takes the session mutex.
type session struct {
	conn Conn
	mu   sync.Mutex
}

func (s *session) send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// Registry maps participant identity to its live connection, separately
// for drivers and customers. Last connect wins: a reconnect replaces and
// closes the prior handle.
type Registry struct {
	mu        sync.RWMutex
	drivers   map[string]*session
	customers map[string]*session
	logger    *slog.Logger
}

func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		drivers:   make(map[string]*session),
		customers: make(map[string]*session),
		logger:    logger,
	}
}

func (r *Registry) mapFor(role models.Role) map[string]*session {
	if role == models.RoleDriver {
		return r.drivers
	}
	return r.customers
}

// Register stores the connection under the participant id, replacing any
// prior handle for that id.
func (r *Registry) Register(id string, role models.Role, conn Conn) {
	r.mu.Lock()
	m := r.mapFor(role)
	if old, ok := m[id]; ok {
		_ = old.conn.Close()
	} else {
		observability.WSConnections.WithLabelValues(string(role)).Inc()
	}
	m[id] = &session{conn: conn}
	r.mu.Unlock()
	r.logger.Info("participant registered", "id", id, "role", role)
}

// Unregister drops the mapping if it still points at conn. A stale
// teardown from a replaced connection must not evict the newer session.
func (r *Registry) Unregister(id string, role models.Role, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.mapFor(role)
	s, ok := m[id]
	if !ok || (conn != nil && s.conn != conn) {
		return false
	}
	delete(m, id)
	observability.WSConnections.WithLabelValues(string(role)).Dec()
	r.logger.Info("participant unregistered", "id", id, "role", role)
	return true
}

// Send delivers a message to the participant if connected, else is a
// no-op. Delivery is at-most-once; nothing is queued for offline parties.
func (r *Registry) Send(id string, role models.Role, v any) {
	r.mu.RLock()
	s, ok := r.mapFor(role)[id]
	r.mu.RUnlock()
	if !ok {
		return
	}
	if err := s.send(v); err != nil {
		r.logger.Warn("ws send failed", "id", id, "role", role, "error", err)
	}
}

// Broadcast sends to every connected participant of the role for which
// the predicate holds. A nil predicate matches everyone.
func (r *Registry) Broadcast(role models.Role, match func(id string) bool, v any) {
	r.mu.RLock()
	targets := make([]*session, 0, len(r.mapFor(role)))
	for id, s := range r.mapFor(role) {
		if match == nil || match(id) {
			targets = append(targets, s)
		}
	}
	r.mu.RUnlock()
	for _, s := range targets {
		if err := s.send(v); err != nil {
			r.logger.Warn("ws broadcast send failed", "role", role, "error", err)
		}
	}
}

// Connected reports whether the participant has a live connection.
func (r *Registry) Connected(id string, role models.Role) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.mapFor(role)[id]
	return ok
}

// DriverCount returns the number of connected drivers.
func (r *Registry) DriverCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.drivers)
}
