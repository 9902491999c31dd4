// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ManuGH/zmlive/internal/metrics"
)

// Info is a snapshot of a session.
type Info struct {
	ID        string        `json:"id"`
	MonitorID uint32        `json:"monitor_id"`
	Protocol  string        `json:"protocol"`
	State     State         `json:"state"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	LastSeen  time.Time     `json:"last_seen"`
	Bytes     uint64        `json:"bytes"`
	Segments  uint64        `json:"segments"`
	Packets   uint64        `json:"packets"`
	Duration  time.Duration `json:"duration_ns"`
}

// Session is one viewer record. Its own mutex guards the mutable fields.
type Session struct {
	ID        string
	MonitorID uint32
	Protocol  string
	CreatedAt time.Time

	now func() time.Time

	mu        sync.Mutex
	state     State
	updatedAt time.Time
	lastSeen  time.Time
	bytes     uint64
	segments  uint64
	packets   uint64
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState moves the session to st and reports whether it changed.
// Terminal states are final.
func (s *Session) SetState(st State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == st || s.state.IsTerminal() {
		return false
	}
	s.state = st
	s.updatedAt = s.now()
	return true
}

// Touch records client activity.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastSeen = s.now()
	s.mu.Unlock()
}

// AddSegment counts one delivered segment of n bytes.
func (s *Session) AddSegment(n int) {
	s.mu.Lock()
	s.segments++
	s.bytes += uint64(n)
	s.lastSeen = s.now()
	s.mu.Unlock()
}

// AddPacket counts one delivered packet of n bytes.
func (s *Session) AddPacket(n int) {
	s.mu.Lock()
	s.packets++
	s.bytes += uint64(n)
	s.mu.Unlock()
}

// Info returns a snapshot.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:        s.ID,
		MonitorID: s.MonitorID,
		Protocol:  s.Protocol,
		State:     s.state,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.updatedAt,
		LastSeen:  s.lastSeen,
		Bytes:     s.bytes,
		Segments:  s.segments,
		Packets:   s.packets,
		Duration:  s.now().Sub(s.CreatedAt),
	}
}

// Registry holds the sessions of one protocol up to a cap.
type Registry struct {
	protocol string
	max      int
	now      func() time.Time

	mu   sync.RWMutex
	byID map[string]*Session
}

// NewRegistry creates a registry for protocol. max <= 0 means unlimited.
func NewRegistry(protocol string, max int) *Registry {
	return &Registry{protocol: protocol, max: max, now: time.Now, byID: make(map[string]*Session)}
}

// Create registers a new Pending session for monitorID.
func (r *Registry) Create(monitorID uint32) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.max > 0 && len(r.byID) >= r.max {
		return nil, fmt.Errorf("%w: %s limit %d", ErrMaxSessions, r.protocol, r.max)
	}
	now := r.now()
	s := &Session{
		ID:        uuid.NewString(),
		MonitorID: monitorID,
		Protocol:  r.protocol,
		CreatedAt: now,
		now:       r.now,
		state:     Pending,
		updatedAt: now,
		lastSeen:  now,
	}
	r.byID[s.ID] = s
	metrics.SessionOpened(r.protocol)
	return s, nil
}

// Get looks up a session by id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	return s, ok
}

// Remove deletes a session and marks it Stopped.
func (r *Registry) Remove(id string) (*Session, bool) {
	r.mu.Lock()
	s, ok := r.byID[id]
	delete(r.byID, id)
	r.mu.Unlock()
	if ok {
		s.SetState(Stopped)
		metrics.SessionClosed(r.protocol)
	}
	return s, ok
}

// ByMonitor returns the sessions bound to monitorID.
func (r *Registry) ByMonitor(monitorID uint32) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Session
	for _, s := range r.byID {
		if s.MonitorID == monitorID {
			out = append(out, s)
		}
	}
	return out
}

// RemoveMonitor deletes every session of monitorID and returns them.
func (r *Registry) RemoveMonitor(monitorID uint32) []*Session {
	return r.removeWhere(func(s *Session) bool { return s.MonitorID == monitorID })
}

// CleanupStale removes disconnected or terminal sessions whose last state
// change is older than maxAge.
func (r *Registry) CleanupStale(maxAge time.Duration) []*Session {
	cutoff := r.now().Add(-maxAge)
	return r.removeWhere(func(s *Session) bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return (s.state == Disconnected || s.state.IsTerminal()) && s.updatedAt.Before(cutoff)
	})
}

// CleanupIdle removes sessions without client activity for longer than idle.
func (r *Registry) CleanupIdle(idle time.Duration) []*Session {
	cutoff := r.now().Add(-idle)
	return r.removeWhere(func(s *Session) bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.lastSeen.Before(cutoff)
	})
}

func (r *Registry) removeWhere(match func(*Session) bool) []*Session {
	r.mu.Lock()
	var out []*Session
	for id, s := range r.byID {
		if match(s) {
			out = append(out, s)
			delete(r.byID, id)
		}
	}
	r.mu.Unlock()
	for _, s := range out {
		s.SetState(Stopped)
		metrics.SessionClosed(r.protocol)
	}
	return out
}

// Len returns the number of sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// List returns snapshots ordered by creation time.
func (r *Registry) List() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s.Info())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
