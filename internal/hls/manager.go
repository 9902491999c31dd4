// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package hls

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/zmlive/internal/config"
	"github.com/ManuGH/zmlive/internal/log"
	"github.com/ManuGH/zmlive/internal/session"
	"github.com/ManuGH/zmlive/internal/source"
)

// Protocol is the sink and metrics name of this package.
const Protocol = session.ProtocolHLS

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger overrides the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// Manager owns one Stream per live monitor and the HLS viewer sessions.
type Manager struct {
	cfg      config.HLSSettings
	logger   zerolog.Logger
	sessions *session.Registry

	mu      sync.RWMutex
	streams map[uint32]*Stream
}

// NewManager creates a manager from the HLS settings.
func NewManager(cfg config.HLSSettings, opts ...Option) *Manager {
	m := &Manager{
		cfg:      cfg,
		logger:   log.WithComponent("hls"),
		sessions: session.NewRegistry(Protocol, cfg.MaxSessions),
		streams:  make(map[uint32]*Stream),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name identifies the sink.
func (m *Manager) Name() string { return Protocol }

// StartMonitor prepares a stream for the monitor. It is idempotent.
func (m *Manager) StartMonitor(_ context.Context, info source.MonitorInfo) error {
	monitorID := info.ID
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.streams[monitorID]; ok {
		return nil
	}
	m.streams[monitorID] = NewStream(monitorID, StreamConfig{
		SegmentDuration: m.cfg.SegmentDuration,
		PlaylistSize:    m.cfg.PlaylistSize,
		StorageSegments: m.cfg.StorageSegments,
		LowLatency:      m.cfg.LowLatency,
		PartDuration:    m.cfg.PartDuration,
	}, m.logger)
	m.logger.Info().Str(log.FieldEvent, "hls.stream_started").Uint32(log.FieldMonitorID, monitorID).Bool("low_latency", m.cfg.LowLatency).Msg("hls stream started")
	return nil
}

// StopMonitor discards the stream and every viewer session of monitorID.
func (m *Manager) StopMonitor(monitorID uint32) {
	m.mu.Lock()
	st, ok := m.streams[monitorID]
	delete(m.streams, monitorID)
	m.mu.Unlock()
	if !ok {
		return
	}
	st.Close()
	removed := m.sessions.RemoveMonitor(monitorID)
	m.logger.Info().Str(log.FieldEvent, "hls.stream_stopped").Uint32(log.FieldMonitorID, monitorID).Int("sessions_closed", len(removed)).Msg("hls stream stopped")
}

// Deliver hands one packet to the monitor's stream.
func (m *Manager) Deliver(p source.Packet) {
	if st, ok := m.Stream(p.MonitorID); ok {
		st.Push(p)
	}
}

// Stream returns the stream of monitorID.
func (m *Manager) Stream(monitorID uint32) (*Stream, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.streams[monitorID]
	return st, ok
}

// OpenSession registers a viewer of monitorID.
func (m *Manager) OpenSession(monitorID uint32) (*session.Session, error) {
	if _, ok := m.Stream(monitorID); !ok {
		return nil, fmt.Errorf("%w: monitor %d", ErrStreamNotFound, monitorID)
	}
	s, err := m.sessions.Create(monitorID)
	if err != nil {
		return nil, err
	}
	s.SetState(session.Active)
	m.logger.Debug().Str(log.FieldEvent, "hls.session_opened").Str(log.FieldSessionID, s.ID).Uint32(log.FieldMonitorID, monitorID).Msg("hls session opened")
	return s, nil
}

// Session looks up a viewer session bound to monitorID.
func (m *Manager) Session(monitorID uint32, id string) (*session.Session, bool) {
	s, ok := m.sessions.Get(id)
	if !ok || s.MonitorID != monitorID {
		return nil, false
	}
	return s, true
}

// CloseSession ends a viewer session.
func (m *Manager) CloseSession(id string) bool {
	_, ok := m.sessions.Remove(id)
	return ok
}

// Sessions lists viewer sessions.
func (m *Manager) Sessions() []session.Info { return m.sessions.List() }

// SessionCount returns the number of viewer sessions.
func (m *Manager) SessionCount() int { return m.sessions.Len() }

// SweepIdle removes viewers that stopped fetching.
func (m *Manager) SweepIdle(context.Context) int {
	idle := m.cfg.SessionIdleTimeout
	if idle <= 0 {
		idle = time.Minute
	}
	return len(m.sessions.CleanupIdle(idle))
}

// Stats returns per-stream counters ordered by monitor id.
func (m *Manager) Stats() []StreamStats {
	m.mu.RLock()
	out := make([]StreamStats, 0, len(m.streams))
	for _, st := range m.streams {
		out = append(out, st.Stats())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].MonitorID < out[j].MonitorID })
	return out
}

// Close stops every stream.
func (m *Manager) Close() {
	m.mu.RLock()
	ids := make([]uint32, 0, len(m.streams))
	for id := range m.streams {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		m.StopMonitor(id)
	}
}
