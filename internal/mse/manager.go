// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package mse streams fragmented MP4 to browsers over WebSockets for Media
// Source Extensions playback.
package mse

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ManuGH/zmlive/internal/api/problem"
	"github.com/ManuGH/zmlive/internal/config"
	"github.com/ManuGH/zmlive/internal/log"
	"github.com/ManuGH/zmlive/internal/media/nal"
	"github.com/ManuGH/zmlive/internal/session"
	"github.com/ManuGH/zmlive/internal/source"
)

// Protocol is the sink and metrics name of this package.
const Protocol = session.ProtocolMSE

// ErrMonitorNotLive is returned when no live session feeds the monitor.
var ErrMonitorNotLive = errors.New("monitor is not live")

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger overrides the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithAllowedOrigins restricts WebSocket origins. Empty allows any origin.
func WithAllowedOrigins(origins []string) Option {
	return func(m *Manager) { m.origins = origins }
}

// Manager fans live packets out to MSE sessions.
type Manager struct {
	cfg      config.MSESettings
	logger   zerolog.Logger
	origins  []string
	registry *session.Registry
	upgrader websocket.Upgrader
	workers  session.Group

	mu    sync.RWMutex
	feeds map[uint32]*feed
}

// feed is the live state of one monitor: its sessions and the latest
// parameter sets, replayed to sessions that join mid-stream.
type feed struct {
	sessions map[string]*Session

	psMu   sync.Mutex
	params map[uint8]source.Packet
}

func newFeed() *feed {
	return &feed{sessions: make(map[string]*Session), params: make(map[uint8]source.Packet)}
}

func (f *feed) remember(p source.Packet) {
	t := nal.Type(p.Codec, p.Data)
	if !nal.IsParameterSet(p.Codec, t) {
		return
	}
	p.Data = append([]byte(nil), p.Data...)
	f.psMu.Lock()
	f.params[t] = p
	f.psMu.Unlock()
}

// parameterSets returns the cached sets in decoding order (VPS, SPS, PPS).
func (f *feed) parameterSets() []source.Packet {
	f.psMu.Lock()
	defer f.psMu.Unlock()
	out := make([]source.Packet, 0, len(f.params))
	for _, t := range []uint8{nal.H265VPS, nal.H265SPS, nal.H265PPS, nal.H264SPS, nal.H264PPS} {
		if p, ok := f.params[t]; ok && nal.IsParameterSet(p.Codec, t) {
			out = append(out, p)
		}
	}
	return out
}

// NewManager creates a manager from the MSE settings.
func NewManager(cfg config.MSESettings, opts ...Option) *Manager {
	if cfg.SegmentDuration <= 0 {
		cfg.SegmentDuration = 500 * time.Millisecond
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 32
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	m := &Manager{
		cfg:      cfg,
		logger:   log.WithComponent("mse"),
		registry: session.NewRegistry(Protocol, cfg.MaxSessions),
		feeds:    make(map[uint32]*feed),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin:     m.checkOrigin,
	}
	return m
}

func (m *Manager) checkOrigin(r *http.Request) bool {
	if len(m.origins) == 0 || slices.Contains(m.origins, "*") {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(m.origins, origin)
}

// Name identifies the sink.
func (m *Manager) Name() string { return Protocol }

// StartMonitor opens the feed of the monitor. It is idempotent.
func (m *Manager) StartMonitor(_ context.Context, info source.MonitorInfo) error {
	monitorID := info.ID
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.feeds[monitorID]; !ok {
		m.feeds[monitorID] = newFeed()
		m.logger.Info().Str(log.FieldEvent, "mse.feed_started").
			Uint32(log.FieldMonitorID, monitorID).Msg("mse feed started")
	}
	return nil
}

// StopMonitor closes the feed and every session watching it.
func (m *Manager) StopMonitor(monitorID uint32) {
	m.stopMonitor(monitorID, ReasonMonitorStopped)
}

func (m *Manager) stopMonitor(monitorID uint32, reason string) {
	m.mu.Lock()
	f, ok := m.feeds[monitorID]
	delete(m.feeds, monitorID)
	m.mu.Unlock()
	if !ok {
		return
	}
	for _, s := range f.sessions {
		s.close(reason)
	}
	m.registry.RemoveMonitor(monitorID)
	m.logger.Info().Str(log.FieldEvent, "mse.feed_stopped").Uint32(log.FieldMonitorID, monitorID).
		Int("sessions_closed", len(f.sessions)).Msg("mse feed stopped")
}

// Deliver packages p for every session of its monitor.
func (m *Manager) Deliver(p source.Packet) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.feeds[p.MonitorID]
	if !ok {
		return
	}
	f.remember(p)
	for _, s := range f.sessions {
		s.push(p)
	}
}

// IsLive reports whether monitorID has an open feed.
func (m *Manager) IsLive(monitorID uint32) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.feeds[monitorID]
	return ok
}

// openSession allocates a session slot before the WebSocket upgrade so a
// full manager can still answer with an HTTP error.
func (m *Manager) openSession(monitorID uint32) (*Session, error) {
	if !m.IsLive(monitorID) {
		return nil, fmt.Errorf("%w: %d", ErrMonitorNotLive, monitorID)
	}
	rec, err := m.registry.Create(monitorID)
	if err != nil {
		return nil, err
	}
	rec.SetState(session.Starting)
	return newSession(rec, sessionConfig{
		segmentDuration: m.cfg.SegmentDuration,
		bufferSize:      m.cfg.BufferSize,
		writeTimeout:    m.cfg.WriteTimeout,
		pingInterval:    m.cfg.PingInterval,
	}, m.logger), nil
}

// attach makes s receive packets, primed with the cached parameter sets so
// its init segment does not wait for the encoder to repeat them. It fails
// when the feed went away.
func (m *Manager) attach(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.feeds[s.MonitorID()]
	if !ok {
		return fmt.Errorf("%w: %d", ErrMonitorNotLive, s.MonitorID())
	}
	for _, p := range f.parameterSets() {
		s.prime(p)
	}
	f.sessions[s.ID()] = s
	return nil
}

func (m *Manager) detach(s *Session) {
	m.mu.Lock()
	if f, ok := m.feeds[s.MonitorID()]; ok {
		delete(f.sessions, s.ID())
	}
	m.mu.Unlock()
	m.registry.Remove(s.ID())
}

// Sessions lists MSE sessions.
func (m *Manager) Sessions() []session.Info { return m.registry.List() }

// SessionCount returns the number of MSE sessions.
func (m *Manager) SessionCount() int { return m.registry.Len() }

// ServeHTTP upgrades GET /live/{monitorID}/mse to a fragment stream.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "monitorID"), 10, 32)
	if err != nil {
		problem.Write(w, r, http.StatusBadRequest, "mse/bad_request", "Bad Request", "BAD_REQUEST", "invalid monitor id", nil)
		return
	}
	s, err := m.openSession(uint32(id))
	switch {
	case errors.Is(err, ErrMonitorNotLive):
		problem.Write(w, r, http.StatusNotFound, "mse/not_live", "Not Found", "NOT_LIVE", err.Error(), nil)
		return
	case errors.Is(err, session.ErrMaxSessions):
		problem.Write(w, r, http.StatusTooManyRequests, "mse/max_sessions", "Too Many Sessions", "MAX_SESSIONS", err.Error(), nil)
		return
	case err != nil:
		problem.Write(w, r, http.StatusInternalServerError, "mse/internal", "Internal Server Error", "INTERNAL_ERROR", err.Error(), nil)
		return
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		m.registry.Remove(s.ID())
		m.logger.Debug().Err(err).Str(log.FieldEvent, "mse.upgrade_failed").
			Str(log.FieldSessionID, s.ID()).Msg("mse upgrade failed")
		return
	}
	m.run(s, conn)
}

// run serves an upgraded connection until either side ends it.
func (m *Manager) run(s *Session, conn *websocket.Conn) {
	defer conn.Close()
	if err := m.attach(s); err != nil {
		s.close(ReasonMonitorStopped)
		s.sendClose(conn, websocket.CloseNormalClosure, ReasonMonitorStopped)
		m.registry.Remove(s.ID())
		return
	}
	defer m.detach(s)
	s.logger.Info().Str(log.FieldEvent, "mse.session_connected").Msg("mse session connected")

	writerDone := make(chan struct{})
	if !m.workers.Go(func() {
		defer close(writerDone)
		s.writePump(conn)
	}) {
		return
	}
	go s.readPump(conn)

	select {
	case <-writerDone:
	case <-s.Done():
		<-writerDone
	}
	s.logger.Info().Str(log.FieldEvent, "mse.session_closed").Str("reason", s.reason).Msg("mse session closed")
}

// Close ends every session and waits for the write pumps.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.RLock()
	ids := make([]uint32, 0, len(m.feeds))
	for id := range m.feeds {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		m.stopMonitor(id, ReasonShutdown)
	}
	return m.workers.CloseAndWait(ctx)
}
