// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package webrtc sends live video to browsers over WebRTC peer connections.
package webrtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/ManuGH/zmlive/internal/config"
	"github.com/ManuGH/zmlive/internal/log"
	"github.com/ManuGH/zmlive/internal/session"
	"github.com/ManuGH/zmlive/internal/source"
)

// Protocol is the sink and metrics name of this package.
const Protocol = session.ProtocolWebRTC

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger overrides the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithSettingEngine replaces the pion setting engine, e.g. to restrict
// interfaces in tests.
func WithSettingEngine(se pion.SettingEngine) Option {
	return func(m *Manager) { m.settings = &se }
}

// Manager owns the WebRTC peers of every live monitor.
type Manager struct {
	cfg      config.WebRTCSettings
	logger   zerolog.Logger
	settings *pion.SettingEngine
	api      *pion.API
	registry *session.Registry

	mu    sync.RWMutex
	feeds map[uint32]*feed
	peers map[string]*Peer
}

// NewManager creates a manager with the default codecs registered.
func NewManager(cfg config.WebRTCSettings, opts ...Option) (*Manager, error) {
	if cfg.GatheringTimeout <= 0 {
		cfg.GatheringTimeout = 10 * time.Second
	}
	m := &Manager{
		cfg:      cfg,
		logger:   log.WithComponent("webrtc"),
		registry: session.NewRegistry(Protocol, cfg.MaxSessions),
		feeds:    make(map[uint32]*feed),
		peers:    make(map[string]*Peer),
	}
	for _, opt := range opts {
		opt(m)
	}

	me := &pion.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	apiOpts := []func(*pion.API){pion.WithMediaEngine(me)}
	if m.settings != nil {
		apiOpts = append(apiOpts, pion.WithSettingEngine(*m.settings))
	}
	m.api = pion.NewAPI(apiOpts...)
	return m, nil
}

// Name identifies the sink.
func (m *Manager) Name() string { return Protocol }

// StartMonitor opens the feed of the monitor. It is idempotent.
func (m *Manager) StartMonitor(_ context.Context, info source.MonitorInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.feeds[info.ID]; ok {
		return nil
	}
	m.feeds[info.ID] = newFeed(info.ID, info.Codec)
	m.logger.Info().Str(log.FieldEvent, "webrtc.feed_started").Uint32(log.FieldMonitorID, info.ID).Str("codec", info.Codec.String()).Msg("webrtc feed started")
	return nil
}

// StopMonitor disconnects every peer of monitorID.
func (m *Manager) StopMonitor(monitorID uint32) {
	m.mu.Lock()
	f, ok := m.feeds[monitorID]
	delete(m.feeds, monitorID)
	m.mu.Unlock()
	if !ok {
		return
	}
	peers := f.drain()
	for _, p := range peers {
		m.teardown(p, "monitor stopped")
	}
	m.logger.Info().Str(log.FieldEvent, "webrtc.feed_stopped").Uint32(log.FieldMonitorID, monitorID).Int("sessions_closed", len(peers)).Msg("webrtc feed stopped")
}

// Deliver writes p's completed access unit to every connected peer.
func (m *Manager) Deliver(p source.Packet) {
	m.mu.RLock()
	f, ok := m.feeds[p.MonitorID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	s, peers, ok := f.push(p)
	if !ok {
		return
	}
	for _, peer := range peers {
		peer.writeSample(s)
	}
}

// Offer creates a peer for monitorID from a client offer and returns it
// with the complete answer SDP. notify, when set, receives asynchronous
// events for the session.
func (m *Manager) Offer(ctx context.Context, monitorID uint32, sdp string, notify func(Message)) (*Peer, string, error) {
	if sdp == "" {
		return nil, "", fmt.Errorf("%w: offer without sdp", ErrInvalidMessage)
	}
	m.mu.RLock()
	f, ok := m.feeds[monitorID]
	m.mu.RUnlock()
	if !ok {
		return nil, "", fmt.Errorf("%w: %d is not live", ErrMonitorNotFound, monitorID)
	}

	rec, err := m.registry.Create(monitorID)
	if err != nil {
		return nil, "", err
	}
	rec.SetState(session.Starting)

	peer, answer, err := m.negotiate(ctx, rec, f, sdp, notify)
	if err != nil {
		m.registry.Remove(rec.ID)
		return nil, "", err
	}

	m.mu.Lock()
	if _, live := m.feeds[monitorID]; !live {
		m.mu.Unlock()
		peer.close()
		m.registry.Remove(rec.ID)
		return nil, "", fmt.Errorf("%w: %d stopped", ErrMonitorNotFound, monitorID)
	}
	m.peers[rec.ID] = peer
	m.mu.Unlock()
	f.add(peer)

	peer.logger.Info().Msg("webrtc session negotiated")
	return peer, answer, nil
}

func (m *Manager) negotiate(ctx context.Context, rec *session.Session, f *feed, sdp string, notify func(Message)) (*Peer, string, error) {
	pc, err := m.api.NewPeerConnection(pion.Configuration{ICEServers: m.iceServers()})
	if err != nil {
		return nil, "", fmt.Errorf("new peer connection: %w", err)
	}
	fail := func(err error) (*Peer, string, error) {
		_ = pc.Close()
		return nil, "", err
	}

	track, err := pion.NewTrackLocalStaticSample(
		pion.RTPCodecCapability{MimeType: mimeType(f.codec)},
		"video",
		fmt.Sprintf("zm-monitor-%d", rec.MonitorID),
	)
	if err != nil {
		return fail(fmt.Errorf("new track: %w", err))
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		return fail(fmt.Errorf("add track: %w", err))
	}
	go drainRTCP(sender)

	peer := &Peer{
		rec:    rec,
		pc:     pc,
		track:  track,
		codec:  f.codec,
		logger: m.logger.With().Str(log.FieldSessionID, rec.ID).Uint32(log.FieldMonitorID, rec.MonitorID).Logger(),
		notify: notify,
	}
	id := rec.ID
	pc.OnConnectionStateChange(func(st pion.PeerConnectionState) {
		m.onConnectionState(id, st)
	})

	if err := pc.SetRemoteDescription(pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: sdp}); err != nil {
		return fail(fmt.Errorf("%w: %v", ErrInvalidMessage, err))
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fail(fmt.Errorf("create answer: %w", err))
	}
	gathered := pion.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return fail(fmt.Errorf("set local description: %w", err))
	}

	timer := time.NewTimer(m.cfg.GatheringTimeout)
	defer timer.Stop()
	select {
	case <-gathered:
	case <-timer.C:
		peer.logger.Warn().Dur("timeout", m.cfg.GatheringTimeout).Msg("ice gathering incomplete, answering with partial candidates")
	case <-ctx.Done():
		return fail(ctx.Err())
	}
	return peer, pc.LocalDescription().SDP, nil
}

func drainRTCP(sender *pion.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (m *Manager) iceServers() []pion.ICEServer {
	if len(m.cfg.ICEServers) == 0 {
		return nil
	}
	return []pion.ICEServer{{URLs: m.cfg.ICEServers}}
}

func (m *Manager) onConnectionState(id string, st pion.PeerConnectionState) {
	p, ok := m.Peer(id)
	if !ok {
		return
	}
	p.logger.Debug().Str("state", st.String()).Msg("peer connection state changed")
	switch st {
	case pion.PeerConnectionStateConnected:
		p.connected.Store(true)
		p.rec.SetState(session.Active)
	case pion.PeerConnectionStateDisconnected:
		p.connected.Store(false)
		p.rec.SetState(session.Disconnected)
	case pion.PeerConnectionStateFailed:
		p.connected.Store(false)
		p.rec.SetState(session.Failed)
		p.send(Message{Type: TypeDisconnected, SessionID: id, Reason: "connection failed"})
	case pion.PeerConnectionStateClosed:
		p.connected.Store(false)
	}
}

// Peer looks up a peer by session id.
func (m *Manager) Peer(id string) (*Peer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.peers[id]
	return p, ok
}

func (m *Manager) peer(id string) (*Peer, error) {
	p, ok := m.Peer(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", session.ErrSessionNotFound, id)
	}
	return p, nil
}

// Answer applies a client answer to a server-initiated offer.
func (m *Manager) Answer(id, sdp string) error {
	p, err := m.peer(id)
	if err != nil {
		return err
	}
	if err := p.pc.SetRemoteDescription(pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: sdp}); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return nil
}

// AddICECandidate adds a remote candidate. A rejected candidate leaves the
// session in place.
func (m *Manager) AddICECandidate(id, candidate string, sdpMid *string, sdpMLineIndex *uint16) error {
	p, err := m.peer(id)
	if err != nil {
		return err
	}
	if candidate == "" {
		return fmt.Errorf("%w: empty candidate", ErrIceFailed)
	}
	init := pion.ICECandidateInit{Candidate: candidate, SDPMid: sdpMid, SDPMLineIndex: sdpMLineIndex}
	if err := p.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("%w: %v", ErrIceFailed, err)
	}
	return nil
}

// Hangup ends a session.
func (m *Manager) Hangup(id string) error {
	p, err := m.peer(id)
	if err != nil {
		return err
	}
	m.teardown(p, "hangup")
	return nil
}

// Stats returns the stats of a session.
func (m *Manager) Stats(id string) (PeerStats, error) {
	p, err := m.peer(id)
	if err != nil {
		return PeerStats{}, err
	}
	return p.Stats(), nil
}

// teardown closes the transport and drops every reference to p.
func (m *Manager) teardown(p *Peer, reason string) {
	m.mu.Lock()
	delete(m.peers, p.ID())
	f := m.feeds[p.MonitorID()]
	m.mu.Unlock()
	if f != nil {
		f.remove(p.ID())
	}
	p.close()
	m.registry.Remove(p.ID())
	p.send(Message{Type: TypeDisconnected, SessionID: p.ID(), Reason: reason})
	p.logger.Info().Str("reason", reason).Msg("webrtc session closed")
}

// CleanupStaleSessions removes sessions that stayed disconnected or failed
// for longer than maxAge and returns how many were removed.
func (m *Manager) CleanupStaleSessions(maxAge time.Duration) int {
	removed := m.registry.CleanupStale(maxAge)
	for _, rec := range removed {
		if p, ok := m.Peer(rec.ID); ok {
			m.teardown(p, "stale")
		}
	}
	return len(removed)
}

// Sweep runs CleanupStaleSessions with the configured age.
func (m *Manager) Sweep(context.Context) int {
	return m.CleanupStaleSessions(m.cfg.StaleSessionAge)
}

// Sessions lists WebRTC sessions.
func (m *Manager) Sessions() []session.Info { return m.registry.List() }

// SessionCount returns the number of WebRTC sessions.
func (m *Manager) SessionCount() int { return m.registry.Len() }

// Close tears down every peer.
func (m *Manager) Close() {
	m.mu.RLock()
	ids := make([]uint32, 0, len(m.feeds))
	for id := range m.feeds {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		m.StopMonitor(id)
	}
}
