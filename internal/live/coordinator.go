// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package live starts and stops per-monitor live sessions and fans the
// monitor's video into the enabled protocol sinks.
package live

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ManuGH/zmlive/internal/log"
	"github.com/ManuGH/zmlive/internal/metrics"
	"github.com/ManuGH/zmlive/internal/session"
	"github.com/ManuGH/zmlive/internal/shutdown"
	"github.com/ManuGH/zmlive/internal/source"
)

// DefaultStartupTimeout bounds the wait for the first packet.
const DefaultStartupTimeout = 15 * time.Second

// Sink is a protocol packager fed by the coordinator.
type Sink interface {
	Name() string
	StartMonitor(ctx context.Context, info source.MonitorInfo) error
	StopMonitor(monitorID uint32)
	Deliver(p source.Packet)
}

// Sources is the part of the source router the coordinator drives.
type Sources interface {
	Info(ctx context.Context, id uint32) (source.MonitorInfo, error)
	IsAvailable(ctx context.Context, id uint32) bool
	CreateSource(ctx context.Context, id uint32) error
	SubscribeVideo(id uint32) (*source.Subscription[source.Packet], error)
	SubscribeReaderHealth(id uint32) (*source.HealthReceiver, error)
	StartReader(id uint32) error
	StopReader(id uint32) error
	RemoveSource(id uint32) error
}

// LiveConfig selects the protocol sinks of a session.
type LiveConfig struct {
	EnableHLS    bool `json:"enable_hls"`
	EnableWebRTC bool `json:"enable_webrtc"`
	EnableMSE    bool `json:"enable_mse"`
}

// Protocols lists the enabled protocol names.
func (c LiveConfig) Protocols() []string {
	var out []string
	if c.EnableHLS {
		out = append(out, session.ProtocolHLS)
	}
	if c.EnableMSE {
		out = append(out, session.ProtocolMSE)
	}
	if c.EnableWebRTC {
		out = append(out, session.ProtocolWebRTC)
	}
	return out
}

// SessionStats is a snapshot of one live session.
type SessionStats struct {
	MonitorID      uint32              `json:"monitor_id"`
	State          session.State       `json:"state"`
	Config         LiveConfig          `json:"config"`
	StartedAt      time.Time           `json:"started_at"`
	FirstPacketAt  *time.Time          `json:"first_packet_at,omitempty"`
	Packets        uint64              `json:"packets"`
	Bytes          uint64              `json:"bytes"`
	Keyframes      uint64              `json:"keyframes"`
	Lagged         uint64              `json:"lagged"`
	Reader         source.ReaderHealth `json:"reader"`
	Error          string              `json:"error,omitempty"`
	UptimeSeconds  float64             `json:"uptime_seconds"`
	StartupSeconds float64             `json:"startup_seconds,omitempty"`
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithHLS enables the HLS protocol.
func WithHLS(s Sink) Option { return func(c *Coordinator) { c.hls = s } }

// WithMSE enables the MSE protocol.
func WithMSE(s Sink) Option { return func(c *Coordinator) { c.mse = s } }

// WithWebRTC enables the WebRTC protocol.
func WithWebRTC(s Sink) Option { return func(c *Coordinator) { c.webrtc = s } }

// WithStartupTimeout overrides DefaultStartupTimeout.
func WithStartupTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.startupTimeout = d
		}
	}
}

// WithShutdown makes every processing loop exit on the global shutdown.
func WithShutdown(b *shutdown.Broadcast) Option { return func(c *Coordinator) { c.shutdown = b } }

// WithLogger overrides the component logger.
func WithLogger(l zerolog.Logger) Option { return func(c *Coordinator) { c.logger = l } }

// Coordinator owns the live sessions. Start and stop of one monitor are
// serialized; different monitors proceed in parallel.
type Coordinator struct {
	sources        Sources
	hls            Sink
	mse            Sink
	webrtc         Sink
	startupTimeout time.Duration
	shutdown       *shutdown.Broadcast
	logger         zerolog.Logger
	workers        session.Group

	locksMu sync.Mutex
	locks   map[uint32]*sync.Mutex

	mu       sync.RWMutex
	sessions map[uint32]*liveSession
}

// NewCoordinator creates a coordinator over sources.
func NewCoordinator(sources Sources, opts ...Option) *Coordinator {
	c := &Coordinator{
		sources:        sources,
		startupTimeout: DefaultStartupTimeout,
		shutdown:       shutdown.New(),
		logger:         log.WithComponent("live"),
		locks:          make(map[uint32]*sync.Mutex),
		sessions:       make(map[uint32]*liveSession),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) monitorLock(id uint32) *sync.Mutex {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	l, ok := c.locks[id]
	if !ok {
		l = &sync.Mutex{}
		c.locks[id] = l
	}
	return l
}

func (c *Coordinator) sink(protocol string) Sink {
	switch protocol {
	case session.ProtocolHLS:
		return c.hls
	case session.ProtocolMSE:
		return c.mse
	case session.ProtocolWebRTC:
		return c.webrtc
	}
	return nil
}

// Available lists the protocols with a configured manager.
func (c *Coordinator) Available() []string {
	return LiveConfig{EnableHLS: c.hls != nil, EnableMSE: c.mse != nil, EnableWebRTC: c.webrtc != nil}.Protocols()
}

// StartSession starts a live session for monitorID. Subscriptions are in
// place before the reader starts so the first parameter sets reach every
// sink.
func (c *Coordinator) StartSession(ctx context.Context, monitorID uint32, cfg LiveConfig) error {
	lock := c.monitorLock(monitorID)
	lock.Lock()
	defer lock.Unlock()

	if c.HasSession(monitorID) {
		return fmt.Errorf("%w: monitor %d", ErrSessionExists, monitorID)
	}
	protocols := cfg.Protocols()
	if len(protocols) == 0 {
		return ErrNoProtocol
	}
	sinks := make([]Sink, 0, len(protocols))
	for _, p := range protocols {
		s := c.sink(p)
		if s == nil {
			return fmt.Errorf("%w: %s", ErrServiceUnavailable, p)
		}
		sinks = append(sinks, s)
	}
	if !c.sources.IsAvailable(ctx, monitorID) {
		return fmt.Errorf("%w: monitor %d", source.ErrSourceUnavailable, monitorID)
	}
	info, err := c.sources.Info(ctx, monitorID)
	if err != nil {
		return err
	}

	if err := c.sources.CreateSource(ctx, monitorID); err != nil {
		return fmt.Errorf("create source: %w", err)
	}
	release := func() { _ = c.sources.RemoveSource(monitorID) }
	video, err := c.sources.SubscribeVideo(monitorID)
	if err != nil {
		release()
		return fmt.Errorf("subscribe video: %w", err)
	}
	health, err := c.sources.SubscribeReaderHealth(monitorID)
	if err != nil {
		video.Close()
		release()
		return fmt.Errorf("subscribe health: %w", err)
	}
	if err := c.sources.StartReader(monitorID); err != nil {
		video.Close()
		release()
		return fmt.Errorf("start reader: %w", err)
	}

	for i, s := range sinks {
		if err := s.StartMonitor(ctx, info); err != nil {
			for _, started := range sinks[:i] {
				started.StopMonitor(monitorID)
			}
			video.Close()
			release()
			return fmt.Errorf("start %s: %w", s.Name(), err)
		}
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	ls := &liveSession{
		monitorID: monitorID,
		cfg:       cfg,
		info:      info,
		sinks:     sinks,
		video:     video,
		health:    health,
		state:     session.Starting,
		startedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
		lagLog:    rate.Sometimes{Interval: 5 * time.Second},
		logger:    c.logger.With().Uint32(log.FieldMonitorID, monitorID).Logger(),
	}
	c.mu.Lock()
	c.sessions[monitorID] = ls
	c.mu.Unlock()
	metrics.SessionOpened("live")

	if !c.workers.Go(func() {
		defer close(ls.done)
		c.run(loopCtx, ls)
	}) {
		close(ls.done)
		_ = c.stop(ls)
		return fmt.Errorf("%w: coordinator is shutting down", ErrServiceUnavailable)
	}
	ls.logger.Info().
		Str(log.FieldEvent, "live.session_started").
		Strs("protocols", protocols).
		Str(log.FieldCodec, info.Codec.String()).
		Msg("live session started")
	return nil
}

// StopSession stops the session of monitorID and removes its record.
// Sessions that already failed or stopped are removed the same way.
func (c *Coordinator) StopSession(ctx context.Context, monitorID uint32) error {
	lock := c.monitorLock(monitorID)
	lock.Lock()
	defer lock.Unlock()

	c.mu.RLock()
	ls, ok := c.sessions[monitorID]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: monitor %d", ErrSessionNotFound, monitorID)
	}
	ls.setState(session.Stopping)
	ls.cancel()
	select {
	case <-ls.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return c.stop(ls)
}

func (c *Coordinator) stop(ls *liveSession) error {
	for _, s := range ls.sinks {
		s.StopMonitor(ls.monitorID)
	}
	ls.video.Close()
	var errs []error
	if err := c.sources.StopReader(ls.monitorID); err != nil && !errors.Is(err, source.ErrSourceNotFound) {
		errs = append(errs, err)
	}
	if err := c.sources.RemoveSource(ls.monitorID); err != nil && !errors.Is(err, source.ErrSourceNotFound) {
		errs = append(errs, err)
	}

	c.mu.Lock()
	delete(c.sessions, ls.monitorID)
	c.mu.Unlock()
	metrics.SessionClosed("live")

	if ls.finish(session.Stopped, nil) {
		metrics.IncLiveOutcome("stopped")
	}
	ls.logger.Info().Str(log.FieldEvent, "live.session_stopped").Msg("live session stopped")
	return errors.Join(errs...)
}

// HasSession reports whether monitorID has a session record.
func (c *Coordinator) HasSession(monitorID uint32) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.sessions[monitorID]
	return ok
}

// GetStats returns the stats of monitorID's session.
func (c *Coordinator) GetStats(monitorID uint32) (SessionStats, error) {
	c.mu.RLock()
	ls, ok := c.sessions[monitorID]
	c.mu.RUnlock()
	if !ok {
		return SessionStats{}, fmt.Errorf("%w: monitor %d", ErrSessionNotFound, monitorID)
	}
	return ls.stats(), nil
}

// ListSessions returns every session ordered by monitor id.
func (c *Coordinator) ListSessions() []SessionStats {
	c.mu.RLock()
	out := make([]SessionStats, 0, len(c.sessions))
	for _, ls := range c.sessions {
		out = append(out, ls.stats())
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].MonitorID < out[j].MonitorID })
	return out
}

// Shutdown stops every session and waits for the processing loops.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.shutdown.Trigger()
	c.mu.RLock()
	ids := make([]uint32, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	var errs []error
	for _, id := range ids {
		if err := c.StopSession(ctx, id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			errs = append(errs, fmt.Errorf("monitor %d: %w", id, err))
		}
	}
	if err := c.workers.CloseAndWait(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
