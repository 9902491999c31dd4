// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package source tails the per-monitor video FIFOs written by the capture
// daemons and fans NAL units out to live subscribers.
//
// A source is created detached: callers subscribe to video and reader health
// first and only then start the reader, so the first parameter sets are never
// missed.
package source

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ManuGH/zmlive/internal/log"
	"github.com/ManuGH/zmlive/internal/media/nal"
	"github.com/ManuGH/zmlive/internal/metrics"
)

// Packet is one NAL unit read from a FIFO. Data is shared between
// subscribers and must not be modified.
type Packet struct {
	MonitorID   uint32
	Codec       nal.Codec
	Data        []byte
	TimestampUs int64
	Keyframe    bool
	NalType     uint8
	Kind        nal.Kind
	Sequence    uint64
}

// Config tunes the router.
type Config struct {
	FifoDir        string
	MaxOpenRetries int
	RetryInterval  time.Duration
	ReadBufferSize int
	VideoBuffer    int
	AudioBuffer    int
}

func (c *Config) applyDefaults() {
	if c.MaxOpenRetries <= 0 {
		c.MaxOpenRetries = 30
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = time.Second
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = 64 * 1024
	}
	if c.VideoBuffer <= 0 {
		c.VideoBuffer = 512
	}
	if c.AudioBuffer <= 0 {
		c.AudioBuffer = 128
	}
}

// Option customizes a Router.
type Option func(*Router)

// WithLogger overrides the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// Stats is a snapshot of one source.
type Stats struct {
	MonitorID        uint32       `json:"monitor_id"`
	Codec            nal.Codec    `json:"codec"`
	FifoPath         string       `json:"fifo_path"`
	Health           ReaderHealth `json:"health"`
	ReaderRunning    bool         `json:"reader_running"`
	Packets          uint64       `json:"packets"`
	Bytes            uint64       `json:"bytes"`
	Keyframes        uint64       `json:"keyframes"`
	Lagged           uint64       `json:"lagged"`
	OpenFailures     uint64       `json:"open_failures"`
	VideoSubscribers int          `json:"video_subscribers"`
}

// Source holds the channels of one monitor.
type Source struct {
	info  MonitorInfo
	video *Broadcast[Packet]
	audio *Broadcast[Packet]

	mu     sync.Mutex
	health *Watch
	cancel context.CancelFunc
	done   chan struct{}

	lagLog rate.Sometimes

	seq          atomic.Uint64
	packets      atomic.Uint64
	bytes        atomic.Uint64
	keyframes    atomic.Uint64
	lagged       atomic.Uint64
	openFailures atomic.Uint64
}

// Router owns every monitor source.
type Router struct {
	cfg    Config
	lookup MonitorLookup
	logger zerolog.Logger
	epoch  time.Time

	mu         sync.RWMutex
	sources    map[uint32]*Source
	registered map[uint32]MonitorInfo
}

// NewRouter creates a router. lookup may be nil when every monitor is
// registered explicitly.
func NewRouter(cfg Config, lookup MonitorLookup, opts ...Option) *Router {
	cfg.applyDefaults()
	r := &Router{
		cfg:        cfg,
		lookup:     lookup,
		logger:     log.WithComponent("source"),
		epoch:      time.Now(),
		sources:    make(map[uint32]*Source),
		registered: make(map[uint32]MonitorInfo),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register makes monitor id available with an explicit FIFO path. The
// codec follows the file extension (.hevc/.h265 for H.265).
func (r *Router) Register(id uint32, fifoPath string) {
	c := nal.H264
	switch strings.ToLower(filepath.Ext(fifoPath)) {
	case ".hevc", ".h265", ".265":
		c = nal.H265
	}
	r.mu.Lock()
	r.registered[id] = MonitorInfo{ID: id, Codec: c, FifoPath: fifoPath, Available: true}
	r.mu.Unlock()
}

// Info resolves monitor id without creating a source.
func (r *Router) Info(ctx context.Context, id uint32) (MonitorInfo, error) {
	r.mu.RLock()
	if src, ok := r.sources[id]; ok {
		r.mu.RUnlock()
		return src.info, nil
	}
	info, ok := r.registered[id]
	r.mu.RUnlock()
	if ok {
		return info, nil
	}
	if r.lookup == nil {
		return MonitorInfo{}, fmt.Errorf("%w: monitor %d", ErrSourceUnavailable, id)
	}
	info, err := r.lookup.LookupMonitor(ctx, id)
	if err != nil {
		return MonitorInfo{}, err
	}
	if info.FifoPath == "" {
		info.FifoPath = DefaultFifoPath(r.cfg.FifoDir, id, info.Codec)
	}
	return info, nil
}

// IsAvailable reports whether monitor id is known and capturing.
func (r *Router) IsAvailable(ctx context.Context, id uint32) bool {
	info, err := r.Info(ctx, id)
	return err == nil && info.Available
}

// CreateSource allocates the channels for monitor id without starting the
// reader. Creating an existing source is a no-op.
func (r *Router) CreateSource(ctx context.Context, id uint32) error {
	info, err := r.Info(ctx, id)
	if err != nil {
		return err
	}
	if !info.Available {
		return fmt.Errorf("%w: monitor %d is not capturing", ErrSourceUnavailable, id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sources[id]; ok {
		return nil
	}
	src := &Source{
		info:   info,
		video:  NewBroadcast[Packet](r.cfg.VideoBuffer),
		audio:  NewBroadcast[Packet](r.cfg.AudioBuffer),
		health: newWatch(ReaderHealth{State: NotStarted, Since: time.Now()}),
		lagLog: rate.Sometimes{Interval: 5 * time.Second},
	}
	src.video.OnLag(func(n uint64) {
		src.lagged.Add(n)
		metrics.AddLagged(id, n)
		src.lagLog.Do(func() {
			r.logger.Warn().
				Str(log.FieldEvent, "source.subscriber_lagged").
				Uint32(log.FieldMonitorID, id).
				Uint64("lagged_total", src.lagged.Load()).
				Msg("slow subscriber is dropping packets")
		})
	})
	r.sources[id] = src
	r.logger.Debug().
		Str(log.FieldEvent, "source.created").
		Uint32(log.FieldMonitorID, id).
		Str(log.FieldFifoPath, info.FifoPath).
		Str(log.FieldCodec, info.Codec.String()).
		Msg("source created")
	return nil
}

func (r *Router) get(id uint32) (*Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[id]
	if !ok {
		return nil, fmt.Errorf("%w: monitor %d", ErrSourceNotFound, id)
	}
	return src, nil
}

// SubscribeVideo attaches a video subscriber to monitor id.
func (r *Router) SubscribeVideo(id uint32) (*Subscription[Packet], error) {
	src, err := r.get(id)
	if err != nil {
		return nil, err
	}
	return src.video.Subscribe(), nil
}

// SubscribeAudio attaches an audio subscriber to monitor id.
func (r *Router) SubscribeAudio(id uint32) (*Subscription[Packet], error) {
	src, err := r.get(id)
	if err != nil {
		return nil, err
	}
	return src.audio.Subscribe(), nil
}

// SubscribeReaderHealth observes the health watch of the current (or next)
// reader run.
func (r *Router) SubscribeReaderHealth(id uint32) (*HealthReceiver, error) {
	src, err := r.get(id)
	if err != nil {
		return nil, err
	}
	src.mu.Lock()
	defer src.mu.Unlock()
	return src.health.Subscribe(), nil
}

// PublishAudio injects an audio packet for monitor id.
func (r *Router) PublishAudio(id uint32, p Packet) error {
	src, err := r.get(id)
	if err != nil {
		return err
	}
	p.MonitorID = id
	p.Kind = nal.KindAudio
	src.audio.Publish(p)
	return nil
}

// StartReader launches the FIFO reader of monitor id. A running reader is
// left alone; a stopped one is restarted on the same channels.
func (r *Router) StartReader(id uint32) error {
	src, err := r.get(id)
	if err != nil {
		return err
	}
	src.mu.Lock()
	defer src.mu.Unlock()
	if src.done != nil {
		select {
		case <-src.done:
		default:
			return nil
		}
	}
	if src.health.IsClosed() {
		src.health = newWatch(ReaderHealth{State: NotStarted, Since: time.Now()})
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	src.cancel, src.done = cancel, done
	w := src.health
	go func() {
		defer close(done)
		defer cancel()
		r.runReader(ctx, src, w)
	}()
	return nil
}

// StopReader stops the reader of monitor id and waits for it to exit.
func (r *Router) StopReader(id uint32) error {
	src, err := r.get(id)
	if err != nil {
		return err
	}
	src.stopReader()
	return nil
}

func (s *Source) stopReader() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// RemoveSource stops the reader and closes every channel of monitor id.
func (r *Router) RemoveSource(id uint32) error {
	r.mu.Lock()
	src, ok := r.sources[id]
	delete(r.sources, id)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: monitor %d", ErrSourceNotFound, id)
	}
	src.close()
	r.logger.Debug().Str(log.FieldEvent, "source.removed").Uint32(log.FieldMonitorID, id).Msg("source removed")
	return nil
}

func (s *Source) close() {
	s.stopReader()
	s.video.Close()
	s.audio.Close()
	s.mu.Lock()
	s.health.Close()
	s.mu.Unlock()
}

// Stats returns a snapshot of monitor id.
func (r *Router) Stats(id uint32) (Stats, error) {
	src, err := r.get(id)
	if err != nil {
		return Stats{}, err
	}
	return src.stats(), nil
}

// AllStats returns a snapshot of every source.
func (r *Router) AllStats() []Stats {
	r.mu.RLock()
	srcs := make([]*Source, 0, len(r.sources))
	for _, s := range r.sources {
		srcs = append(srcs, s)
	}
	r.mu.RUnlock()
	out := make([]Stats, 0, len(srcs))
	for _, s := range srcs {
		out = append(out, s.stats())
	}
	return out
}

func (s *Source) stats() Stats {
	s.mu.Lock()
	health := s.health.Get()
	running := false
	if s.done != nil {
		select {
		case <-s.done:
		default:
			running = true
		}
	}
	s.mu.Unlock()
	return Stats{
		MonitorID:        s.info.ID,
		Codec:            s.info.Codec,
		FifoPath:         s.info.FifoPath,
		Health:           health,
		ReaderRunning:    running,
		Packets:          s.packets.Load(),
		Bytes:            s.bytes.Load(),
		Keyframes:        s.keyframes.Load(),
		Lagged:           s.lagged.Load(),
		OpenFailures:     s.openFailures.Load(),
		VideoSubscribers: s.video.Len(),
	}
}

// Close removes every source.
func (r *Router) Close() {
	r.mu.Lock()
	srcs := r.sources
	r.sources = make(map[uint32]*Source)
	r.mu.Unlock()
	for _, s := range srcs {
		s.close()
	}
}

func (r *Router) timestampUs() int64 {
	return r.epoch.UnixMicro() + time.Since(r.epoch).Microseconds()
}
