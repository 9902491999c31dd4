// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package hls

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/zmlive/internal/log"
	"github.com/ManuGH/zmlive/internal/media/fmp4"
	"github.com/ManuGH/zmlive/internal/media/nal"
	"github.com/ManuGH/zmlive/internal/metrics"
	"github.com/ManuGH/zmlive/internal/playlist"
	"github.com/ManuGH/zmlive/internal/source"
)

const (
	// DefaultBandwidth is advertised before any segment has been measured.
	DefaultBandwidth = 2_000_000

	// partsRetained is the number of newest segments whose parts are listed.
	partsRetained = 3

	// InitURI is the EXT-X-MAP target.
	InitURI = "init.mp4"
	// MediaURI is the media playlist referenced by the master playlist.
	MediaURI = "live.m3u8"
)

var (
	ErrNotReady        = errors.New("hls stream not ready")
	ErrSegmentNotFound = errors.New("segment not found")
	ErrStreamClosed    = errors.New("hls stream closed")
	ErrStreamNotFound  = errors.New("hls stream not found")
	ErrFutureRequest   = errors.New("requested media sequence is too far ahead")
)

// SegmentURI names a full segment.
func SegmentURI(seq uint64) string { return fmt.Sprintf("segment_%d.m4s", seq) }

// PartURI names a partial segment.
func PartURI(seq uint64, idx int) string { return fmt.Sprintf("part_%d_%d.m4s", seq, idx) }

// StreamConfig shapes one monitor's packaging.
type StreamConfig struct {
	SegmentDuration time.Duration
	PlaylistSize    int
	StorageSegments int
	LowLatency      bool
	PartDuration    time.Duration
}

// StreamStats is a snapshot of a stream's counters.
type StreamStats struct {
	MonitorID     uint32    `json:"monitor_id"`
	Codec         string    `json:"codec,omitempty"`
	Ready         bool      `json:"ready"`
	Segments      uint64    `json:"segments"`
	Bytes         uint64    `json:"bytes"`
	Dropped       uint64    `json:"dropped_access_units"`
	FirstSequence uint64    `json:"first_sequence"`
	LastSequence  uint64    `json:"last_sequence"`
	LastSegmentAt time.Time `json:"last_segment_at"`
}

// Stream packages one monitor's packets into a live HLS presentation.
// Playlist snapshots and segment eviction happen under the same lock, so a
// listed segment is always retrievable at the time the playlist is built.
type Stream struct {
	monitorID uint32
	cfg       StreamConfig
	logger    zerolog.Logger
	now       func() time.Time

	mu       sync.RWMutex
	seg      *fmp4.Segmenter
	codec    nal.Codec
	initSeg  *fmp4.InitSegment
	ring     *SegmentRing
	pending  []fmp4.Part
	updated  chan struct{}
	closed   bool
	segments uint64
	bytes    uint64
	lastAt   time.Time
}

// NewStream returns an empty stream for monitorID.
func NewStream(monitorID uint32, cfg StreamConfig, logger zerolog.Logger) *Stream {
	if cfg.SegmentDuration <= 0 {
		cfg.SegmentDuration = 2 * time.Second
	}
	if cfg.PlaylistSize <= 0 {
		cfg.PlaylistSize = 6
	}
	if cfg.StorageSegments < cfg.PlaylistSize {
		cfg.StorageSegments = cfg.PlaylistSize
	}
	if !cfg.LowLatency || cfg.PartDuration >= cfg.SegmentDuration {
		cfg.PartDuration = 0
	}
	return &Stream{
		monitorID: monitorID,
		cfg:       cfg,
		logger:    logger.With().Uint32(log.FieldMonitorID, monitorID).Logger(),
		now:       time.Now,
		ring:      NewSegmentRing(cfg.StorageSegments),
		updated:   make(chan struct{}),
	}
}

// Push feeds one packet. The segmenter is created from the first packet's codec.
func (s *Stream) Push(p source.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.seg == nil {
		s.codec = p.Codec
		s.seg = fmp4.NewSegmenter(fmp4.SegmenterConfig{
			Codec:          p.Codec,
			TargetDuration: s.cfg.SegmentDuration,
			PartDuration:   s.cfg.PartDuration,
		})
	}
	out := s.seg.Push(p.Data, p.TimestampUs, p.Keyframe)
	if out.Empty() {
		return
	}
	s.applyLocked(out)
	s.notifyLocked()
}

func (s *Stream) applyLocked(out fmp4.Output) {
	if out.Init != nil {
		s.initSeg = out.Init
		s.logger.Info().
			Str("codec", out.Init.CodecTag).
			Int("width", out.Init.Width).
			Int("height", out.Init.Height).
			Msg("hls init segment ready")
	}
	s.pending = append(s.pending, out.Parts...)
	for _, seg := range out.Segments {
		stored := &StoredSegment{Segment: seg, ProgramDateTime: ticksToTime(seg.Timestamp)}
		rest := s.pending[:0]
		for _, p := range s.pending {
			if p.Segment == seg.Sequence {
				stored.Parts = append(stored.Parts, p)
			} else {
				rest = append(rest, p)
			}
		}
		s.pending = rest
		if evicted := s.ring.Put(stored); len(evicted) > 0 {
			s.logger.Debug().Uints64("sequences", evicted).Msg("evicted hls segments")
		}
		s.dropOldPartsLocked()
		s.segments++
		s.bytes += uint64(len(seg.Data))
		s.lastAt = s.now()
		metrics.ObserveSegment(Protocol, len(seg.Data))
	}
}

// dropOldPartsLocked releases parts that are no longer listed.
func (s *Stream) dropOldPartsLocked() {
	segs := s.ring.Tail(-1)
	for i := 0; i < len(segs)-partsRetained; i++ {
		segs[i].Parts = nil
	}
}

func (s *Stream) notifyLocked() {
	close(s.updated)
	s.updated = make(chan struct{})
}

// Init returns the init segment.
func (s *Stream) Init() (*fmp4.InitSegment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.initSeg == nil {
		return nil, ErrNotReady
	}
	return s.initSeg, nil
}

// Segment returns the bytes of segment seq.
func (s *Stream) Segment(seq uint64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seg, ok := s.ring.Get(seq)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrSegmentNotFound, seq)
	}
	return seg.Data, nil
}

// Part returns the bytes of part idx of segment seq.
func (s *Stream) Part(seq uint64, idx int) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	parts := s.pending
	if seg, ok := s.ring.Get(seq); ok {
		parts = seg.Parts
	}
	for _, p := range parts {
		if p.Segment == seq && p.Index == idx {
			return p.Data, nil
		}
	}
	return nil, fmt.Errorf("%w: part %d.%d", ErrSegmentNotFound, seq, idx)
}

// MediaPlaylist builds the live media playlist.
func (s *Stream) MediaPlaylist() (*playlist.Media, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.initSeg == nil || s.ring.Len() == 0 {
		return nil, ErrNotReady
	}

	segs := s.ring.Tail(-1)
	m := &playlist.Media{
		TargetDuration: s.cfg.SegmentDuration,
		MediaSequence:  segs[0].Sequence,
		MapURI:         InitURI,
		Segments:       make([]playlist.Segment, 0, len(segs)),
	}
	for _, sg := range segs {
		entry := playlist.Segment{
			Sequence:        sg.Sequence,
			Duration:        sg.Duration,
			URI:             SegmentURI(sg.Sequence),
			ProgramDateTime: sg.ProgramDateTime,
		}
		if s.cfg.PartDuration > 0 {
			entry.Parts = playlistParts(sg.Parts)
		}
		m.Segments = append(m.Segments, entry)
	}
	m.Trim(s.cfg.PlaylistSize)

	if s.cfg.PartDuration > 0 {
		m.PartTarget = s.cfg.PartDuration
		m.PendingParts = playlistParts(s.pending)
		m.PreloadHint = PartURI(s.seg.NextSequence(), len(s.pending))
	}
	return m, nil
}

func playlistParts(parts []fmp4.Part) []playlist.Part {
	if len(parts) == 0 {
		return nil
	}
	out := make([]playlist.Part, len(parts))
	for i, p := range parts {
		out[i] = playlist.Part{
			Duration:    p.Duration,
			URI:         PartURI(p.Segment, p.Index),
			Independent: p.Independent,
		}
	}
	return out
}

// Variant describes the stream for the master playlist.
func (s *Stream) Variant(uri string) (playlist.Variant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.initSeg == nil {
		return playlist.Variant{}, ErrNotReady
	}
	return playlist.Variant{
		Bandwidth: s.bandwidthLocked(),
		Width:     s.initSeg.Width,
		Height:    s.initSeg.Height,
		Codecs:    s.initSeg.CodecTag,
		FrameRate: s.initSeg.FrameRate,
		URI:       uri,
	}, nil
}

// bandwidthLocked returns the peak segment bitrate in bits per second.
func (s *Stream) bandwidthLocked() int {
	peak := 0.0
	for _, sg := range s.ring.Tail(-1) {
		if sg.Duration <= 0 {
			continue
		}
		if bps := float64(len(sg.Data)*8) / sg.Duration.Seconds(); bps > peak {
			peak = bps
		}
	}
	if peak == 0 {
		return DefaultBandwidth
	}
	return int(peak)
}

// WaitFor blocks until segment msn, or part of the open segment msn when
// part >= 0, is available.
func (s *Stream) WaitFor(ctx context.Context, msn uint64, part int) error {
	for {
		s.mu.RLock()
		ready, err := s.readyLocked(msn, part)
		updated := s.updated
		closed := s.closed
		s.mu.RUnlock()

		switch {
		case err != nil:
			return err
		case ready:
			return nil
		case closed:
			return ErrStreamClosed
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-updated:
		}
	}
}

func (s *Stream) readyLocked(msn uint64, part int) (bool, error) {
	if last, ok := s.ring.Last(); ok && last.Sequence >= msn {
		return true, nil
	}
	var open uint64
	if s.seg != nil {
		open = s.seg.NextSequence()
	}
	if part >= 0 && open == msn && len(s.pending) > part {
		return true, nil
	}
	if msn > open+2 {
		return false, fmt.Errorf("%w: %d (open segment %d)", ErrFutureRequest, msn, open)
	}
	return false, nil
}

// Stats returns a snapshot of the stream counters.
func (s *Stream) Stats() StreamStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := StreamStats{
		MonitorID:     s.monitorID,
		Ready:         s.initSeg != nil,
		Segments:      s.segments,
		Bytes:         s.bytes,
		LastSegmentAt: s.lastAt,
	}
	if s.seg != nil {
		st.Codec = s.codec.String()
		st.Dropped = s.seg.Dropped()
	}
	if segs := s.ring.Tail(-1); len(segs) > 0 {
		st.FirstSequence = segs[0].Sequence
		st.LastSequence = segs[len(segs)-1].Sequence
	}
	return st
}

// Close releases segments and wakes blocked readers.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.ring.Reset()
	s.pending = nil
	s.notifyLocked()
}

// ticksToTime maps a 90 kHz epoch-based decode time to wall clock.
func ticksToTime(t uint64) time.Time {
	us := t/9*100 + (t%9)*100/9
	return time.UnixMicro(int64(us)).UTC()
}
