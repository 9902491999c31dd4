// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package webrtc

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	pion "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"

	"github.com/ManuGH/zmlive/internal/media/nal"
	"github.com/ManuGH/zmlive/internal/session"
)

// sample is one Annex-B access unit ready for the track.
type sample struct {
	data     []byte
	duration time.Duration
	keyframe bool
}

// Peer is one viewer's peer connection. It owns the transport; callbacks
// reference the manager by session id only.
type Peer struct {
	rec    *session.Session
	pc     *pion.PeerConnection
	track  *pion.TrackLocalStaticSample
	codec  nal.Codec
	logger zerolog.Logger
	notify func(Message)

	connected atomic.Bool
	started   atomic.Bool
	samples   atomic.Uint64
	keyframes atomic.Uint64
	bytes     atomic.Uint64

	closeOnce sync.Once
}

// ID returns the session id.
func (p *Peer) ID() string { return p.rec.ID }

// MonitorID returns the watched monitor.
func (p *Peer) MonitorID() uint32 { return p.rec.MonitorID }

// writeSample sends s once the transport is up. Delivery starts at a
// keyframe so the decoder never sees a dangling delta frame.
func (p *Peer) writeSample(s sample) {
	if !p.connected.Load() {
		return
	}
	if !p.started.Load() {
		if !s.keyframe {
			return
		}
		p.started.Store(true)
	}
	if err := p.track.WriteSample(media.Sample{Data: s.data, Duration: s.duration}); err != nil {
		if !errors.Is(err, io.ErrClosedPipe) {
			p.logger.Debug().Err(err).Msg("webrtc sample write failed")
		}
		return
	}
	p.samples.Add(1)
	p.bytes.Add(uint64(len(s.data)))
	if s.keyframe {
		p.keyframes.Add(1)
	}
	p.rec.AddPacket(len(s.data))
}

func (p *Peer) send(msg Message) {
	if p.notify != nil {
		p.notify(msg)
	}
}

// close tears the peer connection down once.
func (p *Peer) close() {
	p.closeOnce.Do(func() {
		p.connected.Store(false)
		if err := p.pc.Close(); err != nil {
			p.logger.Debug().Err(err).Msg("peer connection close failed")
		}
	})
}

// Stats returns a summary of the peer.
func (p *Peer) Stats() PeerStats {
	info := p.rec.Info()
	return PeerStats{
		State:           string(info.State),
		ConnectionState: p.pc.ConnectionState().String(),
		Codec:           p.codec.String(),
		Samples:         p.samples.Load(),
		Bytes:           p.bytes.Load(),
		Keyframes:       p.keyframes.Load(),
		DurationSeconds: info.Duration.Seconds(),
	}
}

func mimeType(c nal.Codec) string {
	if c == nal.H265 {
		return pion.MimeTypeH265
	}
	return pion.MimeTypeH264
}
