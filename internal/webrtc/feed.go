// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package webrtc

import (
	"sync"
	"time"

	"github.com/ManuGH/zmlive/internal/media/nal"
	"github.com/ManuGH/zmlive/internal/source"
)

const (
	defaultFrameDuration = time.Second / 30
	maxFrameDuration     = 10 * time.Second
)

// feed turns one monitor's unit stream into samples for its peers.
type feed struct {
	monitorID uint32
	codec     nal.Codec

	mu      sync.Mutex
	asm     *nal.Assembler
	vps     []byte
	sps     []byte
	pps     []byte
	pending *nal.AccessUnit
	lastDur time.Duration
	peers   map[string]*Peer
}

func newFeed(monitorID uint32, codec nal.Codec) *feed {
	if codec == 0 {
		codec = nal.H264
	}
	return &feed{
		monitorID: monitorID,
		codec:     codec,
		asm:       nal.NewAssembler(codec),
		lastDur:   defaultFrameDuration,
		peers:     make(map[string]*Peer),
	}
}

// push consumes one packet and returns the previous access unit as a
// sample once its duration is known.
func (f *feed) push(p source.Packet) (sample, []*Peer, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captureParameterSets(p.Data)

	au, ok := f.asm.Push(p.Data, p.TimestampUs, p.Keyframe)
	if !ok {
		return sample{}, nil, false
	}
	prev := f.pending
	f.pending = &au
	if prev == nil || len(f.peers) == 0 {
		return sample{}, nil, false
	}

	dur := time.Duration(au.TimestampUs-prev.TimestampUs) * time.Microsecond
	if dur <= 0 || dur > maxFrameDuration {
		dur = f.lastDur
	}
	f.lastDur = dur

	peers := make([]*Peer, 0, len(f.peers))
	for _, peer := range f.peers {
		peers = append(peers, peer)
	}
	return sample{data: f.annexB(*prev), duration: dur, keyframe: prev.Keyframe}, peers, true
}

func (f *feed) captureParameterSets(u []byte) {
	t := nal.Type(f.codec, u)
	if !nal.IsParameterSet(f.codec, t) {
		return
	}
	cp := append([]byte(nil), u...)
	switch {
	case f.codec == nal.H265 && t == nal.H265VPS:
		f.vps = cp
	case (f.codec == nal.H265 && t == nal.H265SPS) || (f.codec == nal.H264 && t == nal.H264SPS):
		f.sps = cp
	default:
		f.pps = cp
	}
}

// annexB serializes au, putting the latest parameter sets in front of
// keyframes that do not carry their own.
func (f *feed) annexB(au nal.AccessUnit) []byte {
	if !au.Keyframe {
		return nal.AnnexB(au.Units...)
	}
	for _, u := range au.Units {
		if nal.IsParameterSet(f.codec, nal.Type(f.codec, u)) {
			return nal.AnnexB(au.Units...)
		}
	}
	units := make([][]byte, 0, len(au.Units)+3)
	for _, ps := range [][]byte{f.vps, f.sps, f.pps} {
		if len(ps) > 0 {
			units = append(units, ps)
		}
	}
	return nal.AnnexB(append(units, au.Units...)...)
}

func (f *feed) add(p *Peer) {
	f.mu.Lock()
	f.peers[p.ID()] = p
	f.mu.Unlock()
}

func (f *feed) remove(id string) {
	f.mu.Lock()
	delete(f.peers, id)
	f.mu.Unlock()
}

func (f *feed) drain() []*Peer {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Peer, 0, len(f.peers))
	for id, p := range f.peers {
		out = append(out, p)
		delete(f.peers, id)
	}
	return out
}
