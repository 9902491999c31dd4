// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package fmp4

import (
	"time"

	"github.com/ManuGH/zmlive/internal/media/nal"
)

// DefaultSampleDuration is used when no timestamp delta is available
// (30 fps at 90 kHz).
const DefaultSampleDuration = 3000

// maxSampleDuration bounds a single delta; larger gaps are treated as a
// timestamp discontinuity.
const maxSampleDuration = 10 * Timescale

// SegmenterConfig sets the cut points of a Segmenter.
type SegmenterConfig struct {
	Codec          nal.Codec
	// TargetDuration is the minimum segment length; segments end at the
	// first keyframe after it elapses.
	TargetDuration time.Duration
	// PartDuration enables partial segments when non-zero.
	PartDuration   time.Duration
}

// Part is a partial segment. Its Data is a complete moof+mdat.
type Part struct {
	Segment     uint64
	Index       int
	Duration    time.Duration
	Independent bool
	Data        []byte
}

// Segment is a complete media segment. When parts are enabled Data is the
// concatenation of the parts' fragments.
type Segment struct {
	Sequence  uint64
	Duration  time.Duration
	Keyframe  bool
	Timestamp uint64 // 90 kHz decode time of the first sample
	Samples   int
	Data      []byte
}

// Output collects what a single Push produced.
type Output struct {
	Init     *InitSegment
	Parts    []Part
	Segments []Segment
}

// Empty reports whether nothing was produced.
func (o Output) Empty() bool {
	return o.Init == nil && len(o.Parts) == 0 && len(o.Segments) == 0
}

// Segmenter turns a NAL unit stream into an init segment and keyframe
// aligned media segments. It is not safe for concurrent use.
type Segmenter struct {
	cfg    SegmenterConfig
	target uint64
	part   uint64

	asm     *nal.Assembler
	ps      ParameterSets
	initSeg *InitSegment

	pending *Sample
	lastTS  int64
	nextDTS uint64
	lastDur uint32

	open      bool
	seq       uint64
	segStart  uint64
	segDur    uint64
	segCount  int
	segKey    bool
	segData   []byte
	parts     int
	partBuf   []Sample
	partDur   uint64
	dropped   uint64
	emittedTS bool
}

// NewSegmenter returns a segmenter with sane defaults for zero fields.
func NewSegmenter(cfg SegmenterConfig) *Segmenter {
	if cfg.Codec == 0 {
		cfg.Codec = nal.H264
	}
	if cfg.TargetDuration <= 0 {
		cfg.TargetDuration = 2 * time.Second
	}
	if cfg.PartDuration >= cfg.TargetDuration {
		cfg.PartDuration = 0
	}
	return &Segmenter{
		cfg:     cfg,
		target:  durationTo90k(cfg.TargetDuration),
		part:    durationTo90k(cfg.PartDuration),
		asm:     nal.NewAssembler(cfg.Codec),
		lastDur: DefaultSampleDuration,
	}
}

// Init returns the cached init segment, or nil before parameter sets.
func (s *Segmenter) Init() *InitSegment { return s.initSeg }

// Dropped returns the number of access units discarded before the first
// keyframe or before the init segment existed.
func (s *Segmenter) Dropped() uint64 { return s.dropped }

// NextSequence returns the sequence the next segment will carry.
func (s *Segmenter) NextSequence() uint64 { return s.seq }

// Push feeds one NAL unit (no start code) stamped with tsUs.
func (s *Segmenter) Push(unit []byte, tsUs int64, keyframe bool) Output {
	var out Output
	if len(unit) == 0 {
		return out
	}
	s.captureParameterSets(unit, &out)
	if au, ok := s.asm.Push(unit, tsUs, keyframe); ok {
		s.accessUnit(au, &out)
	}
	return out
}

// Prime records a parameter set received out of band, e.g. replayed from a
// cache, without passing it through access unit assembly.
func (s *Segmenter) Prime(unit []byte) Output {
	var out Output
	if len(unit) > 0 {
		s.captureParameterSets(unit, &out)
	}
	return out
}

// Flush closes the open segment with the pending access unit.
func (s *Segmenter) Flush() Output {
	var out Output
	if au, ok := s.asm.Flush(); ok {
		s.accessUnit(au, &out)
	}
	if s.pending != nil {
		s.pending.Duration = s.lastDur
		s.appendSample(*s.pending, &out)
		s.pending = nil
	}
	s.closeSegment(&out)
	return out
}

func (s *Segmenter) captureParameterSets(unit []byte, out *Output) {
	c := s.cfg.Codec
	t := nal.Type(c, unit)
	if !nal.IsParameterSet(c, t) || s.initSeg != nil {
		return
	}
	cp := append([]byte(nil), unit...)
	switch {
	case c == nal.H265 && t == nal.H265VPS:
		s.ps.VPS = cp
	case (c == nal.H265 && t == nal.H265SPS) || (c == nal.H264 && t == nal.H264SPS):
		s.ps.SPS = cp
	default:
		s.ps.PPS = cp
	}
	if !s.ps.Complete(c) {
		return
	}
	initSeg, err := BuildInit(c, s.ps)
	if err != nil {
		// A bad SPS is replaced by the next one in the stream.
		s.ps.SPS = nil
		return
	}
	s.initSeg = initSeg
	out.Init = initSeg
}

func (s *Segmenter) accessUnit(au nal.AccessUnit, out *Output) {
	if s.initSeg == nil || (!s.open && s.pending == nil && !au.Keyframe) {
		s.dropped++
		return
	}
	data := s.sampleData(au.Units)
	if len(data) == 0 {
		return
	}

	dts := s.dtsFor(au.TimestampUs)
	if s.pending != nil {
		s.pending.Duration = uint32(dts - s.pending.DTS)
		s.lastDur = s.pending.Duration
		s.appendSample(*s.pending, out)
		s.pending = nil
	}

	if au.Keyframe && (!s.open || s.segDur >= s.target) {
		s.closeSegment(out)
		s.open = true
		s.segStart = dts
		s.segKey = true
	}
	s.pending = &Sample{Data: data, DTS: dts, Keyframe: au.Keyframe}
}

// dtsFor maps a microsecond timestamp to a strictly increasing decode time.
func (s *Segmenter) dtsFor(tsUs int64) uint64 {
	if !s.emittedTS {
		s.emittedTS = true
		s.lastTS = tsUs
		s.nextDTS = nal.To90k(tsUs)
		return s.nextDTS
	}
	prev := s.nextDTS
	var delta uint64
	if tsUs > s.lastTS {
		delta = nal.To90k(tsUs) - nal.To90k(s.lastTS)
	}
	if delta == 0 || delta > maxSampleDuration {
		delta = uint64(s.lastDur)
	}
	s.lastTS = tsUs
	s.nextDTS = prev + delta
	return s.nextDTS
}

// sampleData converts units to length-prefixed form, leaving out parameter
// sets and delimiters carried in the init segment.
func (s *Segmenter) sampleData(units [][]byte) []byte {
	c := s.cfg.Codec
	keep := make([][]byte, 0, len(units))
	for _, u := range units {
		t := nal.Type(c, u)
		if nal.IsParameterSet(c, t) || nal.IsAUD(c, t) {
			continue
		}
		keep = append(keep, u)
	}
	return nal.AVCC(keep...)
}

func (s *Segmenter) appendSample(smp Sample, out *Output) {
	if !s.open {
		return
	}
	s.partBuf = append(s.partBuf, smp)
	s.partDur += uint64(smp.Duration)
	s.segDur += uint64(smp.Duration)
	s.segCount++
	if s.part > 0 && s.partDur >= s.part {
		s.flushPart(out)
	}
}

func (s *Segmenter) flushPart(out *Output) {
	if len(s.partBuf) == 0 {
		return
	}
	frag, err := buildFragment(uint32(s.seq), s.partBuf)
	if err != nil {
		s.dropped += uint64(len(s.partBuf))
		s.partBuf = s.partBuf[:0]
		s.partDur = 0
		return
	}
	if s.part > 0 {
		out.Parts = append(out.Parts, Part{
			Segment:     s.seq,
			Index:       s.parts,
			Duration:    ticksToDuration(s.partDur),
			Independent: s.partBuf[0].Keyframe,
			Data:        frag,
		})
		s.parts++
	}
	s.segData = append(s.segData, frag...)
	s.partBuf = s.partBuf[:0]
	s.partDur = 0
}

func (s *Segmenter) closeSegment(out *Output) {
	if !s.open {
		return
	}
	s.flushPart(out)
	if s.segCount > 0 {
		out.Segments = append(out.Segments, Segment{
			Sequence:  s.seq,
			Duration:  ticksToDuration(s.segDur),
			Keyframe:  s.segKey,
			Timestamp: s.segStart,
			Samples:   s.segCount,
			Data:      s.segData,
		})
		s.seq++
	}
	s.open = false
	s.segData = nil
	s.segDur = 0
	s.segCount = 0
	s.segKey = false
	s.parts = 0
}

func durationTo90k(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return nal.To90k(d.Microseconds())
}

func ticksToDuration(t uint64) time.Duration {
	return time.Duration(t) * time.Second / Timescale
}
