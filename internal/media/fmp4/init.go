// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package fmp4

import (
	"errors"
	"fmt"

	"github.com/ManuGH/zmlive/internal/media/nal"
	"github.com/ManuGH/zmlive/internal/media/sps"
)

// Timescale is the media clock of the video track.
const Timescale = 90000

const trackID = 1

// ErrMissingParameterSets is returned when the init segment cannot be built
// because SPS, PPS or (for H.265) VPS have not been seen.
var ErrMissingParameterSets = errors.New("fmp4: missing parameter sets")

// ParameterSets holds the raw parameter set units, without start codes.
type ParameterSets struct {
	VPS []byte
	SPS []byte
	PPS []byte
}

// Complete reports whether every unit required by codec c is present.
func (p ParameterSets) Complete(c nal.Codec) bool {
	if len(p.SPS) == 0 || len(p.PPS) == 0 {
		return false
	}
	return c != nal.H265 || len(p.VPS) > 0
}

// InitSegment is the cached ftyp+moov for a track.
type InitSegment struct {
	Codec     nal.Codec
	CodecTag  string // RFC 6381 codec string for playlists and MSE
	Width     int
	Height    int
	FrameRate float64
	Data      []byte
}

// MimeType returns the MSE mime type including the codec parameter.
func (i *InitSegment) MimeType() string {
	return fmt.Sprintf("video/mp4; codecs=%q", i.CodecTag)
}

// BuildInit creates the init segment for codec c from its parameter sets.
func BuildInit(c nal.Codec, ps ParameterSets) (*InitSegment, error) {
	if !ps.Complete(c) {
		return nil, ErrMissingParameterSets
	}
	initSeg := &InitSegment{Codec: c}
	var entry func(*writer)

	switch c {
	case nal.H264:
		s, err := sps.ParseH264(ps.SPS)
		if err != nil {
			return nil, fmt.Errorf("parse sps: %w", err)
		}
		initSeg.CodecTag, initSeg.Width, initSeg.Height, initSeg.FrameRate = s.Codec(), s.Width, s.Height, s.FrameRate
		entry = func(w *writer) {
			off := w.open("avc1")
			visualSampleEntry(w, s.Width, s.Height)
			writeAVCC(w, s, ps)
			w.close(off)
		}
	case nal.H265:
		s, err := sps.ParseH265(ps.SPS)
		if err != nil {
			return nil, fmt.Errorf("parse sps: %w", err)
		}
		initSeg.CodecTag, initSeg.Width, initSeg.Height = s.Codec(), s.Width, s.Height
		entry = func(w *writer) {
			off := w.open("hvc1")
			visualSampleEntry(w, s.Width, s.Height)
			writeHVCC(w, s, ps)
			w.close(off)
		}
	default:
		return nil, fmt.Errorf("fmp4: unsupported codec %s", c)
	}

	w := &writer{b: make([]byte, 0, 1024)}
	writeFtyp(w, c)
	moov := w.open("moov")
	writeMvhd(w)
	trak := w.open("trak")
	writeTkhd(w, initSeg.Width, initSeg.Height)
	mdia := w.open("mdia")
	writeMdhd(w)
	writeHdlr(w)
	minf := w.open("minf")
	vmhd := w.openFull("vmhd", 0, 1)
	w.zeros(8)
	w.close(vmhd)
	dinf := w.open("dinf")
	dref := w.openFull("dref", 0, 0)
	w.u32(1)
	url := w.openFull("url ", 0, 1)
	w.close(url)
	w.close(dref)
	w.close(dinf)
	stbl := w.open("stbl")
	stsd := w.openFull("stsd", 0, 0)
	w.u32(1)
	entry(w)
	w.close(stsd)
	for _, typ := range []string{"stts", "stsc", "stco"} {
		off := w.openFull(typ, 0, 0)
		w.u32(0)
		w.close(off)
	}
	stsz := w.openFull("stsz", 0, 0)
	w.u32(0)
	w.u32(0)
	w.close(stsz)
	w.close(stbl)
	w.close(minf)
	w.close(mdia)
	w.close(trak)
	mvex := w.open("mvex")
	trex := w.openFull("trex", 0, 0)
	w.u32(trackID)
	w.u32(1) // default_sample_description_index
	w.u32(0)
	w.u32(0)
	w.u32(0)
	w.close(trex)
	w.close(mvex)
	w.close(moov)

	initSeg.Data = w.b
	return initSeg, nil
}

func writeFtyp(w *writer, c nal.Codec) {
	off := w.open("ftyp")
	w.raw([]byte("iso6"))
	w.u32(0x200)
	brands := []string{"iso6", "iso5", "mp41", "avc1"}
	if c == nal.H265 {
		brands[3] = "hvc1"
	}
	for _, b := range brands {
		w.raw([]byte(b))
	}
	w.close(off)
}

func writeMvhd(w *writer) {
	off := w.openFull("mvhd", 0, 0)
	w.u32(0)    // creation_time
	w.u32(0)    // modification_time
	w.u32(1000) // timescale
	w.u32(0)    // duration
	w.u32(0x00010000)
	w.u16(0x0100)
	w.zeros(10)
	w.matrix()
	w.zeros(24)
	w.u32(trackID + 1) // next_track_ID
	w.close(off)
}

func writeTkhd(w *writer, width, height int) {
	off := w.openFull("tkhd", 0, 3) // enabled | in_movie
	w.u32(0)
	w.u32(0)
	w.u32(trackID)
	w.u32(0)
	w.u32(0) // duration
	w.zeros(8)
	w.u16(0) // layer
	w.u16(0) // alternate_group
	w.u16(0) // volume
	w.u16(0)
	w.matrix()
	w.u32(uint32(width) << 16)
	w.u32(uint32(height) << 16)
	w.close(off)
}

func writeMdhd(w *writer) {
	off := w.openFull("mdhd", 0, 0)
	w.u32(0)
	w.u32(0)
	w.u32(Timescale)
	w.u32(0)
	w.u16(0x55c4) // "und"
	w.u16(0)
	w.close(off)
}

func writeHdlr(w *writer) {
	off := w.openFull("hdlr", 0, 0)
	w.u32(0)
	w.raw([]byte("vide"))
	w.zeros(12)
	w.raw([]byte("VideoHandler\x00"))
	w.close(off)
}

func visualSampleEntry(w *writer, width, height int) {
	w.zeros(6)
	w.u16(1) // data_reference_index
	w.zeros(16)
	w.u16(uint16(width))
	w.u16(uint16(height))
	w.u32(0x00480000) // 72 dpi
	w.u32(0x00480000)
	w.u32(0)
	w.u16(1) // frame_count
	w.zeros(32)
	w.u16(0x0018)
	w.u16(0xffff)
}

func writeAVCC(w *writer, s sps.H264, ps ParameterSets) {
	off := w.open("avcC")
	w.u8(1)
	w.u8(s.ProfileIDC)
	w.u8(s.ConstraintFlags)
	w.u8(s.LevelIDC)
	w.u8(0xfc | 3) // lengthSizeMinusOne
	w.u8(0xe0 | 1)
	w.u16(uint16(len(ps.SPS)))
	w.raw(ps.SPS)
	w.u8(1)
	w.u16(uint16(len(ps.PPS)))
	w.raw(ps.PPS)
	switch s.ProfileIDC {
	case 100, 110, 122, 144:
		w.u8(0xfc | uint8(s.ChromaFormatIDC&3))
		w.u8(0xf8 | uint8((s.BitDepthLuma-8)&7))
		w.u8(0xf8 | uint8((s.BitDepthChroma-8)&7))
		w.u8(0)
	}
	w.close(off)
}

func writeHVCC(w *writer, s sps.H265, ps ParameterSets) {
	off := w.open("hvcC")
	w.u8(1)
	tier := uint8(0)
	if s.TierFlag {
		tier = 1
	}
	w.u8(s.ProfileSpace<<6 | tier<<5 | s.ProfileIDC&0x1f)
	w.u32(s.CompatibilityFlags)
	for i := 0; i < 6; i++ {
		w.u8(uint8(s.ConstraintFlags >> (40 - 8*uint(i))))
	}
	w.u8(s.LevelIDC)
	w.u16(0xf000) // min_spatial_segmentation_idc
	w.u8(0xfc)    // parallelismType
	w.u8(0xfc | uint8(s.ChromaFormatIDC&3))
	w.u8(0xf8 | uint8((s.BitDepthLuma-8)&7))
	w.u8(0xf8 | uint8((s.BitDepthChroma-8)&7))
	w.u16(0) // avgFrameRate
	// constantFrameRate 0, numTemporalLayers 1, temporalIdNested 1, lengthSizeMinusOne 3
	w.u8(1<<3 | 1<<2 | 3)
	w.u8(3)
	for _, a := range []struct {
		typ  uint8
		unit []byte
	}{{nal.H265VPS, ps.VPS}, {nal.H265SPS, ps.SPS}, {nal.H265PPS, ps.PPS}} {
		w.u8(0x80 | a.typ)
		w.u16(1)
		w.u16(uint16(len(a.unit)))
		w.raw(a.unit)
	}
	w.close(off)
}
