// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package nal classifies and frames H.264 and H.265 NAL units carried in
// Annex B byte streams.
package nal

import (
	"fmt"
	"strings"
)

// Codec identifies the elementary stream format.
type Codec uint8

const (
	H264 Codec = iota + 1
	H265
)

func (c Codec) String() string {
	switch c {
	case H264:
		return "h264"
	case H265:
		return "h265"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (c Codec) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Codec) UnmarshalText(b []byte) error {
	v, err := ParseCodec(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// ParseCodec accepts h264/avc and h265/hevc.
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "h264", "avc", "avc1", "":
		return H264, nil
	case "h265", "hevc", "hvc1", "hev1":
		return H265, nil
	}
	return 0, fmt.Errorf("unknown codec %q", s)
}

// H.264 nal_unit_type values.
const (
	H264Slice    uint8 = 1
	H264IDR      uint8 = 5
	H264SEI      uint8 = 6
	H264SPS      uint8 = 7
	H264PPS      uint8 = 8
	H264AUD      uint8 = 9
	H264EndSeq   uint8 = 10
	H264EndStrm  uint8 = 11
	H264Filler   uint8 = 12
	H264SPSExt   uint8 = 13
	H264Prefix   uint8 = 14
	H264SubsetSP uint8 = 15
)

// H.265 nal_unit_type values.
const (
	H265TrailN     uint8 = 0
	H265TrailR     uint8 = 1
	H265BLAWLP     uint8 = 16
	H265BLAWRADL   uint8 = 17
	H265BLANLP     uint8 = 18
	H265IDRWRADL   uint8 = 19
	H265IDRNLP     uint8 = 20
	H265CRA        uint8 = 21
	H265VPS        uint8 = 32
	H265SPS        uint8 = 33
	H265PPS        uint8 = 34
	H265AUD        uint8 = 35
	H265EOS        uint8 = 36
	H265EOB        uint8 = 37
	H265FD         uint8 = 38
	H265PrefixSEI  uint8 = 39
	H265SuffixSEI  uint8 = 40
	h265MaxVCLType uint8 = 31
)

// Kind is the coarse class of a unit as seen by subscribers.
type Kind uint8

const (
	KindVideoDelta Kind = iota
	KindVideoKey
	KindParameterSet
	KindAudio
	// KindSupplemental covers SEI, AUD and other non-VCL units.
	KindSupplemental
)

func (k Kind) String() string {
	switch k {
	case KindVideoDelta:
		return "video_delta"
	case KindVideoKey:
		return "video_key"
	case KindParameterSet:
		return "parameter_set"
	case KindAudio:
		return "audio"
	case KindSupplemental:
		return "supplemental"
	}
	return "unknown"
}

// Type returns the nal_unit_type of u (without start code).
func Type(c Codec, u []byte) uint8 {
	if len(u) == 0 {
		return 0xff
	}
	if c == H265 {
		return (u[0] >> 1) & 0x3f
	}
	return u[0] & 0x1f
}

// IsVCL reports whether t carries slice data.
func IsVCL(c Codec, t uint8) bool {
	if c == H265 {
		return t <= h265MaxVCLType
	}
	return t >= H264Slice && t <= H264IDR
}

// IsKeyframe reports whether t starts an independently decodable picture:
// IDR for H.264; BLA, IDR and CRA for H.265.
func IsKeyframe(c Codec, t uint8) bool {
	if c == H265 {
		return t >= H265BLAWLP && t <= H265CRA
	}
	return t == H264IDR
}

// IsParameterSet reports SPS/PPS, plus VPS for H.265.
func IsParameterSet(c Codec, t uint8) bool {
	if c == H265 {
		return t == H265VPS || t == H265SPS || t == H265PPS
	}
	return t == H264SPS || t == H264PPS
}

// IsAUD reports an access unit delimiter.
func IsAUD(c Codec, t uint8) bool {
	if c == H265 {
		return t == H265AUD
	}
	return t == H264AUD
}

// startsAccessUnit reports non-VCL units that may only precede the first
// VCL unit of an access unit.
func startsAccessUnit(c Codec, t uint8) bool {
	if c == H265 {
		return t == H265AUD || t == H265VPS || t == H265SPS || t == H265PPS || t == H265PrefixSEI || (t >= 41 && t <= 44)
	}
	return t == H264AUD || t == H264SPS || t == H264PPS || t == H264SEI || (t >= H264Prefix && t <= 18)
}

// FirstSliceInPicture reports whether a VCL unit begins a new picture:
// first_mb_in_slice == 0 for H.264, first_slice_segment_in_pic_flag for H.265.
func FirstSliceInPicture(c Codec, u []byte) bool {
	if c == H265 {
		return len(u) > 2 && u[2]&0x80 != 0
	}
	// ue(v) == 0 is the single bit "1".
	return len(u) > 1 && u[1]&0x80 != 0
}

// Classify maps a unit to its Kind.
func Classify(c Codec, u []byte) Kind {
	t := Type(c, u)
	switch {
	case IsParameterSet(c, t):
		return KindParameterSet
	case IsKeyframe(c, t):
		return KindVideoKey
	case IsVCL(c, t):
		return KindVideoDelta
	}
	return KindSupplemental
}

// TypeName returns a short human name for log lines.
func TypeName(c Codec, t uint8) string {
	if c == H265 {
		switch {
		case t == H265VPS:
			return "VPS"
		case t == H265SPS:
			return "SPS"
		case t == H265PPS:
			return "PPS"
		case t == H265AUD:
			return "AUD"
		case t == H265PrefixSEI, t == H265SuffixSEI:
			return "SEI"
		case t == H265CRA:
			return "CRA"
		case t == H265IDRWRADL, t == H265IDRNLP:
			return "IDR"
		case t >= H265BLAWLP && t <= H265BLANLP:
			return "BLA"
		case t <= h265MaxVCLType:
			return "SLICE"
		}
		return fmt.Sprintf("NAL%d", t)
	}
	switch t {
	case H264Slice:
		return "SLICE"
	case H264IDR:
		return "IDR"
	case H264SEI:
		return "SEI"
	case H264SPS:
		return "SPS"
	case H264PPS:
		return "PPS"
	case H264AUD:
		return "AUD"
	}
	return fmt.Sprintf("NAL%d", t)
}

// To90k converts microseconds to the 90 kHz media clock without overflowing
// for epoch-scale inputs.
func To90k(us int64) uint64 {
	if us <= 0 {
		return 0
	}
	u := uint64(us)
	return u/100*9 + (u%100)*9/100
}
