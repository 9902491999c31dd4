// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sps

import (
	"fmt"
	"math/bits"
	"strings"

	"github.com/ManuGH/zmlive/internal/media/nal"
)

// H265 holds the profile_tier_level and geometry of an H.265 SPS.
type H265 struct {
	ProfileSpace       uint8
	TierFlag           bool
	ProfileIDC         uint8
	CompatibilityFlags uint32
	// ConstraintFlags holds the 48 bits following the compatibility flags.
	ConstraintFlags uint64
	LevelIDC        uint8
	ChromaFormatIDC uint32
	BitDepthLuma    uint32
	BitDepthChroma  uint32
	Width           int
	Height          int
}

// Codec returns the ISO/IEC 14496-15 codec string, e.g. "hvc1.1.6.L93.B0".
func (s H265) Codec() string {
	var b strings.Builder
	b.WriteString("hvc1.")
	if s.ProfileSpace > 0 {
		b.WriteByte('A' + s.ProfileSpace - 1)
	}
	fmt.Fprintf(&b, "%d.%X.", s.ProfileIDC, bits.Reverse32(s.CompatibilityFlags))
	if s.TierFlag {
		b.WriteByte('H')
	} else {
		b.WriteByte('L')
	}
	fmt.Fprintf(&b, "%d", s.LevelIDC)

	var cb [6]byte
	for i := range cb {
		cb[i] = byte(s.ConstraintFlags >> (40 - 8*uint(i)))
	}
	n := len(cb)
	for n > 0 && cb[n-1] == 0 {
		n--
	}
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, ".%X", cb[i])
	}
	return b.String()
}

// ParseH265 decodes an H.265 SPS NAL unit including its two-byte header.
func ParseH265(nalu []byte) (H265, error) {
	var s H265
	if len(nalu) < 16 {
		return s, ErrTruncated
	}
	if nal.Type(nal.H265, nalu) != nal.H265SPS {
		return s, ErrNotSPS
	}
	r := &bitReader{b: nal.Unescape(nalu[2:])}

	r.skip(4) // sps_video_parameter_set_id
	maxSubLayers := int(r.u(3))
	r.skip(1) // sps_temporal_id_nesting_flag

	s.ProfileSpace = uint8(r.u(2))
	s.TierFlag = r.flag()
	s.ProfileIDC = uint8(r.u(5))
	s.CompatibilityFlags = r.u(32)
	s.ConstraintFlags = r.u64(48)
	s.LevelIDC = uint8(r.u(8))

	profilePresent := make([]bool, maxSubLayers)
	levelPresent := make([]bool, maxSubLayers)
	for i := 0; i < maxSubLayers; i++ {
		profilePresent[i] = r.flag()
		levelPresent[i] = r.flag()
	}
	if maxSubLayers > 0 {
		r.skip(2 * (8 - maxSubLayers))
	}
	for i := 0; i < maxSubLayers; i++ {
		if profilePresent[i] {
			r.skip(88)
		}
		if levelPresent[i] {
			r.skip(8)
		}
	}

	r.ue() // sps_seq_parameter_set_id
	s.ChromaFormatIDC = r.ue()
	if s.ChromaFormatIDC == 3 {
		r.skip(1) // separate_colour_plane_flag
	}
	width := int(r.ue())
	height := int(r.ue())
	if r.flag() { // conformance_window_flag
		subW, subH := subsampling(s.ChromaFormatIDC)
		l, rt, t, b := int(r.ue()), int(r.ue()), int(r.ue()), int(r.ue())
		width -= subW * (l + rt)
		height -= subH * (t + b)
	}
	s.BitDepthLuma = r.ue() + 8
	s.BitDepthChroma = r.ue() + 8
	if r.err != nil {
		return s, r.err
	}
	if width <= 0 || height <= 0 {
		return s, fmt.Errorf("sps: invalid dimensions %dx%d", width, height)
	}
	s.Width, s.Height = width, height
	return s, nil
}
