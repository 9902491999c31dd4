// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package sps extracts picture geometry and codec identity from H.264 and
// H.265 sequence parameter sets.
package sps

import (
	"errors"
	"fmt"

	"github.com/ManuGH/zmlive/internal/media/nal"
)

// ErrNotSPS is returned when the NAL unit is not a sequence parameter set.
var ErrNotSPS = errors.New("sps: not a sequence parameter set")

// H264 holds the fields of an H.264 SPS that packaging needs.
type H264 struct {
	ProfileIDC      uint8
	ConstraintFlags uint8
	LevelIDC        uint8
	ChromaFormatIDC uint32
	BitDepthLuma    uint32
	BitDepthChroma  uint32
	Width           int
	Height          int
	FrameMbsOnly    bool
	// FrameRate is derived from VUI timing info; zero when absent.
	FrameRate float64
}

// Codec returns the RFC 6381 codec string, e.g. "avc1.640028".
func (s H264) Codec() string {
	return fmt.Sprintf("avc1.%02X%02X%02X", s.ProfileIDC, s.ConstraintFlags, s.LevelIDC)
}

func highProfile(p uint8) bool {
	switch p {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134, 135:
		return true
	}
	return false
}

// ParseH264 decodes an H.264 SPS NAL unit including its header byte.
func ParseH264(nalu []byte) (H264, error) {
	var s H264
	if len(nalu) < 4 {
		return s, ErrTruncated
	}
	if nal.Type(nal.H264, nalu) != nal.H264SPS {
		return s, ErrNotSPS
	}
	r := &bitReader{b: nal.Unescape(nalu[1:])}

	s.ProfileIDC = uint8(r.u(8))
	s.ConstraintFlags = uint8(r.u(8))
	s.LevelIDC = uint8(r.u(8))
	r.ue() // seq_parameter_set_id

	s.ChromaFormatIDC = 1
	s.BitDepthLuma, s.BitDepthChroma = 8, 8
	separateColourPlane := false
	if highProfile(s.ProfileIDC) {
		s.ChromaFormatIDC = r.ue()
		if s.ChromaFormatIDC == 3 {
			separateColourPlane = r.flag()
		}
		s.BitDepthLuma = r.ue() + 8
		s.BitDepthChroma = r.ue() + 8
		r.skip(1) // qpprime_y_zero_transform_bypass_flag
		if r.flag() {
			lists := 8
			if s.ChromaFormatIDC == 3 {
				lists = 12
			}
			for i := 0; i < lists; i++ {
				if !r.flag() {
					continue
				}
				size := 16
				if i >= 6 {
					size = 64
				}
				skipScalingList(r, size)
			}
		}
	}

	r.ue() // log2_max_frame_num_minus4
	switch r.ue() {
	case 0:
		r.ue() // log2_max_pic_order_cnt_lsb_minus4
	case 1:
		r.skip(1)
		r.se()
		r.se()
		n := r.ue()
		for i := uint32(0); i < n && r.err == nil; i++ {
			r.se()
		}
	}
	r.ue()    // max_num_ref_frames
	r.skip(1) // gaps_in_frame_num_value_allowed_flag

	widthMbs := int(r.ue()) + 1
	heightMapUnits := int(r.ue()) + 1
	s.FrameMbsOnly = r.flag()
	if !s.FrameMbsOnly {
		r.skip(1) // mb_adaptive_frame_field_flag
	}
	r.skip(1) // direct_8x8_inference_flag

	var cropL, cropR, cropT, cropB int
	if r.flag() {
		cropL, cropR, cropT, cropB = int(r.ue()), int(r.ue()), int(r.ue()), int(r.ue())
	}
	if r.err != nil {
		return s, r.err
	}

	fieldFactor := 2
	if s.FrameMbsOnly {
		fieldFactor = 1
	}
	cropX, cropY := 1, fieldFactor
	if !separateColourPlane && s.ChromaFormatIDC != 0 {
		subW, subH := subsampling(s.ChromaFormatIDC)
		cropX, cropY = subW, subH*fieldFactor
	}
	s.Width = widthMbs*16 - cropX*(cropL+cropR)
	s.Height = fieldFactor*heightMapUnits*16 - cropY*(cropT+cropB)
	if s.Width <= 0 || s.Height <= 0 {
		return s, fmt.Errorf("sps: invalid dimensions %dx%d", s.Width, s.Height)
	}

	if r.flag() {
		s.FrameRate = parseVUITiming(r)
	}
	// VUI errors only cost the frame rate.
	if r.err != nil {
		s.FrameRate = 0
	}
	return s, nil
}

func subsampling(chroma uint32) (int, int) {
	switch chroma {
	case 1:
		return 2, 2
	case 2:
		return 2, 1
	}
	return 1, 1
}

func skipScalingList(r *bitReader, size int) {
	last, next := int32(8), int32(8)
	for j := 0; j < size && r.err == nil; j++ {
		if next != 0 {
			next = (last + r.se() + 256) % 256
		}
		if next != 0 {
			last = next
		}
	}
}

func parseVUITiming(r *bitReader) float64 {
	if r.flag() { // aspect_ratio_info_present_flag
		if r.u(8) == 255 {
			r.skip(32)
		}
	}
	if r.flag() { // overscan_info_present_flag
		r.skip(1)
	}
	if r.flag() { // video_signal_type_present_flag
		r.skip(4)
		if r.flag() {
			r.skip(24)
		}
	}
	if r.flag() { // chroma_loc_info_present_flag
		r.ue()
		r.ue()
	}
	if !r.flag() { // timing_info_present_flag
		return 0
	}
	unitsInTick := r.u(32)
	timeScale := r.u(32)
	if r.err != nil || unitsInTick == 0 {
		return 0
	}
	return float64(timeScale) / float64(2*uint64(unitsInTick))
}
