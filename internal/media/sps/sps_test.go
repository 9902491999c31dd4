// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	sps720Main = []byte{0x67, 0x4D, 0x00, 0x1F, 0xEC, 0xA0, 0x28, 0x02, 0xDC, 0x80}
	sps1080Base = []byte{0x67, 0x42, 0xC0, 0x28, 0xD9, 0x40, 0x78, 0x02, 0x27, 0xE5, 0x40}
	sps1080High = []byte{0x67, 0x64, 0x00, 0x28, 0xAC, 0xD9, 0x40, 0x78, 0x02, 0x27, 0xE5, 0xC0, 0x5A, 0x80, 0x80, 0x80,
		0xA0, 0x00, 0x00, 0x03, 0x00, 0x20, 0x00, 0x00, 0x07, 0x90, 0x80}
	sps1440Scaling = []byte{0x67, 0x64, 0x00, 0x32, 0xAD, 0xA2, 0x98, 0x2A, 0x0C, 0x22, 0xA1, 0x53, 0x33, 0x28, 0x05, 0x00, 0x16, 0xB2}
	sps2160High    = []byte{0x67, 0x64, 0x00, 0x33, 0xAC, 0xB2, 0x80, 0x78, 0x00, 0x87, 0xD8, 0x0B, 0x50, 0x10, 0x10, 0x14,
		0x00, 0x00, 0x03, 0x00, 0x04, 0x00, 0x00, 0x03, 0x00, 0xCA, 0x10}
	sps1080Interlaced = []byte{0x67, 0x64, 0x00, 0x28, 0xAC, 0xD9, 0x40, 0x78, 0x04, 0x47, 0xDA}

	hevc1080 = []byte{0x42, 0x01, 0x01, 0x01, 0x60, 0x00, 0x00, 0x03, 0x00, 0xB0, 0x00, 0x00, 0x03, 0x00, 0x00, 0x03,
		0x00, 0x5D, 0xA0, 0x03, 0xC0, 0x80, 0x11, 0x07, 0xCB, 0x96}
	hevc2160SubLayer = []byte{0x42, 0x01, 0x03, 0x01, 0x60, 0x00, 0x00, 0x03, 0x00, 0xB0, 0x00, 0x00, 0x03, 0x00, 0x00, 0x03,
		0x00, 0x99, 0xC0, 0x00, 0x00, 0x03, 0x00, 0x00, 0x03, 0x00, 0x00, 0x03, 0x00, 0x00, 0x03, 0x00, 0x01, 0x23, 0x45,
		0x5A, 0xA0, 0x01, 0xE0, 0x20, 0x02, 0x1C, 0x59, 0x60}
)

func TestParseH264(t *testing.T) {
	tests := []struct {
		name      string
		nalu      []byte
		width     int
		height    int
		codec     string
		frameRate float64
		mbsOnly   bool
	}{
		{"main 720p", sps720Main, 1280, 720, "avc1.4D001F", 0, true},
		{"baseline 1080p cropped", sps1080Base, 1920, 1080, "avc1.42C028", 0, true},
		{"high 1080p with vui", sps1080High, 1920, 1080, "avc1.640028", 30, true},
		{"high 1440p scaling lists", sps1440Scaling, 2560, 1440, "avc1.640032", 0, true},
		{"high 2160p with vui", sps2160High, 3840, 2160, "avc1.640033", 25, true},
		{"interlaced 1080", sps1080Interlaced, 1920, 1080, "avc1.640028", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ParseH264(tt.nalu)
			require.NoError(t, err)
			assert.Equal(t, tt.width, s.Width)
			assert.Equal(t, tt.height, s.Height)
			assert.Equal(t, tt.codec, s.Codec())
			assert.InDelta(t, tt.frameRate, s.FrameRate, 0.001)
			assert.Equal(t, tt.mbsOnly, s.FrameMbsOnly)
			assert.Equal(t, uint32(8), s.BitDepthLuma)
		})
	}
}

func TestParseH264_Errors(t *testing.T) {
	_, err := ParseH264(sps1080High[:6])
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = ParseH264([]byte{0x68, 0xEE, 0x3C, 0x80})
	assert.ErrorIs(t, err, ErrNotSPS)

	_, err = ParseH264(nil)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestParseH265(t *testing.T) {
	s, err := ParseH265(hevc1080)
	require.NoError(t, err)
	assert.Equal(t, 1920, s.Width)
	assert.Equal(t, 1080, s.Height)
	assert.Equal(t, uint8(1), s.ProfileIDC)
	assert.Equal(t, uint8(93), s.LevelIDC)
	assert.Equal(t, uint32(0x60000000), s.CompatibilityFlags)
	assert.Equal(t, uint32(1), s.ChromaFormatIDC)
	assert.Equal(t, "hvc1.1.6.L93.B0", s.Codec())

	s, err = ParseH265(hevc2160SubLayer)
	require.NoError(t, err)
	assert.Equal(t, 3840, s.Width)
	assert.Equal(t, 2160, s.Height)
	assert.Equal(t, "hvc1.1.6.L153.B0", s.Codec())
}

func TestParseH265_Errors(t *testing.T) {
	_, err := ParseH265(sps1080High)
	assert.ErrorIs(t, err, ErrNotSPS)

	_, err = ParseH265(hevc1080[:20])
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestH265Codec_HighTierProfileSpace(t *testing.T) {
	s := H265{ProfileSpace: 1, TierFlag: true, ProfileIDC: 2, CompatibilityFlags: 0x20000000, LevelIDC: 120, ConstraintFlags: 0x900000000000}
	assert.Equal(t, "hvc1.A2.4.H120.90", s.Codec())
}
