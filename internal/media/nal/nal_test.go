// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package nal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyH264(t *testing.T) {
	tests := []struct {
		header byte
		kind   Kind
		typ    uint8
	}{
		{0x67, KindParameterSet, H264SPS},
		{0x68, KindParameterSet, H264PPS},
		{0x65, KindVideoKey, H264IDR},
		{0x41, KindVideoDelta, H264Slice},
		{0x06, KindSupplemental, H264SEI},
		{0x09, KindSupplemental, H264AUD},
	}
	for _, tt := range tests {
		u := []byte{tt.header, 0x88}
		assert.Equal(t, tt.typ, Type(H264, u))
		assert.Equal(t, tt.kind, Classify(H264, u), "header %#x", tt.header)
	}
}

func TestClassifyH265(t *testing.T) {
	hdr := func(typ uint8) []byte { return []byte{typ << 1, 0x01, 0x80} }
	assert.Equal(t, KindParameterSet, Classify(H265, hdr(H265VPS)))
	assert.Equal(t, KindParameterSet, Classify(H265, hdr(H265SPS)))
	assert.Equal(t, KindParameterSet, Classify(H265, hdr(H265PPS)))
	assert.Equal(t, KindVideoKey, Classify(H265, hdr(H265IDRWRADL)))
	assert.Equal(t, KindVideoKey, Classify(H265, hdr(H265IDRNLP)))
	assert.Equal(t, KindVideoKey, Classify(H265, hdr(H265CRA)))
	assert.Equal(t, KindVideoDelta, Classify(H265, hdr(H265TrailR)))
	assert.Equal(t, KindSupplemental, Classify(H265, hdr(H265PrefixSEI)))
	assert.Equal(t, "IDR", TypeName(H265, H265IDRWRADL))
}

func TestParseCodec(t *testing.T) {
	for in, want := range map[string]Codec{"h264": H264, "AVC": H264, "hevc": H265, "h265": H265} {
		c, err := ParseCodec(in)
		require.NoError(t, err)
		assert.Equal(t, want, c)
	}
	_, err := ParseCodec("vp9")
	assert.Error(t, err)

	var c Codec
	require.NoError(t, c.UnmarshalText([]byte("hevc")))
	assert.Equal(t, H265, c)
}

func TestTo90k(t *testing.T) {
	assert.Equal(t, uint64(0), To90k(0))
	assert.Equal(t, uint64(90000), To90k(1_000_000))
	assert.Equal(t, uint64(2997), To90k(33_300))
	// Sub-tick remainders are floored, never rounded.
	assert.Equal(t, uint64(2999), To90k(33_333))
	assert.Equal(t, uint64(0), To90k(11))
	assert.Equal(t, uint64(1), To90k(12))
	// Epoch-scale microseconds must not overflow.
	us := int64(1_700_000_000_000_000)
	assert.Equal(t, uint64(us)/100*9, To90k(us))
}

func TestSplit(t *testing.T) {
	stream := []byte{
		0, 0, 0, 1, 0x67, 0xAA,
		0, 0, 1, 0x68, 0xBB,
		0, 0, 0, 1, 0x65, 0x88, 0x00, 0x00, 0x03, 0x01,
	}
	units := Split(stream)
	require.Len(t, units, 3)
	assert.Equal(t, []byte{0x67, 0xAA}, units[0])
	assert.Equal(t, []byte{0x68, 0xBB}, units[1])
	assert.Equal(t, []byte{0x65, 0x88, 0x00, 0x00, 0x03, 0x01}, units[2])
}

func TestSplitter_ChunkBoundaries(t *testing.T) {
	a := []byte{0x67, 1, 2, 3}
	b := []byte{0x68, 4}
	c := []byte{0x65, 5, 6, 7, 8}
	stream := append([]byte{0xFF, 0xFE}, AnnexB(a, b, c)...)
	stream = append(stream, 0, 0, 0, 1, 0x41)

	// Feed one byte at a time: every start code straddles a chunk boundary.
	var got [][]byte
	var s Splitter
	for i := range stream {
		s.Write(stream[i:i+1], func(u []byte) { got = append(got, u) })
	}
	require.Len(t, got, 3)
	assert.Equal(t, a, got[0])
	assert.Equal(t, b, got[1])
	assert.Equal(t, c, got[2])
	assert.Equal(t, uint64(2), s.Dropped)

	s.Flush(func(u []byte) { got = append(got, u) })
	require.Len(t, got, 4)
	assert.Equal(t, []byte{0x41}, got[3])
}

func TestSplitter_GarbageWithoutStartCode(t *testing.T) {
	var s Splitter
	n := 0
	s.Write([]byte{9, 9, 9, 9, 9, 9, 9, 0}, func([]byte) { n++ })
	s.Write([]byte{0, 1, 0x65, 1}, func([]byte) { n++ })
	s.Write([]byte{0, 0, 1, 0x41}, func([]byte) { n++ })
	assert.Equal(t, 1, n)
}

func TestAVCCAndUnescape(t *testing.T) {
	out := AVCC([]byte{0x65, 1}, []byte{0x06})
	assert.Equal(t, []byte{0, 0, 0, 2, 0x65, 1, 0, 0, 0, 1, 0x06}, out)

	assert.Equal(t, []byte{0x67, 0, 0, 1, 0, 0, 0}, Unescape([]byte{0x67, 0, 0, 3, 1, 0, 0, 3, 0}))
}

func TestAssembler(t *testing.T) {
	a := NewAssembler(H264)
	var aus []AccessUnit
	push := func(u []byte, ts int64) {
		if au, ok := a.Push(u, ts, false); ok {
			aus = append(aus, au)
		}
	}

	push([]byte{0x09, 0xF0}, 0)     // AUD
	push([]byte{0x67, 0x42}, 0)     // SPS
	push([]byte{0x68, 0xCE}, 0)     // PPS
	push([]byte{0x65, 0x88}, 10)    // IDR, first slice
	push([]byte{0x65, 0x20}, 11)    // IDR, second slice
	push([]byte{0x41, 0x9A}, 33000) // P, first slice
	push([]byte{0x06, 0x05}, 66000) // SEI opens the next AU
	push([]byte{0x41, 0x9B}, 66001)

	require.Len(t, aus, 2)
	assert.True(t, aus[0].Keyframe)
	assert.Len(t, aus[0].Units, 5)
	assert.Equal(t, int64(0), aus[0].TimestampUs)
	assert.False(t, aus[1].Keyframe)
	assert.Equal(t, int64(33000), aus[1].TimestampUs)

	last, ok := a.Flush()
	require.True(t, ok)
	assert.Len(t, last.Units, 2)
	assert.Equal(t, int64(66000), last.TimestampUs)

	_, ok = a.Flush()
	assert.False(t, ok)
}
