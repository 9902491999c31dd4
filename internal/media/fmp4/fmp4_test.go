// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package fmp4

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/zmlive/internal/media/nal"
)

var (
	testSPS = []byte{0x67, 0x64, 0x00, 0x28, 0xAC, 0xD9, 0x40, 0x78, 0x02, 0x27, 0xE5, 0xC0, 0x5A, 0x80, 0x80, 0x80,
		0xA0, 0x00, 0x00, 0x03, 0x00, 0x20, 0x00, 0x00, 0x07, 0x90, 0x80}
	testPPS   = []byte{0x68, 0xEE, 0x3C, 0x80}
	testIDR   = []byte{0x65, 0x88, 0x84, 0x00, 0x10}
	testSlice = []byte{0x41, 0x9A, 0x02, 0x03}

	testVPS     = []byte{0x40, 0x01, 0x0C, 0x01, 0xFF, 0xFF}
	testHEVCSPS = []byte{0x42, 0x01, 0x01, 0x01, 0x60, 0x00, 0x00, 0x03, 0x00, 0xB0, 0x00, 0x00, 0x03, 0x00, 0x00, 0x03,
		0x00, 0x5D, 0xA0, 0x03, 0xC0, 0x80, 0x11, 0x07, 0xCB, 0x96}
	testHEVCPPS = []byte{0x44, 0x01, 0xC1, 0x72, 0xB4, 0x62, 0x40}
)

const frameUs = 40000 // 25 fps, 3600 ticks

func boxTypes(t *testing.T, b []byte) []string {
	t.Helper()
	boxes, err := ReadBoxes(b)
	require.NoError(t, err)
	out := make([]string, 0, len(boxes))
	for _, bx := range boxes {
		out = append(out, bx.Type)
	}
	return out
}

func TestBuildInit_H264(t *testing.T) {
	initSeg, err := BuildInit(nal.H264, ParameterSets{SPS: testSPS, PPS: testPPS})
	require.NoError(t, err)

	assert.Equal(t, "avc1.640028", initSeg.CodecTag)
	assert.Equal(t, 1920, initSeg.Width)
	assert.Equal(t, 1080, initSeg.Height)
	assert.Equal(t, `video/mp4; codecs="avc1.640028"`, initSeg.MimeType())
	assert.Equal(t, []string{"ftyp", "moov"}, boxTypes(t, initSeg.Data))
	assert.Equal(t, []string{"mvhd", "trak", "mvex"}, boxTypes(t, Find(initSeg.Data, "moov")))

	avcc := Find(initSeg.Data, "moov", "trak", "mdia", "minf", "stbl", "stsd", "avc1", "avcC")
	require.NotNil(t, avcc)
	assert.Equal(t, byte(1), avcc[0])
	assert.Equal(t, byte(0x64), avcc[1])
	assert.Equal(t, byte(0x28), avcc[3])
	spsLen := int(binary.BigEndian.Uint16(avcc[6:]))
	assert.Equal(t, testSPS, avcc[8:8+spsLen])

	mdhd := Find(initSeg.Data, "moov", "trak", "mdia", "mdhd")
	require.NotNil(t, mdhd)
	assert.Equal(t, uint32(Timescale), binary.BigEndian.Uint32(mdhd[12:]))
}

func TestBuildInit_H265(t *testing.T) {
	initSeg, err := BuildInit(nal.H265, ParameterSets{VPS: testVPS, SPS: testHEVCSPS, PPS: testHEVCPPS})
	require.NoError(t, err)
	assert.Equal(t, "hvc1.1.6.L93.B0", initSeg.CodecTag)
	assert.Equal(t, 1920, initSeg.Width)
	assert.Equal(t, 1080, initSeg.Height)

	hvcc := Find(initSeg.Data, "moov", "trak", "mdia", "minf", "stbl", "stsd", "hvc1", "hvcC")
	require.NotNil(t, hvcc)
	assert.Equal(t, byte(93), hvcc[12])
	assert.Equal(t, byte(3), hvcc[22], "VPS, SPS and PPS arrays")
	assert.Equal(t, byte(0x80|nal.H265VPS), hvcc[23])
}

func TestBuildInit_MissingParameterSets(t *testing.T) {
	_, err := BuildInit(nal.H264, ParameterSets{SPS: testSPS})
	assert.ErrorIs(t, err, ErrMissingParameterSets)

	_, err = BuildInit(nal.H265, ParameterSets{SPS: testHEVCSPS, PPS: testHEVCPPS})
	assert.ErrorIs(t, err, ErrMissingParameterSets)
}

func TestBuildFragment_Layout(t *testing.T) {
	samples := []Sample{
		{Data: nal.AVCC(testIDR), DTS: 9000, Duration: 3600, Keyframe: true},
		{Data: nal.AVCC(testSlice), DTS: 12600, Duration: 3600},
	}
	frag, err := buildFragment(7, samples)
	require.NoError(t, err)
	assert.Equal(t, []string{"moof", "mdat"}, boxTypes(t, frag))

	seq, err := SequenceNumber(frag)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), seq)

	base, err := BaseMediaDecodeTime(frag)
	require.NoError(t, err)
	assert.Equal(t, uint64(9000), base)

	n, err := SampleCount(frag)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), n)

	boxes, err := ReadBoxes(frag)
	require.NoError(t, err)
	trun := Find(frag, "moof", "traf", "trun")
	require.NotNil(t, trun)
	trunFlags := binary.BigEndian.Uint32(trun) & 0x00ffffff
	require.NotZero(t, trunFlags&0x000001, "data offset present")
	offset := binary.BigEndian.Uint32(trun[8:])
	assert.Equal(t, uint32(len(boxes[0].Payload)+8+8), offset)
	// the first sample starts at data_offset from the moof start
	assert.Equal(t, byte(0x65), frag[offset+4])

	first := 12
	if trunFlags&0x000004 != 0 {
		first += 4 // first_sample_flags
	}
	stride, flagsAt := 0, -1
	for _, f := range []uint32{0x000100, 0x000200, 0x000400, 0x000800} {
		if trunFlags&f == 0 {
			continue
		}
		if f == 0x000400 {
			flagsAt = stride
		}
		stride += 4
	}
	require.GreaterOrEqual(t, flagsAt, 0, "per-sample flags present")
	assert.Equal(t, flagsSync, binary.BigEndian.Uint32(trun[first+flagsAt:]))
	assert.Equal(t, flagsNonSync, binary.BigEndian.Uint32(trun[first+stride+flagsAt:]))
}

func TestReadBoxes_Malformed(t *testing.T) {
	_, err := ReadBoxes([]byte{0, 0, 0, 20, 'm', 'o', 'o', 'f'})
	assert.ErrorIs(t, err, ErrMalformedBox)
	_, err = ReadBoxes([]byte{0, 0, 0})
	assert.ErrorIs(t, err, ErrMalformedBox)
}

// feed pushes two leading delta frames, then frames GOPs of gop pictures.
func feed(s *Segmenter, frames, gop int) []Output {
	var outs []Output
	push := func(u []byte, ts int64, key bool) {
		if o := s.Push(u, ts, key); !o.Empty() {
			outs = append(outs, o)
		}
	}
	push(testSlice, 0, false)
	push(testSlice, frameUs, false)
	for i := 0; i < frames; i++ {
		ts := int64(i+2) * frameUs
		if i%gop == 0 {
			push(testSPS, ts, false)
			push(testPPS, ts, false)
			push(testIDR, ts, true)
			continue
		}
		push(testSlice, ts, false)
	}
	if o := s.Flush(); !o.Empty() {
		outs = append(outs, o)
	}
	return outs
}

func collect(outs []Output) (inits []*InitSegment, parts []Part, segs []Segment) {
	for _, o := range outs {
		if o.Init != nil {
			inits = append(inits, o.Init)
		}
		parts = append(parts, o.Parts...)
		segs = append(segs, o.Segments...)
	}
	return
}

func TestSegmenter_KeyframeAlignedSegments(t *testing.T) {
	s := NewSegmenter(SegmenterConfig{Codec: nal.H264, TargetDuration: 2 * time.Second})
	inits, parts, segs := collect(feed(s, 125, 25))

	require.Len(t, inits, 1, "init is built once from the first parameter sets")
	assert.Empty(t, parts)
	assert.Equal(t, uint64(2), s.Dropped())
	require.Len(t, segs, 3)

	type shape struct {
		Sequence  uint64
		Duration  time.Duration
		Timestamp uint64
		Samples   int
	}
	got := make([]shape, 0, len(segs))
	for _, sg := range segs {
		assert.True(t, sg.Keyframe)
		got = append(got, shape{sg.Sequence, sg.Duration, sg.Timestamp, sg.Samples})
	}
	want := []shape{
		{0, 2 * time.Second, 7200, 50},
		{1, 2 * time.Second, 7200 + 180000, 50},
		{2, time.Second, 7200 + 360000, 25},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("segments mismatch (-want +got):\n%s", diff)
	}

	for _, sg := range segs {
		seq, err := SequenceNumber(sg.Data)
		require.NoError(t, err)
		assert.Equal(t, uint32(sg.Sequence), seq)
		base, err := BaseMediaDecodeTime(sg.Data)
		require.NoError(t, err)
		assert.Equal(t, sg.Timestamp, base)

		// parameter sets travel in the init segment only
		mdat := Find(sg.Data, "mdat")
		require.NotNil(t, mdat)
		assert.Equal(t, byte(0x65), mdat[4])
	}
}

func TestSegmenter_NoMediaBeforeParameterSets(t *testing.T) {
	s := NewSegmenter(SegmenterConfig{Codec: nal.H264, TargetDuration: time.Second})
	for i := 0; i < 10; i++ {
		out := s.Push(testIDR, int64(i)*frameUs, true)
		assert.True(t, out.Empty())
	}
	assert.Nil(t, s.Init())
	assert.True(t, s.Flush().Empty())
}

func TestSegmenter_Parts(t *testing.T) {
	s := NewSegmenter(SegmenterConfig{Codec: nal.H264, TargetDuration: 2 * time.Second, PartDuration: 500 * time.Millisecond})
	_, parts, segs := collect(feed(s, 50, 25))
	require.Len(t, segs, 1)

	var first []Part
	for _, p := range parts {
		if p.Segment == 0 {
			first = append(first, p)
		}
	}
	require.Len(t, first, 4)
	for i, p := range first {
		assert.Equal(t, i, p.Index)
		assert.Equal(t, i == 0, p.Independent)
	}

	var joined []byte
	for _, p := range first {
		joined = append(joined, p.Data...)
	}
	assert.Equal(t, joined, segs[0].Data)
	assert.Len(t, boxTypes(t, segs[0].Data), 8)
}

func TestSegmenter_DiscontinuityUsesLastDuration(t *testing.T) {
	s := NewSegmenter(SegmenterConfig{Codec: nal.H264, TargetDuration: time.Hour})
	s.Push(testSPS, 0, false)
	s.Push(testPPS, 0, false)
	s.Push(testIDR, 0, true)
	s.Push(testSlice, frameUs, false)
	// timestamp going backwards
	s.Push(testSlice, 0, false)
	out := s.Flush()
	require.Len(t, out.Segments, 1)
	assert.Equal(t, 3, out.Segments[0].Samples)
	assert.Equal(t, 3*frameUs*time.Microsecond, out.Segments[0].Duration)
}
