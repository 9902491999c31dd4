// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playlist

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteMasterTable(t *testing.T) {
	tests := []struct {
		name     string
		variants []Variant
		expect   []string
		absent   []string
	}{
		{
			name:     "full attributes",
			variants: []Variant{{Bandwidth: 4000000, Width: 1920, Height: 1080, Codecs: "avc1.640028", FrameRate: 30, URI: "live.m3u8"}},
			expect: []string{
				"#EXTM3U\n",
				"#EXT-X-VERSION:6\n",
				`#EXT-X-STREAM-INF:BANDWIDTH=4000000,RESOLUTION=1920x1080,CODECS="avc1.640028",FRAME-RATE=30.000`,
				"\nlive.m3u8\n",
			},
		},
		{
			name:     "unknown geometry omits optional attributes",
			variants: []Variant{{Bandwidth: 1000000, URI: "live.m3u8"}},
			expect:   []string{"#EXT-X-STREAM-INF:BANDWIDTH=1000000\n"},
			absent:   []string{"RESOLUTION", "FRAME-RATE", "CODECS"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var b strings.Builder
			require.NoError(t, WriteMaster(&b, tc.variants))
			out := b.String()
			for _, want := range tc.expect {
				assert.Contains(t, out, want)
			}
			for _, no := range tc.absent {
				assert.NotContains(t, out, no)
			}
		})
	}
}

func tenSegments() *Media {
	m := &Media{TargetDuration: 2 * time.Second, MapURI: "init.mp4"}
	for i := 0; i < 10; i++ {
		m.Segments = append(m.Segments, Segment{Sequence: uint64(i), Duration: 2 * time.Second, URI: fmt.Sprintf("segment_%d.m4s", i)})
	}
	return m
}

func TestMediaTrim(t *testing.T) {
	m := tenSegments()
	assert.Equal(t, 4, m.Trim(6))
	assert.Equal(t, uint64(4), m.MediaSequence)
	require.Len(t, m.Segments, 6)
	assert.Equal(t, uint64(4), m.Segments[0].Sequence)
	assert.Equal(t, uint64(9), m.Segments[5].Sequence)

	assert.Equal(t, 0, m.Trim(6), "already trimmed")
	assert.Equal(t, 6, m.Trim(-1))
	assert.Empty(t, m.Segments)
	assert.Equal(t, uint64(10), m.MediaSequence)
}

func TestMediaWrite(t *testing.T) {
	m := tenSegments()
	m.Trim(6)
	out := m.String()

	assert.True(t, strings.HasPrefix(out, "#EXTM3U\n#EXT-X-VERSION:6\n#EXT-X-TARGETDURATION:2\n"))
	assert.Contains(t, out, "#EXT-X-MEDIA-SEQUENCE:4\n")
	assert.Contains(t, out, "#EXT-X-MAP:URI=\"init.mp4\"\n")
	assert.Equal(t, 6, strings.Count(out, "#EXTINF:2.000,"))
	assert.Contains(t, out, "#EXTINF:2.000,\nsegment_4.m4s\n")
	assert.NotContains(t, out, "segment_3.m4s")
	assert.NotContains(t, out, "#EXT-X-ENDLIST")
	assert.NotContains(t, out, "#EXT-X-PART")
}

func TestMediaWrite_LowLatency(t *testing.T) {
	m := &Media{
		TargetDuration: 2 * time.Second,
		MapURI:         "init.mp4",
		PartTarget:     500 * time.Millisecond,
		Segments: []Segment{{
			Sequence: 3, Duration: 2100 * time.Millisecond, URI: "segment_3.m4s",
			Parts: []Part{
				{Duration: 520 * time.Millisecond, URI: "part_3_0.m4s", Independent: true},
				{Duration: 500 * time.Millisecond, URI: "part_3_1.m4s"},
			},
		}},
		MediaSequence: 3,
		PendingParts:  []Part{{Duration: 480 * time.Millisecond, URI: "part_4_0.m4s", Independent: true}},
		PreloadHint:   "part_4_1.m4s",
	}
	out := m.String()

	assert.Contains(t, out, "#EXT-X-TARGETDURATION:3\n", "longest segment rounds up")
	assert.Contains(t, out, "#EXT-X-SERVER-CONTROL:CAN-BLOCK-RELOAD=YES,PART-HOLD-BACK=1.500,CAN-SKIP-UNTIL=18.000\n")
	assert.Contains(t, out, "#EXT-X-PART-INF:PART-TARGET=0.500\n")
	assert.Contains(t, out, "#EXT-X-PART:DURATION=0.520,URI=\"part_3_0.m4s\",INDEPENDENT=YES\n")
	assert.Contains(t, out, "#EXT-X-PART:DURATION=0.500,URI=\"part_3_1.m4s\"\n")
	assert.Contains(t, out, "#EXT-X-PART:DURATION=0.480,URI=\"part_4_0.m4s\",INDEPENDENT=YES\n#EXT-X-PRELOAD-HINT:TYPE=PART,URI=\"part_4_1.m4s\"\n")
	assert.Less(t, strings.Index(out, "part_3_1.m4s"), strings.Index(out, "segment_3.m4s"))
}

func TestMediaWrite_ProgramDateTime(t *testing.T) {
	at := time.Date(2024, 1, 1, 12, 0, 0, 250*int(time.Millisecond), time.UTC)
	m := &Media{TargetDuration: time.Second, Segments: []Segment{{Duration: time.Second, URI: "s.m4s", ProgramDateTime: at}}, EndList: true}
	out := m.String()
	assert.Contains(t, out, "#EXT-X-PROGRAM-DATE-TIME:2024-01-01T12:00:00.250Z\n")
	assert.True(t, strings.HasSuffix(out, "#EXT-X-ENDLIST\n"))
}
