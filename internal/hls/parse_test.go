// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package hls

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/zmlive/internal/playlist"
)

func TestParseMediaPlaylist_RoundTrip(t *testing.T) {
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	want := &playlist.Media{
		TargetDuration: 2 * time.Second,
		MediaSequence:  4,
		MapURI:         "init.mp4",
		PartTarget:     500 * time.Millisecond,
		Segments: []playlist.Segment{
			{Sequence: 4, Duration: 2 * time.Second, URI: "segment_4.m4s", ProgramDateTime: at,
				Parts: []playlist.Part{{Duration: time.Second, URI: "part_4_0.m4s", Independent: true}, {Duration: time.Second, URI: "part_4_1.m4s"}}},
			{Sequence: 5, Duration: 1500 * time.Millisecond, URI: "segment_5.m4s", ProgramDateTime: at.Add(2 * time.Second)},
		},
		PendingParts: []playlist.Part{{Duration: 500 * time.Millisecond, URI: "part_6_0.m4s", Independent: true}},
		PreloadHint:  "part_6_1.m4s",
	}

	got, err := ParseMediaPlaylist(want.String())
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestParseMediaPlaylist_Errors(t *testing.T) {
	_, err := ParseMediaPlaylist("#EXTINF:1.0,\na.m4s\n")
	assert.ErrorIs(t, err, ErrNotPlaylist)

	_, err = ParseMediaPlaylist("")
	assert.ErrorIs(t, err, ErrNotPlaylist)

	_, err = ParseMediaPlaylist("#EXTM3U\n#EXTINF:abc,\na.m4s\n")
	assert.ErrorContains(t, err, "invalid EXTINF duration")

	_, err = ParseMediaPlaylist("#EXTM3U\n#EXT-X-MEDIA-SEQUENCE:-1\n")
	assert.ErrorContains(t, err, "invalid MEDIA-SEQUENCE")
}

func TestExtractSegmentTruth_VOD_NoPDT(t *testing.T) {
	text := `#EXTM3U
#EXT-X-PLAYLIST-TYPE:VOD
#EXT-X-TARGETDURATION:10
#EXTINF:10.0,
segment_1.m4s
#EXTINF:10.0,
segment_2.m4s
#EXT-X-ENDLIST`

	truth, err := ExtractSegmentTruth(text)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !truth.IsVOD {
		t.Error("Expected IsVOD=true")
	}
	if truth.HasPDT {
		t.Error("Expected HasPDT=false")
	}
	if truth.TotalDuration != 20*time.Second {
		t.Errorf("Expected TotalDuration=20s, got %v", truth.TotalDuration)
	}
}

func TestExtractSegmentTruth_Live_FullPDT(t *testing.T) {
	text := `#EXTM3U
#EXT-X-TARGETDURATION:2
#EXT-X-PROGRAM-DATE-TIME:2024-01-01T12:00:00Z
#EXTINF:2.0,
segment_1.m4s
#EXT-X-PROGRAM-DATE-TIME:2024-01-01T12:00:02.000Z
#EXTINF:2.0,
segment_2.m4s`

	truth, err := ExtractSegmentTruth(text)
	require.NoError(t, err)
	assert.False(t, truth.IsVOD)
	assert.True(t, truth.HasPDT)
	assert.True(t, truth.FirstPDT.Equal(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)))
	assert.True(t, truth.LastPDT.Equal(time.Date(2024, 1, 1, 12, 0, 2, 0, time.UTC)))
	assert.Equal(t, 2*time.Second, truth.LastDuration)
}

func TestExtractSegmentTruth_Live_PartialPDT_FailClosed(t *testing.T) {
	text := `#EXTM3U
#EXT-X-TARGETDURATION:2
#EXT-X-PROGRAM-DATE-TIME:2024-01-01T12:00:00Z
#EXTINF:2.0,
segment_1.m4s
#EXTINF:2.0,
segment_2.m4s`

	_, err := ExtractSegmentTruth(text)
	if err == nil {
		t.Fatal("Expected error for partial PDT coverage, got nil")
	}
	if !strings.Contains(err.Error(), "partial PDT coverage") {
		t.Errorf("Expected partial coverage error, got: %v", err)
	}
}

func TestExtractSegmentTruth_Live_NonMonotonic_FailClosed(t *testing.T) {
	text := `#EXTM3U
#EXT-X-TARGETDURATION:2
#EXT-X-PROGRAM-DATE-TIME:2024-01-01T12:00:10Z
#EXTINF:2.0,
segment_1.m4s
#EXT-X-PROGRAM-DATE-TIME:2024-01-01T12:00:00Z
#EXTINF:2.0,
segment_2.m4s`

	_, err := ExtractSegmentTruth(text)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-monotonic")
}

func TestExtractSegmentTruth_VOD_EndList_Implicit(t *testing.T) {
	text := `#EXTM3U
#EXTINF:10.0,
segment_1.m4s
#EXT-X-ENDLIST`

	truth, err := ExtractSegmentTruth(text)
	require.NoError(t, err)
	assert.True(t, truth.IsVOD, "ENDLIST without PLAYLIST-TYPE still ends the stream")
}
