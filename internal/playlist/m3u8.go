// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package playlist models and writes HLS master and media playlists,
// including the low-latency extensions.
package playlist

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"time"
)

// Version is the EXT-X-VERSION written by this package (fMP4 + EXT-X-MAP).
const Version = 6

// Variant is one EXT-X-STREAM-INF entry.
type Variant struct {
	Bandwidth int
	Width     int
	Height    int
	Codecs    string
	FrameRate float64
	URI       string
}

// WriteMaster writes a master playlist listing variants.
func WriteMaster(w io.Writer, variants []Variant) error {
	buf := &bytes.Buffer{}
	buf.WriteString("#EXTM3U\n")
	fmt.Fprintf(buf, "#EXT-X-VERSION:%d\n", Version)
	buf.WriteString("#EXT-X-INDEPENDENT-SEGMENTS\n")
	for _, v := range variants {
		fmt.Fprintf(buf, "#EXT-X-STREAM-INF:BANDWIDTH=%d", v.Bandwidth)
		if v.Width > 0 && v.Height > 0 {
			fmt.Fprintf(buf, ",RESOLUTION=%dx%d", v.Width, v.Height)
		}
		if v.Codecs != "" {
			fmt.Fprintf(buf, ",CODECS=%q", v.Codecs)
		}
		if v.FrameRate > 0 {
			fmt.Fprintf(buf, ",FRAME-RATE=%.3f", v.FrameRate)
		}
		buf.WriteString("\n" + v.URI + "\n")
	}
	_, err := io.Copy(w, buf)
	return err
}

// Part is one EXT-X-PART entry.
type Part struct {
	Duration    time.Duration
	URI         string
	Independent bool
}

// Segment is one media segment entry.
type Segment struct {
	Sequence        uint64
	Duration        time.Duration
	URI             string
	ProgramDateTime time.Time
	// Parts are listed before the segment when low latency is enabled.
	Parts []Part
}

// Media is a live media playlist.
type Media struct {
	TargetDuration time.Duration
	MediaSequence  uint64
	MapURI         string
	Segments       []Segment

	// PartTarget enables the LL-HLS tags when non-zero.
	PartTarget   time.Duration
	// PendingParts belong to the segment still being produced.
	PendingParts []Part
	PreloadHint  string

	EndList bool
}

// Trim keeps the newest n segments and advances MediaSequence by the number
// evicted, which it returns.
func (m *Media) Trim(n int) int {
	if n < 0 {
		n = 0
	}
	evict := len(m.Segments) - n
	if evict <= 0 {
		return 0
	}
	m.Segments = append(m.Segments[:0:0], m.Segments[evict:]...)
	m.MediaSequence += uint64(evict)
	return evict
}

// TargetSeconds is the EXT-X-TARGETDURATION value: the configured target or
// the longest segment, rounded up.
func (m *Media) TargetSeconds() int {
	longest := m.TargetDuration
	for _, s := range m.Segments {
		if s.Duration > longest {
			longest = s.Duration
		}
	}
	t := int(math.Ceil(longest.Seconds()))
	if t < 1 {
		t = 1
	}
	return t
}

// WriteTo implements io.WriterTo.
func (m *Media) WriteTo(w io.Writer) (int64, error) {
	buf := &bytes.Buffer{}
	buf.WriteString("#EXTM3U\n")
	fmt.Fprintf(buf, "#EXT-X-VERSION:%d\n", Version)
	target := m.TargetSeconds()
	fmt.Fprintf(buf, "#EXT-X-TARGETDURATION:%d\n", target)
	if m.PartTarget > 0 {
		fmt.Fprintf(buf, "#EXT-X-SERVER-CONTROL:CAN-BLOCK-RELOAD=YES,PART-HOLD-BACK=%s,CAN-SKIP-UNTIL=%s\n",
			seconds(3*m.PartTarget), seconds(6*time.Duration(target)*time.Second))
		fmt.Fprintf(buf, "#EXT-X-PART-INF:PART-TARGET=%s\n", seconds(m.PartTarget))
	}
	fmt.Fprintf(buf, "#EXT-X-MEDIA-SEQUENCE:%d\n", m.MediaSequence)
	if m.MapURI != "" {
		fmt.Fprintf(buf, "#EXT-X-MAP:URI=%q\n", m.MapURI)
	}
	for _, s := range m.Segments {
		if m.PartTarget > 0 {
			writeParts(buf, s.Parts)
		}
		if !s.ProgramDateTime.IsZero() {
			fmt.Fprintf(buf, "#EXT-X-PROGRAM-DATE-TIME:%s\n", s.ProgramDateTime.UTC().Format("2006-01-02T15:04:05.000Z07:00"))
		}
		fmt.Fprintf(buf, "#EXTINF:%s,\n%s\n", seconds(s.Duration), s.URI)
	}
	if m.PartTarget > 0 {
		writeParts(buf, m.PendingParts)
		if m.PreloadHint != "" {
			fmt.Fprintf(buf, "#EXT-X-PRELOAD-HINT:TYPE=PART,URI=%q\n", m.PreloadHint)
		}
	}
	if m.EndList {
		buf.WriteString("#EXT-X-ENDLIST\n")
	}
	return io.Copy(w, buf)
}

// String renders the playlist.
func (m *Media) String() string {
	var b bytes.Buffer
	_, _ = m.WriteTo(&b)
	return b.String()
}

func writeParts(buf *bytes.Buffer, parts []Part) {
	for _, p := range parts {
		fmt.Fprintf(buf, "#EXT-X-PART:DURATION=%s,URI=%q", seconds(p.Duration), p.URI)
		if p.Independent {
			buf.WriteString(",INDEPENDENT=YES")
		}
		buf.WriteByte('\n')
	}
}

func seconds(d time.Duration) string { return fmt.Sprintf("%.3f", d.Seconds()) }
