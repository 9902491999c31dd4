// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package hls

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/zmlive/internal/playlist"
)

// ErrNotPlaylist is returned when the input does not start with #EXTM3U.
var ErrNotPlaylist = errors.New("hls: missing #EXTM3U header")

// ParseMediaPlaylist reads a media playlist back into its model. Segment
// sequences are derived from EXT-X-MEDIA-SEQUENCE.
func ParseMediaPlaylist(text string) (*playlist.Media, error) {
	scanner := bufio.NewScanner(strings.NewReader(text))
	m := &playlist.Media{}

	var (
		sawHeader    bool
		nextDuration time.Duration
		nextPDT      time.Time
		parts        []playlist.Part
		lastPDT      time.Time
	)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !sawHeader {
			if line != "#EXTM3U" {
				return nil, ErrNotPlaylist
			}
			sawHeader = true
			continue
		}

		tag, value, _ := strings.Cut(line, ":")
		switch tag {
		case "#EXT-X-TARGETDURATION":
			secs, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("invalid TARGETDURATION: %s", value)
			}
			m.TargetDuration = time.Duration(secs) * time.Second
		case "#EXT-X-MEDIA-SEQUENCE":
			seq, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid MEDIA-SEQUENCE: %s", value)
			}
			m.MediaSequence = seq
		case "#EXT-X-MAP":
			m.MapURI = attributes(value)["URI"]
		case "#EXT-X-PART-INF":
			d, err := parseSeconds(attributes(value)["PART-TARGET"])
			if err != nil {
				return nil, fmt.Errorf("invalid PART-TARGET: %w", err)
			}
			m.PartTarget = d
		case "#EXT-X-PART":
			attrs := attributes(value)
			d, err := parseSeconds(attrs["DURATION"])
			if err != nil {
				return nil, fmt.Errorf("invalid PART duration: %w", err)
			}
			parts = append(parts, playlist.Part{Duration: d, URI: attrs["URI"], Independent: attrs["INDEPENDENT"] == "YES"})
		case "#EXT-X-PRELOAD-HINT":
			m.PreloadHint = attributes(value)["URI"]
		case "#EXT-X-PROGRAM-DATE-TIME":
			t, err := time.Parse(time.RFC3339Nano, value)
			if err != nil {
				return nil, fmt.Errorf("invalid PDT format: %s", value)
			}
			if !lastPDT.IsZero() && t.Before(lastPDT) {
				return nil, fmt.Errorf("PDT non-monotonic: %v < %v", t, lastPDT)
			}
			nextPDT, lastPDT = t, t
		case "#EXTINF":
			durPart, _, _ := strings.Cut(value, ",")
			d, err := parseSeconds(durPart)
			if err != nil {
				return nil, fmt.Errorf("invalid EXTINF duration: %s", durPart)
			}
			nextDuration = d
		case "#EXT-X-ENDLIST":
			m.EndList = true
		case "#EXT-X-PLAYLIST-TYPE":
			if value == "VOD" {
				m.EndList = true
			}
		default:
			if strings.HasPrefix(line, "#") {
				continue
			}
			m.Segments = append(m.Segments, playlist.Segment{
				Sequence:        m.MediaSequence + uint64(len(m.Segments)),
				Duration:        nextDuration,
				URI:             line,
				ProgramDateTime: nextPDT,
				Parts:           parts,
			})
			nextDuration, nextPDT, parts = 0, time.Time{}, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !sawHeader {
		return nil, ErrNotPlaylist
	}
	m.PendingParts = parts
	return m, nil
}

// SegmentTruth is the timeline derived from a served playlist.
type SegmentTruth struct {
	HasPDT        bool
	FirstPDT      time.Time
	LastPDT       time.Time
	LastDuration  time.Duration
	TotalDuration time.Duration
	IsVOD         bool
}

// ExtractSegmentTruth parses a playlist and checks its timeline: PDT never
// moves backwards, and a live playlist either stamps every segment or none.
func ExtractSegmentTruth(text string) (*SegmentTruth, error) {
	m, err := ParseMediaPlaylist(text)
	if err != nil {
		return nil, err
	}
	truth := &SegmentTruth{IsVOD: m.EndList}
	withPDT := 0
	for _, s := range m.Segments {
		truth.TotalDuration += s.Duration
		truth.LastDuration = s.Duration
		if s.ProgramDateTime.IsZero() {
			continue
		}
		withPDT++
		if truth.FirstPDT.IsZero() {
			truth.FirstPDT = s.ProgramDateTime
		}
		truth.LastPDT = s.ProgramDateTime
	}
	truth.HasPDT = withPDT > 0
	if !truth.IsVOD && truth.HasPDT && withPDT != len(m.Segments) {
		return nil, fmt.Errorf("partial PDT coverage in live playlist (found %d/%d)", withPDT, len(m.Segments))
	}
	return truth, nil
}

func parseSeconds(s string) (time.Duration, error) {
	secs, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(secs * float64(time.Second)).Round(time.Millisecond), nil
}

// attributes splits an attribute list such as URI="a",INDEPENDENT=YES.
func attributes(s string) map[string]string {
	out := make(map[string]string)
	for len(s) > 0 {
		key, rest, ok := strings.Cut(s, "=")
		if !ok {
			break
		}
		var val string
		if strings.HasPrefix(rest, `"`) {
			end := strings.IndexByte(rest[1:], '"')
			if end < 0 {
				val, rest = rest[1:], ""
			} else {
				val, rest = rest[1:end+1], rest[end+2:]
			}
			rest = strings.TrimPrefix(rest, ",")
		} else {
			val, rest, _ = strings.Cut(rest, ",")
		}
		out[strings.TrimSpace(key)] = val
		s = rest
	}
	return out
}
