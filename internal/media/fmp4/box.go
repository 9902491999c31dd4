// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package fmp4 writes fragmented MP4 (ISO BMFF) init and media segments for
// a single video track.
package fmp4

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// writer appends boxes to a byte slice. open returns the offset of the size
// field so close can patch it once the payload is written.
type writer struct {
	b []byte
}

func (w *writer) open(typ string) int {
	off := len(w.b)
	w.u32(0)
	w.b = append(w.b, typ...)
	return off
}

func (w *writer) openFull(typ string, version uint8, flags uint32) int {
	off := w.open(typ)
	w.u32(uint32(version)<<24 | flags&0x00ffffff)
	return off
}

func (w *writer) close(off int) {
	binary.BigEndian.PutUint32(w.b[off:], uint32(len(w.b)-off))
}

func (w *writer) u8(v uint8)   { w.b = append(w.b, v) }
func (w *writer) u16(v uint16) { w.b = binary.BigEndian.AppendUint16(w.b, v) }
func (w *writer) u32(v uint32) { w.b = binary.BigEndian.AppendUint32(w.b, v) }
func (w *writer) u64(v uint64) { w.b = binary.BigEndian.AppendUint64(w.b, v) }
func (w *writer) raw(p []byte) { w.b = append(w.b, p...) }
func (w *writer) zeros(n int) {
	for i := 0; i < n; i++ {
		w.b = append(w.b, 0)
	}
}

// unity is the identity transformation matrix used by mvhd and tkhd.
var unity = [9]uint32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000}

func (w *writer) matrix() {
	for _, v := range unity {
		w.u32(v)
	}
}

// ErrMalformedBox is returned by the readers for truncated or oversized boxes.
var ErrMalformedBox = errors.New("fmp4: malformed box")

// Box is one parsed box header and its payload.
type Box struct {
	Type    string
	Payload []byte
}

// ReadBoxes parses the sibling boxes in b.
func ReadBoxes(b []byte) ([]Box, error) {
	var out []Box
	for len(b) > 0 {
		if len(b) < 8 {
			return out, fmt.Errorf("%w: %d trailing bytes", ErrMalformedBox, len(b))
		}
		size := int(binary.BigEndian.Uint32(b))
		typ := string(b[4:8])
		hdr := 8
		if size == 1 {
			if len(b) < 16 {
				return out, ErrMalformedBox
			}
			size = int(binary.BigEndian.Uint64(b[8:]))
			hdr = 16
		}
		if size < hdr || size > len(b) {
			return out, fmt.Errorf("%w: %s size %d", ErrMalformedBox, typ, size)
		}
		out = append(out, Box{Type: typ, Payload: b[hdr:size]})
		b = b[size:]
	}
	return out, nil
}

// Find descends through nested container boxes by type and returns the
// payload of the first match, or nil.
func Find(b []byte, path ...string) []byte {
	cur := b
	for i, typ := range path {
		boxes, err := ReadBoxes(cur)
		if err != nil {
			return nil
		}
		var next []byte
		found := false
		for _, bx := range boxes {
			if bx.Type == typ {
				next, found = bx.Payload, true
				break
			}
		}
		if !found {
			return nil
		}
		if i == len(path)-1 {
			return next
		}
		cur = containerPayload(typ, next)
	}
	return nil
}

// containerPayload skips the fields that precede child boxes.
func containerPayload(typ string, p []byte) []byte {
	skip := 0
	switch typ {
	case "stsd", "dref":
		skip = 8
	case "avc1", "hvc1", "hev1":
		skip = 78
	}
	if skip > len(p) {
		return nil
	}
	return p[skip:]
}

// SequenceNumber returns mfhd.sequence_number of the first fragment in b.
func SequenceNumber(b []byte) (uint32, error) {
	p := Find(b, "moof", "mfhd")
	if len(p) < 8 {
		return 0, ErrMalformedBox
	}
	return binary.BigEndian.Uint32(p[4:]), nil
}

// BaseMediaDecodeTime returns tfdt.base_media_decode_time of the first
// fragment in b.
func BaseMediaDecodeTime(b []byte) (uint64, error) {
	p := Find(b, "moof", "traf", "tfdt")
	if len(p) < 8 {
		return 0, ErrMalformedBox
	}
	if p[0] == 1 {
		if len(p) < 12 {
			return 0, ErrMalformedBox
		}
		return binary.BigEndian.Uint64(p[4:]), nil
	}
	return uint64(binary.BigEndian.Uint32(p[4:])), nil
}

// SampleCount returns trun.sample_count of the first fragment in b.
func SampleCount(b []byte) (uint32, error) {
	p := Find(b, "moof", "traf", "trun")
	if len(p) < 8 {
		return 0, ErrMalformedBox
	}
	return binary.BigEndian.Uint32(p[4:]), nil
}
