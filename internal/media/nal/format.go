// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package nal

import "encoding/binary"

var startCode4 = []byte{0, 0, 0, 1}

// AnnexB joins units with 4-byte start codes.
func AnnexB(units ...[]byte) []byte {
	size := 0
	for _, u := range units {
		size += 4 + len(u)
	}
	out := make([]byte, 0, size)
	for _, u := range units {
		out = append(out, startCode4...)
		out = append(out, u...)
	}
	return out
}

// AVCC joins units with 4-byte big-endian length prefixes, the sample format
// of avc1/hvc1 tracks.
func AVCC(units ...[]byte) []byte {
	size := 0
	for _, u := range units {
		size += 4 + len(u)
	}
	out := make([]byte, size)
	off := 0
	for _, u := range units {
		binary.BigEndian.PutUint32(out[off:], uint32(len(u))) // #nosec G115 -- units are far below 4 GiB
		off += 4
		off += copy(out[off:], u)
	}
	return out
}

// Unescape removes emulation prevention bytes (00 00 03 -> 00 00).
func Unescape(u []byte) []byte {
	out := make([]byte, 0, len(u))
	zeros := 0
	for _, b := range u {
		if zeros >= 2 && b == 3 {
			zeros = 0
			continue
		}
		out = append(out, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}
