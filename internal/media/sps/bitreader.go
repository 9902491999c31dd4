// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sps

import "errors"

// ErrTruncated is returned when a parameter set ends before a required field.
var ErrTruncated = errors.New("sps: truncated parameter set")

// bitReader reads MSB-first bit fields from an RBSP. The first read past the
// end latches ErrTruncated and every later read returns zero.
type bitReader struct {
	b   []byte
	pos int
	err error
}

func (r *bitReader) bit() uint32 {
	if r.err != nil {
		return 0
	}
	if r.pos >= len(r.b)*8 {
		r.err = ErrTruncated
		return 0
	}
	v := (r.b[r.pos>>3] >> (7 - uint(r.pos&7))) & 1
	r.pos++
	return uint32(v)
}

func (r *bitReader) u(n int) uint32 {
	var v uint32
	for i := 0; i < n; i++ {
		v = v<<1 | r.bit()
	}
	return v
}

func (r *bitReader) u64(n int) uint64 {
	var v uint64
	for i := 0; i < n; i++ {
		v = v<<1 | uint64(r.bit())
	}
	return v
}

func (r *bitReader) flag() bool { return r.bit() == 1 }

func (r *bitReader) skip(n int) {
	for i := 0; i < n && r.err == nil; i++ {
		r.bit()
	}
}

// ue reads an unsigned Exp-Golomb code.
func (r *bitReader) ue() uint32 {
	zeros := 0
	for r.bit() == 0 {
		if r.err != nil {
			return 0
		}
		zeros++
		if zeros > 31 {
			r.err = errors.New("sps: exp-golomb code overflow")
			return 0
		}
	}
	return (1<<uint(zeros) - 1) + r.u(zeros)
}

// se reads a signed Exp-Golomb code.
func (r *bitReader) se() int32 {
	k := r.ue()
	if k&1 == 1 {
		return int32((k + 1) / 2)
	}
	return -int32(k / 2)
}
