// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package nal

// AccessUnit is the set of units that make up one coded picture.
type AccessUnit struct {
	Units       [][]byte
	TimestampUs int64
	Keyframe    bool
}

// HasVCL reports whether the unit list carries slice data.
func (a *AccessUnit) HasVCL(c Codec) bool {
	for _, u := range a.Units {
		if IsVCL(c, Type(c, u)) {
			return true
		}
	}
	return false
}

// Assembler groups a unit stream into access units.
//
// A new access unit starts at an AUD, at a parameter set or prefix SEI that
// follows slice data, or at a slice flagged as the first of a new picture.
type Assembler struct {
	codec  Codec
	cur    AccessUnit
	hasVCL bool
}

// NewAssembler returns an assembler for codec c.
func NewAssembler(c Codec) *Assembler { return &Assembler{codec: c} }

// Push adds a unit stamped with tsUs. It returns the previous access unit
// when u closes it.
func (a *Assembler) Push(u []byte, tsUs int64, keyframe bool) (AccessUnit, bool) {
	t := Type(a.codec, u)
	vcl := IsVCL(a.codec, t)

	var done AccessUnit
	var ok bool
	if a.hasVCL && (startsAccessUnit(a.codec, t) || (vcl && FirstSliceInPicture(a.codec, u))) {
		done, ok = a.take()
	}

	if len(a.cur.Units) == 0 {
		a.cur.TimestampUs = tsUs
	}
	a.cur.Units = append(a.cur.Units, u)
	if vcl {
		a.hasVCL = true
		if keyframe || IsKeyframe(a.codec, t) {
			a.cur.Keyframe = true
		}
	}
	return done, ok
}

// Flush returns the pending access unit if it holds slice data.
func (a *Assembler) Flush() (AccessUnit, bool) {
	if !a.hasVCL {
		a.cur = AccessUnit{}
		return AccessUnit{}, false
	}
	return a.take()
}

func (a *Assembler) take() (AccessUnit, bool) {
	done := a.cur
	a.cur = AccessUnit{}
	a.hasVCL = false
	return done, true
}
