// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package hls

import (
	"time"

	"github.com/ManuGH/zmlive/internal/media/fmp4"
)

// StoredSegment is a finished segment retained for serving.
type StoredSegment struct {
	fmp4.Segment
	ProgramDateTime time.Time
	Parts           []fmp4.Part
}

// SegmentRing keeps the newest segments of one monitor in sequence order.
// It is not safe for concurrent use; Stream guards it.
type SegmentRing struct {
	capacity int
	segs     []*StoredSegment
}

// NewSegmentRing returns a ring holding at most capacity segments.
func NewSegmentRing(capacity int) *SegmentRing {
	if capacity < 1 {
		capacity = 1
	}
	return &SegmentRing{capacity: capacity, segs: make([]*StoredSegment, 0, capacity)}
}

// Put appends seg and returns the sequences evicted to make room.
func (r *SegmentRing) Put(seg *StoredSegment) []uint64 {
	var evicted []uint64
	for len(r.segs) >= r.capacity {
		evicted = append(evicted, r.segs[0].Sequence)
		r.segs[0] = nil
		r.segs = r.segs[1:]
	}
	r.segs = append(r.segs, seg)
	return evicted
}

// Get returns the segment with sequence seq.
func (r *SegmentRing) Get(seq uint64) (*StoredSegment, bool) {
	if len(r.segs) == 0 {
		return nil, false
	}
	first := r.segs[0].Sequence
	if seq < first {
		return nil, false
	}
	i := int(seq - first)
	if i >= len(r.segs) || r.segs[i].Sequence != seq {
		// Sequences are contiguous; fall back to a scan if they ever are not.
		for _, s := range r.segs {
			if s.Sequence == seq {
				return s, true
			}
		}
		return nil, false
	}
	return r.segs[i], true
}

// Last returns the newest segment.
func (r *SegmentRing) Last() (*StoredSegment, bool) {
	if len(r.segs) == 0 {
		return nil, false
	}
	return r.segs[len(r.segs)-1], true
}

// Tail returns up to n of the newest segments, oldest first.
func (r *SegmentRing) Tail(n int) []*StoredSegment {
	if n > len(r.segs) || n < 0 {
		n = len(r.segs)
	}
	out := make([]*StoredSegment, n)
	copy(out, r.segs[len(r.segs)-n:])
	return out
}

// Len returns the number of retained segments.
func (r *SegmentRing) Len() int { return len(r.segs) }

// Reset drops all segments.
func (r *SegmentRing) Reset() {
	clear(r.segs)
	r.segs = r.segs[:0]
}
