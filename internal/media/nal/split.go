// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package nal

// maxPending bounds the bytes buffered while waiting for the next start code.
const maxPending = 8 << 20

// findStartCode returns the offset of the next start code at or after from
// and its length (3 or 4). It returns -1 when none is found.
func findStartCode(b []byte, from int) (int, int) {
	for i := from; i+2 < len(b); i++ {
		if b[i+2] > 1 {
			// Neither of the next two positions can begin 00 00 01 here.
			i += 2
			continue
		}
		if b[i] == 0 && b[i+1] == 0 && b[i+2] == 1 {
			if i > from && b[i-1] == 0 {
				return i - 1, 4
			}
			return i, 3
		}
	}
	return -1, 0
}

func trimTrailingZeros(u []byte) []byte {
	for len(u) > 0 && u[len(u)-1] == 0 {
		u = u[:len(u)-1]
	}
	return u
}

// Split returns the units of a complete Annex B buffer. Returned slices alias b.
func Split(b []byte) [][]byte {
	var out [][]byte
	pos, n := findStartCode(b, 0)
	for pos >= 0 {
		start := pos + n
		next, nn := findStartCode(b, start)
		end := len(b)
		if next >= 0 {
			end = next
		}
		if u := trimTrailingZeros(b[start:end]); len(u) > 0 {
			out = append(out, u)
		}
		pos, n = next, nn
	}
	return out
}

// Splitter extracts units from a byte stream delivered in arbitrary chunks.
type Splitter struct {
	buf []byte
	// Dropped counts bytes discarded before the first start code or on overflow.
	Dropped uint64
}

// Write appends p and calls emit for every complete unit. A unit is complete
// once the following start code has been seen. emit receives a fresh copy.
func (s *Splitter) Write(p []byte, emit func([]byte)) {
	s.buf = append(s.buf, p...)

	pos, n := findStartCode(s.buf, 0)
	if pos < 0 {
		s.keepTail()
		return
	}
	if pos > 0 {
		s.Dropped += uint64(pos)
	}

	consumed := pos
	for {
		start := pos + n
		next, nn := findStartCode(s.buf, start)
		if next < 0 {
			break
		}
		if u := trimTrailingZeros(s.buf[start:next]); len(u) > 0 {
			emit(append([]byte(nil), u...))
		}
		consumed = next
		pos, n = next, nn
	}

	rest := copy(s.buf, s.buf[consumed:])
	s.buf = s.buf[:rest]
	if len(s.buf) > maxPending {
		s.Dropped += uint64(len(s.buf))
		s.buf = s.buf[:0]
	}
}

// keepTail retains the last bytes that might start a start code.
func (s *Splitter) keepTail() {
	if len(s.buf) <= 3 {
		return
	}
	s.Dropped += uint64(len(s.buf) - 3)
	s.buf = append(s.buf[:0], s.buf[len(s.buf)-3:]...)
}

// Flush emits the buffered trailing unit, if any, and resets the splitter.
func (s *Splitter) Flush(emit func([]byte)) {
	pos, n := findStartCode(s.buf, 0)
	if pos >= 0 {
		if u := trimTrailingZeros(s.buf[pos+n:]); len(u) > 0 {
			emit(append([]byte(nil), u...))
		}
	}
	s.buf = s.buf[:0]
}

// Reset discards buffered bytes.
func (s *Splitter) Reset() { s.buf = s.buf[:0] }
