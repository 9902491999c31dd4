// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package fmp4

import (
	"bytes"
	"fmt"

	"github.com/Eyevinn/mp4ff/mp4"
)

// Sample flags for trun entries.
const (
	flagsSync    uint32 = 0x02000000 // sample_depends_on=2
	flagsNonSync uint32 = 0x01010000 // sample_depends_on=1, is_non_sync
)

// Sample is one access unit in length-prefixed form.
type Sample struct {
	Data     []byte
	DTS      uint64
	Duration uint32
	Keyframe bool
}

// buildFragment writes one moof+mdat pair carrying samples. seq becomes
// mfhd.sequence_number and the first sample DTS becomes tfdt.
func buildFragment(seq uint32, samples []Sample) ([]byte, error) {
	frag, err := mp4.CreateFragment(seq, trackID)
	if err != nil {
		return nil, fmt.Errorf("fmp4: create fragment: %w", err)
	}
	payload := 0
	for _, s := range samples {
		flags := flagsNonSync
		if s.Keyframe {
			flags = flagsSync
		}
		frag.AddFullSample(mp4.FullSample{
			Sample: mp4.Sample{
				Flags: flags,
				Dur:   s.Duration,
				Size:  uint32(len(s.Data)),
			},
			DecodeTime: s.DTS,
			Data:       s.Data,
		})
		payload += len(s.Data)
	}

	buf := bytes.NewBuffer(make([]byte, 0, 256+len(samples)*16+payload))
	if err := frag.Encode(buf); err != nil {
		return nil, fmt.Errorf("fmp4: encode fragment %d: %w", seq, err)
	}
	return buf.Bytes(), nil
}
