// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build !linux

package sysstats

// Non-Linux hosts report zeros.
func (c *Collector) collect() Stats { return Stats{} }
