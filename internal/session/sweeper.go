// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"context"
	"time"

	"github.com/ManuGH/zmlive/internal/log"
)

// Sweeper periodically runs a cleanup pass.
type Sweeper struct {
	Name     string
	Interval time.Duration
	// Sweep returns the number of sessions it removed.
	Sweep func(ctx context.Context) int
}

// Run starts the sweeper loop. It returns when ctx is done.
func (s Sweeper) Run(ctx context.Context) {
	if s.Interval <= 0 || s.Sweep == nil {
		return
	}
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	logger := log.WithComponent("sweeper")
	logger.Debug().Str("sweeper", s.Name).Dur("interval", s.Interval).Msg("background sweeper started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(ctx); n > 0 {
				logger.Info().Str("sweeper", s.Name).Int("removed", n).Msg("swept stale sessions")
			}
		}
	}
}
