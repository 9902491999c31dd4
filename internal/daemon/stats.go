// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"time"

	units "github.com/docker/go-units"
	"github.com/rs/zerolog"

	"github.com/ManuGH/zmlive/internal/log"
	"github.com/ManuGH/zmlive/internal/sysstats"
)

type statsSource interface {
	Collect(ctx context.Context) (sysstats.Stats, error)
}

type statsSink interface {
	InsertServerStats(ctx context.Context, at time.Time, st sysstats.Stats) error
	PruneServerStats(ctx context.Context, before time.Time) (int64, error)
}

// statsRecorder samples host stats into Server_Stats every interval and
// drops rows older than retention.
type statsRecorder struct {
	src       statsSource
	sink      statsSink
	interval  time.Duration
	retention time.Duration
	logger    zerolog.Logger
}

func (r *statsRecorder) task() BackgroundTask {
	return BackgroundTask{Name: "server_stats", Run: r.run}
}

func (r *statsRecorder) run(ctx context.Context) {
	if r.interval <= 0 {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.record(ctx, now)
		}
	}
}

func (r *statsRecorder) record(ctx context.Context, now time.Time) {
	st, err := r.src.Collect(ctx)
	if err != nil {
		return
	}
	if err := r.sink.InsertServerStats(ctx, now, st); err != nil {
		r.logger.Warn().Err(err).Str(log.FieldEvent, "stats.insert_failed").Msg("failed to record server stats")
		return
	}
	r.logger.Debug().
		Str(log.FieldEvent, "stats.recorded").
		Float64("cpu_percent", st.CPUUsagePercent).
		Str("free_mem", units.BytesSize(float64(st.FreeMem))).
		Str("free_disk", units.BytesSize(float64(st.FreeDisk))).
		Msg("server stats recorded")

	if r.retention <= 0 {
		return
	}
	n, err := r.sink.PruneServerStats(ctx, now.Add(-r.retention))
	if err != nil {
		r.logger.Warn().Err(err).Str(log.FieldEvent, "stats.prune_failed").Msg("failed to prune server stats")
		return
	}
	if n > 0 {
		r.logger.Debug().Int64("rows", n).Str(log.FieldEvent, "stats.pruned").Msg("pruned old server stats")
	}
}
