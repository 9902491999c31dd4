// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package sysstats samples host load, memory and disk usage for the API.
package sysstats

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ManuGH/zmlive/internal/log"
)

// Stats is a host snapshot. All quantities are in bytes.
type Stats struct {
	CPULoad          float64 `json:"cpu_load"`
	CPUUsagePercent  float64 `json:"cpu_usage_percent"`
	TotalMem         uint64  `json:"total_mem"`
	FreeMem          uint64  `json:"free_mem"`
	TotalSwap        uint64  `json:"total_swap"`
	FreeSwap         uint64  `json:"free_swap"`
	TotalDisk        uint64  `json:"total_disk"`
	UsedDisk         uint64  `json:"used_disk"`
	FreeDisk         uint64  `json:"free_disk"`
	DiskUsagePercent float64 `json:"disk_usage_percent"`
}

// Collector reads Stats from procfs and the filesystem holding DiskPath.
type Collector struct {
	procRoot string
	diskPath string
	logger   zerolog.Logger

	mu      sync.Mutex
	prevCPU cpuSample
}

type cpuSample struct {
	busy  float64
	total float64
}

// New returns a collector. procRoot is usually "/proc"; diskPath is the
// events directory.
func New(procRoot, diskPath string) *Collector {
	if procRoot == "" {
		procRoot = "/proc"
	}
	return &Collector{
		procRoot: procRoot,
		diskPath: diskPath,
		logger:   log.WithComponent("sysstats"),
	}
}

// Collect returns the current Stats. Unreadable sources leave their fields
// zero; Collect only fails when ctx is done.
func (c *Collector) Collect(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	return c.collect(), nil
}

// usage turns a cumulative sample into a percentage against the previous one.
func (c *Collector) usage(cur cpuSample) float64 {
	c.mu.Lock()
	prev := c.prevCPU
	c.prevCPU = cur
	c.mu.Unlock()

	busy, total := cur.busy-prev.busy, cur.total-prev.total
	if total <= 0 {
		return 0
	}
	return clampPercent(busy / total * 100)
}

func clampPercent(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

func diskPercent(used, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return clampPercent(float64(used) / float64(total) * 100)
}
