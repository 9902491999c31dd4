// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"context"
	"fmt"

	"github.com/prometheus/procfs"
)

// ActivitySampler reports cumulative CPU time of a process in clock ticks.
type ActivitySampler interface {
	CPUTicks(pid int) (uint64, error)
}

// ProcActivity reads utime+stime from /proc/<pid>/stat.
type ProcActivity struct {
	fs procfs.FS
}

// NewProcActivity opens the procfs mount at mountPoint (usually "/proc").
func NewProcActivity(mountPoint string) (*ProcActivity, error) {
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("open procfs: %w", err)
	}
	return &ProcActivity{fs: fs}, nil
}

// CPUTicks implements ActivitySampler.
func (p *ProcActivity) CPUTicks(pid int) (uint64, error) {
	proc, err := p.fs.Proc(pid)
	if err != nil {
		return 0, err
	}
	stat, err := proc.Stat()
	if err != nil {
		return 0, err
	}
	return uint64(stat.UTime) + uint64(stat.STime), nil
}

// DBProbe checks database reachability before requires_db daemons spawn.
type DBProbe interface {
	Ping(ctx context.Context) error
}
