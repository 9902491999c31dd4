// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build linux

package sysstats

import (
	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"

	"github.com/ManuGH/zmlive/internal/log"
)

func (c *Collector) collect() Stats {
	var st Stats

	fs, err := procfs.NewFS(c.procRoot)
	if err != nil {
		c.logger.Debug().Err(err).Str(log.FieldPath, c.procRoot).Msg("procfs unavailable")
	} else {
		if avg, err := fs.LoadAvg(); err == nil {
			st.CPULoad = avg.Load1
		}
		if ps, err := fs.Stat(); err == nil {
			t := ps.CPUTotal
			idle := t.Idle + t.Iowait
			busy := t.User + t.Nice + t.System + t.IRQ + t.SoftIRQ + t.Steal
			st.CPUUsagePercent = c.usage(cpuSample{busy: busy, total: busy + idle})
		}
		if mi, err := fs.Meminfo(); err == nil {
			st.TotalMem = kb(mi.MemTotal)
			st.FreeMem = kb(mi.MemFree) + kb(mi.Buffers) + kb(mi.Cached) + kb(mi.SReclaimable)
			if st.FreeMem > st.TotalMem {
				st.FreeMem = st.TotalMem
			}
			st.TotalSwap = kb(mi.SwapTotal)
			st.FreeSwap = kb(mi.SwapFree)
		}
	}

	if c.diskPath != "" {
		var sfs unix.Statfs_t
		if err := unix.Statfs(c.diskPath, &sfs); err == nil {
			bsize := uint64(sfs.Bsize) // #nosec G115 -- block size is positive
			st.TotalDisk = sfs.Blocks * bsize
			st.FreeDisk = sfs.Bavail * bsize
			st.UsedDisk = (sfs.Blocks - sfs.Bfree) * bsize
			st.DiskUsagePercent = diskPercent(st.UsedDisk, st.TotalDisk)
		} else {
			c.logger.Debug().Err(err).Str(log.FieldPath, c.diskPath).Msg("statfs failed")
		}
	}
	return st
}

// kb converts an optional meminfo value in kB to bytes.
func kb(v *uint64) uint64 {
	if v == nil {
		return 0
	}
	return *v * 1024
}
