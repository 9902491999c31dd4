// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"time"

	"github.com/ManuGH/zmlive/internal/sysstats"
)

// InsertServerStats appends a Server_Stats row.
func (s *Store) InsertServerStats(ctx context.Context, at time.Time, st sysstats.Stats) error {
	_, err := s.DB.ExecContext(ctx, `
	INSERT INTO Server_Stats (TimeStamp, CpuLoad, CpuUsagePercent, TotalMem, FreeMem, TotalSwap, FreeSwap, TotalDisk, FreeDisk)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, at.Unix(), st.CPULoad, st.CPUUsagePercent,
		int64(st.TotalMem), int64(st.FreeMem), int64(st.TotalSwap), int64(st.FreeSwap), // #nosec G115
		int64(st.TotalDisk), int64(st.FreeDisk))                                        // #nosec G115
	return err
}

// PruneServerStats deletes rows older than before and returns the count.
func (s *Store) PruneServerStats(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, "DELETE FROM Server_Stats WHERE TimeStamp < ?", before.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// LatestServerStats returns the newest row, or false if none exists.
func (s *Store) LatestServerStats(ctx context.Context) (sysstats.Stats, time.Time, bool, error) {
	var (
		st         sysstats.Stats
		ts         int64
		tm, fm     int64
		tsw, fsw   int64
		tdisk, fdk int64
	)
	rows, err := s.DB.QueryContext(ctx, `
	SELECT TimeStamp, CpuLoad, CpuUsagePercent, TotalMem, FreeMem, TotalSwap, FreeSwap, TotalDisk, FreeDisk
	FROM Server_Stats ORDER BY TimeStamp DESC, Id DESC LIMIT 1`)
	if err != nil {
		return st, time.Time{}, false, err
	}
	defer rows.Close()
	if !rows.Next() {
		return st, time.Time{}, false, rows.Err()
	}
	if err := rows.Scan(&ts, &st.CPULoad, &st.CPUUsagePercent, &tm, &fm, &tsw, &fsw, &tdisk, &fdk); err != nil {
		return st, time.Time{}, false, err
	}
	st.TotalMem, st.FreeMem = uint64(tm), uint64(fm)       // #nosec G115
	st.TotalSwap, st.FreeSwap = uint64(tsw), uint64(fsw)   // #nosec G115
	st.TotalDisk, st.FreeDisk = uint64(tdisk), uint64(fdk) // #nosec G115
	if st.TotalDisk >= st.FreeDisk {
		st.UsedDisk = st.TotalDisk - st.FreeDisk
	}
	return st, time.Unix(ts, 0), true, nil
}
