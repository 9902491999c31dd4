// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package source

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/ManuGH/zmlive/internal/config"
	"github.com/ManuGH/zmlive/internal/media/nal"
	"github.com/ManuGH/zmlive/internal/store"
)

// MonitorInfo is what the router needs to know about a monitor.
type MonitorInfo struct {
	ID       uint32
	Codec    nal.Codec
	FifoPath string
	// Available is false for disabled or non-capturing monitors.
	Available bool
}

// MonitorLookup resolves monitors. Unknown ids return ErrSourceUnavailable.
type MonitorLookup interface {
	LookupMonitor(ctx context.Context, id uint32) (MonitorInfo, error)
}

// DefaultFifoPath returns the path the capture daemon writes for monitor id.
func DefaultFifoPath(dir string, id uint32, c nal.Codec) string {
	ext := "h264"
	if c == nal.H265 {
		ext = "hevc"
	}
	return filepath.Join(dir, fmt.Sprintf("video_fifo_%d.%s", id, ext))
}

// StaticMonitors serves the monitor table from configuration.
type StaticMonitors struct {
	dir      string
	monitors map[uint32]MonitorInfo
}

// NewStaticMonitors builds a lookup from the fifo.monitors config section.
func NewStaticMonitors(dir string, entries []config.StaticMonitor) (*StaticMonitors, error) {
	s := &StaticMonitors{dir: dir, monitors: make(map[uint32]MonitorInfo, len(entries))}
	for _, e := range entries {
		c, err := nal.ParseCodec(e.Codec)
		if err != nil {
			return nil, fmt.Errorf("monitor %d: %w", e.ID, err)
		}
		path := e.FIFOPath
		if path == "" {
			path = DefaultFifoPath(dir, e.ID, c)
		}
		s.monitors[e.ID] = MonitorInfo{ID: e.ID, Codec: c, FifoPath: path, Available: e.Enabled == nil || *e.Enabled}
	}
	return s, nil
}

// LookupMonitor implements MonitorLookup.
func (s *StaticMonitors) LookupMonitor(_ context.Context, id uint32) (MonitorInfo, error) {
	m, ok := s.monitors[id]
	if !ok {
		return MonitorInfo{}, fmt.Errorf("%w: monitor %d not configured", ErrSourceUnavailable, id)
	}
	return m, nil
}

// MonitorStore is the part of the SQLite store the lookup reads.
type MonitorStore interface {
	Monitor(ctx context.Context, id uint32) (store.Monitor, error)
}

// StoreMonitors resolves monitors from the Monitors table.
type StoreMonitors struct {
	Store   MonitorStore
	FifoDir string
}

// LookupMonitor implements MonitorLookup.
func (s StoreMonitors) LookupMonitor(ctx context.Context, id uint32) (MonitorInfo, error) {
	m, err := s.Store.Monitor(ctx, id)
	if errors.Is(err, store.ErrMonitorNotFound) {
		return MonitorInfo{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	if err != nil {
		return MonitorInfo{}, fmt.Errorf("lookup monitor %d: %w", id, err)
	}
	c, err := nal.ParseCodec(m.Codec)
	if err != nil {
		c = nal.H264
	}
	path := m.FifoPath
	if path == "" {
		path = DefaultFifoPath(s.FifoDir, id, c)
	}
	return MonitorInfo{ID: id, Codec: c, FifoPath: path, Available: m.Enabled && m.Function.Captures()}, nil
}

// Chain tries each lookup in order and returns the first hit.
type Chain []MonitorLookup

// LookupMonitor implements MonitorLookup.
func (c Chain) LookupMonitor(ctx context.Context, id uint32) (MonitorInfo, error) {
	err := fmt.Errorf("%w: monitor %d", ErrSourceUnavailable, id)
	for _, l := range c {
		m, lerr := l.LookupMonitor(ctx, id)
		if lerr == nil {
			return m, nil
		}
		if !errors.Is(lerr, ErrSourceUnavailable) {
			return MonitorInfo{}, lerr
		}
		err = lerr
	}
	return MonitorInfo{}, err
}
