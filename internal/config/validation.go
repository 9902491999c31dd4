// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/ManuGH/zmlive/internal/validate"
)

var (
	logLevels     = []string{"trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled"}
	exporterTypes = []string{"grpc", "http"}
	codecs        = []string{"", "h264", "h265", "hevc"}
)

// Validate validates an AppConfig using the centralized validation package.
func Validate(cfg AppConfig) error {
	v := validate.New()

	v.NotEmpty("Server.ListenAddr", cfg.Server.ListenAddr)
	v.PositiveDuration("Server.ReadTimeout", cfg.Server.ReadTimeout)
	v.PositiveDuration("Server.ShutdownTimeout", cfg.Server.ShutdownTimeout)
	if cfg.Server.RateLimit < 0 {
		v.AddError("Server.RateLimit", "must not be negative", cfg.Server.RateLimit)
	}
	for i, cidr := range cfg.Server.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			v.AddError(fmt.Sprintf("Server.TrustedProxies[%d]", i), "must be a CIDR", cidr)
		}
	}

	v.NotEmpty("Control.SocketPath", cfg.Control.SocketPath)
	v.AbsPath("Control.SocketPath", cfg.Control.SocketPath)
	v.Range("Control.MaxConnections", cfg.Control.MaxConnections, 1, 4096)

	s := cfg.Supervisor
	v.PositiveDuration("Supervisor.MinBackoff", s.MinBackoff)
	v.PositiveDuration("Supervisor.MaxBackoff", s.MaxBackoff)
	v.DurationOrder("Supervisor.MinBackoff", s.MinBackoff, "Supervisor.MaxBackoff", s.MaxBackoff)
	v.PositiveDuration("Supervisor.MaxHangDelay", s.MaxHangDelay)
	v.PositiveDuration("Supervisor.HealthInterval", s.HealthInterval)
	v.PositiveDuration("Supervisor.ShutdownTimeout", s.ShutdownTimeout)
	if s.StartupDelay < 0 {
		v.AddError("Supervisor.StartupDelay", "must not be negative", s.StartupDelay)
	}
	v.AbsPath("Supervisor.PIDFile", s.PIDFile)

	v.AbsPath("Paths.BinDir", cfg.Paths.BinDir)
	v.AbsPath("Paths.ScriptDir", cfg.Paths.ScriptDir)
	v.AbsPath("Paths.EventsDir", cfg.Paths.EventsDir)

	v.NotEmpty("FIFO.Dir", cfg.FIFO.Dir)
	v.AbsPath("FIFO.Dir", cfg.FIFO.Dir)
	v.Positive("FIFO.MaxOpenRetries", cfg.FIFO.MaxOpenRetries)
	v.PositiveDuration("FIFO.RetryInterval", cfg.FIFO.RetryInterval)
	v.Range("FIFO.ReadBufferSize", cfg.FIFO.ReadBufferSize, 4096, 16<<20)
	seen := make(map[uint32]bool, len(cfg.FIFO.Monitors))
	for i, m := range cfg.FIFO.Monitors {
		field := fmt.Sprintf("FIFO.Monitors[%d]", i)
		if m.ID == 0 {
			v.AddError(field+".ID", "must be positive", m.ID)
		}
		if seen[m.ID] {
			v.AddError(field+".ID", "duplicate monitor id", m.ID)
		}
		seen[m.ID] = true
		v.OneOf(field+".Codec", strings.ToLower(m.Codec), codecs)
		v.AbsPath(field+".FIFOPath", m.FIFOPath)
	}

	v.PositiveDuration("Live.StartupTimeout", cfg.Live.StartupTimeout)
	v.Range("Live.VideoBufferSize", cfg.Live.VideoBufferSize, 1, 1<<16)
	v.Range("Live.AudioBufferSize", cfg.Live.AudioBufferSize, 1, 1<<16)

	if cfg.HLS.Enabled {
		v.PositiveDuration("HLS.SegmentDuration", cfg.HLS.SegmentDuration)
		v.Range("HLS.PlaylistSize", cfg.HLS.PlaylistSize, 1, 100)
		if cfg.HLS.StorageSegments < cfg.HLS.PlaylistSize {
			v.AddError("HLS.StorageSegments", "must be at least HLS.PlaylistSize", cfg.HLS.StorageSegments)
		}
		v.Positive("HLS.MaxSessions", cfg.HLS.MaxSessions)
		if cfg.HLS.LowLatency {
			v.PositiveDuration("HLS.PartDuration", cfg.HLS.PartDuration)
			v.DurationOrder("HLS.PartDuration", cfg.HLS.PartDuration, "HLS.SegmentDuration", cfg.HLS.SegmentDuration)
		}
	}

	if cfg.MSE.Enabled {
		v.PositiveDuration("MSE.SegmentDuration", cfg.MSE.SegmentDuration)
		v.Range("MSE.BufferSize", cfg.MSE.BufferSize, 1, 1024)
		v.Positive("MSE.MaxSessions", cfg.MSE.MaxSessions)
		v.PositiveDuration("MSE.PingInterval", cfg.MSE.PingInterval)
	}

	if cfg.WebRTC.Enabled {
		v.Positive("WebRTC.MaxSessions", cfg.WebRTC.MaxSessions)
		v.PositiveDuration("WebRTC.StaleSessionAge", cfg.WebRTC.StaleSessionAge)
		v.PositiveDuration("WebRTC.GatheringTimeout", cfg.WebRTC.GatheringTimeout)
		for i, s := range cfg.WebRTC.ICEServers {
			if !strings.HasPrefix(s, "stun:") && !strings.HasPrefix(s, "turn:") && !strings.HasPrefix(s, "turns:") {
				v.AddError(fmt.Sprintf("WebRTC.ICEServers[%d]", i), "must be a stun:, turn: or turns: URL", s)
			}
		}
	}

	v.AbsPath("Database.Path", cfg.Database.Path)
	if cfg.Database.StatsInterval > 0 {
		v.PositiveDuration("Database.StatsRetention", cfg.Database.StatsRetention)
	}

	if cfg.Metrics.Enabled {
		v.NotEmpty("Metrics.ListenAddr", cfg.Metrics.ListenAddr)
	}

	if cfg.Telemetry.Enabled {
		v.OneOf("Telemetry.ExporterType", cfg.Telemetry.ExporterType, exporterTypes)
		v.NotEmpty("Telemetry.Endpoint", cfg.Telemetry.Endpoint)
		if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
			v.AddError("Telemetry.SamplingRate", "must be between 0 and 1", cfg.Telemetry.SamplingRate)
		}
	}

	v.OneOf("Log.Level", strings.ToLower(cfg.Log.Level), logLevels)

	return v.Err()
}
