// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

const (
	defaultReadTimeout     = 60 * time.Second
	defaultWriteTimeout    = 0 // 0 = no timeout (crucial for streaming)
	defaultIdleTimeout     = 120 * time.Second
	defaultMaxHeaderBytes  = 1 << 20 // 1 MB
	defaultShutdownTimeout = 15 * time.Second

	// DefaultSocketPath is where the legacy control socket lives.
	DefaultSocketPath = "/run/zm/zmdc.sock"
)

// Default returns the built-in configuration.
func Default() AppConfig {
	return AppConfig{
		Server: ServerSettings{
			ListenAddr:      ":8080",
			ReadTimeout:     defaultReadTimeout,
			WriteTimeout:    defaultWriteTimeout,
			IdleTimeout:     defaultIdleTimeout,
			MaxHeaderBytes:  defaultMaxHeaderBytes,
			ShutdownTimeout: defaultShutdownTimeout,
			RateLimit:       600,
		},
		Control: ControlSettings{
			SocketPath:     DefaultSocketPath,
			MaxConnections: 32,
			ReadTimeout:    5 * time.Second,
		},
		Supervisor: SupervisorSettings{
			MinBackoff:      5 * time.Second,
			MaxBackoff:      900 * time.Second,
			MaxHangDelay:    60 * time.Second,
			HealthInterval:  5 * time.Second,
			StartupDelay:    5 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			DBProbeTimeout:  30 * time.Second,
			PIDFile:         "/run/zm/zmdc.pid",
		},
		Paths: PathSettings{
			BinDir:    "/usr/bin",
			ScriptDir: "/usr/bin",
			EventsDir: "/var/cache/zoneminder/events",
			RunDir:    "/run/zm",
		},
		FIFO: FIFOSettings{
			Dir:            "/run/zm",
			MaxOpenRetries: 30,
			RetryInterval:  time.Second,
			ReadBufferSize: 64 * 1024,
		},
		Live: LiveSettings{
			StartupTimeout:  15 * time.Second,
			VideoBufferSize: 512,
			AudioBufferSize: 128,
		},
		HLS: HLSSettings{
			Enabled:            true,
			SegmentDuration:    2 * time.Second,
			PlaylistSize:       6,
			StorageSegments:    12,
			MaxSessions:        64,
			PartDuration:       500 * time.Millisecond,
			SessionIdleTimeout: time.Minute,
		},
		MSE: MSESettings{
			Enabled:         true,
			SegmentDuration: 500 * time.Millisecond,
			BufferSize:      32,
			MaxSessions:     64,
			PingInterval:    30 * time.Second,
			WriteTimeout:    10 * time.Second,
		},
		WebRTC: WebRTCSettings{
			Enabled:          true,
			ICEServers:       []string{"stun:stun.l.google.com:19302"},
			MaxSessions:      32,
			StaleSessionAge:  5 * time.Minute,
			CleanupInterval:  time.Minute,
			GatheringTimeout: 10 * time.Second,
		},
		Database: DatabaseSettings{
			BusyTimeout:    5 * time.Second,
			StatsInterval:  time.Minute,
			StatsRetention: 24 * time.Hour,
		},
		Metrics: MetricsSettings{
			Enabled:    true,
			ListenAddr: ":9108",
		},
		Telemetry: TelemetrySettings{
			ServiceName:  "zmdc",
			ExporterType: "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
		Log: LogSettings{
			Level:   "info",
			Service: "zmdc",
		},
	}
}
