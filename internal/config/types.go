// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// AppConfig is the root configuration of the zmdc daemon.
type AppConfig struct {
	Version string `yaml:"-"`

	Server     ServerSettings     `yaml:"server"`
	Control    ControlSettings    `yaml:"control"`
	Supervisor SupervisorSettings `yaml:"supervisor"`
	Paths      PathSettings       `yaml:"paths"`
	FIFO       FIFOSettings       `yaml:"fifo"`
	Live       LiveSettings       `yaml:"live"`
	HLS        HLSSettings        `yaml:"hls"`
	MSE        MSESettings        `yaml:"mse"`
	WebRTC     WebRTCSettings     `yaml:"webrtc"`
	Database   DatabaseSettings   `yaml:"database"`
	Metrics    MetricsSettings    `yaml:"metrics"`
	Telemetry  TelemetrySettings  `yaml:"telemetry"`
	Log        LogSettings        `yaml:"log"`
}

// ServerSettings configures the structured API listener.
type ServerSettings struct {
	ListenAddr      string        `yaml:"listenAddr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	MaxHeaderBytes  int           `yaml:"maxHeaderBytes"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// RateLimit is the per-client request budget per minute. 0 disables limiting.
	RateLimit       int           `yaml:"rateLimit"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
	// TrustedProxies lists CIDRs whose X-Forwarded-For is honoured.
	TrustedProxies  []string      `yaml:"trustedProxies"`
}

// ControlSettings configures the local control socket.
type ControlSettings struct {
	SocketPath     string        `yaml:"socketPath"`
	MaxConnections int           `yaml:"maxConnections"`
	ReadTimeout    time.Duration `yaml:"readTimeout"`
}

// SupervisorSettings tunes process supervision.
type SupervisorSettings struct {
	MinBackoff      time.Duration `yaml:"minBackoff"`
	MaxBackoff      time.Duration `yaml:"maxBackoff"`
	MaxHangDelay    time.Duration `yaml:"maxHangDelay"`
	HealthInterval  time.Duration `yaml:"healthInterval"`
	StartupDelay    time.Duration `yaml:"startupDelay"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	DBProbeTimeout  time.Duration `yaml:"dbProbeTimeout"`
	PIDFile         string        `yaml:"pidFile"`
	// Daemons lists extra daemon ids started on startup, e.g. "zmc -m 1".
	Daemons []string `yaml:"daemons"`
}

// PathSettings locates executables and the event store.
type PathSettings struct {
	BinDir    string `yaml:"binDir"`
	ScriptDir string `yaml:"scriptDir"`
	EventsDir string `yaml:"eventsDir"`
	RunDir    string `yaml:"runDir"`
}

// FIFOSettings configures the named-pipe readers.
type FIFOSettings struct {
	Dir            string        `yaml:"dir"`
	MaxOpenRetries int           `yaml:"maxOpenRetries"`
	RetryInterval  time.Duration `yaml:"retryInterval"`
	ReadBufferSize int           `yaml:"readBufferSize"`
	// Monitors is a static monitor table used when no database is configured.
	Monitors []StaticMonitor `yaml:"monitors"`
}

// StaticMonitor describes one monitor without a database.
type StaticMonitor struct {
	ID       uint32 `yaml:"id"`
	Codec    string `yaml:"codec"`
	FIFOPath string `yaml:"fifoPath"`
	Enabled  *bool  `yaml:"enabled"`
}

// LiveSettings configures the live coordinator and per-monitor broadcast.
type LiveSettings struct {
	StartupTimeout  time.Duration `yaml:"startupTimeout"`
	VideoBufferSize int           `yaml:"videoBufferSize"`
	AudioBufferSize int           `yaml:"audioBufferSize"`
}

// HLSSettings configures HLS packaging.
type HLSSettings struct {
	Enabled         bool          `yaml:"enabled"`
	SegmentDuration time.Duration `yaml:"segmentDuration"`
	PlaylistSize    int           `yaml:"playlistSize"`
	StorageSegments int           `yaml:"storageSegments"`
	MaxSessions     int           `yaml:"maxSessions"`
	LowLatency      bool          `yaml:"lowLatency"`
	PartDuration    time.Duration `yaml:"partDuration"`

	// SessionIdleTimeout drops viewer sessions that stopped fetching.
	SessionIdleTimeout time.Duration `yaml:"sessionIdleTimeout"`
}

// MSESettings configures MSE fragment delivery.
type MSESettings struct {
	Enabled         bool          `yaml:"enabled"`
	SegmentDuration time.Duration `yaml:"segmentDuration"`
	BufferSize      int           `yaml:"bufferSize"`
	MaxSessions     int           `yaml:"maxSessions"`
	PingInterval    time.Duration `yaml:"pingInterval"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
}

// WebRTCSettings configures the WebRTC sender.
type WebRTCSettings struct {
	Enabled          bool          `yaml:"enabled"`
	ICEServers       []string      `yaml:"iceServers"`
	MaxSessions      int           `yaml:"maxSessions"`
	StaleSessionAge  time.Duration `yaml:"staleSessionAge"`
	CleanupInterval  time.Duration `yaml:"cleanupInterval"`
	GatheringTimeout time.Duration `yaml:"gatheringTimeout"`
}

// DatabaseSettings configures the optional SQLite store. An empty path disables it.
type DatabaseSettings struct {
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busyTimeout"`

	// StatsInterval is how often host stats are written to Server_Stats.
	// 0 disables recording.
	StatsInterval  time.Duration `yaml:"statsInterval"`
	StatsRetention time.Duration `yaml:"statsRetention"`
}

// MetricsSettings configures the Prometheus listener.
type MetricsSettings struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listenAddr"`
}

// TelemetrySettings configures OpenTelemetry tracing.
type TelemetrySettings struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"serviceName"`
	ExporterType string  `yaml:"exporterType"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// LogSettings configures zerolog.
type LogSettings struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
}
