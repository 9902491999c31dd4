// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/zmlive/internal/log"
	"github.com/rs/zerolog"
)

// ParseString reads a string from environment variable or returns default value.
// It logs the source (environment or default) for observability.
func ParseString(key, defaultValue string) string {
	return parseStringWithLogger(log.WithComponent("config"), key, defaultValue)
}

func parseStringWithLogger(logger zerolog.Logger, key, defaultValue string) string {
	value, exists := os.LookupEnv(key)
	if !exists {
		logger.Debug().Str("key", key).Str("default", defaultValue).Str("source", "default").Msg("using default value")
		return defaultValue
	}
	lowerKey := strings.ToLower(key)
	switch {
	case value == "":
		logger.Debug().Str("key", key).Str("default", defaultValue).Str("source", "default").
			Msg("using default value (environment variable is empty)")
		return defaultValue
	case strings.Contains(lowerKey, "token") || strings.Contains(lowerKey, "password"):
		logger.Debug().Str("key", key).Str("source", "environment").Bool("sensitive", true).
			Msg("using environment variable")
	default:
		logger.Debug().Str("key", key).Str("value", value).Str("source", "environment").
			Msg("using environment variable")
	}
	return value
}

// ParseInt reads an integer from environment variable or returns default value.
// It validates the input and falls back to default on parse errors.
func ParseInt(key string, defaultValue int) int {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Int("default", defaultValue).
			Msg("invalid integer in environment variable, using default")
		return defaultValue
	}
	logger.Debug().Str("key", key).Int("value", i).Str("source", "environment").Msg("using environment variable")
	return i
}

// ParseFloat reads a float64 from environment variable or returns default value.
func ParseFloat(key string, defaultValue float64) float64 {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Float64("default", defaultValue).
			Msg("invalid float in environment variable, using default")
		return defaultValue
	}
	logger.Debug().Str("key", key).Float64("value", f).Str("source", "environment").Msg("using environment variable")
	return f
}

// ParseDuration reads a duration from environment variable in Go duration format (e.g. "5s").
// It falls back to default on parse errors or empty variables and logs the choice.
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Dur("default", defaultValue).
			Msg("invalid duration in environment variable, using default")
		return defaultValue
	}
	logger.Debug().Str("key", key).Dur("value", d).Str("source", "environment").Msg("using environment variable")
	return d
}

// ParseBool reads a boolean from environment variable or returns default value.
// It accepts "true", "false", "1", "0", "yes", "no" (case-insensitive).
func ParseBool(key string, defaultValue bool) bool {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		logger.Warn().Str("key", key).Str("value", v).Bool("default", defaultValue).
			Msg("invalid boolean in environment variable, using default")
		return defaultValue
	}
}

// ParseStringList reads a comma separated list. Blank items are dropped.
func ParseStringList(key string, defaultValue []string) []string {
	raw := ParseString(key, "")
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// mergeEnv applies ZM_* overrides on top of cfg.
func (l *Loader) mergeEnv(cfg *AppConfig) {
	cfg.Server.ListenAddr = l.envString("ZM_LISTEN", cfg.Server.ListenAddr)
	cfg.Server.ReadTimeout = l.envDuration("ZM_SERVER_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = l.envDuration("ZM_SERVER_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	cfg.Server.IdleTimeout = l.envDuration("ZM_SERVER_IDLE_TIMEOUT", cfg.Server.IdleTimeout)
	cfg.Server.ShutdownTimeout = l.envDuration("ZM_SERVER_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)
	cfg.Server.RateLimit = l.envInt("ZM_RATE_LIMIT", cfg.Server.RateLimit)
	cfg.Server.AllowedOrigins = l.envList("ZM_ALLOWED_ORIGINS", cfg.Server.AllowedOrigins)
	cfg.Server.TrustedProxies = l.envList("ZM_TRUSTED_PROXIES", cfg.Server.TrustedProxies)

	cfg.Control.SocketPath = l.envString("ZM_CONTROL_SOCKET", cfg.Control.SocketPath)
	cfg.Control.MaxConnections = l.envInt("ZM_CONTROL_MAX_CONNECTIONS", cfg.Control.MaxConnections)

	cfg.Supervisor.MinBackoff = l.envDuration("ZM_MIN_BACKOFF", cfg.Supervisor.MinBackoff)
	cfg.Supervisor.MaxBackoff = l.envDuration("ZM_MAX_BACKOFF", cfg.Supervisor.MaxBackoff)
	cfg.Supervisor.MaxHangDelay = l.envDuration("ZM_MAX_HANG_DELAY", cfg.Supervisor.MaxHangDelay)
	cfg.Supervisor.HealthInterval = l.envDuration("ZM_HEALTH_INTERVAL", cfg.Supervisor.HealthInterval)
	cfg.Supervisor.StartupDelay = l.envDuration("ZM_STARTUP_DELAY", cfg.Supervisor.StartupDelay)
	cfg.Supervisor.ShutdownTimeout = l.envDuration("ZM_SHUTDOWN_TIMEOUT", cfg.Supervisor.ShutdownTimeout)
	cfg.Supervisor.PIDFile = l.envString("ZM_PID_FILE", cfg.Supervisor.PIDFile)
	cfg.Supervisor.Daemons = l.envList("ZM_DAEMONS", cfg.Supervisor.Daemons)

	cfg.Paths.BinDir = l.envString("ZM_PATH_BIN", cfg.Paths.BinDir)
	cfg.Paths.ScriptDir = l.envString("ZM_PATH_SCRIPTS", cfg.Paths.ScriptDir)
	cfg.Paths.EventsDir = l.envString("ZM_DIR_EVENTS", cfg.Paths.EventsDir)
	cfg.Paths.RunDir = l.envString("ZM_PATH_RUN", cfg.Paths.RunDir)

	cfg.FIFO.Dir = l.envString("ZM_FIFO_DIR", cfg.FIFO.Dir)
	cfg.FIFO.MaxOpenRetries = l.envInt("ZM_FIFO_MAX_OPEN_RETRIES", cfg.FIFO.MaxOpenRetries)
	cfg.FIFO.RetryInterval = l.envDuration("ZM_FIFO_RETRY_INTERVAL", cfg.FIFO.RetryInterval)

	cfg.Live.StartupTimeout = l.envDuration("ZM_LIVE_STARTUP_TIMEOUT", cfg.Live.StartupTimeout)

	cfg.HLS.Enabled = l.envBool("ZM_HLS_ENABLED", cfg.HLS.Enabled)
	cfg.HLS.SegmentDuration = l.envDuration("ZM_HLS_SEGMENT_DURATION", cfg.HLS.SegmentDuration)
	cfg.HLS.PlaylistSize = l.envInt("ZM_HLS_PLAYLIST_SIZE", cfg.HLS.PlaylistSize)
	cfg.HLS.MaxSessions = l.envInt("ZM_HLS_MAX_SESSIONS", cfg.HLS.MaxSessions)
	cfg.HLS.LowLatency = l.envBool("ZM_HLS_LOW_LATENCY", cfg.HLS.LowLatency)

	cfg.MSE.Enabled = l.envBool("ZM_MSE_ENABLED", cfg.MSE.Enabled)
	cfg.MSE.SegmentDuration = l.envDuration("ZM_MSE_SEGMENT_DURATION", cfg.MSE.SegmentDuration)
	cfg.MSE.MaxSessions = l.envInt("ZM_MSE_MAX_SESSIONS", cfg.MSE.MaxSessions)

	cfg.WebRTC.Enabled = l.envBool("ZM_WEBRTC_ENABLED", cfg.WebRTC.Enabled)
	cfg.WebRTC.ICEServers = l.envList("ZM_WEBRTC_ICE_SERVERS", cfg.WebRTC.ICEServers)
	cfg.WebRTC.MaxSessions = l.envInt("ZM_WEBRTC_MAX_SESSIONS", cfg.WebRTC.MaxSessions)
	cfg.WebRTC.StaleSessionAge = l.envDuration("ZM_WEBRTC_STALE_SESSION_AGE", cfg.WebRTC.StaleSessionAge)

	cfg.Database.Path = l.envString("ZM_DB_PATH", cfg.Database.Path)
	cfg.Database.StatsInterval = l.envDuration("ZM_DB_STATS_INTERVAL", cfg.Database.StatsInterval)

	cfg.Metrics.Enabled = l.envBool("ZM_METRICS_ENABLED", cfg.Metrics.Enabled)
	cfg.Metrics.ListenAddr = l.envString("ZM_METRICS_LISTEN", cfg.Metrics.ListenAddr)

	cfg.Telemetry.Enabled = l.envBool("ZM_TELEMETRY_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.ExporterType = l.envString("ZM_TELEMETRY_EXPORTER", cfg.Telemetry.ExporterType)
	cfg.Telemetry.Endpoint = l.envString("ZM_TELEMETRY_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = l.envFloat("ZM_TELEMETRY_SAMPLING_RATE", cfg.Telemetry.SamplingRate)

	cfg.Log.Level = l.envString("ZM_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Service = l.envString("ZM_LOG_SERVICE", cfg.Log.Service)
}
