// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"

	DaemonIDKey  = "daemon.id"
	DaemonPIDKey = "daemon.pid"

	MonitorIDKey = "live.monitor_id"
	ProtocolKey  = "live.protocol"
	SessionIDKey = "live.session_id"

	ControlCommandKey = "control.command"
	ControlFormatKey  = "control.format"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// DaemonAttributes describes a supervised process. pid <= 0 is omitted.
func DaemonAttributes(id string, pid int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(DaemonIDKey, id)}
	if pid > 0 {
		attrs = append(attrs, attribute.Int(DaemonPIDKey, pid))
	}
	return attrs
}

// LiveAttributes describes a live session. Empty fields are omitted.
func LiveAttributes(monitorID uint32, protocol, sessionID string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	attrs = append(attrs, attribute.Int64(MonitorIDKey, int64(monitorID)))
	if protocol != "" {
		attrs = append(attrs, attribute.String(ProtocolKey, protocol))
	}
	if sessionID != "" {
		attrs = append(attrs, attribute.String(SessionIDKey, sessionID))
	}
	return attrs
}

// ControlAttributes describes a control socket command.
func ControlAttributes(command, format string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(ControlCommandKey, command),
		attribute.String(ControlFormatKey, format),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
