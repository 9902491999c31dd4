// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID     = "session_id"
	FieldCorrelationID = "correlation_id"
	FieldRequestID     = "request_id"
	FieldMonitorID     = "monitor_id"

	// Process / supervisor fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldDaemon    = "daemon"
	FieldPID       = "pid"
	FieldBackoff   = "backoff"
	FieldRestarts  = "restart_count"

	// Media / stream fields
	FieldCodec      = "codec"
	FieldResolution = "resolution"
	FieldProtocol   = "protocol"
	FieldSequence   = "sequence"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path fields
	FieldPath       = "path"
	FieldSocketPath = "socket_path"
	FieldFifoPath   = "fifo_path"
)
