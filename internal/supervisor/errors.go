// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import "errors"

var (
	// ErrDaemonNotFound is returned for ids whose command is not in the catalog.
	ErrDaemonNotFound = errors.New("daemon not found")
	// ErrAlreadyRunning marks a start on a running process. Callers treat it as success.
	ErrAlreadyRunning = errors.New("daemon already running")
	// ErrNotRunning is returned by stop and reload on a process that is not running.
	ErrNotRunning = errors.New("daemon not running")
	// ErrSpawnFailed wraps exec/fork failures. The process moves to Failed.
	ErrSpawnFailed = errors.New("daemon spawn failed")
	// ErrExecutableNotFound is returned when the command does not resolve. No state changes.
	ErrExecutableNotFound = errors.New("daemon executable not found")
	// ErrSignalUnsupported is returned when the platform cannot deliver the signal.
	ErrSignalUnsupported = errors.New("signal not supported on this platform")
	// ErrDatabaseUnavailable is returned when a requires_db daemon cannot reach the database.
	ErrDatabaseUnavailable = errors.New("database unavailable")
	// ErrSingletonConflict is returned when a singleton daemon already runs under another id.
	ErrSingletonConflict = errors.New("singleton daemon already running")
	// ErrInvalidTransition is returned for operations the current state does not accept.
	ErrInvalidTransition = errors.New("invalid state transition")
)
