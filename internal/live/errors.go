// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package live

import "errors"

var (
	// ErrSessionExists is returned when the monitor already has a live session.
	ErrSessionExists = errors.New("live session already exists")

	// ErrSessionNotFound is returned for a monitor without a live session.
	ErrSessionNotFound = errors.New("live session not found")

	// ErrServiceUnavailable is returned when an enabled protocol has no
	// manager configured.
	ErrServiceUnavailable = errors.New("protocol service unavailable")

	// ErrNoProtocol is returned for a config that enables nothing.
	ErrNoProtocol = errors.New("no protocol enabled")

	// ErrTimeout is recorded on sessions that saw no packet in time.
	ErrTimeout = errors.New("no video received before startup timeout")
)
