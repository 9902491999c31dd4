// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package session tracks per-viewer protocol sessions (HLS, MSE, WebRTC)
// and the goroutines that serve them.
package session

import "errors"

// State is the client-visible lifecycle of a viewer session.
type State string

const (
	Pending  State = "PENDING"
	Starting State = "STARTING"
	Active   State = "ACTIVE"
	Stopping State = "STOPPING"
	Stopped  State = "STOPPED"
	Failed   State = "FAILED"

	// Disconnected is a transport drop that may still recover.
	Disconnected State = "DISCONNECTED"
)

// IsTerminal returns true if the state is a final state.
// Disconnected is not terminal.
func (s State) IsTerminal() bool {
	return s == Stopped || s == Failed
}

// Protocol names used for registries and metric labels.
const (
	ProtocolHLS    = "hls"
	ProtocolMSE    = "mse"
	ProtocolWebRTC = "webrtc"
)

var (
	// ErrMaxSessions is returned when a protocol is at its session cap.
	ErrMaxSessions = errors.New("maximum sessions reached")
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
)
