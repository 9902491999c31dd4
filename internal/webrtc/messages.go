// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package webrtc

import (
	"errors"

	"github.com/ManuGH/zmlive/internal/session"
)

// Signaling message types.
const (
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice_candidate"
	TypeHangup       = "hangup"
	TypeGetStats     = "get_stats"
	TypeConnected    = "connected"
	TypeDisconnected = "disconnected"
	TypeError        = "error"
	TypeStats        = "stats"
)

// ErrorCode is a wire-stable signaling error code.
type ErrorCode string

const (
	CodeInvalidMessage  ErrorCode = "INVALID_MESSAGE"
	CodeSessionNotFound ErrorCode = "SESSION_NOT_FOUND"
	CodeMonitorNotFound ErrorCode = "MONITOR_NOT_FOUND"
	CodeUnauthorized    ErrorCode = "UNAUTHORIZED"
	CodeMaxSessions     ErrorCode = "MAX_SESSIONS"
	CodeInternalError   ErrorCode = "INTERNAL_ERROR"
	CodeICEFailed       ErrorCode = "ICE_FAILED"
)

var (
	ErrInvalidMessage  = errors.New("invalid signaling message")
	ErrMonitorNotFound = errors.New("monitor not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrIceFailed       = errors.New("ice candidate rejected")
)

// Message is one signaling message in either direction. Fields not used by
// a type are omitted.
type Message struct {
	Type          string     `json:"type"`
	SessionID     string     `json:"session_id,omitempty"`
	MonitorID     uint32     `json:"monitor_id,omitempty"`
	SDP           string     `json:"sdp,omitempty"`
	Candidate     string     `json:"candidate,omitempty"`
	SDPMid        *string    `json:"sdp_mid,omitempty"`
	SDPMLineIndex *uint16    `json:"sdp_mline_index,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	Code          ErrorCode  `json:"code,omitempty"`
	Message       string     `json:"message,omitempty"`
	Stats         *PeerStats `json:"stats,omitempty"`
}

// PeerStats summarizes one peer.
type PeerStats struct {
	State           string  `json:"state"`
	ConnectionState string  `json:"connection_state"`
	Codec           string  `json:"codec"`
	Samples         uint64  `json:"samples"`
	Bytes           uint64  `json:"bytes"`
	Keyframes       uint64  `json:"keyframes"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// CodeFor maps an error to its wire code.
func CodeFor(err error) ErrorCode {
	switch {
	case errors.Is(err, ErrInvalidMessage):
		return CodeInvalidMessage
	case errors.Is(err, session.ErrSessionNotFound):
		return CodeSessionNotFound
	case errors.Is(err, ErrMonitorNotFound):
		return CodeMonitorNotFound
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, session.ErrMaxSessions):
		return CodeMaxSessions
	case errors.Is(err, ErrIceFailed):
		return CodeICEFailed
	}
	return CodeInternalError
}

func errorMessage(sessionID string, err error) Message {
	return Message{Type: TypeError, SessionID: sessionID, Code: CodeFor(err), Message: err.Error()}
}
