// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package webrtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ManuGH/zmlive/internal/api/problem"
	"github.com/ManuGH/zmlive/internal/session"
)

const (
	signalWriteTimeout = 10 * time.Second
	maxSignalMessage   = 64 * 1024
)

// Signaling serves the WebSocket and REST signaling endpoints of a Manager.
type Signaling struct {
	m        *Manager
	origins  []string
	upgrader websocket.Upgrader
}

// NewSignaling wraps m. Empty origins allow any origin.
func NewSignaling(m *Manager, origins []string) *Signaling {
	s := &Signaling{m: m, origins: origins}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Signaling) checkOrigin(r *http.Request) bool {
	if len(s.origins) == 0 || slices.Contains(s.origins, "*") {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(s.origins, origin)
}

// Routes mounts the signaling endpoints. The parent router may provide a
// "monitorID" URL parameter used when an offer names no monitor.
func (s *Signaling) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", s.ServeWS)
	r.Post("/offer", s.HandleOffer)
	r.Get("/sessions", s.HandleSessions)
	r.Get("/sessions/{sessionID}", s.HandleStats)
	r.Delete("/sessions/{sessionID}", s.HandleHangup)
	return r
}

// signalConn serializes writes to one signaling socket and remembers the
// sessions it opened.
type signalConn struct {
	conn *websocket.Conn

	wmu sync.Mutex

	mu       sync.Mutex
	sessions []string
}

func (c *signalConn) send(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(signalWriteTimeout))
	_ = c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *signalConn) own(id string) {
	c.mu.Lock()
	c.sessions = append(c.sessions, id)
	c.mu.Unlock()
}

func (c *signalConn) owned() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.sessions)
}

// ServeWS upgrades to a signaling socket. Malformed messages are answered
// with an error and the socket stays open. Sessions opened on the socket
// are hung up when it closes.
func (s *Signaling) ServeWS(w http.ResponseWriter, r *http.Request) {
	defaultMonitor, hasDefault := urlMonitor(r)
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.m.logger.Debug().Err(err).Msg("signaling upgrade failed")
		return
	}
	defer ws.Close()
	ws.SetReadLimit(maxSignalMessage)

	c := &signalConn{conn: ws}
	defer func() {
		for _, id := range c.owned() {
			_ = s.m.Hangup(id)
		}
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.m.logger.Debug().Err(err).Msg("signaling socket closed")
			}
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			c.send(errorMessage("", fmt.Errorf("%w: malformed json", ErrInvalidMessage)))
			continue
		}
		if msg.MonitorID == 0 && hasDefault {
			msg.MonitorID = defaultMonitor
		}
		s.dispatch(r, c, msg)
	}
}

func (s *Signaling) dispatch(r *http.Request, c *signalConn, msg Message) {
	switch msg.Type {
	case TypeOffer:
		peer, answer, err := s.m.Offer(r.Context(), msg.MonitorID, msg.SDP, c.send)
		if err != nil {
			c.send(errorMessage("", err))
			return
		}
		c.own(peer.ID())
		c.send(Message{Type: TypeConnected, SessionID: peer.ID(), MonitorID: peer.MonitorID()})
		c.send(Message{Type: TypeAnswer, SessionID: peer.ID(), SDP: answer})
	case TypeAnswer:
		if err := s.m.Answer(msg.SessionID, msg.SDP); err != nil {
			c.send(errorMessage(msg.SessionID, err))
		}
	case TypeICECandidate:
		if err := s.m.AddICECandidate(msg.SessionID, msg.Candidate, msg.SDPMid, msg.SDPMLineIndex); err != nil {
			c.send(errorMessage(msg.SessionID, err))
		}
	case TypeHangup:
		if err := s.m.Hangup(msg.SessionID); err != nil {
			c.send(errorMessage(msg.SessionID, err))
		}
	case TypeGetStats:
		st, err := s.m.Stats(msg.SessionID)
		if err != nil {
			c.send(errorMessage(msg.SessionID, err))
			return
		}
		c.send(Message{Type: TypeStats, SessionID: msg.SessionID, Stats: &st})
	default:
		c.send(errorMessage(msg.SessionID, fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, msg.Type)))
	}
}

func urlMonitor(r *http.Request) (uint32, bool) {
	raw := chi.URLParam(r, "monitorID")
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(id), true
}

// OfferRequest is the REST offer body.
type OfferRequest struct {
	MonitorID uint32 `json:"monitor_id,omitempty"`
	SDP       string `json:"sdp"`
}

// OfferResponse carries the answer for a REST offer.
type OfferResponse struct {
	SessionID string `json:"session_id"`
	SDP       string `json:"sdp"`
}

// HandleOffer answers a REST offer.
func (s *Signaling) HandleOffer(w http.ResponseWriter, r *http.Request) {
	var req OfferRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSignalMessage)).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", ErrInvalidMessage, err))
		return
	}
	if id, ok := urlMonitor(r); ok && req.MonitorID == 0 {
		req.MonitorID = id
	}
	peer, answer, err := s.m.Offer(r.Context(), req.MonitorID, req.SDP, nil)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, OfferResponse{SessionID: peer.ID(), SDP: answer})
}

// HandleSessions lists WebRTC sessions.
func (s *Signaling) HandleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.m.Sessions())
}

// HandleStats returns the stats of one session.
func (s *Signaling) HandleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.m.Stats(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleHangup ends one session.
func (s *Signaling) HandleHangup(w http.ResponseWriter, r *http.Request) {
	if err := s.m.Hangup(chi.URLParam(r, "sessionID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := CodeFor(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrInvalidMessage), errors.Is(err, ErrIceFailed):
		status = http.StatusBadRequest
	case errors.Is(err, ErrMonitorNotFound), errors.Is(err, session.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, session.ErrMaxSessions):
		status = http.StatusTooManyRequests
	}
	problem.Write(w, r, status, "webrtc/"+string(code), http.StatusText(status), string(code), err.Error(), nil)
}
