// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package mse

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ManuGH/zmlive/internal/log"
	"github.com/ManuGH/zmlive/internal/media/fmp4"
	"github.com/ManuGH/zmlive/internal/metrics"
	"github.com/ManuGH/zmlive/internal/session"
	"github.com/ManuGH/zmlive/internal/source"
)

// Close reasons sent to the browser.
const (
	ReasonLagged         = "lagged"
	ReasonMonitorStopped = "monitor stopped"
	ReasonShutdown       = "shutdown"
)

// InitMessage is the text frame sent ahead of the binary init segment so the
// client can create its SourceBuffer.
type InitMessage struct {
	Type   string `json:"type"`
	Mime   string `json:"mime"`
	Codec  string `json:"codec"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// frame is one queued WebSocket message.
type frame struct {
	text bool
	data []byte
}

// wsWriter is the write side of a WebSocket connection.
type wsWriter interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Session is one browser consuming fMP4 fragments over a WebSocket.
// Each session packages the stream itself so it always starts with an init
// segment followed by a keyframe.
type Session struct {
	rec          *session.Session
	logger       zerolog.Logger
	writeTimeout time.Duration
	pingInterval time.Duration

	segmentDuration time.Duration

	mu  sync.Mutex
	seg *fmp4.Segmenter

	queue *source.Broadcast[frame]
	sub   *source.Subscription[frame]

	closeOnce sync.Once
	reason    string
	done      chan struct{}
}

func newSession(rec *session.Session, cfg sessionConfig, logger zerolog.Logger) *Session {
	q := source.NewBroadcast[frame](cfg.bufferSize)
	s := &Session{
		rec:             rec,
		logger:          logger.With().Str(log.FieldSessionID, rec.ID).Uint32(log.FieldMonitorID, rec.MonitorID).Logger(),
		writeTimeout:    cfg.writeTimeout,
		pingInterval:    cfg.pingInterval,
		segmentDuration: cfg.segmentDuration,
		queue:           q,
		sub:             q.Subscribe(),
		done:            make(chan struct{}),
	}
	q.OnLag(func(dropped uint64) { metrics.AddSessionLagged(session.ProtocolMSE, dropped) })
	return s
}

type sessionConfig struct {
	segmentDuration time.Duration
	bufferSize      int
	writeTimeout    time.Duration
	pingInterval    time.Duration
}

// ID returns the session id.
func (s *Session) ID() string { return s.rec.ID }

// MonitorID returns the monitor the session watches.
func (s *Session) MonitorID() uint32 { return s.rec.MonitorID }

// Info returns the registry snapshot.
func (s *Session) Info() session.Info { return s.rec.Info() }

// push packages one packet and queues what it produced. It never blocks.
func (s *Session) push(p source.Packet) {
	s.mu.Lock()
	out := s.segmenter(p).Push(p.Data, p.TimestampUs, p.Keyframe)
	s.mu.Unlock()
	s.rec.AddPacket(len(p.Data))
	s.publish(out)
}

// prime feeds a cached parameter set to the segmenter.
func (s *Session) prime(p source.Packet) {
	s.mu.Lock()
	out := s.segmenter(p).Prime(p.Data)
	s.mu.Unlock()
	s.publish(out)
}

// segmenter returns the session segmenter, creating it for the codec of p.
// Caller holds s.mu.
func (s *Session) segmenter(p source.Packet) *fmp4.Segmenter {
	if s.seg == nil {
		s.seg = fmp4.NewSegmenter(fmp4.SegmenterConfig{Codec: p.Codec, TargetDuration: s.segmentDuration})
	}
	return s.seg
}

func (s *Session) publish(out fmp4.Output) {
	if out.Empty() {
		return
	}
	if out.Init != nil {
		msg, _ := json.Marshal(InitMessage{
			Type:   "init",
			Mime:   out.Init.MimeType(),
			Codec:  out.Init.CodecTag,
			Width:  out.Init.Width,
			Height: out.Init.Height,
		})
		s.queue.Publish(frame{text: true, data: msg})
		s.queue.Publish(frame{data: out.Init.Data})
		s.rec.SetState(session.Active)
	}
	for _, seg := range out.Segments {
		s.queue.Publish(frame{data: seg.Data})
		s.rec.AddSegment(len(seg.Data))
		metrics.ObserveSegment(session.ProtocolMSE, len(seg.Data))
	}
}

// close ends the session with reason. The write pump sends the close frame.
func (s *Session) close(reason string) {
	s.closeOnce.Do(func() {
		s.reason = reason
		close(s.done)
	})
}

// Done is closed once the session is ending.
func (s *Session) Done() <-chan struct{} { return s.done }

// writePump is the only writer of the connection. A subscriber that fell
// behind is disconnected with a policy violation so the client reconnects
// and starts over from a fresh init segment.
func (s *Session) writePump(conn wsWriter) {
	ticker := time.NewTicker(s.pingInterval)
	defer func() {
		ticker.Stop()
		s.sub.Close()
		s.queue.Close()
	}()

	for {
		select {
		case f, ok := <-s.sub.C():
			if !ok {
				s.sendClose(conn, websocket.CloseNormalClosure, ReasonMonitorStopped)
				return
			}
			if n := s.sub.TakeLagged(); n > 0 {
				s.logger.Warn().Uint64("dropped", n).Msg("mse client lagged, disconnecting")
				s.close(ReasonLagged)
				s.sendClose(conn, websocket.ClosePolicyViolation, ReasonLagged)
				return
			}
			msgType := websocket.BinaryMessage
			if f.text {
				msgType = websocket.TextMessage
			}
			_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.WriteMessage(msgType, f.data); err != nil {
				s.logger.Debug().Err(err).Msg("mse write failed")
				s.close("write failed")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close("ping failed")
				return
			}
		case <-s.done:
			code := websocket.CloseNormalClosure
			if s.reason == ReasonLagged {
				code = websocket.ClosePolicyViolation
			}
			s.sendClose(conn, code, s.reason)
			return
		}
	}
}

func (s *Session) sendClose(conn wsWriter, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.writeTimeout))
}

// readPump drains client frames so control messages are processed. It
// returns when the connection fails or the client closes it.
func (s *Session) readPump(conn *websocket.Conn) {
	pongWait := 2 * s.pingInterval
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		s.rec.Touch()
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Debug().Err(err).Msg("mse read failed")
			}
			s.close("client closed")
			return
		}
		s.rec.Touch()
	}
}
