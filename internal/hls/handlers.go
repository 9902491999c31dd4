// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package hls

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/zmlive/internal/api/problem"
	"github.com/ManuGH/zmlive/internal/playlist"
	"github.com/ManuGH/zmlive/internal/session"
)

const (
	ContentTypePlaylist = "application/vnd.apple.mpegurl"
	ContentTypeSegment  = "video/mp4"

	// SessionQuery carries the viewer session id on playlist URLs.
	SessionQuery = "sid"
)

// Routes returns the HLS endpoints. The parent router must provide the
// "monitorID" URL parameter.
func (m *Manager) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/master.m3u8", m.handleMaster)
	r.Get("/"+MediaURI, m.handleMedia)
	r.Get("/"+InitURI, m.handleInit)
	r.Get("/segment_{seq}.m4s", m.handleSegment)
	r.Get("/part_{seq}_{part}.m4s", m.handlePart)
	return r
}

func (m *Manager) handleMaster(w http.ResponseWriter, r *http.Request) {
	st, monitorID, ok := m.streamFor(w, r)
	if !ok {
		return
	}
	if _, err := st.Init(); err != nil {
		writeError(w, r, err)
		return
	}

	var sid string
	if s, found := m.Session(monitorID, r.URL.Query().Get(SessionQuery)); found {
		s.Touch()
		sid = s.ID
	} else {
		s, err := m.OpenSession(monitorID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		sid = s.ID
	}

	v, err := st.Variant(MediaURI + "?" + url.Values{SessionQuery: {sid}}.Encode())
	if err != nil {
		writeError(w, r, err)
		return
	}
	buf := &bytes.Buffer{}
	if err := playlist.WriteMaster(buf, []playlist.Variant{v}); err != nil {
		writeError(w, r, err)
		return
	}
	writePlaylistHeaders(w)
	_, _ = w.Write(buf.Bytes())
}

func (m *Manager) handleMedia(w http.ResponseWriter, r *http.Request) {
	st, monitorID, ok := m.streamFor(w, r)
	if !ok {
		return
	}
	if s, found := m.Session(monitorID, r.URL.Query().Get(SessionQuery)); found {
		s.Touch()
	}

	q := r.URL.Query()
	if raw := q.Get("_HLS_msn"); raw != "" {
		msn, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			badRequest(w, r, "invalid _HLS_msn")
			return
		}
		part := -1
		if rawPart := q.Get("_HLS_part"); rawPart != "" {
			if part, err = strconv.Atoi(rawPart); err != nil || part < 0 {
				badRequest(w, r, "invalid _HLS_part")
				return
			}
		}
		if !m.block(w, r, st, msn, part) {
			return
		}
	}

	media, err := st.MediaPlaylist()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writePlaylistHeaders(w)
	_, _ = media.WriteTo(w)
}

func (m *Manager) handleInit(w http.ResponseWriter, r *http.Request) {
	st, _, ok := m.streamFor(w, r)
	if !ok {
		return
	}
	initSeg, err := st.Init()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSegment(w, initSeg.Data, "public, max-age=3600")
}

func (m *Manager) handleSegment(w http.ResponseWriter, r *http.Request) {
	st, _, ok := m.streamFor(w, r)
	if !ok {
		return
	}
	seq, err := strconv.ParseUint(chi.URLParam(r, "seq"), 10, 64)
	if err != nil {
		badRequest(w, r, "invalid segment sequence")
		return
	}
	data, err := st.Segment(seq)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSegment(w, data, "public, max-age=60")
}

func (m *Manager) handlePart(w http.ResponseWriter, r *http.Request) {
	st, _, ok := m.streamFor(w, r)
	if !ok {
		return
	}
	seq, err := strconv.ParseUint(chi.URLParam(r, "seq"), 10, 64)
	if err != nil {
		badRequest(w, r, "invalid segment sequence")
		return
	}
	idx, err := strconv.Atoi(chi.URLParam(r, "part"))
	if err != nil || idx < 0 {
		badRequest(w, r, "invalid part index")
		return
	}
	// A preload hint names a part before it exists.
	if !m.block(w, r, st, seq, idx) {
		return
	}
	data, err := st.Part(seq, idx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSegment(w, data, "public, max-age=60")
}

// block waits for a blocking playlist reload or preload hint. It writes the
// error response and returns false when the wait fails.
func (m *Manager) block(w http.ResponseWriter, r *http.Request, st *Stream, msn uint64, part int) bool {
	ctx, cancel := context.WithTimeout(r.Context(), m.blockTimeout())
	defer cancel()
	if err := st.WaitFor(ctx, msn, part); err != nil {
		writeError(w, r, err)
		return false
	}
	return true
}

func (m *Manager) blockTimeout() time.Duration {
	target := m.cfg.SegmentDuration
	if target <= 0 {
		target = 2 * time.Second
	}
	return 3 * target
}

func (m *Manager) streamFor(w http.ResponseWriter, r *http.Request) (*Stream, uint32, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "monitorID"), 10, 32)
	if err != nil {
		badRequest(w, r, "invalid monitor id")
		return nil, 0, false
	}
	st, ok := m.Stream(uint32(id))
	if !ok {
		writeError(w, r, ErrStreamNotFound)
		return nil, 0, false
	}
	return st, uint32(id), true
}

func writePlaylistHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", ContentTypePlaylist)
	w.Header().Set("Cache-Control", "no-store")
}

func writeSegment(w http.ResponseWriter, data []byte, cacheControl string) {
	w.Header().Set("Content-Type", ContentTypeSegment)
	w.Header().Set("Cache-Control", cacheControl)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func badRequest(w http.ResponseWriter, r *http.Request, detail string) {
	problem.Write(w, r, http.StatusBadRequest, "hls/bad_request", "Bad Request", "BAD_REQUEST", detail, nil)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrStreamNotFound), errors.Is(err, ErrSegmentNotFound):
		problem.Write(w, r, http.StatusNotFound, "hls/not_found", "Not Found", "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, ErrNotReady), errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrStreamClosed):
		w.Header().Set("Retry-After", "1")
		problem.Write(w, r, http.StatusServiceUnavailable, "hls/unavailable", "Service Unavailable", "NOT_READY", err.Error(), nil)
	case errors.Is(err, ErrFutureRequest):
		problem.Write(w, r, http.StatusBadRequest, "hls/bad_request", "Bad Request", "FUTURE_SEQUENCE", err.Error(), nil)
	case errors.Is(err, session.ErrMaxSessions):
		problem.Write(w, r, http.StatusTooManyRequests, "hls/max_sessions", "Too Many Sessions", "MAX_SESSIONS", err.Error(), nil)
	case errors.Is(err, context.Canceled):
		// Client went away.
	default:
		problem.Write(w, r, http.StatusInternalServerError, "hls/internal", "Internal Server Error", "INTERNAL_ERROR", err.Error(), nil)
	}
}
