// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/zmlive/internal/config"
	"github.com/ManuGH/zmlive/internal/control"
	"github.com/ManuGH/zmlive/internal/health"
	"github.com/ManuGH/zmlive/internal/live"
	"github.com/ManuGH/zmlive/internal/session"
	"github.com/ManuGH/zmlive/internal/source"
	"github.com/ManuGH/zmlive/internal/supervisor"
	"github.com/ManuGH/zmlive/internal/sysstats"
)

type fakeSupervisor struct {
	mu      sync.Mutex
	running bool
	procs   map[string]supervisor.State
	extra   map[string][]string
}

func newFakeSupervisor(ids ...string) *fakeSupervisor {
	f := &fakeSupervisor{running: true, procs: map[string]supervisor.State{}, extra: map[string][]string{}}
	for _, id := range ids {
		f.procs[id] = supervisor.StateStopped
	}
	return f
}

func (f *fakeSupervisor) lookup(id string) (supervisor.State, error) {
	st, ok := f.procs[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", supervisor.ErrDaemonNotFound, id)
	}
	return st, nil
}

func (f *fakeSupervisor) Startup(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = true
	return nil
}

func (f *fakeSupervisor) ShutdownAll(context.Context) (supervisor.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	return supervisor.Report{}, nil
}

func (f *fakeSupervisor) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeSupervisor) Status() []supervisor.ProcessStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]supervisor.ProcessStatus, 0, len(f.procs))
	for id, st := range f.procs {
		out = append(out, supervisor.ProcessStatus{ID: id, State: st})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *fakeSupervisor) StatusOf(id string) (supervisor.ProcessStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, err := f.lookup(id)
	if err != nil {
		return supervisor.ProcessStatus{}, err
	}
	return supervisor.ProcessStatus{ID: id, State: st, Args: f.extra[id]}, nil
}

func (f *fakeSupervisor) Start(_ context.Context, id string, extra []string) (supervisor.StartOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, err := f.lookup(id)
	if err != nil {
		return supervisor.Started, err
	}
	if st == supervisor.StateRunning {
		return supervisor.AlreadyRunning, nil
	}
	f.procs[id] = supervisor.StateRunning
	f.extra[id] = extra
	return supervisor.Started, nil
}

func (f *fakeSupervisor) Stop(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, err := f.lookup(id)
	if err != nil {
		return err
	}
	if st != supervisor.StateRunning {
		return fmt.Errorf("%w: %s", supervisor.ErrNotRunning, id)
	}
	f.procs[id] = supervisor.StateStopped
	return nil
}

func (f *fakeSupervisor) Restart(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.lookup(id); err != nil {
		return err
	}
	f.procs[id] = supervisor.StateRunning
	return nil
}

func (f *fakeSupervisor) Reload(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, err := f.lookup(id)
	if err != nil {
		return err
	}
	if st != supervisor.StateRunning {
		return fmt.Errorf("%w: %s", supervisor.ErrNotRunning, id)
	}
	return nil
}

func (f *fakeSupervisor) LogRotate() (supervisor.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var rep supervisor.Report
	for _, st := range f.procs {
		if st == supervisor.StateRunning {
			rep.Succeeded++
		} else {
			rep.Skipped++
		}
	}
	return rep, nil
}

func (f *fakeSupervisor) PackageStart(context.Context) (supervisor.Report, error) {
	return supervisor.Report{}, nil
}

func (f *fakeSupervisor) PackageStop(context.Context) (supervisor.Report, error) {
	return supervisor.Report{}, nil
}

func (f *fakeSupervisor) PackageRestart(context.Context) (supervisor.Report, error) {
	return supervisor.Report{}, nil
}

type fakeLive struct {
	mu        sync.Mutex
	available []string
	sessions  map[uint32]live.LiveConfig
	startErr  error
}

func (f *fakeLive) StartSession(_ context.Context, id uint32, cfg live.LiveConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	if len(cfg.Protocols()) == 0 {
		return live.ErrNoProtocol
	}
	if id == 404 {
		return fmt.Errorf("%w: monitor %d", source.ErrSourceUnavailable, id)
	}
	if _, ok := f.sessions[id]; ok {
		return live.ErrSessionExists
	}
	f.sessions[id] = cfg
	return nil
}

func (f *fakeLive) StopSession(_ context.Context, id uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[id]; !ok {
		return live.ErrSessionNotFound
	}
	delete(f.sessions, id)
	return nil
}

func (f *fakeLive) GetStats(id uint32) (live.SessionStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, ok := f.sessions[id]
	if !ok {
		return live.SessionStats{}, live.ErrSessionNotFound
	}
	return live.SessionStats{MonitorID: id, State: session.Starting, Config: cfg}, nil
}

func (f *fakeLive) ListSessions() []live.SessionStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]live.SessionStats, 0, len(f.sessions))
	for id, cfg := range f.sessions {
		out = append(out, live.SessionStats{MonitorID: id, State: session.Starting, Config: cfg})
	}
	return out
}

func (f *fakeLive) Available() []string { return f.available }

type fakeStats struct{}

func (fakeStats) Collect(context.Context) (sysstats.Stats, error) {
	return sysstats.Stats{TotalMem: 8 << 30, FreeMem: 2 << 30}, nil
}

type harness struct {
	sup  *fakeSupervisor
	live *fakeLive
	h    http.Handler
}

func newHarness(t *testing.T, mutate func(*Deps)) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Server.RateLimit = 0
	cfg.Telemetry.Enabled = false

	sup := newFakeSupervisor("zmc -m 1", "zmfilter.pl")
	lv := &fakeLive{available: []string{session.ProtocolHLS, session.ProtocolMSE}, sessions: map[uint32]live.LiveConfig{}}
	deps := Deps{
		Supervisor: sup,
		Control:    control.NewService(sup),
		Stats:      fakeStats{},
		Live:       lv,
		Health:     health.NewManager("test"),
	}
	if mutate != nil {
		mutate(&deps)
	}
	srv, err := New(cfg, deps)
	require.NoError(t, err)
	return &harness{sup: sup, live: lv, h: srv.Handler()}
}

func (h *harness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func problemCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	body := decode[map[string]any](t, rec)
	code, _ := body["code"].(string)
	return code
}

func TestNew_RequiresSupervisor(t *testing.T) {
	_, err := New(config.Default(), Deps{})
	assert.Error(t, err)

	cfg := config.Default()
	cfg.Server.TrustedProxies = []string{"bogus"}
	sup := newFakeSupervisor()
	_, err = New(cfg, Deps{Supervisor: sup, Control: control.NewService(sup)})
	assert.Error(t, err)
}

func TestDaemonRoutes(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodGet, "/api/v1/daemons", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[DaemonListResponse](t, rec)
	assert.True(t, list.Running)
	require.Len(t, list.Daemons, 2)

	rec = h.do(t, http.MethodGet, "/api/v1/daemons/zmaudit.pl", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "DAEMON_NOT_FOUND", problemCode(t, rec))

	rec = h.do(t, http.MethodPost, "/api/v1/daemons/zmc%20-m%201/start", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	act := decode[DaemonActionResponse](t, rec)
	assert.Equal(t, "'zmc -m 1' started", act.Message)
	assert.Equal(t, supervisor.StateRunning, act.Daemon.State)

	rec = h.do(t, http.MethodPost, "/api/v1/daemons/zmc%20-m%201/start", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "'zmc -m 1' already running", decode[DaemonActionResponse](t, rec).Message)

	rec = h.do(t, http.MethodPost, "/api/v1/daemons/zmfilter.pl/start", `{"args":["--debug"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"--debug"}, decode[DaemonActionResponse](t, rec).Daemon.Args)

	rec = h.do(t, http.MethodPost, "/api/v1/daemons/zmfilter.pl/start", `{"args":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/v1/daemons/reload", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[ReportResponse](t, rec).Report.Succeeded)

	rec = h.do(t, http.MethodPost, "/api/v1/daemons/zmfilter.pl/reload", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "'zmfilter.pl' reloaded", decode[DaemonActionResponse](t, rec).Message)

	rec = h.do(t, http.MethodPost, "/api/v1/daemons/zmfilter.pl/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = h.do(t, http.MethodPost, "/api/v1/daemons/zmfilter.pl/stop", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "DAEMON_NOT_RUNNING", problemCode(t, rec))

	rec = h.do(t, http.MethodPost, "/api/v1/daemons/zmfilter.pl/restart", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, supervisor.StateRunning, decode[DaemonActionResponse](t, rec).Daemon.State)
}

func TestSystemRoutes(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodGet, "/api/v1/system/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[SystemStatusResponse](t, rec)
	assert.True(t, status.Running)
	require.NotNil(t, status.Stats)
	assert.Equal(t, uint64(8<<30), status.Stats.TotalMem)

	rec = h.do(t, http.MethodGet, "/api/v1/system/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint64(2<<30), decode[sysstats.Stats](t, rec).FreeMem)

	rec = h.do(t, http.MethodPost, "/api/v1/system/shutdown", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, h.sup.Running())

	rec = h.do(t, http.MethodPost, "/api/v1/system/startup", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Supervisor started", decode[CommandResponse](t, rec).Message)
	assert.True(t, h.sup.Running())

	rec = h.do(t, http.MethodPost, "/api/v1/states/away/apply", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode[CommandResponse](t, rec).Message, "State 'away' accepted")

	rec = h.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = h.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSystemStatsWithoutCollector(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.Stats = nil })

	rec := h.do(t, http.MethodGet, "/api/v1/system/stats", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "STATS_UNAVAILABLE", problemCode(t, rec))

	rec = h.do(t, http.MethodGet, "/api/v1/system/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decode[SystemStatusResponse](t, rec).Stats)
}

func TestLiveRoutes(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/api/v1/live/3/start", `{"enable_hls":true}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	st := decode[live.SessionStats](t, rec)
	assert.Equal(t, uint32(3), st.MonitorID)
	assert.True(t, st.Config.EnableHLS)
	assert.False(t, st.Config.EnableMSE)

	rec = h.do(t, http.MethodPost, "/api/v1/live/3/start", `{"enable_hls":true}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "SESSION_EXISTS", problemCode(t, rec))

	// An empty body enables every available protocol.
	rec = h.do(t, http.MethodPost, "/api/v1/live/4/start", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	st = decode[live.SessionStats](t, rec)
	assert.True(t, st.Config.EnableHLS)
	assert.True(t, st.Config.EnableMSE)
	assert.False(t, st.Config.EnableWebRTC)

	rec = h.do(t, http.MethodPost, "/api/v1/live/5/start", `{"enable_hls":false}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "NO_PROTOCOL", problemCode(t, rec))

	rec = h.do(t, http.MethodPost, "/api/v1/live/5/start", `{"enable_rtsp":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields are rejected")

	rec = h.do(t, http.MethodPost, "/api/v1/live/404/start", `{"enable_hls":true}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "SOURCE_UNAVAILABLE", problemCode(t, rec))

	rec = h.do(t, http.MethodGet, "/api/v1/live/abc", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_MONITOR", problemCode(t, rec))

	rec = h.do(t, http.MethodGet, "/api/v1/live", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[LiveListResponse](t, rec)
	assert.Len(t, list.Sessions, 2)
	assert.Equal(t, []string{session.ProtocolHLS, session.ProtocolMSE}, list.Available)

	rec = h.do(t, http.MethodPost, "/api/v1/live/3/stop", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = h.do(t, http.MethodPost, "/api/v1/live/3/stop", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "SESSION_NOT_FOUND", problemCode(t, rec))
}

func TestLiveServiceUnavailable(t *testing.T) {
	h := newHarness(t, nil)
	h.live.startErr = live.ErrServiceUnavailable

	rec := h.do(t, http.MethodPost, "/api/v1/live/1/start", `{"enable_hls":true}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))
	assert.Equal(t, "SERVICE_UNAVAILABLE", problemCode(t, rec))
}

func TestDeliveryMounts(t *testing.T) {
	var hlsMonitor, mseMonitor string
	h := newHarness(t, func(d *Deps) {
		d.HLS = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hlsMonitor = chi.URLParam(r, "monitorID")
			w.WriteHeader(http.StatusOK)
		})
		d.MSE = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mseMonitor = chi.URLParam(r, "monitorID")
			w.WriteHeader(http.StatusOK)
		})
	})

	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/hls/7/live.m3u8", "").Code)
	assert.Equal(t, "7", hlsMonitor)
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/mse/9/ws", "").Code)
	assert.Equal(t, "9", mseMonitor)

	rec := h.do(t, http.MethodGet, "/webrtc/ws", "")
	require.Equal(t, http.StatusNotFound, rec.Code, "signaling is unmounted without a WebRTC sink")
	assert.Equal(t, "NOT_FOUND", problemCode(t, rec))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{supervisor.ErrDaemonNotFound, http.StatusNotFound},
		{supervisor.ErrDatabaseUnavailable, http.StatusServiceUnavailable},
		{live.ErrSessionExists, http.StatusConflict},
		{session.ErrMaxSessions, http.StatusTooManyRequests},
		{fmt.Errorf("wrapped: %w", source.ErrSourceUnavailable), http.StatusNotFound},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		got, _ := statusFor(tt.err)
		assert.Equal(t, tt.want, got, tt.err.Error())
	}
}
