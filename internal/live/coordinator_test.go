// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build unix

package live

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sys/unix"

	"github.com/ManuGH/zmlive/internal/media/nal"
	"github.com/ManuGH/zmlive/internal/session"
	"github.com/ManuGH/zmlive/internal/source"
)

var (
	unitSPS   = []byte{0x67, 0x4D, 0x00, 0x1F, 0xEC, 0xA0, 0x28, 0x02, 0xDC, 0x80}
	unitPPS   = []byte{0x68, 0xEE, 0x3C, 0x80}
	unitIDR   = []byte{0x65, 0x88, 0x84, 0x00, 0x21}
	unitSlice = []byte{0x41, 0x9A, 0x22, 0x11}
)

type fakeSink struct {
	name    string
	failErr error

	mu      sync.Mutex
	started []source.MonitorInfo
	stopped []uint32
	packets []source.Packet
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) StartMonitor(_ context.Context, info source.MonitorInfo) error {
	if s.failErr != nil {
		return s.failErr
	}
	s.mu.Lock()
	s.started = append(s.started, info)
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) StopMonitor(id uint32) {
	s.mu.Lock()
	s.stopped = append(s.stopped, id)
	s.mu.Unlock()
}

func (s *fakeSink) Deliver(p source.Packet) {
	s.mu.Lock()
	s.packets = append(s.packets, p)
	s.mu.Unlock()
}

func (s *fakeSink) delivered() []source.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]source.Packet(nil), s.packets...)
}

func (s *fakeSink) stops() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint32(nil), s.stopped...)
}

func newRouter(t *testing.T) *source.Router {
	t.Helper()
	r := source.NewRouter(source.Config{
		MaxOpenRetries: 1000,
		RetryInterval:  5 * time.Millisecond,
		ReadBufferSize: 4096,
		VideoBuffer:    64,
	}, nil)
	t.Cleanup(r.Close)
	return r
}

func stateOf(c *Coordinator, id uint32) session.State {
	st, err := c.GetStats(id)
	if err != nil {
		return ""
	}
	return st.State
}

func TestStartupTimeoutFailsSession(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := filepath.Join(t.TempDir(), "video_fifo_1.h264")
	require.NoError(t, unix.Mkfifo(path, 0o600))
	// A connected writer that never writes.
	w, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	defer w.Close()

	r := source.NewRouter(source.Config{RetryInterval: 5 * time.Millisecond}, nil)
	defer r.Close()
	r.Register(1, path)

	hls := &fakeSink{name: session.ProtocolHLS}
	c := NewCoordinator(r, WithHLS(hls), WithStartupTimeout(100*time.Millisecond))
	ctx := context.Background()
	require.NoError(t, c.StartSession(ctx, 1, LiveConfig{EnableHLS: true}))
	assert.Equal(t, session.Starting, stateOf(c, 1))

	require.Eventually(t, func() bool { return stateOf(c, 1) == session.Failed }, 5*time.Second, 10*time.Millisecond)
	st, err := c.GetStats(1)
	require.NoError(t, err)
	assert.Equal(t, ErrTimeout.Error(), st.Error)
	assert.Nil(t, st.FirstPacketAt)

	require.NoError(t, c.StopSession(ctx, 1))
	assert.False(t, c.HasSession(1))
	assert.Equal(t, []uint32{1}, hls.stops())
	_, err = r.Stats(1)
	assert.ErrorIs(t, err, source.ErrSourceNotFound)
	require.NoError(t, c.Shutdown(ctx))
}

func TestSessionDeliversUntilReaderEnds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "video_fifo_2.h264")
	require.NoError(t, os.WriteFile(path, nal.AnnexB(unitSPS, unitPPS, unitIDR, unitSlice, unitSlice), 0o600))
	r := newRouter(t)
	r.Register(2, path)

	hls := &fakeSink{name: session.ProtocolHLS}
	mse := &fakeSink{name: session.ProtocolMSE}
	c := NewCoordinator(r, WithHLS(hls), WithMSE(mse))
	ctx := context.Background()
	require.NoError(t, c.StartSession(ctx, 2, LiveConfig{EnableHLS: true, EnableMSE: true}))

	require.Eventually(t, func() bool { return stateOf(c, 2) == session.Stopped }, 5*time.Second, 10*time.Millisecond)
	for _, s := range []*fakeSink{hls, mse} {
		got := s.delivered()
		require.Len(t, got, 5, s.name)
		assert.Equal(t, unitSPS, got[0].Data, "parameter sets reach %s first", s.name)
		assert.True(t, got[2].Keyframe)
	}

	st, err := c.GetStats(2)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), st.Packets)
	assert.Equal(t, uint64(1), st.Keyframes)
	require.NotNil(t, st.FirstPacketAt)
	assert.Empty(t, st.Error)
	require.Len(t, c.ListSessions(), 1)
	assert.Equal(t, uint32(2), c.ListSessions()[0].MonitorID)

	require.NoError(t, c.StopSession(ctx, 2))
	assert.Empty(t, c.ListSessions())
	require.NoError(t, c.Shutdown(ctx))
}

func TestStartSessionRejections(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "video_fifo_3.h264")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	r := newRouter(t)
	r.Register(3, path)

	hls := &fakeSink{name: session.ProtocolHLS}
	c := NewCoordinator(r, WithHLS(hls), WithStartupTimeout(time.Minute))
	ctx := context.Background()
	t.Cleanup(func() { _ = c.Shutdown(ctx) })

	assert.ErrorIs(t, c.StartSession(ctx, 3, LiveConfig{}), ErrNoProtocol)
	assert.ErrorIs(t, c.StartSession(ctx, 3, LiveConfig{EnableWebRTC: true}), ErrServiceUnavailable)
	assert.ErrorIs(t, c.StartSession(ctx, 99, LiveConfig{EnableHLS: true}), source.ErrSourceUnavailable)
	assert.False(t, c.HasSession(99))

	require.NoError(t, c.StartSession(ctx, 3, LiveConfig{EnableHLS: true}))
	assert.ErrorIs(t, c.StartSession(ctx, 3, LiveConfig{EnableHLS: true}), ErrSessionExists)
	assert.ErrorIs(t, c.StopSession(ctx, 4), ErrSessionNotFound)
	_, err := c.GetStats(4)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, []string{session.ProtocolHLS}, c.Available())
}

func TestStartSessionRollsBackFailedSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "video_fifo_5.h264")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	r := newRouter(t)
	r.Register(5, path)

	hls := &fakeSink{name: session.ProtocolHLS}
	broken := &fakeSink{name: session.ProtocolWebRTC, failErr: errors.New("boom")}
	c := NewCoordinator(r, WithHLS(hls), WithWebRTC(broken))

	err := c.StartSession(context.Background(), 5, LiveConfig{EnableHLS: true, EnableWebRTC: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start webrtc")
	assert.False(t, c.HasSession(5))
	assert.Equal(t, []uint32{5}, hls.stops(), "sinks started before the failure are stopped")
	_, err = r.Stats(5)
	assert.ErrorIs(t, err, source.ErrSourceNotFound)
}

func TestShutdownStopsEverySession(t *testing.T) {
	defer goleak.VerifyNone(t)
	dir := t.TempDir()
	r := source.NewRouter(source.Config{RetryInterval: 5 * time.Millisecond}, nil)
	defer r.Close()

	var writers []*os.File
	for _, id := range []uint32{6, 7} {
		path := filepath.Join(dir, "fifo"+string(rune('0'+id)))
		require.NoError(t, unix.Mkfifo(path, 0o600))
		w, err := os.OpenFile(path, os.O_RDWR, 0)
		require.NoError(t, err)
		writers = append(writers, w)
		r.Register(id, path)
	}
	defer func() {
		for _, w := range writers {
			w.Close()
		}
	}()

	hls := &fakeSink{name: session.ProtocolHLS}
	c := NewCoordinator(r, WithHLS(hls))
	ctx := context.Background()
	require.NoError(t, c.StartSession(ctx, 6, LiveConfig{EnableHLS: true}))
	require.NoError(t, c.StartSession(ctx, 7, LiveConfig{EnableHLS: true}))
	require.Len(t, c.ListSessions(), 2)

	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, c.Shutdown(sctx))
	assert.Empty(t, c.ListSessions())
	assert.ElementsMatch(t, []uint32{6, 7}, hls.stops())
	assert.ErrorIs(t, c.StartSession(ctx, 6, LiveConfig{EnableHLS: true}), ErrServiceUnavailable)
}
