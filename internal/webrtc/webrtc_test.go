// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package webrtc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/zmlive/internal/config"
	"github.com/ManuGH/zmlive/internal/media/nal"
	"github.com/ManuGH/zmlive/internal/session"
	"github.com/ManuGH/zmlive/internal/source"
)

var (
	testSPS   = []byte{0x67, 0x64, 0x00, 0x28, 0xAC, 0xD9, 0x40, 0x78, 0x02, 0x27, 0xE5, 0xC0, 0x5A}
	testPPS   = []byte{0x68, 0xEE, 0x3C, 0x80}
	testIDR   = []byte{0x65, 0x88, 0x84, 0x00, 0x10}
	testSlice = []byte{0x41, 0x9A, 0x02, 0x03}
)

func pkt(u []byte, ts int64, key bool) source.Packet {
	return source.Packet{MonitorID: 1, Codec: nal.H264, Data: u, TimestampUs: ts, Keyframe: key}
}

func testPeer(t *testing.T) *Peer {
	t.Helper()
	rec, err := session.NewRegistry(Protocol, 0).Create(1)
	require.NoError(t, err)
	return &Peer{rec: rec, logger: zerolog.Nop()}
}

func TestFeed_SamplesTrailByOneAccessUnit(t *testing.T) {
	f := newFeed(1, nal.H264)
	f.add(testPeer(t))

	var got []sample
	for _, p := range []source.Packet{
		pkt(testSPS, 40000, false),
		pkt(testPPS, 40000, false),
		pkt(testIDR, 40000, true),
		pkt(testSlice, 80000, false),
		pkt(testIDR, 120000, true),
		pkt(testSlice, 160000, false),
		pkt(testSlice, 200000, false),
	} {
		if s, peers, ok := f.push(p); ok {
			require.Len(t, peers, 1)
			got = append(got, s)
		}
	}

	require.Len(t, got, 3)
	assert.True(t, got[0].keyframe)
	assert.Equal(t, 40*time.Millisecond, got[0].duration)
	assert.Equal(t, nal.AnnexB(testSPS, testPPS, testIDR), got[0].data)
	assert.False(t, got[1].keyframe)
	assert.Equal(t, nal.AnnexB(testSlice), got[1].data)
	assert.True(t, got[2].keyframe)
	assert.Equal(t, nal.AnnexB(testSPS, testPPS, testIDR), got[2].data, "parameter sets are repeated before bare keyframes")
}

func TestFeed_NoPeersNoSamples(t *testing.T) {
	f := newFeed(1, 0)
	assert.Equal(t, nal.H264, f.codec)
	for i := 0; i < 5; i++ {
		_, _, ok := f.push(pkt(testSlice, int64(i+1)*40000, false))
		assert.False(t, ok)
	}
}

func TestFeed_FallbackDuration(t *testing.T) {
	f := newFeed(1, nal.H264)
	f.add(testPeer(t))
	var got []sample
	for _, ts := range []int64{100, 100, 100, 100} {
		if s, _, ok := f.push(pkt(testSlice, ts, false)); ok {
			got = append(got, s)
		}
	}
	require.NotEmpty(t, got)
	for _, s := range got {
		assert.Equal(t, defaultFrameDuration, s.duration)
	}
}

func TestCodeFor(t *testing.T) {
	assert.Equal(t, CodeInvalidMessage, CodeFor(ErrInvalidMessage))
	assert.Equal(t, CodeSessionNotFound, CodeFor(session.ErrSessionNotFound))
	assert.Equal(t, CodeMonitorNotFound, CodeFor(ErrMonitorNotFound))
	assert.Equal(t, CodeMaxSessions, CodeFor(session.ErrMaxSessions))
	assert.Equal(t, CodeICEFailed, CodeFor(ErrIceFailed))
	assert.Equal(t, CodeInternalError, CodeFor(context.DeadlineExceeded))
}

func newTestManager(t *testing.T, maxSessions int) *Manager {
	t.Helper()
	m, err := NewManager(config.WebRTCSettings{
		Enabled:          true,
		MaxSessions:      maxSessions,
		StaleSessionAge:  time.Minute,
		GatheringTimeout: 2 * time.Second,
	}, WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

// clientOffer returns a receive-only video offer with gathered candidates.
func clientOffer(t *testing.T) (*pion.PeerConnection, string) {
	t.Helper()
	pc, err := pion.NewPeerConnection(pion.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })
	_, err = pc.AddTransceiverFromKind(pion.RTPCodecTypeVideo, pion.RTPTransceiverInit{
		Direction: pion.RTPTransceiverDirectionRecvonly,
	})
	require.NoError(t, err)
	offer, err := pc.CreateOffer(nil)
	require.NoError(t, err)
	gathered := pion.GatheringCompletePromise(pc)
	require.NoError(t, pc.SetLocalDescription(offer))
	select {
	case <-gathered:
	case <-time.After(5 * time.Second):
	}
	return pc, pc.LocalDescription().SDP
}

func TestManager_OfferRequiresLiveMonitor(t *testing.T) {
	m := newTestManager(t, 0)
	_, sdp := clientOffer(t)

	_, _, err := m.Offer(context.Background(), 9, sdp, nil)
	require.ErrorIs(t, err, ErrMonitorNotFound)

	require.NoError(t, m.StartMonitor(context.Background(), source.MonitorInfo{ID: 9, Codec: nal.H264, Available: true}))
	_, _, err = m.Offer(context.Background(), 9, "", nil)
	require.ErrorIs(t, err, ErrInvalidMessage)
	_, _, err = m.Offer(context.Background(), 9, "not sdp", nil)
	require.ErrorIs(t, err, ErrInvalidMessage)
	assert.Zero(t, m.SessionCount(), "failed negotiations release their slot")
}

func TestManager_SessionLifecycle(t *testing.T) {
	m := newTestManager(t, 1)
	require.NoError(t, m.StartMonitor(context.Background(), source.MonitorInfo{ID: 3, Codec: nal.H264, Available: true}))

	client, sdp := clientOffer(t)
	events := make(chan Message, 4)
	peer, answer, err := m.Offer(context.Background(), 3, sdp, func(msg Message) { events <- msg })
	require.NoError(t, err)
	assert.Contains(t, answer, "H264")
	require.NoError(t, client.SetRemoteDescription(pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: answer}))
	require.Equal(t, 1, m.SessionCount())

	_, extra := clientOffer(t)
	_, _, err = m.Offer(context.Background(), 3, extra, nil)
	require.ErrorIs(t, err, session.ErrMaxSessions)

	st, err := m.Stats(peer.ID())
	require.NoError(t, err)
	assert.Equal(t, nal.H264.String(), st.Codec)

	mid := "0"
	err = m.AddICECandidate(peer.ID(), "garbage", &mid, nil)
	require.ErrorIs(t, err, ErrIceFailed)
	_, ok := m.Peer(peer.ID())
	assert.True(t, ok, "a rejected candidate keeps the session")

	m.StopMonitor(3)
	select {
	case msg := <-events:
		assert.Equal(t, TypeDisconnected, msg.Type)
		assert.Equal(t, "monitor stopped", msg.Reason)
	case <-time.After(5 * time.Second):
		t.Fatal("no disconnect notification")
	}
	assert.Zero(t, m.SessionCount())
	require.ErrorIs(t, m.Hangup(peer.ID()), session.ErrSessionNotFound)
}

func TestManager_CleanupStaleSessions(t *testing.T) {
	m := newTestManager(t, 0)
	require.NoError(t, m.StartMonitor(context.Background(), source.MonitorInfo{ID: 4, Codec: nal.H264, Available: true}))
	_, sdp := clientOffer(t)
	peer, _, err := m.Offer(context.Background(), 4, sdp, nil)
	require.NoError(t, err)

	assert.Zero(t, m.CleanupStaleSessions(-time.Minute), "starting sessions are not stale")
	peer.rec.SetState(session.Failed)
	assert.Equal(t, 1, m.CleanupStaleSessions(-time.Minute))
	_, ok := m.Peer(peer.ID())
	assert.False(t, ok)
}

func newSignalingServer(t *testing.T) (*Manager, *httptest.Server) {
	t.Helper()
	m := newTestManager(t, 0)
	r := chi.NewRouter()
	r.Mount("/live/{monitorID}/webrtc", NewSignaling(m, nil).Routes())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return m, srv
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestSignaling_MalformedThenOffer(t *testing.T) {
	m, srv := newSignalingServer(t)
	require.NoError(t, m.StartMonitor(context.Background(), source.MonitorInfo{ID: 7, Codec: nal.H264, Available: true}))

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/live/7/webrtc/"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":`)))
	msg := readMessage(t, conn)
	assert.Equal(t, TypeError, msg.Type)
	assert.Equal(t, CodeInvalidMessage, msg.Code)

	_, sdp := clientOffer(t)
	require.NoError(t, conn.WriteJSON(Message{Type: TypeOffer, SDP: sdp}))

	msg = readMessage(t, conn)
	require.Equal(t, TypeConnected, msg.Type, "got %+v", msg)
	assert.Equal(t, uint32(7), msg.MonitorID)
	sid := msg.SessionID
	require.NotEmpty(t, sid)

	msg = readMessage(t, conn)
	assert.Equal(t, TypeAnswer, msg.Type)
	assert.Equal(t, sid, msg.SessionID)
	assert.NotEmpty(t, msg.SDP)

	require.NoError(t, conn.WriteJSON(Message{Type: TypeGetStats, SessionID: sid}))
	msg = readMessage(t, conn)
	assert.Equal(t, TypeStats, msg.Type)
	require.NotNil(t, msg.Stats)

	require.NoError(t, conn.WriteJSON(Message{Type: TypeHangup, SessionID: "missing"}))
	msg = readMessage(t, conn)
	assert.Equal(t, CodeSessionNotFound, msg.Code)

	conn.Close()
	require.Eventually(t, func() bool { return m.SessionCount() == 0 }, 5*time.Second, 10*time.Millisecond,
		"closing the socket hangs up its sessions")
}

func TestSignaling_REST(t *testing.T) {
	m, srv := newSignalingServer(t)
	require.NoError(t, m.StartMonitor(context.Background(), source.MonitorInfo{ID: 2, Codec: nal.H264, Available: true}))
	base := srv.URL + "/live/2/webrtc"

	resp, err := http.Post(base+"/offer", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, sdp := clientOffer(t)
	body, err := json.Marshal(OfferRequest{SDP: sdp})
	require.NoError(t, err)
	resp, err = http.Post(base+"/offer", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	var out OfferResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, out.SessionID)

	req, err := http.NewRequest(http.MethodDelete, base+"/sessions/"+out.SessionID, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
