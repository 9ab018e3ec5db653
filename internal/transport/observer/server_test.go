package observer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"lockstep.ai/internal/bridge"
	"lockstep.ai/internal/observerproto"
	"lockstep.ai/internal/protocol"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/observer/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func subscribe(t *testing.T, conn *websocket.Conn, sub observerproto.SubscribeMsg) {
	t.Helper()
	sub.Type = observerproto.TypeSubscribe
	sub.ProtocolVersion = observerproto.Version
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
}

func waitSubscribers(t *testing.T, s *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.Subscribers() != n {
		if time.Now().After(deadline) {
			t.Fatalf("subscribers = %d, want %d", s.Subscribers(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(v); err != nil {
		t.Fatalf("read: %v", err)
	}
}

func step(i uint64) bridge.Step {
	return bridge.Step{
		EpisodeID: "ep-1",
		Index:     i,
		Observation: protocol.Observation{
			LevelName: "2", PlayerX: 3, ScreenWidth: 1, ScreenHeight: 1,
			ScreenPixelsBase64: "AQIDBA==",
		},
		Pixels:      []byte{1, 2, 3, 4},
		FrameDigest: bridge.FrameDigest([]byte{1, 2, 3, 4}),
		Action:      &protocol.AgentMsg{Type: protocol.TypeAck, Jump: protocol.Bool(true)},
	}
}

func TestServer_StreamsEpisodesAndSteps(t *testing.T) {
	s := NewServer(nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	plain := dial(t, srv)
	subscribe(t, plain, observerproto.SubscribeMsg{})
	framed := dial(t, srv)
	subscribe(t, framed, observerproto.SubscribeMsg{Frames: true, FrameEvery: 2})
	waitSubscribers(t, s, 2)

	s.EpisodeStarted(bridge.Episode{ID: "ep-1", ActivationID: "a", Seq: 1, StartLevel: "1"})
	s.StepRecorded(step(0))
	s.StepRecorded(step(1))
	s.EpisodeEnded(bridge.Episode{ID: "ep-1", Steps: 2}, bridge.EndReset)

	for _, tc := range []struct {
		conn       *websocket.Conn
		wantFrames []bool
	}{
		{plain, []bool{false, false}},
		{framed, []bool{true, false}},
	} {
		var start observerproto.EpisodeMsg
		readJSON(t, tc.conn, &start)
		if start.Type != observerproto.TypeEpisodeStart || start.Episode.StartLevel != "1" {
			t.Fatalf("start = %+v", start)
		}
		for i, want := range tc.wantFrames {
			var st observerproto.StepMsg
			readJSON(t, tc.conn, &st)
			if st.Type != observerproto.TypeStep || st.Index != uint64(i) || st.Level != "2" || st.Action == nil {
				t.Fatalf("step = %+v", st)
			}
			if (st.Frame != "") != want {
				t.Fatalf("step %d frame present=%v, want %v", i, st.Frame != "", want)
			}
			if st.FrameBlake3 == "" {
				t.Fatalf("step %d missing digest", i)
			}
		}
		var end observerproto.EpisodeMsg
		readJSON(t, tc.conn, &end)
		if end.Type != observerproto.TypeEpisodeEnd || end.Reason != bridge.EndReset {
			t.Fatalf("end = %+v", end)
		}
	}
}

func TestServer_RejectsBadSubscribe(t *testing.T) {
	s := NewServer(nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dial(t, srv)
	if err := conn.WriteJSON(map[string]string{"type": "HELLO"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}
	if s.Subscribers() != 0 {
		t.Fatalf("rejected client registered")
	}
}

func TestServer_Bootstrap(t *testing.T) {
	s := NewServer(nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	s.EpisodeStarted(bridge.Episode{ID: "ep-9", Seq: 3, StartLevel: "0"})
	s.StepRecorded(step(0))
	st := step(1)
	st.EpisodeID = "ep-9"
	s.StepRecorded(st)

	resp, err := http.Get(srv.URL + "/observer/bootstrap")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var boot observerproto.BootstrapResponse
	if err := json.NewDecoder(resp.Body).Decode(&boot); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if boot.ProtocolVersion != observerproto.Version || boot.Episode == nil {
		t.Fatalf("bootstrap = %+v", boot)
	}
	if boot.Episode.EpisodeID != "ep-9" || boot.Episode.Steps != 2 || boot.Episode.LastLevel != "2" {
		t.Fatalf("episode = %+v", boot.Episode)
	}

	post, err := http.Post(srv.URL+"/observer/bootstrap", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	post.Body.Close()
	if post.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("POST status = %d", post.StatusCode)
	}
}

func TestServer_SlowSubscriberDrops(t *testing.T) {
	s := NewServer(nil)
	sub := &subscriber{id: "x", out: make(chan []byte, 1), frameEvery: 1}
	s.subs[sub.id] = sub

	s.StepRecorded(step(0))
	s.StepRecorded(step(1))
	if s.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", s.Dropped())
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	for addr, want := range map[string]bool{
		"127.0.0.1:5000": true,
		"[::1]:80":       true,
		"10.0.0.2:5000":  false,
		"garbage":        false,
	} {
		if got := isLoopbackRemote(addr); got != want {
			t.Fatalf("isLoopbackRemote(%q) = %v", addr, got)
		}
	}
}
