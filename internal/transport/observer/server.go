// Package observer serves a loopback-only websocket feed of bridge episodes
// and steps for humans watching a run.
package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"lockstep.ai/internal/bridge"
	"lockstep.ai/internal/observerproto"
)

type subscriber struct {
	id  string
	out chan []byte

	mu         sync.Mutex
	frames     bool
	frameEvery int
}

func (s *subscriber) wantsFrame(index uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames && index%uint64(s.frameEvery) == 0
}

func (s *subscriber) apply(sub observerproto.SubscribeMsg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = sub.Frames
	s.frameEvery = sub.FrameEvery
}

// Server is a bridge.Monitor that fans notifications out to websocket
// spectators. A slow spectator loses messages rather than slowing the
// simulation.
type Server struct {
	log *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	dropped  atomic.Uint64

	mu      sync.Mutex
	subs    map[string]*subscriber
	current *observerproto.EpisodeInfo
}

func NewServer(logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		log:  logger,
		subs: map[string]*subscriber{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			// Loopback-only; any local page may watch.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler mounts the bootstrap and websocket endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/observer/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("/observer/ws", s.WSHandler())
	return mux
}

func (s *Server) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Server) Dropped() uint64 { return s.dropped.Load() }

func (s *Server) EpisodeStarted(ep bridge.Episode) {
	info := episodeInfo(ep)
	s.mu.Lock()
	s.current = &info
	s.mu.Unlock()
	s.broadcast(observerproto.EpisodeMsg{
		Type:            observerproto.TypeEpisodeStart,
		ProtocolVersion: observerproto.Version,
		Episode:         info,
	})
}

func (s *Server) EpisodeEnded(ep bridge.Episode, reason string) {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
	s.broadcast(observerproto.EpisodeMsg{
		Type:            observerproto.TypeEpisodeEnd,
		ProtocolVersion: observerproto.Version,
		Episode:         episodeInfo(ep),
		Reason:          reason,
	})
}

func (s *Server) StepRecorded(st bridge.Step) {
	s.mu.Lock()
	if s.current != nil && s.current.EpisodeID == st.EpisodeID {
		s.current.Steps = st.Index + 1
		s.current.LastLevel = st.Observation.LevelName
	}
	subs := s.snapshotLocked()
	s.mu.Unlock()
	if len(subs) == 0 {
		return
	}

	o := st.Observation
	msg := observerproto.StepMsg{
		Type:            observerproto.TypeStep,
		ProtocolVersion: observerproto.Version,
		EpisodeID:       st.EpisodeID,
		Index:           st.Index,
		Level:           o.LevelName,
		PlayerX:         o.PlayerX,
		PlayerY:         o.PlayerY,
		PlayerDied:      o.PlayerDied,
		ReachedNextRoom: o.ReachedNextRoom,
		Action:          st.Action,
		Fault:           st.Fault,
		Width:           o.ScreenWidth,
		Height:          o.ScreenHeight,
		FrameBlake3:     st.FrameDigest,
	}
	plain, err := json.Marshal(msg)
	if err != nil {
		return
	}
	var withFrame []byte
	for _, sub := range subs {
		b := plain
		if sub.wantsFrame(st.Index) {
			if withFrame == nil {
				msg.Frame = o.ScreenPixelsBase64
				withFrame, _ = json.Marshal(msg)
			}
			b = withFrame
		}
		s.send(sub, b)
	}
}

func (s *Server) broadcast(v any) {
	s.mu.Lock()
	subs := s.snapshotLocked()
	s.mu.Unlock()
	if len(subs) == 0 {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	for _, sub := range subs {
		s.send(sub, b)
	}
}

func (s *Server) send(sub *subscriber, b []byte) {
	select {
	case sub.out <- b:
	default:
		s.dropped.Add(1)
	}
}

func (s *Server) snapshotLocked() []*subscriber {
	out := make([]*subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub)
	}
	return out
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		s.mu.Lock()
		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			Subscribers:     len(s.subs),
			Dropped:         s.dropped.Load(),
		}
		if s.current != nil {
			cur := *s.current
			resp.Episode = &cur
		}
		s.mu.Unlock()

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, ok := parseSubscribe(msg)
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		sess := &subscriber{
			id:  fmt.Sprintf("O%d", s.nextID.Add(1)),
			out: make(chan []byte, 1024),
		}
		sess.apply(sub)
		s.mu.Lock()
		s.subs[sess.id] = sess
		s.mu.Unlock()
		s.log.Printf("observer %s joined from %s", sess.id, r.RemoteAddr)
		defer func() {
			s.mu.Lock()
			delete(s.subs, sess.id)
			s.mu.Unlock()
			s.log.Printf("observer %s left", sess.id)
		}()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-sess.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if sub, ok := parseSubscribe(msg); ok {
				sess.apply(sub)
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func parseSubscribe(b []byte) (observerproto.SubscribeMsg, bool) {
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(b, &sub); err != nil {
		return sub, false
	}
	if sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
		return sub, false
	}
	normalizeSubscribe(&sub)
	return sub, true
}

func normalizeSubscribe(sub *observerproto.SubscribeMsg) {
	if sub.FrameEvery <= 0 {
		sub.FrameEvery = 1
	}
	if sub.FrameEvery > 3600 {
		sub.FrameEvery = 3600
	}
}

func episodeInfo(ep bridge.Episode) observerproto.EpisodeInfo {
	return observerproto.EpisodeInfo{
		EpisodeID:    ep.ID,
		ActivationID: ep.ActivationID,
		Seq:          ep.Seq,
		StartLevel:   ep.StartLevel,
		Steps:        ep.Steps,
		LastLevel:    ep.LastLevel,
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
