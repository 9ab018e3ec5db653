package main

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"log"
	"net"
	"testing"

	"lockstep.ai/internal/protocol"
)

func observation(x float64, died bool) protocol.Observation {
	return protocol.Observation{
		PlayerX:            x,
		PlayerY:            24,
		PlayerDied:         died,
		TargetX:            2000,
		TargetY:            60,
		ScreenWidth:        1,
		ScreenHeight:       1,
		ScreenPixelsBase64: base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 255}),
		LevelName:          "0",
	}
}

// exchange plays the host side: one write per observation, one read per reply.
func exchange(t *testing.T, conn net.Conn, obs protocol.Observation) protocol.AgentMsg {
	t.Helper()
	b, err := json.Marshal(obs)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := conn.Write(b); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	msg, err := protocol.DecodeAgent(buf[:n], true)
	if err != nil {
		t.Fatalf("reply %q: %v", buf[:n], err)
	}
	return msg
}

func runSession(opts options, pol policy) (net.Conn, <-chan bool) {
	hostSide, agentSide := net.Pipe()
	done := make(chan bool, 1)
	total := 0
	go func() {
		d, _ := session(agentSide, pol, opts, &total, log.New(io.Discard, "", 0))
		_ = agentSide.Close()
		done <- d
	}()
	return hostSide, done
}

func TestSession_PolicyResetAndShutdown(t *testing.T) {
	opts := options{resetEvery: 3, resetOnDeath: true, shutdownAt: 5, validate: true}
	conn, done := runSession(opts, rightPolicy{})
	defer conn.Close()

	m := exchange(t, conn, observation(8, false))
	if m.Type != protocol.TypeAck || m.MoveX == nil || *m.MoveX != 1 {
		t.Fatalf("step 1 = %+v", m)
	}
	if m := exchange(t, conn, observation(9, true)); m.Type != protocol.TypeReset {
		t.Fatalf("death should reset, got %+v", m)
	}
	if m := exchange(t, conn, observation(8, false)); m.Type != protocol.TypeAck {
		t.Fatalf("step 3 = %+v", m)
	}
	if m := exchange(t, conn, observation(8, false)); m.Type != protocol.TypeAck {
		t.Fatalf("step 4 = %+v", m)
	}
	if m := exchange(t, conn, observation(8, false)); m.Type != protocol.TypeShutdown {
		t.Fatalf("step 5 should shut down, got %+v", m)
	}
	if !<-done {
		t.Fatalf("session did not report shutdown")
	}
}

func TestSession_ResetEvery(t *testing.T) {
	opts := options{resetEvery: 2, validate: true}
	conn, done := runSession(opts, idlePolicy{})

	if m := exchange(t, conn, observation(8, false)); m.Type != protocol.TypeAck || m.MoveX != nil {
		t.Fatalf("idle = %+v", m)
	}
	if m := exchange(t, conn, observation(8, false)); m.Type != protocol.TypeReset {
		t.Fatalf("second step should reset, got %+v", m)
	}
	if m := exchange(t, conn, observation(8, false)); m.Type != protocol.TypeAck {
		t.Fatalf("counter not restarted after reset: %+v", m)
	}
	_ = conn.Close()
	if <-done {
		t.Fatalf("host close reported as shutdown")
	}
}

func TestSession_RejectsInvalidObservation(t *testing.T) {
	conn, done := runSession(options{validate: true}, idlePolicy{})
	defer conn.Close()

	if _, err := conn.Write([]byte(`{"playerXPosition":"left"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if <-done {
		t.Fatalf("invalid observation reported as shutdown")
	}
}

func TestNewPolicy(t *testing.T) {
	for _, name := range []string{"random", "right", "idle"} {
		if _, err := newPolicy(name, 1); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
	}
	if _, err := newPolicy("greedy", 1); err == nil {
		t.Fatalf("expected error for unknown policy")
	}

	p, _ := newPolicy("random", 7)
	q, _ := newPolicy("random", 7)
	for i := 0; i < 20; i++ {
		a, b := p.act(protocol.Observation{}), q.act(protocol.Observation{})
		if *a.MoveX != *b.MoveX || *a.Jump != *b.Jump || *a.Dash != *b.Dash {
			t.Fatalf("same seed diverged at %d", i)
		}
	}
}
