package tcp

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"lockstep.ai/internal/bridge"
	"lockstep.ai/internal/host"
	"lockstep.ai/internal/host/hosttest"
	"lockstep.ai/internal/protocol"
)

// serveScript accepts one connection and, for every observation it reads,
// writes the next reply. An empty reply closes the connection instead.
func serveScript(a *fakeAgent, replies []string) <-chan error {
	done := make(chan error, 1)
	go func() {
		select {
		case c := <-a.conns:
			defer c.Close()
			dec := json.NewDecoder(c)
			for i, r := range replies {
				var o protocol.Observation
				if err := dec.Decode(&o); err != nil {
					done <- fmt.Errorf("observation %d: %w", i, err)
					return
				}
				if _, err := o.Pixels(); err != nil {
					done <- fmt.Errorf("observation %d: %w", i, err)
					return
				}
				if r == "" {
					done <- c.Close()
					return
				}
				if _, err := c.Write([]byte(r)); err != nil {
					done <- err
					return
				}
			}
			done <- nil
		case <-time.After(2 * time.Second):
			done <- fmt.Errorf("no connection")
		}
	}()
	return done
}

func waitScript(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("agent: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("agent script did not finish")
	}
}

func TestGateOverTCP_RemoteCloseDisables(t *testing.T) {
	a := startAgent(t)
	client := newTestClient(a.addr())
	h := hosttest.New("0", 3, 2)
	g := bridge.NewGate(h, client, bridge.Config{Enabled: true, Target: host.Vec2{X: 2000, Y: 60}})
	defer g.Close()

	done := serveScript(a, []string{`{"type":"ACK","moveX":1,"jump":true}`, ""})

	g.Update(h.Update)
	g.Draw(h.Draw)
	if h.Device.Axes[host.MoveX] != 1 || !h.Device.Pressed[host.Jump] {
		t.Fatalf("ACK not applied: %+v", h.Device)
	}

	g.Update(h.Update)
	g.Draw(h.Draw)
	waitScript(t, done)
	if g.Enabled() {
		t.Fatalf("zero-byte read must disable the bridge")
	}
	if !h.Device.AllNeutral() || g.HasSnapshot() || client.Connected() {
		t.Fatalf("teardown incomplete: neutral=%v snapshot=%v connected=%v",
			h.Device.AllNeutral(), g.HasSnapshot(), client.Connected())
	}

	// The engine now runs free and nothing reaches the agent.
	for i := 0; i < 3; i++ {
		g.Update(h.Update)
		g.Draw(h.Draw)
	}
	if client.Dials() != 1 {
		t.Fatalf("dials = %d, want 1 while disabled", client.Dials())
	}
	select {
	case <-a.conns:
		t.Fatalf("no connection expected while disabled")
	case <-time.After(50 * time.Millisecond):
	}

	// Re-enabling dials a fresh connection on the next frame.
	done = serveScript(a, []string{`{"type":"ACK"}`})
	g.SetEnabled(true)
	g.Update(h.Update)
	g.Draw(h.Draw)
	waitScript(t, done)
	if !g.Enabled() || client.Dials() != 2 || !g.HasSnapshot() {
		t.Fatalf("re-enable: enabled=%v dials=%d snapshot=%v", g.Enabled(), client.Dials(), g.HasSnapshot())
	}
}

func TestGateOverTCP_MalformedReplyKeepsStepping(t *testing.T) {
	a := startAgent(t)
	client := newTestClient(a.addr())
	h := hosttest.New("0", 2, 2)
	g := bridge.NewGate(h, client, bridge.Config{Enabled: true})
	defer g.Close()

	done := serveScript(a, []string{`{"type":`, `{"type":"ACK","dash":true}`})
	for i := 0; i < 2; i++ {
		g.Update(h.Update)
		g.Draw(h.Draw)
	}
	waitScript(t, done)
	if !g.Enabled() || !h.Device.Pressed[host.Dash] {
		t.Fatalf("bridge should survive a malformed reply: enabled=%v", g.Enabled())
	}
	if got := g.Stats().ProtocolFaults; got != 1 {
		t.Fatalf("protocol faults = %d, want 1", got)
	}
}
