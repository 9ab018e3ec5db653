package headless_test

import (
	"testing"

	"lockstep.ai/internal/bridge"
	"lockstep.ai/internal/host"
	"lockstep.ai/internal/protocol"
	"lockstep.ai/internal/sim/headless"
)

// policyAgent answers each observation with policy(obs).
type policyAgent struct {
	policy func(protocol.Observation) protocol.AgentMsg
	last   protocol.Observation
	seen   []protocol.Observation
	closed bool
}

func (a *policyAgent) Send(obs protocol.Observation) error {
	a.last = obs
	a.seen = append(a.seen, obs)
	return nil
}

func (a *policyAgent) Receive() (protocol.AgentMsg, error) { return a.policy(a.last), nil }
func (a *policyAgent) Close() error                        { a.closed = true; return nil }

const twoRooms = `
name: test
intro_frames: 20
rooms:
  - name: a
    next: b
    tiles:
      - "##########"
      - "#........#"
      - "#........#"
      - "#S.*....E#"
      - "##########"
  - name: b
    tiles:
      - "##########"
      - "#........#"
      - "#S.......#"
      - "##########"
`

func TestBridgeDrivesHeadlessWorld(t *testing.T) {
	m, err := headless.ParseMap([]byte(twoRooms))
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	w, err := headless.New(headless.Options{Map: &m})
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	w.Start()

	resets := 0
	agent := &policyAgent{}
	agent.policy = func(obs protocol.Observation) protocol.AgentMsg {
		switch {
		case resets == 1:
			return protocol.Shutdown()
		case obs.ReachedNextRoom:
			resets++
			return protocol.Reset()
		default:
			return protocol.AgentMsg{Type: protocol.TypeAck, MoveX: protocol.Float(1)}
		}
	}
	g := bridge.NewGate(w, agent, bridge.Config{Enabled: true, Target: host.Vec2{X: 2000, Y: 60}})

	for i := 0; i < 400 && g.Enabled(); i++ {
		g.Update(w.Update)
		g.Update(w.Update)
		g.Draw(w.Draw)
	}
	if g.Enabled() || !agent.closed {
		t.Fatalf("agent shutdown should have disabled the bridge")
	}
	if w.Updates() != w.Draws() {
		t.Fatalf("gated loop ran %d updates for %d draws", w.Updates(), w.Draws())
	}

	st := g.Stats()
	if st.Resets != 1 {
		t.Fatalf("stats = %s", st)
	}
	lvl := w.Level()
	sess := lvl.Session()
	if sess.Level != "a" || lvl.Room().Name != "a" {
		t.Fatalf("reset should return to room a, at %s", sess.Level)
	}
	if len(sess.Strawberries) != 0 || len(sess.DoNotLoad) != 0 {
		t.Fatalf("collected berry survived the reset: %+v", sess.Strawberries)
	}
	if sess.Deaths != 0 || sess.Time == 0 {
		t.Fatalf("bookkeeping: deaths=%d time=%d", sess.Deaths, sess.Time)
	}
	if pos := lvl.Player().Position(); pos.X != 8 || pos.Y != 24 {
		t.Fatalf("player at %+v after reset", pos)
	}
	if w.VirtualInput().Axis(host.MoveX) != 0 {
		t.Fatalf("inputs left engaged")
	}

	// The intro was skipped, the room change reported once, and the first
	// observation after the reset reports no room change.
	changes := 0
	for _, o := range agent.seen {
		if o.ReachedNextRoom {
			changes++
		}
		if o.ScreenWidth != 80 {
			t.Fatalf("unexpected frame width %d", o.ScreenWidth)
		}
	}
	if changes != 1 {
		t.Fatalf("room changes reported = %d, want 1", changes)
	}
	last := agent.seen[len(agent.seen)-1]
	if last.LevelName != "a" || last.ReachedNextRoom || last.TargetX != 2000 {
		t.Fatalf("last observation = %+v", last)
	}
}
