package bridge

import (
	"reflect"
	"testing"

	"lockstep.ai/internal/host"
	"lockstep.ai/internal/host/hosttest"
	"lockstep.ai/internal/protocol"
)

func TestInjector_AbsentFieldsUntouched(t *testing.T) {
	d := hosttest.NewDevice()
	in := NewInjector(d)
	d.SetAxis(host.MoveY, 0.5)
	d.Press(host.Grab)

	in.Apply(protocol.AgentMsg{Type: protocol.TypeAck, MoveX: protocol.Float(-1), Jump: protocol.Bool(true)})

	if d.Axes[host.MoveX] != -1 || !d.Pressed[host.Jump] {
		t.Fatalf("present fields not applied: %+v", d)
	}
	if d.Axes[host.MoveY] != 0.5 || !d.Pressed[host.Grab] {
		t.Fatalf("absent fields changed: %+v", d)
	}
}

func TestInjector_ZeroIsNeutralAndNoClamp(t *testing.T) {
	d := hosttest.NewDevice()
	in := NewInjector(d)

	in.Apply(protocol.AgentMsg{Type: protocol.TypeAck, MoveX: protocol.Float(3.5), MoveY: protocol.Float(-0.25)})
	if d.Axes[host.MoveX] != 3.5 || d.Axes[host.MoveY] != -0.25 {
		t.Fatalf("axis values should pass through unclamped: %+v", d.Axes)
	}
	in.Apply(protocol.AgentMsg{Type: protocol.TypeAck, MoveX: protocol.Float(0), Dash: protocol.Bool(false)})
	if d.Axes[host.MoveX] != 0 {
		t.Fatalf("zero should center the axis")
	}
	if d.Pressed[host.Dash] {
		t.Fatalf("false should release")
	}
}

func TestInjector_Idempotent(t *testing.T) {
	msg := protocol.AgentMsg{
		Type:  protocol.TypeAck,
		MoveX: protocol.Float(1),
		MoveY: protocol.Float(0),
		Jump:  protocol.Bool(true),
		Dash:  protocol.Bool(false),
		Grab:  protocol.Bool(true),
	}
	once := hosttest.NewDevice()
	NewInjector(once).Apply(msg)

	twice := hosttest.NewDevice()
	in := NewInjector(twice)
	in.Apply(msg)
	in.Apply(msg)

	if !reflect.DeepEqual(once.Axes, twice.Axes) || !reflect.DeepEqual(once.Pressed, twice.Pressed) {
		t.Fatalf("applying twice differs from once: %+v vs %+v", once, twice)
	}
}

func TestInjector_Neutralize(t *testing.T) {
	d := hosttest.NewDevice()
	d.HoldEverything()
	NewInjector(d).Neutralize()
	if !d.AllNeutral() {
		t.Fatalf("controls left engaged: %+v", d)
	}
	for _, b := range host.Buttons {
		if d.Pressed[b] {
			t.Fatalf("%s still pressed", b)
		}
	}
}
