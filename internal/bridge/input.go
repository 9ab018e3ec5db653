package bridge

import (
	"lockstep.ai/internal/host"
	"lockstep.ai/internal/protocol"
)

// Injector applies agent actions to the host's virtual control device.
type Injector struct {
	dev host.Input
}

func NewInjector(dev host.Input) *Injector {
	return &Injector{dev: dev}
}

// Apply sets every control the message mentions and leaves the rest alone.
// An axis value of 0 centers the axis.
func (in *Injector) Apply(m protocol.AgentMsg) {
	if in.dev == nil {
		return
	}
	in.axis(host.MoveX, m.MoveX)
	in.axis(host.MoveY, m.MoveY)
	in.button(host.Jump, m.Jump)
	in.button(host.Dash, m.Dash)
	in.button(host.Grab, m.Grab)
}

func (in *Injector) axis(a host.Axis, v *float64) {
	switch {
	case v == nil:
	case *v == 0:
		in.dev.Neutral(a)
	default:
		in.dev.SetAxis(a, *v)
	}
}

func (in *Injector) button(b host.Button, v *bool) {
	switch {
	case v == nil:
	case *v:
		in.dev.Press(b)
	default:
		in.dev.Release(b)
	}
}

// Neutralize centers both axes and releases every button, including the ones
// the agent cannot drive.
func (in *Injector) Neutralize() {
	if in.dev == nil {
		return
	}
	in.dev.Neutral(host.MoveX)
	in.dev.Neutral(host.MoveY)
	for _, b := range host.Buttons {
		in.dev.Release(b)
	}
}
