package headless

import (
	"math"

	"lockstep.ai/internal/host"
)

// VirtualInput is the headless engine's control device. Axis values are
// clamped to [-1, 1].
type VirtualInput struct {
	axes    [2]float64
	pressed map[host.Button]bool
}

func NewVirtualInput() *VirtualInput {
	return &VirtualInput{pressed: map[host.Button]bool{}}
}

func (in *VirtualInput) SetAxis(a host.Axis, v float64) {
	if math.IsNaN(v) {
		v = 0
	}
	in.axes[a] = math.Max(-1, math.Min(1, v))
}

func (in *VirtualInput) Neutral(a host.Axis)      { in.axes[a] = 0 }
func (in *VirtualInput) Press(b host.Button)      { in.pressed[b] = true }
func (in *VirtualInput) Release(b host.Button)    { in.pressed[b] = false }
func (in *VirtualInput) Axis(a host.Axis) float64 { return in.axes[a] }
func (in *VirtualInput) Held(b host.Button) bool  { return in.pressed[b] }

// Controls is the device state sampled once per update.
type Controls struct {
	MoveX, MoveY float64
	Held         map[host.Button]bool
}

func (in *VirtualInput) sample() Controls {
	held := make(map[host.Button]bool, len(host.Buttons))
	for _, b := range host.Buttons {
		held[b] = in.pressed[b]
	}
	return Controls{MoveX: in.axes[host.MoveX], MoveY: in.axes[host.MoveY], Held: held}
}
