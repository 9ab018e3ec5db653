// Package hosttest provides a scriptable in-memory host for bridge tests.
package hosttest

import (
	"image"
	"image/color"

	"lockstep.ai/internal/host"
)

type Host struct {
	Lvl    *Level // nil means no gameplay scene
	Device *Device

	Updates int
	Draws   int
}

func New(levelName string, w, h int) *Host {
	return &Host{
		Lvl: &Level{
			P:     &Player{Pos: host.Vec2{X: 10, Y: 20}},
			Sess:  host.NewSession("prologue", levelName),
			Frame: Gradient(w, h),
		},
		Device: NewDevice(),
	}
}

func (h *Host) Scene() (host.Level, bool) {
	if h.Lvl == nil {
		return nil, false
	}
	return h.Lvl, true
}

func (h *Host) Input() host.Input { return h.Device }

// Update and Draw stand in for the engine's own tick functions.
func (h *Host) Update() { h.Updates++ }
func (h *Host) Draw()   { h.Draws++ }

type Teleport struct {
	Player host.Player
	Level  string
	Intro  host.IntroType
}

type Level struct {
	Cutscene   bool
	Skipping   bool
	SkipCalls  int
	Transition bool
	IsPaused   bool

	P     *Player
	Sess  *host.Session
	Frame *image.RGBA

	FrameErr      error
	TeleportPanic any // TeleportTo panics with this when set
	Teleports     []Teleport
}

func (l *Level) InCutscene() bool       { return l.Cutscene }
func (l *Level) SkippingCutscene() bool { return l.Skipping }
func (l *Level) SkipCutscene() {
	l.SkipCalls++
	l.Skipping = true
}
func (l *Level) Transitioning() bool    { return l.Transition }
func (l *Level) Paused() bool           { return l.IsPaused }
func (l *Level) Session() *host.Session { return l.Sess }

func (l *Level) Player() host.Player {
	if l.P == nil {
		return nil
	}
	return l.P
}

func (l *Level) Framebuffer() (*image.RGBA, error) {
	if l.FrameErr != nil {
		return nil, l.FrameErr
	}
	return l.Frame, nil
}

func (l *Level) TeleportTo(p host.Player, level string, intro host.IntroType) {
	if l.TeleportPanic != nil {
		panic(l.TeleportPanic)
	}
	l.Teleports = append(l.Teleports, Teleport{Player: p, Level: level, Intro: intro})
	if l.Sess != nil {
		l.Sess.Level = level
	}
	if pl, ok := p.(*Player); ok && l.Sess != nil && l.Sess.RespawnPoint != nil {
		pl.Pos = *l.Sess.RespawnPoint
	}
}

type Player struct {
	Pos    host.Vec2
	IsDead bool
}

func (p *Player) Position() host.Vec2 { return p.Pos }
func (p *Player) Dead() bool          { return p.IsDead }

// Device records the virtual control state.
type Device struct {
	Axes    map[host.Axis]float64
	Pressed map[host.Button]bool
	Calls   int
}

func NewDevice() *Device {
	return &Device{Axes: map[host.Axis]float64{}, Pressed: map[host.Button]bool{}}
}

func (d *Device) SetAxis(a host.Axis, v float64) { d.Calls++; d.Axes[a] = v }
func (d *Device) Neutral(a host.Axis)            { d.Calls++; d.Axes[a] = 0 }
func (d *Device) Press(b host.Button)            { d.Calls++; d.Pressed[b] = true }
func (d *Device) Release(b host.Button)          { d.Calls++; d.Pressed[b] = false }

// Press and hold every control, as a stuck agent would leave them.
func (d *Device) HoldEverything() {
	d.SetAxis(host.MoveX, 1)
	d.SetAxis(host.MoveY, -1)
	for _, b := range host.Buttons {
		d.Press(b)
	}
}

// AllNeutral reports whether both axes are centered and no button is held.
func (d *Device) AllNeutral() bool {
	if d.Axes[host.MoveX] != 0 || d.Axes[host.MoveY] != 0 {
		return false
	}
	for _, b := range host.Buttons {
		if d.Pressed[b] {
			return false
		}
	}
	return true
}

// Gradient builds a frame whose pixel (x,y) is (x, y, x^y, 255), so
// position errors in an encoder show up as wrong bytes.
func Gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: uint8(x ^ y), A: 255})
		}
	}
	return img
}
