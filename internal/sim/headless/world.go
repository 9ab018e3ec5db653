// Package headless is a small deterministic side-scroller that runs without
// a window. It implements the host interfaces so the bridge, the agent
// tools and the tests can drive a real update/draw loop.
package headless

import (
	"io"
	"log"

	"lockstep.ai/internal/host"
)

type Options struct {
	Map    *Map // nil means DefaultMap
	Logger *log.Logger
}

// World is the engine: it owns the control device and the active level, and
// exposes Update and Draw as the two per-frame hooks.
type World struct {
	m     Map
	log   *log.Logger
	input *VirtualInput
	lvl   *Level

	prev    Controls
	updates uint64
	draws   uint64
}

func New(opts Options) (*World, error) {
	var m Map
	if opts.Map != nil {
		m = *opts.Map
		if err := m.init(); err != nil {
			return nil, err
		}
	} else {
		dm, err := DefaultMap()
		if err != nil {
			return nil, err
		}
		m = dm
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &World{m: m, log: logger, input: NewVirtualInput()}, nil
}

// Start enters the first room. Until then the world has no scene.
func (w *World) Start() {
	w.lvl = newLevel(&w.m, w.log)
	w.log.Printf("level %s started in room %s", w.m.Name, w.lvl.room.Name)
}

// Stop leaves gameplay, as a return to the menu would.
func (w *World) Stop() { w.lvl = nil }

func (w *World) Scene() (host.Level, bool) {
	if w.lvl == nil {
		return nil, false
	}
	return w.lvl, true
}

func (w *World) Input() host.Input           { return w.input }
func (w *World) VirtualInput() *VirtualInput { return w.input }
func (w *World) Level() *Level               { return w.lvl }
func (w *World) Updates() uint64             { return w.updates }
func (w *World) Draws() uint64               { return w.draws }

func (w *World) SetPaused(v bool) {
	if w.lvl != nil {
		w.lvl.paused = v
	}
}

// Update runs one simulation tick.
func (w *World) Update() {
	w.updates++
	ctl := w.input.sample()
	in := stepInput{
		Controls:    ctl,
		jumpPressed: ctl.Held[host.Jump] && !w.prev.Held[host.Jump],
		dashPressed: (ctl.Held[host.Dash] && !w.prev.Held[host.Dash]) ||
			(ctl.Held[host.CrouchDash] && !w.prev.Held[host.CrouchDash]),
	}
	w.prev = ctl
	if w.lvl != nil {
		w.lvl.update(in)
	}
}

// Draw renders the current state into the level's framebuffer.
func (w *World) Draw() {
	w.draws++
	if w.lvl != nil {
		w.lvl.render()
	}
}
