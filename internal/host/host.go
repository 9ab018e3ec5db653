// Package host describes the simulation surface the bridge drives. The
// engine itself (scheduling, rendering, physics) lives behind these
// interfaces; the bridge only reads and writes what is listed here.
package host

import "image"

type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Host is the running engine.
type Host interface {
	// Scene returns the active gameplay level, or false when the engine is
	// showing something else (menus, loading screens).
	Scene() (Level, bool)
	Input() Input
}

// Level is a gameplay scene.
type Level interface {
	InCutscene() bool
	SkippingCutscene() bool
	SkipCutscene()

	Transitioning() bool
	Paused() bool

	// Player returns the controlled entity, or nil if it is not in the scene.
	Player() Player
	Session() *Session

	// Framebuffer returns the level's rendered output for the draw call that
	// just completed.
	Framebuffer() (*image.RGBA, error)

	TeleportTo(p Player, level string, intro IntroType)
}

type Player interface {
	Position() Vec2
	Dead() bool
}

type IntroType int

const (
	IntroNone IntroType = iota
	IntroRespawn
	IntroTransition
)

func (t IntroType) String() string {
	switch t {
	case IntroRespawn:
		return "respawn"
	case IntroTransition:
		return "transition"
	default:
		return "none"
	}
}
