package headless

import (
	"math"

	"lockstep.ai/internal/host"
)

const (
	playerW = 6
	playerH = 8

	gravity     = 0.25
	maxFall     = 4.0
	runSpeed    = 1.5
	jumpSpeed   = -4.2
	dashSpeed   = 4.0
	dashFrames  = 8
	climbSpeed  = 1.0
	deathFrames = 30
	freezeAfter = 10 // frames of stillness after a respawn
)

// Player is the controlled entity. Pos is the top-left corner of its hitbox
// in room pixels.
type Player struct {
	Pos host.Vec2
	Vel host.Vec2

	dead      bool
	deadTimer int
	onGround  bool
	dashTimer int
	freeze    int
	facing    float64
}

func (p *Player) Position() host.Vec2 { return p.Pos }
func (p *Player) Dead() bool          { return p.dead }
func (p *Player) OnGround() bool      { return p.onGround }

func (p *Player) placeAt(x, y float64) {
	p.Pos = host.Vec2{X: x, Y: y}
	p.Vel = host.Vec2{}
	p.dead = false
	p.deadTimer = 0
	p.dashTimer = 0
	p.facing = 1
}

func (p *Player) kill() {
	if p.dead {
		return
	}
	p.dead = true
	p.deadTimer = deathFrames
	p.Vel = host.Vec2{}
}

// tiles returns the tile rectangle covered by the hitbox at (x, y).
func tiles(x, y float64) (x0, y0, x1, y1 int) {
	x0 = int(math.Floor(x / TileSize))
	y0 = int(math.Floor(y / TileSize))
	x1 = int(math.Floor((x + playerW - 1) / TileSize))
	y1 = int(math.Floor((y + playerH - 1) / TileSize))
	return
}

func overlaps(r *Room, x, y float64, glyph byte) bool {
	x0, y0, x1, y1 := tiles(x, y)
	for ty := y0; ty <= y1; ty++ {
		for tx := x0; tx <= x1; tx++ {
			if r.At(tx, ty) == glyph {
				return true
			}
		}
	}
	return false
}

func solidAt(r *Room, x, y float64) bool { return overlaps(r, x, y, TileSolid) }

// move advances the player along one axis a pixel at a time, stopping at the
// first solid tile. It reports whether it was blocked.
func (p *Player) move(r *Room, dx, dy float64) bool {
	steps := int(math.Ceil(math.Max(math.Abs(dx), math.Abs(dy))))
	if steps == 0 {
		return false
	}
	sx, sy := dx/float64(steps), dy/float64(steps)
	for i := 0; i < steps; i++ {
		nx, ny := p.Pos.X+sx, p.Pos.Y+sy
		if solidAt(r, nx, ny) {
			return true
		}
		p.Pos.X, p.Pos.Y = nx, ny
	}
	return false
}

type stepInput struct {
	Controls
	jumpPressed bool
	dashPressed bool
}

// step runs one frame of movement. The dash budget lives in inv and is spent
// and refilled here.
func (p *Player) step(r *Room, in stepInput, inv *host.Inventory) {
	if p.dead {
		return
	}
	if p.freeze > 0 {
		p.freeze--
		return
	}

	if in.MoveX != 0 {
		p.facing = math.Copysign(1, in.MoveX)
	}
	touchingWall := solidAt(r, p.Pos.X+p.facing, p.Pos.Y)

	switch {
	case p.dashTimer > 0:
		p.dashTimer--
	case in.dashPressed && inv.Dashes > 0:
		dx, dy := in.MoveX, in.MoveY
		if in.Held[host.CrouchDash] {
			dx, dy = 0, 1
		}
		if dx == 0 && dy == 0 {
			dx = p.facing
		}
		n := math.Hypot(dx, dy)
		p.Vel = host.Vec2{X: dx / n * dashSpeed, Y: dy / n * dashSpeed}
		p.dashTimer = dashFrames
		inv.Dashes--
	case in.Held[host.Grab] && touchingWall && !p.onGround:
		p.Vel.X = 0
		p.Vel.Y = in.MoveY * climbSpeed
	default:
		p.Vel.X = in.MoveX * runSpeed
		if in.jumpPressed && (p.onGround || (in.Held[host.Grab] && touchingWall)) {
			p.Vel.Y = jumpSpeed
		} else {
			p.Vel.Y = math.Min(p.Vel.Y+gravity, maxFall)
		}
	}

	if p.move(r, p.Vel.X, 0) {
		p.Vel.X = 0
	}
	if p.move(r, 0, p.Vel.Y) {
		p.Vel.Y = 0
	}
	p.onGround = solidAt(r, p.Pos.X, p.Pos.Y+1)
	if p.onGround && p.dashTimer == 0 && !inv.NoRefills {
		inv.Dashes = maxDashes(inv)
	}

	if overlaps(r, p.Pos.X, p.Pos.Y, TileSpike) || p.Pos.Y >= float64(r.Height()*TileSize) {
		p.kill()
	}
}

func maxDashes(inv *host.Inventory) int {
	if inv.DreamDash {
		return 2
	}
	return 1
}
