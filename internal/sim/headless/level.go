package headless

import (
	"errors"
	"image"
	"log"

	"lockstep.ai/internal/host"
)

const (
	transitionFrames = 12
	skipFrames       = 6 // fade-out left when a cutscene is skipped
)

// Level is the active room plus everything the session tracks about it. It
// implements host.Level.
type Level struct {
	m    *Map
	log  *log.Logger
	room *Room
	sess *host.Session

	player *Player

	cutscene   int
	skipping   bool
	transition int
	nextRoom   string
	paused     bool
	complete   bool

	frame *image.RGBA
}

func newLevel(m *Map, logger *log.Logger) *Level {
	first := &m.Rooms[0]
	l := &Level{
		m:        m,
		log:      logger,
		sess:     host.NewSession(m.Name, first.Name),
		player:   &Player{},
		cutscene: m.IntroFrames,
	}
	l.sess.Inventory.Dashes = maxDashes(&l.sess.Inventory)
	l.enter(first)
	return l
}

func (l *Level) InCutscene() bool       { return l.cutscene > 0 }
func (l *Level) SkippingCutscene() bool { return l.skipping }
func (l *Level) Transitioning() bool    { return l.transition > 0 }
func (l *Level) Paused() bool           { return l.paused }
func (l *Level) Session() *host.Session { return l.sess }
func (l *Level) Room() *Room            { return l.room }
func (l *Level) Complete() bool         { return l.complete }

func (l *Level) SkipCutscene() {
	if l.cutscene > 0 {
		l.skipping = true
	}
}

func (l *Level) Player() host.Player {
	if l.player == nil {
		return nil
	}
	return l.player
}

// Framebuffer returns the image produced by the last Draw.
func (l *Level) Framebuffer() (*image.RGBA, error) {
	if l.frame == nil {
		return nil, errors.New("nothing drawn yet")
	}
	return l.frame, nil
}

// TeleportTo moves p into the named room at the session's respawn point,
// or at the room spawn when the session has none.
func (l *Level) TeleportTo(p host.Player, level string, intro host.IntroType) {
	room, ok := l.m.Room(level)
	if !ok {
		l.log.Printf("teleport to unknown room %q ignored", level)
		return
	}
	pl, ok := p.(*Player)
	if !ok || pl == nil {
		pl = l.player
	}
	l.room = room
	l.sess.Level = room.Name
	l.transition = 0
	l.nextRoom = ""

	x, y := room.Spawn()
	if rp := l.sess.RespawnPoint; rp != nil {
		x, y = rp.X, rp.Y
	}
	pl.placeAt(x, y)
	switch intro {
	case host.IntroRespawn:
		pl.freeze = freezeAfter
	case host.IntroTransition:
		l.transition = transitionFrames
		l.nextRoom = room.Name
	}
	l.player = pl
}

// enter loads room r after a transition and moves the player to its spawn.
func (l *Level) enter(r *Room) {
	l.room = r
	l.sess.Level = r.Name
	l.sess.DeathsInCurrentLevel = 0
	x, y := r.Spawn()
	l.sess.RespawnPoint = &host.Vec2{X: x, Y: y}
	if l.roomIndex(r.Name) > l.roomIndex(l.sess.FurthestSeenLevel) {
		l.sess.FurthestSeenLevel = r.Name
	}
	l.player.placeAt(x, y)
}

func (l *Level) roomIndex(name string) int {
	for i := range l.m.Rooms {
		if l.m.Rooms[i].Name == name {
			return i
		}
	}
	return -1
}

func (l *Level) update(in stepInput) {
	if l.paused {
		return
	}
	l.sess.Time++

	if l.cutscene > 0 {
		if l.skipping && l.cutscene > skipFrames {
			l.cutscene = skipFrames
		}
		l.cutscene--
		if l.cutscene == 0 {
			l.skipping = false
		}
		return
	}

	if l.transition > 0 {
		l.transition--
		if l.transition == 0 && l.nextRoom != "" && l.nextRoom != l.room.Name {
			if r, ok := l.m.Room(l.nextRoom); ok {
				l.log.Printf("entered room %s", r.Name)
				l.enter(r)
			}
		}
		if l.transition == 0 {
			l.nextRoom = ""
		}
		return
	}

	p := l.player
	if p.dead {
		p.deadTimer--
		if p.deadTimer <= 0 {
			x, y := l.room.Spawn()
			if rp := l.sess.RespawnPoint; rp != nil {
				x, y = rp.X, rp.Y
			}
			p.placeAt(x, y)
			p.freeze = freezeAfter
		}
		return
	}

	dashes := l.sess.Inventory.Dashes
	p.step(l.room, in, &l.sess.Inventory)
	if l.sess.Inventory.Dashes < dashes {
		l.sess.Dashes++
	}
	if p.dead {
		l.sess.Deaths++
		l.sess.DeathsInCurrentLevel++
		return
	}
	l.touch()
}

// touch handles pickups, checkpoints and exits under the player.
func (l *Level) touch() {
	p := l.player
	s := l.sess
	if s.Strawberries == nil {
		s.Strawberries = map[host.EntityID]bool{}
	}
	if s.DoNotLoad == nil {
		s.DoNotLoad = map[host.EntityID]bool{}
	}
	if s.Flags == nil {
		s.Flags = map[string]bool{}
	}
	x0, y0, x1, y1 := tiles(p.Pos.X, p.Pos.Y)
	exit := false
	for ty := y0; ty <= y1; ty++ {
		for tx := x0; tx <= x1; tx++ {
			switch l.room.At(tx, ty) {
			case TileBerry:
				id, _ := l.room.BerryID(tx, ty)
				key := entity(l.room.Name, id)
				if !l.sess.Strawberries[key] {
					l.sess.Strawberries[key] = true
					l.sess.DoNotLoad[key] = true
					l.log.Printf("strawberry %s:%d collected", key.Level, key.ID)
				}
			case TileCheckpoint:
				if !l.sess.Flags["checkpoint:"+l.room.Name] {
					l.sess.Flags["checkpoint:"+l.room.Name] = true
					l.sess.HitCheckpoint = true
					l.sess.RespawnPoint = &host.Vec2{X: float64(tx * TileSize), Y: float64(ty * TileSize)}
				}
			case TileExit:
				exit = true
			}
		}
	}
	if !exit {
		return
	}
	if l.room.Next == "" {
		if !l.complete {
			l.complete = true
			l.sess.HeartGem = true
			l.log.Printf("chapter %s complete", l.m.Name)
		}
		return
	}
	l.transition = transitionFrames
	l.nextRoom = l.room.Next
}

func entity(room string, id int) host.EntityID { return host.EntityID{Level: room, ID: id} }
