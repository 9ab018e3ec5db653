package bridge

import (
	"io"
	"log"

	"lockstep.ai/internal/host"
)

// episodeStart holds the session fields an episode reset puts back. Nothing
// else in the session is touched: the engine keeps references into it, and
// bookkeeping like play time and death counts must survive resets.
type episodeStart struct {
	Level             string
	RespawnPoint      *host.Vec2
	Inventory         host.Inventory
	Flags             map[string]bool
	LevelFlags        map[string]bool
	Strawberries      map[host.EntityID]bool
	DoNotLoad         map[host.EntityID]bool
	Keys              map[host.EntityID]bool
	Counters          []host.Counter
	FurthestSeenLevel string
	StartCheckpoint   string
	ColorGrade        string
	SummitGems        []bool
	FirstLevel        bool
	Cassette          bool
	HeartGem          bool
	Dreaming          bool
	GrabbedGolden     bool
	HitCheckpoint     bool
}

func captureStart(s *host.Session) *episodeStart {
	return &episodeStart{
		Level:             s.Level,
		RespawnPoint:      cloneVec(s.RespawnPoint),
		Inventory:         s.Inventory,
		Flags:             cloneSet(s.Flags),
		LevelFlags:        cloneSet(s.LevelFlags),
		Strawberries:      cloneSet(s.Strawberries),
		DoNotLoad:         cloneSet(s.DoNotLoad),
		Keys:              cloneSet(s.Keys),
		Counters:          cloneSlice(s.Counters),
		FurthestSeenLevel: s.FurthestSeenLevel,
		StartCheckpoint:   s.StartCheckpoint,
		ColorGrade:        s.ColorGrade,
		SummitGems:        cloneSlice(s.SummitGems),
		FirstLevel:        s.FirstLevel,
		Cassette:          s.Cassette,
		HeartGem:          s.HeartGem,
		Dreaming:          s.Dreaming,
		GrabbedGolden:     s.GrabbedGolden,
		HitCheckpoint:     s.HitCheckpoint,
	}
}

func (e *episodeStart) clone() *episodeStart {
	c := *e
	c.RespawnPoint = cloneVec(e.RespawnPoint)
	c.Flags = cloneSet(e.Flags)
	c.LevelFlags = cloneSet(e.LevelFlags)
	c.Strawberries = cloneSet(e.Strawberries)
	c.DoNotLoad = cloneSet(e.DoNotLoad)
	c.Keys = cloneSet(e.Keys)
	c.Counters = cloneSlice(e.Counters)
	c.SummitGems = cloneSlice(e.SummitGems)
	return &c
}

// applyTo overwrites the curated fields of s in place.
func (e *episodeStart) applyTo(s *host.Session) {
	s.Level = e.Level
	s.RespawnPoint = e.RespawnPoint
	s.Inventory = e.Inventory
	s.Flags = e.Flags
	s.LevelFlags = e.LevelFlags
	s.Strawberries = e.Strawberries
	s.DoNotLoad = e.DoNotLoad
	s.Keys = e.Keys
	s.Counters = e.Counters
	s.FurthestSeenLevel = e.FurthestSeenLevel
	s.StartCheckpoint = e.StartCheckpoint
	s.ColorGrade = e.ColorGrade
	s.SummitGems = e.SummitGems
	s.FirstLevel = e.FirstLevel
	s.Cassette = e.Cassette
	s.HeartGem = e.HeartGem
	s.Dreaming = e.Dreaming
	s.GrabbedGolden = e.GrabbedGolden
	s.HitCheckpoint = e.HitCheckpoint
}

func cloneVec(v *host.Vec2) *host.Vec2 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneSet[K comparable](m map[K]bool) map[K]bool {
	if m == nil {
		return nil
	}
	out := make(map[K]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return append(make([]T, 0, len(s)), s...)
}

// Snapshots keeps the episode-start copy of the session for one control
// connection.
type Snapshots struct {
	log  *log.Logger
	snap *episodeStart
}

func NewSnapshots(logger *log.Logger) *Snapshots {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Snapshots{log: logger}
}

func (s *Snapshots) Has() bool { return s.snap != nil }

// Level is the level the held snapshot starts in, or "".
func (s *Snapshots) Level() string {
	if s.snap == nil {
		return ""
	}
	return s.snap.Level
}

// Capture replaces the held snapshot with a copy of sess. A nil session
// keeps whatever was held before.
func (s *Snapshots) Capture(sess *host.Session) bool {
	if sess == nil {
		s.log.Printf("snapshot: no session to capture")
		return false
	}
	s.snap = captureStart(sess)
	s.log.Printf("snapshot: saved session state for level %s", s.snap.Level)
	return true
}

// Restore writes the snapshot back into the level's live session and
// respawns p at the snapshot's level. It does nothing without a snapshot,
// a session or a player.
func (s *Snapshots) Restore(lvl host.Level, p host.Player) bool {
	if s.snap == nil || lvl == nil || p == nil {
		return false
	}
	sess := lvl.Session()
	if sess == nil {
		s.log.Printf("snapshot: level has no session, restore skipped")
		return false
	}
	start := s.snap.clone()
	start.applyTo(sess)
	lvl.TeleportTo(p, start.Level, host.IntroRespawn)
	s.log.Printf("snapshot: restored session state for level %s", sess.Level)
	return true
}

func (s *Snapshots) Clear() { s.snap = nil }
