package host

// EntityID names a placed entity: the room it lives in plus its index there.
type EntityID struct {
	Level string `json:"level"`
	ID    int    `json:"id"`
}

type Inventory struct {
	Dashes    int  `json:"dashes"`
	DreamDash bool `json:"dream_dash"`
	Backpack  bool `json:"backpack"`
	NoRefills bool `json:"no_refills"`
}

type Counter struct {
	Key   string `json:"key"`
	Value int    `json:"value"`
}

// Session is the engine's live, mutable per-playthrough state. The engine
// holds references to it, so the bridge must never replace the object, only
// its field values.
type Session struct {
	Level             string            `json:"level"`
	RespawnPoint      *Vec2             `json:"respawn_point,omitempty"`
	Inventory         Inventory         `json:"inventory"`
	Flags             map[string]bool   `json:"flags,omitempty"`
	LevelFlags        map[string]bool   `json:"level_flags,omitempty"`
	Strawberries      map[EntityID]bool `json:"-"`
	DoNotLoad         map[EntityID]bool `json:"-"`
	Keys              map[EntityID]bool `json:"-"`
	Counters          []Counter         `json:"counters,omitempty"`
	FurthestSeenLevel string            `json:"furthest_seen_level"`
	StartCheckpoint   string            `json:"start_checkpoint,omitempty"`
	ColorGrade        string            `json:"color_grade,omitempty"`
	SummitGems        []bool            `json:"summit_gems,omitempty"`
	FirstLevel        bool              `json:"first_level"`
	Cassette          bool              `json:"cassette"`
	HeartGem          bool              `json:"heart_gem"`
	Dreaming          bool              `json:"dreaming"`
	GrabbedGolden     bool              `json:"grabbed_golden"`
	HitCheckpoint     bool              `json:"hit_checkpoint"`

	// Engine bookkeeping that survives an episode reset.
	Area                 string `json:"area"`
	Time                 int64  `json:"time"`
	Deaths               int    `json:"deaths"`
	DeathsInCurrentLevel int    `json:"deaths_in_current_level"`
	Dashes               int    `json:"dashes"`
}

func NewSession(area, level string) *Session {
	return &Session{
		Area:              area,
		Level:             level,
		FurthestSeenLevel: level,
		Flags:             map[string]bool{},
		LevelFlags:        map[string]bool{},
		Strawberries:      map[EntityID]bool{},
		DoNotLoad:         map[EntityID]bool{},
		Keys:              map[EntityID]bool{},
		SummitGems:        make([]bool, 6),
		FirstLevel:        true,
	}
}

func (s *Session) SetCounter(key string, v int) {
	for i := range s.Counters {
		if s.Counters[i].Key == key {
			s.Counters[i].Value = v
			return
		}
	}
	s.Counters = append(s.Counters, Counter{Key: key, Value: v})
}

func (s *Session) Counter(key string) int {
	for _, c := range s.Counters {
		if c.Key == key {
			return c.Value
		}
	}
	return 0
}
