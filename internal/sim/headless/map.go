package headless

import (
	"embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed maps/*.yaml
var mapFS embed.FS

const TileSize = 8

// Tile glyphs used in map files.
const (
	TileEmpty      = '.'
	TileSolid      = '#'
	TileSpike      = '^'
	TileExit       = 'E'
	TileSpawn      = 'S'
	TileBerry      = '*'
	TileCheckpoint = 'C'
)

type Map struct {
	Name        string `yaml:"name"`
	IntroFrames int    `yaml:"intro_frames"`
	Rooms       []Room `yaml:"rooms"`
}

type Room struct {
	Name  string   `yaml:"name"`
	Next  string   `yaml:"next"`
	Tiles []string `yaml:"tiles"`

	width, height int
	spawn         [2]int
	berries       map[[2]int]int
}

func (r *Room) Width() int  { return r.width }
func (r *Room) Height() int { return r.height }

// At returns the glyph at tile (tx, ty). Outside the room the sides and the
// ceiling read as solid and the floor as empty, so a player can fall out.
func (r *Room) At(tx, ty int) byte {
	if tx < 0 || tx >= r.width || ty < 0 {
		return TileSolid
	}
	if ty >= r.height {
		return TileEmpty
	}
	return r.Tiles[ty][tx]
}

// BerryID returns the entity id of the strawberry at tile (tx, ty).
func (r *Room) BerryID(tx, ty int) (int, bool) {
	id, ok := r.berries[[2]int{tx, ty}]
	return id, ok
}

// Spawn is the pixel position of the room's spawn marker.
func (r *Room) Spawn() (x, y float64) {
	return float64(r.spawn[0] * TileSize), float64(r.spawn[1] * TileSize)
}

// DefaultMap is the built-in three-room prologue.
func DefaultMap() (Map, error) {
	raw, err := mapFS.ReadFile("maps/prologue.yaml")
	if err != nil {
		return Map{}, err
	}
	return ParseMap(raw)
}

func LoadMap(path string) (Map, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Map{}, err
	}
	m, err := ParseMap(raw)
	if err != nil {
		return Map{}, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

func ParseMap(raw []byte) (Map, error) {
	var m Map
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("map yaml: %w", err)
	}
	if err := m.init(); err != nil {
		return m, err
	}
	return m, nil
}

func (m *Map) init() error {
	if len(m.Rooms) == 0 {
		return fmt.Errorf("map %q has no rooms", m.Name)
	}
	if m.IntroFrames < 0 {
		return fmt.Errorf("intro_frames must be >= 0")
	}
	names := map[string]bool{}
	for i := range m.Rooms {
		r := &m.Rooms[i]
		if r.Name == "" {
			return fmt.Errorf("room %d has no name", i)
		}
		if names[r.Name] {
			return fmt.Errorf("duplicate room %q", r.Name)
		}
		names[r.Name] = true
		if len(r.Tiles) == 0 {
			return fmt.Errorf("room %q has no tiles", r.Name)
		}
		r.width, r.height = len(r.Tiles[0]), len(r.Tiles)
		spawns := 0
		r.berries = map[[2]int]int{}
		for y, row := range r.Tiles {
			if len(row) != r.width {
				return fmt.Errorf("room %q row %d is %d wide, want %d", r.Name, y, len(row), r.width)
			}
			for x := 0; x < len(row); x++ {
				switch row[x] {
				case TileSpawn:
					spawns++
					r.spawn = [2]int{x, y}
				case TileBerry:
					r.berries[[2]int{x, y}] = len(r.berries)
				case TileEmpty, TileSolid, TileSpike, TileExit, TileCheckpoint:
				default:
					return fmt.Errorf("room %q has unknown tile %q at %d,%d", r.Name, row[x], x, y)
				}
			}
		}
		if spawns != 1 {
			return fmt.Errorf("room %q needs exactly one spawn, has %d", r.Name, spawns)
		}
	}
	for _, r := range m.Rooms {
		if r.Next != "" && !names[r.Next] {
			return fmt.Errorf("room %q leads to unknown room %q", r.Name, r.Next)
		}
	}
	return nil
}

func (m *Map) Room(name string) (*Room, bool) {
	for i := range m.Rooms {
		if m.Rooms[i].Name == name {
			return &m.Rooms[i], true
		}
	}
	return nil, false
}
