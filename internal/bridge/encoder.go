package bridge

import (
	"encoding/base64"
	"errors"
	"fmt"
	"image"

	"lockstep.ai/internal/host"
	"lockstep.ai/internal/protocol"
)

// Capture is one encoded observation plus the raw bytes behind its pixel
// payload.
type Capture struct {
	Observation protocol.Observation
	Pixels      []byte
}

// Encoder turns the host's per-frame state into observations. It remembers
// the last player it saw, so a frame where the player is briefly missing
// from the scene still produces an observation, and the last room, so it
// can report room changes.
type Encoder struct {
	target host.Vec2

	lastPlayer host.Player
	lastRoom   string
	haveRoom   bool
}

func NewEncoder(target host.Vec2) *Encoder {
	return &Encoder{target: target}
}

// Encode returns false when no player has been seen yet.
func (e *Encoder) Encode(lvl host.Level) (Capture, bool, error) {
	if lvl == nil {
		return Capture{}, false, nil
	}
	p := lvl.Player()
	if p == nil {
		if e.lastPlayer == nil {
			return Capture{}, false, nil
		}
		p = e.lastPlayer
	}

	img, err := lvl.Framebuffer()
	if err != nil {
		return Capture{}, false, fmt.Errorf("framebuffer: %w", err)
	}
	w, h, pix, err := PackRGBA(img)
	if err != nil {
		return Capture{}, false, err
	}

	room := ""
	if s := lvl.Session(); s != nil {
		room = s.Level
	}
	reached := e.haveRoom && room != e.lastRoom

	e.lastPlayer = p
	e.lastRoom = room
	e.haveRoom = true

	pos := p.Position()
	return Capture{
		Observation: protocol.Observation{
			PlayerX:            pos.X,
			PlayerY:            pos.Y,
			PlayerDied:         p.Dead(),
			ReachedNextRoom:    reached,
			TargetX:            e.target.X,
			TargetY:            e.target.Y,
			ScreenWidth:        w,
			ScreenHeight:       h,
			ScreenPixelsBase64: base64.StdEncoding.EncodeToString(pix),
			LevelName:          room,
		},
		Pixels: pix,
	}, true, nil
}

// Forget drops the remembered player and room. The next observation reports
// no room change.
func (e *Encoder) Forget() {
	e.lastPlayer = nil
	e.lastRoom = ""
	e.haveRoom = false
}

// PackRGBA copies img into a tightly packed, row-major RGBA buffer,
// dropping any stride padding and sub-image offset.
func PackRGBA(img *image.RGBA) (w, h int, pix []byte, err error) {
	if img == nil {
		return 0, 0, nil, errors.New("framebuffer: nil image")
	}
	b := img.Bounds()
	w, h = b.Dx(), b.Dy()
	row := w * 4
	pix = make([]byte, row*h)
	for y := 0; y < h; y++ {
		off := img.PixOffset(b.Min.X, b.Min.Y+y)
		copy(pix[y*row:(y+1)*row], img.Pix[off:off+row])
	}
	return w, h, pix, nil
}
