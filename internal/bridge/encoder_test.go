package bridge

import (
	"bytes"
	"errors"
	"image"
	"testing"

	"lockstep.ai/internal/host"
	"lockstep.ai/internal/host/hosttest"
)

func TestEncoder_PixelLayout(t *testing.T) {
	h := hosttest.New("a-00", 5, 3)
	e := NewEncoder(host.Vec2{X: 2000, Y: 60})

	c, ok, err := e.Encode(h.Lvl)
	if err != nil || !ok {
		t.Fatalf("Encode: ok=%v err=%v", ok, err)
	}
	obs := c.Observation
	if obs.ScreenWidth != 5 || obs.ScreenHeight != 3 {
		t.Fatalf("dims = %dx%d", obs.ScreenWidth, obs.ScreenHeight)
	}
	px, err := obs.Pixels()
	if err != nil {
		t.Fatalf("Pixels: %v", err)
	}
	if len(px) != 5*3*4 {
		t.Fatalf("payload = %d bytes", len(px))
	}
	for y := 0; y < 3; y++ {
		for x := 0; x < 5; x++ {
			i := 4 * (y*5 + x)
			want := []byte{uint8(x), uint8(y), uint8(x ^ y), 255}
			if !bytes.Equal(px[i:i+4], want) {
				t.Fatalf("pixel (%d,%d) = %v, want %v", x, y, px[i:i+4], want)
			}
		}
	}
	if !bytes.Equal(px, c.Pixels) {
		t.Fatalf("raw pixels and payload differ")
	}
	if obs.TargetX != 2000 || obs.TargetY != 60 {
		t.Fatalf("target = %v,%v", obs.TargetX, obs.TargetY)
	}
	if obs.PlayerX != 10 || obs.PlayerY != 20 || obs.PlayerDied {
		t.Fatalf("player fields = %+v", obs)
	}
	if obs.LevelName != "a-00" {
		t.Fatalf("level = %q", obs.LevelName)
	}
}

func TestPackRGBA_SubImage(t *testing.T) {
	full := hosttest.Gradient(8, 8)
	sub := full.SubImage(image.Rect(2, 3, 5, 5)).(*image.RGBA)

	w, h, pix, err := PackRGBA(sub)
	if err != nil {
		t.Fatalf("PackRGBA: %v", err)
	}
	if w != 3 || h != 2 || len(pix) != 3*2*4 {
		t.Fatalf("got %dx%d len=%d", w, h, len(pix))
	}
	// Top-left of the packed buffer is pixel (2,3) of the full frame.
	if pix[0] != 2 || pix[1] != 3 {
		t.Fatalf("first pixel = %v", pix[:4])
	}
	// Second row starts at (2,4).
	if pix[12] != 2 || pix[13] != 4 {
		t.Fatalf("second row = %v", pix[12:16])
	}

	if _, _, _, err := PackRGBA(nil); err == nil {
		t.Fatalf("expected error for nil image")
	}
}

func TestEncoder_ReachedNextRoom(t *testing.T) {
	h := hosttest.New("a-00", 2, 2)
	e := NewEncoder(host.Vec2{})

	rooms := []string{"a-00", "a-00", "a-01", "a-01", "a-01", "a-02", "a-00"}
	want := []bool{false, false, true, false, false, true, true}
	for i, room := range rooms {
		h.Lvl.Sess.Level = room
		c, ok, err := e.Encode(h.Lvl)
		if err != nil || !ok {
			t.Fatalf("step %d: ok=%v err=%v", i, ok, err)
		}
		if c.Observation.ReachedNextRoom != want[i] {
			t.Fatalf("step %d (%s): reached=%v want %v", i, room, c.Observation.ReachedNextRoom, want[i])
		}
	}

	// After Forget the next observation is a first observation again.
	e.Forget()
	h.Lvl.Sess.Level = "b-00"
	c, _, _ := e.Encode(h.Lvl)
	if c.Observation.ReachedNextRoom {
		t.Fatalf("first observation after Forget must not report a room change")
	}
}

func TestEncoder_PlayerFallback(t *testing.T) {
	h := hosttest.New("a-00", 1, 1)
	p := h.Lvl.P
	h.Lvl.P = nil
	e := NewEncoder(host.Vec2{})

	if _, ok, err := e.Encode(h.Lvl); ok || err != nil {
		t.Fatalf("no player ever seen: want no observation, got ok=%v err=%v", ok, err)
	}

	h.Lvl.P = p
	if _, ok, _ := e.Encode(h.Lvl); !ok {
		t.Fatalf("expected observation with player present")
	}

	p.Pos = host.Vec2{X: 99, Y: 98}
	p.IsDead = true
	h.Lvl.P = nil
	c, ok, err := e.Encode(h.Lvl)
	if !ok || err != nil {
		t.Fatalf("fallback: ok=%v err=%v", ok, err)
	}
	if c.Observation.PlayerX != 99 || c.Observation.PlayerY != 98 || !c.Observation.PlayerDied {
		t.Fatalf("fallback should read the last seen player: %+v", c.Observation)
	}
}

func TestEncoder_FramebufferErrorLeavesMemory(t *testing.T) {
	h := hosttest.New("a-00", 1, 1)
	e := NewEncoder(host.Vec2{})
	if _, _, err := e.Encode(h.Lvl); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	h.Lvl.Sess.Level = "a-01"
	h.Lvl.FrameErr = errors.New("device lost")
	if _, ok, err := e.Encode(h.Lvl); err == nil || ok {
		t.Fatalf("expected framebuffer error")
	}

	h.Lvl.FrameErr = nil
	c, _, _ := e.Encode(h.Lvl)
	if !c.Observation.ReachedNextRoom {
		t.Fatalf("room change must still be reported after a failed capture")
	}
}
