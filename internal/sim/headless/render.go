package headless

import (
	"image"
	"image/color"
	"image/draw"
)

var (
	colorSky        = color.RGBA{R: 24, G: 22, B: 44, A: 255}
	colorSolid      = color.RGBA{R: 92, G: 80, B: 120, A: 255}
	colorSpike      = color.RGBA{R: 222, G: 222, B: 236, A: 255}
	colorExit       = color.RGBA{R: 56, G: 150, B: 92, A: 255}
	colorBerry      = color.RGBA{R: 232, G: 48, B: 72, A: 255}
	colorCheckpoint = color.RGBA{R: 240, G: 196, B: 64, A: 255}
	colorHair       = color.RGBA{R: 172, G: 50, B: 50, A: 255}
	colorHairEmpty  = color.RGBA{R: 68, G: 182, B: 255, A: 255}
	colorDead       = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	colorBars       = color.RGBA{A: 255}
)

func fill(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	draw.Draw(img, r, &image.Uniform{C: c}, image.Point{}, draw.Src)
}

func (l *Level) render() {
	room := l.room
	bounds := image.Rect(0, 0, room.Width()*TileSize, room.Height()*TileSize)
	if l.frame == nil || l.frame.Bounds() != bounds {
		l.frame = image.NewRGBA(bounds)
	}
	img := l.frame
	fill(img, bounds, colorSky)

	for ty := 0; ty < room.Height(); ty++ {
		for tx := 0; tx < room.Width(); tx++ {
			r := image.Rect(tx*TileSize, ty*TileSize, (tx+1)*TileSize, (ty+1)*TileSize)
			switch room.At(tx, ty) {
			case TileSolid:
				fill(img, r, colorSolid)
			case TileSpike:
				fill(img, image.Rect(r.Min.X, r.Min.Y+TileSize/2, r.Max.X, r.Max.Y), colorSpike)
			case TileExit:
				fill(img, r, colorExit)
			case TileCheckpoint:
				fill(img, image.Rect(r.Min.X+3, r.Min.Y, r.Min.X+5, r.Max.Y), colorCheckpoint)
			case TileBerry:
				id, _ := room.BerryID(tx, ty)
				if !l.sess.DoNotLoad[entity(room.Name, id)] {
					fill(img, r.Inset(2), colorBerry)
				}
			}
		}
	}

	if p := l.player; p != nil {
		c := colorHair
		switch {
		case p.dead:
			c = colorDead
		case l.sess.Inventory.Dashes == 0:
			c = colorHairEmpty
		}
		x, y := int(p.Pos.X), int(p.Pos.Y)
		fill(img, image.Rect(x, y, x+playerW, y+playerH), c)
	}

	if l.cutscene > 0 {
		bar := 2 * TileSize
		fill(img, image.Rect(0, 0, bounds.Dx(), bar), colorBars)
		fill(img, image.Rect(0, bounds.Dy()-bar, bounds.Dx(), bounds.Dy()), colorBars)
	}
	if l.transition > 0 || l.paused {
		dim(img)
	}
}

// dim halves every color channel, leaving alpha alone.
func dim(img *image.RGBA) {
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] /= 2
		img.Pix[i+1] /= 2
		img.Pix[i+2] /= 2
	}
}
