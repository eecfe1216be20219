package render

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Clone copies src into a new RGBA image anchored at the origin.
func Clone(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Copy(dst, image.Point{}, src, b, draw.Src, nil)
	return dst
}

// fillRect paints r (clipped to img) with c.
func fillRect(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	draw.Draw(img, r.Intersect(img.Bounds()), image.NewUniform(c), image.Point{}, draw.Src)
}

// drawRect outlines r with a border of the given thickness drawn inward.
func drawRect(img *image.RGBA, r image.Rectangle, c color.RGBA, thickness int) {
	if thickness < 1 {
		thickness = 1
	}
	t := thickness
	fillRect(img, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+t), c)
	fillRect(img, image.Rect(r.Min.X, r.Max.Y-t, r.Max.X, r.Max.Y), c)
	fillRect(img, image.Rect(r.Min.X, r.Min.Y, r.Min.X+t, r.Max.Y), c)
	fillRect(img, image.Rect(r.Max.X-t, r.Min.Y, r.Max.X, r.Max.Y), c)
}

// drawLine draws a segment with a square brush using Bresenham stepping.
func drawLine(img *image.RGBA, a, b image.Point, c color.RGBA, thickness int) {
	if thickness < 1 {
		thickness = 1
	}
	half := thickness / 2
	dx, dy := abs(b.X-a.X), -abs(b.Y-a.Y)
	sx, sy := 1, 1
	if a.X > b.X {
		sx = -1
	}
	if a.Y > b.Y {
		sy = -1
	}
	err := dx + dy
	x, y := a.X, a.Y
	for {
		fillRect(img, image.Rect(x-half, y-half, x-half+thickness, y-half+thickness), c)
		if x == b.X && y == b.Y {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x += sx
		}
		if e2 <= dx {
			err += dx
			y += sy
		}
	}
}

// fillCircle paints a filled disc of radius r centred on p.
func fillCircle(img *image.RGBA, p image.Point, r int, c color.RGBA) {
	bounds := img.Bounds()
	for y := p.Y - r; y <= p.Y+r; y++ {
		for x := p.X - r; x <= p.X+r; x++ {
			dx, dy := x-p.X, y-p.Y
			if dx*dx+dy*dy <= r*r && image.Pt(x, y).In(bounds) {
				img.SetRGBA(x, y, c)
			}
		}
	}
}

// darken blends r toward black: out = (1-alpha)*img, matching an opaque
// black rectangle laid over the frame at the given alpha.
func darken(img *image.RGBA, r image.Rectangle, alpha float64) {
	r = r.Intersect(img.Bounds())
	keep := 1 - alpha
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			i := img.PixOffset(x, y)
			img.Pix[i+0] = uint8(float64(img.Pix[i+0])*keep + 0.5)
			img.Pix[i+1] = uint8(float64(img.Pix[i+1])*keep + 0.5)
			img.Pix[i+2] = uint8(float64(img.Pix[i+2])*keep + 0.5)
		}
	}
}

// textWidth is the advance of s in the 7x13 face at scale 1.
func textWidth(s string) int {
	return font.MeasureString(basicfont.Face7x13, s).Ceil()
}

// drawText writes s with its baseline at p. scale > 1 renders the glyphs
// into a scratch image and enlarges them with nearest-neighbour sampling.
func drawText(img *image.RGBA, p image.Point, s string, c color.RGBA, scale int) {
	if s == "" {
		return
	}
	face := basicfont.Face7x13
	if scale <= 1 {
		d := &font.Drawer{
			Dst:  img,
			Src:  image.NewUniform(c),
			Face: face,
			Dot:  fixed.P(p.X, p.Y),
		}
		d.DrawString(s)
		return
	}

	ascent := face.Ascent
	h := face.Height
	w := textWidth(s)
	glyphs := image.NewRGBA(image.Rect(0, 0, w, h))
	d := &font.Drawer{
		Dst:  glyphs,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(0, ascent),
	}
	d.DrawString(s)

	top := p.Y - ascent*scale
	dst := image.Rect(p.X, top, p.X+w*scale, top+h*scale)
	draw.NearestNeighbor.Scale(img, dst, glyphs, glyphs.Bounds(), draw.Over, nil)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
