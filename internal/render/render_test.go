package render

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/footfall.report/internal/crossing"
)

func canvas(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	fillRect(img, img.Bounds(), c)
	return img
}

func countColor(img *image.RGBA, r image.Rectangle, c color.RGBA) int {
	n := 0
	r = r.Intersect(img.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if img.RGBAAt(x, y) == c {
				n++
			}
		}
	}
	return n
}

func TestCloneIsIndependent(t *testing.T) {
	t.Parallel()
	src := canvas(4, 4, color.RGBA{1, 2, 3, 255})
	dst := Clone(src)
	dst.SetRGBA(0, 0, color.RGBA{9, 9, 9, 255})
	assert.Equal(t, color.RGBA{1, 2, 3, 255}, src.RGBAAt(0, 0))
	assert.Equal(t, src.Bounds(), dst.Bounds())
}

func TestCloneRebasesOrigin(t *testing.T) {
	t.Parallel()
	src := canvas(10, 10, color.RGBA{5, 5, 5, 255}).SubImage(image.Rect(2, 2, 6, 6))
	assert.Equal(t, image.Rect(0, 0, 4, 4), Clone(src).Bounds())
}

func TestDrawTrackColours(t *testing.T) {
	t.Parallel()
	black := color.RGBA{0, 0, 0, 255}

	tests := []struct {
		event crossing.Direction
		want  color.RGBA
	}{
		{crossing.None, ColorBox},
		{crossing.Entry, ColorEntry},
		{crossing.Exit, ColorExit},
	}
	for _, tt := range tests {
		t.Run(tt.event.String(), func(t *testing.T) {
			img := canvas(200, 200, black)
			DrawTrack(img, TrackOverlay{
				ID:       7,
				Box:      image.Rect(50, 60, 100, 160),
				Centroid: image.Pt(75, 110),
			}, false)

			assert.Equal(t, tt.want, img.RGBAAt(50, 100), "left edge")
			assert.Equal(t, tt.want, img.RGBAAt(52, 100), "edge is 3px wide")
			assert.Equal(t, black, img.RGBAAt(53, 100))
			assert.Equal(t, tt.want, img.RGBAAt(75, 110), "centroid dot")
			assert.Equal(t, tt.want, img.RGBAAt(79, 110), "dot radius 5")
			assert.Equal(t, black, img.RGBAAt(81, 110))
			assert.Positive(t, countColor(img, image.Rect(50, 35, 110, 55), tt.want), "id label above the box")
		})
	}
}

func TestDrawTrackTrail(t *testing.T) {
	t.Parallel()
	black := color.RGBA{0, 0, 0, 255}
	trail := []image.Point{{20, 20}, {20, 60}, {20, 100}, {20, 140}}
	ov := TrackOverlay{ID: 1, Box: image.Rect(150, 150, 190, 190), Centroid: image.Pt(170, 170), Trail: trail}

	with := canvas(200, 200, black)
	DrawTrack(with, ov, true)
	without := canvas(200, 200, black)
	DrawTrack(without, ov, false)

	assert.Equal(t, ColorBox, with.RGBAAt(20, 80))
	assert.Equal(t, black, without.RGBAAt(20, 80))

	// The newest segment is the thickest.
	assert.Equal(t, ColorBox, with.RGBAAt(19, 120))
	assert.Equal(t, black, with.RGBAAt(19, 40))
}

func TestDrawCountingLine(t *testing.T) {
	t.Parallel()
	img := canvas(320, 240, color.RGBA{0, 0, 0, 255})
	DrawCountingLine(img, 120)

	for _, x := range []int{0, 160, 319} {
		assert.Equal(t, ColorLine, img.RGBAAt(x, 119))
		assert.Equal(t, ColorLine, img.RGBAAt(x, 120))
		assert.Equal(t, ColorLine, img.RGBAAt(x, 121))
	}
	assert.Positive(t, countColor(img, image.Rect(10, 95, 120, 112), ColorLine), "caption")
}

func TestDrawPanel(t *testing.T) {
	t.Parallel()
	white := color.RGBA{255, 255, 255, 255}
	img := canvas(640, 480, white)
	DrawPanel(img, Panel{Entries: 3, Exits: 2, Active: 4, FPS: 24.96})

	assert.Equal(t, color.RGBA{77, 77, 77, 255}, img.RGBAAt(495, 215), "panel darkened to 30%")
	assert.Equal(t, white, img.RGBAAt(505, 215), "outside the panel")
	assert.Positive(t, countColor(img, image.Rect(250, 20, 320, 50), ColorEntry), "entries value")
	assert.Positive(t, countColor(img, image.Rect(250, 60, 320, 90), ColorExit), "exits value")
	assert.Positive(t, countColor(img, image.Rect(20, 20, 120, 50), ColorLabel), "entries label")
}

func TestPanelTotal(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 5, Panel{Entries: 3, Exits: 2}.Total())
}

func TestDrawingClipsAtEdges(t *testing.T) {
	t.Parallel()
	img := canvas(20, 20, color.RGBA{0, 0, 0, 255})
	assert.NotPanics(t, func() {
		DrawTrack(img, TrackOverlay{ID: 1, Box: image.Rect(-10, -10, 30, 30), Centroid: image.Pt(19, 19),
			Trail: []image.Point{{-5, -5}, {25, 25}}}, true)
		DrawCountingLine(img, 0)
		DrawPanel(img, Panel{})
	})
}
