// Package render draws the counting overlays onto frames: track boxes and
// trails, the counting line and the statistics panel.
package render

import (
	"fmt"
	"image"
	"image/color"

	"github.com/banshee-data/footfall.report/internal/crossing"
)

// Palette used by the overlays.
var (
	ColorLine   = color.RGBA{255, 255, 0, 255}
	ColorBox    = color.RGBA{0, 255, 0, 255}
	ColorEntry  = color.RGBA{0, 255, 0, 255}
	ColorExit   = color.RGBA{255, 0, 0, 255}
	ColorText   = color.RGBA{255, 255, 255, 255}
	ColorLabel  = color.RGBA{200, 200, 200, 255}
	ColorActive = color.RGBA{0, 165, 255, 255}
	ColorFPS    = color.RGBA{255, 255, 0, 255}
)

// Stroke widths and panel geometry.
const (
	boxThickness  = 3
	lineThickness = 3
	centroidR     = 5

	panelAlpha   = 0.7
	panelRowStep = 40
	panelTop     = 45
	labelX       = 20
	valueX       = 250
)

// PanelRect is the statistics panel area.
var PanelRect = image.Rect(10, 10, 500, 220)

// TrackOverlay is everything needed to draw one confirmed track.
type TrackOverlay struct {
	ID       int
	Box      image.Rectangle
	Centroid image.Point
	Trail    []image.Point
	// Event is the crossing recorded for this track in the current frame.
	Event crossing.Direction
}

// Panel holds the values shown in the statistics panel.
type Panel struct {
	Entries int
	Exits   int
	Active  int
	FPS     float64
}

// Total is derived.
func (p Panel) Total() int { return p.Entries + p.Exits }

func eventColor(d crossing.Direction) color.RGBA {
	switch d {
	case crossing.Entry:
		return ColorEntry
	case crossing.Exit:
		return ColorExit
	}
	return ColorBox
}

// DrawTrack draws the box, id label, optional trail and centroid dot.
// The colour reflects a crossing recorded in this frame.
func DrawTrack(img *image.RGBA, t TrackOverlay, trails bool) {
	c := eventColor(t.Event)
	drawRect(img, t.Box, c, boxThickness)
	drawText(img, image.Pt(t.Box.Min.X, t.Box.Min.Y-10), fmt.Sprintf("ID:%d", t.ID), c, 1)

	if trails && len(t.Trail) > 1 {
		n := len(t.Trail)
		for i := 1; i < n; i++ {
			thickness := 3 * i / n
			if thickness < 1 {
				thickness = 1
			}
			drawLine(img, t.Trail[i-1], t.Trail[i], c, thickness)
		}
	}
	fillCircle(img, t.Centroid, centroidR, c)
}

// DrawCountingLine draws the horizontal line across the frame with its
// caption.
func DrawCountingLine(img *image.RGBA, y int) {
	b := img.Bounds()
	drawLine(img, image.Pt(b.Min.X, y), image.Pt(b.Max.X-1, y), ColorLine, lineThickness)
	drawText(img, image.Pt(b.Min.X+10, y-10), "COUNTING LINE", ColorLine, 1)
}

// DrawPanel darkens the panel area and writes the statistics rows.
func DrawPanel(img *image.RGBA, p Panel) {
	darken(img, PanelRect, panelAlpha)
	rows := []struct {
		label string
		value string
		c     color.RGBA
	}{
		{"ENTRIES", fmt.Sprint(p.Entries), ColorEntry},
		{"EXITS", fmt.Sprint(p.Exits), ColorExit},
		{"TOTAL", fmt.Sprint(p.Total()), ColorText},
		{"ACTIVE", fmt.Sprint(p.Active), ColorActive},
		{"FPS", fmt.Sprintf("%.1f", p.FPS), ColorFPS},
	}
	for i, r := range rows {
		y := panelTop + i*panelRowStep
		drawText(img, image.Pt(labelX, y), r.label, ColorLabel, 1)
		drawText(img, image.Pt(valueX, y), r.value, r.c, 2)
	}
}
