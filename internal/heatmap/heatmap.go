// Package heatmap accumulates a decaying spatial density of track centroids
// and renders it as a colour overlay.
package heatmap

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/palette/moreland"
)

// ErrResolutionChanged is returned when a frame size differs from the size
// the field was allocated with.
var ErrResolutionChanged = errors.New("heatmap: frame resolution changed")

// Defaults for a 30 FPS source.
const (
	DefaultDecay    = 0.95
	DefaultInterval = 3
	DefaultSigma    = 30.0
	DefaultWeight   = 0.5

	// MaxValue clamps every cell.
	MaxValue = 10.0

	baseAlpha = 0.7
	heatAlpha = 0.3
)

// Config holds the accumulator parameters.
type Config struct {
	Decay    float64
	Interval int
	Sigma    float64
	Weight   float64
}

// DefaultConfig returns the standard parameters.
func DefaultConfig() Config {
	return Config{
		Decay:    DefaultDecay,
		Interval: DefaultInterval,
		Sigma:    DefaultSigma,
		Weight:   DefaultWeight,
	}
}

// Accumulator is a width x height field of float64 heat values stored
// row-major in a gonum Dense matrix (rows are y, columns are x).
type Accumulator struct {
	cfg   Config
	field *mat.Dense
	w, h  int

	// scratch kernels reused across updates
	gx, gy []float64

	lut [256]color.RGBA
}

// New builds an accumulator. Non-positive parameters fall back to defaults.
func New(cfg Config) *Accumulator {
	def := DefaultConfig()
	if cfg.Decay <= 0 || cfg.Decay > 1 {
		cfg.Decay = def.Decay
	}
	if cfg.Interval < 1 {
		cfg.Interval = def.Interval
	}
	if cfg.Sigma <= 0 {
		cfg.Sigma = def.Sigma
	}
	if cfg.Weight <= 0 {
		cfg.Weight = def.Weight
	}
	a := &Accumulator{cfg: cfg}
	a.lut = buildLUT(moreland.ExtendedBlackBody())
	return a
}

// buildLUT samples cm at 256 evenly spaced points.
func buildLUT(cm palette.ColorMap) [256]color.RGBA {
	var lut [256]color.RGBA
	cm.SetMin(0)
	cm.SetMax(255)
	for i := range lut {
		c, err := cm.At(float64(i))
		if err != nil {
			// At only fails outside [min, max]; fall back to grey.
			lut[i] = color.RGBA{uint8(i), uint8(i), uint8(i), 255}
			continue
		}
		lut[i] = color.RGBAModel.Convert(c).(color.RGBA)
		lut[i].A = 255
	}
	return lut
}

// Config returns the active parameters.
func (a *Accumulator) Config() Config { return a.cfg }

// Allocated reports whether a field exists yet.
func (a *Accumulator) Allocated() bool { return a.field != nil }

// Bounds returns the field size, zero before the first update.
func (a *Accumulator) Bounds() image.Rectangle { return image.Rect(0, 0, a.w, a.h) }

// Update adds a Gaussian centred on c, decays the whole field and clamps it.
// The update only applies when frameIndex is a multiple of the interval.
func (a *Accumulator) Update(frameIndex int, c image.Point, width, height int) error {
	if frameIndex%a.cfg.Interval != 0 {
		return nil
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("heatmap: invalid frame size %dx%d", width, height)
	}
	if a.field == nil {
		a.field = mat.NewDense(height, width, nil)
		a.w, a.h = width, height
		a.gx = make([]float64, width)
		a.gy = make([]float64, height)
	} else if width != a.w || height != a.h {
		return fmt.Errorf("%w: have %dx%d, got %dx%d", ErrResolutionChanged, a.w, a.h, width, height)
	}

	// exp(-(dx²+dy²)/2σ²) factors into exp(-dx²/2σ²)·exp(-dy²/2σ²).
	inv := 1 / (2 * a.cfg.Sigma * a.cfg.Sigma)
	for x := range a.gx {
		dx := float64(x - c.X)
		a.gx[x] = math.Exp(-dx * dx * inv)
	}
	for y := range a.gy {
		dy := float64(y - c.Y)
		a.gy[y] = a.cfg.Weight * math.Exp(-dy*dy*inv)
	}

	raw := a.field.RawMatrix()
	decay := a.cfg.Decay
	for y := 0; y < a.h; y++ {
		row := raw.Data[y*raw.Stride : y*raw.Stride+a.w]
		gy := a.gy[y]
		for x := range row {
			v := (row[x] + gy*a.gx[x]) * decay
			if v > MaxValue {
				v = MaxValue
			} else if v < 0 {
				v = 0
			}
			row[x] = v
		}
	}
	return nil
}

// At returns the heat at (x, y), zero when unallocated or out of range.
func (a *Accumulator) At(x, y int) float64 {
	if a.field == nil || x < 0 || y < 0 || x >= a.w || y >= a.h {
		return 0
	}
	return a.field.At(y, x)
}

// Max returns the largest cell value.
func (a *Accumulator) Max() float64 {
	if a.field == nil {
		return 0
	}
	return mat.Max(a.field)
}

// Reset discards the field. The next update reallocates it at the size of
// that frame.
func (a *Accumulator) Reset() {
	a.field = nil
	a.w, a.h = 0, 0
}

// Render blends the colour-mapped field over base as 0.7*base + 0.3*heat.
// The field is normalised by its current maximum. An unallocated field
// returns a plain copy of base.
func (a *Accumulator) Render(base image.Image) (*image.RGBA, error) {
	b := base.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	if a.field == nil {
		copyInto(out, base)
		return out, nil
	}
	if b.Dx() != a.w || b.Dy() != a.h {
		return nil, fmt.Errorf("%w: have %dx%d, base is %dx%d", ErrResolutionChanged, a.w, a.h, b.Dx(), b.Dy())
	}

	peak := a.Max()
	raw := a.field.RawMatrix()
	for y := 0; y < a.h; y++ {
		for x := 0; x < a.w; x++ {
			var level uint8
			if peak > 0 {
				level = uint8(raw.Data[y*raw.Stride+x] / peak * 255)
			}
			heat := a.lut[level]
			src := color.RGBAModel.Convert(base.At(b.Min.X+x, b.Min.Y+y)).(color.RGBA)
			i := out.PixOffset(x, y)
			out.Pix[i+0] = blend(src.R, heat.R)
			out.Pix[i+1] = blend(src.G, heat.G)
			out.Pix[i+2] = blend(src.B, heat.B)
			out.Pix[i+3] = 255
		}
	}
	return out, nil
}

func blend(base, heat uint8) uint8 {
	v := math.Round(baseAlpha*float64(base) + heatAlpha*float64(heat))
	if v > 255 {
		return 255
	}
	return uint8(v)
}

func copyInto(dst *image.RGBA, src image.Image) {
	draw.Copy(dst, image.Point{}, src, src.Bounds(), draw.Src, nil)
}

// Colour returns the overlay colour used for a normalised level.
func (a *Accumulator) Colour(level uint8) color.RGBA { return a.lut[level] }
