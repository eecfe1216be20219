package monitor

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/footfall.report/internal/httputil"
	"github.com/banshee-data/footfall.report/internal/stats"
)

// ErrNoSamples is returned when a plot is requested before any sample.
var ErrNoSamples = errors.New("no samples recorded")

var (
	entryColor = color.RGBA{R: 0x2c, G: 0xa0, B: 0x2c, A: 255}
	exitColor  = color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 255}
)

// countSample is one point of the cumulative count timeline.
type countSample struct {
	Frame   int
	Entries int
	Exits   int
}

// CountPlotter records cumulative entries and exits against the frame index
// and renders them as a line plot. Only samples where a count changes are
// kept, plus the most recent frame.
type CountPlotter struct {
	mu      sync.Mutex
	title   string
	samples []countSample
	last    countSample
	seen    bool
}

// NewCountPlotter creates an empty plotter.
func NewCountPlotter(title string) *CountPlotter {
	if title == "" {
		title = "Cumulative crossings"
	}
	return &CountPlotter{title: title}
}

// Sample records the counts of snap at frame.
func (cp *CountPlotter) Sample(frame int, snap stats.Snapshot) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	s := countSample{Frame: frame, Entries: snap.Entries, Exits: snap.Exits}
	if !cp.seen || s.Entries != cp.last.Entries || s.Exits != cp.last.Exits {
		cp.samples = append(cp.samples, s)
	}
	cp.last = s
	cp.seen = true
}

// Len returns the number of stored points.
func (cp *CountPlotter) Len() int {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return len(cp.samples)
}

// Reset drops all samples.
func (cp *CountPlotter) Reset() {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.samples = nil
	cp.last = countSample{}
	cp.seen = false
}

// points returns step-shaped series so counts hold their value between
// changes.
func (cp *CountPlotter) points() (entries, exits plotter.XYs, err error) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if !cp.seen {
		return nil, nil, ErrNoSamples
	}
	samples := cp.samples
	if samples[len(samples)-1].Frame != cp.last.Frame {
		samples = append(samples[:len(samples):len(samples)], cp.last)
	}

	entries = make(plotter.XYs, 0, 2*len(samples))
	exits = make(plotter.XYs, 0, 2*len(samples))
	for i, s := range samples {
		x := float64(s.Frame)
		if i > 0 {
			prev := samples[i-1]
			entries = append(entries, plotter.XY{X: x, Y: float64(prev.Entries)})
			exits = append(exits, plotter.XY{X: x, Y: float64(prev.Exits)})
		}
		entries = append(entries, plotter.XY{X: x, Y: float64(s.Entries)})
		exits = append(exits, plotter.XY{X: x, Y: float64(s.Exits)})
	}
	return entries, exits, nil
}

func (cp *CountPlotter) build() (*plot.Plot, error) {
	entries, exits, err := cp.points()
	if err != nil {
		return nil, err
	}

	p := plot.New()
	p.Title.Text = cp.title
	p.X.Label.Text = "Frame"
	p.Y.Label.Text = "Count"
	p.Y.Min = 0
	p.Add(plotter.NewGrid())

	entryLine, err := plotter.NewLine(entries)
	if err != nil {
		return nil, fmt.Errorf("entries line: %w", err)
	}
	entryLine.Color = entryColor
	entryLine.Width = vg.Points(1.5)

	exitLine, err := plotter.NewLine(exits)
	if err != nil {
		return nil, fmt.Errorf("exits line: %w", err)
	}
	exitLine.Color = exitColor
	exitLine.Width = vg.Points(1.5)

	p.Add(entryLine, exitLine)
	p.Legend.Add("entries", entryLine)
	p.Legend.Add("exits", exitLine)
	p.Legend.Top = true
	p.Legend.Left = true
	p.Legend.XOffs = 10
	p.Legend.YOffs = -10
	return p, nil
}

// WritePNG renders the timeline as a PNG to w.
func (cp *CountPlotter) WritePNG(w io.Writer) error {
	p, err := cp.build()
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("create png writer: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// Save renders the timeline to path. The format follows the extension.
func (cp *CountPlotter) Save(path string) error {
	p, err := cp.build()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create plot dir: %w", err)
	}
	if err := p.Save(10*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("save count plot: %w", err)
	}
	return nil
}

func (ws *WebServer) handleCountsPlot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.plotter == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "plotting disabled")
		return
	}
	p, err := ws.plotter.build()
	if errors.Is(err, ErrNoSamples) {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no frames processed yet")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	wt, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if _, err := wt.WriteTo(w); err != nil {
		tracef("write plot: %v", err)
	}
}
