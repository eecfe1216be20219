package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"reflect"
	"sync"
	"time"

	"golang.org/x/image/draw"

	"github.com/banshee-data/footfall.report/internal/config"
	"github.com/banshee-data/footfall.report/internal/crossing"
	"github.com/banshee-data/footfall.report/internal/detect"
	"github.com/banshee-data/footfall.report/internal/heatmap"
	"github.com/banshee-data/footfall.report/internal/render"
	"github.com/banshee-data/footfall.report/internal/stats"
	"github.com/banshee-data/footfall.report/internal/timeutil"
	"github.com/banshee-data/footfall.report/internal/trajectory"
)

// ErrDetectionFailed wraps any error returned by the Detector.
var ErrDetectionFailed = errors.New("detection failed")

// Static-scene thumbnails are compared at this size.
const (
	thumbW = 64
	thumbH = 48
)

// CrossingEvent is one accepted line crossing.
type CrossingEvent struct {
	TrackID    int
	Direction  crossing.Direction
	FrameIndex int
	Position   image.Point
	LineY      int
	At         time.Time
}

// EventSink receives crossings as they are counted, typically to persist
// them. Errors are logged and never stop the session.
type EventSink interface {
	RecordCrossing(ctx context.Context, ev CrossingEvent) error
}

// Config holds dependencies and tuning for a Pipeline.
type Config struct {
	Detector detect.Detector // required
	Tracker  detect.Tracker  // required
	Events   EventSink       // optional
	Clock    timeutil.Clock  // optional, defaults to the wall clock

	// Confidence is passed to the detector on every call.
	Confidence float64

	// LineY fixes the counting line. Nil places it at half the height of
	// the first processed frame.
	LineY *int

	// SkipFrames drops this many frames between processed ones. Zero
	// processes every frame.
	SkipFrames int

	// StaticSceneThreshold skips a frame whose downscaled grey thumbnail
	// differs from the last processed one by less than this mean absolute
	// grey level (0-255). Zero disables the check.
	StaticSceneThreshold float64

	HeatmapEnabled bool
	Heatmap        heatmap.Config
	TrailsEnabled  bool

	// HistoryCapacity bounds the per-track centroid history.
	HistoryCapacity int

	// TrackExpiryFrames drops the history and counted flag of tracks unseen
	// for this many frames. Zero keeps them for the whole session.
	TrackExpiryFrames int

	FPSWindow int
}

// ConfigFromCounter maps the file configuration onto pipeline tuning. The
// detector, tracker and event sink still need to be set by the caller.
func ConfigFromCounter(c *config.CounterConfig) Config {
	cfg := Config{
		Confidence:           c.GetConfidenceThreshold(),
		SkipFrames:           c.GetSkipFrames(),
		StaticSceneThreshold: c.GetStaticSceneThreshold(),
		HeatmapEnabled:       c.GetHeatmapEnabled(),
		TrailsEnabled:        c.GetTrailsEnabled(),
		Heatmap: heatmap.Config{
			Decay:    c.GetHeatmapDecay(),
			Interval: c.GetHeatmapUpdateInterval(),
			Sigma:    c.GetHeatmapSigma(),
			Weight:   c.GetHeatmapWeight(),
		},
		HistoryCapacity:   c.GetHistoryCapacity(),
		TrackExpiryFrames: c.GetTrackExpiryFrames(),
		FPSWindow:         c.GetFPSWindow(),
	}
	if y, ok := c.GetLineY(); ok {
		cfg.LineY = &y
	}
	return cfg
}

// ProcessOptions adjusts a single ProcessFrame call.
type ProcessOptions struct {
	// ForceProcess bypasses frame skipping.
	ForceProcess bool
}

// Result is the output of one ProcessFrame call.
type Result struct {
	// Frame is the annotated frame, or the input unchanged when Skipped.
	Frame     image.Image
	Index     int
	Skipped   bool
	Crossings []CrossingEvent
	Snapshot  stats.Snapshot
	LineY     int
}

// isNilInterface checks if an interface value is nil or contains a nil pointer.
func isNilInterface(i interface{}) bool {
	if i == nil {
		return true
	}
	v := reflect.ValueOf(i)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return v.IsNil()
	}
	return false
}

// Pipeline owns the state of one counting session.
type Pipeline struct {
	cfg      Config
	detector detect.Detector
	tracker  detect.Tracker
	events   EventSink
	clock    timeutil.Clock

	store *trajectory.Store
	stats *stats.Aggregator
	heat  *heatmap.Accumulator
	line  *crossing.Line

	// mu serialises ProcessFrame callers.
	mu         sync.Mutex
	frameIndex int
	processed  int
	skipRun    int
	lastTick   time.Time
	lastThumb  []uint8
	heatWarned bool
}

// New builds a pipeline from cfg.
func New(cfg Config) (*Pipeline, error) {
	if isNilInterface(cfg.Detector) {
		return nil, errors.New("pipeline: detector is required")
	}
	if isNilInterface(cfg.Tracker) {
		return nil, errors.New("pipeline: tracker is required")
	}
	if cfg.SkipFrames < 0 {
		return nil, fmt.Errorf("pipeline: skip frames must be >= 0, got %d", cfg.SkipFrames)
	}
	clock := cfg.Clock
	if isNilInterface(clock) {
		clock = timeutil.RealClock{}
	}
	events := cfg.Events
	if isNilInterface(events) {
		events = nil
	}

	store := trajectory.NewStore(cfg.HistoryCapacity)
	store.ExpireAfter = cfg.TrackExpiryFrames
	agg := stats.New(cfg.FPSWindow)
	agg.SetNowFunc(clock.Now)

	p := &Pipeline{
		cfg:      cfg,
		detector: cfg.Detector,
		tracker:  cfg.Tracker,
		events:   events,
		clock:    clock,
		store:    store,
		stats:    agg,
		heat:     heatmap.New(cfg.Heatmap),
		line:     crossing.NewLine(cfg.LineY),
		lastTick: clock.Now(),
	}
	diagf("new session: skip=%d static=%.1f heatmap=%v trails=%v history=%d expiry=%d",
		cfg.SkipFrames, cfg.StaticSceneThreshold, cfg.HeatmapEnabled, cfg.TrailsEnabled,
		store.Capacity(), cfg.TrackExpiryFrames)
	return p, nil
}

// Snapshot returns the current statistics. Safe for concurrent use.
func (p *Pipeline) Snapshot() stats.Snapshot { return p.stats.Snapshot() }

// Reset zeroes the entry and exit counters and forgets which tracks were
// counted. Trajectory history and the heatmap are kept. Safe for concurrent
// use with ProcessFrame.
func (p *Pipeline) Reset() {
	p.stats.Reset()
	diagf("counts reset")
}

// LineY returns the counting line once it is fixed.
func (p *Pipeline) LineY() (int, bool) { return p.line.Y() }

// Trajectories exposes the trajectory store for inspection in tests and
// debug tooling. It must only be read from the processing goroutine.
func (p *Pipeline) Trajectories() *trajectory.Store { return p.store }

// Heatmap exposes the accumulator. Same ownership rules as Trajectories.
func (p *Pipeline) Heatmap() *heatmap.Accumulator { return p.heat }

// ProcessFrame runs one frame through the pipeline. A detector failure is
// returned wrapped in ErrDetectionFailed and leaves the session state as it
// was, apart from the frame index.
func (p *Pipeline) ProcessFrame(ctx context.Context, frame image.Image, opts ProcessOptions) (*Result, error) {
	if frame == nil {
		return nil, errors.New("pipeline: nil frame")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.frameIndex++
	idx := p.frameIndex
	b := frame.Bounds()
	w, h := b.Dx(), b.Dy()
	lineY := p.line.Resolve(h)

	var thumb []uint8
	if p.cfg.StaticSceneThreshold > 0 {
		thumb = thumbnail(frame)
	}
	if p.shouldSkip(opts, thumb) {
		tracef("frame %d skipped", idx)
		return &Result{Frame: frame, Index: idx, Skipped: true, Snapshot: p.stats.Snapshot(), LineY: lineY}, nil
	}

	now := p.clock.Now()
	dets, err := p.detector.Detect(ctx, frame, p.cfg.Confidence)
	if err != nil {
		return nil, fmt.Errorf("%w: frame %d: %w", ErrDetectionFailed, idx, err)
	}

	// Committed from here on.
	p.skipRun = 0
	p.processed++
	if thumb != nil {
		p.lastThumb = thumb
	}
	fps := p.stats.FPSSample(now.Sub(p.lastTick))
	p.lastTick = now

	tracks := p.tracker.Update(dets, frame)
	confirmed := make([]detect.Track, 0, len(tracks))
	for _, t := range tracks {
		if t.Confirmed {
			confirmed = append(confirmed, t)
		}
	}

	// The overlay shows the field as it stood before this frame.
	out := p.baseImage(frame)

	p.store.SetFrame(idx)
	overlays := make([]render.TrackOverlay, 0, len(confirmed))
	var events []CrossingEvent
	for _, t := range confirmed {
		c := t.Centroid()
		if p.cfg.HeatmapEnabled {
			p.updateHeat(c, w, h)
		}
		p.store.Record(t.ID, c)
		hist := p.store.History(t.ID)

		dir := crossing.None
		if !p.stats.IsCounted(t.ID) {
			if d := crossing.Evaluate(hist, c.Y, lineY); p.stats.RecordCrossing(t.ID, d) {
				dir = d
				events = append(events, CrossingEvent{
					TrackID:    t.ID,
					Direction:  d,
					FrameIndex: idx,
					Position:   c,
					LineY:      lineY,
					At:         p.clock.Now(),
				})
				diagf("track %d %s at frame %d (y=%d line=%d)", t.ID, d, idx, c.Y, lineY)
			}
		}

		ov := render.TrackOverlay{ID: t.ID, Box: t.Box, Centroid: c, Event: dir}
		if p.cfg.TrailsEnabled {
			ov.Trail = hist
		}
		overlays = append(overlays, ov)
	}

	if expired := p.store.Expire(idx); len(expired) > 0 {
		p.stats.Forget(expired...)
		tracef("frame %d expired tracks %v", idx, expired)
	}
	p.stats.SetActiveTracks(len(confirmed))
	p.stats.AddFrame()
	snap := p.stats.Snapshot()

	for _, ov := range overlays {
		render.DrawTrack(out, ov, p.cfg.TrailsEnabled)
	}
	render.DrawCountingLine(out, lineY)
	render.DrawPanel(out, render.Panel{
		Entries: snap.Entries,
		Exits:   snap.Exits,
		Active:  snap.ActiveTracks,
		FPS:     snap.FPS,
	})

	for _, ev := range events {
		if p.events == nil {
			break
		}
		if err := p.events.RecordCrossing(ctx, ev); err != nil {
			opsf("record crossing track=%d frame=%d: %v", ev.TrackID, ev.FrameIndex, err)
		}
	}

	tracef("frame %d: dets=%d tracks=%d confirmed=%d fps=%.1f entries=%d exits=%d",
		idx, len(dets), len(tracks), len(confirmed), fps, snap.Entries, snap.Exits)

	return &Result{
		Frame:     out,
		Index:     idx,
		Crossings: events,
		Snapshot:  snap,
		LineY:     lineY,
	}, nil
}

// shouldSkip applies the skip count and the static-scene gate. The first
// frame of a session is always processed.
func (p *Pipeline) shouldSkip(opts ProcessOptions, thumb []uint8) bool {
	if opts.ForceProcess || p.processed == 0 {
		return false
	}
	if p.skipRun < p.cfg.SkipFrames {
		p.skipRun++
		return true
	}
	if thumb != nil && p.lastThumb != nil && meanAbsDiff(thumb, p.lastThumb) < p.cfg.StaticSceneThreshold {
		return true
	}
	return false
}

func (p *Pipeline) baseImage(frame image.Image) *image.RGBA {
	if !p.cfg.HeatmapEnabled {
		return render.Clone(frame)
	}
	out, err := p.heat.Render(frame)
	if err != nil {
		p.warnHeat(err)
		return render.Clone(frame)
	}
	return out
}

func (p *Pipeline) updateHeat(c image.Point, w, h int) {
	if err := p.heat.Update(p.processed, c, w, h); err != nil {
		p.warnHeat(err)
	}
}

// warnHeat logs the first heatmap failure of a session only; a resolution
// change repeats on every frame afterwards.
func (p *Pipeline) warnHeat(err error) {
	if p.heatWarned {
		return
	}
	p.heatWarned = true
	if errors.Is(err, heatmap.ErrResolutionChanged) {
		opsf("heatmap disabled for mismatched frames: %v", err)
		return
	}
	opsf("heatmap: %v", err)
}

// thumbnail returns a small grey copy of img for scene comparison.
func thumbnail(img image.Image) []uint8 {
	dst := image.NewGray(image.Rect(0, 0, thumbW, thumbH))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst.Pix
}

func meanAbsDiff(a, b []uint8) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 255
	}
	var sum int
	for i := range a {
		d := int(a[i]) - int(b[i])
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return float64(sum) / float64(len(a))
}
