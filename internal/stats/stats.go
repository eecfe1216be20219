// Package stats aggregates crossing counts, the counted-id set and a rolling
// FPS estimate for one counting session.
//
// A single processing goroutine writes; any number of readers may take
// snapshots concurrently.
package stats

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/footfall.report/internal/crossing"
)

// DefaultFPSWindow is the number of instantaneous FPS samples averaged.
const DefaultFPSWindow = 30

// Snapshot is a point-in-time copy of the session statistics.
type Snapshot struct {
	Entries         int       `json:"entries"`
	Exits           int       `json:"exits"`
	FPS             float64   `json:"fps"`
	ActiveTracks    int       `json:"active_tracks"`
	FramesProcessed int       `json:"frames_processed"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Total is entries plus exits. It is always derived, never stored.
func (s Snapshot) Total() int { return s.Entries + s.Exits }

// Aggregator owns the counters and the counted-id set.
type Aggregator struct {
	mu sync.RWMutex

	entries int
	exits   int
	counted map[int]struct{}

	fpsWindow int
	fps       []float64
	fpsMean   float64

	activeTracks int
	frames       int
	updatedAt    time.Time

	now func() time.Time
}

// New returns an Aggregator averaging FPS over fpsWindow samples.
func New(fpsWindow int) *Aggregator {
	if fpsWindow < 1 {
		fpsWindow = DefaultFPSWindow
	}
	return &Aggregator{
		counted:   make(map[int]struct{}),
		fpsWindow: fpsWindow,
		fps:       make([]float64, 0, fpsWindow),
		now:       time.Now,
	}
}

// SetNowFunc overrides the timestamp source used for UpdatedAt.
func (a *Aggregator) SetNowFunc(now func() time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if now == nil {
		now = time.Now
	}
	a.now = now
}

// RecordCrossing marks trackID as counted and bumps the matching counter.
// It returns false and changes nothing when dir is None or the id was
// already counted.
func (a *Aggregator) RecordCrossing(trackID int, dir crossing.Direction) bool {
	if dir == crossing.None {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, seen := a.counted[trackID]; seen {
		return false
	}
	a.counted[trackID] = struct{}{}
	switch dir {
	case crossing.Entry:
		a.entries++
	case crossing.Exit:
		a.exits++
	}
	a.updatedAt = a.now()
	return true
}

// IsCounted reports whether trackID already produced a crossing.
func (a *Aggregator) IsCounted(trackID int) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.counted[trackID]
	return ok
}

// Forget removes ids from the counted set without touching the counters.
func (a *Aggregator) Forget(ids ...int) {
	if len(ids) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, id := range ids {
		delete(a.counted, id)
	}
}

// FPSSample converts dt into an instantaneous rate, pushes it into the
// window and returns the window mean. A zero dt contributes a zero sample.
func (a *Aggregator) FPSSample(dt time.Duration) float64 {
	var inst float64
	if dt > 0 {
		inst = 1 / dt.Seconds()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.fps) == a.fpsWindow {
		copy(a.fps, a.fps[1:])
		a.fps = a.fps[:len(a.fps)-1]
	}
	a.fps = append(a.fps, inst)
	a.fpsMean = stat.Mean(a.fps, nil)
	return a.fpsMean
}

// FPSSamples returns a copy of the current FPS window, oldest first.
func (a *Aggregator) FPSSamples() []float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]float64, len(a.fps))
	copy(out, a.fps)
	return out
}

// SetActiveTracks records how many confirmed tracks the last frame had.
func (a *Aggregator) SetActiveTracks(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.activeTracks = n
}

// AddFrame counts one consumed frame.
func (a *Aggregator) AddFrame() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.frames++
	a.updatedAt = a.now()
}

// Reset zeroes the counters and clears the counted set. FPS history and the
// frame count are kept.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = 0
	a.exits = 0
	a.counted = make(map[int]struct{})
	a.updatedAt = a.now()
}

// Snapshot returns a consistent copy of the statistics.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Snapshot{
		Entries:         a.entries,
		Exits:           a.exits,
		FPS:             a.fpsMean,
		ActiveTracks:    a.activeTracks,
		FramesProcessed: a.frames,
		UpdatedAt:       a.updatedAt,
	}
}
