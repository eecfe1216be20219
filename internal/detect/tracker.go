package detect

import (
	"image"
	"sort"
	"sync"
)

// TrackState is the lifecycle state of a track.
type TrackState string

const (
	TrackTentative TrackState = "tentative" // new, not yet reported as confirmed
	TrackConfirmed TrackState = "confirmed"
	TrackDeleted   TrackState = "deleted"
)

// TrackerConfig holds the association parameters.
type TrackerConfig struct {
	HitsToConfirm  int     // consecutive hits before a track is confirmed
	MaxAge         int     // missed frames before a confirmed track is deleted
	MaxIoUDistance float64 // 1-IoU above this is never associated
}

// DefaultTrackerConfig returns the standard tracker parameters.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{HitsToConfirm: 3, MaxAge: 60, MaxIoUDistance: 0.7}
}

type trackedBox struct {
	id     int
	box    image.Rectangle
	state  TrackState
	hits   int
	misses int
}

// IOUTracker associates detections to tracks by box overlap. Tentative
// tracks are deleted on their first miss; confirmed tracks coast for up to
// MaxAge frames.
type IOUTracker struct {
	mu     sync.Mutex
	cfg    TrackerConfig
	tracks []*trackedBox
	nextID int

	confirmed int
}

// NewIOUTracker builds a tracker. Zero fields take the defaults.
func NewIOUTracker(cfg TrackerConfig) *IOUTracker {
	def := DefaultTrackerConfig()
	if cfg.HitsToConfirm < 1 {
		cfg.HitsToConfirm = def.HitsToConfirm
	}
	if cfg.MaxAge < 1 {
		cfg.MaxAge = def.MaxAge
	}
	if cfg.MaxIoUDistance <= 0 || cfg.MaxIoUDistance > 1 {
		cfg.MaxIoUDistance = def.MaxIoUDistance
	}
	return &IOUTracker{cfg: cfg, nextID: 1}
}

// Update associates dets with the live tracks and returns every track that
// was matched or created in this frame, ordered by id.
func (t *IOUTracker) Update(dets []Detection, _ image.Image) []Track {
	t.mu.Lock()
	defer t.mu.Unlock()

	matchedTrack := make([]bool, len(t.tracks))
	matchedDet := make([]bool, len(dets))

	if len(t.tracks) > 0 && len(dets) > 0 {
		cost := make([][]float64, len(t.tracks))
		for i, tr := range t.tracks {
			cost[i] = make([]float64, len(dets))
			for j, d := range dets {
				c := 1 - IoU(tr.box, d.Box)
				if c > t.cfg.MaxIoUDistance {
					c = forbidden
				}
				cost[i][j] = c
			}
		}
		for i, j := range assign(cost) {
			if j < 0 {
				continue
			}
			tr := t.tracks[i]
			tr.box = dets[j].Box
			tr.hits++
			tr.misses = 0
			if tr.state == TrackTentative && tr.hits >= t.cfg.HitsToConfirm {
				tr.state = TrackConfirmed
				t.confirmed++
			}
			matchedTrack[i] = true
			matchedDet[j] = true
		}
	}

	for i, tr := range t.tracks {
		if matchedTrack[i] {
			continue
		}
		tr.misses++
		if tr.state == TrackTentative || tr.misses > t.cfg.MaxAge {
			tr.state = TrackDeleted
		}
	}

	var out []Track
	live := t.tracks[:0]
	for i, tr := range t.tracks {
		if tr.state == TrackDeleted {
			continue
		}
		live = append(live, tr)
		if matchedTrack[i] {
			out = append(out, Track{ID: tr.id, Box: tr.box, Confirmed: tr.state == TrackConfirmed})
		}
	}
	t.tracks = live

	for j, d := range dets {
		if matchedDet[j] {
			continue
		}
		tr := &trackedBox{id: t.nextID, box: d.Box, state: TrackTentative, hits: 1}
		t.nextID++
		if tr.hits >= t.cfg.HitsToConfirm {
			tr.state = TrackConfirmed
			t.confirmed++
		}
		t.tracks = append(t.tracks, tr)
		out = append(out, Track{ID: tr.id, Box: tr.box, Confirmed: tr.state == TrackConfirmed})
	}

	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// Live returns the number of tracks that are not deleted.
func (t *IOUTracker) Live() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tracks)
}

// TracksConfirmed returns how many tracks ever reached the confirmed state.
func (t *IOUTracker) TracksConfirmed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.confirmed
}

// Reset drops all tracks. Ids keep increasing so they are never reused
// within a session.
func (t *IOUTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracks = nil
}
