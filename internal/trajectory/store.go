package trajectory

import (
	"image"
	"sort"
)

// DefaultCapacity is the number of centroid samples kept per track.
const DefaultCapacity = 60

// ring is a fixed-capacity sample buffer for one track.
type ring struct {
	samples  []image.Point
	head     int // next write position
	size     int
	lastSeen int // frame index of the most recent Record
}

func newRing(capacity int) *ring {
	return &ring{samples: make([]image.Point, capacity)}
}

func (r *ring) push(p image.Point) {
	r.samples[r.head] = p
	r.head = (r.head + 1) % len(r.samples)
	if r.size < len(r.samples) {
		r.size++
	}
}

// ordered copies the samples oldest first.
func (r *ring) ordered() []image.Point {
	out := make([]image.Point, r.size)
	start := (r.head - r.size + len(r.samples)) % len(r.samples)
	for i := 0; i < r.size; i++ {
		out[i] = r.samples[(start+i)%len(r.samples)]
	}
	return out
}

// Store maps track ids to bounded centroid histories.
// Store is not safe for concurrent use; the pipeline owns it from a single
// processing goroutine.
type Store struct {
	capacity int

	// ExpireAfter drops a track that has not been recorded for this many
	// frames. Zero keeps every track for the life of the session.
	ExpireAfter int

	tracks map[int]*ring
	frame  int
}

// NewStore creates a store holding up to capacity samples per track.
func NewStore(capacity int) *Store {
	if capacity < 2 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		tracks:   make(map[int]*ring),
	}
}

// Capacity returns the per-track sample limit.
func (s *Store) Capacity() int { return s.capacity }

// SetFrame records the frame index that subsequent Record calls belong to.
func (s *Store) SetFrame(frameIndex int) { s.frame = frameIndex }

// Record appends p to the history of trackID, evicting the oldest sample when
// the track is at capacity.
func (s *Store) Record(trackID int, p image.Point) {
	r, ok := s.tracks[trackID]
	if !ok {
		r = newRing(s.capacity)
		s.tracks[trackID] = r
	}
	r.push(p)
	r.lastSeen = s.frame
}

// History returns a copy of the samples for trackID, oldest first.
// Unknown ids return an empty slice.
func (s *Store) History(trackID int) []image.Point {
	r, ok := s.tracks[trackID]
	if !ok {
		return []image.Point{}
	}
	return r.ordered()
}

// Len reports how many track ids have history.
func (s *Store) Len() int { return len(s.tracks) }

// IDs returns the known track ids in ascending order.
func (s *Store) IDs() []int {
	ids := make([]int, 0, len(s.tracks))
	for id := range s.tracks {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Expire removes tracks whose last sample is more than ExpireAfter frames
// older than frameIndex and returns their ids in ascending order.
// It is a no-op when ExpireAfter is zero.
func (s *Store) Expire(frameIndex int) []int {
	if s.ExpireAfter <= 0 {
		return nil
	}
	var expired []int
	for id, r := range s.tracks {
		if frameIndex-r.lastSeen > s.ExpireAfter {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(s.tracks, id)
	}
	sort.Ints(expired)
	return expired
}

// Clear drops every track.
func (s *Store) Clear() {
	s.tracks = make(map[int]*ring)
}
