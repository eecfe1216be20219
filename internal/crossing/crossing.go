// Package crossing decides whether a track crossed the horizontal counting
// line between its previous and current centroid.
package crossing

import (
	"fmt"
	"image"
	"sync"
)

// Direction is the outcome of evaluating one track update.
type Direction int

const (
	None Direction = iota
	// Entry is a downward crossing (y increasing).
	Entry
	// Exit is an upward crossing (y decreasing).
	Exit
)

// String returns the persisted form of d.
func (d Direction) String() string {
	switch d {
	case Entry:
		return "entry"
	case Exit:
		return "exit"
	default:
		return "none"
	}
}

// ParseDirection is the inverse of Direction.String.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "entry":
		return Entry, nil
	case "exit":
		return Exit, nil
	case "none":
		return None, nil
	}
	return None, fmt.Errorf("unknown direction %q", s)
}

// MarshalText encodes d as its string form.
func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText decodes the string form.
func (d *Direction) UnmarshalText(b []byte) error {
	v, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Evaluate compares the second most recent sample in history with currentY.
// history must already contain the current sample as its last element, so
// at least two samples are needed for a crossing.
//
// A previous y exactly on the line never triggers: the line belongs to the
// destination side only.
func Evaluate(history []image.Point, currentY, lineY int) Direction {
	if len(history) < 2 {
		return None
	}
	prevY := history[len(history)-2].Y
	switch {
	case prevY < lineY && currentY >= lineY:
		return Entry
	case prevY > lineY && currentY <= lineY:
		return Exit
	}
	return None
}

// DefaultLineFraction places the line at this share of the frame height
// when no explicit y is configured.
const DefaultLineFraction = 0.5

// Line is a counting line fixed on first use.
type Line struct {
	mu       sync.Mutex
	y        int
	resolved bool
}

// NewLine returns a line at y, or an automatic line when y is nil.
func NewLine(y *int) *Line {
	l := &Line{}
	if y != nil {
		l.y = *y
		l.resolved = true
	}
	return l
}

// Resolve fixes the line on the first call using frameHeight and returns the
// same y on every later call.
func (l *Line) Resolve(frameHeight int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.resolved {
		l.y = int(float64(frameHeight) * DefaultLineFraction)
		l.resolved = true
	}
	return l.y
}

// Y returns the line and whether it has been fixed yet.
func (l *Line) Y() (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.y, l.resolved
}
