package store

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/banshee-data/footfall.report/internal/crossing"
	"github.com/banshee-data/footfall.report/internal/pipeline"
)

// Crossing is a stored crossing row.
type Crossing struct {
	ID         int64              `json:"crossing_id"`
	SessionID  string             `json:"session_id"`
	TrackID    int                `json:"track_id"`
	Direction  crossing.Direction `json:"direction"`
	FrameIndex int                `json:"frame_index"`
	Position   image.Point        `json:"position"`
	LineY      int                `json:"line_y"`
	OccurredAt time.Time          `json:"occurred_at"`
}

// Recorder writes one session's crossings. It implements pipeline.EventSink.
type Recorder struct {
	store     *Store
	sessionID string
}

// Recorder returns an event sink bound to sessionID.
func (s *Store) Recorder(sessionID string) *Recorder {
	return &Recorder{store: s, sessionID: sessionID}
}

// SessionID returns the bound session.
func (r *Recorder) SessionID() string { return r.sessionID }

// RecordCrossing inserts ev.
func (r *Recorder) RecordCrossing(ctx context.Context, ev pipeline.CrossingEvent) error {
	if ev.Direction == crossing.None {
		return fmt.Errorf("record crossing: track %d has no direction", ev.TrackID)
	}
	_, err := r.store.ExecContext(ctx,
		`INSERT INTO crossings (session_id, track_id, direction, frame_index, x, y, line_y, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.sessionID, ev.TrackID, ev.Direction.String(), ev.FrameIndex,
		ev.Position.X, ev.Position.Y, ev.LineY, unixSeconds(ev.At))
	if err != nil {
		return fmt.Errorf("insert crossing: %w", err)
	}
	return nil
}

// Crossings returns a session's crossings in the order they happened.
func (s *Store) Crossings(ctx context.Context, sessionID string) ([]Crossing, error) {
	rows, err := s.QueryContext(ctx,
		`SELECT crossing_id, session_id, track_id, direction, frame_index, x, y, line_y, occurred_at
		   FROM crossings WHERE session_id = ? ORDER BY occurred_at, crossing_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query crossings: %w", err)
	}
	defer rows.Close()

	var out []Crossing
	for rows.Next() {
		var (
			c   Crossing
			dir string
			at  float64
		)
		if err := rows.Scan(&c.ID, &c.SessionID, &c.TrackID, &dir, &c.FrameIndex,
			&c.Position.X, &c.Position.Y, &c.LineY, &at); err != nil {
			return nil, fmt.Errorf("scan crossing: %w", err)
		}
		if c.Direction, err = crossing.ParseDirection(dir); err != nil {
			return nil, err
		}
		c.OccurredAt = fromUnixSeconds(at)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Bucket is the number of crossings within one time bucket.
type Bucket struct {
	Start   time.Time `json:"start"`
	Entries int       `json:"entries"`
	Exits   int       `json:"exits"`
}

// CountsByBucket groups a session's crossings into buckets of width,
// aligned to the Unix epoch. Empty buckets are omitted.
func (s *Store) CountsByBucket(ctx context.Context, sessionID string, width time.Duration) ([]Bucket, error) {
	secs := width.Seconds()
	if secs <= 0 {
		return nil, fmt.Errorf("bucket width must be positive, got %s", width)
	}
	rows, err := s.QueryContext(ctx,
		`SELECT CAST(occurred_at / ? AS INTEGER) AS bucket,
		        SUM(CASE WHEN direction = 'entry' THEN 1 ELSE 0 END),
		        SUM(CASE WHEN direction = 'exit' THEN 1 ELSE 0 END)
		   FROM crossings
		  WHERE session_id = ?
		  GROUP BY bucket
		  ORDER BY bucket`, secs, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query buckets: %w", err)
	}
	defer rows.Close()

	var out []Bucket
	for rows.Next() {
		var (
			idx int64
			b   Bucket
		)
		if err := rows.Scan(&idx, &b.Entries, &b.Exits); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		b.Start = fromUnixSeconds(float64(idx) * secs)
		out = append(out, b)
	}
	return out, rows.Err()
}
