package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/footfall.report/internal/pipeline"
)

// ErrSessionNotFound is returned for an unknown session id.
var ErrSessionNotFound = errors.New("session not found")

// Session modes.
const (
	ModeBatch = "batch"
	ModeLive  = "live"
)

// Session statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Session is one run of the counter over a source.
type Session struct {
	ID              string     `json:"session_id"`
	Source          string     `json:"source"`
	Mode            string     `json:"mode"`
	Status          string     `json:"status"`
	Error           string     `json:"error,omitempty"`
	LineY           *int       `json:"line_y,omitempty"`
	EntryCount      int        `json:"entry_count"`
	ExitCount       int        `json:"exit_count"`
	FramesProcessed int        `json:"frames_processed"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
}

// TotalCount is derived.
func (s Session) TotalCount() int { return s.EntryCount + s.ExitCount }

// StartSession inserts a running session and returns it.
func (s *Store) StartSession(ctx context.Context, source, mode string, startedAt time.Time) (*Session, error) {
	if mode != ModeBatch && mode != ModeLive {
		return nil, fmt.Errorf("unknown session mode %q", mode)
	}
	sess := &Session{
		ID:        uuid.NewString(),
		Source:    source,
		Mode:      mode,
		Status:    StatusRunning,
		StartedAt: startedAt.UTC(),
	}
	_, err := s.ExecContext(ctx,
		`INSERT INTO sessions (session_id, source, mode, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.Source, sess.Mode, sess.Status, unixSeconds(sess.StartedAt))
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

// SetLineY records the counting line once the pipeline has fixed it.
func (s *Store) SetLineY(ctx context.Context, sessionID string, y int) error {
	return s.updateSession(ctx, `UPDATE sessions SET line_y = ? WHERE session_id = ?`, y, sessionID)
}

// UpdateProgress stores the running totals of a session.
func (s *Store) UpdateProgress(ctx context.Context, sessionID string, sum pipeline.Summary) error {
	return s.updateSession(ctx,
		`UPDATE sessions SET entry_count = ?, exit_count = ?, frames_processed = ? WHERE session_id = ?`,
		sum.EntryCount, sum.ExitCount, sum.FramesProcessed, sessionID)
}

// FinishSession stores the final summary. A non-nil runErr marks the session
// failed; its counts are still the ones reached before the failure.
func (s *Store) FinishSession(ctx context.Context, sessionID string, sum pipeline.Summary, runErr error, endedAt time.Time) error {
	status := StatusCompleted
	var msg sql.NullString
	if runErr != nil {
		status = StatusFailed
		msg = sql.NullString{String: runErr.Error(), Valid: true}
	}
	return s.updateSession(ctx,
		`UPDATE sessions
		    SET status = ?, error = ?, entry_count = ?, exit_count = ?, frames_processed = ?, ended_at = ?
		  WHERE session_id = ?`,
		status, msg, sum.EntryCount, sum.ExitCount, sum.FramesProcessed, unixSeconds(endedAt), sessionID)
}

func (s *Store) updateSession(ctx context.Context, query string, args ...interface{}) error {
	res, err := s.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

const sessionColumns = `session_id, source, mode, status, error, line_y, entry_count, exit_count, frames_processed, started_at, ended_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		sess    Session
		errMsg  sql.NullString
		lineY   sql.NullInt64
		started float64
		ended   sql.NullFloat64
	)
	if err := row.Scan(&sess.ID, &sess.Source, &sess.Mode, &sess.Status, &errMsg, &lineY,
		&sess.EntryCount, &sess.ExitCount, &sess.FramesProcessed, &started, &ended); err != nil {
		return nil, err
	}
	sess.Error = errMsg.String
	if lineY.Valid {
		y := int(lineY.Int64)
		sess.LineY = &y
	}
	sess.StartedAt = fromUnixSeconds(started)
	if ended.Valid {
		t := fromUnixSeconds(ended.Float64)
		sess.EndedAt = &t
	}
	return &sess, nil
}

// GetSession loads one session.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	row := s.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, sessionID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// ListSessions returns the most recent sessions first. limit <= 0 means 50.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}
