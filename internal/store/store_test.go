package store

import (
	"compress/gzip"
	"context"
	"database/sql"
	"errors"
	"image"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/footfall.report/internal/crossing"
	"github.com/banshee-data/footfall.report/internal/pipeline"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func TestOpenMigratesToLatest(t *testing.T) {
	s := openTestStore(t)

	version, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	for _, table := range []string{"sessions", "crossings"} {
		var name string
		err := s.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		require.NoError(t, err, table)
	}

	var fk int
	require.NoError(t, s.QueryRow(`PRAGMA foreign_keys`).Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	sess, err := s.StartSession(context.Background(), "clip.mp4", ModeBatch, t0)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "clip.mp4", got.Source)
}

func TestMigrateDownAndUp(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.MigrateDown())
	version, _, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	var n int
	err = s.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name='crossings'`).Scan(&n)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, s.MigrateUp())
	version, _, err = s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
}

func TestSessionLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess, err := s.StartSession(ctx, "rtsp://cam/1", ModeLive, t0)
	require.NoError(t, err)
	_, err = uuid.Parse(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, sess.Status)

	require.NoError(t, s.SetLineY(ctx, sess.ID, 360))
	require.NoError(t, s.UpdateProgress(ctx, sess.ID, pipeline.Summary{EntryCount: 1, FramesProcessed: 10}))
	require.NoError(t, s.FinishSession(ctx, sess.ID,
		pipeline.Summary{EntryCount: 4, ExitCount: 3, TotalCount: 7, FramesProcessed: 900}, nil, t0.Add(time.Minute)))

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	end := t0.Add(time.Minute)
	line := 360
	want := &Session{
		ID:              sess.ID,
		Source:          "rtsp://cam/1",
		Mode:            ModeLive,
		Status:          StatusCompleted,
		LineY:           &line,
		EntryCount:      4,
		ExitCount:       3,
		FramesProcessed: 900,
		StartedAt:       t0,
		EndedAt:         &end,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("session mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 7, got.TotalCount())
}

func TestFinishSessionFailed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	sess, err := s.StartSession(ctx, "clip.mp4", ModeBatch, t0)
	require.NoError(t, err)

	runErr := errors.New("detection failed: timeout")
	require.NoError(t, s.FinishSession(ctx, sess.ID, pipeline.Summary{EntryCount: 2, FramesProcessed: 40}, runErr, t0))

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, runErr.Error(), got.Error)
	assert.Equal(t, 2, got.EntryCount, "partial counts are kept")
}

func TestSessionErrors(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.StartSession(ctx, "x", "stream", t0)
	assert.Error(t, err)

	_, err = s.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, s.SetLineY(ctx, "missing", 1), ErrSessionNotFound)
	assert.ErrorIs(t, s.FinishSession(ctx, "missing", pipeline.Summary{}, nil, t0), ErrSessionNotFound)
}

func TestListSessionsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	var ids []string
	for i := 0; i < 3; i++ {
		sess, err := s.StartSession(ctx, "clip.mp4", ModeBatch, t0.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
		ids = append(ids, sess.ID)
	}

	got, err := s.ListSessions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ids[2], got[0].ID)
	assert.Equal(t, ids[1], got[1].ID)
}

func TestRecorderImplementsEventSink(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	sess, err := s.StartSession(ctx, "clip.mp4", ModeBatch, t0)
	require.NoError(t, err)

	var sink pipeline.EventSink = s.Recorder(sess.ID)
	events := []pipeline.CrossingEvent{
		{TrackID: 4, Direction: crossing.Entry, FrameIndex: 12, Position: image.Pt(100, 361), LineY: 360, At: t0.Add(2 * time.Second)},
		{TrackID: 9, Direction: crossing.Exit, FrameIndex: 30, Position: image.Pt(220, 355), LineY: 360, At: t0.Add(5 * time.Second)},
	}
	for _, ev := range events {
		require.NoError(t, sink.RecordCrossing(ctx, ev))
	}
	assert.Error(t, sink.RecordCrossing(ctx, pipeline.CrossingEvent{TrackID: 1}))

	got, err := s.Crossings(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for i, ev := range events {
		assert.Equal(t, sess.ID, got[i].SessionID)
		assert.Equal(t, ev.TrackID, got[i].TrackID)
		assert.Equal(t, ev.Direction, got[i].Direction)
		assert.Equal(t, ev.FrameIndex, got[i].FrameIndex)
		assert.Equal(t, ev.Position, got[i].Position)
		assert.Equal(t, ev.LineY, got[i].LineY)
		assert.WithinDuration(t, ev.At, got[i].OccurredAt, time.Microsecond)
	}
}

func TestCrossingsRequireSession(t *testing.T) {
	s := openTestStore(t)
	err := s.Recorder("no-such-session").RecordCrossing(context.Background(), pipeline.CrossingEvent{
		TrackID: 1, Direction: crossing.Entry, At: t0,
	})
	assert.Error(t, err, "foreign key enforced")
}

func TestCountsByBucket(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	sess, err := s.StartSession(ctx, "clip.mp4", ModeBatch, t0)
	require.NoError(t, err)
	rec := s.Recorder(sess.ID)

	offsets := []struct {
		at  time.Duration
		dir crossing.Direction
	}{
		{5 * time.Second, crossing.Entry},
		{20 * time.Second, crossing.Entry},
		{50 * time.Second, crossing.Exit},
		{3 * time.Minute, crossing.Exit},
	}
	for i, o := range offsets {
		require.NoError(t, rec.RecordCrossing(ctx, pipeline.CrossingEvent{
			TrackID: i, Direction: o.dir, LineY: 10, At: t0.Add(o.at),
		}))
	}

	got, err := s.CountsByBucket(ctx, sess.ID, time.Minute)
	require.NoError(t, err)
	want := []Bucket{
		{Start: t0, Entries: 2, Exits: 1},
		{Start: t0.Add(3 * time.Minute), Exits: 1},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("buckets mismatch (-want +got):\n%s", diff)
	}

	_, err = s.CountsByBucket(ctx, sess.ID, 0)
	assert.Error(t, err)
}

func TestServeBackup(t *testing.T) {
	s := openTestStore(t)
	_, err := s.StartSession(context.Background(), "clip.mp4", ModeBatch, t0)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.serveBackup(rec, httptest.NewRequest(http.MethodGet, "/debug/backup", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/gzip", rec.Header().Get("Content-Type"))

	gz, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "restored.db")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestAttachAdminRoutes(t *testing.T) {
	s := openTestStore(t)
	mux := http.NewServeMux()
	assert.NoError(t, s.AttachAdminRoutes(mux))
}

func TestUnixSecondsRoundTrip(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 5, 4, 9, 30, 15, 250_000_000, time.UTC)
	assert.WithinDuration(t, at, fromUnixSeconds(unixSeconds(at)), time.Microsecond)
}
