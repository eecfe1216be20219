package main

import (
	"context"
	"errors"
	"image"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/footfall.report/internal/config"
	"github.com/banshee-data/footfall.report/internal/detect"
	"github.com/banshee-data/footfall.report/internal/monitor"
	"github.com/banshee-data/footfall.report/internal/pipeline"
	"github.com/banshee-data/footfall.report/internal/sink"
	"github.com/banshee-data/footfall.report/internal/stats"
	"github.com/banshee-data/footfall.report/internal/store"
	"github.com/banshee-data/footfall.report/internal/timeutil"
)

type noDetections struct{}

func (noDetections) Detect(context.Context, image.Image, float64) ([]detect.Detection, error) {
	return nil, nil
}

func TestFlagDefaults(t *testing.T) {
	assert.Equal(t, ":8080", *listen)
	assert.Equal(t, store.DefaultPath, *dbPath)
	assert.Equal(t, ":50051", *grpcListen)
	assert.Empty(t, *configPath)
	assert.False(t, *noPreview)
}

type readyFunc func(context.Context) bool

func (f readyFunc) Ready(ctx context.Context) bool { return f(ctx) }

func TestCheckDetector(t *testing.T) {
	assert.NoError(t, checkDetector(context.Background(), readyFunc(func(context.Context) bool { return true }), "http://det:8000"))

	err := checkDetector(context.Background(), readyFunc(func(ctx context.Context) bool {
		_, ok := ctx.Deadline()
		return !ok
	}), "http://det:8000")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http://det:8000")
	assert.Contains(t, err.Error(), "counting stops at the first failed detection")
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, config.EmptyCounterConfig().GetConfidenceThreshold(), cfg.GetConfidenceThreshold())

	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestTrackerConfig(t *testing.T) {
	assert.Equal(t, detect.DefaultTrackerConfig(), trackerConfig(config.EmptyCounterConfig()))
}

func newTestLive(t *testing.T, st *store.Store) (*liveSession, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC))
	ls, err := newLiveSession(context.Background(), liveOptions{
		Config:   config.EmptyCounterConfig(),
		Detector: noDetections{},
		Tracker:  detect.NewIOUTracker(detect.DefaultTrackerConfig()),
		Store:    st,
		Source:   "/dev/video0",
		Preview:  sink.NewBroadcaster(),
		Plotter:  monitor.NewCountPlotter(""),
		Clock:    clock,
	})
	require.NoError(t, err)
	return ls, clock
}

func TestLiveSessionRecordsProgress(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "footfall.db"))
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	ls, clock := newTestLive(t, st)
	id := ls.sessionID()
	require.NotEmpty(t, id)

	frame := image.NewRGBA(image.Rect(0, 0, 32, 24))
	ls.onFrame(&pipeline.Result{Frame: frame, Index: 1, LineY: 12, Snapshot: stats.Snapshot{Entries: 1}})
	assert.NotEmpty(t, ls.preview.Latest())
	assert.Equal(t, 1, ls.plotter.Len())

	sess, err := st.GetSession(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, sess.LineY)
	assert.Equal(t, 12, *sess.LineY)
	assert.Zero(t, sess.EntryCount, "progress is throttled")

	clock.Advance(progressEvery)
	ls.onFrame(&pipeline.Result{Frame: frame, Index: 2, LineY: 12, Skipped: true, Snapshot: stats.Snapshot{Entries: 2, Exits: 1}})
	assert.Equal(t, 1, ls.plotter.Len(), "skipped frames are not plotted")

	sess, err = st.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, sess.EntryCount)
	assert.Equal(t, 1, sess.ExitCount)
	assert.Equal(t, 2, sess.FramesProcessed)
	assert.Equal(t, store.StatusRunning, sess.Status)

	ls.finish(pipeline.Summary{EntryCount: 2, ExitCount: 1, TotalCount: 3, FramesProcessed: 2}, nil)
	sess, err = st.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, sess.Status)
	require.NotNil(t, sess.EndedAt)
}

func TestLiveSessionFailure(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "footfall.db"))
	require.NoError(t, err)
	defer st.Close()

	ls, _ := newTestLive(t, st)
	ls.finish(pipeline.Summary{}, errors.New("detector unavailable"))
	sess, err := st.GetSession(context.Background(), ls.sessionID())
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, sess.Status)
	assert.Contains(t, sess.Error, "detector unavailable")
}

func TestLiveSessionWithoutStore(t *testing.T) {
	ls, _ := newTestLive(t, nil)
	assert.Empty(t, ls.sessionID())
	ls.onFrame(&pipeline.Result{Frame: image.NewRGBA(image.Rect(0, 0, 4, 4)), Index: 1})
	ls.finish(pipeline.Summary{}, nil)
	assert.Equal(t, 1, ls.frames)
}

func TestLiveSessionRunsPipeline(t *testing.T) {
	ls, _ := newTestLive(t, nil)
	res, err := ls.pipeline.ProcessFrame(context.Background(), image.NewRGBA(image.Rect(0, 0, 100, 80)), pipeline.ProcessOptions{})
	require.NoError(t, err)
	ls.onFrame(res)
	assert.Equal(t, 40, res.LineY)
	assert.Equal(t, 1, ls.plotter.Len())
}
