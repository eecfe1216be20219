package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/footfall.report/internal/detect"
	"github.com/banshee-data/footfall.report/internal/pipeline"
	"github.com/banshee-data/footfall.report/internal/store"
)

// walker reports one person whose box centre follows ys, one per call.
type walker struct {
	mu     sync.Mutex
	ys     []int
	calls  int
	failAt int // 1-based call that fails, 0 never
}

func (w *walker) Detect(_ context.Context, _ image.Image, _ float64) ([]detect.Detection, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.failAt > 0 && w.calls == w.failAt {
		return nil, errors.New("detector unavailable")
	}
	if w.calls > len(w.ys) {
		return nil, nil
	}
	y := w.ys[w.calls-1]
	return []detect.Detection{{Box: image.Rect(30, y-20, 70, y+20), Confidence: 0.9, Class: detect.PersonClass}}, nil
}

func writeFrames(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < n; i++ {
		img := image.NewRGBA(image.Rect(0, 0, 100, 100))
		for y := 0; y < 100; y++ {
			for x := 0; x < 100; x++ {
				img.Set(x, y, color.RGBA{uint8(i * 10), 80, 80, 255})
			}
		}
		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, img))
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("frame_%03d.png", i)), buf.Bytes(), 0o644))
	}
	return dir
}

func TestRunCountsCrossing(t *testing.T) {
	in := writeFrames(t, 10)
	tmp := t.TempDir()
	opts := batchOptions{
		Input:    in,
		Output:   filepath.Join(tmp, "out.mjpeg"),
		DBPath:   filepath.Join(tmp, "footfall.db"),
		PlotPath: filepath.Join(tmp, "counts.png"),
		Detector: &walker{ys: []int{20, 25, 30, 35, 40, 45, 55, 60, 65, 70}},
	}

	var out bytes.Buffer
	sum, err := run(context.Background(), opts, &out)
	require.NoError(t, err)
	assert.Equal(t, pipeline.Summary{EntryCount: 1, TotalCount: 1, FramesProcessed: 10}, sum)

	var printed pipeline.Summary
	require.NoError(t, json.Unmarshal(out.Bytes(), &printed))
	assert.Equal(t, sum, printed)

	info, err := os.Stat(opts.Output)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
	_, err = os.Stat(opts.PlotPath)
	assert.NoError(t, err)

	st, err := store.Open(opts.DBPath)
	require.NoError(t, err)
	defer st.Close()
	sessions, err := st.ListSessions(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	s := sessions[0]
	assert.Equal(t, store.ModeBatch, s.Mode)
	assert.Equal(t, store.StatusCompleted, s.Status)
	assert.Equal(t, 1, s.EntryCount)
	require.NotNil(t, s.LineY)
	assert.Equal(t, 50, *s.LineY)

	crossings, err := st.Crossings(context.Background(), s.ID)
	require.NoError(t, err)
	require.Len(t, crossings, 1)
	assert.Equal(t, 7, crossings[0].FrameIndex)
}

func TestRunDetectorFailureMarksSessionFailed(t *testing.T) {
	in := writeFrames(t, 6)
	tmp := t.TempDir()
	opts := batchOptions{
		Input:    in,
		Output:   filepath.Join(tmp, "out.mjpeg"),
		DBPath:   filepath.Join(tmp, "footfall.db"),
		Detector: &walker{ys: []int{20, 25, 30, 35, 40, 45}, failAt: 4},
	}

	sum, err := run(context.Background(), opts, &bytes.Buffer{})
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrDetectionFailed)
	assert.Equal(t, 4, sum.FramesProcessed)

	// Frames written before the failure are kept.
	info, err := os.Stat(opts.Output)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	st, err := store.Open(opts.DBPath)
	require.NoError(t, err)
	defer st.Close()
	sessions, err := st.ListSessions(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, store.StatusFailed, sessions[0].Status)
	assert.Contains(t, sessions[0].Error, "detector unavailable")
}

func TestRunMissingInput(t *testing.T) {
	_, err := run(context.Background(), batchOptions{
		Input:  filepath.Join(t.TempDir(), "nope.mp4"),
		Output: filepath.Join(t.TempDir(), "out.mjpeg"),
	}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestRunBadConfig(t *testing.T) {
	_, err := run(context.Background(), batchOptions{
		Input:      writeFrames(t, 1),
		Output:     filepath.Join(t.TempDir(), "out.mjpeg"),
		ConfigPath: filepath.Join(t.TempDir(), "counter.toml"),
	}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "load config")
}
