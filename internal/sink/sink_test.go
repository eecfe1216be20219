package sink

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(v uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 16, 12))
	for y := 0; y < 12; y++ {
		for x := 0; x < 16; x++ {
			img.SetRGBA(x, y, color.RGBA{v, v, v, 255})
		}
	}
	return img
}

func TestMJPEGFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "out", "run.mjpeg")

	s, err := Create(context.Background(), path, 30)
	require.NoError(t, err)
	mj, ok := s.(*MJPEGWriter)
	require.True(t, ok)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Write(frame(uint8(i*80))))
	}
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "close is idempotent")
	assert.Equal(t, 3, mj.Frames())
	assert.ErrorIs(t, s.Write(frame(0)), ErrClosed)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, bytes.Count(data, []byte{0xFF, 0xD8}))

	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 16, 12), img.Bounds())
}

func TestEncoderArgs(t *testing.T) {
	t.Parallel()
	want := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", "image2pipe", "-vcodec", "mjpeg",
		"-framerate", "25",
		"-i", "-",
		"-pix_fmt", "yuv420p",
		"out.mp4",
	}
	if diff := cmp.Diff(want, encoderArgs("out.mp4", 25)); diff != "" {
		t.Errorf("encoderArgs mismatch (-want +got):\n%s", diff)
	}
	assert.Contains(t, encoderArgs("out.mp4", 0), "30")
}

func TestNewEncoderMissingBinary(t *testing.T) {
	t.Parallel()
	_, err := NewEncoder(context.Background(), filepath.Join(t.TempDir(), "x.mp4"), EncoderOptions{Binary: "no-such-ffmpeg-binary"})
	assert.Error(t, err)
}

func TestDiscard(t *testing.T) {
	t.Parallel()
	var s Sink = Discard{}
	assert.NoError(t, s.Write(frame(1)))
	assert.NoError(t, s.Close())
}

func TestBroadcasterStreamsFrames(t *testing.T) {
	t.Parallel()
	b := NewBroadcaster()
	srv := httptest.NewServer(b)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/x-mixed-replace", mediaType)

	require.Eventually(t, func() bool { return b.Clients() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, b.Write(frame(200)))
	// The multipart reader only ends a part when it sees the next boundary.
	require.NoError(t, b.Write(frame(100)))

	mr := multipart.NewReader(resp.Body, params["boundary"])
	part, err := mr.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", part.Header.Get("Content-Type"))
	data, err := io.ReadAll(part)
	require.NoError(t, err)
	_, err = jpeg.Decode(bytes.NewReader(data))
	assert.NoError(t, err)
	want, err := encodeJPEG(frame(200), DefaultQuality)
	require.NoError(t, err)
	assert.Equal(t, want, data)
}

func TestBroadcasterSnapshot(t *testing.T) {
	t.Parallel()
	b := NewBroadcaster()

	rec := httptest.NewRecorder()
	b.ServeSnapshot(rec, httptest.NewRequest(http.MethodGet, "/snapshot.jpg", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	require.NoError(t, b.Write(frame(10)))
	rec = httptest.NewRecorder()
	b.ServeSnapshot(rec, httptest.NewRequest(http.MethodGet, "/snapshot.jpg", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, b.Latest(), rec.Body.Bytes())
}

func TestBroadcasterClose(t *testing.T) {
	t.Parallel()
	b := NewBroadcaster()
	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.Write(frame(1)), ErrClosed)

	rec := httptest.NewRecorder()
	b.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream.mjpeg", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
