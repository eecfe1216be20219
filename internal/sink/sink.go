// Package sink writes annotated frames to files, encoders and live viewers.
package sink

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("sink closed")

// DefaultQuality is the JPEG quality used for every encoded frame.
const DefaultQuality = 85

// Sink consumes annotated frames in order.
type Sink interface {
	Write(frame image.Image) error
	Close() error
}

// encodeJPEG returns frame as JPEG bytes.
func encodeJPEG(frame image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MJPEGWriter writes concatenated JPEG frames to an io.WriteCloser. The
// output plays with ffplay/VLC as a raw MJPEG stream.
type MJPEGWriter struct {
	mu      sync.Mutex
	w       *bufio.Writer
	c       io.Closer
	quality int
	frames  int
	closed  bool
}

// NewMJPEGWriter wraps wc.
func NewMJPEGWriter(wc io.WriteCloser, quality int) *MJPEGWriter {
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	return &MJPEGWriter{w: bufio.NewWriterSize(wc, 1<<20), c: wc, quality: quality}
}

// CreateMJPEGFile creates path (and missing parent directories).
func CreateMJPEGFile(path string) (*MJPEGWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output: %w", err)
	}
	return NewMJPEGWriter(f, DefaultQuality), nil
}

// Write encodes and appends one frame.
func (m *MJPEGWriter) Write(frame image.Image) error {
	data, err := encodeJPEG(frame, m.quality)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, err := m.w.Write(data); err != nil {
		return err
	}
	m.frames++
	return nil
}

// Frames returns how many frames were written.
func (m *MJPEGWriter) Frames() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frames
}

// Close flushes buffered frames and closes the destination. Frames already
// written are kept.
func (m *MJPEGWriter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	ferr := m.w.Flush()
	cerr := m.c.Close()
	if ferr != nil {
		return ferr
	}
	return cerr
}

// Encoder pipes JPEG frames into an ffmpeg process that writes a video file
// in the container implied by the output extension.
type Encoder struct {
	cmd *exec.Cmd
	mj  *MJPEGWriter
}

// EncoderOptions configures NewEncoder.
type EncoderOptions struct {
	Binary string  // defaults to "ffmpeg"
	FPS    float64 // input frame rate, defaults to 30
}

func encoderArgs(path string, fps float64) []string {
	if fps <= 0 {
		fps = 30
	}
	return []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", "image2pipe", "-vcodec", "mjpeg",
		"-framerate", strconv.FormatFloat(fps, 'f', -1, 64),
		"-i", "-",
		"-pix_fmt", "yuv420p",
		path,
	}
}

// NewEncoder starts ffmpeg writing to path. The process outlives ctx and is
// only shut down by Close.
func NewEncoder(ctx context.Context, path string, opts EncoderOptions) (*Encoder, error) {
	bin := opts.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	// Cancelling ctx must not kill ffmpeg mid-file: Close ends stdin and
	// lets the muxer write the trailer for the frames already sent.
	cmd := exec.CommandContext(context.WithoutCancel(ctx), bin, encoderArgs(path, opts.FPS)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("encoder stdin: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start encoder: %w", err)
	}
	return &Encoder{cmd: cmd, mj: NewMJPEGWriter(stdin, DefaultQuality)}, nil
}

// Write sends one frame to the encoder.
func (e *Encoder) Write(frame image.Image) error { return e.mj.Write(frame) }

// Close finishes the stream and waits for ffmpeg to finalise the file.
func (e *Encoder) Close() error {
	if err := e.mj.Close(); err != nil {
		_ = e.cmd.Wait()
		return err
	}
	if err := e.cmd.Wait(); err != nil {
		if stderr, ok := e.cmd.Stderr.(*bytes.Buffer); ok && stderr.Len() > 0 {
			return fmt.Errorf("encoder: %w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return fmt.Errorf("encoder: %w", err)
	}
	return nil
}

// Create picks a sink for path: raw MJPEG for .mjpeg/.mjpg, otherwise an
// ffmpeg encoder.
func Create(ctx context.Context, path string, fps float64) (Sink, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mjpeg", ".mjpg":
		return CreateMJPEGFile(path)
	}
	return NewEncoder(ctx, path, EncoderOptions{FPS: fps})
}

// Discard drops every frame.
type Discard struct{}

func (Discard) Write(image.Image) error { return nil }
func (Discard) Close() error            { return nil }
