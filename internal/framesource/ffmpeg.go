package framesource

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultWarmupTimeout bounds how long NewFFmpeg waits for the first frame.
const DefaultWarmupTimeout = 10 * time.Second

// FFmpegOptions configures the decoder subprocess.
type FFmpegOptions struct {
	// Binary and ProbeBinary default to "ffmpeg" and "ffprobe" on PATH.
	Binary      string
	ProbeBinary string

	// Capture settings for /dev/video* devices.
	Width, Height int
	FPS           int

	// WarmupTimeout overrides DefaultWarmupTimeout.
	WarmupTimeout time.Duration
}

func (o FFmpegOptions) warmupTimeout() time.Duration {
	if o.WarmupTimeout <= 0 {
		return DefaultWarmupTimeout
	}
	return o.WarmupTimeout
}

func (o FFmpegOptions) binary() string {
	if o.Binary == "" {
		return "ffmpeg"
	}
	return o.Binary
}

func (o FFmpegOptions) probeBinary() string {
	if o.ProbeBinary == "" {
		return "ffprobe"
	}
	return o.ProbeBinary
}

// FFmpeg decodes any ffmpeg-readable input to a pipe of MJPEG frames and
// splits the pipe on JPEG markers.
type FFmpeg struct {
	uri  string
	info Info

	cmd    *exec.Cmd
	stdout io.ReadCloser
	ctx    context.Context
	cancel context.CancelFunc

	buf     []byte
	chunk   []byte
	frames  int
	pending image.Image

	waitOnce sync.Once
	waitErr  error

	mu      sync.Mutex
	closing bool
}

// ffmpegArgs builds the command line for uri.
func ffmpegArgs(uri string, o FFmpegOptions) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	switch {
	case strings.HasPrefix(uri, "rtsp://"):
		args = append(args, "-rtsp_transport", "tcp")
	case strings.HasPrefix(uri, "/dev/video"):
		args = append(args, "-f", "v4l2")
		if o.Width > 0 && o.Height > 0 {
			args = append(args, "-video_size", fmt.Sprintf("%dx%d", o.Width, o.Height))
		}
		if o.FPS > 0 {
			args = append(args, "-framerate", strconv.Itoa(o.FPS))
		}
	}
	return append(args, "-i", uri, "-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "5", "-")
}

// NewFFmpeg starts ffmpeg on uri and waits for the first frame, so an
// unreachable camera or an unreadable file fails here with
// ErrSourceUnavailable rather than on the first Read. Finite inputs are
// probed first so Info can report the frame count used for progress.
func NewFFmpeg(ctx context.Context, uri string, opts FFmpegOptions) (*FFmpeg, error) {
	if _, err := exec.LookPath(opts.binary()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	info := Info{URI: uri, Live: IsLive(uri)}
	if !info.Live {
		if probed, err := probe(ctx, opts.probeBinary(), uri); err == nil {
			probed.URI = uri
			info = probed
		} else {
			debugf("ffprobe %s: %v", uri, err)
		}
	}

	cctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(cctx, opts.binary(), ffmpegArgs(uri, opts)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrSourceUnavailable, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: stderr pipe: %v", ErrSourceUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: start ffmpeg: %v", ErrSourceUnavailable, err)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			debugf("ffmpeg %s: %s", uri, scanner.Text())
		}
	}()

	f := &FFmpeg{
		uri:    uri,
		info:   info,
		cmd:    cmd,
		stdout: stdout,
		ctx:    cctx,
		cancel: cancel,
		buf:    make([]byte, 0, 1024*1024),
		chunk:  make([]byte, 8192),
	}
	if err := f.warmup(ctx, opts.warmupTimeout()); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// warmup reads the first decodable frame and holds it for the first Read.
// The subprocess is killed when timeout passes first, which ends the pipe.
func (f *FFmpeg) warmup(ctx context.Context, timeout time.Duration) error {
	start := time.Now()
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(wctx, f.cancel)

	var (
		img image.Image
		err error
	)
	for {
		img, err = f.next(ctx)
		if !errors.Is(err, ErrTransientRead) {
			break
		}
		debugf("ffmpeg %s: warmup: %v", f.uri, err)
	}
	if !stop() {
		return fmt.Errorf("%w: no frame from %s within %s", ErrSourceUnavailable, f.uri, timeout)
	}
	switch {
	case err == nil:
	case errors.Is(err, ErrSourceUnavailable):
		return err
	case errors.Is(err, io.EOF):
		return fmt.Errorf("%w: %s has no frames", ErrSourceUnavailable, f.uri)
	default:
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	f.pending = img
	b := img.Bounds()
	debugf("ffmpeg %s: first frame %dx%d after %s", f.uri, b.Dx(), b.Dy(), time.Since(start).Round(time.Millisecond))
	return nil
}

// Read returns the next decoded frame.
func (f *FFmpeg) Read(ctx context.Context) (image.Image, error) {
	if img := f.pending; img != nil {
		f.pending = nil
		return img, nil
	}
	return f.next(ctx)
}

func (f *FFmpeg) next(ctx context.Context) (image.Image, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if data := extractJPEGFrame(&f.buf); data != nil {
			img, err := jpeg.Decode(bytes.NewReader(data))
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrTransientRead, err)
			}
			f.frames++
			if f.info.Width == 0 {
				b := img.Bounds()
				f.info.Width, f.info.Height = b.Dx(), b.Dy()
			}
			return img, nil
		}

		n, err := f.stdout.Read(f.chunk)
		f.buf = append(f.buf, f.chunk[:n]...)
		if err != nil {
			if n > 0 {
				continue
			}
			return nil, f.finish(err)
		}
	}
}

// finish maps the end of the pipe. A clean exit, or one caused by Close, is
// io.EOF. A failure before the first frame is ErrSourceUnavailable; a
// failure after it is a read error so a dropped stream is not mistaken for
// the end of the input.
func (f *FFmpeg) finish(readErr error) error {
	waitErr := f.wait()
	if readErr != io.EOF {
		debugf("ffmpeg %s: pipe closed: %v", f.uri, readErr)
	}
	switch {
	case f.isClosing():
		return io.EOF
	case waitErr == nil:
		return io.EOF
	case f.frames == 0:
		return fmt.Errorf("%w: ffmpeg exited before the first frame: %v", ErrSourceUnavailable, waitErr)
	case f.ctx.Err() != nil:
		return f.ctx.Err()
	default:
		return fmt.Errorf("ffmpeg %s exited after %d frames: %w", f.uri, f.frames, waitErr)
	}
}

func (f *FFmpeg) wait() error {
	f.waitOnce.Do(func() { f.waitErr = f.cmd.Wait() })
	return f.waitErr
}

func (f *FFmpeg) isClosing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closing
}

// Info returns the probed description. Width and Height are filled from the
// first frame when probing was not possible.
func (f *FFmpeg) Info() Info { return f.info }

// Close kills the subprocess and reaps it.
func (f *FFmpeg) Close() error {
	f.mu.Lock()
	f.closing = true
	f.mu.Unlock()
	f.cancel()
	f.wait()
	return nil
}

// extractJPEGFrame removes the first complete JPEG (FFD8 ... FFD9) from
// buffer and returns it, or nil when no complete frame is buffered.
func extractJPEGFrame(buffer *[]byte) []byte {
	b := *buffer
	start := bytes.Index(b, []byte{0xFF, 0xD8})
	if start < 0 {
		// Keep a trailing 0xFF that may begin a marker.
		if n := len(b); n > 0 && b[n-1] == 0xFF {
			*buffer = append(b[:0], 0xFF)
		} else {
			*buffer = b[:0]
		}
		return nil
	}
	end := bytes.Index(b[start+2:], []byte{0xFF, 0xD9})
	if end < 0 {
		*buffer = b[start:]
		return nil
	}
	end += start + 4

	frame := make([]byte, end-start)
	copy(frame, b[start:end])
	*buffer = b[end:]
	return frame
}

type probeOutput struct {
	Streams []struct {
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		NbFrames     string `json:"nb_frames"`
	} `json:"streams"`
}

func probe(ctx context.Context, bin, uri string) (Info, error) {
	out, err := exec.CommandContext(ctx, bin,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,avg_frame_rate,nb_frames",
		"-of", "json",
		uri,
	).Output()
	if err != nil {
		return Info{}, err
	}
	return parseProbe(out)
}

func parseProbe(data []byte) (Info, error) {
	var p probeOutput
	if err := json.Unmarshal(data, &p); err != nil {
		return Info{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(p.Streams) == 0 {
		return Info{}, fmt.Errorf("no video stream")
	}
	s := p.Streams[0]
	info := Info{Width: s.Width, Height: s.Height}
	info.TotalFrames, _ = strconv.Atoi(s.NbFrames)
	if num, den, ok := strings.Cut(s.AvgFrameRate, "/"); ok {
		n, errN := strconv.ParseFloat(num, 64)
		d, errD := strconv.ParseFloat(den, 64)
		if errN == nil && errD == nil && d > 0 {
			info.FPS = n / d
		}
	}
	return info, nil
}
