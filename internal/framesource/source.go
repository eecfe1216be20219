// Package framesource produces decoded frames from video files, image
// directories, cameras and network streams.
//
// Every source is pull based: Read blocks until the next frame is decoded.
// Threaded wraps any Source with a background reader and a bounded queue so
// decoding overlaps with processing.
package framesource

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"strings"
)

var (
	// ErrSourceUnavailable means the source could not be opened. It is fatal.
	ErrSourceUnavailable = errors.New("frame source unavailable")

	// ErrTransientRead marks a single frame that could not be decoded. Callers
	// skip it and keep reading.
	ErrTransientRead = errors.New("transient frame read failure")
)

// Info describes a source. Zero values mean unknown.
type Info struct {
	URI         string  `json:"uri"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	FPS         float64 `json:"fps"`
	TotalFrames int     `json:"total_frames"`
	Live        bool    `json:"live"`
}

// Source yields frames until io.EOF.
type Source interface {
	// Read returns the next frame. It returns io.EOF at end of stream and an
	// error wrapping ErrTransientRead for a frame that should be skipped.
	Read(ctx context.Context) (image.Image, error)
	Info() Info
	Close() error
}

// IsLive reports whether uri names a camera or network stream rather than a
// finite file.
func IsLive(uri string) bool {
	switch {
	case strings.HasPrefix(uri, "rtsp://"),
		strings.HasPrefix(uri, "rtmp://"),
		strings.HasPrefix(uri, "http://"),
		strings.HasPrefix(uri, "https://"),
		strings.HasPrefix(uri, "/dev/video"):
		return true
	}
	return false
}

// Open picks a Source implementation for uri: a directory of images, or an
// ffmpeg decoder for anything else.
func Open(ctx context.Context, uri string, opts FFmpegOptions) (Source, error) {
	if uri == "" {
		return nil, fmt.Errorf("%w: empty source", ErrSourceUnavailable)
	}
	if !IsLive(uri) {
		fi, err := os.Stat(uri)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}
		if fi.IsDir() {
			return NewImageDir(uri)
		}
	}
	return NewFFmpeg(ctx, uri, opts)
}
