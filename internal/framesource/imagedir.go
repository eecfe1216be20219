package framesource

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ImageDir reads JPEG and PNG files from a directory in lexical order.
type ImageDir struct {
	mu     sync.Mutex
	files  []string
	next   int
	info   Info
	closed bool
}

// NewImageDir lists dir and reads the size of its first image.
func NewImageDir(dir string) (*ImageDir, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no images in %s", ErrSourceUnavailable, dir)
	}
	sort.Strings(files)

	d := &ImageDir{
		files: files,
		info:  Info{URI: dir, TotalFrames: len(files)},
	}
	if cfg, err := decodeConfig(files[0]); err == nil {
		d.info.Width, d.info.Height = cfg.Width, cfg.Height
	}
	return d, nil
}

func decodeConfig(path string) (image.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return image.Config{}, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	return cfg, err
}

// Read decodes the next file. Undecodable files are reported as transient.
func (d *ImageDir) Read(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	if d.closed || d.next >= len(d.files) {
		d.mu.Unlock()
		return nil, io.EOF
	}
	path := d.files[d.next]
	d.next++
	d.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransientRead, err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrTransientRead, filepath.Base(path), err)
	}
	return img, nil
}

// Info returns the directory description.
func (d *ImageDir) Info() Info { return d.info }

// Close stops further reads.
func (d *ImageDir) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
