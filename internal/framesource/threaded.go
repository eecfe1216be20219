package framesource

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"
)

// DefaultMaxTransientFailures ends a stream after this many consecutive
// undecodable frames.
const DefaultMaxTransientFailures = 30

// Threaded reads from an underlying Source on its own goroutine into a
// FrameQueue. Read on Threaded pops from the queue.
type Threaded struct {
	src   Source
	queue *FrameQueue

	// MaxTransientFailures overrides DefaultMaxTransientFailures when set
	// before Start.
	MaxTransientFailures int

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}

	mu        sync.Mutex
	read      int
	transient int
}

// NewThreaded wraps src with a queue of the given capacity. Call Start to
// begin capture.
func NewThreaded(src Source, capacity int) *Threaded {
	return &Threaded{
		src:   src,
		queue: NewFrameQueue(capacity),
		done:  make(chan struct{}),
	}
}

// Start launches the capture goroutine. Calling Start more than once is a
// no-op.
func (t *Threaded) Start(ctx context.Context) {
	t.startOnce.Do(func() {
		ctx, t.cancel = context.WithCancel(ctx)
		go t.run(ctx)
	})
}

func (t *Threaded) run(ctx context.Context) {
	defer close(t.done)
	defer t.queue.Close()

	limit := t.MaxTransientFailures
	if limit <= 0 {
		limit = DefaultMaxTransientFailures
	}
	consecutive := 0

	for {
		frame, err := t.src.Read(ctx)
		switch {
		case err == nil:
			consecutive = 0
			t.mu.Lock()
			t.read++
			t.mu.Unlock()
			if perr := t.queue.Push(ctx, frame); perr != nil {
				return
			}
		case errors.Is(err, io.EOF):
			debugf("capture finished after %d frames", t.FramesRead())
			return
		case errors.Is(err, ErrTransientRead):
			consecutive++
			t.mu.Lock()
			t.transient++
			t.mu.Unlock()
			debugf("skipping frame: %v", err)
			if consecutive > limit {
				_ = t.queue.Fail(ctx, fmt.Errorf("%d consecutive read failures: %w", consecutive, err))
				return
			}
		case ctx.Err() != nil:
			return
		default:
			_ = t.queue.Fail(ctx, err)
			return
		}
	}
}

// Read returns the next queued frame, io.EOF once the source is exhausted and
// drained, or the error that ended capture.
func (t *Threaded) Read(ctx context.Context) (image.Image, error) {
	return t.queue.Pop(ctx)
}

// Info describes the underlying source.
func (t *Threaded) Info() Info { return t.src.Info() }

// Buffered reports how many frames are waiting.
func (t *Threaded) Buffered() int { return t.queue.Len() }

// FramesRead returns the frames successfully read from the underlying source.
func (t *Threaded) FramesRead() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.read
}

// TransientFailures returns the total number of skipped reads.
func (t *Threaded) TransientFailures() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transient
}

// Close stops capture, waits for the goroutine and closes the source.
func (t *Threaded) Close() error {
	started := false
	t.startOnce.Do(func() {})
	if t.cancel != nil {
		started = true
		t.cancel()
	}
	err := t.src.Close()
	if started {
		<-t.done
	}
	return err
}
