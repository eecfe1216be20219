package framesource

import (
	"context"
	"image"
	"io"
	"sync"
)

// DefaultQueueCapacity bounds the frames buffered between capture and
// processing.
const DefaultQueueCapacity = 128

type queued struct {
	frame image.Image
	err   error
}

// FrameQueue is a bounded FIFO between one producer and one consumer.
// Push blocks while the queue is full; frames are never dropped.
type FrameQueue struct {
	ch        chan queued
	closeOnce sync.Once
}

// NewFrameQueue returns a queue holding at most capacity frames.
func NewFrameQueue(capacity int) *FrameQueue {
	if capacity < 1 {
		capacity = DefaultQueueCapacity
	}
	return &FrameQueue{ch: make(chan queued, capacity)}
}

// Push enqueues frame, blocking until there is room or ctx is done.
func (q *FrameQueue) Push(ctx context.Context, frame image.Image) error {
	return q.put(ctx, queued{frame: frame})
}

// Fail enqueues a terminal error behind any frames already queued and closes
// the queue.
func (q *FrameQueue) Fail(ctx context.Context, err error) error {
	defer q.Close()
	return q.put(ctx, queued{err: err})
}

func (q *FrameQueue) put(ctx context.Context, item queued) error {
	select {
	case q.ch <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close marks end of stream. Pop drains the remaining frames and then
// returns io.EOF.
func (q *FrameQueue) Close() {
	q.closeOnce.Do(func() { close(q.ch) })
}

// Pop blocks for the next frame.
func (q *FrameQueue) Pop(ctx context.Context) (image.Image, error) {
	select {
	case item, ok := <-q.ch:
		if !ok {
			return nil, io.EOF
		}
		if item.err != nil {
			return nil, item.err
		}
		return item.frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the number of buffered items.
func (q *FrameQueue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *FrameQueue) Cap() int { return cap(q.ch) }
