package sink

import (
	"fmt"
	"image"
	"log"
	"net/http"
	"sync"
)

// Broadcaster fans the latest annotated frame out to MJPEG HTTP clients.
// Slow clients miss frames rather than stall the pipeline.
type Broadcaster struct {
	quality int

	mu      sync.RWMutex
	clients map[chan []byte]struct{}
	latest  []byte
	closed  bool
}

// NewBroadcaster returns an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{quality: DefaultQuality, clients: make(map[chan []byte]struct{})}
}

// Write encodes frame once and offers it to every connected client.
func (b *Broadcaster) Write(frame image.Image) error {
	data, err := encodeJPEG(frame, b.quality)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.latest = data
	for ch := range b.clients {
		select {
		case ch <- data:
		default:
		}
	}
	return nil
}

// Latest returns the most recent JPEG, or nil.
func (b *Broadcaster) Latest() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.latest
}

// Clients returns the number of connected viewers.
func (b *Broadcaster) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *Broadcaster) subscribe() (chan []byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, false
	}
	ch := make(chan []byte, 2)
	b.clients[ch] = struct{}{}
	if b.latest != nil {
		ch <- b.latest
	}
	return ch, true
}

func (b *Broadcaster) unsubscribe(ch chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[ch]; ok {
		delete(b.clients, ch)
		close(ch)
	}
}

// Close disconnects every client.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for ch := range b.clients {
		delete(b.clients, ch)
		close(ch)
	}
	return nil
}

// ServeHTTP streams multipart/x-mixed-replace JPEG parts until the client
// goes away or the broadcaster closes.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	ch, ok := b.subscribe()
	if !ok {
		http.Error(w, "stream closed", http.StatusServiceUnavailable)
		return
	}
	defer b.unsubscribe(ch)

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-ch:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame)); err != nil {
				return
			}
			if _, err := w.Write(frame); err != nil {
				log.Printf("mjpeg client write: %v", err)
				return
			}
			if _, err := fmt.Fprint(w, "\r\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// ServeSnapshot writes the latest frame as a single JPEG.
func (b *Broadcaster) ServeSnapshot(w http.ResponseWriter, r *http.Request) {
	frame := b.Latest()
	if frame == nil {
		http.Error(w, "no frame available", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", fmt.Sprint(len(frame)))
	_, _ = w.Write(frame)
}
