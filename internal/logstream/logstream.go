// Package logstream splits a package's logging into three streams:
//
//   - ops: actionable warnings, errors, lost data
//   - diag: session and server lifecycle context
//   - trace: per-frame or per-request telemetry
//
// Every stream is silent until a writer is installed, so libraries stay quiet
// under test unless a test opts in.
package logstream

import (
	"io"
	"log"
	"sync"
)

// Flags are the log flags used for every stream.
const Flags = log.LstdFlags | log.Lmicroseconds

// Streams holds the three loggers for one package.
type Streams struct {
	prefix string

	mu    sync.RWMutex
	ops   *log.Logger
	diag  *log.Logger
	trace *log.Logger
}

// New returns silent streams that will prefix every line with prefix.
func New(prefix string) *Streams {
	return &Streams{prefix: prefix}
}

// SetWriters installs the stream writers. A nil writer disables that stream.
func (s *Streams) SetWriters(ops, diag, trace io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = s.logger(ops)
	s.diag = s.logger(diag)
	s.trace = s.logger(trace)
}

func (s *Streams) logger(w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, s.prefix, Flags)
}

// Opsf logs to the ops stream.
func (s *Streams) Opsf(format string, args ...interface{}) {
	s.printf(func() *log.Logger { return s.ops }, format, args...)
}

// Diagf logs to the diag stream.
func (s *Streams) Diagf(format string, args ...interface{}) {
	s.printf(func() *log.Logger { return s.diag }, format, args...)
}

// Tracef logs to the trace stream.
func (s *Streams) Tracef(format string, args ...interface{}) {
	s.printf(func() *log.Logger { return s.trace }, format, args...)
}

func (s *Streams) printf(pick func() *log.Logger, format string, args ...interface{}) {
	s.mu.RLock()
	l := pick()
	s.mu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}
