package pipeline

import (
	"io"

	"github.com/banshee-data/footfall.report/internal/logstream"
)

// Diag carries session lifecycle and tuning context; trace is per-frame.
var logs = logstream.New("[pipeline] ")

// SetLogWriters configures the pipeline's ops, diag and trace streams.
// Pass nil for any writer to disable that stream.
func SetLogWriters(ops, diag, trace io.Writer) {
	logs.SetWriters(ops, diag, trace)
}

// SetLegacyLogger routes all three streams to a single writer.
// Pass nil to disable all logging.
func SetLegacyLogger(w io.Writer) {
	logs.SetWriters(w, w, w)
}

func opsf(format string, args ...interface{})   { logs.Opsf(format, args...) }
func diagf(format string, args ...interface{})  { logs.Diagf(format, args...) }
func tracef(format string, args ...interface{}) { logs.Tracef(format, args...) }
