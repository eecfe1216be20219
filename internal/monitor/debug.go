package monitor

import (
	"io"

	"github.com/banshee-data/footfall.report/internal/logstream"
)

// Diag carries server lifecycle and client churn; trace is per-request.
var logs = logstream.New("[monitor] ")

// SetLogWriters configures the status server's log streams.
// Pass nil for any writer to disable that stream.
func SetLogWriters(ops, diag, trace io.Writer) {
	logs.SetWriters(ops, diag, trace)
}

func opsf(format string, args ...interface{})   { logs.Opsf(format, args...) }
func diagf(format string, args ...interface{})  { logs.Diagf(format, args...) }
func tracef(format string, args ...interface{}) { logs.Tracef(format, args...) }
