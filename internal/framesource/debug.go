package framesource

import (
	"io"

	"github.com/banshee-data/footfall.report/internal/logstream"
)

var logs = logstream.New("[framesource] ")

// SetDebugLogger installs a writer for capture diagnostics (ffmpeg stderr,
// skipped reads, queue shutdown). Pass nil to disable.
func SetDebugLogger(w io.Writer) {
	logs.SetWriters(nil, w, nil)
}

func debugf(format string, args ...interface{}) { logs.Diagf(format, args...) }
