package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/footfall.report/internal/httputil"
	"github.com/banshee-data/footfall.report/internal/store"
)

const (
	echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

	defaultBucketWidth = time.Minute
)

// handleCountsChart renders entries and exits per time bucket for a
// session as an HTML bar chart.
// Query params:
//
//	session_id (optional, defaults to the live session)
//	bucket (optional Go duration, default 1m)
func (ws *WebServer) handleCountsChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if !ws.requireStore(w) {
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = ws.sessionID
	}
	if sessionID == "" {
		httputil.BadRequest(w, "missing 'session_id' parameter")
		return
	}
	width := defaultBucketWidth
	if b := r.URL.Query().Get("bucket"); b != "" {
		d, err := time.ParseDuration(b)
		if err != nil || d < time.Second {
			httputil.BadRequest(w, "invalid 'bucket' parameter")
			return
		}
		width = d
	}

	buckets, err := ws.store.CountsByBucket(r.Context(), sessionID, width)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("count buckets: %v", err))
		return
	}

	page, err := renderCountsPage(sessionID, width, buckets)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page)
}

func renderCountsPage(sessionID string, width time.Duration, buckets []store.Bucket) ([]byte, error) {
	x := make([]string, 0, len(buckets))
	entries := make([]opts.BarData, 0, len(buckets))
	exits := make([]opts.BarData, 0, len(buckets))
	for _, b := range buckets {
		x = append(x, b.Start.Local().Format("15:04:05"))
		entries = append(entries, opts.BarData{Value: b.Entries})
		exits = append(exits, opts.BarData{Value: b.Exits})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Footfall", Width: "100%", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Crossings", Subtitle: fmt.Sprintf("session=%s bucket=%s", sessionID, width)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries("entries", entries).
		AddSeries("exits", exits)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
