// Package monitor serves the live status surface of a counting session:
// JSON stats, a websocket snapshot feed, the MJPEG preview, count charts
// and the database admin routes.
package monitor

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/footfall.report/internal/httputil"
	"github.com/banshee-data/footfall.report/internal/sink"
	"github.com/banshee-data/footfall.report/internal/stats"
	"github.com/banshee-data/footfall.report/internal/store"
	"github.com/banshee-data/footfall.report/internal/version"
)

//go:embed status.html
var statusHTML embed.FS

var statusTmpl = template.Must(template.ParseFS(statusHTML, "status.html"))

const (
	// DefaultStatsInterval is how often /ws/stats clients receive a snapshot.
	DefaultStatsInterval = time.Second

	shutdownTimeout = 2 * time.Second
)

// Counter is the live counting state reported by the server.
// *pipeline.Pipeline satisfies it.
type Counter interface {
	Snapshot() stats.Snapshot
	Reset()
	LineY() (int, bool)
}

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address string
	Counter Counter

	// Preview, Store and Plotter are optional; their routes answer 503
	// when unset.
	Preview *sink.Broadcaster
	Store   *store.Store
	Plotter *CountPlotter

	// SessionID is the store session the live counter writes to.
	SessionID string
	Source    string

	StatsInterval time.Duration
}

// WebServer handles the HTTP interface of a live counting session.
type WebServer struct {
	address   string
	counter   Counter
	preview   *sink.Broadcaster
	store     *store.Store
	plotter   *CountPlotter
	sessionID string
	source    string
	started   time.Time

	hub           *StatsHub
	statsInterval time.Duration
	handler       http.Handler
	server        *http.Server
}

// NewWebServer creates a web server with the provided configuration.
func NewWebServer(config WebServerConfig) (*WebServer, error) {
	if config.Counter == nil {
		return nil, errors.New("monitor: counter is required")
	}
	interval := config.StatsInterval
	if interval <= 0 {
		interval = DefaultStatsInterval
	}
	ws := &WebServer{
		address:       config.Address,
		counter:       config.Counter,
		preview:       config.Preview,
		store:         config.Store,
		plotter:       config.Plotter,
		sessionID:     config.SessionID,
		source:        config.Source,
		started:       time.Now(),
		hub:           NewStatsHub(),
		statsInterval: interval,
	}
	mux, err := ws.setupRoutes()
	if err != nil {
		return nil, err
	}
	ws.handler = mux
	ws.server = &http.Server{
		Addr:              ws.address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return ws, nil
}

// Handler returns the route multiplexer.
func (ws *WebServer) Handler() http.Handler { return ws.handler }

// Hub returns the websocket hub feeding /ws/stats.
func (ws *WebServer) Hub() *StatsHub { return ws.hub }

// Start serves HTTP until ctx is cancelled, then shuts down gracefully.
// It returns the listen error if the server could not start.
func (ws *WebServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", ws.address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", ws.address, err)
	}
	return ws.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (ws *WebServer) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		diagf("starting HTTP server on %s", ln.Addr())
		if err := ws.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go ws.hub.Run(hubCtx, ws.statsInterval, ws.counter.Snapshot)

	select {
	case err := <-errCh:
		if err != nil {
			opsf("HTTP server failed: %v", err)
			return err
		}
		return nil
	case <-ctx.Done():
	}
	diagf("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	ws.hub.CloseAll()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		opsf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			opsf("HTTP server force close error: %v", err)
		}
	}
	diagf("HTTP server routine stopped")
	return nil
}

// setupRoutes configures the HTTP routes and handlers.
func (ws *WebServer) setupRoutes() (*http.ServeMux, error) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/{$}", ws.handleStatus)
	mux.HandleFunc("/api/stats", ws.handleStats)
	mux.HandleFunc("/api/reset", ws.handleReset)
	mux.HandleFunc("GET /api/sessions", ws.handleSessions)
	mux.HandleFunc("GET /api/sessions/{id}", ws.handleSession)
	mux.HandleFunc("GET /api/sessions/{id}/crossings", ws.handleCrossings)
	mux.HandleFunc("/stream.mjpeg", ws.handleStream)
	mux.HandleFunc("/snapshot.jpg", ws.handleSnapshot)
	mux.Handle("/ws/stats", NewStatsHandler(ws.hub, ws.counter.Snapshot))
	mux.HandleFunc("/charts/counts", ws.handleCountsChart)
	mux.HandleFunc("/plots/counts.png", ws.handleCountsPlot)

	if ws.store != nil {
		if err := ws.store.AttachAdminRoutes(mux); err != nil {
			return nil, fmt.Errorf("attach admin routes: %w", err)
		}
	}
	return mux, nil
}

// StatsResponse is the body of /api/stats.
type StatsResponse struct {
	stats.Snapshot
	TotalCount int    `json:"total_count"`
	LineY      *int   `json:"line_y"`
	SessionID  string `json:"session_id,omitempty"`
}

func (ws *WebServer) statsResponse() StatsResponse {
	snap := ws.counter.Snapshot()
	resp := StatsResponse{
		Snapshot:   snap,
		TotalCount: snap.Total(),
		SessionID:  ws.sessionID,
	}
	if y, ok := ws.counter.LineY(); ok {
		resp.LineY = &y
	}
	return resp
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{
		"status":     "ok",
		"service":    "footfall",
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	data := struct {
		Source    string
		SessionID string
		Uptime    string
		Version   string
		Stats     StatsResponse
		Preview   bool
		Store     bool
	}{
		Source:    ws.source,
		SessionID: ws.sessionID,
		Uptime:    time.Since(ws.started).Round(time.Second).String(),
		Version:   version.Version,
		Stats:     ws.statsResponse(),
		Preview:   ws.preview != nil,
		Store:     ws.store != nil,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := statusTmpl.Execute(w, data); err != nil {
		opsf("status template: %v", err)
	}
}

func (ws *WebServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, ws.statsResponse())
}

// handleReset clears counters and the counted set. Trajectories are kept.
func (ws *WebServer) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	ws.counter.Reset()
	diagf("counters reset from %s", r.RemoteAddr)
	httputil.WriteJSONOK(w, ws.statsResponse())
}

func (ws *WebServer) requireStore(w http.ResponseWriter) bool {
	if ws.store == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no database configured")
		return false
	}
	return true
}

// handleSessions lists recent sessions, newest first.
// Query params:
//
//	limit (optional, default 50, max 500)
func (ws *WebServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !ws.requireStore(w) {
		return
	}
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 || n > 500 {
			httputil.BadRequest(w, "invalid 'limit' parameter")
			return
		}
		limit = n
	}
	sessions, err := ws.store.ListSessions(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("list sessions: %v", err))
		return
	}
	if sessions == nil {
		sessions = []store.Session{}
	}
	httputil.WriteJSONOK(w, sessions)
}

func (ws *WebServer) handleSession(w http.ResponseWriter, r *http.Request) {
	if !ws.requireStore(w) {
		return
	}
	sess, err := ws.store.GetSession(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrSessionNotFound) {
		httputil.NotFound(w, "session not found")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("get session: %v", err))
		return
	}
	httputil.WriteJSONOK(w, sess)
}

func (ws *WebServer) handleCrossings(w http.ResponseWriter, r *http.Request) {
	if !ws.requireStore(w) {
		return
	}
	id := r.PathValue("id")
	if _, err := ws.store.GetSession(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			httputil.NotFound(w, "session not found")
			return
		}
		httputil.InternalServerError(w, fmt.Sprintf("get session: %v", err))
		return
	}
	crossings, err := ws.store.Crossings(r.Context(), id)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("list crossings: %v", err))
		return
	}
	if crossings == nil {
		crossings = []store.Crossing{}
	}
	httputil.WriteJSONOK(w, crossings)
}

func (ws *WebServer) handleStream(w http.ResponseWriter, r *http.Request) {
	if ws.preview == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "preview disabled")
		return
	}
	ws.preview.ServeHTTP(w, r)
}

func (ws *WebServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if ws.preview == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "preview disabled")
		return
	}
	ws.preview.ServeSnapshot(w, r)
}
